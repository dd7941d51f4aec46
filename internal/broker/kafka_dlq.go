package broker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/IliaW/listing-crawler/config"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress/lz4"
)

type KafkaDLQClient struct {
	kafkaWriter messageWriter
	serviceName string
	runID       string
}

type DLQMessage struct {
	ServiceName  string `json:"service_name"`
	RunID        string `json:"run_id"`
	URL          string `json:"url"`
	Attempts     int    `json:"attempts"`
	ErrorMessage string `json:"error_message"`
}

// NewKafkaDLQ - kafka client for the dead-letter topic of dropped requests
func NewKafkaDLQ(serviceName, runID string, cfg *config.ProducerConfig) *KafkaDLQClient {
	kafkaWriter := kafka.Writer{
		Addr:     kafka.TCP(cfg.Addr...),
		Topic:    cfg.DeadLetterTopicName,
		Balancer: &kafka.Hash{},
		Async:    cfg.Async,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				slog.Error("failed to send messages to kafka DLQ.", slog.String("err", err.Error()))
			}
		},
		Compression: kafka.Compression(new(lz4.Codec).Code()),
	}
	return newKafkaDLQ(&kafkaWriter, serviceName, runID)
}

func newKafkaDLQ(w messageWriter, serviceName, runID string) *KafkaDLQClient {
	return &KafkaDLQClient{
		kafkaWriter: w,
		serviceName: serviceName,
		runID:       runID,
	}
}

// SendRequestToDLQ reports a request that was dropped after exhausting its retries.
func (dlq *KafkaDLQClient) SendRequestToDLQ(url string, attempts int, err error) {
	msg := DLQMessage{
		ServiceName:  dlq.serviceName,
		RunID:        dlq.runID,
		URL:          url,
		Attempts:     attempts,
		ErrorMessage: err.Error(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshaling error.", slog.String("err", err.Error()), slog.Any("message", msg))
		return
	}

	err = dlq.kafkaWriter.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(url),
		Value: body,
	})
	if err != nil {
		slog.Error("failed to send message to dead-letter queue.", slog.String("err", err.Error()))
		return
	}
	slog.Debug("successfully sent message to dead-letter queue.", slog.String("url", url))
}

func (dlq *KafkaDLQClient) Close() {
	if err := dlq.kafkaWriter.Close(); err != nil {
		slog.Error("failed to close kafka DLQ writer.", slog.String("err", err.Error()))
	}
}
