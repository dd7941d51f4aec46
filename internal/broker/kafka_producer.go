package broker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/IliaW/listing-crawler/config"
	"github.com/IliaW/listing-crawler/internal/model"
	"github.com/IliaW/listing-crawler/internal/telemetry"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress/lz4"
)

var BufferFullError = errors.New("kafka producer buffer is full")

type PostMessage struct {
	RunID   string `json:"run_id"`
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// KafkaProducerClient streams posts to a topic. Forward only enqueues; the loop started by
// Start batches and writes.
type KafkaProducerClient struct {
	kafkaChan    chan *PostMessage
	kafkaWriter  messageWriter
	metrics      *telemetry.SinkMetrics
	topic        string
	batchSize    int
	batchTimeout time.Duration
	runID        string
	wg           sync.WaitGroup
	closeOnce    sync.Once
}

func NewKafkaProducer(runID string, metrics *telemetry.SinkMetrics, cfg *config.ProducerConfig) *KafkaProducerClient {
	kafkaWriter := kafka.Writer{
		Addr:         kafka.TCP(cfg.Addr...),
		Topic:        cfg.WriteTopicName,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  cfg.MaxAttempts,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: 100 * time.Millisecond,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAsks),
		Async:        cfg.Async,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				slog.Error("failed to send messages to kafka.", slog.String("err", err.Error()))
			}
		},
		Compression: kafka.Compression(new(lz4.Codec).Code()),
	}
	return newKafkaProducer(&kafkaWriter, runID, metrics, cfg)
}

func newKafkaProducer(w messageWriter, runID string, metrics *telemetry.SinkMetrics,
	cfg *config.ProducerConfig) *KafkaProducerClient {
	if metrics == nil {
		metrics = telemetry.Noop().SinkMetrics
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = time.Second
	}
	return &KafkaProducerClient{
		kafkaChan:    make(chan *PostMessage, batchSize*2), // double the size to avoid blocking
		kafkaWriter:  w,
		metrics:      metrics,
		topic:        cfg.WriteTopicName,
		batchSize:    batchSize,
		batchTimeout: batchTimeout,
		runID:        runID,
	}
}

func (p *KafkaProducerClient) Name() string {
	return "kafka " + p.topic
}

// Forward enqueues the posts without waiting for kafka. A full buffer is reported as an error.
func (p *KafkaProducerClient) Forward(ctx context.Context, requestUrl string, posts []model.CraigslistPost) error {
	for _, post := range posts {
		msg := &PostMessage{RunID: p.runID, URL: requestUrl, Title: post.Title, Content: post.Content}
		select {
		case p.kafkaChan <- msg:
		case <-ctx.Done():
			return ctx.Err()
		default:
			return BufferFullError
		}
	}
	return nil
}

// Start runs the writer loop in the background until Close is called.
func (p *KafkaProducerClient) Start() {
	p.wg.Add(1)
	go p.run()
}

func (p *KafkaProducerClient) run() {
	slog.Info("starting kafka producer...", slog.String("topic", p.topic))
	defer func() {
		err := p.kafkaWriter.Close()
		if err != nil {
			slog.Error("failed to close kafka writer.", slog.String("err", err.Error()))
		}
	}()
	defer p.wg.Done()

	batch := make([]kafka.Message, 0, p.batchSize)
	batchTicker := time.NewTicker(p.batchTimeout)
	defer batchTicker.Stop()
	for {
		select {
		case <-batchTicker.C:
			if len(batch) == 0 {
				continue
			}
			p.writeMessage(batch)
			batch = batch[:0]
		case msg, ok := <-p.kafkaChan:
			if !ok {
				if len(batch) > 0 {
					p.writeMessage(batch)
				}
				slog.Info("stopping kafka writer.")
				return
			}
			body, err := json.Marshal(msg)
			if err != nil {
				slog.Error("marshaling error.", slog.String("err", err.Error()), slog.Any("message", msg))
				p.metrics.SecondaryFailCnt(1)
				continue
			}
			batch = append(batch, kafka.Message{
				Key:   []byte(msg.URL),
				Value: body,
			})
			if len(batch) >= p.batchSize {
				p.writeMessage(batch)
				batch = batch[:0]
				batchTicker.Reset(p.batchTimeout)
			}
		}
	}
}

// Close flushes buffered posts and stops the writer loop. Forward must not be called afterwards.
func (p *KafkaProducerClient) Close() {
	p.closeOnce.Do(func() {
		close(p.kafkaChan)
	})
	p.wg.Wait()
}

func (p *KafkaProducerClient) writeMessage(batch []kafka.Message) {
	err := p.kafkaWriter.WriteMessages(context.Background(), batch...)
	if err != nil {
		slog.Error("failed to send messages to kafka.", slog.String("err", err.Error()))
		return
	}
	slog.Debug("successfully sent messages to kafka.", slog.Int("batch length", len(batch)))
}
