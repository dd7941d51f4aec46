package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IliaW/listing-crawler/config"
	"github.com/IliaW/listing-crawler/internal/model"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	writes   int
	closed   bool
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes++
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestKafkaDLQ_SendRequestToDLQ(t *testing.T) {
	w := &fakeWriter{}
	dlq := newKafkaDLQ(w, "listing-crawler", "run-1")

	dlq.SendRequestToDLQ("https://a", 2, errors.New("timed out"))

	require.Len(t, w.messages, 1)
	assert.Equal(t, []byte("https://a"), w.messages[0].Key)
	var msg DLQMessage
	require.NoError(t, json.Unmarshal(w.messages[0].Value, &msg))
	assert.Equal(t, DLQMessage{ServiceName: "listing-crawler", RunID: "run-1", URL: "https://a",
		Attempts: 2, ErrorMessage: "timed out"}, msg)
}

func TestKafkaDLQ_WriteErrorIsLogged(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	dlq := newKafkaDLQ(w, "svc", "run")
	assert.NotPanics(t, func() { dlq.SendRequestToDLQ("https://a", 1, errors.New("x")) })
}

func TestKafkaProducer_FlushesOnClose(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaProducer(w, "run-1", nil, &config.ProducerConfig{WriteTopicName: "posts", BatchSize: 10,
		BatchTimeout: time.Hour})
	p.Start()

	posts := []model.CraigslistPost{{Content: "a", Title: "t"}, {Content: "b", Title: "t"}}
	require.NoError(t, p.Forward(context.Background(), "https://a", posts))
	p.Close()

	assert.True(t, w.closed)
	require.Len(t, w.messages, 2)
	var msg PostMessage
	require.NoError(t, json.Unmarshal(w.messages[1].Value, &msg))
	assert.Equal(t, PostMessage{RunID: "run-1", URL: "https://a", Title: "t", Content: "b"}, msg)
}

func TestKafkaProducer_WritesFullBatches(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaProducer(w, "run", nil, &config.ProducerConfig{BatchSize: 2, BatchTimeout: time.Hour})
	p.Start()

	posts := []model.CraigslistPost{{Content: "a"}, {Content: "b"}, {Content: "c"}}
	require.NoError(t, p.Forward(context.Background(), "https://a", posts))
	p.Close()

	assert.Len(t, w.messages, 3)
	assert.Equal(t, 2, w.writes)
}

func TestKafkaProducer_ForwardDoesNotBlockWhenFull(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaProducer(w, "run", nil, &config.ProducerConfig{BatchSize: 1, BatchTimeout: time.Hour})
	// writer loop not started: the buffer holds BatchSize*2 messages

	posts := []model.CraigslistPost{{Content: "a"}, {Content: "b"}, {Content: "c"}}
	err := p.Forward(context.Background(), "https://a", posts)
	assert.ErrorIs(t, err, BufferFullError)
	assert.Equal(t, "kafka ", p.Name())
}

func TestKafkaProducer_DefaultsDoNotChangeSharedConfig(t *testing.T) {
	cfg := &config.ProducerConfig{WriteTopicName: "posts", DeadLetterTopicName: "posts-dlq"}

	p := newKafkaProducer(&fakeWriter{}, "run", nil, cfg)

	assert.Zero(t, cfg.BatchSize)
	assert.Zero(t, cfg.BatchTimeout)
	assert.Equal(t, 100, p.batchSize)
	assert.Equal(t, time.Second, p.batchTimeout)
	assert.Equal(t, "kafka posts", p.Name())
}

func TestKafkaProducer_CloseWithoutStart(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaProducer(w, "run", nil, &config.ProducerConfig{BatchSize: 1})

	assert.NotPanics(t, p.Close)
	assert.NotPanics(t, p.Close)
}
