package broker

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the clients use.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}
