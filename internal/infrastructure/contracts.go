package infrastructure

import (
	"context"

	"github.com/segmentio/kafka-go"
)

type (
	// EventPublisher returns only after the broker acknowledged the write.
	EventPublisher interface {
		Publish(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error
		Close() error
	}

	EventReader interface {
		ReadEvent(ctx context.Context) (kafka.Message, error)
		CommitEvent(ctx context.Context, event kafka.Message) error
		Close() error
	}
)
