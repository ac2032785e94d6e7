package kafka

import (
	"context"
	"fmt"

	"github.com/andreyxaxa/payments-outbox/internal/infrastructure"
	"github.com/andreyxaxa/payments-outbox/pkg/kafka/consumer"
	"github.com/segmentio/kafka-go"
)

var _ infrastructure.EventReader = (*EventReader)(nil)

// EventReader hands out messages one at a time. Offsets move only through CommitEvent.
type EventReader struct {
	*consumer.Consumer
}

func NewEventReader(consumer *consumer.Consumer) *EventReader {
	return &EventReader{consumer}
}

func (er *EventReader) ReadEvent(ctx context.Context) (kafka.Message, error) {
	msg, err := er.Reader.FetchMessage(ctx)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("EventReader - ReadEvent - er.Reader.FetchMessage: %w", err)
	}

	return msg, nil
}

func (er *EventReader) CommitEvent(ctx context.Context, event kafka.Message) error {
	err := er.Reader.CommitMessages(ctx, event)
	if err != nil {
		return fmt.Errorf("EventReader - CommitEvent - er.Reader.CommitMessages(%s/%d/%d): %w",
			event.Topic, event.Partition, event.Offset, err)
	}

	return nil
}

func (er *EventReader) Close() error {
	err := er.Consumer.Close()
	if err != nil {
		return fmt.Errorf("EventReader - Close: %w", err)
	}

	return nil
}
