package kafka

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/andreyxaxa/payments-outbox/internal/dto"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

var errEmptyPaymentID = errors.New("payment_id is missing")

func decodePaymentCreated(value []byte) (dto.PaymentCreatedEvent, error) {
	var event dto.PaymentCreatedEvent

	if err := json.Unmarshal(value, &event); err != nil {
		return dto.PaymentCreatedEvent{}, fmt.Errorf("decodePaymentCreated - json.Unmarshal: %w", err)
	}

	if event.PaymentID == uuid.Nil {
		return dto.PaymentCreatedEvent{}, fmt.Errorf("decodePaymentCreated: %w", errEmptyPaymentID)
	}

	return event, nil
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}

	return ""
}

// dlqHeaders keeps the original headers and adds the failure context.
func dlqHeaders(msg kafka.Message, cause error) map[string]string {
	h := make(map[string]string, len(msg.Headers)+3)
	for _, hdr := range msg.Headers {
		h[hdr.Key] = string(hdr.Value)
	}

	h[dto.HeaderErrorMessage] = cause.Error()
	h[dto.HeaderOriginalTopic] = msg.Topic

	return h
}
