package entity

import (
	"fmt"
	"time"

	"github.com/andreyxaxa/payments-outbox/pkg/types/errs"
	"github.com/google/uuid"
)

type OutboxMessage struct {
	ID            uuid.UUID    `json:"id"`
	Topic         string       `json:"topic"`
	MessageKey    string       `json:"message_key"`
	Payload       []byte       `json:"payload"`
	CorrelationID *string      `json:"correlation_id,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	ProcessedAt   *time.Time   `json:"processed_at,omitempty"`
	RetryCount    int          `json:"retry_count"`
	LastRetryAt   *time.Time   `json:"last_retry_at,omitempty"`
	LastError     *string      `json:"last_error,omitempty"`
	Status        OutboxStatus `json:"status"` // pending, processing, processed, failed
}

func NewOutboxMessage(topic, key string, payload []byte, correlationID *string) *OutboxMessage {
	id, err := uuid.NewV7()
	if err != nil {
		// v7 fails only when crypto/rand does
		id = uuid.New()
	}

	return &OutboxMessage{
		ID:            id,
		Topic:         topic,
		MessageKey:    key,
		Payload:       payload,
		CorrelationID: correlationID,
		CreatedAt:     time.Now().UTC(),
		Status:        OutboxPending,
	}
}

func (m *OutboxMessage) MarkProcessing() error {
	if !m.Status.CanTransitionTo(OutboxProcessing) {
		return fmt.Errorf("outbox message %s: %w: %s -> %s", m.ID, errs.ErrInvalidTransition, m.Status, OutboxProcessing)
	}

	m.Status = OutboxProcessing

	return nil
}

// RevertToPending undoes MarkProcessing after a failed publish attempt.
func (m *OutboxMessage) RevertToPending() error {
	if m.Status != OutboxProcessing {
		return fmt.Errorf("outbox message %s: %w: %s -> %s", m.ID, errs.ErrInvalidTransition, m.Status, OutboxPending)
	}

	m.Status = OutboxPending

	return nil
}

func (m *OutboxMessage) IncrementRetry(errMsg *string, at time.Time) {
	m.RetryCount++
	m.LastRetryAt = &at
	m.LastError = errMsg
}

func (m *OutboxMessage) MarkProcessed(at time.Time) {
	m.Status = OutboxProcessed
	m.ProcessedAt = &at
}

func (m *OutboxMessage) MarkFailed(errMsg *string) {
	m.Status = OutboxFailed
	if errMsg != nil {
		m.LastError = errMsg
	}
}

// NextAttemptAt is the earliest time a retried message should be published again:
// min(2^RetryCount seconds, maxBackoff) after the last attempt.
func (m *OutboxMessage) NextAttemptAt(maxBackoff time.Duration) time.Time {
	if m.RetryCount == 0 {
		return m.CreatedAt
	}

	last := m.CreatedAt
	if m.LastRetryAt != nil {
		last = *m.LastRetryAt
	}

	return last.Add(retryDelay(m.RetryCount, maxBackoff))
}

func retryDelay(retryCount int, maxBackoff time.Duration) time.Duration {
	// 2^31s is far beyond any sane cap, stop shifting there
	if retryCount >= 31 {
		return maxBackoff
	}

	delay := time.Duration(1<<retryCount) * time.Second
	if maxBackoff > 0 && delay > maxBackoff {
		return maxBackoff
	}

	return delay
}
