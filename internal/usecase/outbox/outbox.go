package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/andreyxaxa/payments-outbox/internal/dto"
	"github.com/andreyxaxa/payments-outbox/internal/entity"
	"github.com/andreyxaxa/payments-outbox/internal/infrastructure"
	"github.com/andreyxaxa/payments-outbox/internal/repo"
	"github.com/andreyxaxa/payments-outbox/internal/usecase"
	"github.com/andreyxaxa/payments-outbox/pkg/logger"
	"github.com/andreyxaxa/payments-outbox/pkg/types/errs"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

var _ usecase.OutboxUseCase = (*OutboxUseCase)(nil)

type Config struct {
	BatchSize  int
	MaxRetries int

	// BackoffEnabled keeps a message that failed recently in the table until
	// min(2^retry_count s, MaxBackoff) has passed since its last attempt.
	BackoffEnabled bool
	MaxBackoff     time.Duration

	Retention time.Duration
}

type OutboxUseCase struct {
	outboxRepo repo.OutboxRepo
	transactor repo.Transactor
	publisher  infrastructure.EventPublisher

	cfg     Config
	metrics *metrics
	now     func() time.Time

	logger logger.Interface
}

type Option func(*OutboxUseCase)

func WithClock(now func() time.Time) Option {
	return func(uc *OutboxUseCase) {
		uc.now = now
	}
}

func New(
	outboxRepo repo.OutboxRepo,
	transactor repo.Transactor,
	publisher infrastructure.EventPublisher,
	cfg Config,
	mp metric.MeterProvider,
	l logger.Interface,
	opts ...Option,
) (*OutboxUseCase, error) {
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("OutboxUseCase - New: batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.MaxRetries <= 0 {
		return nil, fmt.Errorf("OutboxUseCase - New: max retries must be positive, got %d", cfg.MaxRetries)
	}

	if mp == nil {
		mp = noop.NewMeterProvider()
	}

	m, err := newMetrics(mp)
	if err != nil {
		return nil, fmt.Errorf("OutboxUseCase - New - newMetrics: %w", err)
	}

	uc := &OutboxUseCase{
		outboxRepo: outboxRepo,
		transactor: transactor,
		publisher:  publisher,
		cfg:        cfg,
		metrics:    m,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     l,
	}

	for _, opt := range opts {
		opt(uc)
	}

	return uc, nil
}

// PublishPending runs one claim-publish-save pass inside a single transaction.
//
// Messages are published in claim order. The first publish failure stops the
// batch so nothing queued behind the failed message overtakes it. With backoff
// enabled a message that is not due yet is left untouched and its key is blocked
// for the rest of the batch. An empty claim rolls back.
func (uc *OutboxUseCase) PublishPending(ctx context.Context) (dto.BatchResult, error) {
	start := time.Now()

	var res dto.BatchResult

	err := uc.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		res = dto.BatchResult{}

		// 1. lock a batch, rows held by other instances are skipped
		msgs, err := uc.outboxRepo.ClaimBatch(ctx, uc.cfg.MaxRetries, uc.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("OutboxUseCase - PublishPending - uc.outboxRepo.ClaimBatch: %w", err)
		}
		if len(msgs) == 0 {
			return errs.ErrRollback
		}
		res.Claimed = len(msgs)

		// 2. publish in order
		touched := uc.publishInOrder(ctx, msgs, &res)
		if len(touched) == 0 {
			return errs.ErrRollback
		}

		// 3. write back everything that was attempted
		if err := uc.outboxRepo.SaveBatch(ctx, touched); err != nil {
			return fmt.Errorf("OutboxUseCase - PublishPending - uc.outboxRepo.SaveBatch: %w", err)
		}

		return nil
	})
	if err != nil {
		return dto.BatchResult{}, fmt.Errorf("OutboxUseCase - PublishPending - uc.transactor.WithinTransaction: %w", err)
	}

	if res.Claimed > 0 {
		uc.metrics.record(ctx, res, time.Since(start))
	}

	return res, nil
}

func (uc *OutboxUseCase) publishInOrder(ctx context.Context, msgs []*entity.OutboxMessage, res *dto.BatchResult) []*entity.OutboxMessage {
	touched := make([]*entity.OutboxMessage, 0, len(msgs))
	blocked := make(map[string]struct{})
	now := uc.now()

	for i, msg := range msgs {
		if _, ok := blocked[msg.MessageKey]; ok {
			res.Deferred++
			continue
		}

		if uc.cfg.BackoffEnabled && msg.NextAttemptAt(uc.cfg.MaxBackoff).After(now) {
			blocked[msg.MessageKey] = struct{}{}
			res.Deferred++
			continue
		}

		if err := msg.MarkProcessing(); err != nil {
			// claimed rows are always pending
			uc.logger.Error(err, "OutboxUseCase - publishInOrder - msg.MarkProcessing")
			blocked[msg.MessageKey] = struct{}{}
			res.Deferred++
			continue
		}
		touched = append(touched, msg)

		err := uc.publisher.Publish(ctx, msg.Topic, msg.MessageKey, msg.Payload, messageHeaders(msg))
		if err == nil {
			msg.MarkProcessed(uc.now())
			res.Published++
			continue
		}

		errMsg := err.Error()
		msg.IncrementRetry(&errMsg, uc.now())
		_ = msg.RevertToPending()

		if msg.RetryCount >= uc.cfg.MaxRetries {
			msg.MarkFailed(&errMsg)
			res.Failed++
			uc.logger.Error(err, "OutboxUseCase - publishInOrder - message %s exhausted %d retries", msg.ID, msg.RetryCount)
		} else {
			res.Retried++
			uc.logger.Warn("outbox message %s publish failed (retry %d/%d): %v", msg.ID, msg.RetryCount, uc.cfg.MaxRetries, err)
		}

		res.Stopped = true
		res.Deferred += len(msgs) - i - 1

		break
	}

	return touched
}

func (uc *OutboxUseCase) MarkExhaustedAsFailed(ctx context.Context) (int64, error) {
	n, err := uc.outboxRepo.MarkExhaustedAsFailed(ctx, uc.cfg.MaxRetries)
	if err != nil {
		return 0, fmt.Errorf("OutboxUseCase - MarkExhaustedAsFailed - uc.outboxRepo.MarkExhaustedAsFailed: %w", err)
	}

	if n > 0 {
		uc.metrics.failed.Add(ctx, n)
		uc.logger.Warn("marked %d exhausted outbox messages as failed", n)
	}

	return n, nil
}

func (uc *OutboxUseCase) Cleanup(ctx context.Context) (int64, error) {
	n, err := uc.outboxRepo.DeleteProcessedBefore(ctx, uc.now().Add(-uc.cfg.Retention))
	if err != nil {
		return 0, fmt.Errorf("OutboxUseCase - Cleanup - uc.outboxRepo.DeleteProcessedBefore: %w", err)
	}

	if n > 0 {
		uc.logger.Info("deleted old outbox messages, count = %d", n)
	}

	return n, nil
}

func (uc *OutboxUseCase) Stats(ctx context.Context) (dto.OutboxStats, error) {
	counts, err := uc.outboxRepo.CountByStatus(ctx)
	if err != nil {
		return dto.OutboxStats{}, fmt.Errorf("OutboxUseCase - Stats - uc.outboxRepo.CountByStatus: %w", err)
	}

	return dto.OutboxStats{
		Pending:    counts[entity.OutboxPending],
		Processing: counts[entity.OutboxProcessing],
		Processed:  counts[entity.OutboxProcessed],
		Failed:     counts[entity.OutboxFailed],
	}, nil
}

func messageHeaders(msg *entity.OutboxMessage) map[string]string {
	h := map[string]string{dto.HeaderMessageID: msg.ID.String()}
	if msg.CorrelationID != nil && *msg.CorrelationID != "" {
		h[dto.HeaderCorrelationID] = *msg.CorrelationID
	}

	return h
}
