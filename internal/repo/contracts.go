package repo

import (
	"context"
	"time"

	"github.com/andreyxaxa/payments-outbox/internal/entity"
	"github.com/google/uuid"
)

type (
	PaymentRepo interface {
		Create(ctx context.Context, payment *entity.Payment) error
		GetByID(ctx context.Context, id uuid.UUID) (*entity.Payment, error)
		Update(ctx context.Context, payment *entity.Payment) error
	}

	// OutboxRepo.Add, ClaimBatch and SaveBatch only run inside a transaction carried by ctx.
	OutboxRepo interface {
		Add(ctx context.Context, msg *entity.OutboxMessage) error
		ClaimBatch(ctx context.Context, maxRetries, limit int) ([]*entity.OutboxMessage, error)
		SaveBatch(ctx context.Context, msgs []*entity.OutboxMessage) error
		MarkExhaustedAsFailed(ctx context.Context, maxRetries int) (int64, error)
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
		CountByStatus(ctx context.Context) (map[entity.OutboxStatus]int64, error)
	}

	Transactor interface {
		WithinTransaction(ctx context.Context, f func(ctx context.Context) error) error
	}
)
