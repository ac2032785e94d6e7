package usecase

import (
	"context"

	"github.com/andreyxaxa/payments-outbox/internal/dto"
	"github.com/andreyxaxa/payments-outbox/internal/entity"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type (
	PaymentUseCase interface {
		Create(ctx context.Context, amount decimal.Decimal, currency string, correlationID *string) (*entity.Payment, error)
		Process(ctx context.Context, id uuid.UUID) (dto.ProcessResult, error)
		GetByID(ctx context.Context, id uuid.UUID) (*entity.Payment, error)
	}

	OutboxUseCase interface {
		PublishPending(ctx context.Context) (dto.BatchResult, error)
		MarkExhaustedAsFailed(ctx context.Context) (int64, error)
		Cleanup(ctx context.Context) (int64, error)
		Stats(ctx context.Context) (dto.OutboxStats, error)
	}
)
