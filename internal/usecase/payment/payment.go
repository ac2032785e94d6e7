package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/andreyxaxa/payments-outbox/internal/dto"
	"github.com/andreyxaxa/payments-outbox/internal/entity"
	"github.com/andreyxaxa/payments-outbox/internal/repo"
	"github.com/andreyxaxa/payments-outbox/internal/usecase"
	"github.com/andreyxaxa/payments-outbox/pkg/logger"
	"github.com/andreyxaxa/payments-outbox/pkg/types/errs"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var _ usecase.PaymentUseCase = (*PaymentUseCase)(nil)

type PaymentUseCase struct {
	paymentRepo repo.PaymentRepo
	outboxRepo  repo.OutboxRepo
	transactor  repo.Transactor

	topic string

	logger logger.Interface
}

func New(
	paymentRepo repo.PaymentRepo,
	outboxRepo repo.OutboxRepo,
	transactor repo.Transactor,
	topic string,
	l logger.Interface,
) *PaymentUseCase {
	return &PaymentUseCase{
		paymentRepo: paymentRepo,
		outboxRepo:  outboxRepo,
		transactor:  transactor,
		topic:       topic,
		logger:      l,
	}
}

// Create stores the payment and its payment-created event atomically: either both
// rows exist afterwards or neither does.
func (uc *PaymentUseCase) Create(
	ctx context.Context,
	amount decimal.Decimal,
	currency string,
	correlationID *string,
) (*entity.Payment, error) {
	p, err := entity.NewPayment(amount, currency)
	if err != nil {
		return nil, fmt.Errorf("PaymentUseCase - Create - entity.NewPayment: %w", err)
	}

	msg, err := uc.newCreatedMessage(p, correlationID)
	if err != nil {
		return nil, fmt.Errorf("PaymentUseCase - Create - uc.newCreatedMessage: %w", err)
	}

	err = uc.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		// 1. payment row
		if err := uc.paymentRepo.Create(ctx, p); err != nil {
			return fmt.Errorf("PaymentUseCase - Create - uc.paymentRepo.Create: %w", err)
		}

		// 2. event row, same transaction
		if err := uc.outboxRepo.Add(ctx, msg); err != nil {
			return fmt.Errorf("PaymentUseCase - Create - uc.outboxRepo.Add: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("PaymentUseCase - Create - uc.transactor.WithinTransaction: %w", err)
	}

	uc.logger.Debug("payment %s created, outbox message %s staged", p.ID, msg.ID)

	return p, nil
}

// Process is safe to call any number of times for the same id.
func (uc *PaymentUseCase) Process(ctx context.Context, id uuid.UUID) (dto.ProcessResult, error) {
	p, err := uc.paymentRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, errs.ErrRecordNotFound) {
			return 0, fmt.Errorf("PaymentUseCase - Process - payment %s: %w", id, errs.ErrPaymentNotYetVisible)
		}
		return 0, fmt.Errorf("PaymentUseCase - Process - uc.paymentRepo.GetByID: %w", err)
	}

	if p.Status != entity.PaymentPending {
		return dto.AlreadyProcessed, nil
	}

	if err = p.MarkProcessed(); err != nil {
		return 0, fmt.Errorf("PaymentUseCase - Process - p.MarkProcessed: %w", err)
	}

	if err = uc.paymentRepo.Update(ctx, p); err != nil {
		return 0, fmt.Errorf("PaymentUseCase - Process - uc.paymentRepo.Update: %w", err)
	}

	return dto.Processed, nil
}

func (uc *PaymentUseCase) GetByID(ctx context.Context, id uuid.UUID) (*entity.Payment, error) {
	p, err := uc.paymentRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("PaymentUseCase - GetByID - uc.paymentRepo.GetByID: %w", err)
	}

	return p, nil
}

func (uc *PaymentUseCase) newCreatedMessage(p *entity.Payment, correlationID *string) (*entity.OutboxMessage, error) {
	b, err := json.Marshal(dto.PaymentCreatedEvent{
		PaymentID: p.ID,
		Amount:    p.Amount,
		Currency:  p.Currency,
		CreatedAt: p.CreatedAt,
		Version:   dto.PaymentCreatedEventVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("PaymentUseCase - newCreatedMessage - json.Marshal: %w", err)
	}

	return entity.NewOutboxMessage(uc.topic, p.ID.String(), b, correlationID), nil
}
