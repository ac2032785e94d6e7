package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/andreyxaxa/payments-outbox/pkg/types/errs"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const AmountScale = 2

var (
	ErrAmountNotPositive = fmt.Errorf("%w: amount must be greater than zero", errs.ErrValidation)
	ErrAmountPrecision   = fmt.Errorf("%w: amount must have at most %d decimal places", errs.ErrValidation, AmountScale)
	ErrCurrencyRequired  = fmt.Errorf("%w: currency is required", errs.ErrValidation)
)

type Payment struct {
	ID            uuid.UUID       `json:"id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        PaymentStatus   `json:"status"` // pending, processed, failed
	CreatedAt     time.Time       `json:"created_at"`
	FailureReason *string         `json:"failure_reason,omitempty"`
}

func NewPayment(amount decimal.Decimal, currency string) (*Payment, error) {
	if !amount.IsPositive() {
		return nil, ErrAmountNotPositive
	}

	// by value: 10.10 and 10.100 are both fine, 10.123 is not
	if !amount.Equal(amount.Round(AmountScale)) {
		return nil, ErrAmountPrecision
	}

	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return nil, ErrCurrencyRequired
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("NewPayment - uuid.NewV7: %w", err)
	}

	return &Payment{
		ID:        id,
		Amount:    amount,
		Currency:  currency,
		Status:    PaymentPending,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (p *Payment) MarkProcessed() error {
	return p.transition(PaymentProcessed)
}

func (p *Payment) MarkFailed(reason string) error {
	if err := p.transition(PaymentFailed); err != nil {
		return err
	}

	p.FailureReason = &reason

	return nil
}

func (p *Payment) transition(next PaymentStatus) error {
	if !p.Status.CanTransitionTo(next) {
		return fmt.Errorf("payment %s: %w: %s -> %s", p.ID, errs.ErrInvalidTransition, p.Status, next)
	}

	p.Status = next

	return nil
}
