package persistent

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/andreyxaxa/payments-outbox/internal/entity"
	"github.com/andreyxaxa/payments-outbox/pkg/postgres"
	"github.com/andreyxaxa/payments-outbox/pkg/types/errs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	// Table
	paymentsTable = "payments"

	// Columns
	idColumn            = "id"
	amountColumn        = "amount"
	currencyColumn      = "currency"
	statusColumn        = "status"
	createdAtColumn     = "created_at"
	failureReasonColumn = "failure_reason"
)

type PaymentRepo struct {
	*postgres.Postgres
}

func NewPaymentRepo(pg *postgres.Postgres) *PaymentRepo {
	return &PaymentRepo{pg}
}

func (r *PaymentRepo) Create(ctx context.Context, payment *entity.Payment) error {
	sql, args, err := r.Builder.
		Insert(paymentsTable).
		Columns(
			idColumn,
			amountColumn,
			currencyColumn,
			statusColumn,
			createdAtColumn,
			failureReasonColumn,
		).
		Values(
			payment.ID,
			payment.Amount,
			payment.Currency,
			payment.Status,
			payment.CreatedAt,
			payment.FailureReason,
		).ToSql()
	if err != nil {
		return fmt.Errorf("PaymentRepo - Create - r.Builder.ToSql: %w", err)
	}

	// Pool / Tx
	executor := r.GetExecutor(ctx)

	_, err = executor.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("PaymentRepo - Create - executor.Exec: %w", err)
	}

	return nil
}

func (r *PaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Payment, error) {
	sql, args, err := r.Builder.
		Select(
			idColumn,
			amountColumn,
			currencyColumn,
			statusColumn,
			createdAtColumn,
			failureReasonColumn,
		).
		From(paymentsTable).
		Where(squirrel.Eq{idColumn: id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("PaymentRepo - GetByID - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	var payment entity.Payment
	err = executor.QueryRow(ctx, sql, args...).Scan(
		&payment.ID,
		&payment.Amount,
		&payment.Currency,
		&payment.Status,
		&payment.CreatedAt,
		&payment.FailureReason,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("PaymentRepo - GetByID: %w", errs.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("PaymentRepo - GetByID - executor.QueryRow: %w", err)
	}

	payment.CreatedAt = payment.CreatedAt.UTC()

	return &payment, nil
}

func (r *PaymentRepo) Update(ctx context.Context, payment *entity.Payment) error {
	sql, args, err := r.Builder.
		Update(paymentsTable).
		Set(statusColumn, payment.Status).
		Set(failureReasonColumn, payment.FailureReason).
		Where(squirrel.Eq{idColumn: payment.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("PaymentRepo - Update - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	tag, err := executor.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("PaymentRepo - Update - executor.Exec: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("PaymentRepo - Update: %w", errs.ErrRecordNotFound)
	}

	return nil
}
