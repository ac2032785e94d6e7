package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/andreyxaxa/payments-outbox/pkg/types/errs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type txKey struct{}

type Executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// GetExecutor returns the transaction carried by ctx, or the pool when there is none.
func (p *Postgres) GetExecutor(ctx context.Context) Executor {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return p.Pool
}

// GetTxExecutor is GetExecutor for statements that must never run outside of a caller-owned
// transaction (staged outbox inserts, locking reads).
func (p *Postgres) GetTxExecutor(ctx context.Context) (Executor, error) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	if !ok {
		return nil, errs.ErrNoTransaction
	}
	return tx, nil
}

// WithinTransaction runs f with a transaction stored in its ctx.
//
// nil -> commit; errs.ErrRollback -> rollback, reported as success; any other error or a
// panic -> rollback.
func (p *Postgres) WithinTransaction(ctx context.Context, f func(ctx context.Context) error) (err error) {
	tx, err := p.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("Postgres - WithinTransaction - p.Pool.Begin: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(r)
		}
	}()

	err = f(context.WithValue(ctx, txKey{}, tx))
	if err != nil {
		// rollback must reach the server even when ctx is already cancelled
		rbErr := tx.Rollback(context.WithoutCancel(ctx))

		if errors.Is(err, errs.ErrRollback) {
			if rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				return fmt.Errorf("Postgres - WithinTransaction - tx.Rollback: %w", rbErr)
			}
			return nil
		}

		return fmt.Errorf("Postgres - WithinTransaction: %w", err)
	}

	err = tx.Commit(ctx)
	if err != nil {
		return fmt.Errorf("Postgres - WithinTransaction - tx.Commit: %w", err)
	}

	return nil
}
