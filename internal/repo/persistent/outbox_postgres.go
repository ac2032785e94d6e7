package persistent

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/andreyxaxa/payments-outbox/internal/entity"
	"github.com/andreyxaxa/payments-outbox/pkg/postgres"
)

const (
	// Table
	outboxTable = "outbox_messages"

	// Columns
	outboxIDColumn            = "id"
	outboxTopicColumn         = "topic"
	outboxMessageKeyColumn    = "message_key"
	outboxPayloadColumn       = "payload"
	outboxCorrelationIDColumn = "correlation_id"
	outboxCreatedAtColumn     = "created_at"
	outboxProcessedAtColumn   = "processed_at"
	outboxRetryCountColumn    = "retry_count"
	outboxLastRetryAtColumn   = "last_retry_at"
	outboxLastErrorColumn     = "last_error"
	outboxStatusColumn        = "status"
)

var outboxColumns = []string{
	outboxIDColumn,
	outboxTopicColumn,
	outboxMessageKeyColumn,
	outboxPayloadColumn,
	outboxCorrelationIDColumn,
	outboxCreatedAtColumn,
	outboxProcessedAtColumn,
	outboxRetryCountColumn,
	outboxLastRetryAtColumn,
	outboxLastErrorColumn,
	outboxStatusColumn,
}

type OutboxRepo struct {
	*postgres.Postgres
}

func NewOutboxRepo(pg *postgres.Postgres) *OutboxRepo {
	return &OutboxRepo{pg}
}

// Add stages msg in the caller's transaction. It never commits.
func (r *OutboxRepo) Add(ctx context.Context, msg *entity.OutboxMessage) error {
	executor, err := r.GetTxExecutor(ctx)
	if err != nil {
		return fmt.Errorf("OutboxRepo - Add - r.GetTxExecutor: %w", err)
	}

	sql, args, err := r.Builder.
		Insert(outboxTable).
		Columns(outboxColumns...).
		Values(
			msg.ID,
			msg.Topic,
			msg.MessageKey,
			msg.Payload,
			msg.CorrelationID,
			msg.CreatedAt,
			msg.ProcessedAt,
			msg.RetryCount,
			msg.LastRetryAt,
			msg.LastError,
			msg.Status,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("OutboxRepo - Add - r.Builder.ToSql: %w", err)
	}

	_, err = executor.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("OutboxRepo - Add - executor.Exec: %w", err)
	}

	return nil
}

// ClaimBatch locks up to limit pending rows in creation order. Rows locked by
// another transaction are skipped, so concurrent claimers get disjoint batches.
func (r *OutboxRepo) ClaimBatch(ctx context.Context, maxRetries, limit int) ([]*entity.OutboxMessage, error) {
	executor, err := r.GetTxExecutor(ctx)
	if err != nil {
		return nil, fmt.Errorf("OutboxRepo - ClaimBatch - r.GetTxExecutor: %w", err)
	}

	sql, args, err := r.Builder.
		Select(outboxColumns...).
		From(outboxTable).
		Where(squirrel.And{
			squirrel.Eq{outboxStatusColumn: entity.OutboxPending},
			squirrel.Lt{outboxRetryCountColumn: maxRetries},
		}).
		OrderBy("created_at ASC", "id ASC").
		Limit(uint64(limit)).
		Suffix("FOR UPDATE SKIP LOCKED").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("OutboxRepo - ClaimBatch - r.Builder.ToSql: %w", err)
	}

	rows, err := executor.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("OutboxRepo - ClaimBatch - executor.Query: %w", err)
	}
	defer rows.Close()

	msgs := make([]*entity.OutboxMessage, 0, limit)
	for rows.Next() {
		var msg entity.OutboxMessage
		err = rows.Scan(
			&msg.ID,
			&msg.Topic,
			&msg.MessageKey,
			&msg.Payload,
			&msg.CorrelationID,
			&msg.CreatedAt,
			&msg.ProcessedAt,
			&msg.RetryCount,
			&msg.LastRetryAt,
			&msg.LastError,
			&msg.Status,
		)
		if err != nil {
			return nil, fmt.Errorf("OutboxRepo - ClaimBatch - rows.Scan: %w", err)
		}
		msgs = append(msgs, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("OutboxRepo - ClaimBatch - rows.Err: %w", err)
	}

	return msgs, nil
}

// SaveBatch writes back the mutable columns of msgs. A row already marked
// processed is never rewritten.
func (r *OutboxRepo) SaveBatch(ctx context.Context, msgs []*entity.OutboxMessage) error {
	executor, err := r.GetTxExecutor(ctx)
	if err != nil {
		return fmt.Errorf("OutboxRepo - SaveBatch - r.GetTxExecutor: %w", err)
	}

	for _, msg := range msgs {
		sql, args, err := r.Builder.
			Update(outboxTable).
			Set(outboxStatusColumn, msg.Status).
			Set(outboxProcessedAtColumn, msg.ProcessedAt).
			Set(outboxRetryCountColumn, msg.RetryCount).
			Set(outboxLastRetryAtColumn, msg.LastRetryAt).
			Set(outboxLastErrorColumn, msg.LastError).
			Where(squirrel.And{
				squirrel.Eq{outboxIDColumn: msg.ID},
				squirrel.NotEq{outboxStatusColumn: entity.OutboxProcessed},
			}).
			ToSql()
		if err != nil {
			return fmt.Errorf("OutboxRepo - SaveBatch - r.Builder.ToSql: %w", err)
		}

		_, err = executor.Exec(ctx, sql, args...)
		if err != nil {
			return fmt.Errorf("OutboxRepo - SaveBatch - executor.Exec: %w", err)
		}
	}

	return nil
}

func (r *OutboxRepo) MarkExhaustedAsFailed(ctx context.Context, maxRetries int) (int64, error) {
	sql, args, err := r.Builder.
		Update(outboxTable).
		Set(outboxStatusColumn, entity.OutboxFailed).
		Where(squirrel.And{
			squirrel.Eq{outboxStatusColumn: entity.OutboxPending},
			squirrel.GtOrEq{outboxRetryCountColumn: maxRetries},
		}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("OutboxRepo - MarkExhaustedAsFailed - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	tag, err := executor.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("OutboxRepo - MarkExhaustedAsFailed - executor.Exec: %w", err)
	}

	return tag.RowsAffected(), nil
}

func (r *OutboxRepo) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	sql, args, err := r.Builder.
		Delete(outboxTable).
		Where(squirrel.And{
			squirrel.Eq{outboxStatusColumn: entity.OutboxProcessed},
			squirrel.Lt{outboxProcessedAtColumn: before},
		}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("OutboxRepo - DeleteProcessedBefore - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	tag, err := executor.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("OutboxRepo - DeleteProcessedBefore - executor.Exec: %w", err)
	}

	return tag.RowsAffected(), nil
}

func (r *OutboxRepo) CountByStatus(ctx context.Context) (map[entity.OutboxStatus]int64, error) {
	sql, args, err := r.Builder.
		Select(outboxStatusColumn, "COUNT(*)").
		From(outboxTable).
		GroupBy(outboxStatusColumn).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("OutboxRepo - CountByStatus - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	rows, err := executor.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("OutboxRepo - CountByStatus - executor.Query: %w", err)
	}
	defer rows.Close()

	counts := make(map[entity.OutboxStatus]int64, 4)
	for rows.Next() {
		var (
			status entity.OutboxStatus
			n      int64
		)
		if err = rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("OutboxRepo - CountByStatus - rows.Scan: %w", err)
		}
		counts[status] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("OutboxRepo - CountByStatus - rows.Err: %w", err)
	}

	return counts, nil
}
