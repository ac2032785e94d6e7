//go:build integration

package persistent

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/andreyxaxa/payments-outbox/internal/entity"
	"github.com/andreyxaxa/payments-outbox/internal/usecase/outbox"
	"github.com/andreyxaxa/payments-outbox/internal/usecase/payment"
	"github.com/andreyxaxa/payments-outbox/pkg/logger"
	"github.com/andreyxaxa/payments-outbox/pkg/postgres"
	"github.com/andreyxaxa/payments-outbox/pkg/types/errs"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
)

func setupPostgres(t *testing.T) *postgres.Postgres {
	t.Helper()

	ctx := context.Background()

	schema, err := filepath.Abs(filepath.Join("..", "..", "..", "migrations", "000001_init.up.sql"))
	require.NoError(t, err)

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("payments"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		tcpostgres.WithInitScripts(schema),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pg, err := postgres.New(dsn, postgres.MaxPoolSize(8), postgres.ConnAttempts(5))
	require.NoError(t, err)
	t.Cleanup(pg.Close)

	return pg
}

func seed(t *testing.T, pg *postgres.Postgres, repo *OutboxRepo, msgs ...*entity.OutboxMessage) {
	t.Helper()

	err := pg.WithinTransaction(context.Background(), func(ctx context.Context) error {
		for _, m := range msgs {
			if err := repo.Add(ctx, m); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func msgAt(key string, at time.Time) *entity.OutboxMessage {
	m := entity.NewOutboxMessage("payment-created", key, []byte(`{"key":"`+key+`"}`), nil)
	m.CreatedAt = at

	return m
}

func TestIntegration_PaymentRepo_RoundTrip(t *testing.T) {
	pg := setupPostgres(t)
	repo := NewPaymentRepo(pg)
	ctx := context.Background()

	p, err := entity.NewPayment(decimal.RequireFromString("1234.50"), "usd")
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, p))

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, p.Amount.Equal(got.Amount))
	assert.Equal(t, "USD", got.Currency)
	assert.Equal(t, entity.PaymentPending, got.Status)

	require.NoError(t, got.MarkFailed("insufficient funds"))
	require.NoError(t, repo.Update(ctx, got))

	got, err = repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentFailed, got.Status)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, "insufficient funds", *got.FailureReason)

	_, err = repo.GetByID(ctx, uuid.New())
	require.ErrorIs(t, err, errs.ErrRecordNotFound)
}

func TestIntegration_OutboxRepo_AddRequiresTransaction(t *testing.T) {
	pg := setupPostgres(t)
	repo := NewOutboxRepo(pg)

	err := repo.Add(context.Background(), msgAt("k", time.Now()))
	require.ErrorIs(t, err, errs.ErrNoTransaction)

	_, err = repo.ClaimBatch(context.Background(), 5, 10)
	require.ErrorIs(t, err, errs.ErrNoTransaction)
}

func TestIntegration_CreateIsAtomic(t *testing.T) {
	pg := setupPostgres(t)
	payments := NewPaymentRepo(pg)
	outboxRepo := NewOutboxRepo(pg)
	ctx := context.Background()

	uc := payment.New(payments, outboxRepo, pg, "payment-created", logger.NewFromZap(zaptest.NewLogger(t)))

	p, err := uc.Create(ctx, decimal.RequireFromString("10.00"), "EUR", nil)
	require.NoError(t, err)

	counts, err := outboxRepo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts[entity.OutboxPending])

	_, err = payments.GetByID(ctx, p.ID)
	require.NoError(t, err)

	// second insert with a duplicate outbox id must take the payment row down with it
	existing := msgAt("dup", time.Now())
	seed(t, pg, outboxRepo, existing)

	orphan, err := entity.NewPayment(decimal.NewFromInt(3), "USD")
	require.NoError(t, err)

	err = pg.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := payments.Create(ctx, orphan); err != nil {
			return err
		}
		return outboxRepo.Add(ctx, existing)
	})
	require.Error(t, err)

	_, err = payments.GetByID(ctx, orphan.ID)
	require.ErrorIs(t, err, errs.ErrRecordNotFound)
}

func TestIntegration_ClaimBatch_OrderAndBudget(t *testing.T) {
	pg := setupPostgres(t)
	repo := NewOutboxRepo(pg)
	base := time.Now().UTC().Truncate(time.Millisecond)

	third := msgAt("c", base.Add(3*time.Second))
	first := msgAt("a", base.Add(time.Second))
	second := msgAt("b", base.Add(2*time.Second))
	exhausted := msgAt("x", base)
	exhausted.RetryCount = 5

	seed(t, pg, repo, third, first, second, exhausted)

	var claimed []*entity.OutboxMessage
	err := pg.WithinTransaction(context.Background(), func(ctx context.Context) error {
		var err error
		claimed, err = repo.ClaimBatch(ctx, 5, 10)
		return err
	})
	require.NoError(t, err)

	require.Len(t, claimed, 3)
	assert.Equal(t, []uuid.UUID{first.ID, second.ID, third.ID},
		[]uuid.UUID{claimed[0].ID, claimed[1].ID, claimed[2].ID})
	assert.JSONEq(t, `{"key":"a"}`, string(claimed[0].Payload))
}

func TestIntegration_ClaimBatch_ConcurrentClaimsAreDisjoint(t *testing.T) {
	pg := setupPostgres(t)
	repo := NewOutboxRepo(pg)
	base := time.Now().UTC()

	msgs := make([]*entity.OutboxMessage, 0, 20)
	for i := 0; i < 20; i++ {
		msgs = append(msgs, msgAt(uuid.NewString(), base.Add(time.Duration(i)*time.Millisecond)))
	}
	seed(t, pg, repo, msgs...)

	var (
		mu      sync.Mutex
		seen    = make(map[uuid.UUID]int)
		holding sync.WaitGroup
		release = make(chan struct{})
		wg      sync.WaitGroup
	)

	holding.Add(2)
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			err := pg.WithinTransaction(context.Background(), func(ctx context.Context) error {
				batch, err := repo.ClaimBatch(ctx, 5, 10)
				if err != nil {
					holding.Done()
					return err
				}

				mu.Lock()
				for _, m := range batch {
					seen[m.ID]++
				}
				mu.Unlock()

				// keep the row locks until both claims are in
				holding.Done()
				<-release

				return errs.ErrRollback
			})
			assert.NoError(t, err)
		}()
	}

	holding.Wait()
	close(release)
	wg.Wait()

	assert.Len(t, seen, 20)
	for id, n := range seen {
		assert.Equal(t, 1, n, "message %s claimed twice", id)
	}
}

func TestIntegration_SaveBatch_NeverRewritesProcessed(t *testing.T) {
	pg := setupPostgres(t)
	repo := NewOutboxRepo(pg)
	ctx := context.Background()

	m := msgAt("a", time.Now().UTC())
	seed(t, pg, repo, m)

	processedAt := time.Now().UTC()
	m.MarkProcessed(processedAt)
	require.NoError(t, pg.WithinTransaction(ctx, func(ctx context.Context) error {
		return repo.SaveBatch(ctx, []*entity.OutboxMessage{m})
	}))

	stale := *m
	stale.Status = entity.OutboxPending
	stale.ProcessedAt = nil
	stale.RetryCount = 3
	require.NoError(t, pg.WithinTransaction(ctx, func(ctx context.Context) error {
		return repo.SaveBatch(ctx, []*entity.OutboxMessage{&stale})
	}))

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts[entity.OutboxProcessed])
	assert.Zero(t, counts[entity.OutboxPending])
}

func TestIntegration_Sweeps(t *testing.T) {
	pg := setupPostgres(t)
	repo := NewOutboxRepo(pg)
	ctx := context.Background()
	now := time.Now().UTC()

	exhausted := msgAt("a", now)
	exhausted.RetryCount = 9

	old := msgAt("b", now)
	oldAt := now.Add(-48 * time.Hour)
	old.MarkProcessed(oldAt)

	recent := msgAt("c", now)
	recent.MarkProcessed(now)

	seed(t, pg, repo, exhausted, old, recent)

	n, err := repo.MarkExhaustedAsFailed(ctx, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = repo.DeleteProcessedBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[entity.OutboxStatus]int64{
		entity.OutboxFailed:    1,
		entity.OutboxProcessed: 1,
	}, counts)
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
	fail bool
}

func (p *recordingPublisher) Publish(_ context.Context, _, key string, _ []byte, _ map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.keys = append(p.keys, key)
	if p.fail {
		return errors.New("broker unavailable")
	}

	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestIntegration_PublishPending(t *testing.T) {
	pg := setupPostgres(t)
	payments := NewPaymentRepo(pg)
	outboxRepo := NewOutboxRepo(pg)
	ctx := context.Background()
	l := logger.NewFromZap(zaptest.NewLogger(t))

	paymentUC := payment.New(payments, outboxRepo, pg, "payment-created", l)
	for i := 0; i < 3; i++ {
		_, err := paymentUC.Create(ctx, decimal.NewFromInt(int64(i+1)), "USD", nil)
		require.NoError(t, err)
	}

	pub := &recordingPublisher{fail: true}
	outboxUC, err := outbox.New(outboxRepo, pg, pub, outbox.Config{BatchSize: 50, MaxRetries: 5}, nil, l)
	require.NoError(t, err)

	// broker down: first message burns one retry, the rest stay untouched
	res, err := outboxUC.PublishPending(ctx)
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.Len(t, pub.keys, 1)

	stats, err := outboxUC.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.Pending)

	// broker back
	pub.fail = false
	res, err = outboxUC.PublishPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Published)

	stats, err = outboxUC.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.Processed)
	assert.Zero(t, stats.Pending)

	// nothing left to claim
	res, err = outboxUC.PublishPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)
}
