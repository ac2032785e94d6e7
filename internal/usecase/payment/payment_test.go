package payment

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/andreyxaxa/payments-outbox/internal/dto"
	"github.com/andreyxaxa/payments-outbox/internal/entity"
	"github.com/andreyxaxa/payments-outbox/pkg/logger"
	"github.com/andreyxaxa/payments-outbox/pkg/types/errs"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type txMarker struct{}

// fakeTransactor stages writes and applies them only on commit.
type fakeTransactor struct {
	commits   int
	rollbacks int
}

func (f *fakeTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	tx := &stagedTx{}
	err := fn(context.WithValue(ctx, txMarker{}, tx))
	if err != nil {
		f.rollbacks++
		if errors.Is(err, errs.ErrRollback) {
			return nil
		}
		return err
	}

	for _, apply := range tx.writes {
		apply()
	}
	f.commits++

	return nil
}

type stagedTx struct {
	writes []func()
}

func stage(ctx context.Context, apply func()) error {
	tx, ok := ctx.Value(txMarker{}).(*stagedTx)
	if !ok {
		return errs.ErrNoTransaction
	}
	tx.writes = append(tx.writes, apply)

	return nil
}

type fakePaymentRepo struct {
	mu       sync.Mutex
	payments map[uuid.UUID]entity.Payment
	updates  int
	getErr   error
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{payments: make(map[uuid.UUID]entity.Payment)}
}

func (r *fakePaymentRepo) Create(ctx context.Context, p *entity.Payment) error {
	cp := *p
	write := func() {
		r.mu.Lock()
		r.payments[cp.ID] = cp
		r.mu.Unlock()
	}

	if err := stage(ctx, write); err != nil {
		write()
	}

	return nil
}

func (r *fakePaymentRepo) GetByID(_ context.Context, id uuid.UUID) (*entity.Payment, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.payments[id]
	if !ok {
		return nil, errs.ErrRecordNotFound
	}

	return &p, nil
}

func (r *fakePaymentRepo) Update(_ context.Context, p *entity.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.payments[p.ID]; !ok {
		return errs.ErrRecordNotFound
	}
	r.payments[p.ID] = *p
	r.updates++

	return nil
}

type fakeOutboxRepo struct {
	msgs   []entity.OutboxMessage
	addErr error
}

func (r *fakeOutboxRepo) Add(ctx context.Context, msg *entity.OutboxMessage) error {
	if r.addErr != nil {
		return r.addErr
	}

	cp := *msg
	return stage(ctx, func() { r.msgs = append(r.msgs, cp) })
}

func (r *fakeOutboxRepo) ClaimBatch(context.Context, int, int) ([]*entity.OutboxMessage, error) {
	return nil, nil
}

func (r *fakeOutboxRepo) SaveBatch(context.Context, []*entity.OutboxMessage) error { return nil }

func (r *fakeOutboxRepo) MarkExhaustedAsFailed(context.Context, int) (int64, error) { return 0, nil }

func (r *fakeOutboxRepo) DeleteProcessedBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (r *fakeOutboxRepo) CountByStatus(context.Context) (map[entity.OutboxStatus]int64, error) {
	return nil, nil
}

type fixture struct {
	uc       *PaymentUseCase
	payments *fakePaymentRepo
	outbox   *fakeOutboxRepo
	tx       *fakeTransactor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		payments: newFakePaymentRepo(),
		outbox:   &fakeOutboxRepo{},
		tx:       &fakeTransactor{},
	}
	f.uc = New(f.payments, f.outbox, f.tx, "payment-created", logger.NewFromZap(zaptest.NewLogger(t)))

	return f
}

func TestCreate_WritesPaymentAndEventTogether(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	corr := "corr-42"

	p, err := f.uc.Create(context.Background(), decimal.RequireFromString("10.50"), "usd", &corr)
	require.NoError(t, err)

	assert.Equal(t, entity.PaymentPending, p.Status)
	assert.Equal(t, "USD", p.Currency)
	assert.Equal(t, 1, f.tx.commits)

	require.Contains(t, f.payments.payments, p.ID)
	require.Len(t, f.outbox.msgs, 1)

	msg := f.outbox.msgs[0]
	assert.Equal(t, "payment-created", msg.Topic)
	assert.Equal(t, p.ID.String(), msg.MessageKey)
	assert.Equal(t, entity.OutboxPending, msg.Status)
	require.NotNil(t, msg.CorrelationID)
	assert.Equal(t, corr, *msg.CorrelationID)

	var event dto.PaymentCreatedEvent
	require.NoError(t, json.Unmarshal(msg.Payload, &event))
	assert.Equal(t, p.ID, event.PaymentID)
	assert.True(t, event.Amount.Equal(decimal.RequireFromString("10.5")))
	assert.Equal(t, "USD", event.Currency)
	assert.Equal(t, dto.PaymentCreatedEventVersion, event.Version)
	assert.NotContains(t, string(msg.Payload), corr)
}

func TestCreate_PayloadAmountIsExactString(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.uc.Create(context.Background(), decimal.RequireFromString("0.10"), "EUR", nil)
	require.NoError(t, err)
	require.Len(t, f.outbox.msgs, 1)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(f.outbox.msgs[0].Payload, &raw))
	assert.Equal(t, "0.1", raw["amount"])
	assert.EqualValues(t, 1, raw["version"])
}

func TestCreate_ValidationErrorWritesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.uc.Create(context.Background(), decimal.RequireFromString("10.123"), "BRL", nil)
	require.ErrorIs(t, err, errs.ErrValidation)
	require.ErrorIs(t, err, entity.ErrAmountPrecision)

	assert.Empty(t, f.payments.payments)
	assert.Empty(t, f.outbox.msgs)
	assert.Zero(t, f.tx.commits)
}

func TestCreate_OutboxFailureRollsBackPayment(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.outbox.addErr = errors.New("disk full")

	_, err := f.uc.Create(context.Background(), decimal.NewFromInt(5), "USD", nil)
	require.Error(t, err)

	assert.Empty(t, f.payments.payments)
	assert.Empty(t, f.outbox.msgs)
	assert.Equal(t, 1, f.tx.rollbacks)
}

func TestProcess(t *testing.T) {
	t.Parallel()

	t.Run("unknown payment is not yet visible", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)

		_, err := f.uc.Process(context.Background(), uuid.New())
		require.ErrorIs(t, err, errs.ErrPaymentNotYetVisible)
	})

	t.Run("pending is processed once", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		p, err := f.uc.Create(context.Background(), decimal.NewFromInt(1), "USD", nil)
		require.NoError(t, err)

		res, err := f.uc.Process(context.Background(), p.ID)
		require.NoError(t, err)
		assert.Equal(t, dto.Processed, res)
		assert.Equal(t, entity.PaymentProcessed, f.payments.payments[p.ID].Status)

		res, err = f.uc.Process(context.Background(), p.ID)
		require.NoError(t, err)
		assert.Equal(t, dto.AlreadyProcessed, res)
		assert.Equal(t, 1, f.payments.updates)
	})

	t.Run("failed payment is left alone", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		reason := "declined"
		id := uuid.New()
		f.payments.payments[id] = entity.Payment{ID: id, Status: entity.PaymentFailed, FailureReason: &reason}

		res, err := f.uc.Process(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, dto.AlreadyProcessed, res)
		assert.Equal(t, entity.PaymentFailed, f.payments.payments[id].Status)
		assert.Zero(t, f.payments.updates)
	})

	t.Run("store error is passed through", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		boom := errors.New("connection reset")
		f.payments.getErr = boom

		_, err := f.uc.Process(context.Background(), uuid.New())
		require.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, errs.ErrPaymentNotYetVisible)
	})
}

func TestGetByID_NotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.uc.GetByID(context.Background(), uuid.New())
	require.ErrorIs(t, err, errs.ErrRecordNotFound)
}
