package outbox

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/andreyxaxa/payments-outbox/internal/entity"
	"github.com/andreyxaxa/payments-outbox/pkg/types/errs"
)

type txMarker struct{}

type fakeTransactor struct {
	commits   int
	rollbacks int
}

func (f *fakeTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	err := fn(context.WithValue(ctx, txMarker{}, true))
	if err != nil {
		f.rollbacks++
		if errors.Is(err, errs.ErrRollback) {
			return nil
		}
		return err
	}
	f.commits++

	return nil
}

// memOutboxRepo keeps rows by value so only SaveBatch changes stored state.
type memOutboxRepo struct {
	mu   sync.Mutex
	rows map[string]entity.OutboxMessage

	claimErr error
	saveErr  error

	exhaustedArg int
	deleteBefore time.Time
	counts       map[entity.OutboxStatus]int64
}

func newMemOutboxRepo(msgs ...*entity.OutboxMessage) *memOutboxRepo {
	r := &memOutboxRepo{rows: make(map[string]entity.OutboxMessage)}
	for _, m := range msgs {
		r.rows[m.ID.String()] = *m
	}

	return r
}

func (r *memOutboxRepo) get(m *entity.OutboxMessage) entity.OutboxMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.rows[m.ID.String()]
}

func inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txMarker{}).(bool)
	return ok
}

func (r *memOutboxRepo) Add(ctx context.Context, msg *entity.OutboxMessage) error {
	if !inTx(ctx) {
		return errs.ErrNoTransaction
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[msg.ID.String()] = *msg

	return nil
}

func (r *memOutboxRepo) ClaimBatch(ctx context.Context, maxRetries, limit int) ([]*entity.OutboxMessage, error) {
	if !inTx(ctx) {
		return nil, errs.ErrNoTransaction
	}
	if r.claimErr != nil {
		return nil, r.claimErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*entity.OutboxMessage
	for _, row := range r.rows {
		if row.Status == entity.OutboxPending && row.RetryCount < maxRetries {
			cp := row
			out = append(out, &cp)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})

	if len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (r *memOutboxRepo) SaveBatch(ctx context.Context, msgs []*entity.OutboxMessage) error {
	if !inTx(ctx) {
		return errs.ErrNoTransaction
	}
	if r.saveErr != nil {
		return r.saveErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range msgs {
		if r.rows[m.ID.String()].Status == entity.OutboxProcessed {
			continue
		}
		r.rows[m.ID.String()] = *m
	}

	return nil
}

func (r *memOutboxRepo) MarkExhaustedAsFailed(_ context.Context, maxRetries int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.exhaustedArg = maxRetries

	var n int64
	for id, row := range r.rows {
		if row.Status == entity.OutboxPending && row.RetryCount >= maxRetries {
			row.Status = entity.OutboxFailed
			r.rows[id] = row
			n++
		}
	}

	return n, nil
}

func (r *memOutboxRepo) DeleteProcessedBefore(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deleteBefore = before

	var n int64
	for id, row := range r.rows {
		if row.Status == entity.OutboxProcessed && row.ProcessedAt != nil && row.ProcessedAt.Before(before) {
			delete(r.rows, id)
			n++
		}
	}

	return n, nil
}

func (r *memOutboxRepo) CountByStatus(context.Context) (map[entity.OutboxStatus]int64, error) {
	return r.counts, nil
}

type published struct {
	topic   string
	key     string
	payload []byte
	headers map[string]string
}

// fakePublisher fails every publish whose key is listed in failKeys.
type fakePublisher struct {
	mu       sync.Mutex
	sent     []published
	failKeys map[string]error
}

func (p *fakePublisher) Publish(_ context.Context, topic, key string, payload []byte, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sent = append(p.sent, published{topic: topic, key: key, payload: payload, headers: headers})

	if err, ok := p.failKeys[key]; ok {
		return err
	}

	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, 0, len(p.sent))
	for _, s := range p.sent {
		out = append(out, s.key)
	}

	return out
}
