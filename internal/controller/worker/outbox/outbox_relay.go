package outbox

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andreyxaxa/payments-outbox/internal/dto"
	"github.com/andreyxaxa/payments-outbox/internal/usecase"
	"github.com/andreyxaxa/payments-outbox/pkg/logger"
)

type OutboxRelay struct {
	outbox usecase.OutboxUseCase
	logger logger.Interface

	pollInterval        time.Duration
	cleanupInterval     time.Duration
	markFailedInterval  time.Duration
	processBatchTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started atomic.Bool
	stopped atomic.Bool
}

func New(
	outbox usecase.OutboxUseCase,
	l logger.Interface,
	pollInterval time.Duration,
	cleanupInterval time.Duration,
	markFailedInterval time.Duration,
	processBatchTimeout time.Duration,
) *OutboxRelay {
	return &OutboxRelay{
		outbox:              outbox,
		logger:              l,
		pollInterval:        pollInterval,
		cleanupInterval:     cleanupInterval,
		markFailedInterval:  markFailedInterval,
		processBatchTimeout: processBatchTimeout,
	}
}

func (r *OutboxRelay) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return fmt.Errorf("OutboxRelay - Start - worker already started")
	}

	r.ctx, r.cancel = context.WithCancel(ctx)

	// 1. publish pending messages
	r.worker(r.pollInterval, func() {
		r.ProcessOnce(r.ctx)
	})

	// 2. sweep rows that ran out of retries
	r.worker(r.markFailedInterval, func() {
		_, err := r.outbox.MarkExhaustedAsFailed(r.ctx)
		if err != nil && r.ctx.Err() == nil {
			r.logger.Error(err, "OutboxRelay - Start - worker - r.outbox.MarkExhaustedAsFailed")
		}
	})

	// 3. drop processed rows past retention
	r.worker(r.cleanupInterval, func() {
		_, err := r.outbox.Cleanup(r.ctx)
		if err != nil && r.ctx.Err() == nil {
			r.logger.Error(err, "OutboxRelay - Start - worker - r.outbox.Cleanup")
		}
	})

	return nil
}

// ProcessOnce runs a single publishing pass. A pass already in flight is allowed
// to finish when ctx is cancelled, bounded by the batch timeout.
func (r *OutboxRelay) ProcessOnce(ctx context.Context) dto.BatchResult {
	batchCtx, batchCancel := context.WithTimeout(context.WithoutCancel(ctx), r.processBatchTimeout)
	defer batchCancel()

	res, err := r.outbox.PublishPending(batchCtx)
	if err != nil {
		r.logger.Error(err, "OutboxRelay - ProcessOnce - r.outbox.PublishPending")
		return dto.BatchResult{}
	}

	if res.Claimed > 0 {
		r.logger.Debug("outbox batch: claimed=%d published=%d retried=%d failed=%d deferred=%d",
			res.Claimed, res.Published, res.Retried, res.Failed, res.Deferred)
	}

	return res
}

func (r *OutboxRelay) worker(interval time.Duration, task func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.ctx.Done():
				return
			case <-ticker.C:
				task()
			}
		}
	}()
}

// Shutdown stops the tickers and waits for the task in flight, or until ctx expires.
func (r *OutboxRelay) Shutdown(ctx context.Context) error {
	if !r.started.Load() || !r.stopped.CompareAndSwap(false, true) {
		return nil
	}

	r.cancel()

	done := make(chan struct{})

	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("OutboxRelay - Shutdown: %w", ctx.Err())
	}
}
