package kafka

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andreyxaxa/payments-outbox/internal/dto"
	"github.com/andreyxaxa/payments-outbox/internal/infrastructure"
	"github.com/andreyxaxa/payments-outbox/internal/usecase"
	"github.com/andreyxaxa/payments-outbox/pkg/logger"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// KafkaController consumes payment-created events. Messages are handled one at a
// time so an offset is committed only after every earlier offset was decided.
type KafkaController struct {
	payments usecase.PaymentUseCase
	reader   infrastructure.EventReader
	dlq      infrastructure.EventPublisher
	logger   logger.Interface

	dlqTopic       string
	maxAttempts    int
	baseBackoff    time.Duration
	processTimeout time.Duration
	commitTimeout  time.Duration
	dlqTimeout     time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started atomic.Bool
	stopped atomic.Bool
}

func New(
	payments usecase.PaymentUseCase,
	reader infrastructure.EventReader,
	dlq infrastructure.EventPublisher,
	l logger.Interface,
	dlqTopic string,
	maxAttempts int,
	baseBackoff time.Duration,
	processTimeout time.Duration,
	commitTimeout time.Duration,
	dlqTimeout time.Duration,
) *KafkaController {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return &KafkaController{
		payments:       payments,
		reader:         reader,
		dlq:            dlq,
		logger:         l,
		dlqTopic:       dlqTopic,
		maxAttempts:    maxAttempts,
		baseBackoff:    baseBackoff,
		processTimeout: processTimeout,
		commitTimeout:  commitTimeout,
		dlqTimeout:     dlqTimeout,
	}
}

func (c *KafkaController) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("KafkaController - Start - controller already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		for {
			// 1. read the next message, nothing is committed yet
			event, err := c.reader.ReadEvent(c.ctx)
			if err != nil {
				if c.ctx.Err() != nil {
					return
				}

				c.logger.Error(err, "KafkaController - Start - c.reader.ReadEvent")

				if !c.sleep(c.baseBackoff) {
					return
				}
				continue
			}

			// 2. decide and commit before fetching the next one
			c.handle(event)
		}
	}()

	return nil
}

func (c *KafkaController) handle(event kafka.Message) {
	defer func() {
		if r := recover(); r != nil {
			// the offset is undecided and a later commit would skip it, stop reading
			c.logger.Error(fmt.Errorf("panic %v", r), "KafkaController - handle - offset %d left uncommitted", event.Offset)
			c.cancel()
		}
	}()

	log := c.logger.With("topic", event.Topic, "partition", event.Partition, "offset", event.Offset)
	if corr := headerValue(event, dto.HeaderCorrelationID); corr != "" {
		log = log.With("correlation_id", corr)
	}

	payload, err := decodePaymentCreated(event.Value)
	if err != nil {
		// a poison message never becomes decodable, skip it
		log.Error(err, "KafkaController - handle - decodePaymentCreated")
		c.commit(event, log)
		return
	}

	log = log.With("payment_id", payload.PaymentID.String())

	err = c.processWithRetry(payload.PaymentID, log)
	if err == nil {
		c.commit(event, log)
		return
	}

	if c.ctx.Err() != nil {
		log.Warn("shutdown during processing, offset %d left uncommitted", event.Offset)
		return
	}

	c.sendToDLQ(event, err, log)
	c.commit(event, log)
}

// processWithRetry retries whitelisted transient failures with exponential delays
// of baseBackoff*2^attempt. Any other error ends the loop at once.
func (c *KafkaController) processWithRetry(id uuid.UUID, log logger.Interface) error {
	attempt := 0

	op := func() error {
		attempt++

		processCtx, processCancel := context.WithTimeout(c.ctx, c.processTimeout)
		defer processCancel()

		res, err := c.process(processCtx, id)
		if err == nil {
			log.Debug("payment event handled: %s", res)
			return nil
		}

		if c.ctx.Err() != nil || !isTransient(err) {
			return backoff.Permanent(err)
		}

		if attempt < c.maxAttempts {
			log.Warn("transient failure, attempt %d/%d: %v", attempt, c.maxAttempts, err)
		}

		return err
	}

	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(c.newBackOff(), uint64(c.maxAttempts-1)),
		c.ctx,
	))
	if err != nil {
		return fmt.Errorf("KafkaController - processWithRetry - attempts %d: %w", attempt, err)
	}

	return nil
}

// process turns a panic in the use case into an error so the message still
// reaches the DLQ before its offset is committed.
func (c *KafkaController) process(ctx context.Context, id uuid.UUID) (res dto.ProcessResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("KafkaController - process - c.payments.Process panic: %v", r)
		}
	}()

	return c.payments.Process(ctx, id)
}

func (c *KafkaController) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * c.baseBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = time.Hour
	b.MaxElapsedTime = 0

	return b
}

func (c *KafkaController) sendToDLQ(event kafka.Message, cause error, log logger.Interface) {
	// the outcome is decided, let the write finish even during shutdown
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), c.dlqTimeout)
	defer cancel()

	err := c.dlq.Publish(ctx, c.dlqTopic, string(event.Key), event.Value, dlqHeaders(event, cause))
	if err != nil {
		log.Error(err, "KafkaController - sendToDLQ - c.dlq.Publish, cause: %v", cause)
		return
	}

	log.Warn("message moved to %s: %v", c.dlqTopic, cause)
}

func (c *KafkaController) commit(event kafka.Message, log logger.Interface) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), c.commitTimeout)
	defer cancel()

	if err := c.reader.CommitEvent(ctx, event); err != nil {
		log.Error(err, "KafkaController - commit - c.reader.CommitEvent")
	}
}

func (c *KafkaController) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-c.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *KafkaController) Shutdown(ctx context.Context) error {
	if !c.started.Load() || !c.stopped.CompareAndSwap(false, true) {
		return nil
	}

	c.cancel()

	done := make(chan struct{})

	go func() {
		c.wg.Wait()
		if err := c.reader.Close(); err != nil {
			c.logger.Error(err, "KafkaController - Shutdown - c.reader.Close")
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("KafkaController - Shutdown: %w", ctx.Err())
	}
}
