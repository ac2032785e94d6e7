package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/andreyxaxa/payments-outbox/internal/dto"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "payments.outbox.relay"

type metrics struct {
	published metric.Int64Counter
	failed    metric.Int64Counter
	retried   metric.Int64Counter
	deferred  metric.Int64Counter
	duration  metric.Float64Histogram
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	meter := mp.Meter(meterName)

	var (
		m   metrics
		err error
	)

	if m.published, err = meter.Int64Counter("outbox.messages.published",
		metric.WithDescription("Outbox messages acknowledged by the broker")); err != nil {
		return nil, fmt.Errorf("newMetrics - published: %w", err)
	}

	if m.failed, err = meter.Int64Counter("outbox.messages.failed",
		metric.WithDescription("Outbox messages that exhausted their retry budget")); err != nil {
		return nil, fmt.Errorf("newMetrics - failed: %w", err)
	}

	if m.retried, err = meter.Int64Counter("outbox.messages.retried",
		metric.WithDescription("Failed publish attempts that left the message pending")); err != nil {
		return nil, fmt.Errorf("newMetrics - retried: %w", err)
	}

	if m.deferred, err = meter.Int64Counter("outbox.messages.deferred",
		metric.WithDescription("Claimed messages skipped because of backoff or key ordering")); err != nil {
		return nil, fmt.Errorf("newMetrics - deferred: %w", err)
	}

	if m.duration, err = meter.Float64Histogram("outbox.batch.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Time spent on one outbox batch, including the transaction")); err != nil {
		return nil, fmt.Errorf("newMetrics - duration: %w", err)
	}

	return &m, nil
}

func (m *metrics) record(ctx context.Context, res dto.BatchResult, elapsed time.Duration) {
	m.duration.Record(ctx, elapsed.Seconds())

	if res.Published > 0 {
		m.published.Add(ctx, int64(res.Published))
	}
	if res.Failed > 0 {
		m.failed.Add(ctx, int64(res.Failed))
	}
	if res.Retried > 0 {
		m.retried.Add(ctx, int64(res.Retried))
	}
	if res.Deferred > 0 {
		m.deferred.Add(ctx, int64(res.Deferred))
	}
}
