package circulation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type metrics struct {
	borrowed metric.Int64Counter
	rejected metric.Int64Counter
	returned metric.Int64Counter
	drift    metric.Int64Counter
	duration metric.Float64Histogram
}

func newMetrics(meter metric.Meter) *metrics {
	fallback := noop.NewMeterProvider().Meter("librarium/circulation")
	m := &metrics{}

	var err error
	if m.borrowed, err = meter.Int64Counter("librarium.loans.borrowed",
		metric.WithDescription("Loans created")); err != nil {
		m.borrowed, _ = fallback.Int64Counter("librarium.loans.borrowed")
	}
	if m.rejected, err = meter.Int64Counter("librarium.loans.borrow_rejected",
		metric.WithDescription("Borrow calls that did not create a loan")); err != nil {
		m.rejected, _ = fallback.Int64Counter("librarium.loans.borrow_rejected")
	}
	if m.returned, err = meter.Int64Counter("librarium.loans.returned",
		metric.WithDescription("Loans returned")); err != nil {
		m.returned, _ = fallback.Int64Counter("librarium.loans.returned")
	}
	if m.drift, err = meter.Int64Counter("librarium.inventory.drift",
		metric.WithDescription("Copy counter corrections that failed")); err != nil {
		m.drift, _ = fallback.Int64Counter("librarium.inventory.drift")
	}
	if m.duration, err = meter.Float64Histogram("librarium.loans.borrow.duration",
		metric.WithDescription("Borrow latency"), metric.WithUnit("s")); err != nil {
		m.duration, _ = fallback.Float64Histogram("librarium.loans.borrow.duration")
	}
	return m
}

func (m *metrics) recordBorrow(ctx context.Context, start time.Time, err error) {
	m.duration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason(err))))
		return
	}
	m.borrowed.Add(ctx, 1)
}
