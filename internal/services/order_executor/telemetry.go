package order_executor

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/archon-research/stl-trade/internal/domain/entity"
)

const instrumentationName = "github.com/archon-research/stl-trade/internal/services/order_executor"

// Telemetry records executor metrics. A nil *Telemetry records nothing.
type Telemetry struct {
	transitionsTotal metric.Int64Counter
	outcomesTotal    metric.Int64Counter
	attemptDuration  metric.Float64Histogram
	budgetExhausted  metric.Int64Counter
	alertsTotal      metric.Int64Counter
}

// NewTelemetry creates Telemetry from the global meter provider.
func NewTelemetry() (*Telemetry, error) {
	return NewTelemetryWithProvider(otel.GetMeterProvider())
}

// NewTelemetryWithProvider creates Telemetry with a custom meter provider.
func NewTelemetryWithProvider(mp metric.MeterProvider) (*Telemetry, error) {
	meter := mp.Meter(instrumentationName)
	t := &Telemetry{}

	var err error
	t.transitionsTotal, err = meter.Int64Counter(
		"executor.transitions.total",
		metric.WithDescription("Total number of persisted order status transitions"),
	)
	if err != nil {
		return nil, err
	}

	t.outcomesTotal, err = meter.Int64Counter(
		"executor.attempts.total",
		metric.WithDescription("Total number of processing attempts by outcome"),
	)
	if err != nil {
		return nil, err
	}

	t.attemptDuration, err = meter.Float64Histogram(
		"executor.attempt.duration",
		metric.WithDescription("Duration of order processing attempts in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	t.budgetExhausted, err = meter.Int64Counter(
		"executor.retry_budget_exhausted.total",
		metric.WithDescription("Total number of orders failed after exhausting their retry budget"),
	)
	if err != nil {
		return nil, err
	}

	t.alertsTotal, err = meter.Int64Counter(
		"executor.alerts.total",
		metric.WithDescription("Total number of system-health alerts raised"),
	)
	if err != nil {
		return nil, err
	}

	return t, nil
}

// RecordTransition counts a persisted status change.
func (t *Telemetry) RecordTransition(ctx context.Context, chainID int64, from, to entity.OrderStatus) {
	if t == nil {
		return
	}
	t.transitionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.Int64("chain.id", chainID),
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}

// RecordAttempt records the outcome and duration of one Process call.
func (t *Telemetry) RecordAttempt(ctx context.Context, outcome Outcome, duration time.Duration) {
	if t == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome.String()))
	t.outcomesTotal.Add(ctx, 1, attrs)
	t.attemptDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordBudgetExhausted counts an order failed by the queue.
func (t *Telemetry) RecordBudgetExhausted(ctx context.Context) {
	if t == nil {
		return
	}
	t.budgetExhausted.Add(ctx, 1)
}

// RecordAlert counts an alert sent to the alert sink.
func (t *Telemetry) RecordAlert(ctx context.Context, chainID int64, kind string) {
	if t == nil {
		return
	}
	t.alertsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.Int64("chain.id", chainID),
		attribute.String("kind", kind),
	))
}
