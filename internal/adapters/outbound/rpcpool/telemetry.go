// telemetry.go provides OpenTelemetry instrumentation for the provider pool.
//
// Metrics:
//   - rpcpool.request.duration: Histogram of per-provider call latencies
//   - rpcpool.requests.total: Counter of per-provider calls by method/provider/status
//   - rpcpool.failovers.total: Counter of calls moved to the next provider
//   - rpcpool.demotions.total: Counter of providers marked unhealthy
//   - rpcpool.promotions.total: Counter of providers marked healthy again
//   - rpcpool.exhausted.total: Counter of calls that failed on every provider
package rpcpool

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/archon-research/stl-trade/internal/adapters/outbound/rpcpool"

// Telemetry provides metrics and tracing for a Pool. A nil *Telemetry records nothing.
type Telemetry struct {
	tracer trace.Tracer

	requestDuration metric.Float64Histogram
	requestsTotal   metric.Int64Counter
	failoversTotal  metric.Int64Counter
	demotionsTotal  metric.Int64Counter
	promotionsTotal metric.Int64Counter
	exhaustedTotal  metric.Int64Counter
}

// NewTelemetry creates Telemetry from the global tracer and meter providers.
func NewTelemetry() (*Telemetry, error) {
	return NewTelemetryWithProviders(otel.GetTracerProvider(), otel.GetMeterProvider())
}

// NewTelemetryWithProviders creates Telemetry with custom providers.
func NewTelemetryWithProviders(tp trace.TracerProvider, mp metric.MeterProvider) (*Telemetry, error) {
	meter := mp.Meter(instrumentationName)
	t := &Telemetry{tracer: tp.Tracer(instrumentationName)}

	var err error
	t.requestDuration, err = meter.Float64Histogram(
		"rpcpool.request.duration",
		metric.WithDescription("Duration of provider RPC calls in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	t.requestsTotal, err = meter.Int64Counter(
		"rpcpool.requests.total",
		metric.WithDescription("Total number of provider RPC calls"),
	)
	if err != nil {
		return nil, err
	}

	t.failoversTotal, err = meter.Int64Counter(
		"rpcpool.failovers.total",
		metric.WithDescription("Total number of calls moved to the next provider"),
	)
	if err != nil {
		return nil, err
	}

	t.demotionsTotal, err = meter.Int64Counter(
		"rpcpool.demotions.total",
		metric.WithDescription("Total number of providers marked unhealthy"),
	)
	if err != nil {
		return nil, err
	}

	t.promotionsTotal, err = meter.Int64Counter(
		"rpcpool.promotions.total",
		metric.WithDescription("Total number of providers marked healthy after recovering"),
	)
	if err != nil {
		return nil, err
	}

	t.exhaustedTotal, err = meter.Int64Counter(
		"rpcpool.exhausted.total",
		metric.WithDescription("Total number of calls that failed on every provider"),
	)
	if err != nil {
		return nil, err
	}

	return t, nil
}

// StartSpan starts a client span for a pool call.
func (t *Telemetry) StartSpan(ctx context.Context, chainID int64, method string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, "rpcpool."+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rpc.system", "jsonrpc"),
			attribute.String("rpc.method", method),
			attribute.Int64("chain.id", chainID),
		),
	)
}

// EndSpan records err on span and ends it.
func (t *Telemetry) EndSpan(span trace.Span, err error) {
	if t == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// RecordRequest records a single call against one provider.
func (t *Telemetry) RecordRequest(ctx context.Context, chainID int64, provider, method string, duration time.Duration, err error) {
	if t == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.Int64("chain.id", chainID),
		attribute.String("provider", provider),
		attribute.String("rpc.method", method),
		attribute.String("status", status),
	)
	t.requestDuration.Record(ctx, duration.Seconds(), attrs)
	t.requestsTotal.Add(ctx, 1, attrs)
}

// RecordFailover records a call leaving provider for the next candidate.
func (t *Telemetry) RecordFailover(ctx context.Context, chainID int64, provider, method string) {
	if t == nil {
		return
	}
	t.failoversTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.Int64("chain.id", chainID),
		attribute.String("provider", provider),
		attribute.String("rpc.method", method),
	))
}

// RecordDemotion records provider being marked unhealthy.
func (t *Telemetry) RecordDemotion(ctx context.Context, chainID int64, provider string) {
	if t == nil {
		return
	}
	t.demotionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.Int64("chain.id", chainID),
		attribute.String("provider", provider),
	))
}

// RecordPromotion records provider being marked healthy again.
func (t *Telemetry) RecordPromotion(ctx context.Context, chainID int64, provider string) {
	if t == nil {
		return
	}
	t.promotionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.Int64("chain.id", chainID),
		attribute.String("provider", provider),
	))
}

// RecordExhausted records a call that failed on every provider.
func (t *Telemetry) RecordExhausted(ctx context.Context, chainID int64, method string) {
	if t == nil {
		return
	}
	t.exhaustedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.Int64("chain.id", chainID),
		attribute.String("rpc.method", method),
	))
}
