// Package telemetry wires the kernel's metrics and tracing to
// stdout-only OpenTelemetry exporters: a span per mutation-guard
// critical section, a counter per mutation outcome, and a counter plus
// latency histogram per transport dispatch. There is no network
// exporter and no collector dependency — this is local, ambient
// observability, not a distributed tracing deployment.
package telemetry

import (
	"context"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the tracer/meter name every span and
// instrument in this package is registered under.
const InstrumentationName = "github.com/premath-kernel/issuekernel"

// Provider bundles the trace/metric providers and the instruments every
// critical section records against.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider

	tracer trace.Tracer
	meter  metric.Meter

	mutationOutcomes metric.Int64Counter
	dispatchCount    metric.Int64Counter
	dispatchLatency  metric.Float64Histogram
}

// New builds a Provider whose span/metric stream is written to w as
// newline-delimited JSON. Pass io.Discard in tests that don't care about
// the telemetry stream.
func New(w io.Writer) (*Provider, error) {
	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}
	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExporter))

	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, err
	}
	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)))

	p := &Provider{
		tracerProvider: tracerProvider,
		meterProvider:  meterProvider,
		tracer:         tracerProvider.Tracer(InstrumentationName),
		meter:          meterProvider.Meter(InstrumentationName),
	}
	if p.mutationOutcomes, err = p.meter.Int64Counter("premath.mutation.outcomes",
		metric.WithDescription("mutation guard critical sections, by outcome")); err != nil {
		return nil, err
	}
	if p.dispatchCount, err = p.meter.Int64Counter("premath.transport.dispatch.count",
		metric.WithDescription("transport dispatches, by actionId")); err != nil {
		return nil, err
	}
	if p.dispatchLatency, err = p.meter.Float64Histogram("premath.transport.dispatch.latency_ms",
		metric.WithDescription("transport dispatch latency in milliseconds")); err != nil {
		return nil, err
	}
	return p, nil
}

// Noop returns a Provider whose spans and metrics are discarded, for
// call sites (tests, short-lived CLI invocations) that don't want to pay
// for a stdout exporter.
func Noop() (*Provider, error) {
	return New(io.Discard)
}

// Shutdown flushes and stops both providers. Callers should defer this
// immediately after New succeeds.
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.tracerProvider.Shutdown(ctx); err != nil {
		return err
	}
	return p.meterProvider.Shutdown(ctx)
}

// StartMutationSpan starts a span covering one mutation-guard critical
// section (lock acquisition through commit or rollback).
func (p *Provider) StartMutationSpan(ctx context.Context, action string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "mutation."+action)
}

// RecordMutationOutcome increments the mutation-outcome counter, tagged
// with outcome ∈ {"busy", "committed", "noop"}.
func (p *Provider) RecordMutationOutcome(ctx context.Context, action, outcome string) {
	p.mutationOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action), attribute.String("outcome", outcome),
	))
}

// RecordDispatch records one transport dispatch's actionId and latency.
func (p *Provider) RecordDispatch(ctx context.Context, actionID string, start time.Time) {
	elapsedMs := float64(time.Since(start).Microseconds()) / 1000.0
	p.dispatchCount.Add(ctx, 1, metric.WithAttributes(attribute.String("actionId", actionID)))
	p.dispatchLatency.Record(ctx, elapsedMs, metric.WithAttributes(attribute.String("actionId", actionID)))
}
