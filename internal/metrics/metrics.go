// Package metrics wires OpenTelemetry metrics with Prometheus export for
// the supervision plane: per-service operation counts, operation
// durations, and circuit-breaker state.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

func serviceAttr(name string) attribute.KeyValue { return attribute.String("service", name) }
func outcomeAttr(outcome string) attribute.KeyValue { return attribute.String("outcome", outcome) }

// Recorder exposes the three metrics the supervision plane emits, backed
// by an OpenTelemetry meter with a Prometheus reader.
type Recorder struct {
	provider *sdkmetric.MeterProvider

	operationsTotal   metric.Int64Counter
	operationDuration metric.Float64Histogram
	circuitBreaker    metric.Int64Gauge
}

// circuitBreakerStateValue maps the breaker's open/degraded flags to the gauge
// value the dashboard expects: 0 closed, 1 half-open/degraded, 2 open.
func circuitBreakerStateValue(open bool, degraded bool) int64 {
	switch {
	case open:
		return 2
	case degraded:
		return 1
	default:
		return 0
	}
}

// New initializes the meter provider with a Prometheus reader and
// registers it globally, returning a Recorder ready to record the
// supervision plane's metrics.
func New(ctx context.Context, serviceName string) (*Recorder, error) {
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("metrics: build resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("metrics: create prometheus exporter: %w", err)
	}

	recorder, err := newWithReader(res, exporter)
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(recorder.provider)
	return recorder, nil
}

// newWithReader builds a Recorder over an arbitrary sdkmetric.Reader,
// letting tests substitute a ManualReader for the production Prometheus
// exporter without starting a real scrape endpoint.
func newWithReader(res *resource.Resource, reader sdkmetric.Reader) (*Recorder, error) {
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)

	meter := provider.Meter("supervisor.orchestrator")

	operationsTotal, err := meter.Int64Counter(
		"service_operations_total",
		metric.WithDescription("Total number of service tick operations, by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: create operations counter: %w", err)
	}

	operationDuration, err := meter.Float64Histogram(
		"service_operation_duration_seconds",
		metric.WithDescription("Duration of a single service tick operation"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: create duration histogram: %w", err)
	}

	circuitBreaker, err := meter.Int64Gauge(
		"circuit_breaker_state",
		metric.WithDescription("Circuit breaker state: 0 closed, 1 degraded/half-open, 2 open"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: create circuit breaker gauge: %w", err)
	}

	return &Recorder{
		provider:          provider,
		operationsTotal:   operationsTotal,
		operationDuration: operationDuration,
		circuitBreaker:    circuitBreaker,
	}, nil
}

// RecordOperation records one tick's outcome and duration for service.
func (r *Recorder) RecordOperation(ctx context.Context, service, outcome string, durationSeconds float64) {
	attrs := metric.WithAttributes(serviceAttr(service), outcomeAttr(outcome))
	r.operationsTotal.Add(ctx, 1, attrs)
	r.operationDuration.Record(ctx, durationSeconds, metric.WithAttributes(serviceAttr(service)))
}

// RecordCircuitBreakerState records the current breaker state for service.
func (r *Recorder) RecordCircuitBreakerState(ctx context.Context, service string, open, degraded bool) {
	r.circuitBreaker.Record(ctx, circuitBreakerStateValue(open, degraded), metric.WithAttributes(serviceAttr(service)))
}

// Shutdown flushes and stops the meter provider.
func (r *Recorder) Shutdown(ctx context.Context) error {
	return r.provider.Shutdown(ctx)
}
