package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records txcore metrics. Use NewMetricsRecorder() for an
// OpenTelemetry-backed recorder, or NoopMetrics{} when metrics are disabled.
type MetricsRecorder interface {
	RecordStepExecution(ctx context.Context, sagaType, step string, duration time.Duration, err error)
	RecordSagaRun(ctx context.Context, sagaType string, success bool, duration time.Duration)
	RecordAppend(ctx context.Context, aggregateType string, eventCount int, duration time.Duration)
	RecordBreakerTrip(ctx context.Context, service string, toState string)
	RecordBusPublish(ctx context.Context, topic string, err error)
}

type otelMetrics struct {
	stepExecutions metric.Int64Counter
	stepLatency    metric.Float64Histogram
	stepErrors     metric.Int64Counter
	sagaRuns       metric.Int64Counter
	sagaLatency    metric.Float64Histogram
	appendLatency  metric.Float64Histogram
	appendEvents   metric.Int64Counter
	breakerTrips   metric.Int64Counter
	busPublishes   metric.Int64Counter
	busErrors      metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("txcore")

	stepExecutions, err := meter.Int64Counter("txcore.saga.step.executions", metric.WithDescription("Number of saga step executions"))
	if err != nil {
		return nil, err
	}
	stepLatency, err := meter.Float64Histogram("txcore.saga.step.latency_ms", metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	stepErrors, err := meter.Int64Counter("txcore.saga.step.errors")
	if err != nil {
		return nil, err
	}
	sagaRuns, err := meter.Int64Counter("txcore.saga.runs")
	if err != nil {
		return nil, err
	}
	sagaLatency, err := meter.Float64Histogram("txcore.saga.latency_ms", metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	appendLatency, err := meter.Float64Histogram("txcore.eventstore.append.latency_ms", metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	appendEvents, err := meter.Int64Counter("txcore.eventstore.append.events")
	if err != nil {
		return nil, err
	}
	breakerTrips, err := meter.Int64Counter("txcore.circuitbreaker.trips")
	if err != nil {
		return nil, err
	}
	busPublishes, err := meter.Int64Counter("txcore.eventbus.publishes")
	if err != nil {
		return nil, err
	}
	busErrors, err := meter.Int64Counter("txcore.eventbus.publish_errors")
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		stepExecutions: stepExecutions,
		stepLatency:    stepLatency,
		stepErrors:     stepErrors,
		sagaRuns:       sagaRuns,
		sagaLatency:    sagaLatency,
		appendLatency:  appendLatency,
		appendEvents:   appendEvents,
		breakerTrips:   breakerTrips,
		busPublishes:   busPublishes,
		busErrors:      busErrors,
	}, nil
}

// NewMetricsRecorder returns an OTel-backed MetricsRecorder, falling back to
// a no-op recorder if the meter cannot be initialized. Configure the global
// meter provider (otel.SetMeterProvider) before calling this.
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder", slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func (m *otelMetrics) RecordStepExecution(ctx context.Context, sagaType, step string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{attribute.String("saga_type", sagaType), attribute.String("step", step)}
	m.stepExecutions.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.stepLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	if err != nil {
		m.stepErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *otelMetrics) RecordSagaRun(ctx context.Context, sagaType string, success bool, duration time.Duration) {
	attrs := []attribute.KeyValue{attribute.String("saga_type", sagaType), attribute.Bool("success", success)}
	m.sagaRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.sagaLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

func (m *otelMetrics) RecordAppend(ctx context.Context, aggregateType string, eventCount int, duration time.Duration) {
	attrs := []attribute.KeyValue{attribute.String("aggregate_type", aggregateType)}
	m.appendEvents.Add(ctx, int64(eventCount), metric.WithAttributes(attrs...))
	m.appendLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

func (m *otelMetrics) RecordBreakerTrip(ctx context.Context, service, toState string) {
	m.breakerTrips.Add(ctx, 1, metric.WithAttributes(attribute.String("service", service), attribute.String("to_state", toState)))
}

func (m *otelMetrics) RecordBusPublish(ctx context.Context, topic string, err error) {
	attrs := []attribute.KeyValue{attribute.String("topic", topic)}
	m.busPublishes.Add(ctx, 1, metric.WithAttributes(attrs...))
	if err != nil {
		m.busErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
