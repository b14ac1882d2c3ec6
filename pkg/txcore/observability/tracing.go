package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var tracer = otel.Tracer("txcore")

// SpanManager handles trace span lifecycle for saga executions and steps.
type SpanManager interface {
	StartSagaSpan(ctx context.Context, sagaType, sagaID string) (context.Context, trace.Span)
	StartStepSpan(ctx context.Context, step string) (context.Context, trace.Span)
	EndSpanWithError(span trace.Span, err error)
}

type otelSpanManager struct{}

// NewSpanManager returns a SpanManager backed by the global OTel tracer
// provider. Configure it with otel.SetTracerProvider before use.
func NewSpanManager() SpanManager { return &otelSpanManager{} }

func (m *otelSpanManager) StartSagaSpan(ctx context.Context, sagaType, sagaID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "txcore.saga",
		trace.WithAttributes(attribute.String("saga.type", sagaType), attribute.String("saga.id", sagaID)),
		trace.WithSpanKind(trace.SpanKindInternal))
}

func (m *otelSpanManager) StartStepSpan(ctx context.Context, step string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "txcore.saga.step."+step,
		trace.WithAttributes(attribute.String("step", step)),
		trace.WithSpanKind(trace.SpanKindInternal))
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// NoopSpanManager is a SpanManager that does nothing.
type NoopSpanManager struct{}

var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

func (NoopSpanManager) StartSagaSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

func (NoopSpanManager) StartStepSpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

func (NoopSpanManager) EndSpanWithError(trace.Span, error) {}
