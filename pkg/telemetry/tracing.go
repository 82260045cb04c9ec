package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanManager handles span lifecycle for executions and graph nodes.
type SpanManager interface {
	// StartExecutionSpan starts the root span of a chat turn or agent run.
	StartExecutionSpan(ctx context.Context, kind, executionID string) (context.Context, trace.Span)

	// StartNodeSpan starts a child span for one graph node.
	StartNodeSpan(ctx context.Context, label, kind string) (context.Context, trace.Span)

	// EndSpan completes span, recording err when non-nil.
	EndSpan(span trace.Span, err error)
}

type otelSpanManager struct {
	tracer trace.Tracer
}

// NewSpanManager returns a SpanManager using the global OTel tracer provider.
func NewSpanManager() SpanManager {
	return &otelSpanManager{tracer: otel.Tracer(instrumentationName)}
}

func (m *otelSpanManager) StartExecutionSpan(ctx context.Context, kind, executionID string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "agentbuilder.execution",
		trace.WithAttributes(
			attribute.String("execution.kind", kind),
			attribute.String("execution.id", executionID),
		),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

func (m *otelSpanManager) StartNodeSpan(ctx context.Context, label, kind string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "agentbuilder.node."+label,
		trace.WithAttributes(
			attribute.String("node.label", label),
			attribute.String("node.kind", kind),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) EndSpan(span trace.Span, err error) {
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

// NoopSpanManager creates non-recording spans.
type NoopSpanManager struct{}

func (NoopSpanManager) StartExecutionSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}

func (NoopSpanManager) StartNodeSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}

func (NoopSpanManager) EndSpan(trace.Span, error) {}
