// Package telemetry records execution metrics and traces through OpenTelemetry.
// Every recorder has a no-op counterpart used when telemetry is disabled.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "agentbuilder"

// Recorder records execution metrics.
type Recorder interface {
	// RecordEvent counts one stream event written to a client.
	RecordEvent(ctx context.Context, eventType string)

	// RecordExecution records a finished chat turn or agent run.
	// outcome is "completed", "failed" or "cancelled".
	RecordExecution(ctx context.Context, kind, outcome string, duration time.Duration)

	// RecordNode records one graph node execution.
	RecordNode(ctx context.Context, kind string, duration time.Duration, err error)

	// RecordToolCall records one tool invocation.
	RecordToolCall(ctx context.Context, tool string, duration time.Duration, err error)
}

type otelRecorder struct {
	events      metric.Int64Counter
	executions  metric.Int64Counter
	execLatency metric.Float64Histogram
	nodes       metric.Int64Counter
	nodeLatency metric.Float64Histogram
	nodeErrors  metric.Int64Counter
	toolCalls   metric.Int64Counter
	toolLatency metric.Float64Histogram
	toolErrors  metric.Int64Counter
}

// NewRecorder returns a Recorder backed by the global OTel meter provider.
// If an instrument cannot be created, a no-op recorder is returned.
func NewRecorder() Recorder {
	r, err := newOtelRecorder(otel.Meter(instrumentationName))
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder", "error", err)
		return NoopRecorder{}
	}
	return r
}

func newOtelRecorder(meter metric.Meter) (*otelRecorder, error) {
	var (
		r   otelRecorder
		err error
	)
	if r.events, err = meter.Int64Counter("agentbuilder.stream.events",
		metric.WithDescription("Number of stream events written")); err != nil {
		return nil, err
	}
	if r.executions, err = meter.Int64Counter("agentbuilder.executions",
		metric.WithDescription("Number of executions by kind and outcome")); err != nil {
		return nil, err
	}
	if r.execLatency, err = meter.Float64Histogram("agentbuilder.execution.latency_ms",
		metric.WithDescription("Execution wall-clock duration in milliseconds"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if r.nodes, err = meter.Int64Counter("agentbuilder.node.executions",
		metric.WithDescription("Number of graph node executions")); err != nil {
		return nil, err
	}
	if r.nodeLatency, err = meter.Float64Histogram("agentbuilder.node.latency_ms",
		metric.WithDescription("Node execution latency in milliseconds"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if r.nodeErrors, err = meter.Int64Counter("agentbuilder.node.errors",
		metric.WithDescription("Number of failed node executions")); err != nil {
		return nil, err
	}
	if r.toolCalls, err = meter.Int64Counter("agentbuilder.tool.calls",
		metric.WithDescription("Number of tool invocations")); err != nil {
		return nil, err
	}
	if r.toolLatency, err = meter.Float64Histogram("agentbuilder.tool.latency_ms",
		metric.WithDescription("Tool invocation latency in milliseconds"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if r.toolErrors, err = meter.Int64Counter("agentbuilder.tool.errors",
		metric.WithDescription("Number of failed tool invocations")); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *otelRecorder) RecordEvent(ctx context.Context, eventType string) {
	r.events.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

func (r *otelRecorder) RecordExecution(ctx context.Context, kind, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	)
	r.executions.Add(ctx, 1, attrs)
	r.execLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

func (r *otelRecorder) RecordNode(ctx context.Context, kind string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("node_kind", kind))
	r.nodes.Add(ctx, 1, attrs)
	r.nodeLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		r.nodeErrors.Add(ctx, 1, attrs)
	}
}

func (r *otelRecorder) RecordToolCall(ctx context.Context, tool string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	r.toolCalls.Add(ctx, 1, attrs)
	r.toolLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		r.toolErrors.Add(ctx, 1, attrs)
	}
}

// NoopRecorder discards all metrics.
type NoopRecorder struct{}

func (NoopRecorder) RecordEvent(context.Context, string)                            {}
func (NoopRecorder) RecordExecution(context.Context, string, string, time.Duration) {}
func (NoopRecorder) RecordNode(context.Context, string, time.Duration, error)       {}
func (NoopRecorder) RecordToolCall(context.Context, string, time.Duration, error)   {}
