package observability

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records chatgraph metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordNodeExecution records a node execution with its duration and error status.
	RecordNodeExecution(ctx context.Context, nodeID string, duration time.Duration, err error)

	// RecordRun records a run completion and the number of steps it executed.
	RecordRun(ctx context.Context, success bool, duration time.Duration, steps int)

	// RecordCheckpoint records a checkpoint save operation.
	RecordCheckpoint(ctx context.Context, nodeID string, sizeBytes int64)

	// RecordToolInvocation records a tool call made by a tool node.
	RecordToolInvocation(ctx context.Context, tool string, duration time.Duration, err error)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	nodeExecutions  metric.Int64Counter
	nodeLatency     metric.Float64Histogram
	nodeErrors      metric.Int64Counter
	runs            metric.Int64Counter
	runLatency      metric.Float64Histogram
	runSteps        metric.Int64Histogram
	checkpointSize  metric.Int64Histogram
	toolInvocations metric.Int64Counter
	toolErrors      metric.Int64Counter
}

// newOtelMetrics creates OTel instruments from the global meter provider.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("chatgraph")
	m := &otelMetrics{}
	var err error

	if m.nodeExecutions, err = meter.Int64Counter("chatgraph.node.executions",
		metric.WithDescription("Number of node executions"),
	); err != nil {
		return nil, err
	}

	if m.nodeLatency, err = meter.Float64Histogram("chatgraph.node.latency_ms",
		metric.WithDescription("Node execution latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.nodeErrors, err = meter.Int64Counter("chatgraph.node.errors",
		metric.WithDescription("Number of node execution errors"),
	); err != nil {
		return nil, err
	}

	if m.runs, err = meter.Int64Counter("chatgraph.run.count",
		metric.WithDescription("Number of graph runs"),
	); err != nil {
		return nil, err
	}

	if m.runLatency, err = meter.Float64Histogram("chatgraph.run.latency_ms",
		metric.WithDescription("Graph run latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.runSteps, err = meter.Int64Histogram("chatgraph.run.steps",
		metric.WithDescription("Steps executed per run"),
	); err != nil {
		return nil, err
	}

	if m.checkpointSize, err = meter.Int64Histogram("chatgraph.checkpoint.size_bytes",
		metric.WithDescription("Checkpoint size in bytes"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if m.toolInvocations, err = meter.Int64Counter("chatgraph.tool.invocations",
		metric.WithDescription("Number of tool invocations"),
	); err != nil {
		return nil, err
	}

	if m.toolErrors, err = meter.Int64Counter("chatgraph.tool.errors",
		metric.WithDescription("Number of failed tool invocations"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := newOtelMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordNodeExecution records a node execution.
func (m *otelMetrics) RecordNodeExecution(ctx context.Context, nodeID string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("node_id", nodeID))

	m.nodeExecutions.Add(ctx, 1, attrs)
	m.nodeLatency.Record(ctx, float64(duration.Milliseconds()), attrs)

	if err != nil {
		m.nodeErrors.Add(ctx, 1, attrs)
	}
}

// RecordRun records a run.
func (m *otelMetrics) RecordRun(ctx context.Context, success bool, duration time.Duration, steps int) {
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	m.runs.Add(ctx, 1, attrs)
	m.runLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	m.runSteps.Record(ctx, int64(steps), attrs)
}

// RecordCheckpoint records a checkpoint save.
func (m *otelMetrics) RecordCheckpoint(ctx context.Context, nodeID string, sizeBytes int64) {
	m.checkpointSize.Record(ctx, sizeBytes, metric.WithAttributes(attribute.String("node_id", nodeID)))
}

// RecordToolInvocation records a tool call.
func (m *otelMetrics) RecordToolInvocation(ctx context.Context, tool string, _ time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	m.toolInvocations.Add(ctx, 1, attrs)
	if err != nil {
		m.toolErrors.Add(ctx, 1, attrs)
	}
}
