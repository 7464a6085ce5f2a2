package chatgraph

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/chatgraph/pkg/chatgraph/observability"
)

// DefaultMaxSteps is the default per-run step limit.
const DefaultMaxSteps = 25

// runConfig holds configuration for graph execution.
type runConfig struct {
	maxSteps    int
	threadID    string
	nodeTimeout time.Duration

	// Observability
	logger         *slog.Logger
	metricsEnabled bool
	tracingEnabled bool
	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
}

// defaultRunConfig returns the default execution configuration.
func defaultRunConfig() runConfig {
	return runConfig{
		maxSteps: DefaultMaxSteps,
		logger:   slog.Default(),
		metrics:  observability.NoopMetrics{},
		spans:    observability.NoopSpanManager{},
	}
}

func newRunConfig(opts []RunOption) runConfig {
	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.metricsEnabled {
		cfg.metrics = observability.NewMetricsRecorder()
	}
	if cfg.tracingEnabled {
		cfg.spans = observability.NewSpanManager()
	}
	return cfg
}

// RunOption configures execution behavior.
type RunOption func(*runConfig)

// WithThreadID selects the conversation thread for checkpointing.
// Required when the graph was compiled WithCheckpointer.
func WithThreadID(id string) RunOption {
	return func(c *runConfig) {
		c.threadID = id
	}
}

// WithMaxSteps sets the maximum number of node executions per run.
// Default: 25
//
// This prevents tool loops from running forever. If a run exceeds this
// limit, it fails with a *StepLimitError.
//
// Example:
//
//	final, err := compiled.Invoke(ctx, input, chatgraph.WithMaxSteps(10))
func WithMaxSteps(n int) RunOption {
	return func(c *runConfig) {
		if n > 0 {
			c.maxSteps = n
		}
	}
}

// WithNodeTimeout bounds each node execution. A node that exceeds the
// timeout has its output discarded and the run fails with a
// *CancellationError. Zero means no per-node limit.
func WithNodeTimeout(d time.Duration) RunOption {
	return func(c *runConfig) {
		if d >= 0 {
			c.nodeTimeout = d
		}
	}
}

// WithLogger sets the logger for run and node events.
// Default: slog.Default()
func WithLogger(logger *slog.Logger) RunOption {
	return func(c *runConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics enables OpenTelemetry metrics using the global meter provider.
func WithMetrics(enabled bool) RunOption {
	return func(c *runConfig) {
		c.metricsEnabled = enabled
	}
}

// WithTracing enables OpenTelemetry spans using the global tracer provider.
func WithTracing(enabled bool) RunOption {
	return func(c *runConfig) {
		c.tracingEnabled = enabled
	}
}
