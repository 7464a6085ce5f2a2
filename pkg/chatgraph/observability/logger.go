// Package observability provides structured logging, metrics, and
// distributed tracing for chatgraph runs.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds run context to a logger.
// Returns a new logger with thread_id and run_id fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "thread-1", "run-123")
//	enriched.Info("doing work") // includes thread_id, run_id
func EnrichLogger(logger *slog.Logger, threadID, runID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("thread_id", threadID),
		slog.String("run_id", runID),
	)
}

// LogRunStart logs the start of a run.
// The run ID comes from the logger, see EnrichLogger.
func LogRunStart(logger *slog.Logger, startNode string, step int) {
	if logger == nil {
		return
	}
	logger.Info("graph run starting",
		slog.String("start_node", startNode),
		slog.Int("step", step),
	)
}

// LogRunComplete logs successful run completion.
func LogRunComplete(logger *slog.Logger, durationMs float64, steps int) {
	if logger == nil {
		return
	}
	logger.Info("graph run completed",
		slog.Float64("duration_ms", durationMs),
		slog.Int("steps_executed", steps),
	)
}

// LogRunError logs run failure.
func LogRunError(logger *slog.Logger, err error, durationMs float64, lastNode string) {
	if logger == nil {
		return
	}
	logger.Error("graph run failed",
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("last_node", lastNode),
	)
}

// LogPhase logs a thread phase transition.
func LogPhase(logger *slog.Logger, phase string) {
	if logger == nil {
		return
	}
	logger.Debug("thread phase changed",
		slog.String("phase", phase),
	)
}

// LogNodeStart logs node execution start.
func LogNodeStart(logger *slog.Logger, nodeID string, step int) {
	if logger == nil {
		return
	}
	logger.Debug("node starting",
		slog.String("node_id", nodeID),
		slog.Int("step", step),
	)
}

// LogNodeComplete logs successful node completion and the fields it updated.
func LogNodeComplete(logger *slog.Logger, nodeID string, durationMs float64, fields []string) {
	if logger == nil {
		return
	}
	logger.Debug("node completed",
		slog.String("node_id", nodeID),
		slog.Float64("duration_ms", durationMs),
		slog.Any("fields", fields),
	)
}

// LogNodeError logs node execution error.
func LogNodeError(logger *slog.Logger, nodeID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("node failed",
		slog.String("node_id", nodeID),
		slog.String("error", err.Error()),
	)
}

// LogRoute logs a routing decision.
func LogRoute(logger *slog.Logger, from, label, to string) {
	if logger == nil {
		return
	}
	logger.Debug("route selected",
		slog.String("from", from),
		slog.String("label", label),
		slog.String("to", to),
	)
}

// LogCheckpoint logs checkpoint creation.
func LogCheckpoint(logger *slog.Logger, nodeID string, step int, sizeBytes int) {
	if logger == nil {
		return
	}
	logger.Debug("checkpoint saved",
		slog.String("node_id", nodeID),
		slog.Int("step", step),
		slog.Int("size_bytes", sizeBytes),
	)
}

// LogCheckpointError logs a checkpoint failure.
func LogCheckpointError(logger *slog.Logger, nodeID string, op string, err error) {
	if logger == nil {
		return
	}
	logger.Error("checkpoint failed",
		slog.String("node_id", nodeID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// LogToolCall logs a tool invocation. Tool errors are logged at warn level
// since they are reported back to the model rather than failing the run.
func LogToolCall(logger *slog.Logger, tool, callID string, durationMs float64, err error) {
	if logger == nil {
		return
	}
	if err != nil {
		logger.Warn("tool call failed",
			slog.String("tool", tool),
			slog.String("call_id", callID),
			slog.Float64("duration_ms", durationMs),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Debug("tool call completed",
		slog.String("tool", tool),
		slog.String("call_id", callID),
		slog.Float64("duration_ms", durationMs),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
