package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestNoopMetrics(t *testing.T) {
	ctx := context.Background()
	m := NoopMetrics{}

	assert.NotPanics(t, func() {
		m.RecordNodeExecution(ctx, "n", time.Second, errors.New("x"))
		m.RecordRun(ctx, false, time.Second, 3)
		m.RecordCheckpoint(ctx, "n", 10)
		m.RecordToolInvocation(ctx, "t", time.Second, nil)
	})
}

func TestNoopSpanManager(t *testing.T) {
	ctx := context.Background()
	sm := NoopSpanManager{}

	runCtx, span := sm.StartRunSpan(ctx, "g", "t", "r")
	assert.Equal(t, ctx, runCtx)
	assert.False(t, span.IsRecording())

	nodeCtx, span := sm.StartNodeSpan(ctx, "n", 1)
	assert.Equal(t, ctx, nodeCtx)
	assert.False(t, span.SpanContext().IsValid())

	assert.NotPanics(t, func() {
		sm.EndSpanWithError(span, errors.New("x"))
		sm.AddSpanEvent(ctx, "event", attribute.String("k", "v"))
	})
}
