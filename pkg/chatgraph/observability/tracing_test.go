package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func attributeKey(k string) attribute.Key {
	return attribute.Key(k)
}

// setupTracingTest creates a test tracer provider with an in-memory span recorder.
func setupTracingTest(t *testing.T) *tracetest.InMemoryExporter {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	originalProvider := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	// Update the package-level tracer
	tracer = otel.Tracer("chatgraph")

	t.Cleanup(func() {
		otel.SetTracerProvider(originalProvider)
		tracer = otel.Tracer("chatgraph")
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down tracer provider: %v", err)
		}
	})

	return exporter
}

func spanAttr(s tracetest.SpanStub, key string) attribute.Value {
	for _, attr := range s.Attributes {
		if string(attr.Key) == key {
			return attr.Value
		}
	}
	return attribute.Value{}
}

func TestStartRunSpan(t *testing.T) {
	exporter := setupTracingTest(t)

	_, span := StartRunSpan(context.Background(), "chat", "thread-1", "run-123")
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "chatgraph.run", spans[0].Name)
	assert.Equal(t, "chat", spanAttr(spans[0], "graph.name").AsString())
	assert.Equal(t, "thread-1", spanAttr(spans[0], "thread.id").AsString())
	assert.Equal(t, "run-123", spanAttr(spans[0], "run.id").AsString())
}

func TestSpanManager_NodeSpanIsChildOfRun(t *testing.T) {
	exporter := setupTracingTest(t)
	sm := NewSpanManager()

	ctx, runSpan := sm.StartRunSpan(context.Background(), "chat", "thread-1", "run-1")
	_, nodeSpan := sm.StartNodeSpan(ctx, "model", 3)
	sm.EndSpanWithError(nodeSpan, nil)
	sm.EndSpanWithError(runSpan, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	var node *tracetest.SpanStub
	for i := range spans {
		if spans[i].Name == "chatgraph.node.model" {
			node = &spans[i]
		}
	}
	require.NotNil(t, node)
	assert.True(t, node.Parent.IsValid())
	assert.Equal(t, int64(3), spanAttr(*node, "step").AsInt64())
}

func TestStartToolSpan(t *testing.T) {
	exporter := setupTracingTest(t)

	_, span := StartToolSpan(context.Background(), "search_web", "call-9")
	EndSpanWithError(span, errors.New("timeout"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "chatgraph.tool.search_web", spans[0].Name)
	assert.Equal(t, "call-9", spanAttr(spans[0], "tool.call_id").AsString())
	assert.Equal(t, codes.Error, spans[0].Status.Code)
}

func TestEndSpanWithError(t *testing.T) {
	exporter := setupTracingTest(t)

	t.Run("sets OK status for nil error", func(t *testing.T) {
		exporter.Reset()
		_, span := StartRunSpan(context.Background(), "test", "t", "run-1")
		EndSpanWithError(span, nil)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Ok, spans[0].Status.Code)
	})

	t.Run("sets Error status and records error", func(t *testing.T) {
		exporter.Reset()
		_, span := StartRunSpan(context.Background(), "test", "t", "run-2")
		EndSpanWithError(span, errors.New("something went wrong"))

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status.Code)
		assert.Equal(t, "something went wrong", spans[0].Status.Description)

		found := false
		for _, event := range spans[0].Events {
			if event.Name == "exception" {
				found = true
			}
		}
		assert.True(t, found, "Expected exception event")
	})

	t.Run("nil span does not panic", func(t *testing.T) {
		assert.NotPanics(t, func() {
			EndSpanWithError(nil, errors.New("test"))
		})
	})
}

func TestAddSpanEvent(t *testing.T) {
	exporter := setupTracingTest(t)

	ctx, span := StartRunSpan(context.Background(), "test", "t", "run-1")
	AddSpanEvent(ctx, "checkpoint.saved", attribute.Int("step", 2))
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Len(t, spans[0].Events, 1)
	assert.Equal(t, "checkpoint.saved", spans[0].Events[0].Name)

	// No span in context is a no-op
	assert.NotPanics(t, func() {
		AddSpanEvent(context.Background(), "ignored")
	})
}
