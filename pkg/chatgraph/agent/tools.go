package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/randalmurphal/chatgraph/pkg/chatgraph"
	"github.com/randalmurphal/chatgraph/pkg/chatgraph/llm"
	"github.com/randalmurphal/chatgraph/pkg/chatgraph/observability"
	"github.com/randalmurphal/chatgraph/pkg/chatgraph/tools"
)

// Route labels used by the prebuilt routers.
const (
	LabelTools     = "tools"
	LabelModel     = "model"
	LabelSummarize = "summarize"
)

// ToolOption configures ToolNode.
type ToolOption func(*toolConfig)

type toolConfig struct {
	metrics observability.MetricsRecorder
}

// WithToolMetrics records tool invocations.
func WithToolMetrics(m observability.MetricsRecorder) ToolOption {
	return func(c *toolConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// ToolNode returns a node that runs every tool call requested by the latest
// message, in order, and appends one tool-result message per call.
//
// Unknown tools, invalid arguments, tool failures, and tool panics become
// results with IsError set so the model can recover. Only cancellation of the run fails
// the node. A latest message without tool calls yields an empty update.
func ToolNode(set *tools.Set, opts ...ToolOption) chatgraph.NodeFunc {
	cfg := toolConfig{metrics: observability.NoopMetrics{}}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(ctx chatgraph.Context, state chatgraph.State) (chatgraph.Update, error) {
		last, ok := llm.Last(Messages.Value(state))
		if !ok || !last.HasToolCalls() {
			return nil, nil
		}

		results := make([]llm.Message, 0, len(last.ToolCalls))
		for _, call := range last.ToolCalls {
			spanCtx, span := observability.StartToolSpan(ctx, call.Name, call.ID)
			start := time.Now()

			content, err := invokeSafely(spanCtx, set, call)

			elapsed := time.Since(start)
			cfg.metrics.RecordToolInvocation(spanCtx, call.Name, elapsed, err)
			observability.EndSpanWithError(span, err)
			observability.LogToolCall(ctx.Logger(), call.Name, call.ID, float64(elapsed.Microseconds())/1000, err)

			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				results = append(results, llm.ToolError(call, "Error: "+err.Error()))
				continue
			}
			results = append(results, llm.ToolResult(call, content))
		}
		return chatgraph.Update{chatgraph.Append(Messages, results...)}, nil
	}
}

// invokeSafely runs one tool call, turning a panic into an error.
func invokeSafely(ctx context.Context, set *tools.Set, call llm.ToolCall) (content string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			content = ""
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return set.Invoke(ctx, call)
}

// ToolsCondition routes to LabelTools when the latest message requests tool
// calls and to chatgraph.END otherwise.
func ToolsCondition(_ chatgraph.Context, state chatgraph.State) string {
	last, ok := llm.Last(Messages.Value(state))
	if ok && last.HasToolCalls() {
		return LabelTools
	}
	return chatgraph.END
}

// AddToolLoop wires the model/tool cycle into g:
//
//	modelNode --(tool calls)--> toolNode --> modelNode
//	modelNode --(no tool calls)--> END
//
// The model node is built with ModelNode(model, WithTools(set), opts...).
// The caller still sets the entry point.
func AddToolLoop(g *chatgraph.Graph, modelNode, toolNode string, model llm.Model, set *tools.Set, opts ...ModelOption) *chatgraph.Graph {
	modelOpts := append([]ModelOption{WithTools(set)}, opts...)
	return g.
		AddNode(modelNode, ModelNode(model, modelOpts...)).
		AddNode(toolNode, ToolNode(set)).
		AddConditionalEdge(modelNode, ToolsCondition, map[string]string{
			LabelTools:    toolNode,
			chatgraph.END: chatgraph.END,
		}).
		AddEdge(toolNode, modelNode)
}
