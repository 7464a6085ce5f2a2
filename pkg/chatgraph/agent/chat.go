package agent

import (
	"math"

	"github.com/randalmurphal/chatgraph/pkg/chatgraph"
	cgerrors "github.com/randalmurphal/chatgraph/pkg/chatgraph/errors"
	"github.com/randalmurphal/chatgraph/pkg/chatgraph/llm"
	"github.com/randalmurphal/chatgraph/pkg/chatgraph/observability"
	"github.com/randalmurphal/chatgraph/pkg/chatgraph/tools"
)

// Node names used by NewChatGraph.
const (
	NodeCheckLength = "check_len"
	NodeSummarize   = "summarize"
	NodeModel       = "model"
	NodeTools       = "tools"
)

// ChatOption configures NewChatGraph.
type ChatOption func(*chatConfig)

type chatConfig struct {
	threshold   int
	keepLastN   int
	retry       *cgerrors.RetryConfig
	metrics     observability.MetricsRecorder
	modelOpts   []ModelOption
	messageOpts []chatgraph.MessagesOption
}

// WithThreshold sets the conversation length above which the graph
// summarizes before calling the model. Zero or less disables
// summarization. Default: DefaultThreshold.
func WithThreshold(n int) ChatOption {
	return func(c *chatConfig) {
		c.threshold = n
	}
}

// WithKeep sets how many trailing messages survive summarization.
// Default: DefaultKeepLastN.
func WithKeep(n int) ChatOption {
	return func(c *chatConfig) {
		if n > 0 {
			c.keepLastN = n
		}
	}
}

// WithModelRetry retries transient failures of model and summary calls.
func WithModelRetry(cfg cgerrors.RetryConfig) ChatOption {
	return func(c *chatConfig) {
		c.retry = &cfg
	}
}

// WithMetrics records tool invocations.
func WithMetrics(m observability.MetricsRecorder) ChatOption {
	return func(c *chatConfig) {
		c.metrics = m
	}
}

// WithModelOptions passes options to the model node.
func WithModelOptions(opts ...ModelOption) ChatOption {
	return func(c *chatConfig) {
		c.modelOpts = append(c.modelOpts, opts...)
	}
}

// WithMessageOptions configures the messages field of the schema.
func WithMessageOptions(opts ...chatgraph.MessagesOption) ChatOption {
	return func(c *chatConfig) {
		c.messageOpts = append(c.messageOpts, opts...)
	}
}

// NewChatGraph builds the assistant graph over ChatSchema:
//
//	START --> check_len --(> threshold)--> summarize --> model
//	          check_len --(otherwise)----> model
//	model --(tool calls)--> tools --> model
//	model --(no tool calls)--> END
//
// The model node tracks user preferences and sees the running summary.
func NewChatGraph(model llm.Model, set *tools.Set, opts ...ChatOption) *chatgraph.Graph {
	cfg := chatConfig{threshold: DefaultThreshold, keepLastN: DefaultKeepLastN}
	for _, opt := range opts {
		opt(&cfg)
	}

	modelOpts := []ModelOption{WithTools(set), WithPreferences()}
	summaryOpts := []SummaryOption{WithKeepLastN(cfg.keepLastN)}
	if cfg.retry != nil {
		modelOpts = append(modelOpts, WithRetry(*cfg.retry))
		summaryOpts = append(summaryOpts, WithSummaryRetry(*cfg.retry))
	}
	modelOpts = append(modelOpts, cfg.modelOpts...)

	var toolOpts []ToolOption
	if cfg.metrics != nil {
		toolOpts = append(toolOpts, WithToolMetrics(cfg.metrics))
	}

	threshold := cfg.threshold
	if threshold <= 0 {
		threshold = math.MaxInt
	}

	g := chatgraph.NewGraph(ChatSchema(cfg.messageOpts...))
	g.AddNode(NodeCheckLength, CheckLengthNode).
		AddNode(NodeSummarize, SummarizeNode(model, summaryOpts...)).
		AddNode(NodeModel, ModelNode(model, modelOpts...)).
		AddNode(NodeTools, ToolNode(set, toolOpts...)).
		AddEdge(chatgraph.START, NodeCheckLength).
		AddConditionalEdge(NodeCheckLength, LengthRouter(threshold), map[string]string{
			LabelSummarize: NodeSummarize,
			LabelModel:     NodeModel,
		}).
		DeclareLabels(NodeCheckLength, LabelSummarize, LabelModel).
		AddEdge(NodeSummarize, NodeModel).
		AddConditionalEdge(NodeModel, ToolsCondition, map[string]string{
			LabelTools:    NodeTools,
			chatgraph.END: chatgraph.END,
		}).
		DeclareLabels(NodeModel, LabelTools, chatgraph.END).
		AddEdge(NodeTools, NodeModel)
	return g
}
