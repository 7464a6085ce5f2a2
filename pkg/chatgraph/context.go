package chatgraph

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/randalmurphal/chatgraph/pkg/chatgraph/llm"
)

// Context provides execution context to nodes and routers.
// It extends context.Context with run metadata and the chunk channel used
// for token streaming.
//
// Context is immutable after creation. The executor creates derived contexts
// for each node with updated NodeID, Step, and an enriched logger.
type Context interface {
	context.Context

	// Logger returns the configured logger, enriched with thread, run, node, and step.
	// Never returns nil - defaults to slog.Default() if not configured.
	Logger() *slog.Logger

	// ThreadID returns the conversation thread, or "" for runs without one.
	ThreadID() string

	// RunID returns the unique identifier for this invocation.
	RunID() string

	// NodeID returns the current node being executed.
	NodeID() string

	// Step returns the thread-wide index of the current step.
	Step() int

	// EmitChunk forwards a model output fragment to a stream consumer in
	// messages mode. It is a no-op when nobody is listening and returns
	// ErrStreamStopped once the consumer has stopped reading.
	EmitChunk(chunk llm.Chunk) error

	// StreamsMessages reports whether emitted chunks reach a consumer.
	// Model nodes use it to pick between streaming and one-shot generation.
	StreamsMessages() bool
}

// ChunkHandler receives chunks emitted by a node.
type ChunkHandler func(nodeID string, step int, chunk llm.Chunk) error

// executionContext is the internal implementation of Context.
type executionContext struct {
	context.Context

	logger   *slog.Logger
	threadID string
	runID    string
	nodeID   string
	step     int
	chunks   ChunkHandler
}

// Logger returns the configured logger.
func (c *executionContext) Logger() *slog.Logger {
	return c.logger
}

// ThreadID returns the thread identifier.
func (c *executionContext) ThreadID() string {
	return c.threadID
}

// RunID returns the run identifier.
func (c *executionContext) RunID() string {
	return c.runID
}

// NodeID returns the current node identifier.
func (c *executionContext) NodeID() string {
	return c.nodeID
}

// Step returns the current step index.
func (c *executionContext) Step() int {
	return c.step
}

// EmitChunk forwards a chunk to the handler, if any.
func (c *executionContext) EmitChunk(chunk llm.Chunk) error {
	if c.chunks == nil {
		return nil
	}
	return c.chunks(c.nodeID, c.step, chunk)
}

// StreamsMessages reports whether a chunk handler is attached.
func (c *executionContext) StreamsMessages() bool {
	return c.chunks != nil
}

// ContextOption configures a Context created with NewContext.
type ContextOption func(*executionContext)

// WithContextLogger sets the logger for the context.
func WithContextLogger(logger *slog.Logger) ContextOption {
	return func(c *executionContext) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithContextThreadID sets the thread identifier for the context.
func WithContextThreadID(id string) ContextOption {
	return func(c *executionContext) {
		c.threadID = id
	}
}

// WithContextNodeID sets the node identifier for the context.
func WithContextNodeID(id string) ContextOption {
	return func(c *executionContext) {
		c.nodeID = id
	}
}

// WithChunkHandler receives chunks emitted through EmitChunk.
func WithChunkHandler(h ChunkHandler) ContextOption {
	return func(c *executionContext) {
		c.chunks = h
	}
}

// NewContext creates a standalone Context, mainly for calling node
// functions directly in tests or custom drivers. Graph runs create their
// own contexts.
//
// Example:
//
//	ctx := chatgraph.NewContext(context.Background(),
//	    chatgraph.WithContextThreadID("thread-1"))
//	update, err := node(ctx, state)
func NewContext(ctx context.Context, opts ...ContextOption) Context {
	ec := &executionContext{
		Context: ctx,
		logger:  slog.Default(),
		runID:   uuid.NewString(),
	}

	for _, opt := range opts {
		opt(ec)
	}

	return ec
}

// forNode returns a derived context for one step of the given node.
func (c *executionContext) forNode(ctx context.Context, nodeID string, step int) *executionContext {
	return &executionContext{
		Context:  ctx,
		logger:   c.logger.With("node_id", nodeID, "step", step),
		threadID: c.threadID,
		runID:    c.runID,
		nodeID:   nodeID,
		step:     step,
		chunks:   c.chunks,
	}
}
