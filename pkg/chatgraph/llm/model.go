package llm

import (
	"context"
	"errors"
	"fmt"
)

// Model is the language model capability consumed by graph nodes.
// The returned message may carry tool calls instead of, or alongside, text.
//
// Implementations are constructed once by the caller, shared across many
// invocations, and released with Close when they hold resources.
type Model interface {
	Generate(ctx context.Context, messages []Message, tools []ToolSpec) (Message, error)
}

// StreamingModel is a Model that can deliver its reply incrementally.
// onChunk is called for every text fragment; returning an error aborts the
// stream. The assembled message is returned when the stream completes.
type StreamingModel interface {
	Model
	GenerateStream(ctx context.Context, messages []Message, tools []ToolSpec, onChunk func(Chunk) error) (Message, error)
}

// ErrEmptyResponse indicates the provider returned no candidate message.
var ErrEmptyResponse = errors.New("model returned no response")

// Error wraps a provider failure with retry information.
type Error struct {
	// Op is the provider operation ("generate", "stream").
	Op string
	// Err is the underlying error.
	Err error
	// Retryable is true for transient failures (rate limits, timeouts).
	Retryable bool
}

// NewError creates a provider error.
func NewError(op string, err error, retryable bool) *Error {
	return &Error{Op: op, Err: err, Retryable: retryable}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("llm %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}
