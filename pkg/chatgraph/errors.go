package chatgraph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors for graph building and compilation.
var (
	// ErrNoEntryPoint indicates SetEntry() was not called before Compile().
	ErrNoEntryPoint = errors.New("entry point not set")

	// ErrEntryNotFound indicates the entry point references a non-existent node.
	ErrEntryNotFound = errors.New("entry point node not found")

	// ErrNodeNotFound indicates an edge references a non-existent node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrDuplicateNode indicates a node name was registered twice.
	ErrDuplicateNode = errors.New("duplicate node")

	// ErrConflictingEdges indicates a node has more than one outgoing edge
	// definition.
	ErrConflictingEdges = errors.New("conflicting outgoing edges")

	// ErrUndeclaredRoute indicates a label declared with DeclareLabels has no
	// entry in the route map.
	ErrUndeclaredRoute = errors.New("declared label has no route")
)

// Sentinel errors for execution.
var (
	// ErrNilContext indicates a run was started with a nil context.
	ErrNilContext = errors.New("context cannot be nil")

	// ErrUnknownLabel indicates a router returned a label missing from its route map.
	ErrUnknownLabel = errors.New("router returned unknown label")

	// ErrStepLimitExceeded indicates a run executed more steps than allowed.
	ErrStepLimitExceeded = errors.New("step limit exceeded")

	// ErrStreamConsumed indicates a stream was iterated more than once.
	ErrStreamConsumed = errors.New("stream already consumed")

	// ErrStreamStopped is returned by Context.EmitChunk after the stream
	// consumer stopped reading.
	ErrStreamStopped = errors.New("stream consumer stopped")
)

// Sentinel errors for state merges.
var (
	// ErrUnknownField indicates an update names a field missing from the schema.
	ErrUnknownField = errors.New("unknown state field")

	// ErrFieldType indicates an update value has the wrong type for its field.
	ErrFieldType = errors.New("wrong value type for field")

	// ErrMessageNotFound indicates a removal marker names an absent message ID.
	ErrMessageNotFound = errors.New("message to remove not found")
)

// Sentinel errors for checkpointing and resume.
var (
	// ErrThreadIDRequired indicates a checkpointer is attached but no thread ID was given.
	ErrThreadIDRequired = errors.New("thread ID required for checkpointing")

	// ErrNoCheckpointer indicates a thread operation on a graph compiled without a checkpointer.
	ErrNoCheckpointer = errors.New("graph compiled without checkpointer")

	// ErrNoCheckpoints indicates no checkpoints exist for the thread.
	ErrNoCheckpoints = errors.New("no checkpoints found for thread")

	// ErrInvalidResumeNode indicates the checkpointed next node doesn't exist in the graph.
	ErrInvalidResumeNode = errors.New("invalid resume node")
)

// GraphValidationError lists every structural problem found by Compile.
// errors.Is matches against each contained error.
type GraphValidationError struct {
	Errs []error
}

// Error implements the error interface.
func (e *GraphValidationError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("graph validation failed (%d problems): %s", len(e.Errs), strings.Join(msgs, "; "))
}

// Unwrap returns the contained errors for errors.Is/As support.
func (e *GraphValidationError) Unwrap() []error {
	return e.Errs
}

// DuplicateNodeError reports a node name registered more than once.
type DuplicateNodeError struct {
	NodeID string
}

// Error implements the error interface.
func (e *DuplicateNodeError) Error() string {
	return fmt.Sprintf("%v: %s", ErrDuplicateNode, e.NodeID)
}

// Unwrap returns ErrDuplicateNode for errors.Is support.
func (e *DuplicateNodeError) Unwrap() error {
	return ErrDuplicateNode
}

// CheckpointError wraps errors from checkpoint operations.
// Checkpoint failures are always fatal to the run.
type CheckpointError struct {
	// ThreadID is the thread being persisted.
	ThreadID string
	// NodeID is the node after which checkpointing failed (empty on load).
	NodeID string
	// Step is the step index being saved.
	Step int
	// Op is the operation that failed ("load", "decode", "encode", "save").
	Op string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *CheckpointError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("checkpoint %s for thread %s: %v", e.Op, e.ThreadID, e.Err)
	}
	return fmt.Sprintf("checkpoint %s for thread %s at node %s (step %d): %v", e.Op, e.ThreadID, e.NodeID, e.Step, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *CheckpointError) Unwrap() error {
	return e.Err
}

// NodeError wraps an error with node context.
// It provides information about which node failed and what operation was attempted.
type NodeError struct {
	// NodeID is the identifier of the node that failed.
	NodeID string
	// Op is the operation that failed ("execute", "merge").
	Op string
	// Err is the underlying error from the node.
	Err error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %s: %v", e.NodeID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *NodeError) Unwrap() error {
	return e.Err
}

// PanicError captures panic information from node execution.
// It includes the stack trace for debugging.
type PanicError struct {
	// NodeID is the identifier of the node that panicked.
	NodeID string
	// Value is the value passed to panic().
	Value any
	// Stack is the full stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.NodeID, e.Value)
}

// CancellationError captures the state when execution was cancelled.
// The output of a node cancelled mid-execution is discarded.
type CancellationError struct {
	// NodeID is the node that was about to execute or was executing.
	NodeID string
	// State is the last merged state.
	State State
	// Cause is the underlying cancellation cause (context.Canceled or context.DeadlineExceeded).
	Cause error
	// WasExecuting is true if cancellation occurred during node execution.
	WasExecuting bool
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	if e.WasExecuting {
		return fmt.Sprintf("cancelled during node %s: %v", e.NodeID, e.Cause)
	}
	return fmt.Sprintf("cancelled before node %s: %v", e.NodeID, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CancellationError) Unwrap() error {
	return e.Cause
}

// RoutingError reports a conditional router returning a label that is not
// in its route map. The run stops; there is no fallback route.
type RoutingError struct {
	// FromNode is the node with the conditional edge.
	FromNode string
	// Label is the value the router returned.
	Label string
	// Routes lists the labels the route map accepts.
	Routes []string
}

// Error implements the error interface.
func (e *RoutingError) Error() string {
	return fmt.Sprintf("router from %s returned %q (routes: %s): %v",
		e.FromNode, e.Label, strings.Join(e.Routes, ", "), ErrUnknownLabel)
}

// Unwrap returns ErrUnknownLabel for errors.Is support.
func (e *RoutingError) Unwrap() error {
	return ErrUnknownLabel
}

// StepLimitError provides context when a run exceeds its step limit.
// It includes the state at termination for inspection.
type StepLimitError struct {
	// Max is the configured step limit.
	Max int
	// NodeID is the node that would have executed next.
	NodeID string
	// State is the state at termination.
	State State
}

// Error implements the error interface.
func (e *StepLimitError) Error() string {
	return fmt.Sprintf("exceeded step limit (%d) at node %s", e.Max, e.NodeID)
}

// Unwrap returns ErrStepLimitExceeded for errors.Is support.
func (e *StepLimitError) Unwrap() error {
	return ErrStepLimitExceeded
}

// FieldError reports a write that could not be merged into the state.
type FieldError struct {
	// Field is the state field named by the write.
	Field string
	// Err is the underlying error (ErrUnknownField, ErrFieldType, ...).
	Err error
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q: %v", e.Field, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *FieldError) Unwrap() error {
	return e.Err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
