package chatgraph

import (
	"context"
	"iter"
	"strings"
	"sync/atomic"

	"github.com/randalmurphal/chatgraph/pkg/chatgraph/llm"
)

// StreamMode selects which events a stream delivers.
// Modes combine with bitwise OR.
type StreamMode uint8

// Stream modes.
const (
	// ModeUpdates delivers the node name and update after every step.
	ModeUpdates StreamMode = 1 << iota
	// ModeMessages delivers model output chunks as nodes emit them.
	ModeMessages
	// ModeValues delivers the full state after every step.
	ModeValues
)

// Has reports whether m includes every mode in other.
func (m StreamMode) Has(other StreamMode) bool {
	return m&other == other
}

// String returns the mode names joined with "|".
func (m StreamMode) String() string {
	var names []string
	if m.Has(ModeUpdates) {
		names = append(names, "updates")
	}
	if m.Has(ModeMessages) {
		names = append(names, "messages")
	}
	if m.Has(ModeValues) {
		names = append(names, "values")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// StreamEvent is one item of a stream. Mode tells which fields are set:
// Update for ModeUpdates, Chunk for ModeMessages, State for ModeValues.
type StreamEvent struct {
	Mode StreamMode
	Node string
	Step int

	Update Update
	Chunk  llm.Chunk
	State  State
}

// Stream runs one turn like Invoke and yields events as they happen.
// Events of all requested modes are interleaved in emission order. A run
// error is yielded once, as the final item.
//
// Events are delivered synchronously: the run waits while the consumer
// handles each event. Breaking out of the loop stops the run before its
// next step; steps already saved stay saved.
//
// The returned sequence is single-use. Ranging over it again yields
// ErrStreamConsumed.
//
// Example:
//
//	for ev, err := range compiled.Stream(ctx, input, chatgraph.ModeUpdates|chatgraph.ModeMessages,
//	    chatgraph.WithThreadID("thread-1")) {
//	    if err != nil {
//	        return err
//	    }
//	    if ev.Mode == chatgraph.ModeMessages {
//	        fmt.Print(ev.Chunk.Content)
//	    }
//	}
func (cg *CompiledGraph) Stream(ctx context.Context, input Update, modes StreamMode, opts ...RunOption) iter.Seq2[StreamEvent, error] {
	if modes == 0 {
		modes = ModeUpdates
	}
	var consumed atomic.Bool

	return func(yield func(StreamEvent, error) bool) {
		if consumed.Swap(true) {
			yield(StreamEvent{}, ErrStreamConsumed)
			return
		}

		sink := &eventSink{modes: modes, yield: yield}
		_, err := cg.execute(ctx, input, false, newRunConfig(opts), sink)
		if err != nil && !sink.isStopped() {
			yield(StreamEvent{}, err)
		}
	}
}

// eventSink delivers stream events to a consumer.
// A nil sink accepts and drops everything.
type eventSink struct {
	modes   StreamMode
	yield   func(StreamEvent, error) bool
	stopped bool
}

func (s *eventSink) wants(m StreamMode) bool {
	return s != nil && s.modes.Has(m)
}

func (s *eventSink) isStopped() bool {
	return s != nil && s.stopped
}

func (s *eventSink) emit(ev StreamEvent) bool {
	if s == nil {
		return true
	}
	if s.stopped {
		return false
	}
	if !s.yield(ev, nil) {
		s.stopped = true
		return false
	}
	return true
}

func (s *eventSink) chunkHandler() ChunkHandler {
	return func(nodeID string, step int, chunk llm.Chunk) error {
		if !s.emit(StreamEvent{Mode: ModeMessages, Node: nodeID, Step: step, Chunk: chunk}) {
			return ErrStreamStopped
		}
		return nil
	}
}
