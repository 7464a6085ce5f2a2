package chatgraph

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/randalmurphal/chatgraph/pkg/chatgraph/llm"
)

// Kind identifies how a field merges updates.
type Kind int

// Field kinds.
const (
	KindScalar Kind = iota
	KindAppend
	KindMessages
	KindCustom
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindAppend:
		return "append"
	case KindMessages:
		return "messages"
	case KindCustom:
		return "custom"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Field declares one state field and its merge rule.
// Build fields with Scalar, Appender, Messages, or Reduce.
type Field interface {
	Name() string
	Kind() Kind

	merge(current any, present bool, update any) (any, error)
	decode(raw json.RawMessage) (any, error)
	clone(v any) any
}

// ReduceFunc combines the current value of a field with an update.
// present is false when the field is unset.
type ReduceFunc[T any] func(current T, present bool, update T) (T, error)

type field[T any] struct {
	name   string
	kind   Kind
	reduce ReduceFunc[T]
	// detach copies a value away from the state it was read from; nil shares it.
	detach func(T) T
}

func (f *field[T]) Name() string { return f.name }
func (f *field[T]) Kind() Kind   { return f.kind }

func (f *field[T]) merge(current any, present bool, update any) (any, error) {
	var upd T
	if update != nil {
		v, ok := update.(T)
		if !ok {
			return nil, fmt.Errorf("%w: want %T, got %T", ErrFieldType, upd, update)
		}
		upd = v
	}

	var cur T
	if present {
		v, ok := current.(T)
		if !ok {
			return nil, fmt.Errorf("%w: current value is %T, want %T", ErrFieldType, current, cur)
		}
		cur = v
	}

	return f.reduce(cur, present, upd)
}

func (f *field[T]) clone(v any) any {
	if f.detach == nil {
		return v
	}
	typed, ok := v.(T)
	if !ok {
		return v
	}
	return f.detach(typed)
}

func (f *field[T]) decode(raw json.RawMessage) (any, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Scalar declares a field whose updates overwrite the current value.
func Scalar[T any](k Key[T]) Field {
	return &field[T]{
		name: k.name,
		kind: KindScalar,
		reduce: func(_ T, _ bool, update T) (T, error) {
			return update, nil
		},
	}
}

// Appender declares a sequence field whose updates append their items,
// preserving the prior order followed by the update order.
func Appender[E any](k Key[[]E]) Field {
	return &field[[]E]{
		name: k.name,
		kind: KindAppend,
		reduce: func(current []E, _ bool, update []E) ([]E, error) {
			out := make([]E, 0, len(current)+len(update))
			out = append(out, current...)
			return append(out, update...), nil
		},
		detach: func(v []E) []E { return slices.Clone(v) },
	}
}

// Reduce declares a field with a caller-supplied merge rule.
func Reduce[T any](k Key[T], fn ReduceFunc[T]) Field {
	if fn == nil {
		panic("chatgraph: reduce function cannot be nil")
	}
	return &field[T]{name: k.name, kind: KindCustom, reduce: fn}
}

// MessagesOption configures a messages field.
type MessagesOption func(*messagesReducer)

// WithMessageIDs sets the generator used for messages merged without an ID.
// Default: random UUIDs.
func WithMessageIDs(next func() string) MessagesOption {
	return func(r *messagesReducer) {
		r.newID = next
	}
}

// Messages declares a transcript field.
//
// Merging appends new messages in order, with these rules:
//   - a message without an ID is assigned one;
//   - a message whose ID is already present replaces it in place;
//   - a removal marker (llm.Remove) deletes the message with that ID, and
//     removing an ID that is not present is an error;
//   - a removal marker with ID llm.RemoveAll clears the transcript.
func Messages(k Key[[]llm.Message], opts ...MessagesOption) Field {
	r := &messagesReducer{newID: func() string { return uuid.NewString() }}
	for _, opt := range opts {
		opt(r)
	}
	return &field[[]llm.Message]{
		name:   k.name,
		kind:   KindMessages,
		reduce: r.reduce,
		detach: cloneMessages,
	}
}

// cloneMessages copies a transcript down to the tool-call arguments.
func cloneMessages(msgs []llm.Message) []llm.Message {
	if msgs == nil {
		return nil
	}
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		if m.ToolCalls != nil {
			calls := make([]llm.ToolCall, len(m.ToolCalls))
			for j, c := range m.ToolCalls {
				c.Arguments = slices.Clone(c.Arguments)
				calls[j] = c
			}
			m.ToolCalls = calls
		}
		out[i] = m
	}
	return out
}

type messagesReducer struct {
	newID func() string
}

func (r *messagesReducer) reduce(current []llm.Message, _ bool, update []llm.Message) ([]llm.Message, error) {
	out := slices.Clone(current)
	if out == nil {
		out = []llm.Message{}
	}

	index := make(map[string]int, len(out))
	for i, m := range out {
		if m.ID != "" {
			index[m.ID] = i
		}
	}
	removed := make(map[int]bool)

	for _, m := range update {
		if m.IsRemoval() {
			if m.ID == llm.RemoveAll {
				out = out[:0]
				index = map[string]int{}
				removed = map[int]bool{}
				continue
			}
			pos, ok := index[m.ID]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, m.ID)
			}
			removed[pos] = true
			delete(index, m.ID)
			continue
		}

		if m.ID == "" {
			m.ID = r.newID()
		}
		if pos, ok := index[m.ID]; ok {
			out[pos] = m
			continue
		}
		index[m.ID] = len(out)
		out = append(out, m)
	}

	if len(removed) == 0 {
		return out, nil
	}
	kept := make([]llm.Message, 0, len(out)-len(removed))
	for i, m := range out {
		if !removed[i] {
			kept = append(kept, m)
		}
	}
	return kept, nil
}
