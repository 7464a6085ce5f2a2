package chatgraph

import (
	"encoding/json"
	"fmt"
	"maps"
)

// State is the data carried between nodes, keyed by schema field name.
//
// A field that is absent from the map is unset, which is different from a
// field holding an empty value. Nodes receive State read-only; every change
// goes through an Update merged by the graph's Schema.
type State map[string]any

// Clone returns a shallow copy of the state.
func (s State) Clone() State {
	if s == nil {
		return State{}
	}
	return maps.Clone(s)
}

// Has reports whether the field is set.
func (s State) Has(field string) bool {
	_, ok := s[field]
	return ok
}

// Write is a single field assignment inside an Update.
// How Value combines with the current value depends on the field's reducer.
type Write struct {
	Field string
	Value any
}

// Update is the ordered list of writes a node returns.
// Writes are applied in order, so two writes to the same field compose.
type Update []Write

// Fields returns the distinct field names written by the update, in order.
func (u Update) Fields() []string {
	seen := make(map[string]bool, len(u))
	var names []string
	for _, w := range u {
		if !seen[w.Field] {
			seen[w.Field] = true
			names = append(names, w.Field)
		}
	}
	return names
}

// Key is a typed handle for a state field.
//
// Example:
//
//	var Marks = chatgraph.NewKey[int]("marks")
//
//	marks, ok := Marks.Get(state)
//	update := chatgraph.Update{Marks.Set(72)}
type Key[T any] struct {
	name string
}

// NewKey creates a typed handle for the named field.
func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

// Name returns the field name.
func (k Key[T]) Name() string {
	return k.name
}

// Get reads the field from the state.
// Returns false when the field is unset or holds a value of another type.
func (k Key[T]) Get(s State) (T, bool) {
	v, ok := s[k.name]
	if !ok {
		var zero T
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

// Value reads the field, returning the zero value when it is unset.
func (k Key[T]) Value(s State) T {
	v, _ := k.Get(s)
	return v
}

// Set produces a write of v to the field.
// For scalar fields this overwrites; for appending fields v holds the new items.
func (k Key[T]) Set(v T) Write {
	return Write{Field: k.name, Value: v}
}

// Append produces a write appending items to a sequence field.
func Append[E any](k Key[[]E], items ...E) Write {
	return Write{Field: k.name, Value: items}
}

// Schema declares the fields of a state and how updates merge into them.
// A Schema is immutable once built and safe for concurrent use.
type Schema struct {
	fields map[string]Field
	order  []string
}

// NewSchema builds a schema from field declarations.
//
// Panics if a field name is empty or declared twice.
func NewSchema(fields ...Field) *Schema {
	s := &Schema{fields: make(map[string]Field, len(fields))}
	for _, f := range fields {
		name := f.Name()
		if name == "" {
			panic("chatgraph: field name cannot be empty")
		}
		if _, exists := s.fields[name]; exists {
			panic(fmt.Sprintf("chatgraph: duplicate field: %s", name))
		}
		s.fields[name] = f
		s.order = append(s.order, name)
	}
	return s
}

// Fields returns the field names in declaration order.
func (s *Schema) Fields() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Field returns the declaration for a field name.
func (s *Schema) Field(name string) (Field, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// Merge applies an update to a state and returns the resulting state.
// The input state is not modified. Fields the update does not name keep
// their current value.
//
// Returns a *FieldError for writes to unknown fields or values of the wrong
// type. No partial result is returned on error.
func (s *Schema) Merge(state State, update Update) (State, error) {
	out := state.Clone()
	for _, w := range update {
		f, ok := s.fields[w.Field]
		if !ok {
			return nil, &FieldError{Field: w.Field, Err: ErrUnknownField}
		}
		current, present := out[w.Field]
		merged, err := f.merge(current, present, w.Value)
		if err != nil {
			return nil, &FieldError{Field: w.Field, Err: err}
		}
		out[w.Field] = merged
	}
	return out, nil
}

// Snapshot returns a copy of the state that shares no sequence storage
// with it: appender and messages fields are copied, so writing into a
// snapshot's slices never reaches the original. Scalar and custom fields
// are copied by value only; a map or pointer held there stays shared.
func (s *Schema) Snapshot(state State) State {
	out := make(State, len(state))
	for name, v := range state {
		if f, ok := s.fields[name]; ok {
			v = f.clone(v)
		}
		out[name] = v
	}
	return out
}

// Encode serializes the state to JSON for checkpoints.
// Only schema fields are written; unset fields stay absent.
func (s *Schema) Encode(state State) ([]byte, error) {
	out := make(map[string]any, len(state))
	for name, v := range state {
		if _, ok := s.fields[name]; !ok {
			return nil, &FieldError{Field: name, Err: ErrUnknownField}
		}
		out[name] = v
	}
	return json.Marshal(out)
}

// Decode restores a state written by Encode.
// Each field is decoded into its declared Go type.
func (s *Schema) Decode(data []byte) (State, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	state := make(State, len(raw))
	for name, msg := range raw {
		f, ok := s.fields[name]
		if !ok {
			return nil, &FieldError{Field: name, Err: ErrUnknownField}
		}
		v, err := f.decode(msg)
		if err != nil {
			return nil, &FieldError{Field: name, Err: err}
		}
		state[name] = v
	}
	return state, nil
}
