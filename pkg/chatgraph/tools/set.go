package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	cgerrors "github.com/randalmurphal/chatgraph/pkg/chatgraph/errors"
	"github.com/randalmurphal/chatgraph/pkg/chatgraph/llm"
)

// ErrUnknownTool is returned when a call names a tool not in the set.
var ErrUnknownTool = errors.New("unknown tool")

// Set is an immutable name-to-tool mapping built once per graph.
// A Set is safe for concurrent use.
type Set struct {
	tools   map[string]Tool
	schemas map[string]*gojsonschema.Schema
	order   []string
}

// NewSet builds a set from tools. Argument schemas are compiled up front so
// invalid declarations fail here rather than on the first call.
//
// Returns an error for nil tools, empty or duplicate names, and schemas that
// do not compile.
func NewSet(tools ...Tool) (*Set, error) {
	s := &Set{
		tools:   make(map[string]Tool, len(tools)),
		schemas: make(map[string]*gojsonschema.Schema, len(tools)),
	}
	for i, t := range tools {
		if t == nil {
			return nil, fmt.Errorf("tools: tool %d is nil", i)
		}
		spec := t.Spec()
		if spec.Name == "" {
			return nil, fmt.Errorf("tools: tool %d has no name", i)
		}
		if _, exists := s.tools[spec.Name]; exists {
			return nil, fmt.Errorf("tools: duplicate tool: %s", spec.Name)
		}
		if len(spec.Parameters) > 0 {
			schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(spec.Parameters))
			if err != nil {
				return nil, fmt.Errorf("tools: tool %s: invalid parameter schema: %w", spec.Name, err)
			}
			s.schemas[spec.Name] = schema
		}
		s.tools[spec.Name] = t
		s.order = append(s.order, spec.Name)
	}
	return s, nil
}

// MustSet is like NewSet but panics on error.
func MustSet(tools ...Tool) *Set {
	s, err := NewSet(tools...)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of tools.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Get returns the named tool.
func (s *Set) Get(name string) (Tool, bool) {
	if s == nil {
		return nil, false
	}
	t, ok := s.tools[name]
	return t, ok
}

// Names returns tool names in registration order.
func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Specs returns the declarations passed to the model, in registration order.
func (s *Set) Specs() []llm.ToolSpec {
	if s == nil {
		return nil
	}
	out := make([]llm.ToolSpec, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.tools[name].Spec())
	}
	return out
}

// Invoke runs a model-requested call and renders its result as text.
//
// Returns an error wrapping ErrUnknownTool for names not in the set, a
// *cgerrors.ArgumentError when the arguments do not decode or fail schema
// validation, and otherwise whatever the tool returned.
func (s *Set) Invoke(ctx context.Context, call llm.ToolCall) (string, error) {
	t, ok := s.Get(call.Name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	args, err := call.Args()
	if err != nil {
		return "", &cgerrors.ArgumentError{Tool: call.Name, Message: "arguments are not a JSON object: " + err.Error()}
	}
	if err := s.validate(call.Name, args); err != nil {
		return "", err
	}

	result, err := t.Invoke(ctx, args)
	if err != nil {
		return "", err
	}
	return Render(result)
}

func (s *Set) validate(name string, args map[string]any) error {
	schema, ok := s.schemas[name]
	if !ok {
		return nil
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return &cgerrors.ArgumentError{Tool: name, Message: err.Error()}
	}
	if result.Valid() {
		return nil
	}

	problems := result.Errors()
	if len(problems) == 1 {
		return &cgerrors.ArgumentError{Tool: name, Field: problems[0].Field(), Message: problems[0].Description()}
	}
	msgs := make([]string, 0, len(problems))
	for _, p := range problems {
		msgs = append(msgs, p.String())
	}
	return &cgerrors.ArgumentError{Tool: name, Message: strings.Join(msgs, "; ")}
}

// Render converts a tool result to message content.
func Render(result any) (string, error) {
	switch v := result.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("render tool result: %w", err)
	}
	return string(raw), nil
}
