// Package tools provides the callable capabilities a model can request
// during a conversation, and the immutable Set a graph dispatches them from.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	cgerrors "github.com/randalmurphal/chatgraph/pkg/chatgraph/errors"
	"github.com/randalmurphal/chatgraph/pkg/chatgraph/llm"
)

// Tool is a named capability the model can invoke.
//
// Invoke receives the decoded call arguments and returns a result that is
// rendered into a tool-result message: strings are used as-is, everything
// else is JSON encoded. A returned error is reported back to the model, it
// never fails the run.
type Tool interface {
	Spec() llm.ToolSpec
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// FuncTool adapts a typed function into a Tool.
// The parameter schema is reflected from A.
type FuncTool[A any] struct {
	spec llm.ToolSpec
	fn   func(ctx context.Context, args A) (any, error)
}

// NewFuncTool creates a tool from a function taking a typed argument struct.
// Field names come from json tags, descriptions from jsonschema_description
// tags. Fields without omitempty are required.
//
// Panics if name is empty or fn is nil.
//
// Example:
//
//	type weatherArgs struct {
//	    City string `json:"city" jsonschema_description:"City name"`
//	}
//
//	weather := tools.NewFuncTool("get_weather", "Current weather for a city",
//	    func(ctx context.Context, a weatherArgs) (any, error) {
//	        return lookup(ctx, a.City)
//	    })
func NewFuncTool[A any](name, description string, fn func(ctx context.Context, args A) (any, error)) *FuncTool[A] {
	if name == "" {
		panic("tools: tool name cannot be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("tools: tool %s has nil function", name))
	}
	return &FuncTool[A]{
		spec: llm.ToolSpec{
			Name:        name,
			Description: description,
			Parameters:  SchemaFor[A](),
		},
		fn: fn,
	}
}

// Spec implements Tool.
func (t *FuncTool[A]) Spec() llm.ToolSpec {
	return t.spec
}

// Invoke implements Tool. Arguments are decoded into A through JSON.
func (t *FuncTool[A]) Invoke(ctx context.Context, args map[string]any) (any, error) {
	var typed A
	if len(args) > 0 {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, &cgerrors.ArgumentError{Tool: t.spec.Name, Message: err.Error()}
		}
		if err := json.Unmarshal(raw, &typed); err != nil {
			return nil, &cgerrors.ArgumentError{Tool: t.spec.Name, Message: err.Error()}
		}
	}
	return t.fn(ctx, typed)
}

// SchemaFor reflects the JSON Schema of an argument struct as a plain map,
// inlined and without the $schema header, ready for llm.ToolSpec.
func SchemaFor[A any]() map[string]any {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		Anonymous:      true,
	}
	var zero A
	schema := r.Reflect(&zero)

	raw, err := json.Marshal(schema)
	if err != nil {
		return emptyObject()
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return emptyObject()
	}
	delete(out, "$schema")
	delete(out, "$id")
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]any{}
	}
	return out
}

func emptyObject() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
