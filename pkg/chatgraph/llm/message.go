// Package llm defines the conversation model shared by graphs and model
// providers: messages, tool calls, tool declarations, and the Model capability.
package llm

import (
	"encoding/json"
	"strings"
)

// Role identifies the message sender.
type Role string

// Standard message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"

	// RoleRemove marks a removal request rather than a transcript entry.
	// Messages with this role are consumed by the messages reducer and never
	// appear in a merged transcript.
	RoleRemove Role = "remove"
)

// RemoveAll is the ID of a removal marker that clears the whole transcript.
const RemoveAll = "__remove_all__"

// Message is a single transcript entry.
type Message struct {
	ID      string `json:"id,omitempty"`
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`

	// ToolCalls are the invocations requested by an assistant message.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and Name are set on tool results.
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`

	// IsError marks a tool result carrying an error payload.
	IsError bool `json:"is_error,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Args decodes the call arguments into a map.
// Empty arguments decode to an empty map.
func (c ToolCall) Args() (map[string]any, error) {
	args := map[string]any{}
	if len(c.Arguments) == 0 {
		return args, nil
	}
	if err := json.Unmarshal(c.Arguments, &args); err != nil {
		return nil, err
	}
	return args, nil
}

// ToolSpec declares a tool to the model.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"` // JSON Schema
}

// Chunk is a piece of a streaming model response.
type Chunk struct {
	Content string `json:"content,omitempty"`
	Done    bool   `json:"done,omitempty"`
}

// User creates a user message.
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Assistant creates an assistant message, optionally requesting tool calls.
func Assistant(content string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// System creates a system message.
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// ToolResult creates a tool result answering the given call.
func ToolResult(call ToolCall, content string) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		Name:       call.Name,
	}
}

// ToolError creates a tool result carrying an error payload.
func ToolError(call ToolCall, content string) Message {
	m := ToolResult(call, content)
	m.IsError = true
	return m
}

// Remove creates a marker that deletes the message with the given ID.
func Remove(id string) Message {
	return Message{ID: id, Role: RoleRemove}
}

// HasToolCalls reports whether the message requests tool invocations.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// IsRemoval reports whether the message is a removal marker.
func (m Message) IsRemoval() bool {
	return m.Role == RoleRemove
}

// Last returns the final message of a transcript.
func Last(messages []Message) (Message, bool) {
	if len(messages) == 0 {
		return Message{}, false
	}
	return messages[len(messages)-1], true
}

// Transcript renders messages as "role: content" lines.
// Used for summarization prompts and debugging output.
func Transcript(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(string(m.Role))
		if m.Name != "" {
			b.WriteString("(" + m.Name + ")")
		}
		b.WriteString(": ")
		b.WriteString(m.Content)
		for _, tc := range m.ToolCalls {
			b.WriteString(" [call " + tc.Name + " " + string(tc.Arguments) + "]")
		}
		b.WriteString("\n")
	}
	return b.String()
}
