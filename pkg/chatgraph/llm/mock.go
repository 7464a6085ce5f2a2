package llm

import (
	"context"
	"strings"
	"sync"
)

// MockModel is a scripted Model for tests and offline demos.
// Replies are returned in order and cycle when exhausted.
// MockModel is safe for concurrent use.
type MockModel struct {
	mu      sync.Mutex
	replies []Message
	next    int
	err     error
	fn      func(ctx context.Context, messages []Message, tools []ToolSpec) (Message, error)

	// Calls records every request in order.
	Calls []MockCall
}

// MockCall is one recorded request.
type MockCall struct {
	Messages []Message
	Tools    []ToolSpec
	Streamed bool
}

// NewMockModel creates a mock that answers with the given replies in order.
// With no replies it answers with an empty assistant message.
func NewMockModel(replies ...Message) *MockModel {
	return &MockModel{replies: replies}
}

// NewMockText creates a mock that answers with plain assistant texts in order.
func NewMockText(texts ...string) *MockModel {
	replies := make([]Message, len(texts))
	for i, t := range texts {
		replies[i] = Assistant(t)
	}
	return NewMockModel(replies...)
}

// WithError makes every call fail with err.
func (m *MockModel) WithError(err error) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithReplyFunc computes replies with fn instead of the script.
func (m *MockModel) WithReplyFunc(fn func(ctx context.Context, messages []Message, tools []ToolSpec) (Message, error)) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
	return m
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, messages []Message, tools []ToolSpec) (Message, error) {
	return m.reply(ctx, messages, tools, false)
}

// GenerateStream implements StreamingModel. The reply text is delivered in
// whitespace-separated pieces followed by a Done chunk.
func (m *MockModel) GenerateStream(ctx context.Context, messages []Message, tools []ToolSpec, onChunk func(Chunk) error) (Message, error) {
	reply, err := m.reply(ctx, messages, tools, true)
	if err != nil {
		return Message{}, err
	}

	for _, piece := range splitKeepSpace(reply.Content) {
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}
		if err := onChunk(Chunk{Content: piece}); err != nil {
			return Message{}, err
		}
	}
	if err := onChunk(Chunk{Done: true}); err != nil {
		return Message{}, err
	}
	return reply, nil
}

func (m *MockModel) reply(ctx context.Context, messages []Message, tools []ToolSpec, streamed bool) (Message, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{
		Messages: append([]Message(nil), messages...),
		Tools:    append([]ToolSpec(nil), tools...),
		Streamed: streamed,
	})
	fn, err := m.fn, m.err
	var scripted Message
	if len(m.replies) > 0 {
		scripted = m.replies[m.next%len(m.replies)]
		m.next++
	} else {
		scripted = Assistant("")
	}
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if err != nil {
		return Message{}, err
	}
	if fn != nil {
		return fn(ctx, messages, tools)
	}
	return scripted, nil
}

// CallCount returns the number of requests made.
func (m *MockModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent request, or nil.
func (m *MockModel) LastCall() *MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return nil
	}
	c := m.Calls[len(m.Calls)-1]
	return &c
}

// Reset clears recorded calls and restarts the script.
func (m *MockModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.next = 0
}

// splitKeepSpace splits s after each run of whitespace, so joining the
// pieces restores s.
func splitKeepSpace(s string) []string {
	var out []string
	for len(s) > 0 {
		i := strings.IndexAny(s, " \n\t")
		if i < 0 {
			out = append(out, s)
			break
		}
		j := i + 1
		for j < len(s) && strings.ContainsRune(" \n\t", rune(s[j])) {
			j++
		}
		out = append(out, s[:j])
		s = s[j:]
	}
	return out
}
