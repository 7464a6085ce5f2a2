package chatgraph

import (
	"context"
	"fmt"

	"github.com/randalmurphal/chatgraph/pkg/chatgraph/llm"
)

// Test keys used across tests.
var (
	countKey    = NewKey[int]("count")
	progressKey = NewKey[[]string]("progress")
	messagesKey = NewKey[[]llm.Message]("messages")
	marksKey    = NewKey[int]("marks")
	resultKey   = NewKey[string]("result")
)

// testSchema declares every test key.
func testSchema() *Schema {
	return NewSchema(
		Scalar(countKey),
		Appender(progressKey),
		Messages(messagesKey, WithMessageIDs(sequentialIDs())),
		Scalar(marksKey),
		Scalar(resultKey),
	)
}

// sequentialIDs returns a deterministic message ID generator.
func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("msg-%d", n)
	}
}

// Helper node functions

// increment is a node that increments the counter.
func increment(_ Context, s State) (Update, error) {
	return Update{countKey.Set(countKey.Value(s) + 1)}, nil
}

// noop returns an empty update.
func noop(_ Context, _ State) (Update, error) {
	return nil, nil
}

// makeTrackingNode creates a node that records its execution.
func makeTrackingNode(name string, tracker *[]string) NodeFunc {
	return func(_ Context, _ State) (Update, error) {
		*tracker = append(*tracker, name)
		return Update{Append(progressKey, name)}, nil
	}
}

// makeFailingNode creates a node that returns the given error.
func makeFailingNode(err error) NodeFunc {
	return func(_ Context, _ State) (Update, error) {
		return nil, err
	}
}

// makePanicNode creates a node that panics with the given value.
func makePanicNode(value any) NodeFunc {
	return func(_ Context, _ State) (Update, error) {
		panic(value)
	}
}

// makeChattyNode creates a node that streams its reply word by word.
func makeChattyNode(words ...string) NodeFunc {
	return func(ctx Context, _ State) (Update, error) {
		content := ""
		for _, w := range words {
			if err := ctx.EmitChunk(llm.Chunk{Content: w}); err != nil {
				return nil, err
			}
			content += w
		}
		return Update{Append(messagesKey, llm.Assistant(content))}, nil
	}
}

// constRouter always returns label.
func constRouter(label string) RouterFunc {
	return func(_ Context, _ State) string {
		return label
	}
}

// linearGraph builds inc1 -> inc2 -> inc3 -> END.
func linearGraph() *Graph {
	return NewGraph(testSchema()).
		AddNode("inc1", increment).
		AddNode("inc2", increment).
		AddNode("inc3", increment).
		AddEdge(START, "inc1").
		AddEdge("inc1", "inc2").
		AddEdge("inc2", "inc3").
		AddEdge("inc3", END)
}

// bg returns a background context.
func bg() context.Context {
	return context.Background()
}
