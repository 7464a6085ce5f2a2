package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/chatgraph/pkg/chatgraph"
	"github.com/randalmurphal/chatgraph/pkg/chatgraph/checkpoint"
	cgerrors "github.com/randalmurphal/chatgraph/pkg/chatgraph/errors"
	"github.com/randalmurphal/chatgraph/pkg/chatgraph/llm"
	"github.com/randalmurphal/chatgraph/pkg/chatgraph/tools"
)

var fixedNow = func() time.Time { return time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC) }

func toolCall(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func testTools(t *testing.T) *tools.Set {
	t.Helper()
	set, err := tools.NewSet(
		tools.CurrentDatetime(fixedNow),
		tools.UpdatePreferences(),
		tools.NewFuncTool("fail", "Always fails", func(context.Context, struct{}) (any, error) {
			return nil, errors.New("disk on fire")
		}),
		tools.NewFuncTool("boom", "Writes to a nil map", func(context.Context, struct{}) (any, error) {
			var counts map[string]int
			counts["calls"]++
			return counts, nil
		}),
	)
	require.NoError(t, err)
	return set
}

func toolLoopGraph(t *testing.T, model llm.Model, set *tools.Set, opts ...chatgraph.CompileOption) *chatgraph.CompiledGraph {
	t.Helper()
	g := chatgraph.NewGraph(ChatSchema())
	AddToolLoop(g, "model", "tools", model, set)
	g.AddEdge(chatgraph.START, "model")
	compiled, err := g.Compile(opts...)
	require.NoError(t, err)
	return compiled
}

// visits runs the graph in updates mode and counts node executions.
func visits(t *testing.T, compiled *chatgraph.CompiledGraph, input chatgraph.Update) map[string]int {
	t.Helper()
	counts := map[string]int{}
	for ev, err := range compiled.Stream(context.Background(), input, chatgraph.ModeUpdates) {
		require.NoError(t, err)
		counts[ev.Node]++
	}
	return counts
}

func TestToolLoop_VisitCounts(t *testing.T) {
	model := llm.NewMockModel(
		llm.Assistant("", toolCall("c1", tools.NameCurrentDatetime, `{}`)),
		llm.Assistant("It is noon."),
	)
	compiled := toolLoopGraph(t, model, testTools(t))

	counts := visits(t, compiled, UserInput("what time is it?"))

	assert.Equal(t, map[string]int{"model": 2, "tools": 1}, counts)
}

func TestToolLoop_Transcript(t *testing.T) {
	model := llm.NewMockModel(
		llm.Assistant("", toolCall("c1", tools.NameCurrentDatetime, `{}`)),
		llm.Assistant("It is noon."),
	)
	compiled := toolLoopGraph(t, model, testTools(t))

	state, err := compiled.Invoke(context.Background(), UserInput("what time is it?"))
	require.NoError(t, err)

	msgs := Messages.Value(state)
	require.Len(t, msgs, 4)
	assert.Equal(t, llm.RoleUser, msgs[0].Role)
	assert.True(t, msgs[1].HasToolCalls())
	assert.Equal(t, llm.RoleTool, msgs[2].Role)
	assert.Equal(t, "c1", msgs[2].ToolCallID)
	assert.Equal(t, tools.NameCurrentDatetime, msgs[2].Name)
	assert.Equal(t, "Saturday, March 14, 2026 at 12:00:00 PM", msgs[2].Content)
	assert.False(t, msgs[2].IsError)
	assert.Equal(t, "It is noon.", msgs[3].Content)

	// The second model call saw the tool result and the tool declarations.
	last := model.LastCall()
	require.NotNil(t, last)
	assert.Len(t, last.Messages, 3)
	assert.Len(t, last.Tools, 4)
}

func TestToolLoop_NoToolCallsEndsTurn(t *testing.T) {
	model := llm.NewMockText("Hi!")
	compiled := toolLoopGraph(t, model, testTools(t))

	counts := visits(t, compiled, UserInput("hello"))

	assert.Equal(t, map[string]int{"model": 1}, counts)
}

func TestToolLoop_MultipleCallsInOrder(t *testing.T) {
	model := llm.NewMockModel(
		llm.Assistant("",
			toolCall("c1", tools.NameCurrentDatetime, `{}`),
			toolCall("c2", tools.NameUpdatePrefs, `{"likes":["poetry"]}`),
		),
		llm.Assistant("Done."),
	)
	compiled := toolLoopGraph(t, model, testTools(t))

	state, err := compiled.Invoke(context.Background(), UserInput("time, and I like poetry"))
	require.NoError(t, err)

	msgs := Messages.Value(state)
	require.Len(t, msgs, 5)
	assert.Equal(t, "c1", msgs[2].ToolCallID)
	assert.Equal(t, "c2", msgs[3].ToolCallID)
	assert.Equal(t, `PREF_UPDATE:{"likes":["poetry"],"dislikes":[]}`, msgs[3].Content)
}

func TestToolLoop_RecoversFromToolErrors(t *testing.T) {
	tests := []struct {
		name    string
		call    llm.ToolCall
		content string
	}{
		{"unknown tool", toolCall("c1", "launch_rockets", `{}`), "unknown tool: launch_rockets"},
		{"invalid arguments", toolCall("c1", tools.NameUpdatePrefs, `{"likes":"poetry"}`), "invalid argument"},
		{"tool failure", toolCall("c1", "fail", `{}`), "disk on fire"},
		{"tool panic", toolCall("c1", "boom", `{}`), "Error: panic: assignment to entry in nil map"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := llm.NewMockModel(llm.Assistant("", tt.call), llm.Assistant("Sorry, that did not work."))
			compiled := toolLoopGraph(t, model, testTools(t))

			state, err := compiled.Invoke(context.Background(), UserInput("do it"))
			require.NoError(t, err)

			msgs := Messages.Value(state)
			require.Len(t, msgs, 4)
			assert.True(t, msgs[2].IsError)
			assert.Equal(t, "c1", msgs[2].ToolCallID)
			assert.Contains(t, msgs[2].Content, tt.content)
			assert.Equal(t, "Sorry, that did not work.", msgs[3].Content)
			assert.Equal(t, 2, model.CallCount())
		})
	}
}

func TestToolLoop_StepLimit(t *testing.T) {
	model := llm.NewMockModel(llm.Assistant("", toolCall("c1", tools.NameCurrentDatetime, `{}`)))
	compiled := toolLoopGraph(t, model, testTools(t))

	_, err := compiled.Invoke(context.Background(), UserInput("loop forever"), chatgraph.WithMaxSteps(6))

	var limitErr *chatgraph.StepLimitError
	require.True(t, errors.As(err, &limitErr))
	assert.ErrorIs(t, err, chatgraph.ErrStepLimitExceeded)
}

func TestToolNode_NoCalls(t *testing.T) {
	node := ToolNode(testTools(t))
	state := chatgraph.State{Messages.Name(): []llm.Message{llm.Assistant("plain")}}

	update, err := node(chatgraph.NewContext(context.Background()), state)
	require.NoError(t, err)
	assert.Empty(t, update)

	update, err = node(chatgraph.NewContext(context.Background()), chatgraph.State{})
	require.NoError(t, err)
	assert.Empty(t, update)
}

func TestToolNode_Cancelled(t *testing.T) {
	node := ToolNode(testTools(t))
	state := chatgraph.State{Messages.Name(): []llm.Message{
		llm.Assistant("", toolCall("c1", tools.NameCurrentDatetime, `{}`)),
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := node(chatgraph.NewContext(ctx), state)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestToolsCondition(t *testing.T) {
	ctx := chatgraph.NewContext(context.Background())

	withCalls := chatgraph.State{Messages.Name(): []llm.Message{
		llm.User("hi"), llm.Assistant("", toolCall("c1", "x", `{}`)),
	}}
	assert.Equal(t, LabelTools, ToolsCondition(ctx, withCalls))

	plain := chatgraph.State{Messages.Name(): []llm.Message{llm.User("hi"), llm.Assistant("hello")}}
	assert.Equal(t, chatgraph.END, ToolsCondition(ctx, plain))

	assert.Equal(t, chatgraph.END, ToolsCondition(ctx, chatgraph.State{}))
}

func TestModelNode_Prompt(t *testing.T) {
	model := llm.NewMockText("ok")
	node := ModelNode(model, WithSystemPrompt("You are helpful."))
	state := chatgraph.State{
		Messages.Name(): []llm.Message{llm.User("hi")},
		Summary.Name():  []string{"First part.", "Second part."},
	}

	update, err := node(chatgraph.NewContext(context.Background()), state)
	require.NoError(t, err)

	call := model.LastCall()
	require.NotNil(t, call)
	require.Len(t, call.Messages, 3)
	assert.Equal(t, llm.System("You are helpful."), call.Messages[0])
	assert.Equal(t, llm.System(SummaryPrefix+"First part.\nSecond part."), call.Messages[1])
	assert.Equal(t, "hi", call.Messages[2].Content)
	assert.Empty(t, call.Tools)
	assert.False(t, call.Streamed)

	require.Len(t, update, 1)
	assert.Equal(t, Messages.Name(), update[0].Field)
	assert.Equal(t, []llm.Message{llm.Assistant("ok")}, update[0].Value)
}

func TestModelNode_WithoutSummary(t *testing.T) {
	model := llm.NewMockText("ok")
	node := ModelNode(model, WithSummary(false))
	state := chatgraph.State{
		Messages.Name(): []llm.Message{llm.User("hi")},
		Summary.Name():  []string{"ignored"},
	}

	_, err := node(chatgraph.NewContext(context.Background()), state)
	require.NoError(t, err)
	assert.Len(t, model.LastCall().Messages, 1)
}

func TestModelNode_SummaryPlaceholder(t *testing.T) {
	model := llm.NewMockText("ok")
	node := ModelNode(model, WithSystemPrompt("Context: "+SummaryPlaceholder+"\nKeep {unknown} as written."))
	state := chatgraph.State{
		Messages.Name(): []llm.Message{llm.User("hi")},
		Summary.Name():  []string{"One.", "Two."},
	}

	_, err := node(chatgraph.NewContext(context.Background()), state)
	require.NoError(t, err)

	call := model.LastCall()
	require.Len(t, call.Messages, 2, "an inlined summary is not sent twice")
	assert.Equal(t, "Context: One.\nTwo.\nKeep {unknown} as written.", call.Messages[0].Content)
}

func TestModelNode_SystemPromptFunc(t *testing.T) {
	model := llm.NewMockText("ok")
	node := ModelNode(model, WithSystemPromptFunc(func(s chatgraph.State) string {
		return fmt.Sprintf("Turn %d", len(Messages.Value(s)))
	}))

	_, err := node(chatgraph.NewContext(context.Background()), chatgraph.State{
		Messages.Name(): []llm.Message{llm.User("a"), llm.Assistant("b"), llm.User("c")},
	})
	require.NoError(t, err)
	assert.Equal(t, "Turn 3", model.LastCall().Messages[0].Content)
}

func TestModelNode_Preferences(t *testing.T) {
	model := llm.NewMockText("ok")
	node := ModelNode(model, WithPreferences(), WithSystemPrompt("Known preferences:\n"+PreferencesPlaceholder))
	state := chatgraph.State{
		Messages.Name(): []llm.Message{
			llm.User("I love mysteries"),
			llm.ToolResult(toolCall("c1", tools.NameUpdatePrefs, `{}`), `PREF_UPDATE:{"likes":["mystery"],"dislikes":["romance"]}`),
		},
	}

	update, err := node(chatgraph.NewContext(context.Background()), state)
	require.NoError(t, err)

	assert.Equal(t, "Known preferences:\nLikes: mystery\nDislikes: romance", model.LastCall().Messages[0].Content)
	require.Len(t, update, 2)
	assert.Equal(t, UserPreferences.Name(), update[0].Field)
	assert.Equal(t, tools.Preferences{Likes: []string{"mystery"}, Dislikes: []string{"romance"}}, update[0].Value)
}

func TestModelNode_FailureIsNodeError(t *testing.T) {
	boom := errors.New("model unavailable")
	model := llm.NewMockModel().WithError(boom)
	compiled := toolLoopGraph(t, model, testTools(t))

	_, err := compiled.Invoke(context.Background(), UserInput("hi"))

	var nodeErr *chatgraph.NodeError
	require.True(t, errors.As(err, &nodeErr))
	assert.Equal(t, "model", nodeErr.NodeID)
	assert.ErrorIs(t, err, boom)
}

func fastRetry() cgerrors.RetryConfig {
	return cgerrors.NewRetryConfig(
		cgerrors.WithMaxAttempts(3),
		cgerrors.WithInitialBackoff(time.Millisecond),
		cgerrors.WithJitter(0),
	)
}

func TestModelNode_RetriesTransientFailures(t *testing.T) {
	attempts := 0
	model := llm.NewMockModel().WithReplyFunc(func(context.Context, []llm.Message, []llm.ToolSpec) (llm.Message, error) {
		attempts++
		if attempts < 3 {
			return llm.Message{}, llm.NewError("generate", errors.New("503 overloaded"), true)
		}
		return llm.Assistant("finally"), nil
	})
	node := ModelNode(model, WithRetry(fastRetry()))

	update, err := node(chatgraph.NewContext(context.Background()), chatgraph.State{})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []llm.Message{llm.Assistant("finally")}, update[0].Value)
}

func TestModelNode_DoesNotRetryPermanentFailures(t *testing.T) {
	model := llm.NewMockModel().WithError(llm.NewError("generate", errors.New("bad key"), false))
	node := ModelNode(model, WithRetry(fastRetry()))

	_, err := node(chatgraph.NewContext(context.Background()), chatgraph.State{})

	var catErr *cgerrors.CategorizedError
	require.True(t, errors.As(err, &catErr))
	assert.Equal(t, 1, catErr.Attempts)
	assert.Equal(t, 1, model.CallCount())
}

func TestModelNode_StreamsWhenConsumerListens(t *testing.T) {
	model := llm.NewMockText("Hello there")
	compiled := toolLoopGraph(t, model, testTools(t))

	var chunks []string
	var updates int
	for ev, err := range compiled.Stream(context.Background(), UserInput("hi"), chatgraph.ModeMessages|chatgraph.ModeUpdates) {
		require.NoError(t, err)
		switch ev.Mode {
		case chatgraph.ModeMessages:
			assert.Equal(t, "model", ev.Node)
			if !ev.Chunk.Done {
				chunks = append(chunks, ev.Chunk.Content)
			}
		case chatgraph.ModeUpdates:
			updates++
		}
	}

	assert.Equal(t, []string{"Hello ", "there"}, chunks)
	assert.Equal(t, 1, updates)
	assert.True(t, model.LastCall().Streamed)
}

func TestModelNode_NoStreamingInUpdatesMode(t *testing.T) {
	model := llm.NewMockText("Hello there")
	compiled := toolLoopGraph(t, model, testTools(t))

	for _, err := range compiled.Stream(context.Background(), UserInput("hi"), chatgraph.ModeUpdates) {
		require.NoError(t, err)
	}
	assert.False(t, model.LastCall().Streamed)
}

func TestModelNode_NilModelPanics(t *testing.T) {
	assert.Panics(t, func() { ModelNode(nil) })
	assert.Panics(t, func() { SummarizeNode(nil) })
}

func TestToolLoop_Checkpointed(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	model := llm.NewMockModel(
		llm.Assistant("", toolCall("c1", tools.NameCurrentDatetime, `{}`)),
		llm.Assistant("It is noon."),
		llm.Assistant("You asked about the time."),
	)
	compiled := toolLoopGraph(t, model, testTools(t), chatgraph.WithCheckpointer(store))
	ctx := context.Background()

	_, err := compiled.Invoke(ctx, UserInput("what time is it?"), chatgraph.WithThreadID("t1"))
	require.NoError(t, err)
	state, err := compiled.Invoke(ctx, UserInput("what did I ask?"), chatgraph.WithThreadID("t1"))
	require.NoError(t, err)

	msgs := Messages.Value(state)
	require.Len(t, msgs, 6)
	reply, ok := LastReply(state)
	require.True(t, ok)
	assert.Equal(t, "You asked about the time.", reply.Content)

	// The last call saw the whole first turn.
	assert.Len(t, model.LastCall().Messages, 5)
}
