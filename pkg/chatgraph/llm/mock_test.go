package llm_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/chatgraph/pkg/chatgraph/llm"
)

func TestMockModel_SequentialReplies(t *testing.T) {
	mock := llm.NewMockText("first", "second")

	for _, want := range []string{"first", "second", "first"} {
		reply, err := mock.Generate(context.Background(), nil, nil)
		require.NoError(t, err)
		assert.Equal(t, want, reply.Content)
		assert.Equal(t, llm.RoleAssistant, reply.Role)
	}
}

func TestMockModel_EmptyScript(t *testing.T) {
	reply, err := llm.NewMockModel().Generate(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, llm.RoleAssistant, reply.Role)
	assert.Empty(t, reply.Content)
}

func TestMockModel_ToolCallReply(t *testing.T) {
	call := llm.ToolCall{ID: "call-1", Name: "get_current_datetime"}
	mock := llm.NewMockModel(llm.Assistant("", call), llm.Assistant("It is noon."))

	reply, err := mock.Generate(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.True(t, reply.HasToolCalls())
	assert.Equal(t, "get_current_datetime", reply.ToolCalls[0].Name)
}

func TestMockModel_WithError(t *testing.T) {
	expected := errors.New("quota exceeded")
	mock := llm.NewMockText("unused").WithError(expected)

	_, err := mock.Generate(context.Background(), nil, nil)
	assert.Equal(t, expected, err)
	assert.Equal(t, 1, mock.CallCount())
}

func TestMockModel_CallTracking(t *testing.T) {
	mock := llm.NewMockText("ok")
	tools := []llm.ToolSpec{{Name: "read_file"}}

	assert.Nil(t, mock.LastCall())

	_, _ = mock.Generate(context.Background(), []llm.Message{llm.User("first")}, nil)
	_, _ = mock.Generate(context.Background(), []llm.Message{llm.User("second")}, tools)

	assert.Equal(t, 2, mock.CallCount())
	assert.Equal(t, "first", mock.Calls[0].Messages[0].Content)

	last := mock.LastCall()
	require.NotNil(t, last)
	assert.Equal(t, "second", last.Messages[0].Content)
	assert.Equal(t, tools, last.Tools)
	assert.False(t, last.Streamed)
}

func TestMockModel_RecordsCopies(t *testing.T) {
	mock := llm.NewMockText("ok")
	msgs := []llm.Message{llm.User("original")}

	_, _ = mock.Generate(context.Background(), msgs, nil)
	msgs[0].Content = "changed"

	assert.Equal(t, "original", mock.Calls[0].Messages[0].Content)
}

func TestMockModel_Reset(t *testing.T) {
	mock := llm.NewMockText("a", "b")
	_, _ = mock.Generate(context.Background(), nil, nil)

	mock.Reset()
	assert.Zero(t, mock.CallCount())

	reply, _ := mock.Generate(context.Background(), nil, nil)
	assert.Equal(t, "a", reply.Content)
}

func TestMockModel_ReplyFunc(t *testing.T) {
	mock := llm.NewMockModel().WithReplyFunc(func(_ context.Context, msgs []llm.Message, _ []llm.ToolSpec) (llm.Message, error) {
		last, _ := llm.Last(msgs)
		return llm.Assistant("Echo: " + last.Content), nil
	})

	reply, err := mock.Generate(context.Background(), []llm.Message{llm.User("test")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Echo: test", reply.Content)
}

func TestMockModel_Stream(t *testing.T) {
	mock := llm.NewMockText("streaming  response\nhere")

	var chunks []llm.Chunk
	reply, err := mock.GenerateStream(context.Background(), nil, nil, func(c llm.Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "streaming  response\nhere", reply.Content)

	require.Len(t, chunks, 4)
	assert.True(t, chunks[3].Done)

	var joined strings.Builder
	for _, c := range chunks {
		joined.WriteString(c.Content)
	}
	assert.Equal(t, reply.Content, joined.String())
	assert.True(t, mock.LastCall().Streamed)
}

func TestMockModel_StreamAbort(t *testing.T) {
	stop := errors.New("stop")
	mock := llm.NewMockText("one two three")

	seen := 0
	_, err := mock.GenerateStream(context.Background(), nil, nil, func(llm.Chunk) error {
		seen++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, seen)
}

func TestMockModel_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := llm.NewMockText("x").Generate(ctx, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
