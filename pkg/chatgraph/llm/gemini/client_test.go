package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/randalmurphal/chatgraph/pkg/chatgraph/llm"
)

func TestNew_RequiresKey(t *testing.T) {
	_, err := New(context.Background(), "")
	assert.Error(t, err)
}

func TestToContents(t *testing.T) {
	call := llm.ToolCall{ID: "c1", Name: "read_file", Arguments: json.RawMessage(`{"path":"go.mod"}`)}
	contents := toContents([]llm.Message{
		llm.System("ignored here"),
		llm.User("show go.mod"),
		llm.Assistant("Reading it.", call),
		llm.ToolResult(call, "module x"),
		llm.ToolError(llm.ToolCall{ID: "c2", Name: "search_web"}, "no API key"),
		llm.Assistant(""),
	})

	require.Len(t, contents, 4)

	assert.Equal(t, string(genai.RoleUser), contents[0].Role)
	assert.Equal(t, "show go.mod", contents[0].Parts[0].Text)

	model := contents[1]
	assert.Equal(t, string(genai.RoleModel), model.Role)
	require.Len(t, model.Parts, 2)
	assert.Equal(t, "Reading it.", model.Parts[0].Text)
	assert.Equal(t, "read_file", model.Parts[1].FunctionCall.Name)
	assert.Equal(t, "c1", model.Parts[1].FunctionCall.ID)
	assert.Equal(t, "go.mod", model.Parts[1].FunctionCall.Args["path"])

	result := contents[2].Parts[0].FunctionResponse
	assert.Equal(t, "read_file", result.Name)
	assert.Equal(t, "c1", result.ID)
	assert.Equal(t, map[string]any{"output": "module x"}, result.Response)

	failed := contents[3].Parts[0].FunctionResponse
	assert.Equal(t, map[string]any{"error": "no API key"}, failed.Response)
}

func TestToContents_JSONToolResult(t *testing.T) {
	contents := toContents([]llm.Message{
		llm.ToolResult(llm.ToolCall{ID: "c1", Name: "get_system_info"}, `{"os":"linux"}`),
	})
	assert.Equal(t, map[string]any{"os": "linux"}, contents[0].Parts[0].FunctionResponse.Response)
}

func TestToContents_NonObjectToolResult(t *testing.T) {
	for _, content := range []string{"null", "[1,2]", `"plain"`, "42", "not json"} {
		contents := toContents([]llm.Message{
			llm.ToolResult(llm.ToolCall{ID: "c1", Name: "read_file"}, content),
		})
		assert.Equal(t, map[string]any{"output": content}, contents[0].Parts[0].FunctionResponse.Response, content)
	}
}

func TestRequest(t *testing.T) {
	c := &Client{model: DefaultModel, temperature: genai.Ptr(float32(0.2)), maxTokens: 100}
	tools := []llm.ToolSpec{
		{Name: "get_current_datetime", Description: "Current time"},
		{Name: "read_file", Description: "Read a file", Parameters: map[string]any{"type": "object"}},
	}

	contents, cfg := c.request([]llm.Message{llm.System("a"), llm.System("b"), llm.User("hi")}, tools)

	require.Len(t, contents, 1)
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "a\n\nb", cfg.SystemInstruction.Parts[0].Text)
	assert.Equal(t, float32(0.2), *cfg.Temperature)
	assert.Equal(t, int32(100), cfg.MaxOutputTokens)

	require.Len(t, cfg.Tools, 1)
	decls := cfg.Tools[0].FunctionDeclarations
	require.Len(t, decls, 2)
	assert.Equal(t, map[string]any{"type": "object", "properties": map[string]any{}}, decls[0].ParametersJsonSchema)
	assert.Equal(t, map[string]any{"type": "object"}, decls[1].ParametersJsonSchema)
	assert.Equal(t, genai.FunctionCallingConfigModeAuto, cfg.ToolConfig.FunctionCallingConfig.Mode)

	_, cfg = c.request([]llm.Message{llm.User("hi")}, nil)
	assert.Nil(t, cfg.SystemInstruction)
	assert.Nil(t, cfg.Tools)
}

func TestParseResponse(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "thinking...", Thought: true},
				{Text: " Let me check. "},
				{FunctionCall: &genai.FunctionCall{Name: "list_files", Args: map[string]any{"directory": "."}}},
				{FunctionCall: &genai.FunctionCall{ID: "given", Name: "get_system_info"}},
			}},
		}},
	}

	msg, err := parseResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, llm.RoleAssistant, msg.Role)
	assert.Equal(t, "Let me check.", msg.Content)
	require.Len(t, msg.ToolCalls, 2)
	assert.True(t, strings.HasPrefix(msg.ToolCalls[0].ID, "call_"))
	assert.JSONEq(t, `{"directory":"."}`, string(msg.ToolCalls[0].Arguments))
	assert.Equal(t, "given", msg.ToolCalls[1].ID)
	assert.JSONEq(t, `{}`, string(msg.ToolCalls[1].Arguments))
}

func TestParseResponse_Empty(t *testing.T) {
	_, err := parseResponse(&genai.GenerateContentResponse{})
	assert.ErrorIs(t, err, llm.ErrEmptyResponse)

	_, err = parseResponse(&genai.GenerateContentResponse{
		PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReasonMessage: "blocked for safety"},
	})
	assert.ErrorIs(t, err, llm.ErrEmptyResponse)
	assert.ErrorContains(t, err, "blocked for safety")
}

func TestWrapError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"rate limit", genai.APIError{Code: 429}, true},
		{"server", genai.APIError{Code: 503}, true},
		{"bad request", genai.APIError{Code: 400}, false},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"other", errors.New("dns failure"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var llmErr *llm.Error
			require.True(t, errors.As(wrapError("generate", tt.err), &llmErr))
			assert.Equal(t, tt.retryable, llmErr.Retryable)
		})
	}
}

// fakeGemini serves canned generateContent responses.
func fakeGemini(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, body map[string]any)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(data, &body)
		handler(w, r, body)
	}))
	t.Cleanup(srv.Close)

	c, err := New(context.Background(), "test-key", WithBaseURL(srv.URL), WithModel("gemini-test"))
	require.NoError(t, err)
	return c
}

func TestClient_Generate(t *testing.T) {
	var path string
	c := fakeGemini(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		path = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"Hello there"}]}}]}`)
	})

	reply, err := c.Generate(context.Background(), []llm.Message{llm.User("hi")}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello there", reply.Content)
	assert.Contains(t, path, "gemini-test:generateContent")
	assert.Equal(t, "gemini-test", c.Model())
	assert.NoError(t, c.Close())
}

func TestClient_GenerateToolCall(t *testing.T) {
	c := fakeGemini(t, func(w http.ResponseWriter, _ *http.Request, body map[string]any) {
		assert.Contains(t, body, "tools")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[
			{"functionCall":{"name":"get_current_datetime","args":{}}}]}}]}`)
	})

	reply, err := c.Generate(context.Background(), []llm.Message{llm.User("what time is it?")},
		[]llm.ToolSpec{{Name: "get_current_datetime", Description: "Current time"}})
	require.NoError(t, err)
	require.True(t, reply.HasToolCalls())
	assert.Equal(t, "get_current_datetime", reply.ToolCalls[0].Name)
}

func TestClient_GenerateRateLimited(t *testing.T) {
	c := fakeGemini(t, func(w http.ResponseWriter, _ *http.Request, _ map[string]any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"code":429,"message":"quota exhausted","status":"RESOURCE_EXHAUSTED"}}`)
	})

	_, err := c.Generate(context.Background(), []llm.Message{llm.User("hi")}, nil)

	var llmErr *llm.Error
	require.True(t, errors.As(err, &llmErr))
	assert.True(t, llmErr.Retryable)
}

func TestClient_GenerateStream(t *testing.T) {
	c := fakeGemini(t, func(w http.ResponseWriter, r *http.Request, _ map[string]any) {
		assert.Contains(t, r.URL.Path, "streamGenerateContent")
		w.Header().Set("Content-Type", "text/event-stream")
		for _, text := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":%q}]}}]}\n\n", text)
		}
	})

	var chunks []llm.Chunk
	reply, err := c.GenerateStream(context.Background(), []llm.Message{llm.User("hi")}, nil, func(ch llm.Chunk) error {
		chunks = append(chunks, ch)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello", reply.Content)
	require.Len(t, chunks, 3)
	assert.Equal(t, "Hel", chunks[0].Content)
	assert.True(t, chunks[2].Done)
}
