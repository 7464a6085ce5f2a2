// Package gemini implements llm.Model on Google's Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/genai"

	"github.com/randalmurphal/chatgraph/pkg/chatgraph/llm"
)

// DefaultModel is used when WithModel is not given.
const DefaultModel = "gemini-2.0-flash"

// Client is a Gemini-backed llm.StreamingModel.
// Construct it once and share it across graph runs.
type Client struct {
	client      *genai.Client
	model       string
	temperature *float32
	maxTokens   int32
	baseURL     string
	httpClient  *http.Client
	tracing     bool
}

// Option configures a Client.
type Option func(*Client)

// WithModel selects the Gemini model.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = genai.Ptr(float32(t)) }
}

// WithMaxOutputTokens caps the reply length.
func WithMaxOutputTokens(n int) Option {
	return func(c *Client) { c.maxTokens = int32(n) }
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTracing wraps the HTTP transport with OpenTelemetry instrumentation.
func WithTracing(enabled bool) Option {
	return func(c *Client) { c.tracing = enabled }
}

// New creates a Gemini client.
func New(ctx context.Context, apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	c := &Client{model: DefaultModel}
	for _, opt := range opts {
		opt(c)
	}

	hc := c.httpClient
	if c.tracing {
		base := http.DefaultTransport
		if hc != nil && hc.Transport != nil {
			base = hc.Transport
		}
		traced := &http.Client{Transport: otelhttp.NewTransport(base)}
		if hc != nil {
			traced.Timeout = hc.Timeout
		}
		hc = traced
	}

	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: hc,
	}
	if c.baseURL != "" {
		cfg.HTTPOptions.BaseURL = c.baseURL
	}

	gc, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	c.client = gc
	return c, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Close releases the client. The underlying HTTP client is shared and
// needs no teardown.
func (c *Client) Close() error {
	return nil
}

// Generate implements llm.Model.
func (c *Client) Generate(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (llm.Message, error) {
	contents, cfg := c.request(messages, tools)
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return llm.Message{}, wrapError("generate", err)
	}
	return parseResponse(resp)
}

// GenerateStream implements llm.StreamingModel.
func (c *Client) GenerateStream(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec, onChunk func(llm.Chunk) error) (llm.Message, error) {
	contents, cfg := c.request(messages, tools)

	reply := llm.Message{Role: llm.RoleAssistant}
	var text strings.Builder
	received := false

	for chunk, err := range c.client.Models.GenerateContentStream(ctx, c.model, contents, cfg) {
		if err != nil {
			return llm.Message{}, wrapError("stream", err)
		}
		if chunk == nil || len(chunk.Candidates) == 0 || chunk.Candidates[0].Content == nil {
			continue
		}
		received = true
		for _, part := range chunk.Candidates[0].Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			if part.Text != "" {
				text.WriteString(part.Text)
				if err := onChunk(llm.Chunk{Content: part.Text}); err != nil {
					return llm.Message{}, err
				}
			}
			if part.FunctionCall != nil {
				reply.ToolCalls = append(reply.ToolCalls, toolCall(part.FunctionCall))
			}
		}
	}

	if !received {
		return llm.Message{}, llm.NewError("stream", llm.ErrEmptyResponse, false)
	}
	if err := onChunk(llm.Chunk{Done: true}); err != nil {
		return llm.Message{}, err
	}
	reply.Content = strings.TrimSpace(text.String())
	return reply, nil
}

// request converts a transcript into Gemini contents and config.
// System messages become the system instruction.
func (c *Client) request(messages []llm.Message, tools []llm.ToolSpec) ([]*genai.Content, *genai.GenerateContentConfig) {
	cfg := &genai.GenerateContentConfig{Temperature: c.temperature}
	if c.maxTokens > 0 {
		cfg.MaxOutputTokens = c.maxTokens
	}

	var system []string
	for _, m := range messages {
		if m.Role == llm.RoleSystem && m.Content != "" {
			system = append(system, m.Content)
		}
	}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}

	if len(tools) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: toDeclarations(tools)}}
		cfg.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode: genai.FunctionCallingConfigModeAuto,
			},
		}
	}

	return toContents(messages), cfg
}

func toDeclarations(tools []llm.ToolSpec) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		schema := t.Parameters
		if len(schema) == 0 {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: schema,
		})
	}
	return out
}

func toContents(messages []llm.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case llm.RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))

		case llm.RoleAssistant:
			parts := make([]*genai.Part, 0, len(m.ToolCalls)+1)
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, tc := range m.ToolCalls {
				args, err := tc.Args()
				if err != nil {
					args = map[string]any{}
				}
				p := genai.NewPartFromFunctionCall(tc.Name, args)
				p.FunctionCall.ID = tc.ID
				parts = append(parts, p)
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
			}

		case llm.RoleTool:
			// Gemini wants an object; `null` decodes without error to a nil map.
			var response map[string]any
			if err := json.Unmarshal([]byte(m.Content), &response); err != nil || response == nil {
				response = map[string]any{"output": m.Content}
			}
			if m.IsError {
				response = map[string]any{"error": m.Content}
			}
			p := genai.NewPartFromFunctionResponse(m.Name, response)
			p.FunctionResponse.ID = m.ToolCallID
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{p}, genai.RoleUser))
		}
	}
	return contents
}

func parseResponse(resp *genai.GenerateContentResponse) (llm.Message, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReasonMessage != "" {
			return llm.Message{}, llm.NewError("generate",
				fmt.Errorf("%w: %s", llm.ErrEmptyResponse, resp.PromptFeedback.BlockReasonMessage), false)
		}
		return llm.Message{}, llm.NewError("generate", llm.ErrEmptyResponse, false)
	}

	out := llm.Message{Role: llm.RoleAssistant}
	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		text.WriteString(part.Text)
		if part.FunctionCall != nil {
			out.ToolCalls = append(out.ToolCalls, toolCall(part.FunctionCall))
		}
	}
	out.Content = strings.TrimSpace(text.String())
	return out, nil
}

// toolCall converts a function call, assigning an ID when Gemini omits one.
func toolCall(fc *genai.FunctionCall) llm.ToolCall {
	args := fc.Args
	if args == nil {
		args = map[string]any{}
	}
	raw, _ := json.Marshal(args)
	id := fc.ID
	if id == "" {
		id = "call_" + uuid.NewString()
	}
	return llm.ToolCall{ID: id, Name: fc.Name, Arguments: raw}
}

// wrapError marks rate limits and server errors as retryable.
func wrapError(op string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		retryable := apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
		return llm.NewError(op, err, retryable)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return llm.NewError(op, err, true)
	}
	return llm.NewError(op, err, false)
}
