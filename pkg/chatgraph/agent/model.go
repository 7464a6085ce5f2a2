package agent

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/randalmurphal/chatgraph/pkg/chatgraph"
	cgerrors "github.com/randalmurphal/chatgraph/pkg/chatgraph/errors"
	"github.com/randalmurphal/chatgraph/pkg/chatgraph/llm"
	"github.com/randalmurphal/chatgraph/pkg/chatgraph/prompt"
	"github.com/randalmurphal/chatgraph/pkg/chatgraph/tools"
)

// Placeholders available to system prompts.
const (
	// PreferencesPlaceholder is replaced by the rendered user preferences
	// when preferences are enabled.
	PreferencesPlaceholder = "{user_preferences}"
	// SummaryPlaceholder is replaced by the running summary. A prompt that
	// uses it gets no separate summary message.
	SummaryPlaceholder = "{summary}"
)

// SummaryPrefix introduces the running summary in the model prompt.
const SummaryPrefix = "Here is the conversation summary so far: "

// ModelOption configures ModelNode.
type ModelOption func(*modelConfig)

type modelConfig struct {
	systemPrompt func(chatgraph.State) string
	tools        *tools.Set
	retry        *cgerrors.RetryConfig
	summary      bool
	preferences  bool
}

// WithSystemPrompt prepends a system message to every model call.
// SummaryPlaceholder is always expanded; PreferencesPlaceholder is expanded
// when preferences are enabled.
func WithSystemPrompt(prompt string) ModelOption {
	return func(c *modelConfig) {
		c.systemPrompt = func(chatgraph.State) string { return prompt }
	}
}

// WithSystemPromptFunc derives the system message from the current state.
func WithSystemPromptFunc(fn func(chatgraph.State) string) ModelOption {
	return func(c *modelConfig) {
		c.systemPrompt = fn
	}
}

// WithTools declares the set's tools to the model.
func WithTools(set *tools.Set) ModelOption {
	return func(c *modelConfig) {
		c.tools = set
	}
}

// WithRetry retries transient model failures with backoff.
// Streaming calls are only retried while no chunk has been emitted.
func WithRetry(cfg cgerrors.RetryConfig) ModelOption {
	return func(c *modelConfig) {
		c.retry = &cfg
	}
}

// WithSummary controls whether the running summary is sent to the model.
// Default: true.
func WithSummary(enabled bool) ModelOption {
	return func(c *modelConfig) {
		c.summary = enabled
	}
}

// WithPreferences folds update_user_preferences results into the
// UserPreferences field on every call and expands PreferencesPlaceholder in
// the system prompt. The graph schema must declare UserPreferences.
func WithPreferences() ModelOption {
	return func(c *modelConfig) {
		c.preferences = true
	}
}

// ModelNode returns a node that calls the model with the transcript and
// appends its reply to Messages.
//
// The prompt is the system prompt, then the running summary, then the
// transcript. When the model implements llm.StreamingModel and the run is
// streaming messages, reply text is forwarded through ctx.EmitChunk.
func ModelNode(model llm.Model, opts ...ModelOption) chatgraph.NodeFunc {
	if model == nil {
		panic("agent: model cannot be nil")
	}
	cfg := modelConfig{summary: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	specs := cfg.tools.Specs()

	return func(ctx chatgraph.Context, state chatgraph.State) (chatgraph.Update, error) {
		var update chatgraph.Update
		prefs := UserPreferences.Value(state)
		if cfg.preferences {
			prefs = LoadPreferences(state)
			update = append(update, UserPreferences.Set(prefs))
		}

		messages := cfg.prompt(state, prefs)

		reply, err := cfg.generate(ctx, model, messages, specs)
		if err != nil {
			return nil, err
		}
		if reply.Role == "" {
			reply.Role = llm.RoleAssistant
		}

		ctx.Logger().Debug("model replied",
			"tool_calls", len(reply.ToolCalls),
			"content_len", len(reply.Content),
		)
		return append(update, chatgraph.Append(Messages, reply)), nil
	}
}

func (c *modelConfig) prompt(state chatgraph.State, prefs tools.Preferences) []llm.Message {
	transcript := Messages.Value(state)
	out := make([]llm.Message, 0, len(transcript)+2)

	summary := strings.Join(Summary.Value(state), "\n")
	inlined := false

	if c.systemPrompt != nil {
		if sys := c.systemPrompt(state); sys != "" {
			vars := map[string]any{"summary": summary}
			if c.preferences {
				vars["user_preferences"] = RenderPreferences(prefs)
			}
			inlined = slices.Contains(prompt.Placeholders(sys), "summary")
			out = append(out, llm.System(prompt.Expand(sys, vars)))
		}
	}
	if c.summary && !inlined && summary != "" {
		out = append(out, llm.System(SummaryPrefix+summary))
	}
	return append(out, transcript...)
}

func (c *modelConfig) generate(ctx chatgraph.Context, model llm.Model, prompt []llm.Message, specs []llm.ToolSpec) (llm.Message, error) {
	streamer, canStream := model.(llm.StreamingModel)
	streaming := canStream && ctx.StreamsMessages()

	emitted := false
	call := func(callCtx context.Context) (llm.Message, error) {
		if !streaming {
			return model.Generate(callCtx, prompt, specs)
		}
		reply, err := streamer.GenerateStream(callCtx, prompt, specs, func(chunk llm.Chunk) error {
			if chunk.Content != "" {
				emitted = true
			}
			return ctx.EmitChunk(chunk)
		})
		if err != nil && emitted {
			// Chunks already reached the consumer; a retry would repeat them.
			return llm.Message{}, cgerrors.Permanent(err, "stream interrupted")
		}
		return reply, err
	}

	if c.retry == nil {
		return call(ctx)
	}
	retry := *c.retry
	if retry.OnRetry == nil {
		logger := ctx.Logger()
		retry.OnRetry = func(attempt int, err error, wait time.Duration) {
			logger.Warn("model call failed, retrying",
				"attempt", attempt,
				"wait", wait,
				"error", err.Error(),
			)
		}
	}
	return cgerrors.Retry(ctx, retry, call)
}
