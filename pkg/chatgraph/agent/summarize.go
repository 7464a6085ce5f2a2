package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/randalmurphal/chatgraph/pkg/chatgraph"
	cgerrors "github.com/randalmurphal/chatgraph/pkg/chatgraph/errors"
	"github.com/randalmurphal/chatgraph/pkg/chatgraph/llm"
	"github.com/randalmurphal/chatgraph/pkg/chatgraph/observability"
)

// Summarization defaults.
const (
	DefaultThreshold = 10
	DefaultKeepLastN = 5
)

// SummaryInstruction opens the summarization prompt.
const SummaryInstruction = "Summarize the following conversation. Make sure redundancy is removed."

// CheckLengthNode records the transcript length in ConversationLength.
func CheckLengthNode(_ chatgraph.Context, state chatgraph.State) (chatgraph.Update, error) {
	return chatgraph.Update{ConversationLength.Set(len(Messages.Value(state)))}, nil
}

// LengthRouter routes to LabelSummarize when the recorded conversation
// length exceeds threshold, and to LabelModel otherwise.
func LengthRouter(threshold int) chatgraph.RouterFunc {
	return func(_ chatgraph.Context, state chatgraph.State) string {
		if ConversationLength.Value(state) > threshold {
			return LabelSummarize
		}
		return LabelModel
	}
}

// SafeTrimIndex returns the index of the first message to keep when trimming
// a transcript down to about keepLastN messages.
//
// The scan starts at len(messages)-keepLastN and walks forward to the first
// user message, so a kept window never opens on a tool result or on an
// assistant reply whose tool calls were trimmed away. Returns 0, meaning no
// trim, when the transcript is not longer than keepLastN or no user message
// exists in the window.
func SafeTrimIndex(messages []llm.Message, keepLastN int) int {
	candidate := len(messages) - keepLastN
	if candidate <= 0 {
		return 0
	}
	for i := candidate; i < len(messages); i++ {
		if messages[i].Role == llm.RoleUser {
			return i
		}
	}
	return 0
}

// SummaryOption configures SummarizeNode.
type SummaryOption func(*summaryConfig)

type summaryConfig struct {
	keepLastN int
	retry     *cgerrors.RetryConfig
}

// WithKeepLastN sets how many trailing messages survive a summarization.
// Default: DefaultKeepLastN.
func WithKeepLastN(n int) SummaryOption {
	return func(c *summaryConfig) {
		if n > 0 {
			c.keepLastN = n
		}
	}
}

// WithSummaryRetry retries transient failures of the summarization call.
func WithSummaryRetry(cfg cgerrors.RetryConfig) SummaryOption {
	return func(c *summaryConfig) {
		c.retry = &cfg
	}
}

// SummarizeNode returns a node that folds the head of the transcript into
// the running summary.
//
// When SafeTrimIndex finds no boundary the update is empty. Otherwise
// messages [0, idx) are summarized by the model, with the prior summary as
// context, exactly one paragraph is appended to Summary, and a removal
// marker is emitted for each summarized message.
func SummarizeNode(model llm.Model, opts ...SummaryOption) chatgraph.NodeFunc {
	if model == nil {
		panic("agent: model cannot be nil")
	}
	cfg := summaryConfig{keepLastN: DefaultKeepLastN}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(ctx chatgraph.Context, state chatgraph.State) (chatgraph.Update, error) {
		messages := Messages.Value(state)
		idx := SafeTrimIndex(messages, cfg.keepLastN)
		if idx == 0 {
			return nil, nil
		}
		head := messages[:idx]
		done := observability.TimedOperation()

		prompt := []llm.Message{llm.User(summaryPrompt(Summary.Value(state), head))}
		var (
			reply llm.Message
			err   error
		)
		if cfg.retry != nil {
			reply, err = cgerrors.Retry(ctx, *cfg.retry, func(callCtx context.Context) (llm.Message, error) {
				return model.Generate(callCtx, prompt, nil)
			})
		} else {
			reply, err = model.Generate(ctx, prompt, nil)
		}
		if err != nil {
			return nil, fmt.Errorf("summarize: %w", err)
		}
		paragraph := strings.TrimSpace(reply.Content)
		if paragraph == "" {
			return nil, fmt.Errorf("summarize: %w", llm.ErrEmptyResponse)
		}

		removals := make([]llm.Message, 0, len(head))
		for _, m := range head {
			if m.ID != "" {
				removals = append(removals, llm.Remove(m.ID))
			}
		}

		ctx.Logger().Info("conversation summarized",
			"summarized", len(head),
			"kept", len(messages)-idx,
			"duration_ms", done(),
		)
		return chatgraph.Update{
			chatgraph.Append(Summary, paragraph),
			chatgraph.Append(Messages, removals...),
		}, nil
	}
}

func summaryPrompt(prior []string, head []llm.Message) string {
	var b strings.Builder
	b.WriteString(SummaryInstruction)
	b.WriteString("\n\n")
	if len(prior) > 0 {
		b.WriteString("Summary so far:\n")
		b.WriteString(strings.Join(prior, "\n"))
		b.WriteString("\n\n")
	}
	b.WriteString("Conversation:\n")
	b.WriteString(llm.Transcript(head))
	return b.String()
}
