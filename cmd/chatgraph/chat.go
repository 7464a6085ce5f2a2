package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/randalmurphal/chatgraph/pkg/chatgraph"
	"github.com/randalmurphal/chatgraph/pkg/chatgraph/agent"
	"github.com/randalmurphal/chatgraph/pkg/chatgraph/llm"
)

func newChatCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat on a thread",
		Long: `Starts an interactive chat. Replies stream as they are generated and
tool calls or summarization are reported as they happen.
Type "bye" or "exit" to leave; the thread can be continued later.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			thread, _ := cmd.Flags().GetString("thread")
			provider, _ := cmd.Flags().GetString("provider")
			if plain, _ := cmd.Flags().GetBool("plain"); plain {
				a.settings.Markdown = false
			}
			return a.chat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), thread, provider)
		},
	}
	cmd.Flags().StringP("thread", "t", "default", "Conversation thread to continue")
	cmd.Flags().String("provider", "", "Model provider: gemini, claude, or mock (default: gemini when an API key is set)")
	cmd.Flags().Bool("plain", false, "Print replies as plain text instead of rendered markdown")
	return cmd
}

func (a *app) chat(ctx context.Context, in io.Reader, out io.Writer, thread, provider string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	model, err := newModel(ctx, provider, a.settings)
	if err != nil {
		return err
	}
	set, err := buildTools(a.settings)
	if err != nil {
		return err
	}
	store, err := openStore(a.settings)
	if err != nil {
		return err
	}
	defer store.Close()

	compiled, err := compile(a.settings, model, set, store)
	if err != nil {
		return err
	}

	var render func(string) (string, error)
	if a.settings.Markdown {
		r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
		if err == nil {
			render = r.Render
		}
	}

	fmt.Fprintf(out, "chatgraph: thread %q (%d tools). Type \"bye\" to quit.\n", thread, set.Len())
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\nUser: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if isQuit(input) {
			fmt.Fprintln(out, "Assistant: bye!")
			return nil
		}

		if err := a.turn(ctx, out, compiled, thread, input, render); err != nil {
			fmt.Fprintf(out, "\n[error: %v]\n", err)
			a.logger.Error("turn failed", "thread_id", thread, "error", err)
		}
	}
}

func isQuit(input string) bool {
	switch strings.ToLower(input) {
	case "bye", "exit", "quit":
		return true
	}
	return false
}

// turn streams one user turn. Without a renderer reply text is printed as
// it arrives; with one the reply is rendered as markdown once complete.
func (a *app) turn(ctx context.Context, out io.Writer, compiled *chatgraph.CompiledGraph, thread, input string, render func(string) (string, error)) error {
	fmt.Fprint(out, "\nAssistant: ")

	var reply strings.Builder
	streamed := false
	events := compiled.Stream(ctx, agent.UserInput(input), chatgraph.ModeMessages|chatgraph.ModeUpdates,
		chatgraph.WithThreadID(thread),
		chatgraph.WithMaxSteps(a.settings.MaxSteps),
		chatgraph.WithNodeTimeout(a.settings.NodeTimeout),
		chatgraph.WithLogger(a.logger),
		chatgraph.WithMetrics(true),
		chatgraph.WithTracing(true),
	)
	for ev, err := range events {
		if err != nil {
			return err
		}
		switch ev.Mode {
		case chatgraph.ModeMessages:
			if ev.Node != agent.NodeModel || ev.Chunk.Content == "" {
				continue
			}
			streamed = true
			reply.WriteString(ev.Chunk.Content)
			if render == nil {
				fmt.Fprint(out, ev.Chunk.Content)
			}
		case chatgraph.ModeUpdates:
			reportUpdate(out, ev)
			if ev.Node != agent.NodeModel || streamed {
				continue
			}
			// Providers without streaming deliver the reply only in the update.
			if msg, ok := updatedReply(ev.Update); ok && !msg.HasToolCalls() {
				reply.WriteString(msg.Content)
				if render == nil {
					fmt.Fprint(out, msg.Content)
				}
			}
		}
	}

	if render != nil && reply.Len() > 0 {
		rendered, err := render(reply.String())
		if err != nil {
			rendered = reply.String()
		}
		fmt.Fprint(out, rendered)
	}
	fmt.Fprintln(out)
	return nil
}

// reportUpdate prints progress lines for summarization and tool activity.
func reportUpdate(out io.Writer, ev chatgraph.StreamEvent) {
	switch ev.Node {
	case agent.NodeSummarize:
		if len(ev.Update) > 0 {
			fmt.Fprint(out, "\n[summarizing the conversation]\n")
		}
	case agent.NodeModel:
		if msg, ok := updatedReply(ev.Update); ok && msg.HasToolCalls() {
			names := make([]string, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				names[i] = tc.Name
			}
			fmt.Fprintf(out, "\n[calling tools: %s]\n", strings.Join(names, ", "))
		}
	case agent.NodeTools:
		for _, msg := range updatedMessages(ev.Update) {
			status := "returned result"
			if msg.IsError {
				status = "failed"
			}
			fmt.Fprintf(out, "[tool %s %s]\n", msg.Name, status)
		}
	}
}

func updatedMessages(u chatgraph.Update) []llm.Message {
	var out []llm.Message
	for _, w := range u {
		if w.Field != agent.Messages.Name() {
			continue
		}
		if msgs, ok := w.Value.([]llm.Message); ok {
			out = append(out, msgs...)
		}
	}
	return out
}

func updatedReply(u chatgraph.Update) (llm.Message, bool) {
	return llm.Last(updatedMessages(u))
}
