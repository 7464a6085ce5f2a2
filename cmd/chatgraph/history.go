package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/randalmurphal/chatgraph/pkg/chatgraph"
	"github.com/randalmurphal/chatgraph/pkg/chatgraph/agent"
	"github.com/randalmurphal/chatgraph/pkg/chatgraph/llm"
)

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <thread>",
		Short: "Show the checkpoints and transcript of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _ := cmd.Flags().GetBool("steps")
			return a.history(cmd, args[0], steps)
		},
	}
	cmd.Flags().Bool("steps", false, "List every checkpoint instead of only the transcript")
	return cmd
}

func (a *app) history(cmd *cobra.Command, thread string, steps bool) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	store, err := openStore(a.settings)
	if err != nil {
		return err
	}
	defer store.Close()

	// The graph only decodes state here; the model is never called.
	compiled, err := compile(a.settings, llm.NewMockModel(), nil, store)
	if err != nil {
		return err
	}

	state, err := compiled.State(ctx, thread)
	if errors.Is(err, chatgraph.ErrNoCheckpoints) {
		fmt.Fprintf(out, "Thread %q has no history.\n", thread)
		return nil
	}
	if err != nil {
		return err
	}

	if steps {
		infos, err := compiled.History(ctx, thread)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "STEP\tNODE\tNEXT\tSIZE\tSAVED")
		for _, info := range infos {
			node := info.NodeID
			if node == "" {
				node = "(update)"
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", info.Step, node, info.NextNode,
				humanize.Bytes(uint64(info.Size)), humanize.Time(info.Timestamp))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintln(out)
	}

	printTranscript(out, state)
	return nil
}

func printTranscript(out io.Writer, state chatgraph.State) {
	if summary := agent.Summary.Value(state); len(summary) > 0 {
		fmt.Fprintf(out, "Summary:\n%s\n\n", strings.Join(summary, "\n"))
	}
	if prefs := agent.UserPreferences.Value(state); len(prefs.Likes)+len(prefs.Dislikes) > 0 {
		fmt.Fprintf(out, "%s\n\n", agent.RenderPreferences(prefs))
	}
	for _, m := range agent.Messages.Value(state) {
		switch m.Role {
		case llm.RoleUser:
			fmt.Fprintf(out, "User: %s\n", m.Content)
		case llm.RoleAssistant:
			if m.Content != "" {
				fmt.Fprintf(out, "Assistant: %s\n", m.Content)
			}
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(out, "  -> %s %s\n", tc.Name, string(tc.Arguments))
			}
		case llm.RoleTool:
			fmt.Fprintf(out, "  <- %s (%s)\n", m.Name, humanize.Bytes(uint64(len(m.Content))))
		case llm.RoleSystem:
			fmt.Fprintf(out, "System: %s\n", m.Content)
		}
	}
}

func newResetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <thread>...",
		Short: "Delete the checkpoints of one or more threads",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(a.settings)
			if err != nil {
				return err
			}
			defer store.Close()

			for _, thread := range args {
				if err := store.DeleteThread(cmd.Context(), thread); err != nil {
					return fmt.Errorf("reset %s: %w", thread, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed thread %q\n", thread)
			}
			return nil
		},
	}
}
