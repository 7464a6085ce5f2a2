package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/randalmurphal/chatgraph/pkg/chatgraph/config"
)

// app holds what every subcommand needs after flags and config are resolved.
type app struct {
	settings config.Settings
	logger   *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "chatgraph",
		Short: "Chat with a tool-using assistant whose conversations are checkpointed per thread",
		Long: `chatgraph runs a conversational agent as a state graph: a length check,
optional summarization of older messages, and a model/tool loop.
Every step is checkpointed, so threads survive restarts.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	root.PersistentFlags().String("config", "", "Path to a YAML or JSON config file")
	root.PersistentFlags().String("env-file", ".env", "Dotenv file to load before reading the environment")
	root.PersistentFlags().String("store", "", "Checkpoint store: memory, sqlite, or redis (overrides config)")
	root.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides config)")

	root.AddCommand(newChatCmd(a), newHistoryCmd(a), newResetCmd(a))
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (a *app) load(cmd *cobra.Command) error {
	envFile, _ := cmd.Flags().GetString("env-file")
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	path, _ := cmd.Flags().GetString("config")
	settings, err := config.Load(path)
	if err != nil {
		return err
	}
	if store, _ := cmd.Flags().GetString("store"); store != "" {
		settings.Store = store
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		settings.LogLevel = level
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	a.settings = settings
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: parseLevel(settings.LogLevel),
	}))
	return nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
