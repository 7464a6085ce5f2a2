package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/randalmurphal/chatgraph/pkg/chatgraph"
	"github.com/randalmurphal/chatgraph/pkg/chatgraph/agent"
	"github.com/randalmurphal/chatgraph/pkg/chatgraph/checkpoint"
	"github.com/randalmurphal/chatgraph/pkg/chatgraph/config"
	cgerrors "github.com/randalmurphal/chatgraph/pkg/chatgraph/errors"
	"github.com/randalmurphal/chatgraph/pkg/chatgraph/llm"
	"github.com/randalmurphal/chatgraph/pkg/chatgraph/llm/gemini"
	"github.com/randalmurphal/chatgraph/pkg/chatgraph/observability"
	"github.com/randalmurphal/chatgraph/pkg/chatgraph/tools"
)

// Model providers selectable with --provider.
const (
	providerGemini = "gemini"
	providerClaude = "claude"
	providerMock   = "mock"
)

// preferencesSection is appended to the configured system prompt.
const preferencesSection = "\n\n## User Preferences\n" + agent.PreferencesPlaceholder

func openStore(s config.Settings) (checkpoint.Store, error) {
	switch s.Store {
	case config.StoreMemory:
		return checkpoint.NewMemoryStore(), nil
	case config.StoreSQLite:
		return checkpoint.NewSQLiteStore(s.SQLitePath)
	case config.StoreRedis:
		var opts []checkpoint.RedisOption
		if s.RedisPrefix != "" {
			opts = append(opts, checkpoint.WithRedisPrefix(s.RedisPrefix))
		}
		if s.RedisTTL > 0 {
			opts = append(opts, checkpoint.WithRedisTTL(s.RedisTTL))
		}
		return checkpoint.NewRedisStore(s.RedisAddr, os.Getenv("REDIS_PASSWORD"), s.RedisDB, opts...), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", s.Store)
	}
}

func newModel(ctx context.Context, provider string, s config.Settings) (llm.Model, error) {
	if provider == "" {
		provider = providerGemini
		if os.Getenv("GOOGLE_API_KEY") == "" && os.Getenv("GEMINI_API_KEY") == "" {
			provider = providerClaude
		}
	}

	switch provider {
	case providerGemini:
		key := os.Getenv("GOOGLE_API_KEY")
		if key == "" {
			key = os.Getenv("GEMINI_API_KEY")
		}
		if key == "" {
			return nil, errors.New("gemini provider needs GOOGLE_API_KEY or GEMINI_API_KEY")
		}
		client, err := gemini.New(ctx, key,
			gemini.WithModel(s.Model),
			gemini.WithTemperature(s.Temperature),
			gemini.WithTracing(true),
		)
		if err != nil {
			return nil, err
		}
		return client, nil
	case providerClaude:
		return llm.NewClaudeCLI(llm.WithTimeout(s.NodeTimeout)), nil
	case providerMock:
		return llm.NewMockText("This is a canned reply from the mock provider."), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (want gemini, claude, or mock)", provider)
	}
}

func buildTools(s config.Settings) (*tools.Set, error) {
	selected, err := tools.Select(s.Tools, tools.BuiltinOptions{
		SearchAPIKey: os.Getenv("TAVILY_API_KEY"),
	})
	if err != nil {
		return nil, err
	}
	return tools.NewSet(selected...)
}

// compile builds the assistant graph over the given model and store.
func compile(s config.Settings, model llm.Model, set *tools.Set, store checkpoint.Store) (*chatgraph.CompiledGraph, error) {
	retry := cgerrors.NoRetry
	if s.MaxRetries > 1 {
		retry = cgerrors.NewRetryConfig(cgerrors.WithMaxAttempts(s.MaxRetries))
	}

	g := agent.NewChatGraph(model, set,
		agent.WithThreshold(s.SummarizeThreshold),
		agent.WithKeep(s.KeepLastN),
		agent.WithModelRetry(retry),
		agent.WithMetrics(observability.NewMetricsRecorder()),
		agent.WithModelOptions(agent.WithSystemPrompt(s.SystemPrompt+preferencesSection)),
	)
	return g.Compile(chatgraph.WithName("chatgraph"), chatgraph.WithCheckpointer(store))
}
