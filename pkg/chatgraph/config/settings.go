package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Settings is the resolved configuration of the chat CLI.
type Settings struct {
	// Model
	Model        string
	SystemPrompt string
	Temperature  float64

	// Execution
	MaxSteps    int
	NodeTimeout time.Duration
	MaxRetries  int

	// Summarization; Threshold 0 disables it.
	SummarizeThreshold int
	KeepLastN          int

	// Tools lists the enabled built-in tool names. Empty enables all.
	Tools []string

	// Checkpoint store
	Store       string
	SQLitePath  string
	RedisAddr   string
	RedisDB     int
	RedisPrefix string
	RedisTTL    time.Duration

	LogLevel string
	Markdown bool
}

// DefaultSettings returns the settings used when no file or environment
// override is present.
func DefaultSettings() Settings {
	return Settings{
		Model:              "gemini-2.0-flash",
		SystemPrompt:       "You are a helpful assistant. Use the tools available to you when they help answer the user.",
		Temperature:        0.7,
		MaxSteps:           25,
		NodeTimeout:        2 * time.Minute,
		MaxRetries:         3,
		SummarizeThreshold: 10,
		KeepLastN:          5,
		Store:              StoreSQLite,
		SQLitePath:         "chatgraph.db",
		RedisAddr:          "localhost:6379",
		RedisPrefix:        "chatgraph:thread:",
		LogLevel:           "warn",
		Markdown:           true,
	}
}

// FromConfig resolves settings from a config tree on top of the defaults.
//
// Recognized keys:
//
//	model.name, model.system_prompt, model.temperature, model.max_retries
//	run.max_steps, run.node_timeout
//	summary.threshold, summary.keep_last_n
//	tools
//	store.backend, store.sqlite.path
//	store.redis.addr, store.redis.db, store.redis.prefix, store.redis.ttl
//	log.level, ui.markdown
func FromConfig(c Config) Settings {
	s := DefaultSettings()

	model := c.Section("model")
	s.Model = model.String("name", s.Model)
	s.SystemPrompt = model.String("system_prompt", s.SystemPrompt)
	s.MaxRetries = model.Int("max_retries", s.MaxRetries)
	if v, ok := model.lookup("temperature"); ok {
		switch t := v.(type) {
		case float64:
			s.Temperature = t
		case int:
			s.Temperature = float64(t)
		}
	}

	s.MaxSteps = c.Int("run.max_steps", s.MaxSteps)
	s.NodeTimeout = c.Duration("run.node_timeout", s.NodeTimeout)

	s.SummarizeThreshold = c.Int("summary.threshold", s.SummarizeThreshold)
	s.KeepLastN = c.Int("summary.keep_last_n", s.KeepLastN)

	s.Tools = c.StringSlice("tools", s.Tools)

	store := c.Section("store")
	s.Store = store.String("backend", s.Store)
	s.SQLitePath = store.String("sqlite.path", s.SQLitePath)
	s.RedisAddr = store.String("redis.addr", s.RedisAddr)
	s.RedisDB = store.Int("redis.db", s.RedisDB)
	s.RedisPrefix = store.String("redis.prefix", s.RedisPrefix)
	s.RedisTTL = store.Duration("redis.ttl", s.RedisTTL)

	s.LogLevel = c.String("log.level", s.LogLevel)
	s.Markdown = c.Bool("ui.markdown", s.Markdown)

	return s
}

// ApplyEnv overrides settings from CHATGRAPH_* environment variables.
// Malformed numeric values are reported rather than ignored.
func (s *Settings) ApplyEnv() error {
	strs := map[string]*string{
		"CHATGRAPH_MODEL":        &s.Model,
		"CHATGRAPH_STORE":        &s.Store,
		"CHATGRAPH_SQLITE_PATH":  &s.SQLitePath,
		"CHATGRAPH_REDIS_ADDR":   &s.RedisAddr,
		"CHATGRAPH_REDIS_PREFIX": &s.RedisPrefix,
		"CHATGRAPH_LOG_LEVEL":    &s.LogLevel,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"CHATGRAPH_MAX_STEPS":           &s.MaxSteps,
		"CHATGRAPH_SUMMARIZE_THRESHOLD": &s.SummarizeThreshold,
		"CHATGRAPH_REDIS_DB":            &s.RedisDB,
	}
	for name, dst := range ints {
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = n
	}
	return nil
}

// Validate reports settings that cannot work.
func (s Settings) Validate() error {
	switch s.Store {
	case StoreMemory, StoreSQLite, StoreRedis:
	default:
		return fmt.Errorf("unknown store backend %q (want memory, sqlite, or redis)", s.Store)
	}
	if s.MaxSteps <= 0 {
		return fmt.Errorf("run.max_steps must be positive, got %d", s.MaxSteps)
	}
	if s.SummarizeThreshold > 0 && s.KeepLastN <= 0 {
		return fmt.Errorf("summary.keep_last_n must be positive when summarization is enabled")
	}
	return nil
}

// Load reads settings from path (YAML or JSON) and the environment.
// An empty path uses defaults plus the environment. Problems found in the
// file, including invalid values it sets, are reported as *FileError.
func Load(path string) (Settings, error) {
	c := New(nil)
	if path != "" {
		var err error
		c, err = FromFile(path)
		if err != nil {
			return Settings{}, err
		}
		if err := CheckSections(c); err != nil {
			return Settings{}, &FileError{Path: path, Err: err}
		}
	}

	s := FromConfig(c)
	if err := s.ApplyEnv(); err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		if path != "" {
			return Settings{}, &FileError{Path: path, Err: err}
		}
		return Settings{}, err
	}
	return s, nil
}
