/*
Package config loads settings for chatgraph programs.

Config wraps a map[string]any decoded from YAML or JSON and provides typed
accessors that fall back to defaults on missing keys or type mismatches.
Keys may be dotted paths into nested maps:

	cfg, err := config.FromFile("chatgraph.yaml")
	addr := cfg.String("store.redis.addr", "localhost:6379")
	ttl := cfg.Duration("store.redis.ttl", 0)

Settings is the resolved view used by the chatgraph CLI. Load reads a file,
applies CHATGRAPH_* environment overrides, and validates the result:

	settings, err := config.Load("chatgraph.yaml")

A minimal file:

	model:
	  name: gemini-2.0-flash
	  system_prompt: You are a terse assistant.
	summary:
	  threshold: 10
	  keep_last_n: 5
	store:
	  backend: redis
	  redis:
	    addr: localhost:6379
	    ttl: 24h

Config is safe for concurrent read access.
*/
package config
