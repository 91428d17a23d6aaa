package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	account string // keychain account for secrets
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "AIDE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "AIDE_API_TOKEN",
		secret: true, account: "api_token",
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "AIDE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "AIDE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "llm.provider", typ: kString, env: "AIDE_LLM_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.LLM.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Provider },
	},
	{
		key: "llm.chat_model", typ: kString, env: "AIDE_LLM_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.ChatModel },
	},
	{
		key: "llm.embed_provider", typ: kString, env: "AIDE_LLM_EMBED_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.LLM.EmbedProvider = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.EmbedProvider },
	},
	{
		key: "llm.embed_model", typ: kString, env: "AIDE_LLM_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.EmbedModel },
	},
	{
		key: "llm.timeout", typ: kDuration, env: "AIDE_LLM_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.LLM.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.LLM.Timeout },
	},
	{
		key: "ollama.base_url", typ: kString, env: "AIDE_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "openai.base_url", typ: kString, env: "AIDE_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "openai.api_key", typ: kString, env: "AIDE_OPENAI_API_KEY",
		secret: true, account: "openai_api_key",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "anthropic.api_key", typ: kString, env: "AIDE_ANTHROPIC_API_KEY",
		secret: true, account: "anthropic_api_key",
		apply:   func(cfg *Config, v any) { cfg.Anthropic.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Anthropic.APIKey },
	},
	{
		key: "agent.max_depth", typ: kInt, env: "AIDE_AGENT_MAX_DEPTH",
		apply:   func(cfg *Config, v any) { cfg.Agent.MaxDepth = v.(int) },
		extract: func(cfg Config) any { return cfg.Agent.MaxDepth },
	},
	{
		key: "agent.history_limit", typ: kInt, env: "AIDE_AGENT_HISTORY_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Agent.HistoryLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Agent.HistoryLimit },
	},
	{
		key: "agent.tool_timeout", typ: kDuration, env: "AIDE_AGENT_TOOL_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Agent.ToolTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Agent.ToolTimeout },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "AIDE_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.max_tokens", typ: kInt, env: "AIDE_RETRIEVAL_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.MaxTokens },
	},
	{
		key: "monitor.enabled", typ: kBool, env: "AIDE_MONITOR_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Monitor.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Monitor.Enabled },
	},
	{
		key: "monitor.mail_interval", typ: kDuration, env: "AIDE_MONITOR_MAIL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Monitor.MailInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Monitor.MailInterval },
	},
	{
		key: "monitor.calendar_interval", typ: kDuration, env: "AIDE_MONITOR_CALENDAR_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Monitor.CalendarInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Monitor.CalendarInterval },
	},
	{
		key: "monitor.seen_capacity", typ: kInt, env: "AIDE_MONITOR_SEEN_CAPACITY",
		apply:   func(cfg *Config, v any) { cfg.Monitor.SeenCapacity = v.(int) },
		extract: func(cfg Config) any { return cfg.Monitor.SeenCapacity },
	},
	{
		key: "sync.enabled", typ: kBool, env: "AIDE_SYNC_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Sync.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Sync.Enabled },
	},
	{
		key: "sync.interval", typ: kDuration, env: "AIDE_SYNC_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Sync.Interval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Sync.Interval },
	},
	{
		key: "sync.mail_batch", typ: kInt, env: "AIDE_SYNC_MAIL_BATCH",
		apply:   func(cfg *Config, v any) { cfg.Sync.MailBatch = v.(int) },
		extract: func(cfg Config) any { return cfg.Sync.MailBatch },
	},
	{
		key: "hubspot.base_url", typ: kString, env: "AIDE_HUBSPOT_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.HubSpot.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.HubSpot.BaseURL },
	},
	{
		key: "hubspot.rate_limit", typ: kFloat, env: "AIDE_HUBSPOT_RATE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.HubSpot.RateLimit = v.(float64) },
		extract: func(cfg Config) any { return cfg.HubSpot.RateLimit },
	},
}

// parse converts raw into the Go type of s.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok, err := b.Get(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
