package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Log       LogConfig
	LLM       LLMConfig
	Ollama    OllamaConfig
	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig
	Agent     AgentConfig
	Retrieval RetrievalConfig
	Monitor   MonitorConfig
	Sync      SyncConfig
	HubSpot   HubSpotConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type LLMConfig struct {
	Provider      string
	ChatModel     string
	EmbedProvider string
	EmbedModel    string
	Timeout       time.Duration
}

type OllamaConfig struct {
	BaseURL string
}

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
}

type AnthropicConfig struct {
	APIKey string
}

type AgentConfig struct {
	MaxDepth     int
	HistoryLimit int
	ToolTimeout  time.Duration
}

type RetrievalConfig struct {
	TopK      int
	MaxTokens int
}

type MonitorConfig struct {
	Enabled          bool
	MailInterval     time.Duration
	CalendarInterval time.Duration
	SeenCapacity     int
}

type SyncConfig struct {
	Enabled   bool
	Interval  time.Duration
	MailBatch int
}

type HubSpotConfig struct {
	BaseURL   string
	RateLimit float64 // requests per second
}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 4100},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Log:     LogConfig{Level: "info"},
		LLM: LLMConfig{
			Provider:      "ollama",
			EmbedProvider: "ollama",
			Timeout:       60 * time.Second,
		},
		Ollama: OllamaConfig{BaseURL: "http://localhost:11434"},
		Agent: AgentConfig{
			MaxDepth:     10,
			HistoryLimit: 20,
			ToolTimeout:  30 * time.Second,
		},
		Retrieval: RetrievalConfig{TopK: 5, MaxTokens: 7000},
		Monitor: MonitorConfig{
			Enabled:          true,
			MailInterval:     60 * time.Second,
			CalendarInterval: 120 * time.Second,
			SeenCapacity:     100,
		},
		Sync: SyncConfig{
			Enabled:   true,
			Interval:  60 * time.Second,
			MailBatch: 50,
		},
		HubSpot: HubSpotConfig{
			BaseURL:   "https://api.hubapi.com",
			RateLimit: 8,
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.aide.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/aide/config.json
// and secrets come from environment variables or the secrets file next to
// the data directory.
//
// Environment variables (AIDE_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

const keychainService = "aide"

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Secrets still empty after env overrides fall back to the keychain.
	for _, s := range specs {
		if !s.secret || s.extract(cfg).(string) != "" {
			continue
		}
		if v, err := kc.Get(keychainService, s.account); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.LLM.Provider {
	case "ollama", "openai", "anthropic":
	default:
		return fmt.Errorf("invalid llm.provider %q: want ollama, openai or anthropic", cfg.LLM.Provider)
	}
	switch cfg.LLM.EmbedProvider {
	case "ollama", "openai":
	case "anthropic":
		return fmt.Errorf("invalid llm.embed_provider %q: anthropic does not serve embeddings", cfg.LLM.EmbedProvider)
	default:
		return fmt.Errorf("invalid llm.embed_provider %q: want ollama or openai", cfg.LLM.EmbedProvider)
	}

	if (cfg.LLM.Provider == "openai" || cfg.LLM.EmbedProvider == "openai") && cfg.OpenAI.APIKey == "" {
		return missing("OpenAI API key", "AIDE_OPENAI_API_KEY", "openai_api_key")
	}
	if cfg.LLM.Provider == "anthropic" && cfg.Anthropic.APIKey == "" {
		return missing("Anthropic API key", "AIDE_ANTHROPIC_API_KEY", "anthropic_api_key")
	}
	return nil
}

func missing(what, env, account string) error {
	return fmt.Errorf("missing required config: %s. Set it via environment variable %s%s", what, env, apiKeyHint(account))
}

// keychainReader resolves secrets through the platform keychainExec.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
