package engine

import (
	"fmt"
	"time"
)

// Provider names accepted by Detect.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

var defaultChatModels = map[string]string{
	ProviderOllama:    "llama3.1",
	ProviderOpenAI:    "gpt-4o",
	ProviderAnthropic: "claude-3-5-sonnet-latest",
}

var defaultEmbedModels = map[string]string{
	ProviderOllama: "nomic-embed-text",
	ProviderOpenAI: "text-embedding-3-small",
}

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	Provider      string
	EmbedProvider string
	ChatModel     string
	EmbedModel    string
	Timeout       time.Duration

	OllamaBaseURL string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	AnthropicKey  string
}

// Backend is the resolved completion/embedding pair. Local is set when any
// half runs on Ollama, together with the models it must host.
type Backend struct {
	Completer   Completer
	Embedder    Embedder
	Local       *OllamaEngine
	LocalModels []string
}

// Detect builds the configured completer and embedder.
func Detect(cfg DetectConfig) (Backend, error) {
	if cfg.Provider == "" {
		cfg.Provider = ProviderOllama
	}
	if cfg.EmbedProvider == "" {
		cfg.EmbedProvider = ProviderOllama
	}
	chatModel := cfg.ChatModel
	if chatModel == "" {
		chatModel = defaultChatModels[cfg.Provider]
	}
	embedModel := cfg.EmbedModel
	if embedModel == "" {
		embedModel = defaultEmbedModels[cfg.EmbedProvider]
	}

	var b Backend
	local := func() *OllamaEngine {
		if b.Local == nil {
			b.Local = NewOllamaEngine(cfg.OllamaBaseURL, chatModel, embedModel)
		}
		return b.Local
	}

	switch cfg.Provider {
	case ProviderOllama:
		b.Completer = local()
		b.LocalModels = append(b.LocalModels, chatModel)
	case ProviderOpenAI:
		b.Completer = NewOpenAIEngine(OpenAIConfig{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			ChatModel:  chatModel,
			EmbedModel: embedModel,
		})
	case ProviderAnthropic:
		b.Completer = NewAnthropicEngine(AnthropicConfig{
			APIKey:    cfg.AnthropicKey,
			ChatModel: chatModel,
		})
	default:
		return Backend{}, fmt.Errorf("unknown completion provider %q", cfg.Provider)
	}

	switch cfg.EmbedProvider {
	case ProviderOllama:
		b.Embedder = local()
		b.LocalModels = append(b.LocalModels, embedModel)
	case ProviderOpenAI:
		if oe, ok := b.Completer.(*OpenAIEngine); ok {
			b.Embedder = oe
		} else {
			b.Embedder = NewOpenAIEngine(OpenAIConfig{
				APIKey:     cfg.OpenAIAPIKey,
				BaseURL:    cfg.OpenAIBaseURL,
				EmbedModel: embedModel,
			})
		}
	default:
		return Backend{}, fmt.Errorf("provider %q cannot produce embeddings", cfg.EmbedProvider)
	}

	b.Completer = Bounded(b.Completer, cfg.Timeout)
	return b, nil
}
