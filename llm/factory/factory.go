// Package factory builds the provider registry used by the relay. It imports
// every provider sub-package and registers one strategy per provider ID,
// breaking the import cycle that would occur if this logic lived in the llm
// package directly.
package factory

import (
	"fmt"

	"github.com/BaSui01/chatrelay/llm"
	"github.com/BaSui01/chatrelay/llm/providers"
	claude "github.com/BaSui01/chatrelay/llm/providers/anthropic"
	"github.com/BaSui01/chatrelay/llm/providers/gemini"
	"github.com/BaSui01/chatrelay/llm/providers/mistral"
	"github.com/BaSui01/chatrelay/llm/providers/openai"
	"github.com/BaSui01/chatrelay/llm/providers/openaicompat"
	"go.uber.org/zap"
)

// Config holds per-provider settings. Zero values fall back to each
// provider's public endpoint.
type Config struct {
	// DefaultTemperature is the global fallback used when neither the request
	// nor the app supplies a temperature. Zero means llm.DefaultTemperature.
	DefaultTemperature float64 `json:"default_temperature" yaml:"default_temperature"`

	OpenAI    providers.OpenAIConfig  `json:"openai" yaml:"openai"`
	Anthropic providers.ClaudeConfig  `json:"anthropic" yaml:"anthropic"`
	Google    providers.GeminiConfig  `json:"google" yaml:"google"`
	Mistral   providers.MistralConfig `json:"mistral" yaml:"mistral"`
	Local     providers.LocalConfig   `json:"local" yaml:"local"`
}

// NewProvider creates the strategy for a single provider ID.
// Unknown IDs return *llm.UnsupportedProviderError.
func NewProvider(id llm.ProviderID, cfg Config) (llm.Provider, error) {
	switch id {
	case llm.ProviderOpenAI:
		return openai.NewOpenAIProvider(cfg.OpenAI), nil
	case llm.ProviderAnthropic:
		return claude.NewClaudeProvider(cfg.Anthropic), nil
	case llm.ProviderGoogle:
		return gemini.NewGeminiProvider(cfg.Google), nil
	case llm.ProviderMistral:
		return mistral.NewMistralProvider(cfg.Mistral), nil
	case llm.ProviderLocal:
		return NewLocalProvider(cfg.Local), nil
	default:
		return nil, &llm.UnsupportedProviderError{Provider: id}
	}
}

// NewLocalProvider creates the strategy for self-hosted OpenAI-compatible
// endpoints (Ollama, vLLM, LM Studio). Credentials are optional and each
// model normally carries its own URL.
func NewLocalProvider(cfg providers.LocalConfig) *openaicompat.Provider {
	return openaicompat.New(openaicompat.Config{
		ID:            llm.ProviderLocal,
		BaseURL:       cfg.BaseURL,
		AllowEmptyKey: true,
	})
}

// SupportedProviders returns the provider IDs registered by NewRegistry.
func SupportedProviders() []llm.ProviderID {
	return []llm.ProviderID{
		llm.ProviderOpenAI,
		llm.ProviderAnthropic,
		llm.ProviderGoogle,
		llm.ProviderMistral,
		llm.ProviderLocal,
	}
}

// NewRegistry creates a registry with every supported provider registered.
func NewRegistry(cfg Config, logger *zap.Logger) (*llm.Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []llm.RegistryOption{llm.WithLogger(logger)}
	if cfg.DefaultTemperature > 0 {
		opts = append(opts, llm.WithDefaultTemperature(cfg.DefaultTemperature))
	}
	reg := llm.NewRegistry(opts...)

	for _, id := range SupportedProviders() {
		p, err := NewProvider(id, cfg)
		if err != nil {
			return nil, fmt.Errorf("create provider %s: %w", id, err)
		}
		reg.Register(p)
		logger.Debug("provider registered", zap.String("provider", string(id)))
	}
	return reg, nil
}
