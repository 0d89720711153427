package provider

import (
	"fmt"

	"parley/model"
)

// NewProvider creates a provider based on configuration.
//
// This is the centralized factory function for creating any provider type.
// It dispatches on Config.Type once; nothing downstream branches on vendor
// names again.
//
// Supported provider types:
//   - ProviderTypeOpenAI: OpenAI API
//   - ProviderTypeOpenRouter: OpenRouter (OpenAI-compatible)
//   - ProviderTypeOllama: local Ollama (OpenAI-compatible chat, native model listing)
//   - ProviderTypeAnthropic: Anthropic Messages API
//   - ProviderTypeGemini: Gemini generateContent API
//
// Returns an error if the type is unknown or the vendor constructor rejects
// the configuration (for example a missing API key). No network call is made.
func NewProvider(cfg Config) (model.Provider, error) {
	var (
		p   model.Provider
		err error
	)
	switch cfg.Type {
	case ProviderTypeOpenAI, ProviderTypeOpenRouter:
		p, err = NewOpenAIProvider(cfg)
	case ProviderTypeOllama:
		p, err = NewOllamaProvider(cfg)
	case ProviderTypeAnthropic:
		p, err = NewAnthropicProvider(cfg)
	case ProviderTypeGemini:
		p, err = NewGeminiProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
	if err != nil {
		// Keep the interface nil rather than wrapping a typed nil pointer.
		return nil, err
	}
	return p, nil
}

// MapProviderIDToType converts a connection ID to a ProviderType.
//
// Connections written by hand often omit `type` and rely on the
// conventional IDs ("openai", "anthropic", ...). For unknown IDs the ID is
// returned as-is and the factory reports it.
func MapProviderIDToType(id string) ProviderType {
	switch id {
	case "ollama":
		return ProviderTypeOllama
	case "openrouter":
		return ProviderTypeOpenRouter
	case "openai":
		return ProviderTypeOpenAI
	case "anthropic", "claude":
		return ProviderTypeAnthropic
	case "gemini", "google":
		return ProviderTypeGemini
	default:
		return ProviderType(id)
	}
}
