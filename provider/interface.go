// Package provider implements parley's vendor adapters.
//
// Every vendor (OpenAI, Anthropic, Gemini and the OpenAI-compatible hosts
// OpenRouter and Ollama) is exposed through the model.Provider interface so
// the chat layer never branches on vendor names.
//
// # Responsibilities
//
//   - Translating []model.ChatMessage into each vendor's request body
//     (system prompt placement, role renaming, image parts)
//   - Translating vendor responses and SSE streams back into
//     model.ChatCompletionResult and model.StreamChunk
//   - Normalizing finish reasons and token usage
//   - Classifying every failure into a *Error (see classify.go)
//   - Caching adapters per connection (see manager.go)
//
// # Usage
//
//	p, err := provider.NewProvider(provider.Config{
//	    ID:     "anthropic",
//	    Type:   provider.ProviderTypeAnthropic,
//	    APIKey: "sk-ant-...",
//	})
//	if err != nil {
//	    // handle error
//	}
//	stream, err := p.StreamChatCompletion(ctx, messages, "claude-sonnet-4-5-20250929", nil)
//	for chunk := range stream.Chunks() {
//	    fmt.Print(chunk.Content)
//	}
//	err = stream.Err()
package provider

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
)

// Note: The Provider interface is defined in the model package
// (model/provider.go) to avoid import cycles. This package implements model.Provider.

// ProviderType identifies the provider implementation.
type ProviderType string

const (
	ProviderTypeOllama     ProviderType = "ollama"
	ProviderTypeOpenRouter ProviderType = "openrouter"
	ProviderTypeOpenAI     ProviderType = "openai"
	ProviderTypeAnthropic  ProviderType = "anthropic"
	ProviderTypeGemini     ProviderType = "gemini"
)

// Default base URLs per provider type.
const (
	DefaultOpenAIBaseURL     = "https://api.openai.com/v1"
	DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	DefaultOllamaBaseURL     = "http://localhost:11434/v1"
	DefaultAnthropicBaseURL  = "https://api.anthropic.com"
	DefaultGeminiBaseURL     = "https://generativelanguage.googleapis.com/v1beta"
)

// Config describes one provider connection.
type Config struct {
	// ID is the connection identifier used for caching and metadata.
	ID      string
	Type    ProviderType
	BaseURL string
	APIKey  string
	// Model is the connection's default model, used by Ping where the
	// vendor has no cheaper health endpoint.
	Model string
	// HTTPClient overrides the shared transport. Tests point it at httptest.
	HTTPClient *http.Client
}

// name is the identifier reported as CompletionMetadata.Provider.
func (c Config) name() string {
	if c.ID != "" {
		return c.ID
	}
	return string(c.Type)
}

// Fingerprint identifies the parts of a Config that require a fresh adapter
// when they change. The API key is hashed so fingerprints can be logged.
func (c Config) Fingerprint() string {
	h := sha256.New()
	for _, part := range []string{c.ID, string(c.Type), c.BaseURL, c.APIKey, c.Model} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:12])
}
