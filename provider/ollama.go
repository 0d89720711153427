package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"parley/model"
	"parley/transport"
)

// OllamaProvider talks to a local Ollama server. Chat goes through Ollama's
// OpenAI-compatible endpoint; model listing and health checks use the
// native API, which reports installed models with their sizes.
type OllamaProvider struct {
	*OpenAIProvider
	native *api.Client
}

// NewOllamaProvider creates an Ollama provider. BaseURL may point at either
// the server root or its /v1 endpoint. No API key is needed.
func NewOllamaProvider(cfg Config) (*OllamaProvider, error) {
	cfg.Type = ProviderTypeOllama
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaBaseURL
	}

	root := strings.TrimSuffix(strings.TrimRight(cfg.BaseURL, "/"), "/v1")
	parsed, err := url.Parse(root)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL: %w", err)
	}
	cfg.BaseURL = root + "/v1"

	compat, err := NewOpenAIProvider(cfg)
	if err != nil {
		return nil, err
	}

	return &OllamaProvider{
		OpenAIProvider: compat,
		native:         api.NewClient(parsed, transport.New(cfg.HTTPClient).HTTPClient()),
	}, nil
}

// ListModels implements model.Provider using the native tags endpoint.
func (p *OllamaProvider) ListModels(ctx context.Context) ([]model.ModelInfo, error) {
	resp, err := p.native.List(ctx)
	if err != nil {
		return nil, Classify(ctx, p.name, err)
	}

	models := make([]model.ModelInfo, len(resp.Models))
	for i, m := range resp.Models {
		models[i] = model.ModelInfo{
			ID:       m.Name,
			Name:     m.Name,
			Provider: p.name,
			Size:     m.Size,
		}
	}
	return models, nil
}

// Ping implements model.Provider by listing installed models.
func (p *OllamaProvider) Ping(ctx context.Context) error {
	if _, err := p.native.List(ctx); err != nil {
		return Classify(ctx, p.name, err)
	}
	return nil
}
