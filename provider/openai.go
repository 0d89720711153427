package provider

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"parley/config"
	"parley/model"
	"parley/transport"
)

// OpenAIProvider implements model.Provider using OpenAI's official Go SDK.
// It also serves OpenRouter and Ollama, which expose OpenAI-compatible
// chat completion endpoints under different base URLs.
type OpenAIProvider struct {
	client  openai.Client
	kind    ProviderType
	name    string
	baseURL string
	model   string
}

// NewOpenAIProvider creates an OpenAI-style provider.
//
// An API key is required for OpenAI and OpenRouter. Ollama ignores the key,
// so a placeholder is sent when none is configured.
func NewOpenAIProvider(cfg Config) (*OpenAIProvider, error) {
	kind := cfg.Type
	if kind == "" {
		kind = ProviderTypeOpenAI
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		switch kind {
		case ProviderTypeOpenRouter:
			baseURL = DefaultOpenRouterBaseURL
		case ProviderTypeOllama:
			baseURL = DefaultOllamaBaseURL
		default:
			baseURL = DefaultOpenAIBaseURL
		}
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		if kind != ProviderTypeOllama {
			return nil, fmt.Errorf("%s API key is required", kind)
		}
		apiKey = "ollama"
	}

	client := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(transport.New(cfg.HTTPClient).HTTPClient()),
		option.WithMaxRetries(0),
	)

	return &OpenAIProvider{
		client:  client,
		kind:    kind,
		name:    cfg.name(),
		baseURL: baseURL,
		model:   cfg.Model,
	}, nil
}

// Name implements model.Provider.
func (p *OpenAIProvider) Name() string {
	return p.name
}

// GetCapabilities implements model.Provider.
func (p *OpenAIProvider) GetCapabilities(modelID string) model.Capabilities {
	return ResolveCapabilities(p.kind, modelID)
}

// GenerateChatCompletion implements model.Provider.
func (p *OpenAIProvider) GenerateChatCompletion(ctx context.Context, messages []model.ChatMessage, modelID string, opts *model.CompletionOptions) (*model.ChatCompletionResult, error) {
	params := p.buildParams(messages, modelID, opts)

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, Classify(ctx, p.name, err)
	}

	result := &model.ChatCompletionResult{
		Metadata: model.CompletionMetadata{
			Model:    orDefault(completion.Model, modelID),
			Provider: p.name,
		},
	}
	if len(completion.Choices) > 0 {
		result.Content = completion.Choices[0].Message.Content
		result.Metadata.FinishReason = NormalizeFinishReason(completion.Choices[0].FinishReason)
	}
	if completion.JSON.Usage.Valid() {
		result.Metadata.Usage = openAIUsage(completion.Usage)
	}
	return result, nil
}

// StreamChatCompletion implements model.Provider.
//
// Content deltas are emitted as they arrive. The finish reason and the usage
// block (requested through stream_options) arrive on separate chunks, so
// both are held back and sent as one terminal metadata chunk.
func (p *OpenAIProvider) StreamChatCompletion(ctx context.Context, messages []model.ChatMessage, modelID string, opts *model.CompletionOptions) (*model.ChunkStream, error) {
	params := p.buildParams(messages, modelID, opts)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	log := config.Logger("provider").With().Str("provider", p.name).Str("model", modelID).Logger()
	log.Debug().Int("messages", len(params.Messages)).Msg("opening stream")

	return model.NewChunkStream(ctx, func(ctx context.Context, emit model.EmitFunc) error {
		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		meta := &model.CompletionMetadata{Model: modelID, Provider: p.name}

		for stream.Next() {
			if err := ctx.Err(); err != nil {
				return Classify(ctx, p.name, err)
			}

			chunk := stream.Current()
			if chunk.Model != "" {
				meta.Model = chunk.Model
			}
			if chunk.JSON.Usage.Valid() {
				meta.Usage = openAIUsage(chunk.Usage)
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			choice := chunk.Choices[0]
			if choice.FinishReason != "" {
				meta.FinishReason = NormalizeFinishReason(choice.FinishReason)
			}
			if choice.Delta.Content != "" {
				if err := emit(model.StreamChunk{Content: choice.Delta.Content}); err != nil {
					return Classify(ctx, p.name, err)
				}
			}
		}

		if err := stream.Err(); err != nil {
			log.Debug().Err(err).Msg("stream failed")
			return Classify(ctx, p.name, err)
		}
		if err := ctx.Err(); err != nil {
			return Classify(ctx, p.name, err)
		}

		if err := emit(model.StreamChunk{Metadata: meta}); err != nil {
			return Classify(ctx, p.name, err)
		}
		return nil
	}), nil
}

// ListModels implements model.Provider.
func (p *OpenAIProvider) ListModels(ctx context.Context) ([]model.ModelInfo, error) {
	page, err := p.client.Models.List(ctx)
	if err != nil {
		return nil, Classify(ctx, p.name, err)
	}

	result := make([]model.ModelInfo, 0, len(page.Data))
	for _, m := range page.Data {
		name := m.ID
		if p.kind == ProviderTypeOpenRouter {
			name = stripVendorPrefix(m.ID)
		}
		result = append(result, model.ModelInfo{
			ID:       m.ID,
			Name:     name,
			Provider: p.name,
		})
	}
	return result, nil
}

// Ping implements model.Provider by attempting to list models.
func (p *OpenAIProvider) Ping(ctx context.Context) error {
	if _, err := p.client.Models.List(ctx); err != nil {
		return Classify(ctx, p.name, err)
	}
	return nil
}

func (p *OpenAIProvider) buildParams(messages []model.ChatMessage, modelID string, opts *model.CompletionOptions) openai.ChatCompletionNewParams {
	if modelID == "" {
		modelID = p.model
	}
	if !p.GetCapabilities(modelID).SupportsRole(model.RoleSystem) {
		messages = foldSystemIntoFirstUser(messages)
	}

	params := openai.ChatCompletionNewParams{
		Messages:    convertToOpenAIMessages(messages),
		Model:       openai.ChatModel(modelID),
		Temperature: openai.Float(temperature(opts, openAIDefaultTemperature)),
	}
	if opts != nil && opts.MaxTokens != nil {
		// The hosted API deprecated max_tokens; compatible servers still expect it.
		if p.kind == ProviderTypeOpenAI {
			params.MaxCompletionTokens = openai.Int(*opts.MaxTokens)
		} else {
			params.MaxTokens = openai.Int(*opts.MaxTokens)
		}
	}
	if opts != nil && opts.TopP != nil {
		params.TopP = openai.Float(*opts.TopP)
	}
	return params
}

// convertToOpenAIMessages keeps system prompts inline and attaches images
// of the final message as image_url parts.
func convertToOpenAIMessages(messages []model.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))

	for i, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			result = append(result, openai.SystemMessage(msg.Content))

		case model.RoleAssistant:
			result = append(result, openai.AssistantMessage(msg.Content))

		default:
			images := imagesFor(messages, i)
			if len(images) == 0 {
				result = append(result, openai.UserMessage(msg.Content))
				continue
			}

			parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(images)+1)
			if msg.Content != "" {
				parts = append(parts, openai.TextContentPart(msg.Content))
			}
			for _, img := range images {
				parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: dataURL(img),
				}))
			}
			result = append(result, openai.UserMessage(parts))
		}
	}

	return result
}

func openAIUsage(u openai.CompletionUsage) *model.Usage {
	usage := model.NewUsage(u.PromptTokens, u.CompletionTokens)
	if u.TotalTokens > 0 {
		usage.TotalTokens = u.TotalTokens
	}
	return usage
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
