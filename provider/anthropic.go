package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"parley/config"
	"parley/model"
	"parley/transport"
)

// AnthropicProvider implements model.Provider using Anthropic's official Go SDK.
type AnthropicProvider struct {
	client  *anthropic.Client
	name    string
	baseURL string
	model   anthropic.Model
}

// anthropicModels is served by ListModels. The catalogue is compiled in so
// listing never costs a request.
var anthropicModels = []anthropic.Model{
	anthropic.ModelClaudeSonnet4_5_20250929,
	anthropic.ModelClaude3_5Haiku20241022,
	anthropic.ModelClaude_3_Opus_20240229,
	anthropic.ModelClaude_3_Haiku_20240307,
}

// NewAnthropicProvider creates a new Anthropic provider instance.
//
// Returns an error if the API key is missing.
func NewAnthropicProvider(cfg Config) (*AnthropicProvider, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultAnthropicBaseURL
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required")
	}

	defaultModel := anthropic.ModelClaudeSonnet4_5_20250929
	if cfg.Model != "" {
		defaultModel = anthropic.Model(cfg.Model)
	}

	client := anthropic.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(transport.New(cfg.HTTPClient).HTTPClient()),
		option.WithMaxRetries(0),
	)

	return &AnthropicProvider{
		client:  &client,
		name:    cfg.name(),
		baseURL: baseURL,
		model:   defaultModel,
	}, nil
}

// Name implements model.Provider.
func (p *AnthropicProvider) Name() string {
	return p.name
}

// GetCapabilities implements model.Provider.
func (p *AnthropicProvider) GetCapabilities(modelID string) model.Capabilities {
	return ResolveCapabilities(ProviderTypeAnthropic, modelID)
}

// GenerateChatCompletion implements model.Provider.
func (p *AnthropicProvider) GenerateChatCompletion(ctx context.Context, messages []model.ChatMessage, modelID string, opts *model.CompletionOptions) (*model.ChatCompletionResult, error) {
	params := p.buildParams(messages, modelID, opts)

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, Classify(ctx, p.name, err)
	}

	var content strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &model.ChatCompletionResult{
		Content: content.String(),
		Metadata: model.CompletionMetadata{
			Model:        orDefault(string(msg.Model), string(params.Model)),
			Provider:     p.name,
			Usage:        model.NewUsage(msg.Usage.InputTokens, msg.Usage.OutputTokens),
			FinishReason: NormalizeFinishReason(string(msg.StopReason)),
		},
	}, nil
}

// StreamChatCompletion implements model.Provider.
//
// message_start carries the prompt token count, content_block_delta the
// text, message_delta the stop reason and output token count, and
// message_stop ends the stream. An error event aborts immediately.
func (p *AnthropicProvider) StreamChatCompletion(ctx context.Context, messages []model.ChatMessage, modelID string, opts *model.CompletionOptions) (*model.ChunkStream, error) {
	params := p.buildParams(messages, modelID, opts)

	log := config.Logger("provider").With().Str("provider", p.name).Str("model", string(params.Model)).Logger()
	log.Debug().Int("messages", len(params.Messages)).Int("system_blocks", len(params.System)).Msg("opening stream")

	return model.NewChunkStream(ctx, func(ctx context.Context, emit model.EmitFunc) error {
		stream := p.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		meta := &model.CompletionMetadata{Model: string(params.Model), Provider: p.name}
		var promptTokens, completionTokens int64

	events:
		for stream.Next() {
			if err := ctx.Err(); err != nil {
				return Classify(ctx, p.name, err)
			}

			switch event := stream.Current().AsAny().(type) {
			case anthropic.MessageStartEvent:
				promptTokens = event.Message.Usage.InputTokens
				if event.Message.Model != "" {
					meta.Model = string(event.Message.Model)
				}

			case anthropic.ContentBlockDeltaEvent:
				if delta, ok := event.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
					if err := emit(model.StreamChunk{Content: delta.Text}); err != nil {
						return Classify(ctx, p.name, err)
					}
				}

			case anthropic.MessageDeltaEvent:
				meta.FinishReason = NormalizeFinishReason(string(event.Delta.StopReason))
				completionTokens = event.Usage.OutputTokens

			case anthropic.MessageStopEvent:
				break events
			}
		}

		if err := stream.Err(); err != nil {
			log.Debug().Err(err).Msg("stream failed")
			return Classify(ctx, p.name, err)
		}
		if err := ctx.Err(); err != nil {
			return Classify(ctx, p.name, err)
		}

		meta.Usage = model.NewUsage(promptTokens, completionTokens)
		if err := emit(model.StreamChunk{Metadata: meta}); err != nil {
			return Classify(ctx, p.name, err)
		}
		return nil
	}), nil
}

// ListModels implements model.Provider from the compiled-in catalogue.
func (p *AnthropicProvider) ListModels(ctx context.Context) ([]model.ModelInfo, error) {
	result := make([]model.ModelInfo, 0, len(anthropicModels))
	for _, m := range anthropicModels {
		result = append(result, model.ModelInfo{
			ID:       string(m),
			Name:     string(m),
			Provider: p.name,
		})
	}
	return result, nil
}

// Ping implements model.Provider with a one-token request, since Anthropic
// has no health endpoint.
func (p *AnthropicProvider) Ping(ctx context.Context) error {
	_, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	if err != nil {
		return Classify(ctx, p.name, err)
	}
	return nil
}

func (p *AnthropicProvider) buildParams(messages []model.ChatMessage, modelID string, opts *model.CompletionOptions) anthropic.MessageNewParams {
	m := p.model
	if modelID != "" {
		m = anthropic.Model(modelID)
	}

	maxTokens := p.GetCapabilities(string(m)).MaxTokensDefault
	if opts != nil && opts.MaxTokens != nil && *opts.MaxTokens > 0 {
		maxTokens = *opts.MaxTokens
	}

	anthropicMessages, system := convertToAnthropicMessages(messages)
	params := anthropic.MessageNewParams{
		Model:       m,
		Messages:    anthropicMessages,
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(temperature(opts, anthropicDefaultTemperature)),
	}
	if len(system) > 0 {
		params.System = system
	}
	if opts != nil && opts.TopP != nil {
		params.TopP = anthropic.Float(*opts.TopP)
	}
	return params
}

// convertToAnthropicMessages moves system prompts into top-level system
// blocks and attaches images of the final message as base64 image blocks.
func convertToAnthropicMessages(messages []model.ChatMessage) ([]anthropic.MessageParam, []anthropic.TextBlockParam) {
	system, turns := splitSystem(messages)

	blocks := make([]anthropic.TextBlockParam, 0, len(system))
	for _, text := range system {
		blocks = append(blocks, anthropic.TextBlockParam{Text: text})
	}

	result := make([]anthropic.MessageParam, 0, len(turns))
	for i, msg := range turns {
		if msg.Role == model.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
			continue
		}

		images := imagesFor(turns, i)
		content := make([]anthropic.ContentBlockParamUnion, 0, len(images)+1)
		for _, img := range images {
			content = append(content, anthropic.NewImageBlockBase64(img.MediaType(), img.Payload()))
		}
		if msg.Content != "" || len(content) == 0 {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		result = append(result, anthropic.NewUserMessage(content...))
	}

	return result, blocks
}
