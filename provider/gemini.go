package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"parley/config"
	"parley/model"
	"parley/transport"
)

// GeminiProvider implements model.Provider against the Gemini REST API.
// There is no Gemini SDK in parley's stack; requests go through the
// transport package.
type GeminiProvider struct {
	http    *transport.Client
	name    string
	baseURL string
	apiKey  string
	model   string
}

// NewGeminiProvider creates a Gemini provider.
//
// Returns an error if the API key is missing.
func NewGeminiProvider(cfg Config) (*GeminiProvider, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}

	defaultModel := cfg.Model
	if defaultModel == "" {
		defaultModel = "gemini-2.5-flash"
	}

	return &GeminiProvider{
		http:    transport.New(cfg.HTTPClient),
		name:    cfg.name(),
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   defaultModel,
	}, nil
}

// Name implements model.Provider.
func (p *GeminiProvider) Name() string {
	return p.name
}

// GetCapabilities implements model.Provider.
func (p *GeminiProvider) GetCapabilities(modelID string) model.Capabilities {
	return ResolveCapabilities(ProviderTypeGemini, modelID)
}

// GenerateChatCompletion implements model.Provider.
func (p *GeminiProvider) GenerateChatCompletion(ctx context.Context, messages []model.ChatMessage, modelID string, opts *model.CompletionOptions) (*model.ChatCompletionResult, error) {
	modelID = p.modelName(modelID)

	var resp geminiResponse
	err := p.http.PostJSON(ctx, p.endpoint(modelID, "generateContent"), buildGeminiRequest(messages, opts), &resp, p.auth())
	if err != nil {
		return nil, Classify(ctx, p.name, err)
	}

	result := &model.ChatCompletionResult{
		Content: resp.text(),
		Metadata: model.CompletionMetadata{
			Model:        orDefault(resp.ModelVersion, modelID),
			Provider:     p.name,
			FinishReason: NormalizeFinishReason(resp.finishReason()),
		},
	}
	if resp.UsageMetadata != nil {
		result.Metadata.Usage = resp.UsageMetadata.usage()
	}
	return result, nil
}

// StreamChatCompletion implements model.Provider using streamGenerateContent
// with alt=sse. Each event carries the next text fragment plus the running
// usage; the last one carries finishReason.
func (p *GeminiProvider) StreamChatCompletion(ctx context.Context, messages []model.ChatMessage, modelID string, opts *model.CompletionOptions) (*model.ChunkStream, error) {
	modelID = p.modelName(modelID)
	body := buildGeminiRequest(messages, opts)

	log := config.Logger("provider").With().Str("provider", p.name).Str("model", modelID).Logger()
	log.Debug().Int("contents", len(body.Contents)).Bool("system", body.SystemInstruction != nil).Msg("opening stream")

	return model.NewChunkStream(ctx, func(ctx context.Context, emit model.EmitFunc) error {
		events, err := p.http.Stream(ctx, p.endpoint(modelID, "streamGenerateContent")+"?alt=sse", body, p.auth())
		if err != nil {
			return Classify(ctx, p.name, err)
		}
		defer events.Close()

		meta := &model.CompletionMetadata{Model: modelID, Provider: p.name}

		for {
			if err := ctx.Err(); err != nil {
				return Classify(ctx, p.name, err)
			}

			event, err := events.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				log.Debug().Err(err).Msg("stream failed")
				return Classify(ctx, p.name, err)
			}

			if errBody := gjson.Get(event.Data, "error"); errBody.Exists() {
				return fromResponse(p.name, int(errBody.Get("code").Int()), nil, []byte(event.Data), errors.New(errBody.Get("message").String()))
			}

			var resp geminiResponse
			if err := json.Unmarshal([]byte(event.Data), &resp); err != nil {
				return Classify(ctx, p.name, fmt.Errorf("failed to decode stream chunk: %w", err))
			}

			if resp.ModelVersion != "" {
				meta.Model = resp.ModelVersion
			}
			if resp.UsageMetadata != nil {
				meta.Usage = resp.UsageMetadata.usage()
			}
			if reason := resp.finishReason(); reason != "" {
				meta.FinishReason = NormalizeFinishReason(reason)
			}
			if text := resp.text(); text != "" {
				if err := emit(model.StreamChunk{Content: text}); err != nil {
					return Classify(ctx, p.name, err)
				}
			}
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

// ListModels implements model.Provider, keeping only models that support
// generateContent.
func (p *GeminiProvider) ListModels(ctx context.Context) ([]model.ModelInfo, error) {
	var result []model.ModelInfo
	pageToken := ""

	for {
		query := url.Values{"pageSize": {"1000"}}
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}

		var list geminiModelList
		if err := p.http.GetJSON(ctx, p.baseURL+"/models?"+query.Encode(), &list, p.auth()); err != nil {
			return nil, Classify(ctx, p.name, err)
		}

		for _, m := range list.Models {
			if !containsString(m.SupportedGenerationMethods, "generateContent") {
				continue
			}
			id := strings.TrimPrefix(m.Name, "models/")
			result = append(result, model.ModelInfo{
				ID:       id,
				Name:     orDefault(m.DisplayName, id),
				Provider: p.name,
			})
		}

		if list.NextPageToken == "" {
			return result, nil
		}
		pageToken = list.NextPageToken
	}
}

// Ping implements model.Provider with a one-entry model listing.
func (p *GeminiProvider) Ping(ctx context.Context) error {
	if err := p.http.GetJSON(ctx, p.baseURL+"/models?pageSize=1", nil, p.auth()); err != nil {
		return Classify(ctx, p.name, err)
	}
	return nil
}

func (p *GeminiProvider) modelName(modelID string) string {
	if modelID == "" {
		modelID = p.model
	}
	return strings.TrimPrefix(modelID, "models/")
}

func (p *GeminiProvider) endpoint(modelID, method string) string {
	return fmt.Sprintf("%s/models/%s:%s", p.baseURL, url.PathEscape(modelID), method)
}

func (p *GeminiProvider) auth() transport.Option {
	return transport.WithHeader("x-goog-api-key", p.apiKey)
}

// buildGeminiRequest moves system prompts into systemInstruction, renames
// the assistant role to "model", and attaches images of the final message
// as inlineData parts.
func buildGeminiRequest(messages []model.ChatMessage, opts *model.CompletionOptions) *geminiRequest {
	system, turns := splitSystem(messages)

	req := &geminiRequest{
		Contents: make([]geminiContent, 0, len(turns)),
	}
	if len(system) > 0 {
		parts := make([]geminiPart, 0, len(system))
		for _, text := range system {
			parts = append(parts, geminiPart{Text: text})
		}
		req.SystemInstruction = &geminiContent{Role: "user", Parts: parts}
	}

	for i, msg := range turns {
		role := "user"
		if msg.Role == model.RoleAssistant {
			role = "model"
		}

		parts := make([]geminiPart, 0, 1)
		if msg.Content != "" {
			parts = append(parts, geminiPart{Text: msg.Content})
		}
		for _, img := range imagesFor(turns, i) {
			parts = append(parts, geminiPart{InlineData: &geminiInlineData{
				MimeType: img.MediaType(),
				Data:     img.Payload(),
			}})
		}
		if len(parts) == 0 {
			parts = append(parts, geminiPart{Text: ""})
		}
		req.Contents = append(req.Contents, geminiContent{Role: role, Parts: parts})
	}

	temp := temperature(opts, geminiDefaultTemperature)
	req.GenerationConfig = &geminiGenerationConfig{Temperature: &temp}
	if opts != nil {
		req.GenerationConfig.TopP = opts.TopP
		req.GenerationConfig.MaxOutputTokens = opts.MaxTokens
	}
	return req
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
