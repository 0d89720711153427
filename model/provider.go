package model

import "context"

// Provider abstracts one vendor connection (OpenAI, Anthropic, Gemini and the
// OpenAI-compatible hosts) using parley's provider-agnostic types.
//
// This interface is defined in the model package (not provider package) to avoid
// import cycles: provider implementations import model, and the chat layer can
// depend on Provider without importing the provider package.
//
// Every failure returned by an implementation is a *provider.Error.
type Provider interface {
	// Name returns the provider identifier reported in completion metadata.
	Name() string

	// ListModels returns the models available on this connection.
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// GetCapabilities is a pure lookup. It never fails and never touches
	// the network.
	GetCapabilities(model string) Capabilities

	// GenerateChatCompletion performs a single non-streaming round trip.
	GenerateChatCompletion(ctx context.Context, messages []ChatMessage, model string, opts *CompletionOptions) (*ChatCompletionResult, error)

	// StreamChatCompletion opens a stream. Cancelling ctx aborts the
	// underlying request and ends the stream with a cancelled error.
	StreamChatCompletion(ctx context.Context, messages []ChatMessage, model string, opts *CompletionOptions) (*ChunkStream, error)

	// Ping checks if the provider is reachable with the configured credentials.
	Ping(ctx context.Context) error
}
