package testutil

import (
	"context"
	"sync"

	"parley/model"
)

// Call records one completion request received by a MockProvider.
type Call struct {
	Messages []model.ChatMessage
	Model    string
	Stream   bool
}

// MockProvider implements model.Provider for testing. Every method delegates
// to an overridable func field.
type MockProvider struct {
	// Configurable responses
	GenerateFunc     func(ctx context.Context, messages []model.ChatMessage, modelID string, opts *model.CompletionOptions) (*model.ChatCompletionResult, error)
	StreamFunc       func(ctx context.Context, messages []model.ChatMessage, modelID string, opts *model.CompletionOptions) (*model.ChunkStream, error)
	ListModelsFunc   func(ctx context.Context) ([]model.ModelInfo, error)
	PingFunc         func(ctx context.Context) error
	CapabilitiesFunc func(modelID string) model.Capabilities

	// State
	name  string
	mu    sync.Mutex
	calls []Call
}

// NewMockProvider creates a mock provider with default implementations
func NewMockProvider(name string) *MockProvider {
	mock := &MockProvider{name: name}
	mock.GenerateFunc = mock.defaultGenerate
	mock.StreamFunc = StreamOf(model.StreamChunk{Content: "Mock response"})
	mock.ListModelsFunc = mock.defaultListModels
	mock.PingFunc = func(ctx context.Context) error { return nil }
	mock.CapabilitiesFunc = func(string) model.Capabilities {
		return model.Capabilities{
			SupportsStreaming: true,
			SupportedRoles:    []model.Role{model.RoleUser, model.RoleAssistant, model.RoleSystem},
		}
	}
	return mock
}

func (m *MockProvider) defaultGenerate(ctx context.Context, messages []model.ChatMessage, modelID string, opts *model.CompletionOptions) (*model.ChatCompletionResult, error) {
	return &model.ChatCompletionResult{
		Content:  "Mock response",
		Metadata: model.CompletionMetadata{Model: modelID, Provider: m.name, FinishReason: model.FinishStop},
	}, nil
}

func (m *MockProvider) defaultListModels(ctx context.Context) ([]model.ModelInfo, error) {
	return []model.ModelInfo{
		{ID: "mock-model-1", Name: "mock-model-1", Provider: m.name},
		{ID: "mock-model-2", Name: "mock-model-2", Provider: m.name},
	}, nil
}

func (m *MockProvider) record(messages []model.ChatMessage, modelID string, stream bool) {
	snapshot := make([]model.ChatMessage, len(messages))
	copy(snapshot, messages)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Messages: snapshot, Model: modelID, Stream: stream})
}

// Calls returns the requests received so far.
func (m *MockProvider) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockProvider) Name() string {
	return m.name
}

func (m *MockProvider) GetCapabilities(modelID string) model.Capabilities {
	return m.CapabilitiesFunc(modelID)
}

func (m *MockProvider) GenerateChatCompletion(ctx context.Context, messages []model.ChatMessage, modelID string, opts *model.CompletionOptions) (*model.ChatCompletionResult, error) {
	m.record(messages, modelID, false)
	return m.GenerateFunc(ctx, messages, modelID, opts)
}

func (m *MockProvider) StreamChatCompletion(ctx context.Context, messages []model.ChatMessage, modelID string, opts *model.CompletionOptions) (*model.ChunkStream, error) {
	m.record(messages, modelID, true)
	return m.StreamFunc(ctx, messages, modelID, opts)
}

func (m *MockProvider) ListModels(ctx context.Context) ([]model.ModelInfo, error) {
	return m.ListModelsFunc(ctx)
}

func (m *MockProvider) Ping(ctx context.Context) error {
	return m.PingFunc(ctx)
}

// StreamOf returns a StreamFunc that emits chunks in order.
func StreamOf(chunks ...model.StreamChunk) func(context.Context, []model.ChatMessage, string, *model.CompletionOptions) (*model.ChunkStream, error) {
	return func(ctx context.Context, _ []model.ChatMessage, _ string, _ *model.CompletionOptions) (*model.ChunkStream, error) {
		return model.NewChunkStream(ctx, func(ctx context.Context, emit model.EmitFunc) error {
			for _, c := range chunks {
				if err := emit(c); err != nil {
					return err
				}
			}
			return nil
		}), nil
	}
}

// StreamThenFail emits chunks and then ends the stream with err.
func StreamThenFail(err error, chunks ...model.StreamChunk) func(context.Context, []model.ChatMessage, string, *model.CompletionOptions) (*model.ChunkStream, error) {
	return func(ctx context.Context, _ []model.ChatMessage, _ string, _ *model.CompletionOptions) (*model.ChunkStream, error) {
		return model.NewChunkStream(ctx, func(ctx context.Context, emit model.EmitFunc) error {
			for _, c := range chunks {
				if e := emit(c); e != nil {
					return e
				}
			}
			return err
		}), nil
	}
}

// HangingStream emits chunks, signals sent, then blocks until the request
// context is cancelled and returns the context error, the way a real
// transport does when a stream is aborted mid-flight.
func HangingStream(sent chan<- struct{}, chunks ...model.StreamChunk) func(context.Context, []model.ChatMessage, string, *model.CompletionOptions) (*model.ChunkStream, error) {
	return func(ctx context.Context, _ []model.ChatMessage, _ string, _ *model.CompletionOptions) (*model.ChunkStream, error) {
		return model.NewChunkStream(ctx, func(ctx context.Context, emit model.EmitFunc) error {
			for _, c := range chunks {
				if err := emit(c); err != nil {
					return err
				}
			}
			close(sent)
			<-ctx.Done()
			return ctx.Err()
		}), nil
	}
}
