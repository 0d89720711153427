package provider_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"parley/model"
	"parley/provider"
	"parley/provider/testutil"
)

// vendor describes how one adapter talks HTTP so the same contract can be
// asserted against every implementation.
type vendor struct {
	name    string
	typ     provider.ProviderType
	modelID string
	// turns is the gjson path of the conversational array in a request.
	turns string
	// isStream reports whether a request asked for a stream.
	isStream func(r *http.Request, body []byte) bool
	// stream and complete render a successful response for texts.
	stream   func(texts []string) []testutil.SSEEvent
	complete func(texts []string) string
	// overloaded, when set, renders a stream that fails with the vendor's
	// in-band overload error after texts.
	overloaded func(texts []string) []testutil.SSEEvent
}

var vendors = []vendor{
	{
		name:    "openai",
		typ:     provider.ProviderTypeOpenAI,
		modelID: "gpt-4o-mini",
		turns:   "messages",
		isStream: func(_ *http.Request, body []byte) bool {
			return gjson.GetBytes(body, "stream").Bool()
		},
		stream: func(texts []string) []testutil.SSEEvent {
			return testutil.OpenAIStream("gpt-4o-mini", texts, "stop", 10, 3)
		},
		complete: func(texts []string) string {
			return testutil.OpenAICompletion("gpt-4o-mini", strings.Join(texts, ""), "stop", 10, 3)
		},
	},
	{
		name:    "anthropic",
		typ:     provider.ProviderTypeAnthropic,
		modelID: "claude-sonnet-4-5-20250929",
		turns:   "messages",
		isStream: func(_ *http.Request, body []byte) bool {
			return gjson.GetBytes(body, "stream").Bool()
		},
		stream: func(texts []string) []testutil.SSEEvent {
			return testutil.AnthropicStream("claude-sonnet-4-5-20250929", texts, "end_turn", 10, 3)
		},
		complete: func(texts []string) string {
			return testutil.AnthropicMessage("claude-sonnet-4-5-20250929", strings.Join(texts, ""), "end_turn", 10, 3)
		},
		overloaded: func(texts []string) []testutil.SSEEvent {
			events := testutil.AnthropicStream("claude-sonnet-4-5-20250929", texts, "end_turn", 10, 3)
			for i, ev := range events {
				if ev.Name == "content_block_stop" {
					events = events[:i]
					break
				}
			}
			return append(events, testutil.SSEEvent{
				Name: "error",
				Data: `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`,
			})
		},
	},
	{
		name:    "gemini",
		typ:     provider.ProviderTypeGemini,
		modelID: "gemini-2.5-flash",
		turns:   "contents",
		isStream: func(r *http.Request, _ []byte) bool {
			return strings.Contains(r.URL.Path, ":streamGenerateContent")
		},
		stream: func(texts []string) []testutil.SSEEvent {
			return testutil.GeminiStream("gemini-2.5-flash", texts, "STOP", 10, 3)
		},
		complete: func(texts []string) string {
			return testutil.GeminiResponse("gemini-2.5-flash", texts, "STOP", 10, 3)
		},
	},
}

// recorder keeps the bodies of requests a test server received.
type recorder struct {
	mu     sync.Mutex
	bodies [][]byte
}

func (r *recorder) add(body []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bodies = append(r.bodies, body)
}

func (r *recorder) last(t *testing.T) gjson.Result {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.bodies, "no request recorded")
	return gjson.ParseBytes(r.bodies[len(r.bodies)-1])
}

func newAdapter(t *testing.T, v vendor, handler http.HandlerFunc) model.Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := provider.NewProvider(provider.Config{
		ID:         v.name,
		Type:       v.typ,
		BaseURL:    server.URL,
		APIKey:     "test-key",
		HTTPClient: server.Client(),
	})
	require.NoError(t, err)
	return p
}

func serveSuccess(v vendor, rec *recorder, texts []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.add(body)
		if v.isStream(r, body) {
			testutil.WriteSSE(w, v.stream(texts)...)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, v.complete(texts))
	}
}

// TestProviderContract defines the contract ALL adapters must satisfy.
func TestProviderContract(t *testing.T) {
	for _, v := range vendors {
		t.Run(v.name, func(t *testing.T) {
			t.Run("StreamMatchesGenerate", func(t *testing.T) {
				testStreamMatchesGenerate(t, v)
			})
			t.Run("SystemPromptLeavesOneTurn", func(t *testing.T) {
				testSystemPromptTranslation(t, v)
			})
			t.Run("OnlyLastMessageCarriesImages", func(t *testing.T) {
				testImageAttachments(t, v)
			})
			t.Run("StatusClassification", func(t *testing.T) {
				testStatusClassification(t, v)
			})
			t.Run("RetryAfter", func(t *testing.T) {
				testRetryAfter(t, v)
			})
			t.Run("CancelMidStream", func(t *testing.T) {
				testCancelMidStream(t, v)
			})
			t.Run("ErrorEventMidStream", func(t *testing.T) {
				if v.overloaded == nil {
					t.Skip("no in-band stream error format")
				}
				testErrorEventMidStream(t, v)
			})
			t.Run("Capabilities", func(t *testing.T) {
				p := newAdapter(t, v, func(w http.ResponseWriter, r *http.Request) {
					t.Errorf("capabilities must not touch the network: %s", r.URL.Path)
				})
				caps := p.GetCapabilities(v.modelID)
				assert.True(t, caps.SupportsStreaming)
				assert.True(t, caps.SupportsRole(model.RoleUser))
			})
		})
	}
}

func testStreamMatchesGenerate(t *testing.T, v vendor) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	texts := []string{"Hello", " world", "!"}
	rec := &recorder{}
	p := newAdapter(t, v, serveSuccess(v, rec, texts))

	generated, err := p.GenerateChatCompletion(ctx, testutil.SingleUserMessage("Hi"), v.modelID, nil)
	require.NoError(t, err)

	stream, err := p.StreamChatCompletion(ctx, testutil.SingleUserMessage("Hi"), v.modelID, nil)
	require.NoError(t, err)

	var chunks []model.StreamChunk
	for c := range stream.Chunks() {
		chunks = append(chunks, c)
	}
	require.NoError(t, stream.Err())

	var content strings.Builder
	var terminal *model.CompletionMetadata
	for i, c := range chunks {
		content.WriteString(c.Content)
		if c.Metadata != nil {
			assert.Equal(t, len(chunks)-1, i, "metadata must only ride on the terminal chunk")
			terminal = c.Metadata
		}
	}

	assert.Equal(t, "Hello world!", generated.Content)
	assert.Equal(t, generated.Content, content.String())

	require.NotNil(t, terminal)
	assert.Equal(t, model.FinishStop, terminal.FinishReason)
	assert.Equal(t, model.FinishStop, generated.Metadata.FinishReason)
	require.NotNil(t, terminal.Usage)
	assert.Equal(t, int64(13), terminal.Usage.TotalTokens)
	assert.Equal(t, v.name, terminal.Provider)
}

func testSystemPromptTranslation(t *testing.T, v vendor) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec := &recorder{}
	p := newAdapter(t, v, serveSuccess(v, rec, []string{"ok"}))

	_, err := p.GenerateChatCompletion(ctx, testutil.SystemAndUser("Be terse.", "Hi"), v.modelID, nil)
	require.NoError(t, err)

	body := rec.last(t)
	turns := body.Get(v.turns).Array()

	switch v.typ {
	case provider.ProviderTypeOpenAI:
		// OpenAI keeps the system prompt inline.
		require.Len(t, turns, 2)
		assert.Equal(t, "system", turns[0].Get("role").String())
		assert.Equal(t, "user", turns[1].Get("role").String())
		assert.InDelta(t, 0.7, body.Get("temperature").Float(), 1e-9)
	case provider.ProviderTypeAnthropic:
		require.Len(t, turns, 1)
		assert.Equal(t, "user", turns[0].Get("role").String())
		assert.Equal(t, "Be terse.", body.Get("system.0.text").String())
		assert.Equal(t, int64(8192), body.Get("max_tokens").Int())
		assert.InDelta(t, 1.0, body.Get("temperature").Float(), 1e-9)
	case provider.ProviderTypeGemini:
		require.Len(t, turns, 1)
		assert.Equal(t, "user", turns[0].Get("role").String())
		assert.Equal(t, "user", body.Get("systemInstruction.role").String())
		assert.Equal(t, "Be terse.", body.Get("systemInstruction.parts.0.text").String())
		assert.InDelta(t, 1.0, body.Get("generationConfig.temperature").Float(), 1e-9)
	}

	for _, turn := range turns[len(turns)-1:] {
		assert.NotEqual(t, "system", turn.Get("role").String())
	}
}

func testImageAttachments(t *testing.T, v vendor) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec := &recorder{}
	p := newAdapter(t, v, serveSuccess(v, rec, []string{"a cat"}))

	messages := []model.ChatMessage{
		{Role: model.RoleUser, Content: "first", Images: []model.ImageAttachment{{Data: "data:image/png;base64,OLD", MimeType: "image/png"}}},
		{Role: model.RoleAssistant, Content: "noted"},
		{Role: model.RoleUser, Content: "what is this?", Images: []model.ImageAttachment{{Data: "data:image/jpeg;base64,QUJD", MimeType: "image/jpeg"}}},
	}
	_, err := p.GenerateChatCompletion(ctx, messages, v.modelID, nil)
	require.NoError(t, err)

	raw := rec.last(t).Raw
	assert.NotContains(t, raw, "OLD", "earlier turns must stay text-only")

	turns := rec.last(t).Get(v.turns).Array()
	require.Len(t, turns, 3)
	last := turns[2]

	switch v.typ {
	case provider.ProviderTypeOpenAI:
		assert.Equal(t, "data:image/jpeg;base64,QUJD", last.Get(`content.#(type=="image_url").image_url.url`).String())
		assert.Equal(t, "first", turns[0].Get("content").String())
	case provider.ProviderTypeAnthropic:
		img := last.Get(`content.#(type=="image").source`)
		assert.Equal(t, "QUJD", img.Get("data").String())
		assert.Equal(t, "image/jpeg", img.Get("media_type").String())
	case provider.ProviderTypeGemini:
		assert.Equal(t, "model", turns[1].Get("role").String())
		var img gjson.Result
		for _, part := range last.Get("parts").Array() {
			if part.Get("inlineData").Exists() {
				img = part.Get("inlineData")
			}
		}
		assert.Equal(t, "QUJD", img.Get("data").String())
		assert.Equal(t, "image/jpeg", img.Get("mimeType").String())
	}
}

func testStatusClassification(t *testing.T, v vendor) {
	tests := []struct {
		status    int
		want      *provider.Error
		retryable bool
	}{
		{http.StatusUnauthorized, provider.ErrAuth, false},
		{http.StatusForbidden, provider.ErrAuth, false},
		{http.StatusNotFound, provider.ErrModelNotFound, false},
		{http.StatusBadRequest, provider.ErrInvalidRequest, false},
		{http.StatusInternalServerError, provider.ErrServer, true},
		{http.StatusServiceUnavailable, provider.ErrServer, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			p := newAdapter(t, v, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"error":{"message":"boom"}}`)
			})

			_, err := p.GenerateChatCompletion(ctx, testutil.SingleUserMessage("Hi"), v.modelID, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			pe, ok := provider.AsError(err)
			require.True(t, ok, "got %T", err)
			assert.Equal(t, tt.status, pe.StatusCode)
			assert.Equal(t, tt.retryable, pe.IsRetryable())
			assert.Equal(t, "boom", pe.Message)

			stream, err := p.StreamChatCompletion(ctx, testutil.SingleUserMessage("Hi"), v.modelID, nil)
			require.NoError(t, err)
			_, err = stream.Collect()
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func testRetryAfter(t *testing.T, v vendor) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p := newAdapter(t, v, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("retry-after", "60")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"slow down"}}`)
	})

	_, err := p.GenerateChatCompletion(ctx, testutil.SingleUserMessage("Hi"), v.modelID, nil)
	require.Error(t, err)

	pe, ok := provider.AsError(err)
	require.True(t, ok)
	assert.Equal(t, provider.KindRateLimit, pe.Kind)
	assert.Equal(t, 60*time.Second, pe.RetryAfter)
	assert.True(t, pe.IsRetryable())
}

func testCancelMidStream(t *testing.T, v vendor) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	release := make(chan struct{})
	defer close(release)

	p := newAdapter(t, v, func(w http.ResponseWriter, r *http.Request) {
		events := v.stream([]string{"partial"})
		// Send everything up to and including the first content event,
		// then hang like a slow model.
		cut := 1
		for i, ev := range events {
			if strings.Contains(ev.Data, "partial") {
				cut = i + 1
				break
			}
		}
		testutil.WriteSSE(w, events[:cut]...)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})

	stream, err := p.StreamChatCompletion(ctx, testutil.SingleUserMessage("Hi"), v.modelID, nil)
	require.NoError(t, err)

	first, ok := <-stream.Chunks()
	require.True(t, ok)
	assert.Equal(t, "partial", first.Content)

	cancel()
	for range stream.Chunks() {
	}

	err = stream.Err()
	require.Error(t, err)
	assert.True(t, provider.IsCancelled(err), "want cancellation, got %v", err)
	assert.False(t, errors.Is(err, provider.ErrServer))
}

func testErrorEventMidStream(t *testing.T, v vendor) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p := newAdapter(t, v, func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteSSE(w, v.overloaded([]string{"partial"})...)
	})

	stream, err := p.StreamChatCompletion(ctx, testutil.SingleUserMessage("Hi"), v.modelID, nil)
	require.NoError(t, err)

	var content strings.Builder
	for c := range stream.Chunks() {
		content.WriteString(c.Content)
		assert.Nil(t, c.Metadata, "a failed stream has no terminal metadata")
	}
	assert.Equal(t, "partial", content.String())

	err = stream.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrServer)
	assert.False(t, provider.IsCancelled(err))

	pe, ok := provider.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "Overloaded", pe.Message)
	assert.Equal(t, v.name, pe.Provider)
	assert.Zero(t, pe.StatusCode)
	assert.True(t, pe.IsRetryable())
}

// TestMockProviderImplementsInterface ensures mock provider implements the interface
func TestMockProviderImplementsInterface(t *testing.T) {
	var _ model.Provider = (*testutil.MockProvider)(nil)
}
