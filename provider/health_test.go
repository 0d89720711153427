package provider_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/provider"
)

const openAIMissingKeyBody = `{"error":{"message":"You didn't provide an API key.","type":"invalid_request_error","param":null,"code":null}}`

func openAIModelsServer(t *testing.T, status int, body string) provider.Config {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)

	return provider.Config{
		ID:         "work",
		Type:       provider.ProviderTypeOpenAI,
		BaseURL:    server.URL,
		APIKey:     "test-key",
		HTTPClient: server.Client(),
	}
}

func TestPingConnection(t *testing.T) {
	cfg := openAIModelsServer(t, http.StatusOK,
		`{"object":"list","data":[{"id":"gpt-4o-mini","object":"model","created":1,"owned_by":"openai"}]}`)

	r := provider.PingConnection(context.Background(), cfg)
	require.NoError(t, r.Err)
	assert.True(t, r.Valid)
	assert.Equal(t, "work", r.ConnectionID)

	models, err := provider.FetchModels(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "gpt-4o-mini", models[0].ID)
	assert.Equal(t, "work", models[0].Provider)
}

func TestPingConnectionMissingKeyIsAuth(t *testing.T) {
	cfg := openAIModelsServer(t, http.StatusUnauthorized, openAIMissingKeyBody)

	r := provider.PingConnection(context.Background(), cfg)
	assert.False(t, r.Valid)
	assert.ErrorIs(t, r.Err, provider.ErrAuth)

	_, err := provider.FetchModels(context.Background(), cfg)
	assert.ErrorIs(t, err, provider.ErrAuth)
}

func TestPingConnectionRejectsBadConfig(t *testing.T) {
	r := provider.PingConnection(context.Background(), provider.Config{ID: "openai"})
	assert.False(t, r.Valid)
	assert.ErrorContains(t, r.Err, "failed to create provider")
}
