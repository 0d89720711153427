package provider_test

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"parley/model"
	"parley/provider"
)

// ExampleNewProvider demonstrates creating an Anthropic provider using the factory.
func ExampleNewProvider() {
	cfg := provider.Config{
		ID:     "anthropic",
		Type:   provider.ProviderTypeAnthropic,
		APIKey: "sk-ant-...",
		Model:  "claude-sonnet-4-5-20250929",
	}

	p, err := provider.NewProvider(cfg)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Provider created: %T (%s)\n", p, p.Name())
	// Output: Provider created: *provider.AnthropicProvider (anthropic)
}

// ExampleResolveCapabilities shows the static capability table.
func ExampleResolveCapabilities() {
	caps := provider.ResolveCapabilities(provider.ProviderTypeAnthropic, "claude-3-opus-20240229")
	fmt.Println("requires max tokens:", caps.RequiresMaxTokens, caps.MaxTokensDefault)

	caps = provider.ResolveCapabilities(provider.ProviderTypeOpenAI, "o1-mini")
	fmt.Println("o1-mini streams:", caps.SupportsStreaming)
	fmt.Println("o1-mini system role:", caps.SupportsRole(model.RoleSystem))

	// Output:
	// requires max tokens: true 4096
	// o1-mini streams: false
	// o1-mini system role: false
}

// ExampleError shows how callers branch on the error taxonomy.
func ExampleError() {
	var err error = &provider.Error{
		Kind:       provider.KindRateLimit,
		Provider:   "openai",
		StatusCode: 429,
		RetryAfter: 30 * time.Second,
		Message:    "Rate limit reached",
	}

	switch {
	case errors.Is(err, provider.ErrAuth):
		fmt.Println("check your API key")
	case errors.Is(err, provider.ErrRateLimit):
		pe, _ := provider.AsError(err)
		fmt.Println("retry in", pe.RetryAfter, "retryable:", pe.IsRetryable())
	}

	// Output: retry in 30s retryable: true
}

// ExampleOpenAIProvider_StreamChatCompletion demonstrates consuming a stream.
//
// Note: This example doesn't actually run because it requires a live server.
// It's provided for documentation purposes.
func ExampleOpenAIProvider_StreamChatCompletion() {
	p, err := provider.NewOpenAIProvider(provider.Config{Type: provider.ProviderTypeOllama, Model: "llama3.1"})
	if err != nil {
		log.Fatal(err)
	}

	messages := []model.ChatMessage{
		{Role: model.RoleUser, Content: "Hello! How are you?"},
	}

	stream, err := p.StreamChatCompletion(context.Background(), messages, "llama3.1", nil)
	if err != nil {
		log.Fatal(err)
	}
	for chunk := range stream.Chunks() {
		fmt.Print(chunk.Content)
		if chunk.Metadata != nil && chunk.Metadata.Usage != nil {
			fmt.Printf("\n[%d tokens]\n", chunk.Metadata.Usage.TotalTokens)
		}
	}
	if err := stream.Err(); err != nil {
		log.Fatal(err)
	}
}

// ExampleManager_ListAllModels demonstrates listing models across connections.
//
// Note: This example doesn't actually run because it requires live servers.
func ExampleManager_ListAllModels() {
	m := provider.NewManager(nil)
	defer m.Close()

	listings := m.ListAllModels(context.Background(), []provider.Config{
		{ID: "ollama", Type: provider.ProviderTypeOllama},
		{ID: "openai", Type: provider.ProviderTypeOpenAI, APIKey: "sk-..."},
	})
	for _, l := range listings {
		if l.Err != nil {
			fmt.Printf("%s: %v\n", l.ConnectionID, l.Err)
			continue
		}
		fmt.Printf("%s: %d models\n", l.ConnectionID, len(l.Models))
	}
}
