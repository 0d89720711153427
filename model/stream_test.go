package model

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkStreamCollect(t *testing.T) {
	stream := NewChunkStream(context.Background(), func(ctx context.Context, emit EmitFunc) error {
		for _, text := range []string{"Hello", " world", "!"} {
			if err := emit(StreamChunk{Content: text}); err != nil {
				return err
			}
		}
		return emit(StreamChunk{Metadata: &CompletionMetadata{
			Model:        "m",
			FinishReason: FinishStop,
			Usage:        NewUsage(10, 3),
		}})
	})

	result, err := stream.Collect()
	require.NoError(t, err)
	assert.Equal(t, "Hello world!", result.Content)
	assert.Equal(t, FinishStop, result.Metadata.FinishReason)
	assert.Equal(t, int64(13), result.Metadata.Usage.TotalTokens)
}

func TestChunkStreamError(t *testing.T) {
	boom := errors.New("boom")
	stream := NewChunkStream(context.Background(), func(ctx context.Context, emit EmitFunc) error {
		_ = emit(StreamChunk{Content: "partial"})
		return boom
	})

	var got []string
	for c := range stream.Chunks() {
		got = append(got, c.Content)
	}
	assert.Equal(t, []string{"partial"}, got)
	assert.ErrorIs(t, stream.Err(), boom)

	// Err is stable across calls.
	assert.ErrorIs(t, stream.Err(), boom)
}

func TestChunkStreamCancelUnblocksProducer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	stream := NewChunkStream(ctx, func(ctx context.Context, emit EmitFunc) error {
		for {
			if err := emit(StreamChunk{Content: "x"}); err != nil {
				return err
			}
		}
	})

	<-stream.Chunks()
	cancel()

	done := make(chan error, 1)
	go func() { done <- stream.Err() }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not exit after cancellation")
	}
}

func TestCapabilitiesSupportsRole(t *testing.T) {
	caps := Capabilities{SupportedRoles: []Role{RoleUser, RoleAssistant}}
	assert.True(t, caps.SupportsRole(RoleUser))
	assert.False(t, caps.SupportsRole(RoleSystem))
}

func TestNewUsage(t *testing.T) {
	u := NewUsage(10, 3)
	assert.Equal(t, Usage{PromptTokens: 10, CompletionTokens: 3, TotalTokens: 13}, *u)
}
