package model

import (
	"context"
	"strings"
)

// EmitFunc hands one chunk to the consumer. It returns the context error if
// the stream was cancelled while waiting for the consumer.
type EmitFunc func(StreamChunk) error

// ChunkStream is a one-shot stream of chunks written by a producer goroutine.
//
// Consumers range over Chunks() until it is closed, then call Err. A consumer
// that stops early must cancel the context the stream was created with so the
// producer can exit.
type ChunkStream struct {
	chunks chan StreamChunk
	done   chan struct{}
	err    error
}

// NewChunkStream starts produce in its own goroutine. The error produce
// returns becomes the stream's terminal error.
func NewChunkStream(ctx context.Context, produce func(ctx context.Context, emit EmitFunc) error) *ChunkStream {
	s := &ChunkStream{
		chunks: make(chan StreamChunk),
		done:   make(chan struct{}),
	}

	emit := func(c StreamChunk) error {
		select {
		case s.chunks <- c:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	go func() {
		defer close(s.done)
		defer close(s.chunks)
		s.err = produce(ctx, emit)
	}()

	return s
}

// Chunks returns the receive side of the stream. It is closed when the
// producer finishes.
func (s *ChunkStream) Chunks() <-chan StreamChunk {
	return s.chunks
}

// Err blocks until the producer finishes and returns its error.
func (s *ChunkStream) Err() error {
	<-s.done
	return s.err
}

// Collect drains the stream and folds it into a single result.
func (s *ChunkStream) Collect() (*ChatCompletionResult, error) {
	var content strings.Builder
	result := &ChatCompletionResult{}

	for chunk := range s.chunks {
		content.WriteString(chunk.Content)
		if chunk.Metadata != nil {
			result.Metadata = *chunk.Metadata
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}

	result.Content = content.String()
	return result, nil
}
