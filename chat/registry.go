package chat

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrChatBusy is returned when a chat already has an active stream.
	ErrChatBusy = errors.New("chat already has an active stream")
	// ErrDuplicateStream is returned when a stream ID is registered twice.
	ErrDuplicateStream = errors.New("stream already registered")
)

// Registration describes one in-flight stream.
type Registration struct {
	StreamID        string
	ChatID          string
	ModelID         string
	ProviderID      string
	ParentMessageID string
	StartedAt       time.Time

	cancel context.CancelFunc
}

// Registry maps stream IDs to their chats and cancel functions. It is the
// only place that knows which streams are live.
type Registry struct {
	mu      sync.Mutex
	streams map[string]*Registration
	byChat  map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		streams: make(map[string]*Registration),
		byChat:  make(map[string]string),
	}
}

// Register records reg with its cancel function. It fails without side
// effects when the stream ID is taken or the chat is already streaming.
func (r *Registry) Register(reg Registration, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.streams[reg.StreamID]; ok {
		return ErrDuplicateStream
	}
	if _, ok := r.byChat[reg.ChatID]; ok {
		return ErrChatBusy
	}

	if reg.StartedAt.IsZero() {
		reg.StartedAt = time.Now()
	}
	reg.cancel = cancel
	r.streams[reg.StreamID] = &reg
	r.byChat[reg.ChatID] = reg.StreamID
	return nil
}

// Cancel aborts the stream. It reports false for unknown IDs. The entry
// stays until the stream's owner calls Remove.
func (r *Registry) Cancel(streamID string) bool {
	r.mu.Lock()
	reg, ok := r.streams[streamID]
	r.mu.Unlock()

	if !ok {
		return false
	}
	if reg.cancel != nil {
		reg.cancel()
	}
	return true
}

// Remove drops the entry for streamID.
func (r *Registry) Remove(streamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.streams[streamID]
	if !ok {
		return
	}
	delete(r.streams, streamID)
	if r.byChat[reg.ChatID] == streamID {
		delete(r.byChat, reg.ChatID)
	}
}

// Get returns a copy of the registration for streamID.
func (r *Registry) Get(streamID string) (Registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.streams[streamID]
	if !ok {
		return Registration{}, false
	}
	return *reg, true
}

// StreamForChat returns the ID of the chat's active stream, if any.
func (r *Registry) StreamForChat(chatID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byChat[chatID]
	return id, ok
}

// List returns a snapshot of all registrations.
func (r *Registry) List() []Registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Registration, 0, len(r.streams))
	for _, reg := range r.streams {
		out = append(out, *reg)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// CancelAll aborts every active stream.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(r.streams))
	for _, reg := range r.streams {
		if reg.cancel != nil {
			cancels = append(cancels, reg.cancel)
		}
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}
