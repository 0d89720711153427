package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"parley/config"
	"parley/model"
	"parley/provider"
	"parley/storage"
)

var (
	// ErrEmptyMessage is returned when a send has neither text nor images.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNotAssistantMessage is returned when regenerating a message that
	// was not written by the assistant.
	ErrNotAssistantMessage = errors.New("only assistant messages can be regenerated")
	// ErrUnknownConnection is returned when the provider connection is not
	// configured or is disabled.
	ErrUnknownConnection = provider.ErrUnknownConnection
	// ErrClosed is returned once the service has been closed.
	ErrClosed = errors.New("chat service closed")
)

// persistTimeout bounds the final write of a stream. It runs detached from
// the stream's context so a stopped stream is still recorded.
const persistTimeout = 10 * time.Second

// AdapterSource resolves a provider connection ID to an adapter.
// *provider.Manager satisfies it.
type AdapterSource interface {
	Adapter(connectionID string) (model.Provider, error)
}

// SettingsSource exposes the current user settings.
// *config.SettingsStore satisfies it.
type SettingsSource interface {
	Get() config.Settings
}

// Service runs chat exchanges: it persists the user's message, streams the
// assistant's reply from a provider and records the outcome.
type Service struct {
	store    *storage.Store
	adapters AdapterSource
	settings SettingsSource
	registry *Registry
	log      zerolog.Logger

	subsMu  sync.Mutex
	subs    map[int]func(TitleUpdated)
	nextSub int

	// Title generation runs under ctx. wg tracks it along with every
	// running stream.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeMu sync.RWMutex
	closed  bool
}

// NewService wires a Service. settings may be nil, in which case the zero
// Settings apply and chats are never auto-titled.
func NewService(store *storage.Store, adapters AdapterSource, settings SettingsSource) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:    store,
		adapters: adapters,
		settings: settings,
		registry: NewRegistry(),
		log:      config.Logger("chat"),
		subs:     make(map[int]func(TitleUpdated)),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Service) currentSettings() config.Settings {
	if s.settings == nil {
		return config.Settings{}
	}
	return s.settings.Get()
}

// SendRequest is a user turn. An empty ChatID, or one that does not exist
// yet, starts a new chat. Empty Model and ProviderID fall back to the
// configured defaults.
type SendRequest struct {
	ChatID       string
	Content      string
	Model        string
	ProviderID   string
	SystemPrompt string
	Attachments  []storage.Attachment
	Options      *model.CompletionOptions

	// OnComplete runs after a reply has been saved with status complete.
	OnComplete func(*storage.Message)
}

// job is everything a running stream needs.
type job struct {
	stream     *Stream
	ctx        context.Context
	adapter    model.Provider
	providerID string
	modelID    string
	history    []model.ChatMessage
	opts       *model.CompletionOptions
	parentID   string
	replaces   string
	onComplete func(*storage.Message)
}

// Send persists the user message and starts streaming the reply. The
// returned Stream reports progress and the final message. Cancelling ctx
// stops the stream the same way Stop does.
func (s *Service) Send(ctx context.Context, req SendRequest) (*Stream, error) {
	if strings.TrimSpace(req.Content) == "" && len(req.Attachments) == 0 {
		return nil, ErrEmptyMessage
	}

	settings := s.currentSettings()
	if req.ProviderID == "" {
		req.ProviderID = settings.DefaultProvider
	}
	if req.Model == "" {
		req.Model = settings.DefaultModel
	}

	adapter, err := s.adapters.Adapter(req.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w", req.ProviderID, err)
	}

	chat, isNew, err := s.resolveChat(ctx, req, settings)
	if err != nil {
		return nil, err
	}

	stream := newStream(uuid.NewString(), chat.ID, uuid.NewString())
	streamCtx, cancel, err := s.reserve(ctx, stream, req.Model, req.ProviderID, "")
	if err != nil {
		return nil, err
	}

	user := &storage.Message{
		ChatID:      chat.ID,
		Role:        model.RoleUser,
		Content:     req.Content,
		Status:      storage.StatusComplete,
		Attachments: req.Attachments,
	}
	if isNew {
		err = s.store.CreateChat(ctx, chat, user)
	} else {
		err = s.store.CreateMessage(ctx, user)
	}
	if err != nil {
		s.release(stream.id, cancel)
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	msgs, err := s.store.ListMessages(ctx, chat.ID)
	if err != nil {
		s.release(stream.id, cancel)
		return nil, err
	}

	s.log.Debug().
		Str("chat", chat.ID).
		Str("stream", stream.id).
		Str("provider", req.ProviderID).
		Str("model", req.Model).
		Bool("new_chat", isNew).
		Msg("send")

	s.start(job{
		stream:     stream,
		ctx:        streamCtx,
		adapter:    adapter,
		providerID: req.ProviderID,
		modelID:    req.Model,
		history:    buildHistory(chat.SystemPrompt, msgs),
		opts:       req.Options,
		parentID:   user.ID,
		onComplete: req.OnComplete,
	}, cancel)
	return stream, nil
}

func (s *Service) resolveChat(ctx context.Context, req SendRequest, settings config.Settings) (*storage.Chat, bool, error) {
	if req.ChatID != "" {
		chat, err := s.store.FindChat(ctx, req.ChatID)
		if err == nil {
			return chat, false, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, false, err
		}
	}

	systemPrompt := req.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = settings.DefaultSystemPrompt
	}
	chat := &storage.Chat{
		ID:           req.ChatID,
		Title:        storage.GenerateChatTitle(req.Content),
		SystemPrompt: systemPrompt,
	}
	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	return chat, true, nil
}

// reserve registers stream before anything is written, so a busy chat is
// rejected without side effects.
func (s *Service) reserve(ctx context.Context, stream *Stream, modelID, providerID, parentID string) (context.Context, context.CancelFunc, error) {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return nil, nil, ErrClosed
	}

	streamCtx, cancel := context.WithCancel(ctx)
	err := s.registry.Register(Registration{
		StreamID:        stream.id,
		ChatID:          stream.chatID,
		ModelID:         modelID,
		ProviderID:      providerID,
		ParentMessageID: parentID,
	}, cancel)
	if err != nil {
		cancel()
		return nil, nil, err
	}

	// Count the stream now so Close waits for it even before it starts.
	s.wg.Add(1)
	return streamCtx, cancel, nil
}

func (s *Service) release(streamID string, cancel context.CancelFunc) {
	s.registry.Remove(streamID)
	cancel()
	s.wg.Done()
}

func (s *Service) start(j job, cancel context.CancelFunc) {
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.run(j)
	}()
}

// run consumes the provider stream and records the outcome.
func (s *Service) run(j job) {
	var (
		content strings.Builder
		meta    *model.CompletionMetadata
	)

	chunks, err := j.adapter.StreamChatCompletion(j.ctx, j.history, j.modelID, j.opts)
	if err == nil {
		for chunk := range chunks.Chunks() {
			if chunk.Metadata != nil {
				meta = chunk.Metadata
			}
			if chunk.Content == "" {
				continue
			}
			content.WriteString(chunk.Content)
			j.stream.progress(j.ctx, Update{
				Content: content.String(),
				Delta:   chunk.Content,
				Status:  storage.StatusStreaming,
			})
		}
		err = chunks.Err()
	}

	msg := &storage.Message{
		ID:              j.stream.messageID,
		ChatID:          j.stream.chatID,
		Role:            model.RoleAssistant,
		Content:         content.String(),
		Model:           j.modelID,
		ProviderID:      j.providerID,
		ParentMessageID: j.parentID,
	}

	save := true
	switch {
	case err == nil:
		msg.Status = storage.StatusComplete
		if meta != nil {
			msg.SetUsage(meta.Usage)
			msg.FinishReason = string(meta.FinishReason)
		}
	default:
		err = provider.Classify(j.ctx, j.adapter.Name(), err)
		if provider.IsCancelled(err) {
			msg.Status = storage.StatusStopped
			err = nil
			// A stopped regeneration with nothing to show keeps the old reply.
			save = j.replaces == "" || msg.Content != ""
		} else {
			msg.Status = storage.StatusError
			msg.Error = err.Error()
			save = msg.Content != ""
		}
	}

	saved := msg
	if save {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(j.ctx), persistTimeout)
		perr := s.store.SaveAssistantMessage(pctx, msg, j.replaces)
		cancel()
		if perr != nil {
			s.log.Error().Err(perr).Str("message", msg.ID).Msg("failed to save assistant message")
			if err == nil {
				err = fmt.Errorf("failed to save reply: %w", perr)
			}
			saved = nil
		}
	} else {
		saved = nil
	}

	s.registry.Remove(j.stream.id)

	logEvent := s.log.Debug()
	if err != nil {
		logEvent = s.log.Warn().Err(err)
	}
	logEvent.
		Str("stream", j.stream.id).
		Str("status", string(msg.Status)).
		Int("chars", len(msg.Content)).
		Int64("total_tokens", msg.TotalTokens).
		Msg("stream finished")

	if saved != nil && saved.Status == storage.StatusComplete {
		if j.onComplete != nil {
			j.onComplete(saved)
		}
		// A regenerated first reply must not overwrite a title the user set.
		if j.replaces == "" {
			s.maybeAutoTitle(saved, j.adapter)
		}
	}

	status := msg.Status
	if err != nil {
		status = storage.StatusError
	}
	j.stream.finish(Update{Content: msg.Content, Status: status}, saved, err)
}

// Stop cancels a stream. Unknown IDs are ignored and report false.
func (s *Service) Stop(streamID string) bool {
	return s.registry.Cancel(streamID)
}

// StopChat cancels the chat's active stream, if any.
func (s *Service) StopChat(chatID string) bool {
	id, ok := s.registry.StreamForChat(chatID)
	if !ok {
		return false
	}
	return s.registry.Cancel(id)
}

// Regenerate streams a new reply in place of an assistant message, using
// the history before it and the same model and provider. The new message
// replaces the old one once it has content.
func (s *Service) Regenerate(ctx context.Context, messageID string, opts *model.CompletionOptions) (*Stream, error) {
	target, err := s.store.FindMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if target.Role != model.RoleAssistant {
		return nil, ErrNotAssistantMessage
	}

	chat, err := s.store.FindChat(ctx, target.ChatID)
	if err != nil {
		return nil, err
	}

	adapter, err := s.adapters.Adapter(target.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w", target.ProviderID, err)
	}

	msgs, err := s.store.ListMessages(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	var before []*storage.Message
	for _, m := range msgs {
		if m.ID == target.ID {
			break
		}
		before = append(before, m)
	}

	stream := newStream(uuid.NewString(), chat.ID, uuid.NewString())
	streamCtx, cancel, err := s.reserve(ctx, stream, target.Model, target.ProviderID, target.ParentMessageID)
	if err != nil {
		return nil, err
	}

	s.log.Debug().Str("chat", chat.ID).Str("replaces", target.ID).Msg("regenerate")

	s.start(job{
		stream:     stream,
		ctx:        streamCtx,
		adapter:    adapter,
		providerID: target.ProviderID,
		modelID:    target.Model,
		history:    buildHistory(chat.SystemPrompt, before),
		opts:       opts,
		parentID:   target.ParentMessageID,
		replaces:   target.ID,
	}, cancel)
	return stream, nil
}

// Fork starts a new chat holding the history up to and including messageID.
func (s *Service) Fork(ctx context.Context, chatID, messageID string) (*storage.Chat, error) {
	return s.store.ForkChat(ctx, chatID, messageID)
}

// Search looks up messages by text. An empty chatID searches all chats.
func (s *Service) Search(ctx context.Context, query, chatID string, limit int) ([]storage.SearchResult, error) {
	return s.store.Search(ctx, query, chatID, limit)
}

// DeleteChat stops the chat's stream, waits for it to settle and deletes
// the chat.
func (s *Service) DeleteChat(ctx context.Context, chatID string) error {
	if s.StopChat(chatID) {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			if _, busy := s.registry.StreamForChat(chatID); !busy {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}
	return s.store.DeleteChat(ctx, chatID)
}

// ActiveStreams returns the streams currently running.
func (s *Service) ActiveStreams() []Registration {
	return s.registry.List()
}

// Wait blocks until running streams and title generation finish, without
// cancelling them.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Close stops all streams and waits for them and any title generation to
// finish. Later sends fail with ErrClosed.
func (s *Service) Close() {
	s.closeMu.Lock()
	s.closed = true
	s.closeMu.Unlock()

	s.registry.CancelAll()
	s.cancel()
	s.wg.Wait()
}

// buildHistory converts persisted messages into a provider request. Failed
// replies and empty messages are left out.
func buildHistory(systemPrompt string, msgs []*storage.Message) []model.ChatMessage {
	history := make([]model.ChatMessage, 0, len(msgs)+1)
	if strings.TrimSpace(systemPrompt) != "" {
		history = append(history, model.ChatMessage{Role: model.RoleSystem, Content: systemPrompt})
	}
	for _, m := range msgs {
		if m.Status == storage.StatusError || m.Status == storage.StatusPending {
			continue
		}
		if m.Content == "" && len(m.Attachments) == 0 {
			continue
		}
		history = append(history, m.ChatMessage())
	}
	return history
}
