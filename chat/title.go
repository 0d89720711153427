package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"parley/model"
	"parley/storage"
)

const (
	titleTimeout     = 30 * time.Second
	titleMaxRunes    = 60
	titleSourceRunes = 1000
)

const titlePrompt = "Write a short title of at most six words for the conversation below. " +
	"Reply with the title only, without quotes or punctuation at the end."

// TitleUpdated is emitted when a chat receives a generated title.
type TitleUpdated struct {
	ChatID string
	Title  string
}

// SubscribeTitleUpdated registers fn for title updates and returns a
// function that removes it. Subscribers run synchronously on the title
// goroutine; a panicking subscriber does not affect the others.
func (s *Service) SubscribeTitleUpdated(fn func(TitleUpdated)) (unsubscribe func()) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	return func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Service) emitTitleUpdated(ev TitleUpdated) {
	s.subsMu.Lock()
	fns := make([]func(TitleUpdated), 0, len(s.subs))
	// Subscription order.
	for i := 0; i < s.nextSub; i++ {
		if fn, ok := s.subs[i]; ok {
			fns = append(fns, fn)
		}
	}
	s.subsMu.Unlock()

	for _, fn := range fns {
		s.deliver(fn, ev)
	}
}

func (s *Service) deliver(fn func(TitleUpdated), ev TitleUpdated) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("chat", ev.ChatID).Msg("title subscriber panicked")
		}
	}()
	fn(ev)
}

// titleSnapshot is an immutable copy of the exchange being summarized.
type titleSnapshot struct {
	chatID    string
	modelID   string
	user      string
	assistant string
}

// maybeAutoTitle starts title generation when the chat has exactly one
// complete exchange and auto-titling is enabled.
func (s *Service) maybeAutoTitle(reply *storage.Message, adapter model.Provider) {
	if !s.currentSettings().AutoTitleChats {
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, persistTimeout)
	msgs, err := s.store.ListMessages(ctx, reply.ChatID)
	cancel()
	if err != nil {
		s.log.Warn().Err(err).Str("chat", reply.ChatID).Msg("auto-title: failed to load messages")
		return
	}

	var exchange []*storage.Message
	for _, m := range msgs {
		if m.Role != model.RoleSystem {
			exchange = append(exchange, m)
		}
	}
	if len(exchange) != 2 || exchange[0].Role != model.RoleUser || exchange[1].Role != model.RoleAssistant ||
		exchange[1].Status != storage.StatusComplete {
		return
	}

	snap := titleSnapshot{
		chatID:    reply.ChatID,
		modelID:   reply.Model,
		user:      truncateRunes(exchange[0].Content, titleSourceRunes),
		assistant: truncateRunes(exchange[1].Content, titleSourceRunes),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.generateTitle(snap, adapter); err != nil {
			s.log.Warn().Err(err).Str("chat", snap.chatID).Msg("auto-title failed")
		}
	}()
}

func (s *Service) generateTitle(snap titleSnapshot, adapter model.Provider) error {
	ctx, cancel := context.WithTimeout(s.ctx, titleTimeout)
	defer cancel()

	temperature := 0.3
	maxTokens := int64(32)
	result, err := adapter.GenerateChatCompletion(ctx, []model.ChatMessage{
		{Role: model.RoleSystem, Content: titlePrompt},
		{Role: model.RoleUser, Content: fmt.Sprintf("User: %s\n\nAssistant: %s", snap.user, snap.assistant)},
	}, snap.modelID, &model.CompletionOptions{Temperature: &temperature, MaxTokens: &maxTokens})
	if err != nil {
		return err
	}

	title := SanitizeTitle(result.Content)
	if title == "" {
		return errors.New("model returned an empty title")
	}

	if err := s.store.SetChatTitle(ctx, snap.chatID, title); err != nil {
		return err
	}

	s.log.Debug().Str("chat", snap.chatID).Str("title", title).Msg("chat titled")
	s.emitTitleUpdated(TitleUpdated{ChatID: snap.chatID, Title: title})
	return nil
}

// SanitizeTitle cleans a generated title: first non-empty line, no label,
// no surrounding quotes or trailing punctuation, bounded length.
func SanitizeTitle(raw string) string {
	title := ""
	for _, line := range strings.Split(raw, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			title = line
			break
		}
	}

	title = strings.TrimLeft(title, "#*")
	title = strings.TrimSpace(title)
	for _, label := range []string{"Title:", "title:", "TITLE:"} {
		title = strings.TrimPrefix(title, label)
	}
	title = strings.TrimSpace(title)
	title = strings.Trim(title, "\"'`*“”‘’")
	title = strings.TrimRight(title, ".!?:;,")
	title = strings.Join(strings.Fields(title), " ")

	if utf8.RuneCountInString(title) > titleMaxRunes {
		title = strings.TrimSpace(truncateRunes(title, titleMaxRunes))
	}
	return title
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
