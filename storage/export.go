package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

type exportedMessage struct {
	ID           string       `json:"id"`
	Role         string       `json:"role"`
	Content      string       `json:"content"`
	Status       string       `json:"status"`
	Model        string       `json:"model,omitempty"`
	ProviderID   string       `json:"provider_id,omitempty"`
	FinishReason string       `json:"finish_reason,omitempty"`
	Error        string       `json:"error,omitempty"`
	TotalTokens  int64        `json:"total_tokens,omitempty"`
	Attachments  []Attachment `json:"attachments,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

type exportedChat struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	SystemPrompt string            `json:"system_prompt,omitempty"`
	ParentChatID string            `json:"parent_chat_id,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	Messages     []exportedMessage `json:"messages"`
}

// ExportChat writes a chat and its messages as indented JSON to path.
func (s *Store) ExportChat(ctx context.Context, id, path string) error {
	chat, err := s.FindChat(ctx, id)
	if err != nil {
		return err
	}
	msgs, err := s.ListMessages(ctx, id)
	if err != nil {
		return err
	}

	out := exportedChat{
		ID:           chat.ID,
		Title:        chat.Title,
		SystemPrompt: chat.SystemPrompt,
		ParentChatID: chat.ParentChatID,
		CreatedAt:    chat.CreatedAt,
		Messages:     make([]exportedMessage, 0, len(msgs)),
	}
	for _, m := range msgs {
		out.Messages = append(out.Messages, exportedMessage{
			ID:           m.ID,
			Role:         string(m.Role),
			Content:      m.Content,
			Status:       string(m.Status),
			Model:        m.Model,
			ProviderID:   m.ProviderID,
			FinishReason: m.FinishReason,
			Error:        m.Error,
			TotalTokens:  m.TotalTokens,
			Attachments:  m.Attachments,
			CreatedAt:    m.CreatedAt,
		})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal chat: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Exports can contain sensitive conversation data.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

var filenameReplacer = strings.NewReplacer(
	"/", "-", "\\", "-", ":", "-", "*", "-", "?", "-", "\"", "-",
	"<", "-", ">", "-", "|", "-", " ", "-", "\n", "-", "\r", "-",
)

// SanitizeFilename makes a chat title safe to use in a file name.
func SanitizeFilename(name string) string {
	name = strings.Trim(filenameReplacer.Replace(name), "-.")

	if runes := []rune(name); len(runes) > 50 {
		name = string(runes[:50])
	}
	if name == "" {
		name = "chat"
	}
	return name
}

// ExportPath returns the default export location for a chat under dir.
func ExportPath(dir, title string) string {
	filename := fmt.Sprintf("parley-chat-%s-%s.json", SanitizeFilename(title), time.Now().Format("20060102-150405"))
	return filepath.Join(dir, filename)
}
