package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"parley/model"
)

// MessageStatus tracks a message through its streaming lifecycle.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusStreaming MessageStatus = "streaming"
	StatusComplete  MessageStatus = "complete"
	StatusError     MessageStatus = "error"
	StatusStopped   MessageStatus = "stopped"
)

// Terminal reports whether no further updates are expected.
func (s MessageStatus) Terminal() bool {
	return s == StatusComplete || s == StatusError || s == StatusStopped
}

// Message is a persisted chat message.
type Message struct {
	ID               string
	ChatID           string
	Role             model.Role
	Content          string
	Status           MessageStatus
	Model            string
	ProviderID       string
	ParentMessageID  string
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	FinishReason     string
	Error            string
	Attachments      []Attachment
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Attachment is an image stored alongside a message as base64 data.
type Attachment struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

// SetUsage copies token counts from completion metadata.
func (m *Message) SetUsage(u *model.Usage) {
	if u == nil {
		return
	}
	m.PromptTokens = u.PromptTokens
	m.CompletionTokens = u.CompletionTokens
	m.TotalTokens = u.TotalTokens
}

// ChatMessage converts the message into the shape adapters consume.
func (m *Message) ChatMessage() model.ChatMessage {
	cm := model.ChatMessage{Role: m.Role, Content: m.Content}
	for _, a := range m.Attachments {
		cm.Images = append(cm.Images, model.ImageAttachment{Data: a.Data, MimeType: a.MimeType})
	}
	return cm
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMessage(ctx context.Context, tx execer, msg *Message) error {
	ts := now()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Status == "" {
		msg.Status = StatusComplete
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = ts
	}
	msg.UpdatedAt = ts

	_, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, role, content, status, model, provider_id, parent_message_id,
			prompt_tokens, completion_tokens, total_tokens, finish_reason, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, string(msg.Role), msg.Content, string(msg.Status), msg.Model, msg.ProviderID,
		nullable(msg.ParentMessageID), msg.PromptTokens, msg.CompletionTokens, msg.TotalTokens,
		msg.FinishReason, msg.Error, toUnix(msg.CreatedAt), toUnix(msg.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	for i := range msg.Attachments {
		a := &msg.Attachments[i]
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO attachments (id, message_id, mime_type, data, created_at) VALUES (?, ?, ?, ?, ?)`,
			a.ID, msg.ID, a.MimeType, a.Data, toUnix(ts),
		)
		if err != nil {
			return fmt.Errorf("failed to insert attachment: %w", err)
		}
	}
	return nil
}

func touchChat(ctx context.Context, tx *sql.Tx, chatID string, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE chats SET last_message_at = ?, updated_at = ? WHERE id = ?`,
		toUnix(at), toUnix(at), chatID,
	)
	if err != nil {
		return fmt.Errorf("failed to update chat: %w", err)
	}
	return expectOne(res, "chat", chatID)
}

// CreateMessage appends msg to its chat and bumps the chat's activity time.
func (s *Store) CreateMessage(ctx context.Context, msg *Message) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := touchChat(ctx, tx, msg.ChatID, now()); err != nil {
			return err
		}
		return insertMessage(ctx, tx, msg)
	})
}

// SaveAssistantMessage inserts msg. When replaces names an existing message
// in the same chat, that message is removed and msg takes over its position
// and parent, all in one transaction.
func (s *Store) SaveAssistantMessage(ctx context.Context, msg *Message, replaces string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if replaces != "" {
			var (
				createdAt int64
				parent    string
			)
			err := tx.QueryRowContext(ctx,
				`SELECT created_at, COALESCE(parent_message_id, '') FROM messages WHERE id = ? AND chat_id = ?`,
				replaces, msg.ChatID,
			).Scan(&createdAt, &parent)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("message %s: %w", replaces, ErrNotFound)
			}
			if err != nil {
				return fmt.Errorf("failed to load replaced message: %w", err)
			}

			if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, replaces); err != nil {
				return fmt.Errorf("failed to delete replaced message: %w", err)
			}
			msg.CreatedAt = fromUnix(createdAt)
			if msg.ParentMessageID == "" {
				msg.ParentMessageID = parent
			}
		}

		if err := touchChat(ctx, tx, msg.ChatID, now()); err != nil {
			return err
		}
		return insertMessage(ctx, tx, msg)
	})
}

const messageColumns = `id, chat_id, role, content, status, model, provider_id, COALESCE(parent_message_id, ''),
	prompt_tokens, completion_tokens, total_tokens, finish_reason, error, created_at, updated_at`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var (
		m                    Message
		role, status         string
		createdAt, updatedAt int64
	)
	err := row.Scan(&m.ID, &m.ChatID, &role, &m.Content, &status, &m.Model, &m.ProviderID, &m.ParentMessageID,
		&m.PromptTokens, &m.CompletionTokens, &m.TotalTokens, &m.FinishReason, &m.Error, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	m.Role = model.Role(role)
	m.Status = MessageStatus(status)
	m.CreatedAt = fromUnix(createdAt)
	m.UpdatedAt = fromUnix(updatedAt)
	return &m, nil
}

// FindMessage loads a message with its attachments.
func (s *Store) FindMessage(ctx context.Context, id string) (*Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load message: %w", err)
	}

	if err := s.loadAttachments(ctx, []*Message{m}); err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns a chat's messages in conversation order.
func (s *Store) ListMessages(ctx context.Context, chatID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE chat_id = ? ORDER BY created_at, seq`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.loadAttachments(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *Store) loadAttachments(ctx context.Context, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	byID := make(map[string]*Message, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.message_id, a.mime_type, a.data
		FROM attachments a JOIN messages m ON m.id = a.message_id
		WHERE m.chat_id = ?
		ORDER BY a.created_at, a.rowid`, msgs[0].ChatID)
	if err != nil {
		return fmt.Errorf("failed to load attachments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			a         Attachment
			messageID string
		)
		if err := rows.Scan(&a.ID, &messageID, &a.MimeType, &a.Data); err != nil {
			return fmt.Errorf("failed to scan attachment: %w", err)
		}
		if m, ok := byID[messageID]; ok {
			m.Attachments = append(m.Attachments, a)
		}
	}
	return rows.Err()
}

// UpdateMessage writes the mutable streaming fields of msg: content, status,
// usage, finish reason and error.
func (s *Store) UpdateMessage(ctx context.Context, msg *Message) error {
	msg.UpdatedAt = now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET content = ?, status = ?, prompt_tokens = ?, completion_tokens = ?, total_tokens = ?,
			finish_reason = ?, error = ?, updated_at = ?
		WHERE id = ?`,
		msg.Content, string(msg.Status), msg.PromptTokens, msg.CompletionTokens, msg.TotalTokens,
		msg.FinishReason, msg.Error, toUnix(msg.UpdatedAt), msg.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	return expectOne(res, "message", msg.ID)
}

// DeleteMessage removes a single message and its attachments.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return expectOne(res, "message", id)
}
