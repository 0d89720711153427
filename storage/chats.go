package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Chat is a conversation. Forks record the chat and message they branched
// from.
type Chat struct {
	ID              string
	Title           string
	SystemPrompt    string
	ParentChatID    string
	ParentMessageID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastMessageAt   time.Time
}

// ChatSummary is a lightweight version of Chat for listing
type ChatSummary struct {
	Chat
	MessageCount int
}

// ErrEmptyChat is returned when a chat would be created without messages.
var ErrEmptyChat = errors.New("a chat needs at least one message")

// CreateChat inserts chat together with its first messages in one
// transaction. IDs and timestamps left empty are filled in.
func (s *Store) CreateChat(ctx context.Context, chat *Chat, msgs ...*Message) error {
	if len(msgs) == 0 {
		return ErrEmptyChat
	}

	ts := now()
	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = ts
	}
	chat.UpdatedAt = ts
	chat.LastMessageAt = ts

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chats (id, title, system_prompt, parent_chat_id, parent_message_id, created_at, updated_at, last_message_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			chat.ID, chat.Title, chat.SystemPrompt,
			nullable(chat.ParentChatID), nullable(chat.ParentMessageID),
			toUnix(chat.CreatedAt), toUnix(chat.UpdatedAt), toUnix(chat.LastMessageAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert chat: %w", err)
		}

		for _, msg := range msgs {
			msg.ChatID = chat.ID
			if err := insertMessage(ctx, tx, msg); err != nil {
				return err
			}
		}
		return nil
	})
}

const chatColumns = `id, title, system_prompt, COALESCE(parent_chat_id, ''), COALESCE(parent_message_id, ''), created_at, updated_at, last_message_at`

func scanChat(row interface{ Scan(...any) error }, extra ...any) (*Chat, error) {
	var (
		chat                           Chat
		createdAt, updatedAt, lastSeen int64
	)
	dest := []any{&chat.ID, &chat.Title, &chat.SystemPrompt, &chat.ParentChatID, &chat.ParentMessageID, &createdAt, &updatedAt, &lastSeen}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	chat.CreatedAt = fromUnix(createdAt)
	chat.UpdatedAt = fromUnix(updatedAt)
	chat.LastMessageAt = fromUnix(lastSeen)
	return &chat, nil
}

// FindChat loads a chat by ID.
func (s *Store) FindChat(ctx context.Context, id string) (*Chat, error) {
	chat, err := scanChat(s.db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chat %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load chat: %w", err)
	}
	return chat, nil
}

// ListChats returns all chats, most recently active first.
func (s *Store) ListChats(ctx context.Context) ([]ChatSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chatColumns+`, (SELECT COUNT(*) FROM messages m WHERE m.chat_id = chats.id)
		FROM chats
		ORDER BY last_message_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	var chats []ChatSummary
	for rows.Next() {
		var count int
		chat, err := scanChat(rows, &count)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		chats = append(chats, ChatSummary{Chat: *chat, MessageCount: count})
	}

	return chats, rows.Err()
}

// UpdateChat writes the chat's title and system prompt.
func (s *Store) UpdateChat(ctx context.Context, chat *Chat) error {
	chat.UpdatedAt = now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE chats SET title = ?, system_prompt = ?, updated_at = ? WHERE id = ?`,
		chat.Title, chat.SystemPrompt, toUnix(chat.UpdatedAt), chat.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update chat: %w", err)
	}
	return expectOne(res, "chat", chat.ID)
}

// SetChatTitle updates only the title.
func (s *Store) SetChatTitle(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chats SET title = ?, updated_at = ? WHERE id = ?`,
		title, toUnix(now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to rename chat: %w", err)
	}
	return expectOne(res, "chat", id)
}

// DeleteChat removes a chat with its messages and attachments.
func (s *Store) DeleteChat(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		// Delete messages explicitly so the search index triggers run.
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete chat: %w", err)
		}
		return expectOne(res, "chat", id)
	})
}

// ForkChat copies the history of chatID up to and including messageID into
// a new chat, atomically. Attachments are copied with their messages.
func (s *Store) ForkChat(ctx context.Context, chatID, messageID string) (*Chat, error) {
	source, err := s.FindChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	history, err := s.ListMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}

	cut := -1
	for i, m := range history {
		if m.ID == messageID {
			cut = i
			break
		}
	}
	if cut < 0 {
		return nil, fmt.Errorf("message %s in chat %s: %w", messageID, chatID, ErrNotFound)
	}

	fork := &Chat{
		Title:           forkTitle(source.Title),
		SystemPrompt:    source.SystemPrompt,
		ParentChatID:    source.ID,
		ParentMessageID: messageID,
	}

	copies := make([]*Message, 0, cut+1)
	idMap := make(map[string]string, cut+1)
	for _, m := range history[:cut+1] {
		c := *m
		c.ID = uuid.NewString()
		idMap[m.ID] = c.ID
		c.ParentMessageID = idMap[m.ParentMessageID]
		c.Attachments = make([]Attachment, len(m.Attachments))
		for j, a := range m.Attachments {
			a.ID = ""
			c.Attachments[j] = a
		}
		copies = append(copies, &c)
	}

	if err := s.CreateChat(ctx, fork, copies...); err != nil {
		return nil, err
	}
	return fork, nil
}

func forkTitle(title string) string {
	if title == "" {
		return ""
	}
	return title + " (fork)"
}

// GenerateChatTitle derives a provisional title from the first user message.
func GenerateChatTitle(firstMessage string) string {
	name := strings.Join(strings.Fields(firstMessage), " ")
	if name == "" {
		return fmt.Sprintf("Chat %s", time.Now().Format("Jan 2, 3:04 PM"))
	}

	// Take first 30 characters
	if utf8.RuneCountInString(name) > 30 {
		runes := []rune(name)
		name = strings.TrimSpace(string(runes[:30])) + "..."
	}

	return name
}

func expectOne(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
