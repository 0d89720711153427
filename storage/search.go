package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"parley/model"
)

// SearchResult is a message matching a full-text query.
type SearchResult struct {
	MessageID string
	ChatID    string
	ChatTitle string
	Role      model.Role
	Snippet   string
	CreatedAt time.Time
	Rank      float64
}

const defaultSearchLimit = 50

// Search runs a full-text query over non-system messages, best matches
// first. An empty chatID searches every chat.
func (s *Store) Search(ctx context.Context, query, chatID string, limit int) ([]SearchResult, error) {
	match := ftsQuery(query)
	if match == "" {
		return []SearchResult{}, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	sqlText := `
		SELECT m.id, m.chat_id, c.title, m.role,
			snippet(messages_fts, 0, '[', ']', '...', 12), m.created_at, bm25(messages_fts)
		FROM messages_fts
		JOIN messages m ON m.seq = messages_fts.rowid
		JOIN chats c ON c.id = m.chat_id
		WHERE messages_fts MATCH ? AND m.role != 'system'`
	args := []any{match}
	if chatID != "" {
		sqlText += ` AND m.chat_id = ?`
		args = append(args, chatID)
	}
	sqlText += ` ORDER BY bm25(messages_fts), m.created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	results := []SearchResult{}
	for rows.Next() {
		var (
			r         SearchResult
			role      string
			createdAt int64
		)
		if err := rows.Scan(&r.MessageID, &r.ChatID, &r.ChatTitle, &role, &r.Snippet, &createdAt, &r.Rank); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		r.Role = model.Role(role)
		r.CreatedAt = fromUnix(createdAt)
		results = append(results, r)
	}
	return results, rows.Err()
}

// ftsQuery turns free text into an FTS5 query where every word must appear.
// Terms are quoted so operators and punctuation are matched literally.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, `""`)
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " ")
}
