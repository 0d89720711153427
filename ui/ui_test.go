package ui

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/model"
	"parley/provider"
	"parley/storage"
)

func TestFilterChats(t *testing.T) {
	chats := []storage.ChatSummary{
		{Chat: storage.Chat{ID: "1", Title: "Pancake recipes"}},
		{Chat: storage.Chat{ID: "2", Title: "Go generics"}},
		{Chat: storage.Chat{ID: "3", Title: "Packing list"}},
	}

	assert.Equal(t, chats, FilterChats(chats, ""))

	got := FilterChats(chats, "gen")
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].ID)

	assert.Empty(t, FilterChats(chats, "zzz"))
}

func TestPadRight(t *testing.T) {
	assert.Equal(t, "abc  ", PadRight("abc", 5))
	assert.Equal(t, "ab...", PadRight("abcdefgh", 5))
	assert.Equal(t, "日本 ", PadRight("日本", 5), "wide runes count two cells")
}

func TestHighlightSnippet(t *testing.T) {
	got := StripANSI(HighlightSnippet("I like [pancakes] and [syrup]..."))
	assert.Equal(t, "I like pancakes and syrup...", got)

	assert.Equal(t, "unclosed [bracket", StripANSI(HighlightSnippet("unclosed [bracket")))
}

func TestFormatModelList(t *testing.T) {
	out := StripANSI(FormatModelList([]provider.ModelListing{
		{ConnectionID: "ollama", Models: []model.ModelInfo{{ID: "llama3.1:8b", Size: 4920753328}}},
		{ConnectionID: "openai", Models: []model.ModelInfo{{ID: "gpt-4o-mini"}}},
		{ConnectionID: "down", Err: errors.New("connection refused")},
	}))

	assert.Contains(t, out, "llama3.1:8b  4.9 GB")
	assert.Contains(t, out, "  gpt-4o-mini\n")
	assert.Contains(t, out, "down\n  connection refused")
}

func TestFormatChatList(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	out := StripANSI(FormatChatList([]storage.ChatSummary{{
		Chat:         storage.Chat{ID: "0123456789abcdef", Title: "Breakfast", LastMessageAt: now.Add(-2 * time.Hour)},
		MessageCount: 4,
	}}, now))

	assert.True(t, strings.HasPrefix(out, "01234567  Breakfast"), out)
	assert.Contains(t, out, "4 msgs")
	assert.Contains(t, out, "2 hours ago")

	assert.Equal(t, "No chats.\n", StripANSI(FormatChatList(nil, now)))
}

func TestStatusLabel(t *testing.T) {
	assert.Empty(t, StatusLabel(storage.StatusComplete))
	assert.Equal(t, "[stopped]", StripANSI(StatusLabel(storage.StatusStopped)))
	assert.Equal(t, "[error]", StripANSI(StatusLabel(storage.StatusError)))
}

func TestRenderMarkdownFlattensLinks(t *testing.T) {
	out := StripANSI(RenderMarkdown("See [the docs](https://example.com/x) for more.", 80))

	assert.Contains(t, out, "https://example.com/x")
	assert.NotContains(t, out, "[the docs]")
}

func TestFrameCodeBlocks(t *testing.T) {
	in := strings.Join([]string{"intro", "┃ line one", "┃ line two", "outro"}, "\n")
	out := StripANSI(frameCodeBlocks(in, 24))
	lines := strings.Split(out, "\n")

	assert.Equal(t, "intro", lines[0])
	assert.Contains(t, lines[2], "[code]")
	assert.Contains(t, lines, "line one")
	assert.Contains(t, lines, "line two")
	assert.Equal(t, "outro", lines[len(lines)-1])
	assert.NotContains(t, out, codeBar)
}

func TestFormatMessage(t *testing.T) {
	user := StripANSI(FormatMessage(&storage.Message{
		Role:        model.RoleUser,
		Content:     "first\nsecond",
		Attachments: []storage.Attachment{{MimeType: "image/png"}},
	}, 80))
	assert.Contains(t, user, codeBar+" first\n")
	assert.Contains(t, user, codeBar+" second\n")
	assert.Contains(t, user, "[image image/png]")

	reply := StripANSI(FormatMessage(&storage.Message{
		Role:    model.RoleAssistant,
		Content: "partial",
		Status:  storage.StatusError,
		Error:   "rate limited",
		Model:   "gpt-4o-mini",
	}, 80))
	assert.Contains(t, reply, "Assistant [error] gpt-4o-mini")
	assert.Contains(t, reply, "partial")
	assert.Contains(t, reply, "rate limited")
}
