package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"github.com/sahilm/fuzzy"

	"parley/provider"
	"parley/storage"
)

const (
	titleColumnWidth = 40
	idColumnWidth    = 8
)

// FilterChats keeps the chats whose titles fuzzily match filter, best
// matches first. An empty filter returns chats unchanged.
func FilterChats(chats []storage.ChatSummary, filter string) []storage.ChatSummary {
	if filter == "" {
		return chats
	}

	targets := make([]string, len(chats))
	for i, c := range chats {
		targets[i] = c.Title
	}

	matches := fuzzy.Find(filter, targets)
	filtered := make([]storage.ChatSummary, len(matches))
	for i, match := range matches {
		filtered[i] = chats[match.Index]
	}
	return filtered
}

// FormatChatList renders one line per chat: short ID, title, message count
// and last activity.
func FormatChatList(chats []storage.ChatSummary, now time.Time) string {
	if len(chats) == 0 {
		return DimStyle.Render("No chats.") + "\n"
	}

	var b strings.Builder
	for _, c := range chats {
		id := c.ID
		if len(id) > idColumnWidth {
			id = id[:idColumnWidth]
		}
		fmt.Fprintf(&b, "%s  %s  %s  %s\n",
			DimStyle.Render(id),
			PadRight(c.Title, titleColumnWidth),
			DimStyle.Render(fmt.Sprintf("%4d msgs", c.MessageCount)),
			DimStyle.Render(humanize.RelTime(c.LastMessageAt, now, "ago", "from now")),
		)
	}
	return b.String()
}

// PadRight truncates or pads s to exactly width terminal cells.
func PadRight(s string, width int) string {
	if runewidth.StringWidth(s) > width {
		s = runewidth.Truncate(s, width, "...")
	}
	return s + strings.Repeat(" ", width-runewidth.StringWidth(s))
}

// FormatModelList renders models grouped by connection. Failed connections
// show their error instead.
func FormatModelList(listings []provider.ModelListing) string {
	var b strings.Builder
	for _, l := range listings {
		b.WriteString(TitleStyle.Render(l.ConnectionID))
		b.WriteString("\n")
		if l.Err != nil {
			b.WriteString("  " + ErrorStyle.Render(l.Err.Error()) + "\n")
			continue
		}
		if len(l.Models) == 0 {
			b.WriteString("  " + DimStyle.Render("no models") + "\n")
			continue
		}
		for _, m := range l.Models {
			line := "  " + m.ID
			if m.Size > 0 {
				line += "  " + DimStyle.Render(humanize.Bytes(uint64(m.Size)))
			}
			b.WriteString(line + "\n")
		}
	}
	return b.String()
}

// FormatSearchResults renders search hits with their matched terms
// highlighted.
func FormatSearchResults(results []storage.SearchResult) string {
	if len(results) == 0 {
		return DimStyle.Render("No matches.") + "\n"
	}

	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "%s %s %s\n  %s\n",
			TitleStyle.Render(r.ChatTitle),
			RoleLabel(r.Role),
			DimStyle.Render(r.CreatedAt.Local().Format("2006-01-02 15:04")),
			HighlightSnippet(r.Snippet),
		)
	}
	return b.String()
}

// HighlightSnippet styles the [bracketed] terms the search index marks.
func HighlightSnippet(snippet string) string {
	var b strings.Builder
	for {
		start := strings.IndexByte(snippet, '[')
		if start < 0 {
			break
		}
		end := strings.IndexByte(snippet[start:], ']')
		if end < 0 {
			break
		}
		end += start
		b.WriteString(snippet[:start])
		b.WriteString(HighlightStyle.Render(snippet[start+1 : end]))
		snippet = snippet[end+1:]
	}
	b.WriteString(snippet)
	return b.String()
}

// FormatHealth renders the outcome of a connection check.
func FormatHealth(r provider.HealthResult) string {
	if !r.Valid {
		return fmt.Sprintf("%s  %s", PadRight(r.ConnectionID, 16), ErrorStyle.Render(r.Err.Error()))
	}
	return fmt.Sprintf("%s  %s %s", PadRight(r.ConnectionID, 16),
		UserStyle.Render("ok"), DimStyle.Render(r.Latency.Round(time.Millisecond).String()))
}
