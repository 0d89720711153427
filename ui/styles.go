// Package ui formats chats, messages and listings for the terminal.
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"parley/model"
	"parley/storage"
)

var (
	dimColor       = lipgloss.Color("7")
	accentColor    = lipgloss.Color("12")
	successColor   = lipgloss.Color("10")
	warningColor   = lipgloss.Color("11")
	dangerColor    = lipgloss.Color("9")
	highlightColor = lipgloss.Color("13")

	// User message style
	UserStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	// Assistant message style
	AssistantStyle = lipgloss.NewStyle().
			Foreground(accentColor)

	// System/timestamp style
	DimStyle = lipgloss.NewStyle().
			Foreground(dimColor)

	TitleStyle = lipgloss.NewStyle().
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(warningColor)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(dangerColor).
			Bold(true)

	HighlightStyle = lipgloss.NewStyle().
			Foreground(highlightColor).
			Bold(true)
)

// RoleLabel returns the styled display name of a message role.
func RoleLabel(role model.Role) string {
	switch role {
	case model.RoleUser:
		return UserStyle.Render("You")
	case model.RoleAssistant:
		return AssistantStyle.Render("Assistant")
	default:
		return DimStyle.Render("System")
	}
}

// StatusLabel marks assistant replies that did not complete. Complete
// messages get an empty label.
func StatusLabel(status storage.MessageStatus) string {
	switch status {
	case storage.StatusStopped:
		return WarningStyle.Render("[stopped]")
	case storage.StatusError:
		return ErrorStyle.Render("[error]")
	case storage.StatusPending, storage.StatusStreaming:
		return DimStyle.Render("[" + string(status) + "]")
	default:
		return ""
	}
}

// FormatFooter formats alternating keys and descriptions.
// FormatFooter("send", "Send a message", "chats", "List chats")
func FormatFooter(parts ...string) string {
	descStyle := lipgloss.NewStyle().Foreground(accentColor).Bold(true)
	var result []string
	for i := 0; i+1 < len(parts); i += 2 {
		result = append(result, parts[i]+" "+descStyle.Render(parts[i+1]))
	}
	return strings.Join(result, "  ")
}
