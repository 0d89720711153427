package ui

import (
	"fmt"
	"strings"

	"parley/model"
	"parley/storage"
)

// FormatTranscript renders a chat header followed by its messages.
func FormatTranscript(chat *storage.Chat, msgs []*storage.Message, width int) string {
	var b strings.Builder

	b.WriteString(TitleStyle.Render(chat.Title))
	b.WriteString("\n")
	b.WriteString(DimStyle.Render(fmt.Sprintf("%s  created %s", chat.ID, chat.CreatedAt.Local().Format("2006-01-02 15:04"))))
	b.WriteString("\n\n")

	if len(msgs) == 0 {
		b.WriteString(DimStyle.Render("No messages yet."))
		b.WriteString("\n")
		return b.String()
	}

	for _, m := range msgs {
		b.WriteString(FormatMessage(m, width))
	}
	return b.String()
}

// FormatMessage renders one message. User turns are drawn behind a green
// bar; assistant replies are rendered as markdown.
func FormatMessage(m *storage.Message, width int) string {
	timestamp := DimStyle.Render(m.CreatedAt.Local().Format("[15:04]"))
	header := timestamp + " " + RoleLabel(m.Role)
	if label := StatusLabel(m.Status); label != "" {
		header += " " + label
	}
	if m.Role == model.RoleAssistant && m.Model != "" {
		header += " " + DimStyle.Render(m.Model)
	}

	switch m.Role {
	case model.RoleUser:
		return formatUserMessage(header, m)
	case model.RoleAssistant:
		body := RenderMarkdown(m.Content, width)
		if m.Error != "" {
			body += "\n" + ErrorStyle.Render(m.Error)
		}
		return header + "\n" + body + "\n\n"
	default:
		return header + "\n" + DimStyle.Render(m.Content) + "\n\n"
	}
}

func formatUserMessage(header string, m *storage.Message) string {
	bar := UserStyle.Render(codeBar)

	var b strings.Builder
	b.WriteString(bar + " " + header + "\n")
	for _, line := range strings.Split(m.Content, "\n") {
		b.WriteString(bar + " " + line + "\n")
	}
	for _, a := range m.Attachments {
		b.WriteString(bar + " " + DimStyle.Render("[image "+a.MimeType+"]") + "\n")
	}
	b.WriteString("\n")
	return b.String()
}
