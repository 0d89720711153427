package model

import "strings"

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ChatMessage is the provider-agnostic message shape handed to adapters.
// It is built per request from persisted history and never stored as-is.
type ChatMessage struct {
	Role    Role
	Content string
	Images  []ImageAttachment
}

// ImageAttachment carries base64 image data. Data may still carry a
// "data:<mime>;base64," prefix; adapters strip it before encoding.
type ImageAttachment struct {
	Data     string
	MimeType string
}

// Payload returns the raw base64 payload with any data-URL prefix removed.
func (a ImageAttachment) Payload() string {
	if !strings.HasPrefix(a.Data, "data:") {
		return a.Data
	}
	if i := strings.Index(a.Data, ";base64,"); i >= 0 {
		return a.Data[i+len(";base64,"):]
	}
	if i := strings.IndexByte(a.Data, ','); i >= 0 {
		return a.Data[i+1:]
	}
	return a.Data
}

// MediaType returns the declared MIME type, falling back to the one embedded
// in a data URL and finally to image/png.
func (a ImageAttachment) MediaType() string {
	if a.MimeType != "" {
		return a.MimeType
	}
	if rest, ok := strings.CutPrefix(a.Data, "data:"); ok {
		if i := strings.IndexAny(rest, ";,"); i > 0 {
			return rest[:i]
		}
	}
	return "image/png"
}
