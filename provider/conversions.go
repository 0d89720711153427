package provider

import (
	"strings"

	"parley/model"
)

// Default sampling temperatures. Each adapter always sends one explicitly.
const (
	openAIDefaultTemperature    = 0.7
	anthropicDefaultTemperature = 1.0
	geminiDefaultTemperature    = 1.0
)

// NormalizeFinishReason maps vendor stop reasons onto model.FinishReason.
//
//	OpenAI:    stop, length, content_filter, tool_calls, function_call
//	Anthropic: end_turn, stop_sequence, max_tokens, tool_use, refusal, pause_turn
//	Gemini:    STOP, MAX_TOKENS, SAFETY, RECITATION, BLOCKLIST, ...
func NormalizeFinishReason(reason string) model.FinishReason {
	switch strings.ToLower(reason) {
	case "stop", "end_turn", "stop_sequence":
		return model.FinishStop
	case "length", "max_tokens":
		return model.FinishLength
	case "content_filter", "safety", "recitation", "refusal", "blocklist",
		"prohibited_content", "spii", "image_safety":
		return model.FinishContentFilter
	case "tool_calls", "tool_use", "function_call", "malformed_function_call":
		return model.FinishToolCalls
	default:
		return model.FinishUnknown
	}
}

// splitSystem separates system prompts from the conversational turns.
func splitSystem(messages []model.ChatMessage) ([]string, []model.ChatMessage) {
	var system []string
	turns := make([]model.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == model.RoleSystem {
			if msg.Content != "" {
				system = append(system, msg.Content)
			}
			continue
		}
		turns = append(turns, msg)
	}
	return system, turns
}

// foldSystemIntoFirstUser rewrites a history for models that reject the
// system role: system text is prepended to the first user turn.
func foldSystemIntoFirstUser(messages []model.ChatMessage) []model.ChatMessage {
	system, turns := splitSystem(messages)
	if len(system) == 0 {
		return turns
	}

	prefix := strings.Join(system, "\n\n")
	for i := range turns {
		if turns[i].Role == model.RoleUser {
			folded := turns[i]
			folded.Content = prefix + "\n\n" + folded.Content
			out := make([]model.ChatMessage, len(turns))
			copy(out, turns)
			out[i] = folded
			return out
		}
	}
	return append([]model.ChatMessage{{Role: model.RoleUser, Content: prefix}}, turns...)
}

// imagesFor returns the attachments to send with message i. Only the last
// message of a request goes out multimodal; earlier turns stay text-only.
func imagesFor(messages []model.ChatMessage, i int) []model.ImageAttachment {
	if i != len(messages)-1 {
		return nil
	}
	return messages[i].Images
}

// dataURL re-encodes an attachment as a canonical data URL.
func dataURL(img model.ImageAttachment) string {
	return "data:" + img.MediaType() + ";base64," + img.Payload()
}

func temperature(opts *model.CompletionOptions, fallback float64) float64 {
	if opts != nil && opts.Temperature != nil {
		return *opts.Temperature
	}
	return fallback
}

// stripVendorPrefix turns "qwen/qwen3-coder:free" into "qwen3-coder:free".
func stripVendorPrefix(id string) string {
	if i := strings.LastIndexByte(id, '/'); i >= 0 {
		return id[i+1:]
	}
	return id
}
