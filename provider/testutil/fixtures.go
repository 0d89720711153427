package testutil

import (
	"fmt"
	"net/http"

	"github.com/tidwall/sjson"

	"parley/model"
)

// SingleUserMessage returns a single user message for simple tests
func SingleUserMessage(content string) []model.ChatMessage {
	return []model.ChatMessage{{Role: model.RoleUser, Content: content}}
}

// SystemAndUser returns a system prompt followed by one user turn.
func SystemAndUser(system, user string) []model.ChatMessage {
	return []model.ChatMessage{
		{Role: model.RoleSystem, Content: system},
		{Role: model.RoleUser, Content: user},
	}
}

// TestMessages returns a sample conversation for testing
func TestMessages() []model.ChatMessage {
	return []model.ChatMessage{
		{Role: model.RoleUser, Content: "Hello, how are you?"},
		{Role: model.RoleAssistant, Content: "I'm doing well, thank you!"},
		{Role: model.RoleUser, Content: "Can you help me with a task?"},
	}
}

// SSEEvent is one server-sent event written by WriteSSE.
type SSEEvent struct {
	Name string
	Data string
}

// WriteSSE writes events and flushes after each one.
func WriteSSE(w http.ResponseWriter, events ...SSEEvent) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)
	for _, ev := range events {
		if ev.Name != "" {
			fmt.Fprintf(w, "event: %s\n", ev.Name)
		}
		fmt.Fprintf(w, "data: %s\n\n", ev.Data)
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func set(doc, path string, value any) string {
	out, err := sjson.Set(doc, path, value)
	if err != nil {
		panic(err)
	}
	return out
}

func setRaw(doc, path, raw string) string {
	out, err := sjson.SetRaw(doc, path, raw)
	if err != nil {
		panic(err)
	}
	return out
}

// OpenAIStream returns the SSE events of a chat.completion.chunk stream:
// one chunk per text, a finish chunk, a usage chunk and [DONE].
func OpenAIStream(modelID string, texts []string, finish string, prompt, completion int64) []SSEEvent {
	base := set(`{"object":"chat.completion.chunk","created":1}`, "id", "chatcmpl-test")
	base = set(base, "model", modelID)

	var events []SSEEvent
	for _, text := range texts {
		chunk := setRaw(base, "choices", `[{"index":0,"delta":{},"finish_reason":null}]`)
		chunk = set(chunk, "choices.0.delta.content", text)
		events = append(events, SSEEvent{Data: chunk})
	}

	done := setRaw(base, "choices", `[{"index":0,"delta":{}}]`)
	done = set(done, "choices.0.finish_reason", finish)
	events = append(events, SSEEvent{Data: done})

	usage := setRaw(base, "choices", `[]`)
	usage = set(usage, "usage.prompt_tokens", prompt)
	usage = set(usage, "usage.completion_tokens", completion)
	usage = set(usage, "usage.total_tokens", prompt+completion)
	events = append(events, SSEEvent{Data: usage}, SSEEvent{Data: "[DONE]"})
	return events
}

// OpenAICompletion returns a non-streaming chat.completion body.
func OpenAICompletion(modelID, content, finish string, prompt, completion int64) string {
	doc := set(`{"id":"chatcmpl-test","object":"chat.completion","created":1}`, "model", modelID)
	doc = setRaw(doc, "choices", `[{"index":0,"message":{"role":"assistant"}}]`)
	doc = set(doc, "choices.0.message.content", content)
	doc = set(doc, "choices.0.finish_reason", finish)
	doc = set(doc, "usage.prompt_tokens", prompt)
	doc = set(doc, "usage.completion_tokens", completion)
	doc = set(doc, "usage.total_tokens", prompt+completion)
	return doc
}

// AnthropicStream returns the typed events of a Messages API stream.
func AnthropicStream(modelID string, texts []string, stopReason string, input, output int64) []SSEEvent {
	start := setRaw(`{"type":"message_start"}`, "message", `{"id":"msg_test","type":"message","role":"assistant","content":[],"stop_reason":null}`)
	start = set(start, "message.model", modelID)
	start = set(start, "message.usage.input_tokens", input)
	start = set(start, "message.usage.output_tokens", 1)

	events := []SSEEvent{
		{Name: "message_start", Data: start},
		{Name: "content_block_start", Data: `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
		{Name: "ping", Data: `{"type":"ping"}`},
	}
	for _, text := range texts {
		delta := set(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta"}}`, "delta.text", text)
		events = append(events, SSEEvent{Name: "content_block_delta", Data: delta})
	}

	msgDelta := set(`{"type":"message_delta","delta":{"stop_sequence":null}}`, "delta.stop_reason", stopReason)
	msgDelta = set(msgDelta, "usage.output_tokens", output)

	return append(events,
		SSEEvent{Name: "content_block_stop", Data: `{"type":"content_block_stop","index":0}`},
		SSEEvent{Name: "message_delta", Data: msgDelta},
		SSEEvent{Name: "message_stop", Data: `{"type":"message_stop"}`},
	)
}

// AnthropicMessage returns a non-streaming Messages API body.
func AnthropicMessage(modelID, content, stopReason string, input, output int64) string {
	doc := set(`{"id":"msg_test","type":"message","role":"assistant","stop_sequence":null}`, "model", modelID)
	doc = setRaw(doc, "content", `[{"type":"text"}]`)
	doc = set(doc, "content.0.text", content)
	doc = set(doc, "stop_reason", stopReason)
	doc = set(doc, "usage.input_tokens", input)
	doc = set(doc, "usage.output_tokens", output)
	return doc
}

// GeminiStream returns streamGenerateContent SSE events. Usage rides on
// every chunk; the last chunk carries finishReason.
func GeminiStream(modelID string, texts []string, finish string, prompt, candidates int64) []SSEEvent {
	var events []SSEEvent
	for i, text := range texts {
		doc := setRaw(`{}`, "candidates", `[{"content":{"role":"model","parts":[{}]},"index":0}]`)
		doc = set(doc, "candidates.0.content.parts.0.text", text)
		if i == len(texts)-1 {
			doc = set(doc, "candidates.0.finishReason", finish)
		}
		doc = set(doc, "usageMetadata.promptTokenCount", prompt)
		doc = set(doc, "usageMetadata.candidatesTokenCount", int64(i+1)*candidates/int64(len(texts)))
		doc = set(doc, "usageMetadata.totalTokenCount", prompt+int64(i+1)*candidates/int64(len(texts)))
		doc = set(doc, "modelVersion", modelID)
		events = append(events, SSEEvent{Data: doc})
	}
	return events
}

// GeminiResponse returns a non-streaming generateContent body.
func GeminiResponse(modelID string, texts []string, finish string, prompt, candidates int64) string {
	doc := setRaw(`{}`, "candidates", `[{"content":{"role":"model","parts":[]},"index":0}]`)
	for i, text := range texts {
		doc = set(doc, fmt.Sprintf("candidates.0.content.parts.%d.text", i), text)
	}
	doc = set(doc, "candidates.0.finishReason", finish)
	doc = set(doc, "usageMetadata.promptTokenCount", prompt)
	doc = set(doc, "usageMetadata.candidatesTokenCount", candidates)
	doc = set(doc, "usageMetadata.totalTokenCount", prompt+candidates)
	doc = set(doc, "modelVersion", modelID)
	return doc
}
