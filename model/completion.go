package model

// FinishReason is the normalized reason a completion ended.
// The empty value means the vendor reported nothing we recognize.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishUnknown       FinishReason = ""
)

// Usage reports token accounting for one completion.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// NewUsage fills TotalTokens from the two counts.
func NewUsage(prompt, completion int64) *Usage {
	return &Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// CompletionMetadata describes a finished completion.
type CompletionMetadata struct {
	Model        string
	Provider     string
	Usage        *Usage
	FinishReason FinishReason
}

// ChatCompletionResult is the outcome of a non-streaming call.
type ChatCompletionResult struct {
	Content  string
	Metadata CompletionMetadata
}

// StreamChunk is one increment of a streamed response. Content chunks carry
// no metadata; the terminal chunk carries usage and the finish reason and
// usually has empty content.
type StreamChunk struct {
	Content  string
	Metadata *CompletionMetadata
}

// CompletionOptions are caller overrides. Nil fields fall back to the
// adapter's vendor defaults.
type CompletionOptions struct {
	Temperature *float64
	MaxTokens   *int64
	TopP        *float64
}

// ModelInfo describes a model offered by a provider connection.
type ModelInfo struct {
	ID       string
	Name     string
	Provider string
	// Size is the on-disk size in bytes for local models, zero otherwise.
	Size int64
}

// Capabilities is a static description of what a model accepts.
type Capabilities struct {
	SupportsVision    bool
	SupportsStreaming bool
	RequiresMaxTokens bool
	MaxTokensDefault  int64
	SupportedRoles    []Role
}

// SupportsRole reports whether r is accepted by the model.
func (c Capabilities) SupportsRole(r Role) bool {
	for _, role := range c.SupportedRoles {
		if role == r {
			return true
		}
	}
	return false
}
