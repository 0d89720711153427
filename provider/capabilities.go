package provider

import (
	"strings"

	"parley/model"
)

// Max output tokens sent to Anthropic when the caller gives none.
const (
	anthropicMaxTokensDefault = 4096
	anthropicMaxTokensLarge   = 8192
)

var allRoles = []model.Role{model.RoleUser, model.RoleAssistant, model.RoleSystem}

var conversationalRoles = []model.Role{model.RoleUser, model.RoleAssistant}

// openAIVisionPrefixes lists OpenAI model families that accept image parts.
var openAIVisionPrefixes = []string{
	"gpt-4o", "gpt-4.1", "gpt-4-turbo", "gpt-4-vision", "gpt-5", "chatgpt-4o",
	"o1", "o3", "o4",
}

// ResolveCapabilities returns the static capabilities of model on a
// provider type. It is a pure function of its arguments.
func ResolveCapabilities(t ProviderType, modelID string) model.Capabilities {
	id := strings.ToLower(modelID)

	switch t {
	case ProviderTypeAnthropic:
		caps := model.Capabilities{
			SupportsVision:    !strings.HasPrefix(id, "claude-2") && !strings.HasPrefix(id, "claude-instant"),
			SupportsStreaming: true,
			RequiresMaxTokens: true,
			MaxTokensDefault:  anthropicMaxTokensDefault,
			SupportedRoles:    allRoles,
		}
		if isLargeOutputClaude(id) {
			caps.MaxTokensDefault = anthropicMaxTokensLarge
		}
		return caps

	case ProviderTypeGemini:
		return model.Capabilities{
			SupportsVision:    !strings.Contains(id, "embedding") && !strings.Contains(id, "aqa"),
			SupportsStreaming: true,
			SupportedRoles:    allRoles,
		}

	case ProviderTypeOpenRouter, ProviderTypeOllama:
		// Routed models are opaque; assume the common denominator and
		// let the host reject what it cannot do.
		base := stripVendorPrefix(id)
		return model.Capabilities{
			SupportsVision:    hasAnyPrefix(base, openAIVisionPrefixes) || strings.Contains(id, "vision") || strings.Contains(id, "claude-3") || strings.Contains(id, "gemini") || strings.Contains(id, "llava"),
			SupportsStreaming: true,
			SupportedRoles:    allRoles,
		}

	default:
		caps := model.Capabilities{
			SupportsVision:    hasAnyPrefix(id, openAIVisionPrefixes) && !strings.HasPrefix(id, "o1-mini") && !strings.HasPrefix(id, "o3-mini"),
			SupportsStreaming: true,
			SupportedRoles:    allRoles,
		}
		if strings.HasPrefix(id, "o1-mini") || strings.HasPrefix(id, "o1-preview") {
			caps.SupportsStreaming = false
			caps.SupportedRoles = conversationalRoles
		}
		return caps
	}
}

func isLargeOutputClaude(id string) bool {
	for _, family := range []string{"claude-3-5", "claude-3-7", "claude-sonnet-4", "claude-opus-4", "claude-haiku-4"} {
		if strings.HasPrefix(id, family) {
			return true
		}
	}
	return false
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
