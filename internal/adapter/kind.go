// Package adapter normalizes three incompatible provider wire protocols
// (OpenAI-style chat completions, Anthropic messages, Google Gemini REST)
// into a single Client interface.
package adapter

import (
	"regexp"
	"strings"

	"github.com/benchlab/run-engine/internal/models"
)

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]`)

// NormalizeKind lower-cases and strips non-alphanumeric characters from raw,
// then collapses known aliases onto their canonical AdapterKind.
func NormalizeKind(raw string) models.AdapterKind {
	cleaned := nonAlphanumeric.ReplaceAllString(strings.ToLower(raw), "")

	switch cleaned {
	case "openaicompat", "openai", "openaicompatible", "oai", "compatible":
		return models.AdapterOpenAICompat
	case "anthropic", "claude":
		return models.AdapterAnthropic
	case "gemini", "google", "googleai", "googlegenai":
		return models.AdapterGemini
	case "custom":
		return models.AdapterCustom
	default:
		return models.AdapterKind(cleaned)
	}
}

// NormalizeBaseURL trims trailing slashes from a provider base URL.
func NormalizeBaseURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}
