package adapter

import (
	"fmt"

	"github.com/benchlab/run-engine/internal/models"
)

// Registry resolves an AdapterKind to the Client implementation that speaks
// its wire protocol.
type Registry struct {
	openaiCompat *OpenAICompatClient
	anthropic    *AnthropicClient
	gemini       *GeminiClient
}

// NewRegistry constructs a Registry with one instance of each adapter kind.
func NewRegistry() *Registry {
	return &Registry{
		openaiCompat: NewOpenAICompatClient(),
		anthropic:    NewAnthropicClient(),
		gemini:       NewGeminiClient(),
	}
}

// For returns the Client for the given (already-normalized) AdapterKind.
func (r *Registry) For(kind models.AdapterKind) (Client, error) {
	switch kind {
	case models.AdapterOpenAICompat, models.AdapterCustom:
		return r.openaiCompat, nil
	case models.AdapterAnthropic:
		return r.anthropic, nil
	case models.AdapterGemini:
		return r.gemini, nil
	default:
		return nil, fmt.Errorf("adapter: unsupported kind %q", kind)
	}
}
