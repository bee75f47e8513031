package adapter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/benchlab/run-engine/internal/models"
)

func TestNormalizeKindAliases(t *testing.T) {
	cases := map[string]models.AdapterKind{
		"openai-compat":     models.AdapterOpenAICompat,
		"OpenAI":            models.AdapterOpenAICompat,
		"openai_compatible": models.AdapterOpenAICompat,
		"OAI":               models.AdapterOpenAICompat,
		"compatible":        models.AdapterOpenAICompat,
		"anthropic":         models.AdapterAnthropic,
		"Claude":            models.AdapterAnthropic,
		"gemini":            models.AdapterGemini,
		"google":            models.AdapterGemini,
		"Google-AI":         models.AdapterGemini,
		"google_gen_ai":     models.AdapterGemini,
		"custom":            models.AdapterCustom,
	}

	for raw, want := range cases {
		require.Equal(t, want, NormalizeKind(raw), "alias %q", raw)
	}
}

func TestNormalizeKindUnknownPassesThroughCleaned(t *testing.T) {
	require.Equal(t, models.AdapterKind("mystery"), NormalizeKind("My-Stery"))
}

func TestNormalizeBaseURL(t *testing.T) {
	require.Equal(t, "https://api.example.com", NormalizeBaseURL("https://api.example.com/"))
	require.Equal(t, "https://api.example.com/v1", NormalizeBaseURL("  https://api.example.com/v1// "))
	require.Equal(t, "", NormalizeBaseURL(""))
}

func TestStripTrailingV1(t *testing.T) {
	require.Equal(t, "https://api.example.com", stripTrailingV1("https://api.example.com/v1"))
	require.Equal(t, "https://api.example.com", stripTrailingV1("https://api.example.com"))
}
