package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// GeminiClient talks to the Google Generative Language REST API:
// POST {base}/v1beta/models/{model}:generateContent?key={key}.
// Streaming is not implemented upstream of this client — Stream falls back
// to Complete and emits the full result as a single token.
type GeminiClient struct {
	httpClient *http.Client
}

// NewGeminiClient constructs a GeminiClient.
func NewGeminiClient() *GeminiClient {
	return &GeminiClient{httpClient: &http.Client{}}
}

func buildGeminiPrompt(messages []Message) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n\n")
}

func buildGeminiGenerationConfig(params Params) map[string]interface{} {
	cfg := map[string]interface{}{}
	if params.Temperature != nil {
		cfg["temperature"] = *params.Temperature
	}
	if params.MaxTokens != nil {
		cfg["maxOutputTokens"] = *params.MaxTokens
	}
	if params.TopP != nil {
		cfg["topP"] = *params.TopP
	}
	if params.TopK != nil {
		cfg["topK"] = *params.TopK
	}
	if params.FrequencyPenalty != nil {
		cfg["frequencyPenalty"] = *params.FrequencyPenalty
	}
	if params.PresencePenalty != nil {
		cfg["presencePenalty"] = *params.PresencePenalty
	}
	if len(params.StopSequences) > 0 {
		cfg["stopSequences"] = params.StopSequences
	}
	return cfg
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Complete implements Client.
func (c *GeminiClient) Complete(ctx context.Context, cfg ProviderConfig, modelID string, messages []Message, params Params) (string, error) {
	body := map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"role": "user",
				"parts": []map[string]string{
					{"text": buildGeminiPrompt(messages)},
				},
			},
		},
	}
	if generationConfig := buildGeminiGenerationConfig(params); len(generationConfig) > 0 {
		body["generationConfig"] = generationConfig
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("gemini: marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", cfg.BaseURL, modelID, url.QueryEscape(cfg.Credential))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("gemini: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini complete: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("gemini complete: read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("gemini complete: http status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("gemini complete: decode response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini complete: no candidates returned")
	}

	return parsed.Candidates[0].Content.Parts[0].Text, nil
}

// Stream implements Client by falling back to Complete and emitting the
// entire result as a single token, since Gemini streaming is not implemented.
func (c *GeminiClient) Stream(ctx context.Context, cfg ProviderConfig, modelID string, messages []Message, params Params, onToken OnToken) (string, error) {
	text, err := c.Complete(ctx, cfg, modelID, messages, params)
	if err != nil {
		return "", err
	}
	if onToken != nil {
		onToken(text)
	}
	return text, nil
}
