package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const anthropicVersion = "2023-06-01"

const defaultAnthropicMaxTokens = 1024

// AnthropicClient talks to the Anthropic Messages API: POST {base}/v1/messages.
type AnthropicClient struct {
	httpClient *http.Client
}

// NewAnthropicClient constructs an AnthropicClient.
func NewAnthropicClient() *AnthropicClient {
	return &AnthropicClient{httpClient: &http.Client{}}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func buildAnthropicBody(modelID string, messages []Message, params Params, stream bool) map[string]interface{} {
	var system []string
	var turns []anthropicMessage
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, anthropicMessage{Role: "user", Content: m.Content})
	}

	body := map[string]interface{}{
		"model":    modelID,
		"messages": turns,
	}
	if len(system) > 0 {
		body["system"] = strings.Join(system, "\n\n")
	}
	if stream {
		body["stream"] = true
	}

	maxTokens := defaultAnthropicMaxTokens
	if params.MaxTokens != nil {
		maxTokens = *params.MaxTokens
	}
	body["max_tokens"] = maxTokens

	if params.Temperature != nil {
		body["temperature"] = *params.Temperature
	}
	if params.TopP != nil {
		body["top_p"] = *params.TopP
	}
	if params.TopK != nil {
		body["top_k"] = *params.TopK
	}
	if len(params.StopSequences) > 0 {
		body["stop_sequences"] = params.StopSequences
	}

	return body
}

func (c *AnthropicClient) newRequest(ctx context.Context, cfg ProviderConfig, body map[string]interface{}) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anthropic-version", anthropicVersion)
	if cfg.Credential != "" {
		req.Header.Set("x-api-key", cfg.Credential)
	}

	return req, nil
}

type anthropicCompleteResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

// Complete implements Client.
func (c *AnthropicClient) Complete(ctx context.Context, cfg ProviderConfig, modelID string, messages []Message, params Params) (string, error) {
	body := buildAnthropicBody(modelID, messages, params, false)

	req, err := c.newRequest(ctx, cfg, body)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("anthropic complete: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("anthropic complete: read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("anthropic complete: http status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed anthropicCompleteResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("anthropic complete: decode response: %w", err)
	}
	if len(parsed.Content) == 0 {
		return "", fmt.Errorf("anthropic complete: no content returned")
	}

	return parsed.Content[0].Text, nil
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Text string `json:"text"`
	} `json:"delta"`
}

// Stream implements Client.
func (c *AnthropicClient) Stream(ctx context.Context, cfg ProviderConfig, modelID string, messages []Message, params Params, onToken OnToken) (string, error) {
	body := buildAnthropicBody(modelID, messages, params, true)

	req, err := c.newRequest(ctx, cfg, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("anthropic stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("anthropic stream: http status %d: %s", resp.StatusCode, string(raw))
	}

	var full strings.Builder
	err = forEachSSEData(resp.Body, func(payload string) bool {
		var event anthropicStreamEvent
		if jsonErr := json.Unmarshal([]byte(payload), &event); jsonErr != nil {
			return false
		}
		if event.Type != "content_block_delta" || event.Delta.Text == "" {
			return false
		}
		full.WriteString(event.Delta.Text)
		if onToken != nil {
			onToken(event.Delta.Text)
		}
		return false
	})

	return full.String(), err
}
