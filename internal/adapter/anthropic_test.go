package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAnthropicCompleteWireShape(t *testing.T) {
	var gotBody map[string]interface{}
	var gotHeaders http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/messages", r.URL.Path)
		gotHeaders = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"hello"}]}`))
	}))
	defer server.Close()

	client := NewAnthropicClient()
	cfg := ProviderConfig{BaseURL: server.URL, Credential: "sk-test"}
	messages := []Message{
		{Role: RoleSystem, Content: "be terse"},
		{Role: RoleUser, Content: "hi"},
	}

	text, err := client.Complete(context.Background(), cfg, "claude-3", messages, Params{})
	require.NoError(t, err)
	require.Equal(t, "hello", text)

	require.Equal(t, "sk-test", gotHeaders.Get("x-api-key"))
	require.Equal(t, "2023-06-01", gotHeaders.Get("anthropic-version"))

	require.Equal(t, "claude-3", gotBody["model"])
	require.Equal(t, "be terse", gotBody["system"])
	// max_tokens defaults to 1024 when the parameter is not enabled
	require.Equal(t, float64(1024), gotBody["max_tokens"])

	turns, ok := gotBody["messages"].([]interface{})
	require.True(t, ok)
	require.Len(t, turns, 1)
}

func TestAnthropicCompleteParamProjection(t *testing.T) {
	var gotBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"content":[{"text":"ok"}]}`))
	}))
	defer server.Close()

	temp := 0.2
	maxTokens := 4096
	topK := 50
	params := Params{Temperature: &temp, MaxTokens: &maxTokens, TopK: &topK, StopSequences: []string{"END"}}

	client := NewAnthropicClient()
	_, err := client.Complete(context.Background(), ProviderConfig{BaseURL: server.URL}, "claude-3", []Message{{Role: RoleUser, Content: "x"}}, params)
	require.NoError(t, err)

	require.Equal(t, 0.2, gotBody["temperature"])
	require.Equal(t, float64(4096), gotBody["max_tokens"])
	require.Equal(t, float64(50), gotBody["top_k"])
	require.Equal(t, []interface{}{"END"}, gotBody["stop_sequences"])
	// unsupported on this protocol
	require.NotContains(t, gotBody, "frequency_penalty")
	require.NotContains(t, gotBody, "presence_penalty")
}

func TestAnthropicCompleteHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewAnthropicClient()
	_, err := client.Complete(context.Background(), ProviderConfig{BaseURL: server.URL}, "claude-3", []Message{{Role: RoleUser, Content: "x"}}, Params{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "401")
}

func TestAnthropicStreamDeltas(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, true, body["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("event: message_start\n"))
		_, _ = w.Write([]byte("data: {\"type\":\"message_start\"}\n\n"))
		_, _ = w.Write([]byte("data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hel\"}}\n\n"))
		_, _ = w.Write([]byte("data: not-json\n\n"))
		_, _ = w.Write([]byte("data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"lo\"}}\n\n"))
		_, _ = w.Write([]byte("data: {\"type\":\"message_stop\"}\n\n"))
	}))
	defer server.Close()

	var tokens []string
	client := NewAnthropicClient()
	text, err := client.Stream(context.Background(), ProviderConfig{BaseURL: server.URL}, "claude-3", []Message{{Role: RoleUser, Content: "x"}}, Params{}, func(delta string) {
		tokens = append(tokens, delta)
	})

	require.NoError(t, err)
	require.Equal(t, "Hello", text)
	require.Equal(t, []string{"Hel", "lo"}, tokens)
}
