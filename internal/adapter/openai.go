package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAICompatClient talks to any OpenAI-chat-completions-compatible
// endpoint: POST {base}/chat/completions with an optional bearer token.
type OpenAICompatClient struct{}

// NewOpenAICompatClient constructs an OpenAICompatClient.
func NewOpenAICompatClient() *OpenAICompatClient {
	return &OpenAICompatClient{}
}

func (c *OpenAICompatClient) newSDKClient(cfg ProviderConfig) *openai.Client {
	conf := openai.DefaultConfig(cfg.Credential)
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(conf)
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleSystem {
			role = openai.ChatMessageRoleSystem
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

func applyOpenAIParams(req *openai.ChatCompletionRequest, params Params) {
	if params.Temperature != nil {
		req.Temperature = float32(*params.Temperature)
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = float32(*params.TopP)
	}
	if params.FrequencyPenalty != nil {
		req.FrequencyPenalty = float32(*params.FrequencyPenalty)
	}
	if params.PresencePenalty != nil {
		req.PresencePenalty = float32(*params.PresencePenalty)
	}
	if len(params.StopSequences) > 0 {
		req.Stop = params.StopSequences
	}
}

// Complete implements Client.
func (c *OpenAICompatClient) Complete(ctx context.Context, cfg ProviderConfig, modelID string, messages []Message, params Params) (string, error) {
	client := c.newSDKClient(cfg)

	req := openai.ChatCompletionRequest{
		Model:    modelID,
		Messages: toOpenAIMessages(messages),
	}
	applyOpenAIParams(&req, params)

	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai-compat complete: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai-compat complete: no choices returned")
	}

	return resp.Choices[0].Message.Content, nil
}

// Stream implements Client.
func (c *OpenAICompatClient) Stream(ctx context.Context, cfg ProviderConfig, modelID string, messages []Message, params Params, onToken OnToken) (string, error) {
	client := c.newSDKClient(cfg)

	req := openai.ChatCompletionRequest{
		Model:    modelID,
		Messages: toOpenAIMessages(messages),
		Stream:   true,
	}
	applyOpenAIParams(&req, params)

	stream, err := client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai-compat stream: %w", err)
	}
	defer stream.Close()

	var full string
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return full, fmt.Errorf("openai-compat stream: %w", err)
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full += delta
		if onToken != nil {
			onToken(delta)
		}
	}

	return full, nil
}
