package llmclient

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient is the OpenAI-compatible alternate to Client, satisfying the
// same narrow agentfactory.LLM/playbook.LLMClient single-call interface so a
// worker (or the playbook distiller) can be pointed at either provider by
// config alone. Grounded on internal/agent/providers.OpenAIProvider's client
// construction, scoped down the same way Client scopes down the Anthropic
// provider.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient builds an OpenAIClient. baseURL overrides the default
// OpenAI endpoint for OpenAI-compatible providers (vLLM, Azure OpenAI
// gateways, etc); empty uses the public API.
func NewOpenAIClient(apiKey, model, baseURL string) *OpenAIClient {
	if model == "" {
		model = "gpt-4o"
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), model: model}
}

// Complete implements internal/agentfactory.LLM and internal/ingest/playbook.LLMClient.
func (c *OpenAIClient) Complete(ctx context.Context, systemPrompt, task string, temperature float64) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: task},
		},
		Temperature: float32(temperature),
	})
	if err != nil {
		return "", fmt.Errorf("llmclient: openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llmclient: openai completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
