// Package llmclient adapts the Anthropic Messages API to the narrow,
// single-call interfaces this node's other packages need (worker
// completion, cross-encoder scoring, classification), rather than the
// teacher's full streaming agent.LLMProvider surface. Grounded on
// internal/agent/providers.AnthropicProvider for client construction and
// retry shape, scoped down the same way internal/retrieval/rerank's
// cross-encoder already scopes it down.
package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Client is a single-turn, non-streaming Anthropic caller.
type Client struct {
	client     *anthropic.Client
	model      string
	maxTokens  int64
	maxRetries int
}

// New builds a Client. model is the default model used when a caller
// doesn't override it via WithModel.
func New(apiKey, model string) *Client {
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Client{client: &c, model: model, maxTokens: 2048, maxRetries: 3}
}

// Complete implements internal/agentfactory.LLM: one non-streaming call
// with a system prompt, a single user turn, and a fixed temperature.
func (c *Client) Complete(ctx context.Context, systemPrompt, task string, temperature float64) (string, error) {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff(attempt)):
			}
		}

		attempts++
		msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:       anthropic.Model(c.model),
			MaxTokens:   c.maxTokens,
			Temperature: anthropic.Float(temperature),
			System:      []anthropic.TextBlockParam{{Type: "text", Text: systemPrompt}},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(task)),
			},
		})
		if err != nil {
			lastErr = err
			if !isRetryable(err) {
				break
			}
			continue
		}

		var text strings.Builder
		for _, block := range msg.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		return text.String(), nil
	}
	return "", fmt.Errorf("llmclient: completion failed after %d attempts: %w", attempts, lastErr)
}

// Score asks the model to act as a cross-encoder, mirroring
// internal/retrieval/rerank.LLMCrossEncoder's prompt shape, so a Client
// also satisfies rerank.CrossEncoder. internal/meshnode does not use it:
// it builds its cross-encoder with rerank.NewLLMCrossEncoder, a separate
// Anthropic client.
func (c *Client) Score(ctx context.Context, query, chunk string) (float64, error) {
	prompt := fmt.Sprintf(
		"Query: %s\n\nPassage: %s\n\nRate relevance from -10 (irrelevant) to 10 (exact match). Respond with only JSON: {\"logit\": <number>}",
		query, chunk,
	)
	out, err := c.Complete(ctx, "You are a precise relevance scorer.", prompt, 0)
	if err != nil {
		return 0, err
	}
	return parseLogit(out)
}

func backoff(attempt int) time.Duration {
	d := 500 * time.Millisecond * time.Duration(math.Pow(2, float64(attempt)))
	if d > 4*time.Second {
		d = 4 * time.Second
	}
	return d
}

func isRetryable(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

func parseLogit(response string) (float64, error) {
	response = strings.TrimSpace(response)
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || start >= end {
		return 0, fmt.Errorf("llmclient: no JSON object in response")
	}
	var verdict struct {
		Logit float64 `json:"logit"`
	}
	if err := json.Unmarshal([]byte(response[start:end+1]), &verdict); err != nil {
		return 0, err
	}
	return verdict.Logit, nil
}
