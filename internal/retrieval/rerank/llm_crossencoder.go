package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// LLMCrossEncoder asks a chat model to act as a cross-encoder: given a
// query and a single chunk, it returns a relevance logit in [-10, 10].
// This stands in for a dedicated cross-encoder model (e.g. a
// sentence-transformers ms-marco checkpoint), which this module does not
// embed; grounded on the teacher's Anthropic provider for request/retry
// shape, scoped down to a single non-streaming call.
type LLMCrossEncoder struct {
	client *anthropic.Client
	model  string
}

// NewLLMCrossEncoder builds a cross-encoder backed by the Anthropic
// Messages API.
func NewLLMCrossEncoder(apiKey, model string) *LLMCrossEncoder {
	if model == "" {
		model = "claude-3-5-haiku-20241022"
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &LLMCrossEncoder{client: &client, model: model}
}

type crossEncoderVerdict struct {
	Logit float64 `json:"logit"`
}

// Score implements CrossEncoder.
func (e *LLMCrossEncoder) Score(ctx context.Context, query, chunk string) (float64, error) {
	prompt := fmt.Sprintf(
		"Query: %s\n\nPassage: %s\n\nRate how relevant the passage is to the query on a scale from -10 (irrelevant) to 10 (exact match). Respond with only JSON: {\"logit\": <number>}",
		sanitizePromptInput(query), sanitizePromptInput(chunk),
	)

	msg, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: 64,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return 0, fmt.Errorf("rerank: cross-encoder call: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return parseLogit(text.String())
}

func parseLogit(response string) (float64, error) {
	response = strings.TrimSpace(response)
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start != -1 && end != -1 && start < end {
		var verdict crossEncoderVerdict
		if err := json.Unmarshal([]byte(response[start:end+1]), &verdict); err == nil {
			return verdict.Logit, nil
		}
	}

	if v, err := strconv.ParseFloat(response, 64); err == nil {
		return v, nil
	}

	return 0, fmt.Errorf("rerank: could not parse cross-encoder response %q", response)
}

// sanitizePromptInput strips patterns that could be used to escape the
// scoring prompt's structure, mirroring the redaction-adjacent hygiene
// applied to other LLM-facing inputs in this module.
func sanitizePromptInput(s string) string {
	s = strings.ReplaceAll(s, "```", "")
	s = strings.ReplaceAll(s, "Ignore previous instructions", "")
	s = strings.ReplaceAll(s, "ignore previous instructions", "")
	return strings.TrimSpace(s)
}
