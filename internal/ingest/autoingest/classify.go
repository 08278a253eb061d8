package autoingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// keywordScores are the per-domain keyword sets used by the fallback
// classifier when no LLM is configured or the LLM call fails.
var keywordScores = map[Domain][]string{
	DomainMind: {"analysis", "reasoning", "logic", "strategy", "plan", "decision", "research", "knowledge"},
	DomainBody: {"deploy", "infrastructure", "server", "build", "pipeline", "config", "system", "hardware"},
	DomainHeart: {"feedback", "relationship", "empathy", "team", "culture", "trust", "communication", "conflict"},
	DomainSoul: {"mission", "purpose", "vision", "values", "ethics", "identity", "principle", "meaning"},
}

// KeywordClassifier scores preview text against each domain's keyword
// set and returns the highest-scoring domain, defaulting to Mind on a
// total tie (including zero matches everywhere).
type KeywordClassifier struct{}

func (KeywordClassifier) Classify(ctx context.Context, preview string) (Domain, error) {
	lower := strings.ToLower(preview)
	best := DomainMind
	bestScore := -1
	for _, domain := range []Domain{DomainMind, DomainBody, DomainHeart, DomainSoul} {
		score := 0
		for _, kw := range keywordScores[domain] {
			score += strings.Count(lower, kw)
		}
		if score > bestScore {
			bestScore = score
			best = domain
		}
	}
	return best, nil
}

// LLMClassifier asks a chat model to classify a preview into one of the
// four domains via a strict-JSON response.
type LLMClassifier struct {
	client *anthropic.Client
	model  string
}

func NewLLMClassifier(apiKey, model string) *LLMClassifier {
	if model == "" {
		model = "claude-3-5-haiku-20241022"
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &LLMClassifier{client: &client, model: model}
}

type classifyVerdict struct {
	Domain string `json:"domain"`
}

func (c *LLMClassifier) Classify(ctx context.Context, preview string) (Domain, error) {
	prompt := fmt.Sprintf(
		"Classify the following text into exactly one domain: mind, body, heart, or soul. "+
			"mind = analysis/reasoning/strategy, body = infrastructure/operations, "+
			"heart = relationships/team/communication, soul = mission/values/purpose. "+
			"Respond with only JSON: {\"domain\": \"<one of mind|body|heart|soul>\"}\n\nText: %s",
		preview,
	)

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 32,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("autoingest: classify call: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	response := strings.TrimSpace(text.String())
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || start >= end {
		return "", fmt.Errorf("autoingest: no JSON in classification response")
	}

	var verdict classifyVerdict
	if err := json.Unmarshal([]byte(response[start:end+1]), &verdict); err != nil {
		return "", fmt.Errorf("autoingest: parse classification response: %w", err)
	}

	switch Domain(strings.ToLower(verdict.Domain)) {
	case DomainMind, DomainBody, DomainHeart, DomainSoul:
		return Domain(strings.ToLower(verdict.Domain)), nil
	default:
		return "", fmt.Errorf("autoingest: unrecognized domain %q", verdict.Domain)
	}
}
