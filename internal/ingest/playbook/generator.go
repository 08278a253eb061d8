package playbook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// LLMClient is the narrow completion interface LLMGenerator needs,
// satisfied by internal/llmclient.Client without importing it directly
// (keeps this package's dependency surface to the vector store alone).
type LLMClient interface {
	Complete(ctx context.Context, systemPrompt, task string, temperature float64) (string, error)
}

// LLMGenerator asks an LLM to turn a group of same-pattern episodic
// records into a structured playbook via a strict-JSON response,
// mirroring internal/ingest/autoingest's classification prompt shape.
type LLMGenerator struct {
	Client LLMClient
}

type documentVerdict struct {
	Objective               string   `json:"objective"`
	Steps                    []string `json:"steps"`
	Pitfalls                 []string `json:"pitfalls"`
	OrganizationalAlignment  string   `json:"organizational_alignment"`
}

func (g LLMGenerator) Generate(ctx context.Context, pattern string, records []EpisodicRecord) (Document, error) {
	var body strings.Builder
	fmt.Fprintf(&body, "Task pattern: %s\n\nRecent occurrences:\n", pattern)
	for _, r := range records {
		fmt.Fprintf(&body, "- agent=%s compliant=%v: %s\n", r.AgentID, r.Compliant, r.TaskDescription)
	}
	body.WriteString("\nRespond with only JSON: {\"objective\": \"...\", \"steps\": [\"...\"], " +
		"\"pitfalls\": [\"...\"], \"organizational_alignment\": \"...\"}")

	out, err := g.Client.Complete(ctx, "You distill recurring task patterns into reusable playbooks.", body.String(), 0.2)
	if err != nil {
		return Document{}, fmt.Errorf("playbook: generate call: %w", err)
	}

	start := strings.Index(out, "{")
	end := strings.LastIndex(out, "}")
	if start == -1 || end == -1 || start >= end {
		return Document{}, fmt.Errorf("playbook: no JSON in generation response")
	}

	var v documentVerdict
	if err := json.Unmarshal([]byte(out[start:end+1]), &v); err != nil {
		return Document{}, fmt.Errorf("playbook: parse generation response: %w", err)
	}
	return Document{
		Objective:               v.Objective,
		Steps:                   v.Steps,
		Pitfalls:                v.Pitfalls,
		OrganizationalAlignment: v.OrganizationalAlignment,
	}, nil
}
