// Package playbook distills a week of episodic-memory records into
// reusable task playbooks: group by recurring task pattern, ask an LLM
// to write an objective/steps/pitfalls/alignment document, and commit it
// when the involved agents' recent compliance is high enough (§4.5).
package playbook

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/phoenixmesh/phoenix/internal/retrieval/vectorstore"
)

const (
	lookbackWindow       = 7 * 24 * time.Hour
	complianceThreshold  = 0.9
	complianceSampleSize = 5
)

// EpisodicRecord is one row pulled from the episodic_memory collection.
type EpisodicRecord struct {
	TaskDescription string
	AgentID         string
	Compliant       bool
	Timestamp       time.Time
}

// Generator asks an LLM to turn a group of similar records into a
// structured playbook document.
type Generator interface {
	Generate(ctx context.Context, pattern string, records []EpisodicRecord) (Document, error)
}

// Document is the structured playbook content, separate from its
// rendered Markdown+frontmatter form.
type Document struct {
	Objective              string   `yaml:"objective"`
	Steps                  []string `yaml:"steps"`
	Pitfalls               []string `yaml:"pitfalls"`
	OrganizationalAlignment string  `yaml:"organizational_alignment"`
}

// Distiller runs the weekly distillation pass.
type Distiller struct {
	store      vectorstore.Store
	collection string
	generator  Generator
	outputDir  string
	repoPath   string
}

// New builds a Distiller.
func New(store vectorstore.Store, collection, outputDir, repoPath string, generator Generator) *Distiller {
	return &Distiller{store: store, collection: collection, generator: generator, outputDir: outputDir, repoPath: repoPath}
}

// Run pulls the last week's episodic records, groups them by task
// pattern, generates a playbook per group, writes it to disk, and
// optionally commits+pushes it if every involved agent's last 5 records
// show >= 90% compliance.
func (d *Distiller) Run(ctx context.Context) ([]string, error) {
	records, err := d.recentRecords(ctx)
	if err != nil {
		return nil, err
	}

	groups := groupByPattern(records)

	var written []string
	patterns := make([]string, 0, len(groups))
	for p := range groups {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)

	for _, pattern := range patterns {
		group := groups[pattern]
		doc, err := d.generator.Generate(ctx, pattern, group)
		if err != nil {
			return written, fmt.Errorf("playbook: generate for pattern %q: %w", pattern, err)
		}

		path, err := d.write(pattern, doc)
		if err != nil {
			return written, err
		}
		written = append(written, path)

		if d.allAgentsCompliant(ctx, group) {
			if err := d.commitAndPush(path, pattern); err != nil {
				// committing is best-effort; the playbook still exists on disk
				continue
			}
		}
	}

	return written, nil
}

func (d *Distiller) recentRecords(ctx context.Context) ([]EpisodicRecord, error) {
	points, err := d.store.Scroll(ctx, d.collection, 0)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-lookbackWindow)
	var records []EpisodicRecord
	for _, p := range points {
		ts, err := time.Parse(time.RFC3339, p.Payload["timestamp"])
		if err != nil || ts.Before(cutoff) {
			continue
		}
		records = append(records, EpisodicRecord{
			TaskDescription: p.Content,
			AgentID:         p.Payload["agent_id"],
			Compliant:       p.Payload["compliant"] == "true",
			Timestamp:       ts,
		})
	}
	return records, nil
}

var wordPattern = regexp.MustCompile(`[A-Za-z0-9]+`)

// taskPattern groups records by their first three alphanumeric words,
// lowercased — a cheap stand-in for semantic clustering that matches
// what a recurring task's description literally shares.
func taskPattern(description string) string {
	words := wordPattern.FindAllString(strings.ToLower(description), -1)
	if len(words) > 3 {
		words = words[:3]
	}
	return strings.Join(words, "-")
}

func groupByPattern(records []EpisodicRecord) map[string][]EpisodicRecord {
	groups := make(map[string][]EpisodicRecord)
	for _, r := range records {
		pattern := taskPattern(r.TaskDescription)
		if pattern == "" {
			continue
		}
		groups[pattern] = append(groups[pattern], r)
	}
	return groups
}

func (d *Distiller) write(pattern string, doc Document) (string, error) {
	frontmatter, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("playbook: marshal frontmatter: %w", err)
	}

	var body strings.Builder
	body.WriteString("---\n")
	body.Write(frontmatter)
	body.WriteString("---\n\n")
	body.WriteString(fmt.Sprintf("# %s\n\n", pattern))
	body.WriteString("## Objective\n\n" + doc.Objective + "\n\n")
	body.WriteString("## Steps\n\n")
	for _, s := range doc.Steps {
		body.WriteString("- " + s + "\n")
	}
	body.WriteString("\n## Pitfalls\n\n")
	for _, p := range doc.Pitfalls {
		body.WriteString("- " + p + "\n")
	}
	body.WriteString("\n## Organizational alignment\n\n" + doc.OrganizationalAlignment + "\n")

	if err := os.MkdirAll(d.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("playbook: create output dir: %w", err)
	}
	path := filepath.Join(d.outputDir, pattern+".md")
	if err := os.WriteFile(path, []byte(body.String()), 0o644); err != nil {
		return "", fmt.Errorf("playbook: write %s: %w", path, err)
	}
	return path, nil
}

// allAgentsCompliant requires every agent present in the group to show
// >= 90% compliance across their last 5 records system-wide (not just
// within this group).
func (d *Distiller) allAgentsCompliant(ctx context.Context, group []EpisodicRecord) bool {
	agents := make(map[string]bool)
	for _, r := range group {
		agents[r.AgentID] = true
	}

	for agent := range agents {
		if !d.agentRecentlyCompliant(ctx, agent) {
			return false
		}
	}
	return true
}

func (d *Distiller) agentRecentlyCompliant(ctx context.Context, agentID string) bool {
	points, err := d.store.Scroll(ctx, d.collection, 0)
	if err != nil {
		return false
	}

	var agentRecords []vectorstore.Point
	for _, p := range points {
		if p.Payload["agent_id"] == agentID {
			agentRecords = append(agentRecords, p)
		}
	}
	sort.Slice(agentRecords, func(i, j int) bool {
		return agentRecords[i].Payload["timestamp"] > agentRecords[j].Payload["timestamp"]
	})
	if len(agentRecords) > complianceSampleSize {
		agentRecords = agentRecords[:complianceSampleSize]
	}
	if len(agentRecords) == 0 {
		return false
	}

	compliant := 0
	for _, p := range agentRecords {
		if p.Payload["compliant"] == "true" {
			compliant++
		}
	}
	return float64(compliant)/float64(len(agentRecords)) >= complianceThreshold
}

func (d *Distiller) commitAndPush(path, pattern string) error {
	if d.repoPath == "" {
		return fmt.Errorf("playbook: no repo configured for commit")
	}
	relPath, err := filepath.Rel(d.repoPath, path)
	if err != nil {
		relPath = path
	}

	add := exec.Command("git", "add", relPath)
	add.Dir = d.repoPath
	if out, err := add.CombinedOutput(); err != nil {
		return fmt.Errorf("playbook: git add: %w: %s", err, out)
	}

	commit := exec.Command("git", "commit", "-m", fmt.Sprintf("Add playbook: %s", pattern))
	commit.Dir = d.repoPath
	if out, err := commit.CombinedOutput(); err != nil {
		return fmt.Errorf("playbook: git commit: %w: %s", err, out)
	}

	push := exec.Command("git", "push", "origin", "HEAD")
	push.Dir = d.repoPath
	if out, err := push.CombinedOutput(); err != nil {
		return fmt.Errorf("playbook: git push: %w: %s", err, out)
	}
	return nil
}
