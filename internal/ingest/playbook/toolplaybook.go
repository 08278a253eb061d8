// Tool-install playbooks are a second, distinct kind of playbook from
// the markdown task playbooks Distiller produces above: each one records
// how a twin installs and verifies an external tool (package manager,
// command, verification probe), with a reliability score that tracks
// every attempted use. Recovered from original_source's playbook_store
// and safe_installer tools, which the markdown distiller's spec section
// never mentioned.
package playbook

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/phoenixmesh/phoenix/internal/retrieval/vectorstore"
)

const toolEmbeddingDim = 32

// Playbook is a reusable tool-installation recipe.
type Playbook struct {
	ID                  string
	ToolName            string
	Repository          string
	Language            string
	InstallCommand      string
	InstallType         string
	VerificationCommand string
	EnvironmentConfig   map[string]string
	ReliabilityScore    float64
	SuccessCount        int
	TotalAttempts       int
	VerifierID          string
	VerifiedAt          *time.Time
	LastUsedAt          *time.Time
	Description         string
	UpstreamURL         string
}

const (
	reliabilityMilestoneStep = 10
	reliabilityMilestoneBump = 0.01
	reliabilityMilestoneCap  = 0.99
	reliabilityDecayFraction = 0.05
)

// UpdatePlaybookStats records one install/use attempt and recomputes pb's
// reliability score in place.
//
// On success: every 10th cumulative success bumps reliability by 1%
// (capped at 0.99); other successes recompute reliability as the plain
// success rate. On failure: reliability decays by 5% of its current
// value, floored at the plain success rate so a string of failures can't
// push it below what the raw counts justify.
func UpdatePlaybookStats(pb *Playbook, success bool) {
	pb.TotalAttempts++

	if success {
		pb.SuccessCount++
		milestone := (pb.SuccessCount / reliabilityMilestoneStep) * reliabilityMilestoneStep
		previousMilestone := ((pb.SuccessCount - 1) / reliabilityMilestoneStep) * reliabilityMilestoneStep
		if milestone > previousMilestone && pb.ReliabilityScore < reliabilityMilestoneCap {
			pb.ReliabilityScore = math.Min(pb.ReliabilityScore+reliabilityMilestoneBump, reliabilityMilestoneCap)
		} else {
			pb.ReliabilityScore = successRate(pb)
		}
	} else {
		rate := successRate(pb)
		pb.ReliabilityScore = math.Max(pb.ReliabilityScore-pb.ReliabilityScore*reliabilityDecayFraction, rate)
	}

	now := time.Now()
	pb.LastUsedAt = &now
}

func successRate(pb *Playbook) float64 {
	if pb.TotalAttempts == 0 {
		return 0
	}
	return float64(pb.SuccessCount) / float64(pb.TotalAttempts)
}

// ToolStore persists tool playbooks in a vector collection so they can
// be recalled by exact tool-name match or, failing that, by approximate
// embedding similarity. It reuses the same vectorstore.Store the
// markdown Distiller and retrieval core already depend on rather than
// standing up a second storage backend.
type ToolStore struct {
	store      vectorstore.Store
	collection string
}

// NewToolStore builds a ToolStore over an existing vector collection.
func NewToolStore(store vectorstore.Store, collection string) *ToolStore {
	return &ToolStore{store: store, collection: collection}
}

// Save assigns pb an ID if it doesn't have one and upserts it.
func (s *ToolStore) Save(ctx context.Context, pb *Playbook) error {
	if pb.ID == "" {
		pb.ID = uuid.NewString()
	}
	return s.store.Upsert(ctx, s.collection, []vectorstore.Point{{
		ID:      pb.ID,
		Vector:  embedText(pb.ToolName + " " + pb.Description),
		Content: pb.Description,
		Payload: encodePlaybook(pb),
	}})
}

// SearchByTool returns playbooks for an exact tool name match, ordered
// most-reliable first; if none exist it falls back to embedding
// similarity over the whole collection.
func (s *ToolStore) SearchByTool(ctx context.Context, toolName string, limit int) ([]*Playbook, error) {
	points, err := s.store.Scroll(ctx, s.collection, 0)
	if err != nil {
		return nil, fmt.Errorf("playbook: scroll tool collection: %w", err)
	}

	var exact []*Playbook
	for _, p := range points {
		if strings.EqualFold(p.Payload["tool_name"], toolName) {
			exact = append(exact, decodePlaybook(p))
		}
	}
	if len(exact) > 0 {
		sortByReliability(exact)
		return capAt(exact, limit), nil
	}

	scored, err := s.store.Search(ctx, s.collection, vectorstore.SearchParams{
		Vector: embedText(toolName),
		Limit:  limit,
	})
	if err != nil {
		return nil, fmt.Errorf("playbook: search tool collection: %w", err)
	}
	out := make([]*Playbook, 0, len(scored))
	for _, sp := range scored {
		out = append(out, decodePlaybook(sp.Point))
	}
	return out, nil
}

// All returns every stored playbook, most reliable first.
func (s *ToolStore) All(ctx context.Context) ([]*Playbook, error) {
	points, err := s.store.Scroll(ctx, s.collection, 0)
	if err != nil {
		return nil, fmt.Errorf("playbook: scroll tool collection: %w", err)
	}
	out := make([]*Playbook, 0, len(points))
	for _, p := range points {
		out = append(out, decodePlaybook(p))
	}
	sortByReliability(out)
	return out, nil
}

func sortByReliability(pbs []*Playbook) {
	sort.Slice(pbs, func(i, j int) bool { return pbs[i].ReliabilityScore > pbs[j].ReliabilityScore })
}

func capAt(pbs []*Playbook, limit int) []*Playbook {
	if limit > 0 && len(pbs) > limit {
		return pbs[:limit]
	}
	return pbs
}

// embedText produces a deterministic placeholder embedding from a
// SHA-256 digest of text, standing in for a real embedding model the
// same way the recovered Rust tool did for starter-playbook seeding.
func embedText(text string) []float32 {
	sum := sha256.Sum256([]byte(strings.ToLower(text)))
	vec := make([]float32, toolEmbeddingDim)
	for i := range vec {
		vec[i] = float32(sum[i%len(sum)])/255*2 - 1
	}
	return vec
}

func encodePlaybook(pb *Playbook) map[string]string {
	payload := map[string]string{
		"tool_name":            pb.ToolName,
		"repository":           pb.Repository,
		"language":             pb.Language,
		"install_command":      pb.InstallCommand,
		"install_type":         pb.InstallType,
		"verification_command": pb.VerificationCommand,
		"reliability_score":    strconv.FormatFloat(pb.ReliabilityScore, 'f', -1, 64),
		"success_count":        strconv.Itoa(pb.SuccessCount),
		"total_attempts":       strconv.Itoa(pb.TotalAttempts),
		"verifier_id":          pb.VerifierID,
		"description":          pb.Description,
		"upstream_url":         pb.UpstreamURL,
	}
	for k, v := range pb.EnvironmentConfig {
		payload["env."+k] = v
	}
	if pb.VerifiedAt != nil {
		payload["verified_at"] = pb.VerifiedAt.Format(time.RFC3339)
	}
	if pb.LastUsedAt != nil {
		payload["last_used_at"] = pb.LastUsedAt.Format(time.RFC3339)
	}
	return payload
}

func decodePlaybook(p vectorstore.Point) *Playbook {
	pb := &Playbook{
		ID:                   p.ID,
		ToolName:             p.Payload["tool_name"],
		Repository:           p.Payload["repository"],
		Language:             p.Payload["language"],
		InstallCommand:       p.Payload["install_command"],
		InstallType:          p.Payload["install_type"],
		VerificationCommand:  p.Payload["verification_command"],
		VerifierID:           p.Payload["verifier_id"],
		Description:          p.Payload["description"],
		UpstreamURL:          p.Payload["upstream_url"],
	}
	pb.ReliabilityScore, _ = strconv.ParseFloat(p.Payload["reliability_score"], 64)
	pb.SuccessCount, _ = strconv.Atoi(p.Payload["success_count"])
	pb.TotalAttempts, _ = strconv.Atoi(p.Payload["total_attempts"])
	if len(p.Payload) > 0 {
		env := make(map[string]string)
		for k, v := range p.Payload {
			if rest, ok := strings.CutPrefix(k, "env."); ok {
				env[rest] = v
			}
		}
		if len(env) > 0 {
			pb.EnvironmentConfig = env
		}
	}
	if ts, err := time.Parse(time.RFC3339, p.Payload["verified_at"]); err == nil {
		pb.VerifiedAt = &ts
	}
	if ts, err := time.Parse(time.RFC3339, p.Payload["last_used_at"]); err == nil {
		pb.LastUsedAt = &ts
	}
	return pb
}
