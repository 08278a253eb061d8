package playbook

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phoenixmesh/phoenix/internal/retrieval/vectorstore"
)

type fakeGenerator struct {
	calls []string
}

func (f *fakeGenerator) Generate(ctx context.Context, pattern string, records []EpisodicRecord) (Document, error) {
	f.calls = append(f.calls, pattern)
	return Document{
		Objective:               "do the thing reliably",
		Steps:                   []string{"step one", "step two"},
		Pitfalls:                []string{"don't skip validation"},
		OrganizationalAlignment: "matches mesh reliability goals",
	}, nil
}

func seedRecord(store *vectorstore.MemoryStore, id, content, agent string, compliant bool, when time.Time) {
	_ = store.Upsert(context.Background(), "episodic_memory", []vectorstore.Point{
		{
			ID:      id,
			Content: content,
			Payload: map[string]string{
				"agent_id":  agent,
				"compliant": boolStr(compliant),
				"timestamp": when.Format(time.RFC3339),
			},
		},
	})
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func TestTaskPatternGroupsByFirstThreeWords(t *testing.T) {
	assert.Equal(t, "deploy-the-service", taskPattern("Deploy the service to staging"))
	assert.Equal(t, "deploy-the-service", taskPattern("deploy THE Service now please"))
}

func TestRunGeneratesOnePlaybookPerPattern(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	now := time.Now()
	seedRecord(store, "r1", "deploy the service to staging", "agent-1", true, now)
	seedRecord(store, "r2", "deploy the service to prod", "agent-1", true, now)
	for i := 0; i < 4; i++ {
		seedRecord(store, "hist-"+string(rune('a'+i)), "unrelated prior task", "agent-1", true, now.Add(-time.Hour))
	}

	outDir := t.TempDir()
	gen := &fakeGenerator{}
	d := New(store, "episodic_memory", outDir, "", gen)

	// "deploy-the-service" and "unrelated-prior-task" are two patterns;
	// written is in sorted pattern order.
	written, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, written, 2)

	data, err := os.ReadFile(written[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "objective: do the thing reliably")
	assert.Contains(t, string(data), "## Steps")
}

func TestRunSkipsRecordsOutsideLookbackWindow(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	seedRecord(store, "old", "deploy the service", "agent-1", true, time.Now().Add(-30*24*time.Hour))

	gen := &fakeGenerator{}
	d := New(store, "episodic_memory", t.TempDir(), "", gen)

	written, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, written)
	assert.Empty(t, gen.calls)
}

func TestWrittenPlaybookPathMatchesPattern(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	seedRecord(store, "r1", "review the pull request", "agent-2", true, time.Now())

	outDir := t.TempDir()
	gen := &fakeGenerator{}
	d := New(store, "episodic_memory", outDir, "", gen)

	written, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, written, 1)
	assert.Equal(t, filepath.Join(outDir, "review-the-pull.md"), written[0])
}
