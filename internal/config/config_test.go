package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "node.yaml", `
mesh:
  node_id: node-1
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 50051, cfg.Server.GRPCPort)
	assert.Equal(t, 70.0, cfg.Consensus.MinAverageScore)
	assert.Equal(t, "claude-3-5-sonnet-20241022", cfg.LLM.DefaultModel)
	assert.Equal(t, 0.2, cfg.LLM.WorkerTemperature)
	assert.Equal(t, "info", cfg.Observability.Logging.Level)
	assert.Equal(t, "ingested_documents", cfg.Ingest.Collection)
	assert.Equal(t, "episodic_memory", cfg.Ingest.EpisodicCollection)
	assert.Equal(t, 250*time.Millisecond, cfg.Ingest.Debounce)
	assert.Equal(t, "playbooks", cfg.Ingest.PlaybookOutputDir)
	assert.Equal(t, 7*24*time.Hour, cfg.Ingest.PlaybookInterval)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "node.yaml", `
mesh:
  node_id: node-1
totally_unknown_field: true
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRequiresNodeID(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "node.yaml", `server:
  host: 127.0.0.1
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mesh.node_id is required")
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
server:
  host: 10.0.0.1
llm:
  default_model: claude-base
`)
	path := writeFile(t, dir, "node.yaml", `
$include: base.yaml
mesh:
  node_id: node-2
llm:
  default_model: claude-override
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", cfg.Server.Host)
	assert.Equal(t, "claude-override", cfg.LLM.DefaultModel)
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", `$include: b.yaml
mesh:
  node_id: a
`)
	path := writeFile(t, dir, "b.yaml", `$include: a.yaml
mesh:
  node_id: b
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverridesTakePriorityOverFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "node.yaml", `
mesh:
  node_id: node-1
server:
  host: 127.0.0.1
`)

	t.Setenv("PHOENIX_HOST", "192.168.1.1")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.1", cfg.Server.Host)
}

func TestValidationErrorListsEveryIssue(t *testing.T) {
	cfg := &Config{
		Consensus: ConsensusConfig{MinAverageScore: 200, MinApprovalPercent: -5},
		Retrieval: RetrievalConfig{RRFBias: 5},
	}
	err := validateConfig(cfg)
	require.Error(t, err)
	ve, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Len(t, ve.Issues, 4)
}
