package promptmanager

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStartsEmptyWhenFileAbsent(t *testing.T) {
	dir := t.TempDir()
	m, err := New(filepath.Join(dir, "prompt.md"))
	require.NoError(t, err)
	assert.Equal(t, "", m.Current())
	assert.Empty(t, m.History())
}

func TestUpdatePersistsToDiskAndHistory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompt.md")
	m, err := New(path)
	require.NoError(t, err)

	rev, err := m.Update(context.Background(), "you are the mesh orchestrator", "initial")
	require.NoError(t, err)
	assert.Equal(t, "initial", rev.Summary)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "you are the mesh orchestrator", string(data))
	assert.Equal(t, "you are the mesh orchestrator", m.Current())
	assert.Len(t, m.History(), 1)
}

func TestUpdateRejectsEmptyPrompt(t *testing.T) {
	m, _ := New(filepath.Join(t.TempDir(), "prompt.md"))
	_, err := m.Update(context.Background(), "   ", "noop")
	assert.Error(t, err)
}

func TestUpdateRejectsOversizedPrompt(t *testing.T) {
	m, _ := New(filepath.Join(t.TempDir(), "prompt.md"))
	_, err := m.Update(context.Background(), strings.Repeat("x", MaxPromptChars+1), "too big")
	assert.Error(t, err)
}

func TestRestoreCreatesNewRevisionNotRewind(t *testing.T) {
	m, _ := New(filepath.Join(t.TempDir(), "prompt.md"))
	ctx := context.Background()

	first, err := m.Update(ctx, "v1", "first")
	require.NoError(t, err)
	_, err = m.Update(ctx, "v2", "second")
	require.NoError(t, err)

	restored, err := m.Restore(ctx, first.ID)
	require.NoError(t, err)

	assert.Equal(t, "v1", m.Current())
	assert.Equal(t, "restore_from:1", restored.Summary)
	assert.Len(t, m.History(), 3)
	assert.NotEqual(t, first.ID, restored.ID)
}

func TestRestoreUnknownIDFails(t *testing.T) {
	m, _ := New(filepath.Join(t.TempDir(), "prompt.md"))
	_, err := m.Restore(context.Background(), 999)
	assert.Error(t, err)
}

func TestHistoryCapEvictsOldest(t *testing.T) {
	m, _ := New(filepath.Join(t.TempDir(), "prompt.md"))
	ctx := context.Background()
	for i := 0; i < MaxHistoryEntries+10; i++ {
		_, err := m.Update(ctx, "revision body", "bulk")
		require.NoError(t, err)
	}
	assert.Len(t, m.History(), MaxHistoryEntries)
}
