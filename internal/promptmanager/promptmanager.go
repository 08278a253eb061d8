// Package promptmanager manages a node's self-modifying system prompt:
// the live file on disk, an append-only in-memory revision history, and
// a restore operation that replays a past revision as a new one (§4.2).
package promptmanager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// MaxPromptChars bounds a single prompt body, per §4.2.
	MaxPromptChars = 200_000
	// MaxHistoryEntries bounds the in-memory revision log; oldest entries
	// drop off the front once exceeded.
	MaxHistoryEntries = 500
)

// Revision is one point in the prompt's history.
type Revision struct {
	ID        int64
	Content   string
	Summary   string
	UpdatedAt time.Time
}

// Manager owns the live prompt file and its history.
type Manager struct {
	mu       sync.RWMutex
	path     string
	current  string
	history  []Revision
	nextID   int64
}

// New loads the prompt at path if it exists, or starts with an empty
// current revision if it doesn't.
func New(path string) (*Manager, error) {
	m := &Manager{path: path, nextID: 1}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("promptmanager: read %s: %w", path, err)
	}

	m.current = string(data)
	m.history = append(m.history, Revision{ID: m.nextID, Content: m.current, Summary: "loaded_from_disk", UpdatedAt: time.Now()})
	m.nextID++
	return m, nil
}

// Current returns the live prompt text.
func (m *Manager) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// History returns a copy of the revision log, oldest first.
func (m *Manager) History() []Revision {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Revision, len(m.history))
	copy(out, m.history)
	return out
}

// Update validates, writes the new content to disk via a temp-file +
// atomic rename (grounded on the artifact store's Put pattern — disk
// write must succeed before the in-memory swap happens), then appends a
// new history entry.
func (m *Manager) Update(ctx context.Context, content, summary string) (Revision, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return Revision{}, fmt.Errorf("promptmanager: rejected empty prompt")
	}
	if len(content) > MaxPromptChars {
		return Revision{}, fmt.Errorf("promptmanager: prompt exceeds %d chars (got %d)", MaxPromptChars, len(content))
	}

	if err := m.writeAtomic(content); err != nil {
		return Revision{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rev := Revision{ID: m.nextID, Content: content, Summary: summary, UpdatedAt: time.Now()}
	m.nextID++
	m.current = content
	m.history = append(m.history, rev)
	if len(m.history) > MaxHistoryEntries {
		m.history = m.history[len(m.history)-MaxHistoryEntries:]
	}
	return rev, nil
}

// Restore replays a past revision's content as a brand-new revision
// (never rewinds history in place) with summary "restore_from:<id>".
func (m *Manager) Restore(ctx context.Context, historyID int64) (Revision, error) {
	m.mu.RLock()
	var target *Revision
	for i := range m.history {
		if m.history[i].ID == historyID {
			target = &m.history[i]
			break
		}
	}
	m.mu.RUnlock()

	if target == nil {
		return Revision{}, fmt.Errorf("promptmanager: no revision with id %d", historyID)
	}

	return m.Update(ctx, target.Content, fmt.Sprintf("restore_from:%d", historyID))
}

func (m *Manager) writeAtomic(content string) error {
	dir := filepath.Dir(m.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("promptmanager: create dir %s: %w", dir, err)
		}
	}

	tmpPath := m.path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("promptmanager: create temp file: %w", err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("promptmanager: write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("promptmanager: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("promptmanager: rename into place: %w", err)
	}
	return nil
}
