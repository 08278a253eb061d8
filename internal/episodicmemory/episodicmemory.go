// Package episodicmemory gives worker agents somewhere to write what they
// did: a thread-safe in-process store of task outcomes that doubles as a
// memoryexchange.Store collection, so a peer's ExchangeMemory request can
// surface another node's agent history alongside its retrieved documents.
// Grounded on internal/mesh/memoryexchange.MemoryStore's shape, generalized
// with a mutex since, unlike the teacher's test fixture, this store is
// written concurrently by live worker goroutines.
package episodicmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/phoenixmesh/phoenix/internal/mesh/memoryexchange"
)

// Collection is the memoryexchange collection name episodes are filed
// under.
const Collection = "episodic_memory"

// Store records agent task outcomes and serves them back as
// memoryexchange.Candidate values.
type Store struct {
	mu      sync.RWMutex
	entries []memoryexchange.Candidate
}

// NewStore returns an empty episodic memory store.
func NewStore() *Store {
	return &Store{}
}

// RecordEpisode implements internal/agentfactory.MemoryRecorder.
func (s *Store) RecordEpisode(ctx context.Context, agentID, taskDescription, outcome string, compliant bool) error {
	topic := "compliant"
	if !compliant {
		topic = "noncompliant"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, memoryexchange.Candidate{
		ID:         fmt.Sprintf("%s-%d", agentID, len(s.entries)+1),
		Content:    fmt.Sprintf("agent=%s task=%q outcome=%q", agentID, taskDescription, outcome),
		Type:       "episode",
		Timestamp:  time.Now(),
		Similarity: 1,
		Topic:      topic,
	})
	return nil
}

// TopKCandidates implements memoryexchange.Store. Namespace is ignored;
// episodes aren't namespaced.
func (s *Store) TopKCandidates(ctx context.Context, collection, namespace string, topK int) ([]memoryexchange.Candidate, error) {
	if collection != Collection {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if topK <= 0 || topK > len(s.entries) {
		topK = len(s.entries)
	}
	start := len(s.entries) - topK
	out := make([]memoryexchange.Candidate, topK)
	copy(out, s.entries[start:])
	return out, nil
}

// DeleteWhereTopic implements memoryexchange.Store.
func (s *Store) DeleteWhereTopic(ctx context.Context, collections []string, topic string) (int, error) {
	wanted := false
	for _, c := range collections {
		if c == Collection {
			wanted = true
			break
		}
	}
	if !wanted {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	removed := 0
	for _, e := range s.entries {
		if e.Topic == topic {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return removed, nil
}

// Snapshot implements memoryexchange.Store. Episodes live only in
// process memory, so there's nothing durable to flush.
func (s *Store) Snapshot(ctx context.Context, collections []string) error { return nil }

// Restore implements memoryexchange.Store.
func (s *Store) Restore(ctx context.Context, collections []string) error { return nil }
