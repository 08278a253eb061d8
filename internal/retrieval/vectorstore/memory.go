package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and as a dev-mode
// fallback. It computes cosine similarity directly rather than relying on
// an index.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]Point
	snapshots   map[string]time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string][]Point),
		snapshots:   make(map[string]time.Time),
	}
}

func (m *MemoryStore) Upsert(ctx context.Context, collection string, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.collections[collection]
	byID := make(map[string]int, len(existing))
	for i, p := range existing {
		byID[p.ID] = i
	}
	for _, p := range points {
		if i, ok := byID[p.ID]; ok {
			existing[i] = p
			continue
		}
		existing = append(existing, p)
		byID[p.ID] = len(existing) - 1
	}
	m.collections[collection] = existing
	return nil
}

func (m *MemoryStore) Search(ctx context.Context, collection string, params SearchParams) ([]ScoredPoint, error) {
	m.mu.RLock()
	points := append([]Point(nil), m.collections[collection]...)
	m.mu.RUnlock()

	out := make([]ScoredPoint, 0, len(points))
	for _, p := range points {
		if !matchesFilter(p.Payload, params.Filter) {
			continue
		}
		score := cosineSimilarity(params.Vector, p.Vector)
		if score < params.Threshold {
			continue
		}
		out = append(out, ScoredPoint{Point: p, Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out, nil
}

func (m *MemoryStore) Scroll(ctx context.Context, collection string, limit int) ([]Point, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	points := m.collections[collection]
	if limit > 0 && limit < len(points) {
		points = points[:limit]
	}
	return append([]Point(nil), points...), nil
}

func (m *MemoryStore) DeleteWhere(ctx context.Context, collection string, key, value string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.collections[collection]
	kept := make([]Point, 0, len(existing))
	deleted := 0
	for _, p := range existing {
		if p.Payload[key] == value {
			deleted++
			continue
		}
		kept = append(kept, p)
	}
	m.collections[collection] = kept
	return deleted, nil
}

func (m *MemoryStore) Snapshot(ctx context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[collection] = time.Now()
	return nil
}

func (m *MemoryStore) Restore(ctx context.Context, collection string) error {
	return nil
}

func matchesFilter(payload map[string]string, filter map[string]string) bool {
	for k, v := range filter {
		if payload[k] != v {
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
