// Package vectorstore defines the interface the hybrid retrieval core
// (§4.7) and memory exchange (§4.6) use to talk to the external vector
// database. The database itself is out of scope (spec.md §1); this models
// it as a collection-oriented engine with dense vectors, cosine distance,
// payload filters, and snapshots, matching the assumption spec.md makes
// explicit.
package vectorstore

import (
	"context"
	"time"
)

// Point is one record in a collection.
type Point struct {
	ID        string
	Vector    []float32
	Payload   map[string]string
	Content   string
	Namespace string
}

// ScoredPoint is a Point with its similarity to a query vector.
type ScoredPoint struct {
	Point
	Score float64
}

// SearchParams configures a single-collection vector search.
type SearchParams struct {
	Vector    []float32
	Limit     int
	Threshold float64
	Filter    map[string]string
}

// Store is the narrow vector-database contract the retrieval core and
// memory exchange depend on.
type Store interface {
	Search(ctx context.Context, collection string, params SearchParams) ([]ScoredPoint, error)
	Scroll(ctx context.Context, collection string, limit int) ([]Point, error)
	Upsert(ctx context.Context, collection string, points []Point) error
	DeleteWhere(ctx context.Context, collection string, key, value string) (int, error)
	Snapshot(ctx context.Context, collection string) error
	Restore(ctx context.Context, collection string) error
}

// SnapshotRecord pairs a collection with the time a snapshot was taken.
// No Store in this package uses it; MemoryStore keeps its own map of
// snapshot times per collection.
type SnapshotRecord struct {
	Collection string
	TakenAt    time.Time
}
