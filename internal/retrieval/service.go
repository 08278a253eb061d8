// Package retrieval orchestrates the hybrid retrieval core (§4.7): dense
// + sparse candidate generation, Reciprocal Rank Fusion, namespace
// diversification, an optional cross-encoder deep-verify pass, and the
// derived knowledge atlas / semantic path queries built on top of it.
// The individual stages live in hybrid, rerank, vectorstore, and graph;
// this package is the seam that calls them in the right order.
package retrieval

import (
	"context"
	"errors"
	"sync"

	"github.com/phoenixmesh/phoenix/internal/retrieval/graph"
	"github.com/phoenixmesh/phoenix/internal/retrieval/hybrid"
	"github.com/phoenixmesh/phoenix/internal/retrieval/rerank"
	"github.com/phoenixmesh/phoenix/internal/retrieval/vectorstore"
)

// defaultAtlasNodes is the fallback scroll limit when a caller does not
// request a specific max_nodes (§4.7's "scroll up to max_nodes").
const defaultAtlasNodes = 500

// Service wires the retrieval stages into the two operations the admin
// API exposes: Query (hybrid search) and Atlas/Path (knowledge graph).
type Service struct {
	Store        vectorstore.Store
	Embedder     hybrid.Embedder
	CrossEncoder rerank.CrossEncoder // nil disables rerank and the atlas
	Collections  []string
	RRFBias      float64

	mu      sync.Mutex
	atlases map[string]*graph.Atlas
}

// NewService builds a retrieval service. CrossEncoder may be nil, in
// which case Query skips the deep-verify stage and Atlas/Path return an
// error — the atlas's edges are themselves cross-encoder-rescored.
func NewService(store vectorstore.Store, embedder hybrid.Embedder, ce rerank.CrossEncoder, collections []string, rrfBias float64) *Service {
	return &Service{
		Store:        store,
		Embedder:     embedder,
		CrossEncoder: ce,
		Collections:  collections,
		RRFBias:      rrfBias,
		atlases:      make(map[string]*graph.Atlas),
	}
}

// Result is one ranked document returned from Query.
type Result struct {
	DocID      string  `json:"doc_id"`
	Content    string  `json:"content,omitempty"`
	Score      float64 `json:"score"`
	Confidence string  `json:"confidence,omitempty"`
}

// Query runs the full pipeline: embed + search each collection, emulate
// sparse retrieval, fuse with RRF, diversify by namespace, and — when a
// cross-encoder is configured — deep-verify the survivors.
func (s *Service) Query(ctx context.Context, query string, topK int) ([]Result, error) {
	topK = hybrid.ClampTopK(topK)

	dense, namespaceOf, err := hybrid.DenseCandidates(ctx, s.Store, s.Embedder, s.Collections, query, topK)
	if err != nil {
		return nil, err
	}
	sparse, err := hybrid.SparseCandidates(ctx, s.Store, s.Collections, query, topK)
	if err != nil {
		return nil, err
	}

	fused := hybrid.Fuse(dense, sparse, s.RRFBias)
	diversified := hybrid.Diversify(fused, namespaceOf, topK)

	contentOf, err := s.contentIndex(ctx)
	if err != nil {
		return nil, err
	}

	if s.CrossEncoder == nil {
		out := make([]Result, 0, len(diversified))
		for _, d := range diversified {
			out = append(out, Result{DocID: d.DocID, Content: contentOf[d.DocID], Score: d.Score})
		}
		return out, nil
	}

	candidates := make([]rerank.Candidate, 0, len(diversified))
	for _, d := range diversified {
		candidates = append(candidates, rerank.Candidate{DocID: d.DocID, Content: contentOf[d.DocID], RRFScore: d.Score})
	}
	verified, err := rerank.Verify(ctx, s.CrossEncoder, query, candidates)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(verified))
	for _, v := range verified {
		out = append(out, Result{DocID: v.DocID, Content: contentOf[v.DocID], Score: v.Blended, Confidence: string(v.Confidence)})
	}
	return out, nil
}

func (s *Service) contentIndex(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	for _, c := range s.Collections {
		points, err := s.Store.Scroll(ctx, c, 0)
		if err != nil {
			return nil, err
		}
		for _, p := range points {
			out[p.ID] = p.Content
		}
	}
	return out, nil
}

// Atlas builds the knowledge atlas for collection, caching it for
// subsequent Path calls against the same collection.
func (s *Service) Atlas(ctx context.Context, collection string, maxNodes int) (*graph.Atlas, error) {
	if s.CrossEncoder == nil {
		return nil, errors.New("retrieval: knowledge atlas requires a cross-encoder")
	}
	if maxNodes <= 0 {
		maxNodes = defaultAtlasNodes
	}
	atlas, err := graph.Build(ctx, s.Store, s.CrossEncoder, collection, maxNodes)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.atlases[collection] = atlas
	s.mu.Unlock()
	return atlas, nil
}

// Path finds the shortest semantic path between start and end within
// collection's atlas, building one first if none has been cached yet.
func (s *Service) Path(ctx context.Context, collection, start, end string) ([]string, bool, error) {
	s.mu.Lock()
	atlas, ok := s.atlases[collection]
	s.mu.Unlock()
	if !ok {
		var err error
		atlas, err = s.Atlas(ctx, collection, defaultAtlasNodes)
		if err != nil {
			return nil, false, err
		}
	}
	path, found := graph.ShortestPath(atlas, start, end)
	return path, found, nil
}
