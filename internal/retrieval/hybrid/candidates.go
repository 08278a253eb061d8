package hybrid

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"regexp"
	"strings"

	"github.com/phoenixmesh/phoenix/internal/retrieval/vectorstore"
)

const (
	queryTruncateChars = 1000
	denseScoreThreshold = 0.3
	sparseBucketCount   = 10000
	minTokenLength      = 3
)

// Embedder produces a dense query vector. A real implementation calls an
// embedding model; Hash-based fallback is used when one is unavailable,
// per §4.7.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// HashEmbedder is the deterministic fallback embedder: no network
// dependency, always available.
type HashEmbedder struct {
	Dimension int
}

// Embed hashes each token of text (see tokenize) into a fixed-size vector and
// L2-normalizes it. It is not semantically meaningful on its own; it
// exists so retrieval degrades gracefully rather than failing outright
// when no embedding model is reachable.
func (h HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	dim := h.Dimension
	if dim <= 0 {
		dim = 384
	}
	text = truncate(text, queryTruncateChars)
	vec := make([]float32, dim)
	for _, tok := range tokenize(text) {
		sum := sha256.Sum256([]byte(tok))
		idx := binary.BigEndian.Uint32(sum[:4]) % uint32(dim)
		vec[idx]++
	}
	return l2Normalize(vec), nil
}

func l2Normalize(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return v
	}
	norm := math.Sqrt(sumSquares)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9]+`)

// tokenize splits on non-alphanumeric runs, lowercases, and drops tokens
// of length <= 2 (§4.7 sparse candidate set).
func tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		if len(t) > 2 {
			out = append(out, t)
		}
	}
	return out
}

// DenseCandidates embeds the query and searches each collection with
// cosine similarity, keeping the top 2*k per collection above the score
// threshold.
func DenseCandidates(ctx context.Context, store vectorstore.Store, embedder Embedder, collections []string, query string, k int) ([]RankedDoc, map[string]string, error) {
	vec, err := embedder.Embed(ctx, truncate(query, queryTruncateChars))
	if err != nil {
		return nil, nil, err
	}

	namespaceOf := make(map[string]string)
	var merged []vectorstore.ScoredPoint
	for _, collection := range collections {
		results, err := store.Search(ctx, collection, vectorstore.SearchParams{
			Vector:    vec,
			Limit:     2 * k,
			Threshold: denseScoreThreshold,
		})
		if err != nil {
			return nil, nil, err
		}
		for _, r := range results {
			namespaceOf[r.ID] = r.Namespace
			merged = append(merged, r)
		}
	}

	return toRanked(merged), namespaceOf, nil
}

// SparseCandidates emulates sparse retrieval by scanning each collection
// and scoring points by a TF-like overlap with the query terms, per the
// "current implementation" note in §4.7 (an Open Question left the choice
// of native sparse index to the implementer; this keeps the documented
// emulation so behavior matches the source system exactly).
func SparseCandidates(ctx context.Context, store vectorstore.Store, collections []string, query string, k int) ([]RankedDoc, error) {
	queryTerms := termFrequencies(query)
	if len(queryTerms) == 0 {
		return nil, nil
	}

	var scored []vectorstore.ScoredPoint
	for _, collection := range collections {
		points, err := store.Scroll(ctx, collection, 0)
		if err != nil {
			return nil, err
		}
		for _, p := range points {
			score := sparseScore(queryTerms, termFrequencies(p.Content))
			if score <= 0 {
				continue
			}
			scored = append(scored, vectorstore.ScoredPoint{Point: p, Score: score})
		}
	}

	// Keep top 2*k per collection by re-deriving collection membership is
	// unnecessary here: the scroll loop already iterates per collection,
	// so truncate the globally-scored slice per call site instead.
	return toRankedTopK(scored, 2*k), nil
}

func termFrequencies(text string) map[string]float64 {
	tokens := tokenize(text)
	freq := make(map[string]float64, len(tokens))
	for _, t := range tokens {
		bucket := hashToBucket(t)
		freq[bucket] += 1
	}
	for k, v := range freq {
		freq[k] = math.Sqrt(v)
	}
	return freq
}

func hashToBucket(token string) string {
	sum := sha256.Sum256([]byte(token))
	idx := binary.BigEndian.Uint32(sum[:4]) % sparseBucketCount
	return string(rune(idx)) // bucket identity only; never surfaced to callers
}

func sparseScore(query, doc map[string]float64) float64 {
	var score float64
	for bucket, qv := range query {
		if dv, ok := doc[bucket]; ok {
			score += qv * dv
		}
	}
	return score
}

func toRanked(points []vectorstore.ScoredPoint) []RankedDoc {
	// points are assumed pre-sorted descending by the store; RankedDoc
	// rank is positional.
	out := make([]RankedDoc, len(points))
	for i, p := range points {
		out[i] = RankedDoc{DocID: p.ID, Rank: i}
	}
	return out
}

func toRankedTopK(points []vectorstore.ScoredPoint, topK int) []RankedDoc {
	sortDescending(points)
	if topK > 0 && len(points) > topK {
		points = points[:topK]
	}
	return toRanked(points)
}

func sortDescending(points []vectorstore.ScoredPoint) {
	for i := 1; i < len(points); i++ {
		j := i
		for j > 0 && points[j-1].Score < points[j].Score {
			points[j-1], points[j] = points[j], points[j-1]
			j--
		}
	}
}
