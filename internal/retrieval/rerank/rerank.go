// Package rerank implements the deep-verify stage of retrieval (§4.7): a
// cross-encoder scores each fused candidate against the query directly
// (rather than via independent embeddings), and the result is blended
// with the upstream RRF score before a final sort.
package rerank

import (
	"context"
	"math"
	"sort"
	"strings"
)

const (
	chunkThresholdChars = 1000
	chunkCount          = 3
	chunkOverlapRatio   = 0.25

	ceWeight  = 0.7
	rrfWeight = 0.3

	highConfidence   = 0.8
	mediumConfidence = 0.5

	promotionThreshold = 0.95
)

// Confidence labels the blended score band, per §4.7.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Candidate is a fused document awaiting deep verification.
type Candidate struct {
	DocID    string
	Content  string
	RRFScore float64
}

// Verified is a candidate after cross-encoder scoring and blending.
type Verified struct {
	DocID      string
	CEScore    float64
	RRFScore   float64
	Blended    float64
	Confidence Confidence
}

// CrossEncoder scores how relevant a single document is to a query,
// returning a raw logit (unbounded, not yet a probability). A real
// implementation calls a cross-encoder model; see LLMCrossEncoder for
// the fallback that asks a chat LLM to emit one instead.
type CrossEncoder interface {
	Score(ctx context.Context, query, chunk string) (float64, error)
}

// Verify scores every candidate, blends the cross-encoder probability
// with its upstream RRF score, assigns a confidence label, and returns
// the list re-sorted descending by blended score. If any candidate's
// cross-encoder probability exceeds promotionThreshold, that candidate
// is moved to position 1 regardless of blended score (§4.7, scenario 5).
func Verify(ctx context.Context, ce CrossEncoder, query string, candidates []Candidate) ([]Verified, error) {
	out := make([]Verified, 0, len(candidates))
	for _, c := range candidates {
		prob, err := scoreChunked(ctx, ce, query, c.Content)
		if err != nil {
			return nil, err
		}
		blended := ceWeight*prob + rrfWeight*c.RRFScore
		out = append(out, Verified{
			DocID:      c.DocID,
			CEScore:    prob,
			RRFScore:   c.RRFScore,
			Blended:    blended,
			Confidence: confidenceFor(blended),
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Blended > out[j].Blended })

	promote := -1
	for i, v := range out {
		if v.CEScore > promotionThreshold {
			promote = i
			break
		}
	}
	if promote > 0 {
		winner := out[promote]
		out = append(out[:promote], out[promote+1:]...)
		out = append([]Verified{winner}, out...)
	}

	return out, nil
}

func confidenceFor(blended float64) Confidence {
	switch {
	case blended > highConfidence:
		return ConfidenceHigh
	case blended > mediumConfidence:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// scoreChunked splits content longer than chunkThresholdChars into
// chunkCount overlapping chunks, scores each, and keeps the max — a long
// document should not be penalized just because its relevant passage
// sits in the middle.
func scoreChunked(ctx context.Context, ce CrossEncoder, query, content string) (float64, error) {
	chunks := chunkContent(content)
	best := math.Inf(-1)
	for _, chunk := range chunks {
		logit, err := ce.Score(ctx, query, chunk)
		if err != nil {
			return 0, err
		}
		if logit > best {
			best = logit
		}
	}
	return sigmoid(best), nil
}

func chunkContent(content string) []string {
	if len(content) <= chunkThresholdChars {
		return []string{content}
	}

	n := len(content)
	stride := n / chunkCount
	overlap := int(float64(stride) * chunkOverlapRatio)

	chunks := make([]string, 0, chunkCount)
	for i := 0; i < chunkCount; i++ {
		start := i * stride
		end := start + stride + overlap
		if start > 0 {
			start -= overlap
		}
		if start < 0 {
			start = 0
		}
		if end > n {
			end = n
		}
		chunks = append(chunks, strings.TrimSpace(content[start:end]))
	}
	return chunks
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
