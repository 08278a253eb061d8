package rerank

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCrossEncoder scores a chunk by how many times a marker substring
// appears in it, scaled into logit range — deterministic and cheap for
// tests that don't want a live LLM call.
type fakeCrossEncoder struct {
	scores map[string]float64 // docID substring -> logit
}

func (f fakeCrossEncoder) Score(ctx context.Context, query, chunk string) (float64, error) {
	for marker, logit := range f.scores {
		if strings.Contains(chunk, marker) {
			return logit, nil
		}
	}
	return -5, nil
}

func TestVerifyBlendsAndSortsDescending(t *testing.T) {
	ce := fakeCrossEncoder{scores: map[string]float64{
		"HIGHLY_RELEVANT": 8,
		"SOMEWHAT":        0,
	}}

	candidates := []Candidate{
		{DocID: "low-rrf-high-ce", Content: "HIGHLY_RELEVANT content here", RRFScore: 0.01},
		{DocID: "high-rrf-low-ce", Content: "irrelevant filler text", RRFScore: 0.9},
	}

	out, err := Verify(context.Background(), ce, "query", candidates)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "low-rrf-high-ce", out[0].DocID)
	assert.Greater(t, out[0].CEScore, 0.9)
}

func TestVerifyPromotesHighConfidenceCandidateToFirst(t *testing.T) {
	ce := fakeCrossEncoder{scores: map[string]float64{
		"PROMOTE_ME": 10, // sigmoid(10) > 0.95
	}}

	candidates := []Candidate{
		{DocID: "top-by-rrf", Content: "generic text", RRFScore: 0.95},
		{DocID: "should-promote", Content: "PROMOTE_ME", RRFScore: 0.01},
	}

	out, err := Verify(context.Background(), ce, "query", candidates)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "should-promote", out[0].DocID)
}

func TestConfidenceLabelBoundaries(t *testing.T) {
	assert.Equal(t, ConfidenceHigh, confidenceFor(0.81))
	assert.Equal(t, ConfidenceMedium, confidenceFor(0.51))
	assert.Equal(t, ConfidenceLow, confidenceFor(0.5))
}

func TestChunkContentSplitsLongDocsWithOverlap(t *testing.T) {
	content := strings.Repeat("x", 3000)
	chunks := chunkContent(content)
	assert.Len(t, chunks, chunkCount)
	for _, c := range chunks {
		assert.NotEmpty(t, c)
	}
}

func TestChunkContentLeavesShortDocsWhole(t *testing.T) {
	content := "a short passage"
	chunks := chunkContent(content)
	assert.Equal(t, []string{content}, chunks)
}

func TestSigmoidMapsToUnitInterval(t *testing.T) {
	assert.InDelta(t, 0.5, sigmoid(0), 1e-9)
	assert.Greater(t, sigmoid(10), 0.95)
	assert.Less(t, sigmoid(-10), 0.05)
}

func TestParseLogitHandlesJSONAndBareNumber(t *testing.T) {
	v, err := parseLogit(`{"logit": 3.5}`)
	require.NoError(t, err)
	assert.Equal(t, 3.5, v)

	v, err = parseLogit("  -2  ")
	require.NoError(t, err)
	assert.Equal(t, -2.0, v)

	_, err = parseLogit("not a number")
	assert.Error(t, err)
}
