package hybrid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phoenixmesh/phoenix/internal/retrieval/vectorstore"
)

func TestHashEmbedderIsDeterministicAndNormalized(t *testing.T) {
	e := HashEmbedder{Dimension: 32}
	v1, err := e.Embed(context.Background(), "phoenix mesh retrieval")
	require.NoError(t, err)
	v2, err := e.Embed(context.Background(), "phoenix mesh retrieval")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)

	var sumSquares float64
	for _, x := range v1 {
		sumSquares += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, sumSquares, 1e-6)
}

func TestTokenizeDropsShortTokens(t *testing.T) {
	toks := tokenize("Go is a an ok language, V2 rules!")
	for _, tok := range toks {
		assert.Greater(t, len(tok), 2)
	}
}

func TestDenseCandidatesSearchesAllCollections(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	ctx := context.Background()
	embedder := HashEmbedder{Dimension: 16}

	vec, err := embedder.Embed(ctx, "mesh orchestration")
	require.NoError(t, err)

	require.NoError(t, store.Upsert(ctx, "mind", []vectorstore.Point{
		{ID: "doc-1", Vector: vec, Content: "mesh orchestration", Namespace: "mind"},
	}))
	require.NoError(t, store.Upsert(ctx, "body", []vectorstore.Point{
		{ID: "doc-2", Vector: vec, Content: "mesh orchestration", Namespace: "body"},
	}))

	ranked, namespaceOf, err := DenseCandidates(ctx, store, embedder, []string{"mind", "body"}, "mesh orchestration", 5)
	require.NoError(t, err)
	assert.Len(t, ranked, 2)
	assert.Equal(t, "mind", namespaceOf["doc-1"])
	assert.Equal(t, "body", namespaceOf["doc-2"])
}

func TestSparseCandidatesScoresOverlap(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "mind", []vectorstore.Point{
		{ID: "match", Content: "phoenix mesh consensus quorum"},
		{ID: "nomatch", Content: "unrelated content about weather"},
	}))

	ranked, err := SparseCandidates(ctx, store, []string{"mind"}, "phoenix mesh consensus", 5)
	require.NoError(t, err)
	require.NotEmpty(t, ranked)
	assert.Equal(t, "match", ranked[0].DocID)
}
