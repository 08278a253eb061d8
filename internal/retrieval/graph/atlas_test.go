package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phoenixmesh/phoenix/internal/retrieval/vectorstore"
)

type fakeCE struct {
	strong map[string]bool
}

func (f fakeCE) Score(ctx context.Context, a, b string) (float64, error) {
	key := a + "|" + b
	if f.strong[key] || f.strong[b+"|"+a] {
		return 5, nil // sigmoid(5) ~ 0.993 > 0.85 floor
	}
	return -5, nil
}

func TestBuildProducesNodesForEveryPoint(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, "mind", []vectorstore.Point{
		{ID: "a", Vector: []float32{1, 0, 0, 0}, Content: "alpha"},
		{ID: "b", Vector: []float32{0, 1, 0, 0}, Content: "beta"},
		{ID: "c", Vector: []float32{0.9, 0.1, 0, 0}, Content: "gamma"},
	}))

	ce := fakeCE{strong: map[string]bool{"alpha|gamma": true}}
	atlas, err := Build(ctx, store, ce, "mind", 100)
	require.NoError(t, err)
	assert.Len(t, atlas.Nodes, 3)
}

func TestShortestPathFollowsChainOfEdges(t *testing.T) {
	atlas := &Atlas{
		Nodes: []Node{{ID: "a"}, {ID: "b"}, {ID: "c"}},
		Edges: []Edge{
			{From: "a", To: "b", Strength: 0.9},
			{From: "b", To: "c", Strength: 0.9},
		},
	}

	path, found := ShortestPath(atlas, "a", "c")
	require.True(t, found)
	assert.Equal(t, []string{"a", "b", "c"}, path)
}

func TestShortestPathUnreachableReturnsFalse(t *testing.T) {
	atlas := &Atlas{
		Nodes: []Node{{ID: "a"}, {ID: "b"}, {ID: "isolated"}},
		Edges: []Edge{{From: "a", To: "b", Strength: 0.9}},
	}
	_, found := ShortestPath(atlas, "a", "isolated")
	assert.False(t, found)
}

func TestShortestPathMissingEndpointReturnsFalse(t *testing.T) {
	atlas := &Atlas{Nodes: []Node{{ID: "a"}}}
	_, found := ShortestPath(atlas, "a", "missing")
	assert.False(t, found)
}

func TestShortestPathPrefersStrongerEdges(t *testing.T) {
	// direct a->c is weak (low strength => high weight); a->b->c is strong.
	atlas := &Atlas{
		Nodes: []Node{{ID: "a"}, {ID: "b"}, {ID: "c"}},
		Edges: []Edge{
			{From: "a", To: "c", Strength: 0.1},
			{From: "a", To: "b", Strength: 0.95},
			{From: "b", To: "c", Strength: 0.95},
		},
	}
	path, found := ShortestPath(atlas, "a", "c")
	require.True(t, found)
	assert.Equal(t, []string{"a", "b", "c"}, path)
}

func TestProjectPCAHandlesSingleVector(t *testing.T) {
	out := ProjectPCA([][]float64{{1, 2, 3, 4}})
	require.Len(t, out, 1)
	assert.Equal(t, [3]float64{1, 2, 3}, out[0])
}

func TestProjectPCASeparatesDistinctClusters(t *testing.T) {
	vectors := [][]float64{
		{10, 0, 0, 0}, {10.1, 0, 0, 0}, {9.9, 0, 0, 0},
		{-10, 0, 0, 0}, {-10.1, 0, 0, 0}, {-9.9, 0, 0, 0},
	}
	out := ProjectPCA(vectors)
	require.Len(t, out, 6)

	// the two clusters should land on opposite sides of the first axis
	firstClusterSign := out[0][0] > 0
	for i := 0; i < 3; i++ {
		assert.Equal(t, firstClusterSign, out[i][0] > 0)
	}
	for i := 3; i < 6; i++ {
		assert.NotEqual(t, firstClusterSign, out[i][0] > 0)
	}
}

func TestDotProductAndNorm(t *testing.T) {
	assert.Equal(t, 32.0, dotProduct([]float64{1, 2, 3}, []float64{4, 5, 6}))
	assert.InDelta(t, 5.0, l2norm([]float64{3, 4}), 1e-9)
}

func TestCosineHandlesDegenerateInputs(t *testing.T) {
	assert.Equal(t, 0.0, cosine(nil, nil))
	assert.Equal(t, 0.0, cosine([]float32{1, 2}, []float32{1}))
	assert.Equal(t, 0.0, cosine([]float32{0, 0}, []float32{1, 1}))
}

func TestFirstThreePadsShortVectors(t *testing.T) {
	out := firstThree([]float64{7})
	assert.Equal(t, [3]float64{7, 0, 0}, out)
}
