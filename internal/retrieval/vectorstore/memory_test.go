package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSearchRanksByCosineSimilarity(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "mind", []Point{
		{ID: "a", Vector: []float32{1, 0, 0}, Content: "exact match"},
		{ID: "b", Vector: []float32{0, 1, 0}, Content: "orthogonal"},
		{ID: "c", Vector: []float32{0.9, 0.1, 0}, Content: "close"},
	}))

	results, err := store.Search(ctx, "mind", SearchParams{Vector: []float32{1, 0, 0}, Limit: 2, Threshold: 0.3})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "c", results[1].ID)
}

func TestMemoryStoreDeleteWhere(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, "mind", []Point{
		{ID: "a", Payload: map[string]string{"topic": "ops"}},
		{ID: "b", Payload: map[string]string{"topic": "other"}},
	}))

	n, err := store.DeleteWhere(ctx, "mind", "topic", "ops")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	points, err := store.Scroll(ctx, "mind", 0)
	require.NoError(t, err)
	assert.Len(t, points, 1)
}
