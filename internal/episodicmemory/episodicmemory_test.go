package episodicmemory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordEpisodeAndTopKCandidates(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.RecordEpisode(ctx, "agent-1", "summarize ticket", "done", true))
	require.NoError(t, s.RecordEpisode(ctx, "agent-1", "delete prod db", "refused", false))

	got, err := s.TopKCandidates(ctx, Collection, "", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "compliant", got[0].Topic)
	assert.Equal(t, "noncompliant", got[1].Topic)
}

func TestTopKCandidatesIgnoresOtherCollections(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.RecordEpisode(context.Background(), "agent-1", "task", "done", true))

	got, err := s.TopKCandidates(context.Background(), "other_collection", "", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDeleteWhereTopicRemovesMatchingEntries(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.RecordEpisode(ctx, "agent-1", "ok task", "done", true))
	require.NoError(t, s.RecordEpisode(ctx, "agent-1", "bad task", "refused", false))

	removed, err := s.DeleteWhereTopic(ctx, []string{Collection}, "noncompliant")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	got, err := s.TopKCandidates(ctx, Collection, "", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "compliant", got[0].Topic)
}
