package handshake

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLitePeerStoreRoundTripsPeerRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.db")
	store, err := NewSQLitePeerStore(path)
	require.NoError(t, err)
	defer store.Close()

	now := time.Now().Truncate(time.Second)
	store.Upsert(Peer{
		NodeID:          "node-a",
		SoftwareVersion: "1.0.0",
		ManifestHash:    "deadbeef",
		RemoteAddr:      "10.0.0.1:1234",
		Status:          PeerPending,
		LastSeen:        now,
	})

	got, ok := store.Get("node-a")
	require.True(t, ok)
	assert.Equal(t, "1.0.0", got.SoftwareVersion)
	assert.Equal(t, PeerPending, got.Status)
	assert.Equal(t, now.Unix(), got.LastSeen.Unix())

	assert.True(t, store.SetStatus("node-a", PeerVerified))
	got, _ = store.Get("node-a")
	assert.Equal(t, PeerVerified, got.Status)
	assert.Equal(t, 1, store.VerifiedCount())

	assert.Len(t, store.List(), 1)

	assert.True(t, store.SetStatus("node-a", PeerQuarantined))
	assert.True(t, store.IsQuarantined("node-a", ""))
	assert.True(t, store.IsQuarantined("unknown-node", "10.0.0.1:1234"))
	assert.False(t, store.IsQuarantined("unknown-node", "10.0.0.2:1234"))
}

func TestSQLitePeerStoreMissingNodeNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.db")
	store, err := NewSQLitePeerStore(path)
	require.NoError(t, err)
	defer store.Close()

	_, ok := store.Get("nope")
	assert.False(t, ok)
	assert.False(t, store.SetStatus("nope", PeerVerified))
}
