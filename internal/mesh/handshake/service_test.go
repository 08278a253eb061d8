package handshake

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phoenixmesh/phoenix/internal/audit"
	"github.com/phoenixmesh/phoenix/internal/eventbus"
)

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	promptPath := filepath.Join(dir, "prompt.txt")
	require.NoError(t, os.WriteFile(promptPath, []byte("you are the planner"), 0600))

	bus := eventbus.New(16)
	peers := NewMemoryPeerStore()
	svc := New(Config{
		PromptPath:    promptPath,
		JWTSigningKey: []byte("test-signing-key"),
	}, peers, bus)
	return svc, promptPath
}

func TestHandshakeHappyPath(t *testing.T) {
	svc, _ := newTestService(t)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	initResp, err := svc.Initiate(InitiateRequest{NodeID: "peer-a", SoftwareVersion: "1.0", RemoteAddr: "10.0.0.1"})
	require.NoError(t, err)
	assert.Len(t, initResp.Nonce, 32)

	sig := ed25519.Sign(priv, initResp.Nonce)
	completeResp, err := svc.Complete(CompleteRequest{
		NodeID:         "peer-a",
		SignedNonce:    sig,
		PublicKey:      pub,
		AlignmentToken: initResp.AlignmentToken,
	})
	require.NoError(t, err)
	assert.True(t, completeResp.Success)

	p, ok := svc.peers.Get("peer-a")
	require.True(t, ok)
	assert.Equal(t, PeerVerified, p.Status)
}

func TestHandshakeRejectsAlignmentMismatch(t *testing.T) {
	svc, _ := newTestService(t)
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	initResp, err := svc.Initiate(InitiateRequest{NodeID: "peer-a"})
	require.NoError(t, err)

	sig := ed25519.Sign(priv, initResp.Nonce)
	_, err = svc.Complete(CompleteRequest{
		NodeID:         "peer-a",
		SignedNonce:    sig,
		PublicKey:      pub,
		AlignmentToken: "not-the-right-token",
	})
	assert.ErrorIs(t, err, ErrAlignmentMismatch)
}

func TestHandshakeRejectsBadSignature(t *testing.T) {
	svc, _ := newTestService(t)
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, wrongPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	initResp, err := svc.Initiate(InitiateRequest{NodeID: "peer-a"})
	require.NoError(t, err)

	sig := ed25519.Sign(wrongPriv, initResp.Nonce)
	_, err = svc.Complete(CompleteRequest{
		NodeID:         "peer-a",
		SignedNonce:    sig,
		PublicKey:      pub,
		AlignmentToken: initResp.AlignmentToken,
	})
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestHandshakeRejectsQuarantinedPeer(t *testing.T) {
	svc, _ := newTestService(t)
	svc.peers.Upsert(Peer{NodeID: "peer-a", Status: PeerQuarantined})

	_, err := svc.Initiate(InitiateRequest{NodeID: "peer-a"})
	assert.ErrorIs(t, err, ErrQuarantined)
}

func TestHandshakeRejectsCompleteWithoutInitiate(t *testing.T) {
	svc, _ := newTestService(t)
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	_, err = svc.Complete(CompleteRequest{
		NodeID:      "peer-a",
		SignedNonce: ed25519.Sign(priv, []byte("guess")),
		PublicKey:   pub,
	})
	assert.ErrorIs(t, err, ErrNoPendingChallenge)
}

func TestCompleteWritesAuditEntryOnVerification(t *testing.T) {
	svc, _ := newTestService(t)

	dir := t.TempDir()
	logPath := filepath.Join(dir, "audit.log")
	logger, err := audit.NewLogger(audit.Config{
		Enabled: true,
		Level:   audit.LevelInfo,
		Format:  audit.FormatJSON,
		Output:  "file:" + logPath,
	})
	require.NoError(t, err)
	svc.Audit = logger

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	initResp, err := svc.Initiate(InitiateRequest{NodeID: "peer-a", SoftwareVersion: "1.0"})
	require.NoError(t, err)

	_, err = svc.Complete(CompleteRequest{
		NodeID:         "peer-a",
		SignedNonce:    ed25519.Sign(priv, initResp.Nonce),
		PublicKey:      pub,
		AlignmentToken: initResp.AlignmentToken,
	})
	require.NoError(t, err)
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "peer.verified")
	assert.Contains(t, string(data), "peer-a")
}

func TestSessionTokenRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	tok, err := svc.IssueSessionToken("peer-a")
	require.NoError(t, err)

	sub, err := svc.ValidateSessionToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "peer-a", sub)
}
