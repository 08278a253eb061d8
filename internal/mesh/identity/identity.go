// Package identity manages a node's long-lived Ed25519 keypair: the
// credential a peer's handshake signature is checked against (§4.4).
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ErrCorruptSeed is returned when the on-disk seed file is present but not
// exactly ed25519.SeedSize bytes.
var ErrCorruptSeed = errors.New("identity: seed file is not a valid ed25519 seed")

// NodeIdentity is a node's persistent keypair and declared id.
type NodeIdentity struct {
	NodeID     string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// Sign signs msg with the node's private key.
func (n *NodeIdentity) Sign(msg []byte) []byte {
	return ed25519.Sign(n.PrivateKey, msg)
}

// LoadOrGenerate reads the raw 32-byte seed at seedPath, or generates and
// persists a new one if absent. Chmod discipline on seedPath is the
// operator's responsibility (§6 on-disk state); this only picks a
// conservative mode (0600) on first write.
func LoadOrGenerate(seedPath string, nodeID string) (*NodeIdentity, error) {
	seed, err := os.ReadFile(seedPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("identity: read seed: %w", err)
		}
		seed = make([]byte, ed25519.SeedSize)
		if _, rerr := rand.Read(seed); rerr != nil {
			return nil, fmt.Errorf("identity: generate seed: %w", rerr)
		}
		if err := os.MkdirAll(filepath.Dir(seedPath), 0700); err != nil {
			return nil, fmt.Errorf("identity: create seed dir: %w", err)
		}
		if err := os.WriteFile(seedPath, seed, 0600); err != nil {
			return nil, fmt.Errorf("identity: write seed: %w", err)
		}
	}
	if len(seed) != ed25519.SeedSize {
		return nil, ErrCorruptSeed
	}

	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	priv := ed25519.NewKeyFromSeed(seed)
	return &NodeIdentity{
		NodeID:     nodeID,
		PublicKey:  priv.Public().(ed25519.PublicKey),
		PrivateKey: priv,
	}, nil
}
