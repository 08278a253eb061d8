// Package handshake implements the mesh's two-message mutual verification
// protocol (§4.4): Initiate issues a signed challenge and this node's
// alignment token; Complete verifies the signature, checks alignment token
// equality, and promotes the peer to verified.
package handshake

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/phoenixmesh/phoenix/internal/audit"
	"github.com/phoenixmesh/phoenix/internal/eventbus"
)

var (
	ErrQuarantined           = errors.New("handshake: peer is quarantined")
	ErrManifestMismatch      = errors.New("handshake: manifest hash mismatch")
	ErrNoPendingChallenge    = errors.New("handshake: no pending challenge for node")
	ErrChallengeExpired      = errors.New("handshake: challenge nonce expired")
	ErrSignatureInvalid      = errors.New("handshake: signature verification failed")
	ErrAlignmentMismatch     = errors.New("handshake: alignment_token_mismatch")
)

const nonceTTL = 30 * time.Second

// pendingChallenge is single-use and TTL-bound (§3 Pending challenge).
type pendingChallenge struct {
	nonce           []byte
	createdAt       time.Time
	nodeID          string
	softwareVersion string
	manifestHash    string
}

// InitiateRequest is the client's opening message.
type InitiateRequest struct {
	NodeID          string
	SoftwareVersion string
	ManifestHash    string
	RemoteAddr      string
}

// InitiateResponse carries the server's challenge.
type InitiateResponse struct {
	Nonce          []byte
	Timestamp      int64
	AlignmentToken string
}

// CompleteRequest is the client's signed response to the challenge.
type CompleteRequest struct {
	NodeID           string
	SignedNonce      []byte
	PublicKey        ed25519.PublicKey
	AlignmentToken   string
	GuardrailVersion string
}

// CompleteResponse reports the verification outcome.
type CompleteResponse struct {
	Success    bool
	Message    string
	PeerNodeID string
}

// Config configures the handshake service.
type Config struct {
	PromptPath         string
	LeadershipPath     string
	ManifestPath       string
	ManifestEnforced   bool
	JWTSigningKey       []byte
	SessionTTL         time.Duration
}

// Service implements the handshake protocol for this node.
type Service struct {
	cfg   Config
	peers PeerStore
	bus   *eventbus.Bus

	// Audit, when set, receives one event per peer-verification and
	// peer-quarantine transition. Nil disables audit logging.
	Audit *audit.Logger

	mu      sync.Mutex
	pending map[string]pendingChallenge
}

// New constructs a handshake Service.
func New(cfg Config, peers PeerStore, bus *eventbus.Bus) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}
	return &Service{
		cfg:     cfg,
		peers:   peers,
		bus:     bus,
		pending: make(map[string]pendingChallenge),
	}
}

// Initiate handles the first handshake message.
func (s *Service) Initiate(req InitiateRequest) (*InitiateResponse, error) {
	if s.peers.IsQuarantined(req.NodeID, req.RemoteAddr) {
		return nil, ErrQuarantined
	}

	if s.cfg.ManifestEnforced {
		localHash, err := ManifestHash(s.cfg.ManifestPath)
		if err != nil {
			return nil, fmt.Errorf("handshake: compute local manifest hash: %w", err)
		}
		if localHash != "" && req.ManifestHash != localHash {
			s.bus.Publish(eventbus.EventUnauthorizedNode, UnauthorizedNodeDetected{
				NodeID: req.NodeID,
				Reason: "manifest_mismatch",
			})
			return nil, ErrManifestMismatch
		}
	}

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("handshake: generate nonce: %w", err)
	}

	token, err := AlignmentToken(s.cfg.PromptPath, s.cfg.LeadershipPath)
	if err != nil {
		return nil, fmt.Errorf("handshake: compute alignment token: %w", err)
	}

	now := time.Now()
	s.mu.Lock()
	s.pending[req.NodeID] = pendingChallenge{
		nonce:           nonce,
		createdAt:       now,
		nodeID:          req.NodeID,
		softwareVersion: req.SoftwareVersion,
		manifestHash:    req.ManifestHash,
	}
	s.mu.Unlock()

	s.peers.Upsert(Peer{
		NodeID:          req.NodeID,
		SoftwareVersion: req.SoftwareVersion,
		ManifestHash:    req.ManifestHash,
		RemoteAddr:      req.RemoteAddr,
		Status:          PeerPending,
		LastSeen:        now,
	})

	return &InitiateResponse{Nonce: nonce, Timestamp: now.Unix(), AlignmentToken: token}, nil
}

// Complete handles the second handshake message.
func (s *Service) Complete(req CompleteRequest) (*CompleteResponse, error) {
	if s.peers.IsQuarantined(req.NodeID, "") {
		return nil, ErrQuarantined
	}

	s.mu.Lock()
	pc, ok := s.pending[req.NodeID]
	if ok {
		delete(s.pending, req.NodeID)
	}
	s.mu.Unlock()
	if !ok {
		return nil, ErrNoPendingChallenge
	}

	if time.Since(pc.createdAt) > nonceTTL {
		return nil, ErrChallengeExpired
	}

	if !ed25519.Verify(req.PublicKey, pc.nonce, req.SignedNonce) {
		return nil, ErrSignatureInvalid
	}

	localToken, err := AlignmentToken(s.cfg.PromptPath, s.cfg.LeadershipPath)
	if err != nil {
		return nil, fmt.Errorf("handshake: compute alignment token: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(localToken), []byte(req.AlignmentToken)) != 1 {
		return nil, ErrAlignmentMismatch
	}

	// Guardrail-version mismatch is a warning, not a denial.
	_ = req.GuardrailVersion

	s.peers.SetStatus(req.NodeID, PeerVerified)
	s.bus.Publish(eventbus.EventPeerVerified, PeerVerifiedEvent{NodeID: req.NodeID})
	if s.Audit != nil {
		s.Audit.Log(context.Background(), &audit.Event{
			Type:   audit.EventPeerVerified,
			Level:  audit.LevelInfo,
			Action: "peer_verified",
			Details: map[string]any{
				"node_id":           req.NodeID,
				"guardrail_version": req.GuardrailVersion,
			},
		})
	}

	return &CompleteResponse{Success: true, Message: "verified", PeerNodeID: req.NodeID}, nil
}

// IssueSessionToken mints a short-lived JWT scoped to consensus voting and
// memory exchange for a just-verified peer.
func (s *Service) IssueSessionToken(nodeID string) (string, error) {
	claims := jwt.MapClaims{
		"sub":   nodeID,
		"scope": []string{"consensus:vote", "memory:exchange"},
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(s.cfg.SessionTTL).Unix(),
		"jti":   uuid.NewString(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(s.cfg.JWTSigningKey)
}

// ValidateSessionToken parses and verifies a session token, returning the
// subject node id on success.
func (s *Service) ValidateSessionToken(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return s.cfg.JWTSigningKey, nil
	})
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("handshake: invalid session token: %w", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("handshake: malformed session token claims")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errors.New("handshake: session token missing subject")
	}
	return sub, nil
}

// PropagateQuarantine is the peer-driven mutator §4.4 describes: a peer
// reports an agent or commit it has quarantined, and this node forwards
// the alert onto its own bus for the consensus/quarantine subsystem (or,
// absent one, any other bus subscriber) to act on.
func (s *Service) PropagateQuarantine(ctx context.Context, manifestHash, agentID, quarantinedBy string, complianceScore float64) error {
	s.bus.Publish(eventbus.EventQuarantineAlert, QuarantineAlert{
		ManifestHash:    manifestHash,
		AgentID:         agentID,
		QuarantinedBy:   quarantinedBy,
		ComplianceScore: complianceScore,
	})
	if s.Audit != nil {
		s.Audit.Log(ctx, &audit.Event{
			Type:   audit.EventPeerQuarantine,
			Level:  audit.LevelWarn,
			Action: "peer_quarantine_propagated",
			Details: map[string]any{
				"manifest_hash":    manifestHash,
				"agent_id":         agentID,
				"quarantined_by":   quarantinedBy,
				"compliance_score": complianceScore,
			},
		})
	}
	return nil
}

// UnauthorizedNodeDetected is published when a peer fails manifest or
// alignment checks.
type UnauthorizedNodeDetected struct {
	NodeID string
	Reason string
}

// PeerVerifiedEvent is published when a peer completes the handshake.
type PeerVerifiedEvent struct {
	NodeID string
}

// QuarantineAlert is published by PropagateQuarantine.
type QuarantineAlert struct {
	ManifestHash    string
	AgentID         string
	QuarantinedBy   string
	ComplianceScore float64
}
