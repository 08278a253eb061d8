package consensus

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/phoenixmesh/phoenix/internal/eventbus"
)

// PeerCounter reports the number of currently-verified peers, used to
// derive the expected-vote count for early evaluation (§4.5 "Vote
// receipt").
type PeerCounter interface {
	VerifiedCount() int
}

// ComplianceScorer returns this node's own compliance score to vote with
// when a peer's consensus request arrives. Backed by a compliance-monitor
// subsystem when present; Service falls back to DefaultSelfScore.
type ComplianceScorer interface {
	ComplianceScore(ctx context.Context) float64
}

// DefaultSelfScore is used when no ComplianceScorer is configured.
const DefaultSelfScore = 80.0

// Config configures the consensus Service.
type Config struct {
	SelfNodeID string
	RepoPath   string
	Policy     Policy
}

// Service evaluates consensus sessions and applies or quarantines the
// corresponding commit.
type Service struct {
	cfg     Config
	store   Store
	peers   PeerCounter
	scorer  ComplianceScorer
	bus     *eventbus.Bus

	mu      sync.Mutex
	timers  map[string]*time.Timer
}

// New constructs a consensus Service.
func New(cfg Config, store Store, peers PeerCounter, scorer ComplianceScorer, bus *eventbus.Bus) *Service {
	if cfg.Policy == (Policy{}) {
		cfg.Policy = DefaultPolicy()
	}
	return &Service{
		cfg:    cfg,
		store:  store,
		peers:  peers,
		scorer: scorer,
		bus:    bus,
		timers: make(map[string]*time.Timer),
	}
}

// RequestConsensus starts a new session for commitHash, publishes
// ConsensusRequest, and schedules a timeout evaluation.
func (s *Service) RequestConsensus(ctx context.Context, commitHash string) error {
	session := &Session{
		CommitHash:    commitHash,
		RequesterNode: s.cfg.SelfNodeID,
		StartedAt:     time.Now(),
		Policy:        s.cfg.Policy,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return err
	}

	s.bus.Publish(eventbus.EventConsensusRequest, ConsensusRequestEvent{
		CommitHash: commitHash,
		Requester:  s.cfg.SelfNodeID,
		Timestamp:  session.StartedAt,
	})

	s.mu.Lock()
	s.timers[commitHash] = time.AfterFunc(s.cfg.Policy.VoteTimeout, func() {
		_, _ = s.Evaluate(context.Background(), commitHash)
	})
	s.mu.Unlock()
	return nil
}

// HandleRemoteRequest is called when a peer's ConsensusRequest is observed
// on the mesh; this node computes its own compliance score and casts a
// vote.
func (s *Service) HandleRemoteRequest(ctx context.Context, commitHash string) Vote {
	score := DefaultSelfScore
	if s.scorer != nil {
		score = s.scorer.ComplianceScore(ctx)
	}
	vote := Vote{
		VoterNodeID: s.cfg.SelfNodeID,
		Score:       score,
		Approved:    score >= 70,
		Timestamp:   time.Now(),
	}
	s.bus.Publish(eventbus.EventConsensusVote, ConsensusVoteEvent{CommitHash: commitHash, Vote: vote})
	return vote
}

// SubmitVote records an incoming vote and evaluates immediately once the
// expected number of peer votes has arrived.
func (s *Service) SubmitVote(ctx context.Context, commitHash string, v Vote) error {
	session, err := s.store.AppendVote(ctx, commitHash, v)
	if err != nil {
		return err
	}

	expected := 1
	if s.peers != nil {
		if n := s.peers.VerifiedCount(); n > expected {
			expected = n
		}
	}
	if len(session.Votes) >= expected {
		_, err := s.Evaluate(ctx, commitHash)
		return err
	}
	return nil
}

// Evaluate computes the session result and applies or quarantines the
// commit. Safe to call more than once; only the first call after creation
// has effect (Evaluated guards re-entrancy via store semantics).
func (s *Service) Evaluate(ctx context.Context, commitHash string) (*Result, error) {
	s.mu.Lock()
	if t, ok := s.timers[commitHash]; ok {
		t.Stop()
		delete(s.timers, commitHash)
	}
	s.mu.Unlock()

	session, ok, err := s.store.GetSession(ctx, commitHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if session.Evaluated {
		return session.Result, nil
	}

	result := session.Evaluate()
	if !result.Approved {
		result.QuarantineReason = fmt.Sprintf("average=%.2f approval_pct=%.2f (need avg>=%.2f, approval>=%.2f)",
			result.AverageScore, result.ApprovalPct, session.Policy.MinAverageScore, session.Policy.MinApprovalPercent)
	}
	if err := s.store.SaveResult(ctx, commitHash, result); err != nil {
		return nil, err
	}

	s.bus.Publish(eventbus.EventConsensusResult, ConsensusResultEvent{Result: result})

	if result.Approved {
		s.applyApproved(ctx, commitHash)
	} else {
		_ = s.store.Quarantine(ctx, commitHash, result.QuarantineReason)
	}

	return &result, nil
}

func (s *Service) applyApproved(ctx context.Context, commitHash string) {
	if s.cfg.RepoPath == "" {
		return
	}
	cmd := exec.CommandContext(ctx, "git", "pull", "origin", "main")
	cmd.Dir = s.cfg.RepoPath
	if err := cmd.Run(); err == nil {
		s.bus.Publish(eventbus.EventBroadcastDiscovery, BroadcastDiscoveryEvent{Kind: "agent_library_sync"})
	}
}

// StrategicOverride is the governance escape hatch: it unconditionally
// approves a commit, bypassing quorum, and commits the override to git
// history under the [PHOENIX-OVERRIDE] marker so it remains the source of
// truth for the governance report.
func (s *Service) StrategicOverride(ctx context.Context, commitHash, rationale string) (*Result, error) {
	_ = s.store.Unquarantine(ctx, commitHash)

	result := Result{
		CommitHash:        commitHash,
		Approved:          true,
		AverageScore:       100,
		ApprovalPct:        100,
		VoteCount:          1,
		StrategicOverride:  true,
	}

	if s.cfg.RepoPath != "" {
		addCmd := exec.CommandContext(ctx, "git", "add", "-A")
		addCmd.Dir = s.cfg.RepoPath
		_ = addCmd.Run()

		msg := fmt.Sprintf("[PHOENIX-OVERRIDE] %s\n\nRationale: %s", commitHash, strings.TrimSpace(rationale))
		commitCmd := exec.CommandContext(ctx, "git", "commit", "-m", msg, "--allow-empty")
		commitCmd.Dir = s.cfg.RepoPath
		var stderr bytes.Buffer
		commitCmd.Stderr = &stderr
		_ = commitCmd.Run() // no-op (nothing to commit) is allowed
	}

	s.bus.Publish(eventbus.EventConsensusResult, ConsensusResultEvent{Result: result})
	s.bus.Publish(eventbus.EventBroadcastDiscovery, BroadcastDiscoveryEvent{Kind: "agent_library_sync"})
	return &result, nil
}

// Status reports a session's current vote tally without evaluating or
// mutating it, for operators polling an in-flight consensus round.
func (s *Service) Status(ctx context.Context, commitHash string) (*Session, error) {
	session, ok, err := s.store.GetSession(ctx, commitHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		quarantined, qerr := s.store.IsQuarantined(ctx, commitHash)
		if qerr != nil {
			return nil, qerr
		}
		if quarantined {
			reason, _, _ := s.store.QuarantineReason(ctx, commitHash)
			return &Session{
				CommitHash: commitHash,
				Evaluated:  true,
				Result:     &Result{CommitHash: commitHash, Approved: false, QuarantineReason: reason},
			}, nil
		}
		return nil, fmt.Errorf("consensus: no session for commit %s", commitHash)
	}
	return session, nil
}

// ConsensusRequestEvent, ConsensusVoteEvent, ConsensusResultEvent, and
// BroadcastDiscoveryEvent are the payloads carried on the bus for the
// corresponding eventbus.EventType values.
type ConsensusRequestEvent struct {
	CommitHash string
	Requester  string
	Timestamp  time.Time
}

type ConsensusVoteEvent struct {
	CommitHash string
	Vote       Vote
}

type ConsensusResultEvent struct {
	Result Result
}

type BroadcastDiscoveryEvent struct {
	Kind string
}
