package meshrpc

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/phoenixmesh/phoenix/internal/mesh/consensus"
	"github.com/phoenixmesh/phoenix/internal/mesh/handshake"
	"github.com/phoenixmesh/phoenix/internal/mesh/memoryexchange"
	"github.com/phoenixmesh/phoenix/internal/sandbox"
)

// HandshakeAdapter wires handshake.Service to the HandshakeService RPC
// shape, translating its plain errors into gRPC status codes.
type HandshakeAdapter struct {
	Service *handshake.Service
}

func (a HandshakeAdapter) Initiate(ctx context.Context, req InitiateRequest) (InitiateResponse, error) {
	if req.NodeID == "" {
		return InitiateResponse{}, ErrMissingField("node_id")
	}
	resp, err := a.Service.Initiate(handshake.InitiateRequest{
		NodeID:          req.NodeID,
		SoftwareVersion: req.SoftwareVersion,
		ManifestHash:    req.ManifestHash,
		RemoteAddr:      req.RemoteAddr,
	})
	if err != nil {
		return InitiateResponse{}, ErrInternal("handshake initiate", err)
	}
	return InitiateResponse{
		Nonce:          resp.Nonce,
		Timestamp:      time.Unix(resp.Timestamp, 0),
		AlignmentToken: resp.AlignmentToken,
	}, nil
}

func (a HandshakeAdapter) Complete(ctx context.Context, req CompleteRequest) (CompleteResponse, error) {
	if req.NodeID == "" {
		return CompleteResponse{}, ErrMissingField("node_id")
	}
	resp, err := a.Service.Complete(handshake.CompleteRequest{
		NodeID:           req.NodeID,
		SignedNonce:      req.SignedNonce,
		PublicKey:        ed25519.PublicKey(req.PublicKey),
		AlignmentToken:   req.AlignmentToken,
		GuardrailVersion: req.GuardrailVersion,
	})
	if err != nil {
		return CompleteResponse{}, ErrUnauthenticated(err.Error())
	}

	var sessionToken string
	if resp.Success {
		sessionToken, err = a.Service.IssueSessionToken(resp.PeerNodeID)
		if err != nil {
			return CompleteResponse{}, ErrInternal("issue session token", err)
		}
	}
	return CompleteResponse{
		Success:      resp.Success,
		Message:      resp.Message,
		PeerNodeID:   resp.PeerNodeID,
		SessionToken: sessionToken,
	}, nil
}

func (a HandshakeAdapter) ValidateSessionToken(ctx context.Context, token string) (string, error) {
	nodeID, err := a.Service.ValidateSessionToken(token)
	if err != nil {
		return "", ErrUnauthenticated(err.Error())
	}
	return nodeID, nil
}

// MemoryExchangeAdapter wires memoryexchange.Service to
// MemoryExchangeService.
type MemoryExchangeAdapter struct {
	Service *memoryexchange.Service
}

func (a MemoryExchangeAdapter) ExchangeMemory(ctx context.Context, req ExchangeMemoryRequest) (<-chan MemoryFragment, error) {
	if req.Collection == "" {
		return nil, ErrMissingField("collection")
	}
	frags, err := a.Service.ExchangeMemory(ctx, req.RequestingNodeID, req.Collection, req.Namespace, req.Topic, req.TopK)
	if err != nil {
		if err == memoryexchange.ErrPeerNotVerified {
			return nil, ErrUnauthenticated(err.Error())
		}
		if err == memoryexchange.ErrMaintenanceActive {
			return nil, ErrFailedPrecondition(err.Error())
		}
		return nil, ErrInternal("exchange memory", err)
	}

	out := make(chan MemoryFragment)
	go func() {
		defer close(out)
		for f := range frags {
			select {
			case out <- MemoryFragment{
				ID:              f.ID,
				Vector:          f.Vector,
				RedactedContent: f.RedactedContent,
				Type:            f.Type,
				Timestamp:       f.Timestamp,
				Similarity:      f.Similarity,
				IsComplete:      f.IsComplete,
			}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (a MemoryExchangeAdapter) Heatmap(ctx context.Context) (map[string]float64, error) {
	return a.Service.Heatmap(), nil
}

// MemoryStoreAdapter wires memoryexchange.Service's maintenance
// operations to MemoryStoreService, requiring a validated session
// token before any call proceeds.
type MemoryStoreAdapter struct {
	Service  *memoryexchange.Service
	Validate func(token string) (nodeID string, err error)
}

func (a MemoryStoreAdapter) PruneTopic(ctx context.Context, sessionToken, topic string) (int, error) {
	if _, err := a.Validate(sessionToken); err != nil {
		return 0, ErrUnauthenticated(err.Error())
	}
	n, err := a.Service.PruneTopic(ctx, topic)
	if err != nil {
		return 0, ErrInternal("prune topic", err)
	}
	return n, nil
}

func (a MemoryStoreAdapter) SnapshotNow(ctx context.Context, sessionToken string) error {
	if _, err := a.Validate(sessionToken); err != nil {
		return ErrUnauthenticated(err.Error())
	}
	if err := a.Service.SnapshotNow(ctx); err != nil {
		return ErrInternal("snapshot now", err)
	}
	return nil
}

func (a MemoryStoreAdapter) Restore(ctx context.Context, sessionToken string) error {
	if _, err := a.Validate(sessionToken); err != nil {
		return ErrUnauthenticated(err.Error())
	}
	if !a.Service.HasRecentSnapshot() {
		return ErrFailedPrecondition(memoryexchange.ErrNoRecentSnapshot.Error())
	}
	if err := a.Service.Restore(ctx); err != nil {
		return ErrInternal("restore", err)
	}
	return nil
}

// ToolAdapter wires a sandbox.Executor to ToolService, requiring a
// validated session token before any command runs.
type ToolAdapter struct {
	Executor *sandbox.Executor
	Validate func(token string) (nodeID string, err error)
}

func (a ToolAdapter) InvokeTool(ctx context.Context, req InvokeToolRequest) (InvokeToolResponse, error) {
	if req.ToolName == "" {
		return InvokeToolResponse{}, ErrMissingField("tool_name")
	}
	if _, err := a.Validate(req.SessionToken); err != nil {
		return InvokeToolResponse{}, ErrUnauthenticated(err.Error())
	}

	args := make([]string, 0, len(req.Args))
	if cmd, ok := req.Args["command"]; ok && len(req.Args) == 1 {
		args = []string{cmd}
	} else {
		for _, v := range req.Args {
			args = append(args, v)
		}
	}

	result, err := a.Executor.Run(ctx, req.AgentID, req.ToolName, args)
	if err != nil {
		if errors.Is(err, sandbox.ErrCommandNotAllowed) {
			return InvokeToolResponse{Denied: true}, nil
		}
		return InvokeToolResponse{}, ErrInternal(fmt.Sprintf("invoke tool %s", req.ToolName), err)
	}
	return InvokeToolResponse{Output: result.Stdout, ExitCode: result.ExitCode}, nil
}

// AdminAdapter wires consensus.Service and handshake.Service's
// PropagateQuarantine to AdminService.
type AdminAdapter struct {
	Consensus *consensus.Service
	Handshake *handshake.Service
	Validate  func(token string) (nodeID string, err error)
}

func (a AdminAdapter) RequestConsensus(ctx context.Context, sessionToken, commitHash string) error {
	if _, err := a.Validate(sessionToken); err != nil {
		return ErrUnauthenticated(err.Error())
	}
	if err := a.Consensus.RequestConsensus(ctx, commitHash); err != nil {
		return ErrInternal("request consensus", err)
	}
	return nil
}

func (a AdminAdapter) SubmitVote(ctx context.Context, req SubmitVoteRequest) error {
	nodeID, err := a.Validate(req.SessionToken)
	if err != nil {
		return ErrUnauthenticated(err.Error())
	}
	vote := consensus.Vote{VoterNodeID: nodeID, Score: req.Score, Approved: req.Approve}
	if err := a.Consensus.SubmitVote(ctx, req.CommitHash, vote); err != nil {
		return ErrInternal("submit vote", err)
	}
	return nil
}

func (a AdminAdapter) StrategicOverride(ctx context.Context, sessionToken, commitHash, rationale string) (ConsensusResult, error) {
	if _, err := a.Validate(sessionToken); err != nil {
		return ConsensusResult{}, ErrUnauthenticated(err.Error())
	}
	res, err := a.Consensus.StrategicOverride(ctx, commitHash, rationale)
	if err != nil {
		return ConsensusResult{}, ErrInternal("strategic override", err)
	}
	return ConsensusResult{
		CommitHash:        res.CommitHash,
		Approved:          res.Approved,
		AverageScore:      res.AverageScore,
		ApprovalPct:       res.ApprovalPct,
		VoteCount:         res.VoteCount,
		StrategicOverride: res.StrategicOverride,
	}, nil
}

// ConsensusStatus reports an in-flight or resolved session's tally
// without evaluating or mutating it.
func (a AdminAdapter) ConsensusStatus(ctx context.Context, sessionToken, commitHash string) (ConsensusResult, error) {
	if _, err := a.Validate(sessionToken); err != nil {
		return ConsensusResult{}, ErrUnauthenticated(err.Error())
	}
	session, err := a.Consensus.Status(ctx, commitHash)
	if err != nil {
		return ConsensusResult{}, ErrInternal("consensus status", err)
	}
	if session.Result != nil {
		return ConsensusResult{
			CommitHash:        session.Result.CommitHash,
			Approved:          session.Result.Approved,
			AverageScore:      session.Result.AverageScore,
			ApprovalPct:       session.Result.ApprovalPct,
			VoteCount:         session.Result.VoteCount,
			StrategicOverride: session.Result.StrategicOverride,
			QuarantineReason:  session.Result.QuarantineReason,
		}, nil
	}
	return ConsensusResult{CommitHash: session.CommitHash, VoteCount: len(session.Votes)}, nil
}

func (a AdminAdapter) PropagateQuarantine(ctx context.Context, req PropagateQuarantineRequest) error {
	if _, err := a.Validate(req.SessionToken); err != nil {
		return ErrUnauthenticated(err.Error())
	}
	if err := a.Handshake.PropagateQuarantine(ctx, req.ManifestHash, req.AgentID, req.QuarantinedBy, req.ComplianceScore); err != nil {
		return ErrInternal("propagate quarantine", err)
	}
	return nil
}
