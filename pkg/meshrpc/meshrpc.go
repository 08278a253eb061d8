// Package meshrpc defines the wire-level method shapes peer nodes call
// on each other: handshake, memory exchange, memory store maintenance,
// tool invocation, and admin operations. These are plain Go interfaces
// and structs, not generated protobuf/gRPC stubs — no .proto file exists
// anywhere in this module's lineage to generate from, and fabricating
// one would mean inventing a wire contract rather than learning it from
// the corpus. What IS grounded here is the teacher's error-mapping
// idiom: every RPC-shaped error response uses
// google.golang.org/grpc/codes and google.golang.org/grpc/status the
// same way internal/gateway/artifact_service.go does, so a real gRPC
// service built on these interfaces slots in without translating error
// conventions.
package meshrpc

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrMissingField maps a required-but-empty request field to the same
// InvalidArgument convention the teacher's gateway services use.
func ErrMissingField(field string) error {
	return status.Errorf(codes.InvalidArgument, "%s is required", field)
}

// ErrNotFound maps a lookup miss to NotFound.
func ErrNotFound(what, id string) error {
	return status.Errorf(codes.NotFound, "%s %q not found", what, id)
}

// ErrUnauthenticated maps a failed peer verification to Unauthenticated.
func ErrUnauthenticated(reason string) error {
	return status.Error(codes.Unauthenticated, reason)
}

// ErrFailedPrecondition maps a state-gated refusal (maintenance mode,
// no recent snapshot, quarantine) to FailedPrecondition.
func ErrFailedPrecondition(reason string) error {
	return status.Error(codes.FailedPrecondition, reason)
}

// ErrInternal wraps an unexpected internal error the same way the
// teacher's gateway services do with status.Errorf(codes.Internal, ...).
func ErrInternal(op string, err error) error {
	return status.Errorf(codes.Internal, "%s: %v", op, err)
}

// HandshakeService is the RPC surface a mesh node exposes so a remote
// peer can establish a verified session, mirroring
// mesh/handshake.Service's Initiate/Complete/token pair.
type HandshakeService interface {
	Initiate(ctx context.Context, req InitiateRequest) (InitiateResponse, error)
	Complete(ctx context.Context, req CompleteRequest) (CompleteResponse, error)
	ValidateSessionToken(ctx context.Context, token string) (nodeID string, err error)
}

type InitiateRequest struct {
	NodeID          string
	SoftwareVersion string
	ManifestHash    string
	RemoteAddr      string
}

type InitiateResponse struct {
	Nonce          []byte
	Timestamp      time.Time
	AlignmentToken string
}

type CompleteRequest struct {
	NodeID           string
	SignedNonce      []byte
	PublicKey        []byte
	AlignmentToken   string
	GuardrailVersion string
}

type CompleteResponse struct {
	Success      bool
	Message      string
	PeerNodeID   string
	SessionToken string
}

// MemoryExchangeService is the RPC surface for authorized peer-to-peer
// streaming of redacted memory candidates, mirroring
// mesh/memoryexchange.Service.ExchangeMemory.
type MemoryExchangeService interface {
	ExchangeMemory(ctx context.Context, req ExchangeMemoryRequest) (<-chan MemoryFragment, error)
	Heatmap(ctx context.Context) (map[string]float64, error)
}

type ExchangeMemoryRequest struct {
	RequestingNodeID string
	SessionToken     string
	Collection       string
	Namespace        string
	Topic            string
	TopK             int
}

type MemoryFragment struct {
	ID              string
	Vector          []float32
	RedactedContent string
	Type            string
	Timestamp       time.Time
	Similarity      float64
	IsComplete      bool
}

// MemoryStoreService exposes maintenance operations (pruning, snapshot,
// restore) a remote admin session can trigger on a node's memory store.
type MemoryStoreService interface {
	PruneTopic(ctx context.Context, sessionToken, topic string) (removed int, err error)
	SnapshotNow(ctx context.Context, sessionToken string) error
	Restore(ctx context.Context, sessionToken string) error
}

// ToolService exposes a remote-invocable view of a node's sandboxed
// tool execution surface.
type ToolService interface {
	InvokeTool(ctx context.Context, req InvokeToolRequest) (InvokeToolResponse, error)
}

type InvokeToolRequest struct {
	SessionToken string
	AgentID      string
	ToolName     string
	Args         map[string]string
}

type InvokeToolResponse struct {
	Output   string
	ExitCode int
	Denied   bool
}

// AdminService exposes consensus and quarantine operations to a
// verified peer, mirroring mesh/consensus.Service and
// mesh/handshake.Service.PropagateQuarantine.
type AdminService interface {
	RequestConsensus(ctx context.Context, sessionToken, commitHash string) error
	SubmitVote(ctx context.Context, req SubmitVoteRequest) error
	StrategicOverride(ctx context.Context, sessionToken, commitHash, rationale string) (ConsensusResult, error)
	ConsensusStatus(ctx context.Context, sessionToken, commitHash string) (ConsensusResult, error)
	PropagateQuarantine(ctx context.Context, req PropagateQuarantineRequest) error
}

type SubmitVoteRequest struct {
	SessionToken string
	CommitHash   string
	NodeID       string
	Score        float64
	Approve      bool
}

type ConsensusResult struct {
	CommitHash        string
	Approved          bool
	AverageScore      float64
	ApprovalPct       float64
	VoteCount         int
	StrategicOverride bool
	QuarantineReason  string
}

type PropagateQuarantineRequest struct {
	SessionToken    string
	ManifestHash    string
	AgentID         string
	QuarantinedBy   string
	ComplianceScore float64
}
