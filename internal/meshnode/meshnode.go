// Package meshnode assembles one Phoenix Mesh node: the gRPC and HTTP
// listeners, the handshake/memory-exchange/consensus services, the
// agent factory, and the background watchers that tie them together.
// Grounded on internal/gateway.Server/ManagedServer for the
// grpc.NewServer + health + reflection + HTTP mux shape and the
// Start/Stop lifecycle split, scoped down to the mesh's own services
// instead of the teacher's channel/provider/plugin stack.
package meshnode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/robfig/cron/v3"

	"github.com/phoenixmesh/phoenix/internal/audit"
	"github.com/phoenixmesh/phoenix/internal/config"
	"github.com/phoenixmesh/phoenix/internal/episodicmemory"
	"github.com/phoenixmesh/phoenix/internal/eventbus"
	"github.com/phoenixmesh/phoenix/internal/identity"
	"github.com/phoenixmesh/phoenix/internal/ingest/autoingest"
	"github.com/phoenixmesh/phoenix/internal/ingest/playbook"
	"github.com/phoenixmesh/phoenix/internal/llmclient"
	"github.com/phoenixmesh/phoenix/internal/mesh/consensus"
	"github.com/phoenixmesh/phoenix/internal/mesh/handshake"
	"github.com/phoenixmesh/phoenix/internal/mesh/memoryexchange"
	"github.com/phoenixmesh/phoenix/internal/mesh/notify"
	"github.com/phoenixmesh/phoenix/internal/agentfactory"
	"github.com/phoenixmesh/phoenix/internal/observability"
	"github.com/phoenixmesh/phoenix/internal/planner"
	"github.com/phoenixmesh/phoenix/internal/promptmanager"
	"github.com/phoenixmesh/phoenix/internal/retrieval"
	"github.com/phoenixmesh/phoenix/internal/retrieval/hybrid"
	"github.com/phoenixmesh/phoenix/internal/retrieval/rerank"
	"github.com/phoenixmesh/phoenix/internal/retrieval/vectorstore"
	"github.com/phoenixmesh/phoenix/internal/sandbox"
	"github.com/phoenixmesh/phoenix/internal/security"
	"github.com/phoenixmesh/phoenix/pkg/meshrpc"
)

// Node owns every long-lived service a running mesh node needs and the
// two listeners that expose them.
type Node struct {
	cfg    *config.Config
	logger *slog.Logger

	Bus         *eventbus.Bus
	Handshake   *handshake.Service
	MemExchange *memoryexchange.Service
	Consensus   *consensus.Service
	Agents      *agentfactory.Factory
	Episodes    *episodicmemory.Store
	Identities  *identity.MemoryStore
	Prompt      *promptmanager.Manager

	VectorStore vectorstore.Store
	Embedder    hybrid.Embedder
	Retrieval   *retrieval.Service
	Ingest      *autoingest.Watcher
	Playbook    *playbook.Distiller
	Planner     *planner.Dispatcher
	Notify      *notify.SlackNotifier
	Tracer      *observability.Tracer

	tracerShutdown func(context.Context) error

	Handshake2RPC   meshrpc.HandshakeAdapter
	MemExchangeRPC  meshrpc.MemoryExchangeAdapter
	MemStoreRPC     meshrpc.MemoryStoreAdapter
	ToolRPC         meshrpc.ToolAdapter
	AdminRPC        meshrpc.AdminAdapter

	grpcServer   *grpc.Server
	httpServer   *http.Server
	playbookCron *cron.Cron
}

// dualRecorder satisfies agentfactory.MemoryRecorder by writing every
// worker episode to the in-process episodic store (peer memory exchange
// reads from this, via internal/mesh/memoryexchange) and, in parallel,
// to the vector store's episodic collection (internal/ingest/playbook's
// weekly distillation pass reads from this). An embedding failure skips
// the vector write without failing the episode; an error from the
// vector-store upsert itself is returned.
type dualRecorder struct {
	episodes   *episodicmemory.Store
	store      vectorstore.Store
	embedder   hybrid.Embedder
	collection string
}

func (r dualRecorder) RecordEpisode(ctx context.Context, agentID, taskDescription, outcome string, compliant bool) error {
	if err := r.episodes.RecordEpisode(ctx, agentID, taskDescription, outcome, compliant); err != nil {
		return err
	}

	vec, err := r.embedder.Embed(ctx, taskDescription)
	if err != nil {
		return nil
	}
	return r.store.Upsert(ctx, r.collection, []vectorstore.Point{{
		ID:      uuid.NewString(),
		Vector:  vec,
		Content: taskDescription,
		Payload: map[string]string{
			"agent_id":  agentID,
			"outcome":   outcome,
			"compliant": strconv.FormatBool(compliant),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}})
}

// buildPeerStore returns an on-disk registry when a path is configured,
// falling back to the in-memory one (lost on restart, fine for a
// single-process dev node or a test).
func buildPeerStore(path string) (handshake.PeerStore, error) {
	if path == "" {
		return handshake.NewMemoryPeerStore(), nil
	}
	return handshake.NewSQLitePeerStore(path)
}

// llmCompleter is the single-call surface every worker, classifier, and
// playbook generator needs; both llmclient.Client (Anthropic) and
// llmclient.OpenAIClient satisfy it, so the provider is a config switch.
type llmCompleter interface {
	Complete(ctx context.Context, systemPrompt, task string, temperature float64) (string, error)
}

func buildLLM(cfg config.LLMConfig) llmCompleter {
	if cfg.Provider == "openai" {
		return llmclient.NewOpenAIClient(cfg.APIKey, cfg.DefaultModel, cfg.BaseURL)
	}
	return llmclient.New(cfg.APIKey, cfg.DefaultModel)
}

func buildVectorStore(cfg config.VectorStoreConfig) (vectorstore.Store, error) {
	if cfg.Host == "" {
		return vectorstore.NewMemoryStore(), nil
	}
	store, err := vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

// toolApprovalGate and memoryApprovalGate require human approval for
// every gated action (internal/planner.ToolAuthorizer and
// MemoryAuthorizer). This is the conservative default: nothing in
// config yet carves out an always-allow list.
type toolApprovalGate struct{}

func (toolApprovalGate) RequiresApproval(toolName string) bool { return true }

type memoryApprovalGate struct{}

func (memoryApprovalGate) RequiresApproval(namespace, topic string) bool { return true }

// verifiedCounter adapts the handshake peer store into
// consensus.PeerCounter: the number of verified peers gates how many
// votes a session waits for before evaluating early.
type verifiedCounter struct{ peers handshake.PeerStore }

func (v verifiedCounter) VerifiedCount() int {
	return v.peers.VerifiedCount()
}

// New assembles a Node from cfg but does not start listening.
func New(cfg *config.Config, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}

	bus := eventbus.New(256)

	peerStore, err := buildPeerStore(cfg.Mesh.PeerRegistryPath)
	if err != nil {
		return nil, fmt.Errorf("meshnode: build peer registry: %w", err)
	}
	handshakeSvc := handshake.New(handshake.Config{
		PromptPath:       cfg.Mesh.PromptPath,
		LeadershipPath:   cfg.Mesh.LeadershipPath,
		ManifestPath:     cfg.Mesh.ManifestPath,
		ManifestEnforced: cfg.Mesh.ManifestEnforced,
		JWTSigningKey:    []byte(cfg.Mesh.JWTSecret),
		SessionTTL:       cfg.Mesh.SessionTTL,
	}, peerStore, bus)

	auditFormat := audit.FormatJSON
	if cfg.Observability.Audit.Format == "text" {
		auditFormat = audit.FormatText
	}
	auditLogger, err := audit.NewLogger(audit.Config{
		Enabled: cfg.Observability.Audit.Enabled,
		Level:   audit.LevelInfo,
		Format:  auditFormat,
		Output:  cfg.Observability.Audit.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("meshnode: build audit logger: %w", err)
	}
	handshakeSvc.Audit = auditLogger

	episodes := episodicmemory.NewStore()
	redact := security.NewFilter()
	memExchangeSvc := memoryexchange.New(memoryexchange.Config{
		Collections: cfg.Retrieval.Collections,
	}, episodes, redact, bus, func(nodeID string) bool {
		peer, ok := peerStore.Get(nodeID)
		return ok && peer.Status == handshake.PeerVerified
	})

	consensusStore := consensus.Store(consensus.NewMemoryStore())
	if cfg.Consensus.PostgresDSN != "" {
		pg, err := consensus.NewPostgresStoreFromDSN(cfg.Consensus.PostgresDSN, consensus.PostgresConfig{})
		if err != nil {
			return nil, fmt.Errorf("meshnode: connect consensus postgres store: %w", err)
		}
		consensusStore = pg
	}
	consensusSvc := consensus.New(consensus.Config{
		SelfNodeID: cfg.Mesh.NodeID,
		RepoPath:   cfg.Consensus.RepoPath,
		Policy: consensus.Policy{
			MinAverageScore:    cfg.Consensus.MinAverageScore,
			MinApprovalPercent: cfg.Consensus.MinApprovalPercent,
			VoteTimeout:        cfg.Consensus.VoteTimeout,
		},
	}, consensusStore, verifiedCounter{peerStore}, nil, bus)

	vstore, err := buildVectorStore(cfg.Retrieval.VectorStore)
	if err != nil {
		return nil, fmt.Errorf("meshnode: build vector store: %w", err)
	}
	embedder := hybrid.HashEmbedder{}

	var crossEncoder rerank.CrossEncoder
	if cfg.LLM.APIKey != "" {
		crossEncoder = rerank.NewLLMCrossEncoder(cfg.LLM.APIKey, cfg.LLM.CrossEncoderModel)
	}
	retrievalSvc := retrieval.NewService(vstore, embedder, crossEncoder, cfg.Retrieval.Collections, cfg.Retrieval.RRFBias)

	llm := buildLLM(cfg.LLM)
	recorder := dualRecorder{episodes: episodes, store: vstore, embedder: embedder, collection: cfg.Ingest.EpisodicCollection}
	factory := agentfactory.New(llm, recorder, bus, agentfactory.DefaultQuota)

	sandboxExec := sandbox.New(cfg.Sandbox.WorkDir, sandbox.Policy{
		Default:    toSandboxRule(cfg.Sandbox.Default),
		ByTwin:     toSandboxRules(cfg.Sandbox.ByTwin),
		Bubblewrap: cfg.Sandbox.Bubblewrap,
		Timeout:    cfg.Sandbox.Timeout,
	})

	var classifier autoingest.Classifier = autoingest.KeywordClassifier{}
	if cfg.LLM.APIKey != "" {
		classifier = autoingest.NewLLMClassifier(cfg.LLM.APIKey, cfg.LLM.ClassifierModel)
	}
	var ingestWatcher *autoingest.Watcher
	if cfg.Ingest.WatchDir != "" {
		ingestWatcher = autoingest.New(autoingest.Config{
			Dir:        cfg.Ingest.WatchDir,
			Collection: cfg.Ingest.Collection,
			Debounce:   cfg.Ingest.Debounce,
		}, vstore, embedder, classifier, logger)
	}

	playbookDistiller := playbook.New(
		vstore,
		cfg.Ingest.EpisodicCollection,
		cfg.Ingest.PlaybookOutputDir,
		cfg.Consensus.RepoPath,
		playbook.LLMGenerator{Client: llm},
	)
	toolPlaybooks := playbook.NewToolStore(vstore, cfg.Ingest.ToolPlaybookCollection)
	toolInstaller := playbook.NewInstaller(sandboxExec)

	builtins := planner.NewBuiltins()
	builtins.Register("command_exec", func(ctx context.Context, args map[string]string) (string, error) {
		argv := make([]string, 0, len(args))
		if cmd, ok := args["command"]; ok && len(args) == 1 {
			argv = []string{cmd}
		} else {
			for _, v := range args {
				argv = append(argv, v)
			}
		}

		twinID := planner.TwinIDFromContext(ctx)
		callID := uuid.NewString()
		input, _ := json.Marshal(argv)
		auditLogger.LogToolInvocation(ctx, "command_exec", callID, input, twinID)

		started := time.Now()
		result, err := sandboxExec.Run(ctx, twinID, "command_exec", argv)
		if err != nil {
			if errors.Is(err, sandbox.ErrCommandNotAllowed) {
				auditLogger.LogToolDenied(ctx, "command_exec", callID, err.Error(), "sandbox.Policy", twinID)
			} else {
				auditLogger.LogToolCompletion(ctx, "command_exec", callID, false, err.Error(), time.Since(started), twinID)
			}
			return "", err
		}
		auditLogger.LogToolCompletion(ctx, "command_exec", callID, result.ExitCode == 0, result.Stdout, time.Since(started), twinID)
		return result.Stdout, nil
	})
	builtins.Register("playbook_install", func(ctx context.Context, args map[string]string) (string, error) {
		toolName := args["tool_name"]
		twinID := planner.TwinIDFromContext(ctx)
		callID := uuid.NewString()

		matches, err := toolPlaybooks.SearchByTool(ctx, toolName, 1)
		if err != nil || len(matches) == 0 {
			auditLogger.LogToolDenied(ctx, "playbook_install", callID, "no playbook for tool", toolName, twinID)
			return "", fmt.Errorf("meshnode: no playbook for tool %q", toolName)
		}
		pb := matches[0]

		input, _ := json.Marshal(pb)
		auditLogger.LogToolInvocation(ctx, "playbook_install", callID, input, twinID)

		started := time.Now()
		result, err := toolInstaller.Install(ctx, twinID, pb)
		if err != nil {
			if errors.Is(err, sandbox.ErrCommandNotAllowed) {
				auditLogger.LogToolDenied(ctx, "playbook_install", callID, err.Error(), "sandbox.Policy", twinID)
			} else {
				auditLogger.LogToolCompletion(ctx, "playbook_install", callID, false, err.Error(), time.Since(started), twinID)
			}
			_ = toolPlaybooks.Save(ctx, pb)
			return "", err
		}
		auditLogger.LogToolCompletion(ctx, "playbook_install", callID, true, result.Stdout, time.Since(started), twinID)
		if err := toolPlaybooks.Save(ctx, pb); err != nil {
			return result.Stdout, fmt.Errorf("meshnode: save playbook stats: %w", err)
		}
		return result.Stdout, nil
	})
	dispatcher := planner.NewDispatcher(builtins, planner.NewPendingStore(), toolApprovalGate{}, memoryApprovalGate{})

	validate := func(token string) (string, error) {
		return handshakeSvc.ValidateSessionToken(token)
	}

	promptMgr, err := promptmanager.New(cfg.Mesh.PromptPath)
	if err != nil {
		return nil, fmt.Errorf("meshnode: load prompt manager: %w", err)
	}

	slackNotifier := notify.NewSlackNotifier(cfg.Mesh.SlackBotToken, cfg.Mesh.SlackAlertChannel, logger)

	var tracerEndpoint string
	if cfg.Observability.Tracing.Enabled {
		tracerEndpoint = cfg.Observability.Tracing.Endpoint
	}
	serviceName := cfg.Observability.Tracing.ServiceName
	if serviceName == "" {
		serviceName = "phoenixd"
	}
	tracer, tracerShutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName:    serviceName,
		Endpoint:       tracerEndpoint,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		EnableInsecure: cfg.Observability.Tracing.Insecure,
		Attributes:     map[string]string{"node_id": cfg.Mesh.NodeID},
	})

	n := &Node{
		cfg:            cfg,
		logger:         logger,
		Bus:            bus,
		Handshake:      handshakeSvc,
		MemExchange:    memExchangeSvc,
		Consensus:      consensusSvc,
		Agents:         factory,
		Episodes:       episodes,
		Identities:     identity.NewMemoryStore(),
		Prompt:         promptMgr,
		VectorStore:    vstore,
		Embedder:       embedder,
		Retrieval:      retrievalSvc,
		Ingest:         ingestWatcher,
		Playbook:       playbookDistiller,
		Planner:        dispatcher,
		Notify:         slackNotifier,
		Tracer:         tracer,
		tracerShutdown: tracerShutdown,
		Handshake2RPC:  meshrpc.HandshakeAdapter{Service: handshakeSvc},
		MemExchangeRPC: meshrpc.MemoryExchangeAdapter{Service: memExchangeSvc},
		MemStoreRPC:    meshrpc.MemoryStoreAdapter{Service: memExchangeSvc, Validate: validate},
		ToolRPC:        meshrpc.ToolAdapter{Executor: sandboxExec, Validate: validate},
		AdminRPC:       meshrpc.AdminAdapter{Consensus: consensusSvc, Handshake: handshakeSvc, Validate: validate},
	}
	return n, nil
}

func toSandboxRule(rule config.SandboxRuleConfig) sandbox.Rule {
	return sandbox.Rule{Allow: rule.Allow, Deny: rule.Deny, SafeMode: rule.SafeMode}
}

func toSandboxRules(byTwin map[string]config.SandboxRuleConfig) map[string]sandbox.Rule {
	if len(byTwin) == 0 {
		return nil
	}
	rules := make(map[string]sandbox.Rule, len(byTwin))
	for twinID, rule := range byTwin {
		rules[twinID] = toSandboxRule(rule)
	}
	return rules
}

// Start begins the memory-exchange maintenance loop, the agent-factory
// watchdog, and the gRPC/HTTP listeners. It blocks until the gRPC server
// stops; cancelling ctx does not stop the listeners, Stop does.
func (n *Node) Start(ctx context.Context) error {
	if err := n.MemExchange.Start(); err != nil {
		return fmt.Errorf("meshnode: start memory exchange: %w", err)
	}
	n.Agents.StartWatchdog(ctx)

	if n.Ingest != nil {
		if err := n.Ingest.Start(ctx); err != nil {
			return fmt.Errorf("meshnode: start autoingest watcher: %w", err)
		}
	}
	if n.Playbook != nil {
		n.playbookCron = cron.New()
		spec := fmt.Sprintf("@every %s", n.cfg.Ingest.PlaybookInterval)
		if _, err := n.playbookCron.AddFunc(spec, n.runPlaybookDistillation); err != nil {
			return fmt.Errorf("meshnode: schedule playbook distillation: %w", err)
		}
		n.playbookCron.Start()
	}

	if n.Notify != nil {
		go n.Notify.Run(ctx, n.Bus)
	}

	if err := n.startHTTPServer(); err != nil {
		return fmt.Errorf("meshnode: start http server: %w", err)
	}
	return n.startGRPCServer()
}

// runPlaybookDistillation is the weekly cron target; failures are
// logged rather than propagated since nothing is waiting on this call.
func (n *Node) runPlaybookDistillation() {
	written, err := n.Playbook.Run(context.Background())
	if err != nil {
		n.logger.Warn("playbook distillation failed", "error", err)
		return
	}
	n.logger.Info("playbook distillation complete", "written", len(written))
}

func (n *Node) startGRPCServer() error {
	addr := fmt.Sprintf("%s:%d", n.cfg.Server.Host, n.cfg.Server.GRPCPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("meshnode: listen %s: %w", addr, err)
	}

	n.grpcServer = grpc.NewServer()
	healthSrv := health.NewServer()
	grpc_health_v1.RegisterHealthServer(n.grpcServer, healthSrv)
	healthSrv.SetServingStatus("phoenixd", grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(n.grpcServer)

	n.logger.Info("starting mesh gRPC server", "addr", addr)
	return n.grpcServer.Serve(lis)
}

func (n *Node) startHTTPServer() error {
	if n.cfg.Server.HTTPPort == 0 {
		return nil
	}
	addr := fmt.Sprintf("%s:%d", n.cfg.Server.Host, n.cfg.Server.HTTPPort)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", n.handleHealthz)
	n.registerAdminRoutes(mux)

	n.httpServer = &http.Server{Addr: addr, Handler: mux}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("meshnode: listen %s: %w", addr, err)
	}

	go func() {
		if err := n.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			n.logger.Error("http server error", "error", err)
		}
	}()
	return nil
}

func (n *Node) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","node_id":%q,"agents":%d}`, n.cfg.Mesh.NodeID, len(n.Agents.ListAgents()))
}

// Stop gracefully shuts down both listeners and the background loops.
func (n *Node) Stop(ctx context.Context) error {
	n.Agents.StopWatchdog()
	n.MemExchange.Stop()
	if n.Ingest != nil {
		n.Ingest.Stop()
	}
	if n.playbookCron != nil {
		n.playbookCron.Stop()
	}

	if n.grpcServer != nil {
		n.grpcServer.GracefulStop()
	}
	if n.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := n.httpServer.Shutdown(shutdownCtx); err != nil {
			n.logger.Warn("http server shutdown error", "error", err)
		}
	}
	n.Agents.Wait()
	if n.Handshake != nil && n.Handshake.Audit != nil {
		if err := n.Handshake.Audit.Close(); err != nil {
			n.logger.Warn("audit logger shutdown error", "error", err)
		}
	}
	if n.tracerShutdown != nil {
		return n.tracerShutdown(ctx)
	}
	return nil
}
