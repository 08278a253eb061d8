package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the top-level configuration for a Phoenix Mesh node. It
// covers only the node's own ambient concerns (server, mesh identity,
// consensus, retrieval, LLM, observability, sandbox) — channel
// integrations, plugin marketplaces, and other teacher-only surfaces
// have no home here because this node doesn't carry them.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Mesh          MeshConfig          `yaml:"mesh"`
	Consensus     ConsensusConfig     `yaml:"consensus"`
	Retrieval     RetrievalConfig     `yaml:"retrieval"`
	LLM           LLMConfig           `yaml:"llm"`
	Observability ObservabilityConfig `yaml:"observability"`
	Sandbox       SandboxConfig       `yaml:"sandbox"`
	Ingest        IngestConfig        `yaml:"ingest"`
}

// IngestConfig configures the auto-ingest file watcher and the weekly
// playbook distillation pass.
type IngestConfig struct {
	WatchDir           string        `yaml:"watch_dir"`
	Collection         string        `yaml:"collection"`
	EpisodicCollection string        `yaml:"episodic_collection"`
	Debounce           time.Duration `yaml:"debounce"`
	PlaybookOutputDir  string        `yaml:"playbook_output_dir"`
	PlaybookInterval   time.Duration `yaml:"playbook_interval"`

	// ToolPlaybookCollection names the vector collection holding
	// tool-install playbooks (distinct from EpisodicCollection).
	ToolPlaybookCollection string `yaml:"tool_playbook_collection"`
}

// ServerConfig configures the node's own listening surface.
type ServerConfig struct {
	Host        string `yaml:"host"`
	GRPCPort    int    `yaml:"grpc_port"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// MeshConfig configures this node's identity and peer handshake.
type MeshConfig struct {
	NodeID           string        `yaml:"node_id"`
	IdentitySeedPath string        `yaml:"identity_seed_path"`
	PromptPath       string        `yaml:"prompt_path"`
	LeadershipPath   string        `yaml:"leadership_path"`
	ManifestPath     string        `yaml:"manifest_path"`
	ManifestEnforced bool          `yaml:"manifest_enforced"`
	JWTSecret        string        `yaml:"jwt_secret"`
	SessionTTL       time.Duration `yaml:"session_ttl"`
	Peers            []string      `yaml:"peers"`
	PeerRegistryPath string        `yaml:"peer_registry_path"`
	SlackBotToken    string        `yaml:"slack_bot_token"`
	SlackAlertChannel string       `yaml:"slack_alert_channel"`
}

// ConsensusConfig configures quorum-based commit approval.
type ConsensusConfig struct {
	RepoPath           string        `yaml:"repo_path"`
	MinAverageScore    float64       `yaml:"min_average_score"`
	MinApprovalPercent float64       `yaml:"min_approval_percent"`
	VoteTimeout        time.Duration `yaml:"vote_timeout"`
	PostgresDSN        string        `yaml:"postgres_dsn"`
}

// RetrievalConfig configures the vector store and hybrid/rerank
// pipeline.
type RetrievalConfig struct {
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Collections []string          `yaml:"collections"`
	RRFBias     float64           `yaml:"rrf_bias"`
	TopK        int               `yaml:"top_k"`
}

// VectorStoreConfig configures the Qdrant-backed vector store. Leaving
// Host empty falls back to an in-memory store (used by tests and
// single-process demos).
type VectorStoreConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	UseTLS bool   `yaml:"use_tls"`
	APIKey string `yaml:"api_key"`
}

// LLMConfig configures the Anthropic-backed model calls used by the
// classifier, cross-encoder, planner, and worker agents.
type LLMConfig struct {
	APIKey            string  `yaml:"api_key"`
	DefaultModel      string  `yaml:"default_model"`
	CrossEncoderModel string  `yaml:"cross_encoder_model"`
	ClassifierModel   string  `yaml:"classifier_model"`
	WorkerTemperature float64 `yaml:"worker_temperature"`

	// Provider selects the worker LLM implementation: "anthropic" (default)
	// or "openai" (also used for OpenAI-compatible gateways via BaseURL).
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
}

// ObservabilityConfig configures logging, tracing, and audit events.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Audit   AuditConfig   `yaml:"audit"`
}

// AuditConfig controls the compliance-event log (peer verification,
// quarantine propagation). Mirrors the subset of audit.Config a node
// operator is expected to tune.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Output  string `yaml:"output"`
	Format  string `yaml:"format"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls OpenTelemetry tracing, mirroring the
// teacher's tracing config shape.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`
	ServiceName  string  `yaml:"service_name"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// SandboxConfig configures the node's tool-execution sandbox: WorkDir is
// the root under which each twin gets its own per-execution directory,
// Default is the rule applied to any twin with no entry in ByTwin.
type SandboxConfig struct {
	WorkDir    string                       `yaml:"work_dir"`
	Default    SandboxRuleConfig            `yaml:"default"`
	ByTwin     map[string]SandboxRuleConfig `yaml:"by_twin"`
	Bubblewrap bool                         `yaml:"bubblewrap"`
	Timeout    time.Duration                `yaml:"timeout"`
}

// SandboxRuleConfig is one twin's allow/deny/safe-mode table, mirroring
// internal/sandbox.Rule so config decodes straight into policy shape.
type SandboxRuleConfig struct {
	Allow    []string `yaml:"allow"`
	Deny     []string `yaml:"deny"`
	SafeMode bool     `yaml:"safe_mode"`
}

// Load resolves $include directives (so a fleet of nodes can share a
// base config file), strictly decodes the merged result, applies env
// overrides and defaults, and validates. See loader.go for the
// include-resolution pass.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 50051
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}

	if cfg.Mesh.SessionTTL == 0 {
		cfg.Mesh.SessionTTL = 15 * time.Minute
	}

	if cfg.Consensus.MinAverageScore == 0 {
		cfg.Consensus.MinAverageScore = 70
	}
	if cfg.Consensus.MinApprovalPercent == 0 {
		cfg.Consensus.MinApprovalPercent = 50
	}
	if cfg.Consensus.VoteTimeout == 0 {
		cfg.Consensus.VoteTimeout = 30 * time.Second
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 10
	}

	if cfg.LLM.DefaultModel == "" {
		cfg.LLM.DefaultModel = "claude-3-5-sonnet-20241022"
	}
	if cfg.LLM.CrossEncoderModel == "" {
		cfg.LLM.CrossEncoderModel = "claude-3-5-haiku-20241022"
	}
	if cfg.LLM.ClassifierModel == "" {
		cfg.LLM.ClassifierModel = "claude-3-5-haiku-20241022"
	}
	if cfg.LLM.WorkerTemperature == 0 {
		cfg.LLM.WorkerTemperature = 0.2
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}

	if cfg.Observability.Logging.Level == "" {
		cfg.Observability.Logging.Level = "info"
	}
	if cfg.Observability.Logging.Format == "" {
		cfg.Observability.Logging.Format = "json"
	}
	if cfg.Observability.Audit.Output == "" {
		cfg.Observability.Audit.Output = "stdout"
	}
	if cfg.Observability.Audit.Format == "" {
		cfg.Observability.Audit.Format = "json"
	}

	if cfg.Sandbox.Timeout == 0 {
		cfg.Sandbox.Timeout = 10 * time.Second
	}

	if cfg.Ingest.Collection == "" {
		cfg.Ingest.Collection = "ingested_documents"
	}
	if cfg.Ingest.EpisodicCollection == "" {
		cfg.Ingest.EpisodicCollection = "episodic_memory"
	}
	if cfg.Ingest.Debounce == 0 {
		cfg.Ingest.Debounce = 250 * time.Millisecond
	}
	if cfg.Ingest.PlaybookOutputDir == "" {
		cfg.Ingest.PlaybookOutputDir = "playbooks"
	}
	if cfg.Ingest.ToolPlaybookCollection == "" {
		cfg.Ingest.ToolPlaybookCollection = "tool_playbooks"
	}
	if cfg.Ingest.PlaybookInterval == 0 {
		cfg.Ingest.PlaybookInterval = 7 * 24 * time.Hour
	}
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if value := strings.TrimSpace(os.Getenv("PHOENIX_HOST")); value != "" {
		cfg.Server.Host = value
	}
	if value := strings.TrimSpace(os.Getenv("PHOENIX_GRPC_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.GRPCPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("PHOENIX_HTTP_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.HTTPPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("PHOENIX_NODE_ID")); value != "" {
		cfg.Mesh.NodeID = value
	}
	if value := strings.TrimSpace(os.Getenv("PHOENIX_JWT_SECRET")); value != "" {
		cfg.Mesh.JWTSecret = value
	}
	if value := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); value != "" {
		cfg.LLM.APIKey = value
	}
}

// ValidationError reports every config problem found in one pass,
// mirroring the teacher's accumulate-then-report validation style
// rather than failing on the first issue.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	var issues []string

	if cfg.Mesh.NodeID == "" {
		issues = append(issues, "mesh.node_id is required")
	}
	if cfg.Consensus.MinAverageScore < 0 || cfg.Consensus.MinAverageScore > 100 {
		issues = append(issues, "consensus.min_average_score must be between 0 and 100")
	}
	if cfg.Consensus.MinApprovalPercent < 0 || cfg.Consensus.MinApprovalPercent > 100 {
		issues = append(issues, "consensus.min_approval_percent must be between 0 and 100")
	}
	if cfg.Retrieval.RRFBias < -1 || cfg.Retrieval.RRFBias > 1 {
		issues = append(issues, "retrieval.rrf_bias must be between -1 and 1")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
