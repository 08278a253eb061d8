// Command phoenixd is the Phoenix Mesh node agent: it loads a node's
// configuration, serves the mesh gRPC/HTTP surface, and offers
// operator subcommands for spawning worker agents, driving consensus
// votes, and managing the node's self-modifying system prompt.
//
// # Basic Usage
//
//	phoenixd serve --config /etc/phoenix/node.yaml
//	phoenixd agent spawn --mission "triage incoming alerts"
//	phoenixd consensus vote --token <session-token> --commit <commit-hash> --score 92 --approve
//	phoenixd prompt history
//
// # Environment Variables
//
//	PHOENIX_HOST, PHOENIX_GRPC_PORT, PHOENIX_HTTP_PORT, PHOENIX_NODE_ID,
//	PHOENIX_JWT_SECRET, ANTHROPIC_API_KEY — override the loaded config,
//	see internal/config.
package main

import (
	"fmt"
	"log/slog"
	"os"
)

// Set via -ldflags at build time; see cmd/nexus for the equivalent
// teacher pattern this mirrors.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

const defaultConfigPath = "phoenixd.yaml"

func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("PHOENIX_CONFIG"); env != "" {
		return env
	}
	return defaultConfigPath
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
