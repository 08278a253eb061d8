package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// buildRootCmd creates the root command with all subcommands attached.
// Kept separate from main() so tests can exercise command wiring
// without calling os.Exit.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "phoenixd",
		Short: "Phoenix Mesh node agent",
		Long: `phoenixd runs one node of a Phoenix Mesh: a peer-verified swarm of
agent factories that exchange redacted memory, vote on each other's
proposed changes, and propagate quarantine when a peer misbehaves.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildAgentCmd(),
		buildConsensusCmd(),
		buildPromptCmd(),
		buildPlanCmd(),
		buildMemoryCmd(),
		buildKnowledgeCmd(),
	)
	return rootCmd
}
