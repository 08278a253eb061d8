package main

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func buildConsensusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consensus",
		Short: "Request, cast, and override commit-promotion votes",
	}
	cmd.AddCommand(buildConsensusStatusCmd(), buildConsensusRequestCmd(), buildConsensusVoteCmd(), buildConsensusOverrideCmd())
	return cmd
}

func buildConsensusStatusCmd() *cobra.Command {
	var configPath, server, token, commit string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show an in-flight or resolved consensus session's tally",
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, err := resolveAPIBaseURL(resolveConfigPath(configPath), server)
			if err != nil {
				return err
			}
			client := newAPIClient(baseURL)

			path := fmt.Sprintf("/api/v1/consensus/status?session_token=%s&commit_hash=%s",
				url.QueryEscape(token), url.QueryEscape(commit))
			var result struct {
				CommitHash        string  `json:"CommitHash"`
				Approved          bool    `json:"Approved"`
				AverageScore      float64 `json:"AverageScore"`
				ApprovalPct       float64 `json:"ApprovalPct"`
				VoteCount         int     `json:"VoteCount"`
				StrategicOverride bool    `json:"StrategicOverride"`
				QuarantineReason  string  `json:"QuarantineReason"`
			}
			if err := client.getJSON(cmd.Context(), path, &result); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: votes=%d avg_score=%.1f approval=%.1f%% approved=%t",
				result.CommitHash, result.VoteCount, result.AverageScore, result.ApprovalPct, result.Approved)
			if result.QuarantineReason != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " quarantined=%q", result.QuarantineReason)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&server, "server", "", "Admin API base URL (default: derived from --config)")
	cmd.Flags().StringVar(&token, "token", "", "Session token from the mesh handshake")
	cmd.Flags().StringVar(&commit, "commit", "", "Commit hash to query")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("commit")
	return cmd
}

func buildConsensusRequestCmd() *cobra.Command {
	var configPath, server, token, commit string
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Open a consensus vote for a commit hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, err := resolveAPIBaseURL(resolveConfigPath(configPath), server)
			if err != nil {
				return err
			}
			client := newAPIClient(baseURL)
			payload := map[string]string{"session_token": token, "commit_hash": commit}
			if err := client.postJSON(cmd.Context(), "/api/v1/consensus/request", payload, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "consensus requested for %s\n", commit)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&server, "server", "", "Admin API base URL (default: derived from --config)")
	cmd.Flags().StringVar(&token, "token", "", "Session token from the mesh handshake")
	cmd.Flags().StringVar(&commit, "commit", "", "Commit hash to request consensus on")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("commit")
	return cmd
}

func buildConsensusVoteCmd() *cobra.Command {
	var configPath, server, token, commit string
	var score float64
	var approve bool
	cmd := &cobra.Command{
		Use:   "vote",
		Short: "Cast this node's vote on an open consensus session",
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, err := resolveAPIBaseURL(resolveConfigPath(configPath), server)
			if err != nil {
				return err
			}
			client := newAPIClient(baseURL)
			payload := map[string]any{
				"session_token": token,
				"commit_hash":   commit,
				"score":         score,
				"approve":       approve,
			}
			if err := client.postJSON(cmd.Context(), "/api/v1/consensus/vote", payload, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "vote recorded for %s (score=%.1f approve=%t)\n", commit, score, approve)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&server, "server", "", "Admin API base URL (default: derived from --config)")
	cmd.Flags().StringVar(&token, "token", "", "Session token from the mesh handshake")
	cmd.Flags().StringVar(&commit, "commit", "", "Commit hash being voted on")
	cmd.Flags().Float64Var(&score, "score", 0, "Compliance score, 0-100")
	cmd.Flags().BoolVar(&approve, "approve", false, "Cast an approving vote")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("commit")
	return cmd
}

func buildConsensusOverrideCmd() *cobra.Command {
	var configPath, server, token, commit, rationale string
	var yes bool
	cmd := &cobra.Command{
		Use:   "override",
		Short: "Force-promote a commit past a failed or stalled vote",
		Long: `Override bypasses the quorum and approval-percentage requirements
that ordinarily gate a commit promotion. It exists for the rare case
where a vote has stalled on unreachable peers or an otherwise sound
commit failed quorum by a hair, and a human operator takes explicit
responsibility for promoting it anyway. Every override is recorded in
the consensus audit trail with the rationale given here.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !confirmOverride(cmd, commit) {
				fmt.Fprintln(cmd.OutOrStdout(), "override cancelled")
				return nil
			}

			baseURL, err := resolveAPIBaseURL(resolveConfigPath(configPath), server)
			if err != nil {
				return err
			}
			client := newAPIClient(baseURL)
			payload := map[string]string{
				"session_token": token,
				"commit_hash":   commit,
				"rationale":     rationale,
			}
			var result struct {
				CommitHash        string  `json:"CommitHash"`
				Approved          bool    `json:"Approved"`
				AverageScore      float64 `json:"AverageScore"`
				ApprovalPct       float64 `json:"ApprovalPct"`
				VoteCount         int     `json:"VoteCount"`
				StrategicOverride bool    `json:"StrategicOverride"`
			}
			if err := client.postJSON(cmd.Context(), "/api/v1/consensus/override", payload, &result); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "overrode consensus for %s (votes=%d avg_score=%.1f approval=%.1f%%)\n",
				result.CommitHash, result.VoteCount, result.AverageScore, result.ApprovalPct)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&server, "server", "", "Admin API base URL (default: derived from --config)")
	cmd.Flags().StringVar(&token, "token", "", "Session token from the mesh handshake")
	cmd.Flags().StringVar(&commit, "commit", "", "Commit hash to force-promote")
	cmd.Flags().StringVar(&rationale, "rationale", "", "Why this override is justified, recorded in the audit trail")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the interactive confirmation prompt")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("commit")
	_ = cmd.MarkFlagRequired("rationale")
	return cmd
}

// confirmOverride asks the operator to type the commit hash back before
// proceeding, when stdin is a real terminal. Non-interactive runs
// (piped stdin, CI) must pass --yes explicitly instead.
func confirmOverride(cmd *cobra.Command, commit string) bool {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		fmt.Fprintln(cmd.OutOrStdout(), "stdin is not a terminal; pass --yes to confirm a non-interactive override")
		return false
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Type the commit hash %q to confirm override: ", commit)
	reader := bufio.NewReader(os.Stdin)
	text, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(text) == commit
}
