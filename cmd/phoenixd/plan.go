package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func buildPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Dispatch and approve planner actions gated behind human review",
	}
	cmd.AddCommand(buildPlanDispatchCmd(), buildPlanApproveCmd())
	return cmd
}

type planOutcome struct {
	Tag    string `json:"tag,omitempty"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func buildPlanDispatchCmd() *cobra.Command {
	var configPath, server, twinID, sessionID, namespace, action string
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Dispatch a planner action, gating tool/memory actions behind approval",
		Long: `dispatch sends one planner action (the raw JSON an LLM would emit, e.g.
{"kind":"tool","tool":"command_exec","args":{"command":"ls"}}) to the node.
A gated tool or memory action returns an empty outcome; approve it
separately with "phoenixd plan approve".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, err := resolveAPIBaseURL(resolveConfigPath(configPath), server)
			if err != nil {
				return err
			}
			client := newAPIClient(baseURL)

			var raw json.RawMessage = []byte(action)
			payload := map[string]any{
				"twin_id":    twinID,
				"session_id": sessionID,
				"namespace":  namespace,
				"action":     raw,
			}
			var out planOutcome
			if err := client.postJSON(cmd.Context(), "/api/v1/plan/dispatch", payload, &out); err != nil {
				return err
			}
			printPlanOutcome(cmd, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&server, "server", "", "Admin API base URL (default: derived from --config)")
	cmd.Flags().StringVar(&twinID, "twin-id", "", "The digital twin this action belongs to")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "The session this action belongs to")
	cmd.Flags().StringVar(&namespace, "namespace", "", "The memory/tool namespace this action belongs to")
	cmd.Flags().StringVar(&action, "action", "", "Raw action JSON, e.g. {\"kind\":\"answer\",\"text\":\"...\"}")
	_ = cmd.MarkFlagRequired("twin-id")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func buildPlanApproveCmd() *cobra.Command {
	var configPath, server, twinID, sessionID, namespace string
	var approve bool
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Resolve a pending gated tool or memory action",
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, err := resolveAPIBaseURL(resolveConfigPath(configPath), server)
			if err != nil {
				return err
			}
			client := newAPIClient(baseURL)

			payload := map[string]any{
				"twin_id":    twinID,
				"session_id": sessionID,
				"namespace":  namespace,
				"approved":   approve,
			}
			var out planOutcome
			if err := client.postJSON(cmd.Context(), "/api/v1/plan/approve", payload, &out); err != nil {
				return err
			}
			printPlanOutcome(cmd, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&server, "server", "", "Admin API base URL (default: derived from --config)")
	cmd.Flags().StringVar(&twinID, "twin-id", "", "The digital twin whose pending action this resolves")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "The session this action belongs to")
	cmd.Flags().StringVar(&namespace, "namespace", "", "The memory/tool namespace this action belongs to")
	cmd.Flags().BoolVar(&approve, "approve", false, "Approve the pending action (default: deny)")
	_ = cmd.MarkFlagRequired("twin-id")
	return cmd
}

func printPlanOutcome(cmd *cobra.Command, out planOutcome) {
	if out.Error != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "error: %s\n", out.Error)
		return
	}
	if out.Tag == "" && out.Result == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "pending approval")
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", out.Tag, out.Result)
}
