package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func buildPromptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Inspect and roll back this node's self-modifying system prompt",
	}
	cmd.AddCommand(buildPromptHistoryCmd(), buildPromptRestoreCmd())
	return cmd
}

func buildPromptHistoryCmd() *cobra.Command {
	var configPath, server string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the prompt's revision history",
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, err := resolveAPIBaseURL(resolveConfigPath(configPath), server)
			if err != nil {
				return err
			}
			client := newAPIClient(baseURL)

			var revisions []struct {
				ID        int64  `json:"ID"`
				Summary   string `json:"Summary"`
				UpdatedAt string `json:"UpdatedAt"`
			}
			if err := client.getJSON(cmd.Context(), "/api/v1/prompt/history", &revisions); err != nil {
				return err
			}
			for _, rev := range revisions {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n", rev.ID, rev.UpdatedAt, rev.Summary)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&server, "server", "", "Admin API base URL (default: derived from --config)")
	return cmd
}

func buildPromptRestoreCmd() *cobra.Command {
	var configPath, server string
	var historyID int64
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Replay a past prompt revision as a new revision",
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, err := resolveAPIBaseURL(resolveConfigPath(configPath), server)
			if err != nil {
				return err
			}
			client := newAPIClient(baseURL)

			var rev struct {
				ID      int64  `json:"ID"`
				Summary string `json:"Summary"`
			}
			payload := map[string]int64{"history_id": historyID}
			if err := client.postJSON(cmd.Context(), "/api/v1/prompt/restore", payload, &rev); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored revision %d as new revision %d\n", historyID, rev.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&server, "server", "", "Admin API base URL (default: derived from --config)")
	cmd.Flags().Int64Var(&historyID, "history-id", 0, "Revision id to restore")
	_ = cmd.MarkFlagRequired("history-id")
	return cmd
}
