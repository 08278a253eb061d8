package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func buildAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage this node's worker agents",
	}
	cmd.AddCommand(buildAgentSpawnCmd(), buildAgentListCmd(), buildAgentKillCmd())
	return cmd
}

func buildAgentSpawnCmd() *cobra.Command {
	var configPath, server, mission string
	cmd := &cobra.Command{
		Use:   "spawn",
		Short: "Spawn a new worker agent with the given mission",
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, err := resolveAPIBaseURL(resolveConfigPath(configPath), server)
			if err != nil {
				return err
			}
			client := newAPIClient(baseURL)

			var out struct {
				ID      string `json:"id"`
				Mission string `json:"mission"`
			}
			if err := client.postJSON(cmd.Context(), "/api/v1/agents", map[string]string{"mission": mission}, &out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "spawned agent %s (mission: %s)\n", out.ID, out.Mission)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&server, "server", "", "Admin API base URL (default: derived from --config)")
	cmd.Flags().StringVar(&mission, "mission", "", "The agent's mission statement")
	_ = cmd.MarkFlagRequired("mission")
	return cmd
}

func buildAgentListCmd() *cobra.Command {
	var configPath, server string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List this node's running agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, err := resolveAPIBaseURL(resolveConfigPath(configPath), server)
			if err != nil {
				return err
			}
			client := newAPIClient(baseURL)

			var agents []struct {
				ID       string `json:"id"`
				Mission  string `json:"mission"`
				Active   bool   `json:"active"`
				LastTask string `json:"last_task,omitempty"`
			}
			if err := client.getJSON(cmd.Context(), "/api/v1/agents", &agents); err != nil {
				return err
			}
			for _, a := range agents {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tactive=%t\tmission=%q\n", a.ID, a.Active, a.Mission)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&server, "server", "", "Admin API base URL (default: derived from --config)")
	return cmd
}

func buildAgentKillCmd() *cobra.Command {
	var configPath, server string
	cmd := &cobra.Command{
		Use:   "kill <agent-id>",
		Short: "Stop a running agent and free its quota slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, err := resolveAPIBaseURL(resolveConfigPath(configPath), server)
			if err != nil {
				return err
			}
			client := newAPIClient(baseURL)
			if err := client.delete(cmd.Context(), "/api/v1/agents/"+args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "killed agent %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&server, "server", "", "Admin API base URL (default: derived from --config)")
	return cmd
}
