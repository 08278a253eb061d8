package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

func buildMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Query the hybrid retrieval core",
	}
	cmd.AddCommand(buildMemoryQueryCmd())
	return cmd
}

func buildMemoryQueryCmd() *cobra.Command {
	var configPath, server, query string
	var topK int
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a hybrid (dense+sparse, RRF-fused, optionally reranked) search",
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, err := resolveAPIBaseURL(resolveConfigPath(configPath), server)
			if err != nil {
				return err
			}
			client := newAPIClient(baseURL)
			var result struct {
				Results []struct {
					DocID      string  `json:"doc_id"`
					Content    string  `json:"content,omitempty"`
					Score      float64 `json:"score"`
					Confidence string  `json:"confidence,omitempty"`
				} `json:"results"`
			}
			payload := map[string]any{"query": query, "top_k": topK}
			if err := client.postJSON(cmd.Context(), "/api/v1/memory/query", payload, &result); err != nil {
				return err
			}
			for _, r := range result.Results {
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s score=%.4f", r.DocID, r.Score)
				if r.Confidence != "" {
					fmt.Fprintf(cmd.OutOrStdout(), " confidence=%s", r.Confidence)
				}
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&server, "server", "", "Admin API base URL (default: derived from --config)")
	cmd.Flags().StringVar(&query, "query", "", "Search text")
	cmd.Flags().IntVar(&topK, "top-k", 10, "Maximum results to return")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

func buildKnowledgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "knowledge",
		Short: "Inspect the derived knowledge atlas and semantic paths",
	}
	cmd.AddCommand(buildKnowledgeAtlasCmd(), buildKnowledgePathCmd())
	return cmd
}

func buildKnowledgeAtlasCmd() *cobra.Command {
	var configPath, server, collection string
	var maxNodes int
	cmd := &cobra.Command{
		Use:   "atlas",
		Short: "Build the 3-D knowledge atlas for a collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, err := resolveAPIBaseURL(resolveConfigPath(configPath), server)
			if err != nil {
				return err
			}
			client := newAPIClient(baseURL)
			path := fmt.Sprintf("/api/v1/knowledge/atlas?collection=%s&max_nodes=%d", url.QueryEscape(collection), maxNodes)
			var result struct {
				Nodes []struct {
					ID      string
					Content string
					X, Y, Z float64
				}
				Edges []struct {
					From, To string
					Strength float64
				}
			}
			if err := client.getJSON(cmd.Context(), path, &result); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d nodes, %d edges\n", len(result.Nodes), len(result.Edges))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&server, "server", "", "Admin API base URL (default: derived from --config)")
	cmd.Flags().StringVar(&collection, "collection", "", "Collection to project")
	cmd.Flags().IntVar(&maxNodes, "max-nodes", 0, "Maximum points to scroll (0 = server default)")
	_ = cmd.MarkFlagRequired("collection")
	return cmd
}

func buildKnowledgePathCmd() *cobra.Command {
	var configPath, server, collection, start, end string
	cmd := &cobra.Command{
		Use:   "path",
		Short: "Find the shortest semantic path between two documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, err := resolveAPIBaseURL(resolveConfigPath(configPath), server)
			if err != nil {
				return err
			}
			client := newAPIClient(baseURL)
			payload := map[string]string{"collection": collection, "start": start, "end": end}
			var result struct {
				Path  []string `json:"path"`
				Found bool     `json:"found"`
			}
			if err := client.postJSON(cmd.Context(), "/api/v1/knowledge/path", payload, &result); err != nil {
				return err
			}
			if !result.Found {
				fmt.Fprintln(cmd.OutOrStdout(), "no path found")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&server, "server", "", "Admin API base URL (default: derived from --config)")
	cmd.Flags().StringVar(&collection, "collection", "", "Collection the atlas was built from")
	cmd.Flags().StringVar(&start, "start", "", "Starting document id")
	cmd.Flags().StringVar(&end, "end", "", "Target document id")
	_ = cmd.MarkFlagRequired("collection")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}
