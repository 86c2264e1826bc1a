package main

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	usagequery "agentkit/pkg/metrics"
	"agentkit/pkg/version"
)

//nolint:gochecknoglobals // cobra command tree
var (
	prometheusURL string
	usageAgent    string
	usageByModel  bool
)

//nolint:gochecknoglobals // cobra command tree
var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Query token usage from a Prometheus server",
	Long: `Query the llm_* metrics scraped from agents by a Prometheus server and
print token and request totals as JSON.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		q, err := usagequery.NewQueryService(prometheusURL)
		if err != nil {
			return err //nolint:wrapcheck // already descriptive
		}

		var result any
		if usageByModel {
			byModel, err := q.AgentUsageByModel(cmd.Context(), usageAgent)
			if err != nil {
				return err //nolint:wrapcheck // already descriptive
			}
			rows := make([]*usagequery.AgentUsage, 0, len(byModel))
			for _, name := range slices.Sorted(maps.Keys(byModel)) {
				rows = append(rows, byModel[name])
			}
			result = rows
		} else {
			if result, err = q.AgentUsage(cmd.Context(), usageAgent); err != nil {
				return err //nolint:wrapcheck // already descriptive
			}
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("failed to write usage: %w", err)
		}
		return nil
	},
}

//nolint:gochecknoglobals // cobra command tree
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "agentchat", version.String())
	},
}

func init() { //nolint:gochecknoinits // cobra wiring
	usageCmd.Flags().StringVar(&prometheusURL, "prometheus-url", "http://localhost:9090", "Prometheus server address")
	usageCmd.Flags().StringVar(&usageAgent, "agent", agentName, "agent_id label to query")
	usageCmd.Flags().BoolVar(&usageByModel, "by-model", false, "break totals down by model")
	rootCmd.AddCommand(usageCmd, versionCmd)
}
