package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	environment  string
	outputFormat string
	artifactsDir string
	historyPath  string
	policyDir    string
	enforce      bool
	verbose      bool
)

// buildVersion is the version string shown by --version and stamped on
// telemetry, set from main.
var buildVersion = "dev"

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "poolhand",
		Short: "Poolhand - elastic database pool lifecycle engine",
		Long: `Poolhand orchestrates the lifecycle of elastic database pools:
idempotent provisioning of servers, pools, and databases; placement
migrations with bounded status polling; index maintenance driven by
fragmentation thresholds; query performance analysis; and a staged
deployment pipeline with a two-tier failure policy.

Every run is recorded in a local history store and produces a report
artifact. Operations are gated by Rego policies, advisory by default.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&environment, "environment", "e", "development", "deployment environment (development, staging, production)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format (text, json, yaml)")
	rootCmd.PersistentFlags().StringVar(&artifactsDir, "artifacts-dir", "artifacts", "directory for report artifacts")
	rootCmd.PersistentFlags().StringVar(&historyPath, "history", "poolhand.db", "run history database path (empty disables history)")
	rootCmd.PersistentFlags().StringVar(&policyDir, "policy-dir", "", "directory of additional .rego policies")
	rootCmd.PersistentFlags().BoolVar(&enforce, "enforce-policies", false, "deny operations on error-severity policy violations")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newProvisionCommand())
	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newOptimizeCommand())
	rootCmd.AddCommand(newAnalyzeCommand())
	rootCmd.AddCommand(newRunsCommand())
	rootCmd.AddCommand(newPolicyCommand())

	return rootCmd
}
