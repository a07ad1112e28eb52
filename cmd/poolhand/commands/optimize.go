package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/poolhand/poolhand/pkg/cloud"
	"github.com/poolhand/poolhand/pkg/core"
	"github.com/poolhand/poolhand/pkg/maintenance"
)

func newOptimizeCommand() *cobra.Command {
	var (
		serverAddress string
		minPages      int64
		dryRun        bool
	)

	cmd := &cobra.Command{
		Use:   "optimize <database>",
		Short: "Analyze and defragment database indexes",
		Long: `Read index fragmentation statistics and act on fixed thresholds:
indexes above 30 percent are rebuilt, above 10 percent reorganized,
and anything at or below 10 percent is left alone. Indexes smaller
than the page floor are ignored as statistical noise.

A statement failure on one index never stops the rest of the pass.`,
		Example: `  # Show the maintenance plan without executing it
  poolhand optimize orders --server-address orders-srv.database.example.com --dry-run

  # Run the full pass
  poolhand optimize orders --server-address orders-srv.database.example.com`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, cleanup, err := newApp(ctx, "optimize")
			if err != nil {
				return err
			}
			defer cleanup()

			target := cloud.Target{ServerAddress: serverAddress, Database: args[0]}
			engine := maintenance.NewEngine(app.store, app.rc)

			actions, err := engine.Analyze(ctx, target, minPages)
			if err != nil {
				return err
			}
			printPlan(actions)
			if dryRun {
				return nil
			}

			mutating := 0
			for _, a := range actions {
				if a.Action.IsMutating() {
					mutating++
				}
			}
			if mutating == 0 {
				fmt.Println("nothing to do")
				return nil
			}

			result, err := engine.Apply(ctx, target, actions)
			if err != nil {
				return err
			}
			fmt.Printf("\n%d optimized, %d skipped\n", result.OptimizedCount, result.SkippedCount)
			for _, failure := range result.Failures {
				fmt.Fprintf(os.Stderr, "warning: %s %s failed: %v\n",
					failure.Action, failure.Object, failure.Err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&serverAddress, "server-address", "", "query-channel address of the server")
	cmd.Flags().Int64Var(&minPages, "min-pages", maintenance.DefaultMinPageCount, "ignore indexes smaller than this page count")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the plan without executing it")
	_ = cmd.MarkFlagRequired("server-address")

	return cmd
}

func printPlan(actions []core.MaintenanceAction) {
	if done, err := printStructured(actions); done {
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OBJECT\tFRAGMENTATION\tPAGES\tACTION")
	for _, a := range actions {
		fmt.Fprintf(w, "%s\t%.1f%%\t%d\t%s\n",
			a.Record.Object(), a.Record.FragmentationPercent, a.Record.PageCount, a.Action)
	}
	_ = w.Flush()
}
