package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/poolhand/poolhand/pkg/analysis"
	"github.com/poolhand/poolhand/pkg/cloud"
)

func newAnalyzeCommand() *cobra.Command {
	var (
		serverAddress   string
		top             int
		recommendations bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <database>",
		Short: "Analyze query performance",
		Long: `Read query statistics and report the most expensive queries by
average elapsed time. With --recommendations, also report missing
index candidates ranked by estimated improvement.`,
		Example: `  # Top 10 most expensive queries
  poolhand analyze orders --server-address orders-srv.database.example.com

  # Include missing index recommendations
  poolhand analyze orders --server-address orders-srv.database.example.com --recommendations`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, cleanup, err := newApp(ctx, "analyze")
			if err != nil {
				return err
			}
			defer cleanup()

			target := cloud.Target{ServerAddress: serverAddress, Database: args[0]}
			analyzer := analysis.NewAnalyzer(app.store, app.rc)

			queries, err := analyzer.TopExpensiveQueries(ctx, target, top)
			if err != nil {
				return err
			}

			var recs []analysis.IndexRecommendation
			if recommendations {
				recs, err = analyzer.MissingIndexRecommendations(ctx, target)
				if err != nil {
					return err
				}
			}

			if done, perr := printStructured(map[string]interface{}{
				"queries":         queries,
				"recommendations": recs,
			}); done {
				return perr
			}

			printQueries(queries)
			if recommendations {
				printRecommendations(recs)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&serverAddress, "server-address", "", "query-channel address of the server")
	cmd.Flags().IntVar(&top, "top", analysis.DefaultTopQueries, "number of queries to report")
	cmd.Flags().BoolVar(&recommendations, "recommendations", false, "include missing index recommendations")
	_ = cmd.MarkFlagRequired("server-address")

	return cmd
}

func printQueries(queries []analysis.QueryStat) {
	if len(queries) == 0 {
		fmt.Println("no query statistics available")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AVG ELAPSED (ms)\tEXECUTIONS\tQUERY")
	for _, q := range queries {
		fmt.Fprintf(w, "%.2f\t%d\t%s\n", q.AvgElapsedMs, q.ExecutionCount, truncate(q.Text, 80))
	}
	_ = w.Flush()
}

func printRecommendations(recs []analysis.IndexRecommendation) {
	if len(recs) == 0 {
		fmt.Println("\nno missing index recommendations")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nIMPROVEMENT\tTABLE\tEQUALITY COLUMNS\tINCLUDED")
	for _, r := range recs {
		fmt.Fprintf(w, "%.0f\t%s\t%s\t%s\n", r.Improvement, r.Table, r.EqualityColumns, r.IncludedColumns)
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
