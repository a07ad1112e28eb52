package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/poolhand/poolhand/pkg/stores"
)

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect run history",
		Long:  `List, show, and delete recorded runs and their migration audit trail.`,
	}

	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsShowCommand())
	cmd.AddCommand(newRunsDeleteCommand())
	cmd.AddCommand(newRunsMigrationsCommand())
	return cmd
}

// openHistory opens the history store for read commands.
func openHistory(cmd *cobra.Command) (*stores.SQLiteStore, func(), error) {
	if historyPath == "" {
		return nil, nil, fmt.Errorf("run history is disabled (--history is empty)")
	}
	history, err := stores.NewSQLiteStore(stores.Config{Path: historyPath})
	if err != nil {
		return nil, nil, err
	}
	ctx := cmd.Context()
	if err := history.Init(ctx); err != nil {
		return nil, nil, err
	}
	if err := history.Migrate(ctx); err != nil {
		_ = history.Close()
		return nil, nil, err
	}
	return history, func() { _ = history.Close() }, nil
}

func newRunsListCommand() *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			history, cleanup, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			runs, err := history.ListRuns(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			if done, perr := printStructured(runs); done {
				return perr
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tOPERATION\tENV\tSTATUS\tSTARTED")
			for _, run := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					run.ID, run.Operation, run.Environment, run.Status,
					run.StartedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "runs to skip")
	return cmd
}

func newRunsShowCommand() *cobra.Command {
	var showReport bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run and its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			history, cleanup, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			run, err := history.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			steps, err := history.ListSteps(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if done, perr := printStructured(map[string]interface{}{
				"run":   run,
				"steps": steps,
			}); done {
				return perr
			}

			fmt.Printf("Run %s\n", run.ID)
			fmt.Printf("Operation:   %s\n", run.Operation)
			fmt.Printf("Environment: %s\n", run.Environment)
			fmt.Printf("Status:      %s\n", run.Status)
			fmt.Printf("Started:     %s\n", run.StartedAt.Format(time.RFC3339))
			if run.CompletedAt != nil {
				fmt.Printf("Completed:   %s\n", run.CompletedAt.Format(time.RFC3339))
			}
			if run.Error != nil {
				fmt.Printf("Error:       %s\n", *run.Error)
			}

			if len(steps) > 0 {
				fmt.Println("\nSteps:")
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				for _, step := range steps {
					fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
						step.Name, step.Status, step.Severity,
						step.Duration.Round(time.Millisecond), step.Detail)
				}
				_ = w.Flush()
			}

			if showReport && run.Report != nil {
				fmt.Printf("\n%s\n", *run.Report)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showReport, "report", false, "print the stored JSON report")
	return cmd
}

func newRunsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run and its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			history, cleanup, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := history.DeleteRun(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("run %s deleted\n", args[0])
			return nil
		},
	}
}

func newRunsMigrationsCommand() *cobra.Command {
	var (
		database string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "migrations",
		Short: "List recorded migration outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			history, cleanup, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			var filter *string
			if database != "" {
				filter = &database
			}
			records, err := history.ListMigrations(cmd.Context(), filter, limit, 0)
			if err != nil {
				return err
			}
			if done, perr := printStructured(records); done {
				return perr
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DATABASE\tTARGET POOL\tSTATUS\tELAPSED\tRECORDED")
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					rec.DatabaseID, rec.TargetPool, rec.Status,
					rec.Elapsed.Round(time.Second),
					rec.RecordedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&database, "database", "", "filter by database identifier")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum records to list")
	return cmd
}
