package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/juju/clock"
	"github.com/spf13/cobra"

	"github.com/poolhand/poolhand/pkg/core"
	"github.com/poolhand/poolhand/pkg/migration"
	"github.com/poolhand/poolhand/pkg/policy"
	"github.com/poolhand/poolhand/pkg/stores"
)

func newMigrateCommand() *cobra.Command {
	var (
		poolName     string
		edition      string
		objective    string
		timeout      time.Duration
		pollInterval time.Duration
		validateOnly bool
	)

	cmd := &cobra.Command{
		Use:   "migrate <database-id>",
		Short: "Move a database to a new placement",
		Long: `Move a database into an elastic pool or out to standalone capacity,
then poll its status until it settles or the timeout expires.

The final placement read is ground truth: a database that comes back
online outside the requested placement fails the migration even though
the provider accepted the move. A migration that is still unsettled at
the timeout is reported as timed out, not failed.`,
		Example: `  # Move a database into a pool
  poolhand migrate orders-rg/orders-srv/orders --pool standard-pool

  # Move a database out to standalone capacity
  poolhand migrate orders-rg/orders-srv/audit --edition Standard --objective S1

  # Dry run: validate without mutating
  poolhand migrate orders-rg/orders-srv/orders --pool standard-pool --validate-only`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, cleanup, err := newApp(ctx, "migrate")
			if err != nil {
				return err
			}
			defer cleanup()

			req := core.MigrationRequest{
				DatabaseID: args[0],
				Target: core.TargetPlacement{
					PoolName:         poolName,
					Edition:          edition,
					ServiceObjective: objective,
				},
				Timeout:      timeout,
				PollInterval: pollInterval,
				ValidateOnly: validateOnly,
			}

			gate, err := app.engine.Gate(ctx, policy.Input{
				Migration: req,
				Context:   app.policyInput("migrate"),
			})
			if gate != nil {
				app.printPolicyWarnings(gate)
			}
			if err != nil {
				return err
			}

			app.beginRun(ctx, "migrate")

			machine := migration.NewMachine(app.store, nil, clock.WallClock, app.rc)
			outcome, err := machine.Migrate(ctx, req)
			finishRun(ctx, app, err)
			if outcome != nil {
				recordMigration(ctx, app, req, outcome)
				printOutcome(outcome)
			}
			if err != nil {
				return err
			}
			if outcome.Status == core.MigrationTimedOut {
				return fmt.Errorf("migration of %s timed out after %s", req.DatabaseID, outcome.Elapsed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&poolName, "pool", "", "target elastic pool name")
	cmd.Flags().StringVar(&edition, "edition", "", "standalone edition (mutually exclusive with --pool)")
	cmd.Flags().StringVar(&objective, "objective", "", "standalone service objective")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "polling window (default 30m)")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 0, "status poll interval (default 30s)")
	cmd.Flags().BoolVar(&validateOnly, "validate-only", false, "validate the request without mutating")

	return cmd
}

func recordMigration(ctx context.Context, app *app, req core.MigrationRequest, outcome *core.MigrationOutcome) {
	if app.history == nil {
		return
	}
	runID := app.rc.ID
	err := app.history.RecordMigration(ctx, &stores.MigrationRecord{
		RunID:      &runID,
		DatabaseID: req.DatabaseID,
		TargetPool: req.Target.PoolName,
		Status:     outcome.Status,
		Elapsed:    outcome.Elapsed,
		Reason:     outcome.Reason,
	})
	if err != nil {
		app.rc.Logger.WithError(err).Warn("could not record migration outcome in history")
	}
}

func printOutcome(outcome *core.MigrationOutcome) {
	if done, err := printStructured(outcome); done {
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		return
	}

	fmt.Printf("status:  %s\n", outcome.Status)
	fmt.Printf("elapsed: %s\n", outcome.Elapsed)
	if outcome.FinalPlacement != nil {
		p := outcome.FinalPlacement
		if p.PoolName != "" {
			fmt.Printf("placement: pool %s on %s (%s)\n", p.PoolName, p.ServerID, p.Status)
		} else {
			fmt.Printf("placement: standalone %s/%s on %s (%s)\n", p.Edition, p.ServiceObjective, p.ServerID, p.Status)
		}
	}
	if outcome.Reason != "" {
		fmt.Printf("reason:  %s\n", outcome.Reason)
	}
	for _, w := range outcome.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
}
