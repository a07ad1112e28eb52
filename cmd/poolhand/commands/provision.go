package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/juju/clock"
	"github.com/spf13/cobra"

	"github.com/poolhand/poolhand/pkg/core"
	"github.com/poolhand/poolhand/pkg/migration"
	"github.com/poolhand/poolhand/pkg/policy"
	"github.com/poolhand/poolhand/pkg/provision"
)

func newProvisionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provision <config>",
		Short: "Ensure the declared infrastructure exists",
		Long: `Walk the declared topology in dependency order and create whatever
is missing: resource group, server, firewall rules, pools, databases.
Existing objects are left untouched, so re-running against converged
infrastructure performs no mutations. Databases found in the wrong pool
are migrated to their declared placement.`,
		Example: `  # Provision from a config file
  poolhand provision deploy.cue

  # Provision with policy enforcement
  poolhand provision --enforce-policies deploy.cue`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, cleanup, err := newApp(ctx, "provision")
			if err != nil {
				return err
			}
			defer cleanup()

			cfg, err := loadConfig(args[0])
			if err != nil {
				return err
			}
			spec := cfg.ToInfraSpec()

			result, err := app.engine.Gate(ctx, policy.Input{
				Infra:   spec,
				Context: app.policyInput("provision"),
			})
			if result != nil {
				app.printPolicyWarnings(result)
			}
			if err != nil {
				return err
			}

			app.beginRun(ctx, "provision")

			migrator := migration.NewMachine(app.store, nil, clock.WallClock, app.rc)
			coordinator := provision.NewCoordinator(app.store, app.store, migrator, app.rc)

			pass, err := coordinator.EnsureInfrastructure(ctx, spec)
			finishRun(ctx, app, err)
			if pass != nil {
				printProvisionResult(pass)
			}
			return err
		},
	}
	return cmd
}

func printProvisionResult(result *provision.Result) {
	if done, err := printStructured(result); done {
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tID\tACTION")
	for _, obj := range result.Objects {
		fmt.Fprintf(w, "%s\t%s\t%s\n", obj.Kind, obj.ID, obj.Action)
	}
	_ = w.Flush()

	fmt.Printf("\n%d objects ensured, %d created\n", len(result.Objects), result.Created())
	for _, warning := range result.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", warning)
	}
}

// finishRun closes out the history record with a status derived from err.
func finishRun(ctx context.Context, app *app, err error) {
	if app.history == nil {
		return
	}
	status := core.RunSuccess
	var msg *string
	if err != nil {
		status = core.RunAborted
		s := err.Error()
		msg = &s
	}
	if herr := app.history.CompleteRun(ctx, app.rc.ID, status, msg); herr != nil {
		app.rc.Logger.WithError(herr).Warn("could not record run completion in history")
	}
}
