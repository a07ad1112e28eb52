package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/juju/clock"
	"github.com/spf13/cobra"

	"github.com/poolhand/poolhand/pkg/artifact"
	"github.com/poolhand/poolhand/pkg/core"
	"github.com/poolhand/poolhand/pkg/maintenance"
	"github.com/poolhand/poolhand/pkg/migration"
	"github.com/poolhand/poolhand/pkg/pipeline"
	"github.com/poolhand/poolhand/pkg/policy"
	"github.com/poolhand/poolhand/pkg/provision"
)

func newDeployCommand() *cobra.Command {
	var (
		serverAddress string
		archiveHost   string
		archiveUser   string
		archiveKey    string
		archiveDir    string
	)

	cmd := &cobra.Command{
		Use:   "deploy <config>",
		Short: "Run the full deployment pipeline",
		Long: `Run the staged deployment pipeline: resource group, primary
infrastructure, optional secondary region, placement reconciliation,
and the optional sample-data, optimization, monitoring, automation,
and notification stages.

Critical stage failures abort the pipeline; tolerant failures are
recorded and the run continues; best-effort failures downgrade to
warnings. The run report is written to the artifacts directory and,
when an archive host is configured, shipped there over SFTP.`,
		Example: `  # Deploy and print the report
  poolhand deploy deploy.cue

  # Deploy and archive the report
  poolhand deploy deploy.cue --archive-host archive.example.net --archive-user reports`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, cleanup, err := newApp(ctx, "deploy")
			if err != nil {
				return err
			}
			defer cleanup()

			cfg, err := loadConfig(args[0])
			if err != nil {
				return err
			}

			gate, err := app.engine.Gate(ctx, policy.Input{
				Infra:   cfg.ToInfraSpec(),
				Context: app.policyInput("deploy"),
			})
			if gate != nil {
				app.printPolicyWarnings(gate)
			}
			if err != nil {
				return err
			}

			app.beginRun(ctx, "deploy")

			if serverAddress == "" {
				serverAddress = cfg.Server.Name + ".database.example.com"
			}
			migrator := migration.NewMachine(app.store, nil, clock.WallClock, app.rc)
			deps := pipeline.DeployDeps{
				Coordinator:   provision.NewCoordinator(app.store, app.store, migrator, app.rc),
				Migrator:      migrator,
				Maintenance:   maintenance.NewEngine(app.store, app.rc),
				Store:         app.store,
				Query:         app.store,
				Notifier:      app.store,
				ServerAddress: serverAddress,
			}

			runner := pipeline.NewRunner(app.rc)
			report := runner.Execute(ctx, pipeline.BuildDeployStages(cfg, deps, app.rc))

			recordDeployRun(ctx, app, report)
			writeArtifacts(ctx, app, report, archiveHost, archiveUser, archiveKey, archiveDir)

			rendered, err := pipeline.Render(report, outputFormat)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, string(rendered))

			if report.Overall == core.RunAborted {
				return fmt.Errorf("deployment aborted: %s", report.Errors[0])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&serverAddress, "server-address", "", "query-channel address of the primary server (derived from the server name when empty)")
	cmd.Flags().StringVar(&archiveHost, "archive-host", "", "SFTP host to archive the report to")
	cmd.Flags().StringVar(&archiveUser, "archive-user", "", "SFTP user for the archive host")
	cmd.Flags().StringVar(&archiveKey, "archive-key", "", "private key for the archive host")
	cmd.Flags().StringVar(&archiveDir, "archive-dir", "/var/lib/poolhand/reports", "base directory on the archive host")

	return cmd
}

// recordDeployRun persists the report, steps, and final status.
func recordDeployRun(ctx context.Context, app *app, report *core.DeploymentReport) {
	if app.history == nil {
		return
	}
	log := app.rc.Logger

	if data, err := pipeline.Render(report, pipeline.FormatJSON); err == nil {
		if err := app.history.AttachReport(ctx, report.RunID, string(data)); err != nil {
			log.WithError(err).Warn("could not attach report to history")
		}
	}
	if err := app.history.AppendSteps(ctx, report.RunID, report.Steps); err != nil {
		log.WithError(err).Warn("could not record steps in history")
	}

	var msg *string
	if len(report.Errors) > 0 {
		s := report.Errors[0]
		msg = &s
	}
	if err := app.history.CompleteRun(ctx, report.RunID, report.Overall, msg); err != nil {
		log.WithError(err).Warn("could not record run completion in history")
	}
}

// writeArtifacts writes the report files and optionally ships them.
func writeArtifacts(ctx context.Context, app *app, report *core.DeploymentReport, host, user, key, dir string) {
	log := app.rc.Logger

	writer := artifact.NewWriter(artifactsDir, log)
	paths, err := writer.Write(report)
	if err != nil {
		log.WithError(err).Warn("could not write report artifacts")
		return
	}

	if host == "" {
		return
	}
	cfg := artifact.DefaultArchiveConfig(host, user)
	cfg.PrivateKeyPath = key
	cfg.RemoteDir = dir
	archiver, err := artifact.NewArchiver(cfg, log)
	if err != nil {
		log.WithError(err).Warn("archive configuration rejected")
		return
	}
	if err := archiver.Upload(ctx, report.RunID, paths); err != nil {
		log.WithError(err).Warn("could not archive report artifacts")
	}
}
