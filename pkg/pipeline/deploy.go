package pipeline

import (
	"context"
	"fmt"

	"github.com/poolhand/poolhand/pkg/cloud"
	"github.com/poolhand/poolhand/pkg/config"
	"github.com/poolhand/poolhand/pkg/core"
	"github.com/poolhand/poolhand/pkg/maintenance"
	"github.com/poolhand/poolhand/pkg/provision"
	"github.com/poolhand/poolhand/pkg/telemetry"
)

// Deploy stage names, in execution order.
const (
	StageResourceGroup   = "resource-group"
	StagePrimaryInfra    = "primary-infrastructure"
	StageSecondaryInfra  = "secondary-infrastructure"
	StagePlacement       = "placement-reconciliation"
	StageSampleData      = "sample-data"
	StageOptimization    = "optimization"
	StageMonitoring      = "monitoring"
	StageAutomation      = "automation-registration"
	StageNotify          = "notify"
)

// sampleDataScript seeds a minimal demo schema into each declared database.
const sampleDataScript = `
IF OBJECT_ID('dbo.sample_items') IS NULL
BEGIN
    CREATE TABLE dbo.sample_items (id INT IDENTITY PRIMARY KEY, label NVARCHAR(64) NOT NULL, created_at DATETIME2 DEFAULT SYSUTCDATETIME());
    INSERT INTO dbo.sample_items (label) VALUES ('alpha'), ('beta'), ('gamma');
END`

// DeployDeps carries the collaborators a deploy pipeline needs.
type DeployDeps struct {
	// Coordinator provisions infrastructure.
	Coordinator *provision.Coordinator

	// Migrator reconciles database placement.
	Migrator provision.Migrator

	// Maintenance runs the optimization stage.
	Maintenance *maintenance.Engine

	// Store reads and tags resources for the monitoring and automation stages.
	Store cloud.ResourceStore

	// Query executes the sample data script.
	Query cloud.QueryChannel

	// Notifier delivers the run summary. May be nil.
	Notifier cloud.NotificationSink

	// ServerAddress is the query-channel address of the primary server.
	ServerAddress string
}

// BuildDeployStages assembles the full deployment pipeline for a
// configuration. Stage order is fixed; the options in cfg only switch the
// conditional stages on and off.
func BuildDeployStages(cfg *config.DeploymentConfig, deps DeployDeps, rc *telemetry.RunContext) []Stage {
	primary := cfg.ToInfraSpec()

	return []Stage{
		{
			Name:     StageResourceGroup,
			Severity: core.SeverityCritical,
			Run: func(ctx context.Context) (string, error) {
				result, err := deps.Coordinator.EnsureResourceGroup(ctx, primary)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("resource group %s %s", primary.ResourceGroup, result.Objects[0].Action), nil
			},
		},
		{
			Name:     StagePrimaryInfra,
			Severity: core.SeverityCritical,
			Run: func(ctx context.Context) (string, error) {
				result, err := deps.Coordinator.EnsureInfrastructure(ctx, primary)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("%d objects ensured, %d created, %d warnings",
					len(result.Objects), result.Created(), len(result.Warnings)), nil
			},
		},
		{
			Name:     StageSecondaryInfra,
			Severity: core.SeverityTolerant,
			Condition: func() (bool, string) {
				if !cfg.Options.MultiRegion {
					return false, "multi-region disabled"
				}
				return true, ""
			},
			Run: func(ctx context.Context) (string, error) {
				secondary, err := cfg.SecondaryInfraSpec()
				if err != nil {
					return "", err
				}
				result, err := deps.Coordinator.EnsureInfrastructure(ctx, secondary)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("secondary region %s: %d objects ensured, %d created",
					secondary.Location, len(result.Objects), result.Created()), nil
			},
		},
		{
			Name:     StagePlacement,
			Severity: core.SeverityTolerant,
			Run: func(ctx context.Context) (string, error) {
				return reconcilePlacements(ctx, primary, deps)
			},
		},
		{
			Name:     StageSampleData,
			Severity: core.SeverityTolerant,
			Condition: func() (bool, string) {
				if !cfg.Options.SampleData {
					return false, "sample data disabled"
				}
				return true, ""
			},
			Run: func(ctx context.Context) (string, error) {
				for _, db := range primary.Databases {
					target := cloud.Target{ServerAddress: deps.ServerAddress, Database: db.Name}
					if _, err := deps.Query.Execute(ctx, target, sampleDataScript); err != nil {
						return "", core.NewTransportError(
							fmt.Sprintf("seeding %s failed", db.Name), err).
							WithCode(core.ErrCodeQueryFailed).WithResource(db.Name)
					}
				}
				return fmt.Sprintf("seeded %d databases", len(primary.Databases)), nil
			},
		},
		{
			Name:     StageOptimization,
			Severity: core.SeverityTolerant,
			Condition: func() (bool, string) {
				if !cfg.Options.Optimize {
					return false, "optimization disabled"
				}
				return true, ""
			},
			Run: func(ctx context.Context) (string, error) {
				optimized, failures := 0, 0
				for _, db := range primary.Databases {
					target := cloud.Target{ServerAddress: deps.ServerAddress, Database: db.Name}
					actions, err := deps.Maintenance.Analyze(ctx, target, 0)
					if err != nil {
						return "", err
					}
					result, err := deps.Maintenance.Apply(ctx, target, actions)
					if err != nil {
						return "", err
					}
					optimized += result.OptimizedCount
					failures += len(result.Failures)
				}
				detail := fmt.Sprintf("optimized %d structures", optimized)
				if failures > 0 {
					return detail, core.NewTransportError(
						fmt.Sprintf("%d maintenance statements failed", failures), nil).
						WithCode(core.ErrCodeQueryFailed)
				}
				return detail, nil
			},
		},
		{
			Name:     StageMonitoring,
			Severity: core.SeverityTolerant,
			Condition: func() (bool, string) {
				if !cfg.Options.Monitoring {
					return false, "monitoring disabled"
				}
				return true, ""
			},
			Run: func(ctx context.Context) (string, error) {
				return tagServer(ctx, deps.Store, primary, "monitoring", "enabled")
			},
		},
		{
			Name:     StageAutomation,
			Severity: core.SeverityTolerant,
			Condition: func() (bool, string) {
				if !cfg.Options.Automation {
					return false, "automation disabled"
				}
				return true, ""
			},
			Run: func(ctx context.Context) (string, error) {
				return tagServer(ctx, deps.Store, primary, "automation", "registered")
			},
		},
		{
			Name:     StageNotify,
			Severity: core.SeverityBestEffort,
			Condition: func() (bool, string) {
				if deps.Notifier == nil || cfg.Options.NotifyAddress == "" {
					return false, "no notification address configured"
				}
				return true, ""
			},
			Run: func(ctx context.Context) (string, error) {
				err := deps.Notifier.Send(ctx, cloud.Message{
					Subject: fmt.Sprintf("poolhand deployment %s finished", cfg.Name),
					Body: fmt.Sprintf("Deployment %s (run %s) on server %s has finished.",
						cfg.Name, rc.ID, primary.ServerID()),
					Fields: map[string]string{
						"run_id":     rc.ID,
						"deployment": cfg.Name,
						"recipient":  cfg.Options.NotifyAddress,
					},
				})
				if err != nil {
					return "", core.NewTransportError("notification delivery failed", err).AsBestEffort()
				}
				return fmt.Sprintf("notified %s", cfg.Options.NotifyAddress), nil
			},
		},
	}
}

// reconcilePlacements moves every pooled database that is not where the
// configuration says it should be.
func reconcilePlacements(ctx context.Context, spec core.InfraSpec, deps DeployDeps) (string, error) {
	moved, checked := 0, 0
	for _, db := range spec.Databases {
		if db.PoolName == "" {
			continue
		}
		checked++
		id := cloud.JoinID(spec.ServerID(), db.Name)
		snap, err := deps.Store.Get(ctx, cloud.KindDatabase, id)
		if err != nil {
			return "", core.NewTransportError("placement read failed", err).
				WithCode(core.ErrCodeProviderFailed).WithResource(id)
		}
		if snap.Placement.PoolName == db.PoolName {
			continue
		}
		outcome, err := deps.Migrator.Migrate(ctx, core.MigrationRequest{
			DatabaseID: id,
			Target:     core.TargetPlacement{PoolName: db.PoolName},
		})
		if err != nil {
			return "", err
		}
		if outcome.Status != core.MigrationSucceeded {
			return "", core.NewInternalError(
				fmt.Sprintf("reconciliation of %s ended %s: %s", id, outcome.Status, outcome.Reason), nil).
				WithCode(core.ErrCodePlacementMismatch).WithResource(id)
		}
		moved++
	}
	return fmt.Sprintf("%d databases checked, %d moved", checked, moved), nil
}

// tagServer merges one key into the server's tags.
func tagServer(ctx context.Context, store cloud.ResourceStore, spec core.InfraSpec, key, value string) (string, error) {
	serverID := spec.ServerID()
	snap, err := store.Get(ctx, cloud.KindServer, serverID)
	if err != nil {
		return "", core.NewTransportError("server read failed", err).
			WithCode(core.ErrCodeProviderFailed).WithResource(serverID)
	}
	tags := make(map[string]string, len(snap.Tags)+1)
	for k, v := range snap.Tags {
		tags[k] = v
	}
	tags[key] = value
	if _, err := store.Update(ctx, cloud.KindServer, serverID, cloud.Delta{Tags: tags}); err != nil {
		return "", core.NewTransportError("server tag update failed", err).
			WithCode(core.ErrCodeProviderFailed).WithResource(serverID)
	}
	return fmt.Sprintf("server %s tagged %s=%s", serverID, key, value), nil
}
