package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/poolhand/poolhand/pkg/cloud"
	"github.com/poolhand/poolhand/pkg/cloud/memcloud"
	"github.com/poolhand/poolhand/pkg/config"
	"github.com/poolhand/poolhand/pkg/core"
	"github.com/poolhand/poolhand/pkg/maintenance"
	"github.com/poolhand/poolhand/pkg/migration"
	"github.com/poolhand/poolhand/pkg/provision"
	"github.com/poolhand/poolhand/pkg/telemetry"
)

func deployConfig() *config.DeploymentConfig {
	return &config.DeploymentConfig{
		Name:          "orders-prod",
		ResourceGroup: "orders-rg",
		Location:      "westeurope",
		Server:        config.ServerConfig{Name: "orders-srv", AdminUser: "dbadmin"},
		Pools: []config.PoolConfig{
			{Name: "standard-pool", Edition: "Standard", TotalCapacityUnits: 100, PerDatabaseMin: 0, PerDatabaseMax: 20},
		},
		Databases: []config.DatabaseConfig{
			{Name: "orders", PoolName: "standard-pool"},
			{Name: "audit", Edition: "Standard", ServiceObjective: "S1"},
		},
		Options: config.OptionsConfig{
			SampleData:    true,
			Monitoring:    true,
			Automation:    true,
			NotifyAddress: "ops@example.com",
		},
	}
}

func deployDeps(store *memcloud.Store, rc *telemetry.RunContext) DeployDeps {
	migrator := migration.NewMachine(store, nil, testclock.NewClock(time.Now()), rc)
	return DeployDeps{
		Coordinator:   provision.NewCoordinator(store, store, migrator, rc),
		Migrator:      migrator,
		Maintenance:   maintenance.NewEngine(store, rc),
		Store:         store,
		Query:         store,
		Notifier:      store,
		ServerAddress: "orders-srv.example.net",
	}
}

func TestDeployPipelineEndToEnd(t *testing.T) {
	store := memcloud.New()
	rc := telemetry.NewTestRunContext("deploy")
	cfg := deployConfig()

	r := NewRunner(rc)
	report := r.Execute(context.Background(), BuildDeployStages(cfg, deployDeps(store, rc), rc))

	if report.Overall != core.RunSuccess {
		t.Fatalf("overall = %s, errors = %v", report.Overall, report.Errors)
	}
	if len(report.Steps) != 9 {
		t.Fatalf("steps = %d, want 9", len(report.Steps))
	}

	wantStatus := map[string]core.StepStatus{
		StageResourceGroup:  core.StepCompleted,
		StagePrimaryInfra:   core.StepCompleted,
		StageSecondaryInfra: core.StepSkipped, // multi-region disabled
		StagePlacement:      core.StepCompleted,
		StageSampleData:     core.StepCompleted,
		StageOptimization:   core.StepSkipped, // optimize disabled
		StageMonitoring:     core.StepCompleted,
		StageAutomation:     core.StepCompleted,
		StageNotify:         core.StepCompleted,
	}
	for _, step := range report.Steps {
		if want, ok := wantStatus[step.Name]; !ok || step.Status != want {
			t.Errorf("stage %s status = %s, want %s", step.Name, step.Status, want)
		}
	}

	// Infrastructure landed.
	if store.Count(cloud.KindDatabase) != 2 {
		t.Errorf("databases = %d, want 2", store.Count(cloud.KindDatabase))
	}

	// Sample data was seeded into both databases.
	if len(store.Executed) != 2 {
		t.Errorf("executed %d statements, want 2 seeding statements", len(store.Executed))
	}

	// Monitoring and automation tags landed on the server.
	snap, err := store.Get(context.Background(), cloud.KindServer, "orders-rg/orders-srv")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Tags["monitoring"] != "enabled" || snap.Tags["automation"] != "registered" {
		t.Errorf("server tags = %v", snap.Tags)
	}

	// The notification went out.
	if len(store.Sent) != 1 {
		t.Fatalf("sent %d notifications, want 1", len(store.Sent))
	}
	if store.Sent[0].Fields["run_id"] != rc.ID {
		t.Errorf("notification run_id = %q, want %q", store.Sent[0].Fields["run_id"], rc.ID)
	}
}

func TestDeployPipelineAbortsOnInfraFailure(t *testing.T) {
	store := memcloud.New()
	store.FailCreate["orders-rg/orders-srv"] = errors.New("server quota exceeded")
	rc := telemetry.NewTestRunContext("deploy")
	cfg := deployConfig()

	r := NewRunner(rc)
	report := r.Execute(context.Background(), BuildDeployStages(cfg, deployDeps(store, rc), rc))

	if report.Overall != core.RunAborted {
		t.Fatalf("overall = %s, want aborted", report.Overall)
	}
	// Nothing after the failed critical stage ran.
	if len(store.Sent) != 0 {
		t.Error("notification sent after an aborted pipeline")
	}
	if len(store.Executed) != 0 {
		t.Error("sample data seeded after an aborted pipeline")
	}
	// Every stage still appears in the audit trail.
	if len(report.Steps) != 9 {
		t.Errorf("steps = %d, want 9", len(report.Steps))
	}
}

func TestDeployPipelineNotificationFailureIsWarning(t *testing.T) {
	store := memcloud.New()
	store.FailSend = errors.New("smtp unreachable")
	rc := telemetry.NewTestRunContext("deploy")
	cfg := deployConfig()

	r := NewRunner(rc)
	report := r.Execute(context.Background(), BuildDeployStages(cfg, deployDeps(store, rc), rc))

	if report.Overall != core.RunSuccess {
		t.Fatalf("overall = %s, want success despite notification failure", report.Overall)
	}
	if len(report.Warnings) != 1 {
		t.Errorf("warnings = %v, want one", report.Warnings)
	}
}
