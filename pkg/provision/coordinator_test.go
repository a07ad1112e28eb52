package provision

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/poolhand/poolhand/pkg/cloud"
	"github.com/poolhand/poolhand/pkg/cloud/memcloud"
	"github.com/poolhand/poolhand/pkg/core"
	"github.com/poolhand/poolhand/pkg/telemetry"
)

func testSpec() core.InfraSpec {
	return core.InfraSpec{
		ResourceGroup: "orders-rg",
		Location:      "westeurope",
		Tags:          map[string]string{"team": "data"},
		Server: core.ServerSpec{
			Name:      "orders-srv",
			AdminUser: "dbadmin",
		},
		FirewallRules: []core.FirewallRuleSpec{
			{Name: "office", StartAddress: "198.51.100.1", EndAddress: "198.51.100.20"},
		},
		Pools: []core.PoolSpec{
			{Name: "standard-pool", Edition: "Standard", TotalCapacityUnits: 100, PerDatabaseMin: 0, PerDatabaseMax: 20},
		},
		Databases: []core.DatabaseSpec{
			{Name: "orders", PoolName: "standard-pool"},
			{Name: "audit", Edition: "Standard", ServiceObjective: "S1"},
		},
	}
}

func newCoordinator(store *memcloud.Store, migrator Migrator) *Coordinator {
	return NewCoordinator(store, store, migrator, telemetry.NewTestRunContext("provision"))
}

func TestEnsureInfrastructureCreatesEverything(t *testing.T) {
	store := memcloud.New()
	c := newCoordinator(store, nil)

	result, err := c.EnsureInfrastructure(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("EnsureInfrastructure() error = %v", err)
	}

	// Group, server, 2 firewall rules (declared + client), pool, 2 databases.
	if got := result.Created(); got != 7 {
		t.Errorf("Created() = %d, want 7", got)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", result.Warnings)
	}
	if store.Count(cloud.KindFirewallRule) != 2 {
		t.Errorf("firewall rules = %d, want 2", store.Count(cloud.KindFirewallRule))
	}

	// Ownership stamp on created objects.
	snap, err := store.Get(context.Background(), cloud.KindPool, "orders-rg/orders-srv/standard-pool")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Tags[ManagedByTag] != "poolhand" {
		t.Errorf("pool missing ownership tag: %v", snap.Tags)
	}
}

func TestEnsureInfrastructureIsIdempotent(t *testing.T) {
	store := memcloud.New()
	c := newCoordinator(store, nil)

	if _, err := c.EnsureInfrastructure(context.Background(), testSpec()); err != nil {
		t.Fatalf("first pass error = %v", err)
	}
	firstCreates := store.CreateCalls

	result, err := c.EnsureInfrastructure(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("second pass error = %v", err)
	}
	if store.CreateCalls != firstCreates {
		t.Errorf("second pass issued %d creates, want 0", store.CreateCalls-firstCreates)
	}
	if got := result.Created(); got != 0 {
		t.Errorf("second pass Created() = %d, want 0", got)
	}
	for _, o := range result.Objects {
		if o.Action != ActionExists {
			t.Errorf("object %s action = %s, want exists", o.ID, o.Action)
		}
	}
}

func TestEnsureInfrastructureRejectsInvalidSpec(t *testing.T) {
	store := memcloud.New()
	c := newCoordinator(store, nil)

	spec := testSpec()
	spec.Pools[0].PerDatabaseMax = 500 // exceeds total capacity

	_, err := c.EnsureInfrastructure(context.Background(), spec)
	if !core.IsPrecondition(err) {
		t.Fatalf("expected precondition error, got %v", err)
	}
	if store.CreateCalls != 0 {
		t.Errorf("invalid spec still issued %d creates", store.CreateCalls)
	}
}

func TestFirewallFailuresAreWarnings(t *testing.T) {
	store := memcloud.New()
	store.FailCreate["orders-rg/orders-srv/office"] = errors.New("rule quota exceeded")
	c := newCoordinator(store, nil)

	result, err := c.EnsureInfrastructure(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("EnsureInfrastructure() error = %v", err)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "office") {
		t.Errorf("warnings = %v, want one mentioning the office rule", result.Warnings)
	}
	// The pass still provisioned the pool and databases.
	if store.Count(cloud.KindDatabase) != 2 {
		t.Errorf("databases = %d, want 2", store.Count(cloud.KindDatabase))
	}
}

func TestAddressResolutionFailureIsWarning(t *testing.T) {
	store := memcloud.New()
	store.FailResolve = errors.New("metadata service unreachable")
	c := newCoordinator(store, nil)

	result, err := c.EnsureInfrastructure(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("EnsureInfrastructure() error = %v", err)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly one", result.Warnings)
	}
	if store.Count(cloud.KindFirewallRule) != 1 {
		t.Errorf("firewall rules = %d, want only the declared rule", store.Count(cloud.KindFirewallRule))
	}
}

func TestPoolCreateFailureAborts(t *testing.T) {
	store := memcloud.New()
	store.FailCreate["orders-rg/orders-srv/standard-pool"] = errors.New("capacity unavailable")
	c := newCoordinator(store, nil)

	_, err := c.EnsureInfrastructure(context.Background(), testSpec())
	if !core.IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if store.Count(cloud.KindDatabase) != 0 {
		t.Errorf("databases were created after pool failure")
	}
}

type driftMigrator struct {
	requests []core.MigrationRequest
	outcome  *core.MigrationOutcome
}

func (m *driftMigrator) Migrate(_ context.Context, req core.MigrationRequest) (*core.MigrationOutcome, error) {
	m.requests = append(m.requests, req)
	if m.outcome != nil {
		return m.outcome, nil
	}
	return &core.MigrationOutcome{Status: core.MigrationSucceeded}, nil
}

func TestPlacementDriftDelegatesToMigrator(t *testing.T) {
	store := memcloud.New()
	store.Seed(cloud.Snapshot{
		Kind:      cloud.KindDatabase,
		ID:        "orders-rg/orders-srv/orders",
		Name:      "orders",
		Placement: core.Placement{ServerID: "orders-rg/orders-srv", PoolName: "old-pool"},
	})
	migrator := &driftMigrator{}
	c := newCoordinator(store, migrator)

	result, err := c.EnsureInfrastructure(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("EnsureInfrastructure() error = %v", err)
	}
	if len(migrator.requests) != 1 {
		t.Fatalf("migrator received %d requests, want 1", len(migrator.requests))
	}
	req := migrator.requests[0]
	if req.DatabaseID != "orders-rg/orders-srv/orders" {
		t.Errorf("migration database = %q", req.DatabaseID)
	}
	if req.Target.PoolName != "standard-pool" {
		t.Errorf("migration target pool = %q", req.Target.PoolName)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("successful drift correction produced warnings: %v", result.Warnings)
	}
}

func TestPlacementDriftWithoutMigratorIsWarning(t *testing.T) {
	store := memcloud.New()
	store.Seed(cloud.Snapshot{
		Kind:      cloud.KindDatabase,
		ID:        "orders-rg/orders-srv/orders",
		Name:      "orders",
		Placement: core.Placement{ServerID: "orders-rg/orders-srv", PoolName: "old-pool"},
	})
	c := newCoordinator(store, nil)

	result, err := c.EnsureInfrastructure(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("EnsureInfrastructure() error = %v", err)
	}
	found := false
	for _, w := range result.Warnings {
		if strings.Contains(w, "old-pool") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want drift warning naming old-pool", result.Warnings)
	}
	if store.UpdateCalls != 0 {
		t.Errorf("drift without migrator issued %d updates", store.UpdateCalls)
	}
}
