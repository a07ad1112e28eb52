package migration

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/poolhand/poolhand/pkg/cloud"
	"github.com/poolhand/poolhand/pkg/cloud/memcloud"
	"github.com/poolhand/poolhand/pkg/core"
	"github.com/poolhand/poolhand/pkg/telemetry"
)

const (
	serverID   = "orders-rg/orders-srv"
	databaseID = serverID + "/orders"
	poolID     = serverID + "/fast-pool"
)

func seedStore(t *testing.T) *memcloud.Store {
	t.Helper()
	store := memcloud.New()
	store.Seed(cloud.Snapshot{
		Kind: cloud.KindPool,
		ID:   poolID,
		Name: "fast-pool",
	})
	store.Seed(cloud.Snapshot{
		Kind: cloud.KindDatabase,
		ID:   databaseID,
		Name: "orders",
		Placement: core.Placement{
			ServerID:         serverID,
			Edition:          "Standard",
			ServiceObjective: "S1",
		},
	})
	return store
}

type migrateResult struct {
	outcome *core.MigrationOutcome
	err     error
}

// runMigrate starts Migrate in a goroutine so the test can drive the fake
// clock from the outside.
func runMigrate(ctx context.Context, m *Machine, req core.MigrationRequest) chan migrateResult {
	done := make(chan migrateResult, 1)
	go func() {
		out, err := m.Migrate(ctx, req)
		done <- migrateResult{out, err}
	}()
	return done
}

func waitResult(t *testing.T, done chan migrateResult) migrateResult {
	t.Helper()
	select {
	case res := <-done:
		return res
	case <-time.After(10 * time.Second):
		t.Fatal("migration did not finish")
		return migrateResult{}
	}
}

func TestMigrateToPoolSucceeds(t *testing.T) {
	store := seedStore(t)
	// Validating read, two settling polls, then online.
	store.ScriptStatuses(databaseID, core.StatusOnline, core.StatusBusy, core.StatusBusy, core.StatusOnline)

	clk := testclock.NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	m := NewMachine(store, nil, clk, telemetry.NewTestRunContext("migrate"))

	done := runMigrate(context.Background(), m, core.MigrationRequest{
		DatabaseID: databaseID,
		Target:     core.TargetPlacement{PoolName: "fast-pool"},
	})

	for i := 0; i < 2; i++ {
		if err := clk.WaitAdvance(core.DefaultPollInterval, 5*time.Second, 1); err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
	}

	res := waitResult(t, done)
	if res.err != nil {
		t.Fatalf("Migrate() error = %v", res.err)
	}
	if res.outcome.Status != core.MigrationSucceeded {
		t.Fatalf("status = %s, want succeeded", res.outcome.Status)
	}
	if res.outcome.Elapsed != 2*core.DefaultPollInterval {
		t.Errorf("elapsed = %s, want %s", res.outcome.Elapsed, 2*core.DefaultPollInterval)
	}
	if res.outcome.FinalPlacement == nil || res.outcome.FinalPlacement.PoolName != "fast-pool" {
		t.Errorf("final placement = %+v, want fast-pool", res.outcome.FinalPlacement)
	}
	if store.UpdateCalls != 1 {
		t.Errorf("update calls = %d, want exactly 1", store.UpdateCalls)
	}
}

func TestMigrateTimesOutAtExactlyTheTimeout(t *testing.T) {
	store := seedStore(t)
	// The database never leaves Creating.
	store.ScriptStatuses(databaseID, "Creating")

	clk := testclock.NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	m := NewMachine(store, nil, clk, telemetry.NewTestRunContext("migrate"))

	timeout := 300 * time.Second
	done := runMigrate(context.Background(), m, core.MigrationRequest{
		DatabaseID: databaseID,
		Target:     core.TargetPlacement{PoolName: "fast-pool"},
		Timeout:    timeout,
	})

	// timeout / interval sleeps; the next poll would overshoot the budget.
	for i := 0; i < 10; i++ {
		if err := clk.WaitAdvance(core.DefaultPollInterval, 5*time.Second, 1); err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
	}

	res := waitResult(t, done)
	if res.err != nil {
		t.Fatalf("Migrate() error = %v, timed_out is not an error", res.err)
	}
	if res.outcome.Status != core.MigrationTimedOut {
		t.Fatalf("status = %s, want timed_out", res.outcome.Status)
	}
	if res.outcome.Elapsed != timeout {
		t.Errorf("elapsed = %s, want exactly %s", res.outcome.Elapsed, timeout)
	}
	if res.outcome.FinalPlacement == nil {
		t.Error("timed_out outcome is missing the final placement read")
	}
}

func TestValidateOnlyPerformsNoMutations(t *testing.T) {
	store := seedStore(t)
	m := NewMachine(store, nil, testclock.NewClock(time.Now()), telemetry.NewTestRunContext("migrate"))

	out, err := m.Migrate(context.Background(), core.MigrationRequest{
		DatabaseID:   databaseID,
		Target:       core.TargetPlacement{PoolName: "fast-pool"},
		ValidateOnly: true,
	})
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if out.Status != core.MigrationValidatedOnly {
		t.Errorf("status = %s, want validated_only", out.Status)
	}
	if out.FinalPlacement == nil || out.FinalPlacement.ServiceObjective != "S1" {
		t.Errorf("final placement = %+v, want current configuration", out.FinalPlacement)
	}
	if len(store.Mutations) != 0 {
		t.Errorf("validate-only run mutated state: %v", store.Mutations)
	}
}

func TestSourceMismatchFailsBeforeMutation(t *testing.T) {
	store := seedStore(t)
	m := NewMachine(store, nil, testclock.NewClock(time.Now()), telemetry.NewTestRunContext("migrate"))

	declared := core.Placement{ServerID: serverID, PoolName: "some-other-pool"}
	out, err := m.Migrate(context.Background(), core.MigrationRequest{
		DatabaseID: databaseID,
		Source:     &declared,
		Target:     core.TargetPlacement{PoolName: "fast-pool"},
	})
	if out != nil {
		t.Errorf("expected nil outcome, got %+v", out)
	}
	if !core.IsPrecondition(err) {
		t.Fatalf("expected precondition error, got %v", err)
	}
	var cerr *core.Error
	if !errors.As(err, &cerr) || cerr.Code != core.ErrCodePlacementMismatch {
		t.Errorf("code = %v, want PLACEMENT_MISMATCH", err)
	}
	if len(store.Mutations) != 0 {
		t.Errorf("mismatch still mutated state: %v", store.Mutations)
	}
}

func TestMissingTargetPoolFails(t *testing.T) {
	store := seedStore(t)
	m := NewMachine(store, nil, testclock.NewClock(time.Now()), telemetry.NewTestRunContext("migrate"))

	_, err := m.Migrate(context.Background(), core.MigrationRequest{
		DatabaseID: databaseID,
		Target:     core.TargetPlacement{PoolName: "ghost-pool"},
	})
	var cerr *core.Error
	if !errors.As(err, &cerr) || cerr.Code != core.ErrCodeMissingTargetPool {
		t.Fatalf("expected MISSING_TARGET_POOL, got %v", err)
	}
	if len(store.Mutations) != 0 {
		t.Errorf("missing pool still mutated state: %v", store.Mutations)
	}
}

func TestConflictingTargetRejectedBeforeAnyCall(t *testing.T) {
	store := seedStore(t)
	m := NewMachine(store, nil, testclock.NewClock(time.Now()), telemetry.NewTestRunContext("migrate"))

	_, err := m.Migrate(context.Background(), core.MigrationRequest{
		DatabaseID: databaseID,
		Target: core.TargetPlacement{
			PoolName:         "fast-pool",
			Edition:          "Standard",
			ServiceObjective: "S1",
		},
	})
	if !core.IsPrecondition(err) {
		t.Fatalf("expected precondition error, got %v", err)
	}
	if store.GetCalls != 0 {
		t.Errorf("conflicting target still reached the provider")
	}
}

func TestAlreadyInTargetIsIdempotent(t *testing.T) {
	store := seedStore(t)
	store.Seed(cloud.Snapshot{
		Kind: cloud.KindDatabase,
		ID:   databaseID,
		Name: "orders",
		Placement: core.Placement{
			ServerID: serverID,
			PoolName: "fast-pool",
		},
	})
	m := NewMachine(store, nil, testclock.NewClock(time.Now()), telemetry.NewTestRunContext("migrate"))

	out, err := m.Migrate(context.Background(), core.MigrationRequest{
		DatabaseID: databaseID,
		Target:     core.TargetPlacement{PoolName: "fast-pool"},
	})
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if out.Status != core.MigrationSucceeded {
		t.Errorf("status = %s, want succeeded", out.Status)
	}
	if len(store.Mutations) != 0 {
		t.Errorf("no-op migration mutated state: %v", store.Mutations)
	}
}

func TestUpdateFailureReturnsFailedOutcome(t *testing.T) {
	store := seedStore(t)
	store.FailUpdate[databaseID] = errors.New("throttled by provider")
	m := NewMachine(store, nil, testclock.NewClock(time.Now()), telemetry.NewTestRunContext("migrate"))

	out, err := m.Migrate(context.Background(), core.MigrationRequest{
		DatabaseID: databaseID,
		Target:     core.TargetPlacement{PoolName: "fast-pool"},
	})
	if !core.IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if out == nil || out.Status != core.MigrationFailed {
		t.Fatalf("outcome = %+v, want failed", out)
	}
	if !strings.Contains(err.Error(), "throttled by provider") {
		t.Errorf("error %q lost the provider detail", err.Error())
	}
}

func TestCancellationStopsPolling(t *testing.T) {
	store := seedStore(t)
	store.ScriptStatuses(databaseID, "Creating")

	clk := testclock.NewClock(time.Now())
	m := NewMachine(store, nil, clk, telemetry.NewTestRunContext("migrate"))

	ctx, cancel := context.WithCancel(context.Background())
	done := runMigrate(ctx, m, core.MigrationRequest{
		DatabaseID: databaseID,
		Target:     core.TargetPlacement{PoolName: "fast-pool"},
	})

	// Let the first poll land on the clock, then cancel mid-wait.
	if err := clk.WaitAdvance(0, 5*time.Second, 1); err != nil {
		t.Fatalf("waiting for poller: %v", err)
	}
	cancel()

	res := waitResult(t, done)
	if res.err == nil {
		t.Fatal("expected error after cancellation")
	}
	if res.outcome == nil || res.outcome.Status != core.MigrationFailed {
		t.Fatalf("outcome = %+v, want failed", res.outcome)
	}
}

type failingAcknowledger struct{}

func (failingAcknowledger) Acknowledge(context.Context, string) error {
	return errors.New("backup service unavailable")
}

func TestBackupAcknowledgmentFailureIsWarning(t *testing.T) {
	store := seedStore(t)
	store.ScriptStatuses(databaseID, core.StatusOnline, core.StatusOnline)

	clk := testclock.NewClock(time.Now())
	m := NewMachine(store, failingAcknowledger{}, clk, telemetry.NewTestRunContext("migrate"))

	out, err := m.Migrate(context.Background(), core.MigrationRequest{
		DatabaseID: databaseID,
		Target:     core.TargetPlacement{PoolName: "fast-pool"},
	})
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if out.Status != core.MigrationSucceeded {
		t.Fatalf("status = %s, want succeeded", out.Status)
	}
	if len(out.Warnings) != 1 || !strings.Contains(out.Warnings[0], "backup") {
		t.Errorf("warnings = %v, want one backup warning", out.Warnings)
	}
}
