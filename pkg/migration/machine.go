package migration

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/poolhand/poolhand/pkg/cloud"
	"github.com/poolhand/poolhand/pkg/core"
	"github.com/poolhand/poolhand/pkg/telemetry"
)

// errNotSettled marks a poll cycle that observed the database still in
// transition. It is the only retryable error inside the poll loop.
var errNotSettled = errors.New("database has not settled")

// Acknowledger confirms a recent backup exists for a database before it is
// moved. Optional; acknowledgment failures degrade to warnings on the
// outcome, never block the move.
type Acknowledger interface {
	Acknowledge(ctx context.Context, databaseID string) error
}

// Machine is the migration state machine. It validates the request, issues
// the single placement update, then polls the database status at a fixed
// interval until it comes back online or the timeout elapses. The final
// placement is always re-read after the terminal state so the outcome
// reflects ground truth rather than the request.
type Machine struct {
	store  cloud.ResourceStore
	backup Acknowledger
	clock  clock.Clock
	rc     *telemetry.RunContext
}

// NewMachine creates a migration state machine. The clock is injected so
// tests drive the poll loop with fake time; production callers pass
// clock.WallClock. Backup may be nil.
func NewMachine(store cloud.ResourceStore, backup Acknowledger, clk clock.Clock, rc *telemetry.RunContext) *Machine {
	if clk == nil {
		clk = clock.WallClock
	}
	if rc == nil {
		rc = telemetry.NewTestRunContext("migrate")
	}
	return &Machine{store: store, backup: backup, clock: clk, rc: rc}
}

// Migrate moves one database to the requested placement.
//
// Precondition failures (bad request, missing database, source mismatch,
// missing target pool) return a nil outcome and a classified error; nothing
// has been mutated. Once the move is issued the method always returns an
// outcome: succeeded, timed_out when the poll budget elapsed, or failed with
// the error that stopped it.
func (m *Machine) Migrate(ctx context.Context, req core.MigrationRequest) (*core.MigrationOutcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	log := m.rc.Logger.NewComponentLogger("migration").WithDatabase(req.DatabaseID)
	ctx, span := m.rc.Tracer.StartMigrationSpan(ctx, req.DatabaseID)
	defer span.End()

	start := m.clock.Now()
	outcome := &core.MigrationOutcome{}
	finish := func(status core.MigrationStatus, reason string) *core.MigrationOutcome {
		outcome.Status = status
		outcome.Reason = reason
		outcome.Elapsed = m.clock.Now().Sub(start)
		m.rc.Metrics.RecordMigration(string(status), outcome.Elapsed)
		return outcome
	}

	// Validating: the database must exist and, when the caller declared a
	// source, actually be there.
	snap, err := m.store.Get(ctx, cloud.KindDatabase, req.DatabaseID)
	if err != nil {
		perr := core.NewPreconditionError("database not found", err).
			WithCode(core.ErrCodeMissingResource).WithResource(req.DatabaseID).WithOperation("migrate")
		telemetry.RecordError(span, perr)
		return nil, perr
	}
	current := snap.Placement

	if req.Source != nil {
		if err := matchSource(*req.Source, current); err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
	}

	// The target pool must exist before anything moves.
	if req.Target.ToPool() {
		poolID := cloud.JoinID(serverOf(req.DatabaseID), req.Target.PoolName)
		exists, err := m.store.Exists(ctx, cloud.KindPool, poolID)
		if err != nil {
			terr := core.NewTransportError("target pool existence check failed", err).
				WithCode(core.ErrCodeProviderFailed).WithResource(poolID).WithOperation("migrate")
			telemetry.RecordError(span, terr)
			return nil, terr
		}
		if !exists {
			perr := core.NewPreconditionError(
				fmt.Sprintf("target pool %s does not exist", req.Target.PoolName), nil).
				WithCode(core.ErrCodeMissingTargetPool).WithResource(req.DatabaseID).WithOperation("migrate")
			telemetry.RecordError(span, perr)
			return nil, perr
		}
	}

	if req.ValidateOnly {
		log.Info("validate-only migration, no mutation issued")
		outcome.FinalPlacement = &current
		return finish(core.MigrationValidatedOnly, "request validated, no mutation issued"), nil
	}

	if inTarget(current, req.Target) {
		log.Info("database already in target placement")
		outcome.FinalPlacement = &current
		return finish(core.MigrationSucceeded, "already in target placement"), nil
	}

	// Preparing: best-effort backup acknowledgment.
	if m.backup != nil {
		if err := m.backup.Acknowledge(ctx, req.DatabaseID); err != nil {
			log.WithError(err).Warn("backup acknowledgment failed, continuing")
			outcome.Warnings = append(outcome.Warnings,
				fmt.Sprintf("backup acknowledgment failed: %v", err))
		}
	}

	// Moving: the single placement update.
	log.WithField("target", req.Target).Info("issuing placement update")
	if _, err := m.store.Update(ctx, cloud.KindDatabase, req.DatabaseID, deltaFor(req.Target)); err != nil {
		m.rc.Metrics.RecordProviderError(string(cloud.KindDatabase), "update")
		terr := core.NewTransportError("placement update failed", err).
			WithCode(core.ErrCodeProviderFailed).WithResource(req.DatabaseID).WithOperation("migrate")
		telemetry.RecordError(span, terr)
		finish(core.MigrationFailed, terr.Message)
		return outcome, terr
	}

	// Polling: fixed-interval status reads until Online or timeout.
	pollErr := retry.Call(retry.CallArgs{
		Func: func() error {
			m.rc.Metrics.RecordPollCycle()
			snap, err := m.store.Get(ctx, cloud.KindDatabase, req.DatabaseID)
			if err != nil {
				return core.NewTransportError("status read failed", err).
					WithCode(core.ErrCodeProviderFailed).WithResource(req.DatabaseID).WithOperation("poll")
			}
			if snap.Status != core.StatusOnline {
				log.WithField("status", snap.Status).Debug("database still settling")
				return errNotSettled
			}
			return nil
		},
		IsFatalError: func(err error) bool {
			return !errors.Is(err, errNotSettled)
		},
		Attempts:    retry.UnlimitedAttempts,
		Delay:       req.EffectivePollInterval(),
		MaxDuration: req.EffectiveTimeout(),
		Clock:       m.clock,
		Stop:        ctx.Done(),
	})

	// The terminal read is ground truth regardless of how polling ended.
	if final, err := m.store.Get(ctx, cloud.KindDatabase, req.DatabaseID); err == nil {
		p := final.Placement
		outcome.FinalPlacement = &p
	} else {
		log.WithError(err).Warn("final placement read failed")
		outcome.Warnings = append(outcome.Warnings,
			fmt.Sprintf("final placement read failed: %v", err))
	}

	switch {
	case pollErr == nil:
		// Online, but only a settle in the right place counts.
		if outcome.FinalPlacement != nil && !inTarget(*outcome.FinalPlacement, req.Target) {
			ferr := core.NewInternalError(
				fmt.Sprintf("database settled outside the target placement: %s", outcome.FinalPlacement), nil).
				WithCode(core.ErrCodePlacementMismatch).WithResource(req.DatabaseID)
			telemetry.RecordError(span, ferr)
			finish(core.MigrationFailed, ferr.Message)
			return outcome, ferr
		}
		log.Info("migration succeeded")
		telemetry.RecordSuccess(span)
		return finish(core.MigrationSucceeded, ""), nil

	case retry.IsDurationExceeded(pollErr) || retry.IsAttemptsExceeded(pollErr):
		log.Warn("migration timed out waiting for the database to settle")
		span.SetAttributes(telemetry.AttrMigrationStatus.String(string(core.MigrationTimedOut)))
		return finish(core.MigrationTimedOut,
			fmt.Sprintf("database did not settle within %s", req.EffectiveTimeout())), nil

	case retry.IsRetryStopped(pollErr):
		cerr := core.NewTransportError("migration canceled", ctx.Err()).
			WithResource(req.DatabaseID).WithOperation("poll")
		telemetry.RecordError(span, cerr)
		finish(core.MigrationFailed, "canceled while polling")
		return outcome, cerr

	default:
		telemetry.RecordError(span, pollErr)
		finish(core.MigrationFailed, pollErr.Error())
		return outcome, pollErr
	}
}

// matchSource compares the caller-declared source placement with reality.
func matchSource(declared, actual core.Placement) error {
	mismatch := func(field, want, got string) error {
		return core.NewPreconditionError(
			fmt.Sprintf("declared source %s %q does not match actual %q", field, want, got), nil).
			WithCode(core.ErrCodePlacementMismatch)
	}
	if declared.PoolName != actual.PoolName {
		return mismatch("pool", declared.PoolName, actual.PoolName)
	}
	if declared.Standalone() {
		if declared.Edition != "" && declared.Edition != actual.Edition {
			return mismatch("edition", declared.Edition, actual.Edition)
		}
		if declared.ServiceObjective != "" && declared.ServiceObjective != actual.ServiceObjective {
			return mismatch("service objective", declared.ServiceObjective, actual.ServiceObjective)
		}
	}
	return nil
}

// inTarget reports whether the placement satisfies the target.
func inTarget(p core.Placement, t core.TargetPlacement) bool {
	if t.ToPool() {
		return p.PoolName == t.PoolName
	}
	return p.Standalone() && p.Edition == t.Edition && p.ServiceObjective == t.ServiceObjective
}

// deltaFor translates a target placement into the provider update.
func deltaFor(t core.TargetPlacement) cloud.Delta {
	if t.ToPool() {
		pool := t.PoolName
		return cloud.Delta{PoolName: &pool}
	}
	edition := t.Edition
	objective := t.ServiceObjective
	return cloud.Delta{Edition: &edition, ServiceObjective: &objective}
}

// serverOf strips the database leaf from a fully qualified database ID.
func serverOf(databaseID string) string {
	if i := strings.LastIndex(databaseID, "/"); i >= 0 {
		return databaseID[:i]
	}
	return databaseID
}
