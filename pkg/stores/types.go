package stores

import (
	"time"

	"github.com/poolhand/poolhand/pkg/core"
)

// StatusRunning marks a run that has started but not yet completed. Completed
// runs carry one of the core run statuses.
const StatusRunning core.RunStatus = "running"

// RunRecord is one engine run as persisted in the history store.
type RunRecord struct {
	// ID is the run identifier, shared with logs and traces.
	ID string `json:"id"`

	// Operation is the engine operation the run performed, e.g. "deploy".
	Operation string `json:"operation"`

	// Environment is the deployment environment the run targeted.
	Environment string `json:"environment,omitempty"`

	// Status is the run lifecycle state.
	Status core.RunStatus `json:"status"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is set when the run reaches a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error holds the failure message for failed runs.
	Error *string `json:"error,omitempty"`

	// Report is the rendered JSON deployment report, attached after the
	// run completes.
	Report *string `json:"report,omitempty"`
}

// StepRecord is one pipeline step within a persisted run.
type StepRecord struct {
	// ID is the auto-assigned row identifier.
	ID int64 `json:"id"`

	// RunID ties the step to its run.
	RunID string `json:"run_id"`

	// Position is the step's zero-based order within the run.
	Position int `json:"position"`

	// Name is the stage name.
	Name string `json:"name"`

	// Status is the step outcome.
	Status core.StepStatus `json:"status"`

	// Severity is the stage's failure policy tier.
	Severity core.StepSeverity `json:"severity"`

	// Detail is the human-readable step result.
	Detail string `json:"detail,omitempty"`

	// StartedAt is when the step began.
	StartedAt time.Time `json:"started_at"`

	// Duration is how long the step ran.
	Duration time.Duration `json:"duration"`
}

// MigrationRecord is one placement migration outcome kept for audit.
type MigrationRecord struct {
	// ID is the auto-assigned row identifier.
	ID int64 `json:"id"`

	// RunID is the run that performed the migration, when known.
	RunID *string `json:"run_id,omitempty"`

	// DatabaseID is the fully qualified database identifier.
	DatabaseID string `json:"database_id"`

	// TargetPool is the requested destination pool, empty for standalone.
	TargetPool string `json:"target_pool,omitempty"`

	// Status is the migration outcome.
	Status core.MigrationStatus `json:"status"`

	// Elapsed is how long the migration took.
	Elapsed time.Duration `json:"elapsed"`

	// Reason explains non-success outcomes.
	Reason string `json:"reason,omitempty"`

	// RecordedAt is when the outcome was written.
	RecordedAt time.Time `json:"recorded_at"`
}
