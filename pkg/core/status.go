package core

import (
	"encoding/json"
	"fmt"
)

// MigrationStatus represents the terminal outcome of a database migration.
type MigrationStatus string

const (
	// MigrationSucceeded indicates the database reached a stable online state
	// in its target placement before the timeout elapsed.
	MigrationSucceeded MigrationStatus = "succeeded"

	// MigrationTimedOut indicates the timeout elapsed while waiting for the
	// database to stabilize. The underlying move may still complete later;
	// this is a legitimate outcome, not a failure.
	MigrationTimedOut MigrationStatus = "timed_out"

	// MigrationFailed indicates a precondition or provider error stopped the
	// migration.
	MigrationFailed MigrationStatus = "failed"

	// MigrationValidatedOnly indicates the request was validated and no
	// mutation was issued.
	MigrationValidatedOnly MigrationStatus = "validated_only"
)

// IsTerminal returns true for every migration status; the type only models
// terminal outcomes, intermediate states stay inside the state machine.
func (s MigrationStatus) IsTerminal() bool {
	return s.Validate() == nil
}

// Validate checks if the migration status is valid.
func (s MigrationStatus) Validate() error {
	switch s {
	case MigrationSucceeded, MigrationTimedOut, MigrationFailed, MigrationValidatedOnly:
		return nil
	default:
		return fmt.Errorf("invalid migration status: %s", s)
	}
}

// ActionKind represents the maintenance action chosen for a storage structure.
type ActionKind string

const (
	// ActionNone indicates the structure is healthy enough to leave alone.
	ActionNone ActionKind = "none"

	// ActionReorganize indicates an in-place reorganize of the structure.
	ActionReorganize ActionKind = "reorganize"

	// ActionRebuild indicates a full rebuild of the structure.
	ActionRebuild ActionKind = "rebuild"
)

// IsMutating returns true if the action issues a maintenance statement.
func (a ActionKind) IsMutating() bool {
	return a == ActionReorganize || a == ActionRebuild
}

// Validate checks if the action kind is valid.
func (a ActionKind) Validate() error {
	switch a {
	case ActionNone, ActionReorganize, ActionRebuild:
		return nil
	default:
		return fmt.Errorf("invalid action kind: %s", a)
	}
}

// StepStatus represents the status of one deployment pipeline step.
type StepStatus string

const (
	// StepStarted indicates the step is currently executing.
	StepStarted StepStatus = "started"

	// StepCompleted indicates the step finished without error.
	StepCompleted StepStatus = "completed"

	// StepFailed indicates the step finished with an error.
	StepFailed StepStatus = "failed"

	// StepSkipped indicates the step's enabling condition was false and it
	// was never attempted.
	StepSkipped StepStatus = "skipped"
)

// IsTerminal returns true if the step status represents a final state.
func (s StepStatus) IsTerminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepSkipped
}

// Validate checks if the step status is valid.
func (s StepStatus) Validate() error {
	switch s {
	case StepStarted, StepCompleted, StepFailed, StepSkipped:
		return nil
	default:
		return fmt.Errorf("invalid step status: %s", s)
	}
}

// StepSeverity classifies how a pipeline step's failure is handled.
type StepSeverity string

const (
	// SeverityCritical steps are hard prerequisites: their failure aborts the
	// remaining pipeline immediately.
	SeverityCritical StepSeverity = "critical"

	// SeverityTolerant steps record their failure in the aggregate error list
	// and let the pipeline continue.
	SeverityTolerant StepSeverity = "tolerant"

	// SeverityBestEffort steps downgrade their failure to a warning.
	SeverityBestEffort StepSeverity = "best_effort"
)

// Validate checks if the step severity is valid.
func (s StepSeverity) Validate() error {
	switch s {
	case SeverityCritical, SeverityTolerant, SeverityBestEffort:
		return nil
	default:
		return fmt.Errorf("invalid step severity: %s", s)
	}
}

// RunStatus represents the overall status of an orchestration run.
type RunStatus string

const (
	// RunSuccess indicates the run finished with an empty error list.
	RunSuccess RunStatus = "success"

	// RunCompletedWithErrors indicates the run reached its end but one or
	// more tolerant steps failed.
	RunCompletedWithErrors RunStatus = "completed_with_errors"

	// RunAborted indicates a critical step failed and the remaining steps
	// were never attempted.
	RunAborted RunStatus = "aborted"
)

// Succeeded returns true if the run finished clean.
func (s RunStatus) Succeeded() bool {
	return s == RunSuccess
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunSuccess, RunCompletedWithErrors, RunAborted:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// DatabaseStatus values reported by the provider for a database resource.
// StatusOnline is the sole stable signal the migration poll loop waits for.
const (
	StatusOnline   = "Online"
	StatusCreating = "Creating"
	StatusBusy     = "Busy"
	StatusPaused   = "Paused"
)

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s MigrationStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *MigrationStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = MigrationStatus(str)
	return s.Validate()
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *StepStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = StepStatus(str)
	return s.Validate()
}
