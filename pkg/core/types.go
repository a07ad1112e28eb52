package core

import (
	"fmt"
	"time"
)

// Default bounds for the migration poll loop.
const (
	// DefaultPollInterval is the fixed wait between database status reads
	// while a migration settles.
	DefaultPollInterval = 30 * time.Second

	// DefaultMigrationTimeout bounds how long a migration waits for the
	// database to come back online before reporting timed_out.
	DefaultMigrationTimeout = 30 * time.Minute
)

// Placement identifies where a database currently lives.
type Placement struct {
	// ServerID is the fully qualified server identifier ("group/server").
	ServerID string `json:"server_id"`

	// PoolName is the elastic pool hosting the database. Empty means the
	// database runs standalone on its own tier.
	PoolName string `json:"pool_name,omitempty"`

	// Edition is the performance edition for a standalone database.
	Edition string `json:"edition,omitempty"`

	// ServiceObjective is the named tier within the edition.
	ServiceObjective string `json:"service_objective,omitempty"`

	// Status is the provider-reported operational status (see StatusOnline).
	Status string `json:"status,omitempty"`
}

// Standalone returns true if the database is not assigned to a pool.
func (p Placement) Standalone() bool {
	return p.PoolName == ""
}

// String renders the placement for logs and reports.
func (p Placement) String() string {
	if p.Standalone() {
		return fmt.Sprintf("%s (standalone %s/%s)", p.ServerID, p.Edition, p.ServiceObjective)
	}
	return fmt.Sprintf("%s pool=%s", p.ServerID, p.PoolName)
}

// PoolSpec is the desired configuration for one elastic pool. Created once,
// immutable afterwards except through an explicit idempotent re-provision.
type PoolSpec struct {
	// Name is the pool name, unique within its server.
	Name string `json:"name" validate:"required"`

	// Edition is the pool edition (e.g. "Standard", "Premium").
	Edition string `json:"edition" validate:"required"`

	// TotalCapacityUnits is the shared capacity of the whole pool.
	TotalCapacityUnits int `json:"total_capacity_units" validate:"gt=0"`

	// PerDatabaseMin is the capacity guaranteed to each member database.
	PerDatabaseMin int `json:"per_database_min" validate:"gte=0"`

	// PerDatabaseMax is the capacity ceiling for each member database.
	PerDatabaseMax int `json:"per_database_max" validate:"gt=0"`

	// Tags are attached to the pool resource on creation.
	Tags map[string]string `json:"tags,omitempty"`
}

// Validate enforces the capacity invariant
// PerDatabaseMin <= PerDatabaseMax <= TotalCapacityUnits.
func (s PoolSpec) Validate() error {
	if s.Name == "" {
		return NewPreconditionError("pool name is required", nil).WithCode(ErrCodeInvalidSpec)
	}
	if s.TotalCapacityUnits <= 0 {
		return NewPreconditionError(
			fmt.Sprintf("pool %s: total capacity must be positive, got %d", s.Name, s.TotalCapacityUnits), nil).
			WithCode(ErrCodeInvalidSpec).WithResource(s.Name)
	}
	if s.PerDatabaseMin < 0 || s.PerDatabaseMin > s.PerDatabaseMax {
		return NewPreconditionError(
			fmt.Sprintf("pool %s: per-database min %d must be between 0 and max %d",
				s.Name, s.PerDatabaseMin, s.PerDatabaseMax), nil).
			WithCode(ErrCodeInvalidSpec).WithResource(s.Name)
	}
	if s.PerDatabaseMax > s.TotalCapacityUnits {
		return NewPreconditionError(
			fmt.Sprintf("pool %s: per-database max %d exceeds total capacity %d",
				s.Name, s.PerDatabaseMax, s.TotalCapacityUnits), nil).
			WithCode(ErrCodeInvalidSpec).WithResource(s.Name)
	}
	return nil
}

// ServerSpec is the desired configuration for the logical server hosting
// pools and databases.
type ServerSpec struct {
	// Name is the server name, unique within the resource group.
	Name string `json:"name" validate:"required"`

	// AdminUser is the administrative login created with the server.
	AdminUser string `json:"admin_user" validate:"required"`

	// Version is the server version (e.g. "12.0").
	Version string `json:"version,omitempty"`
}

// FirewallRuleSpec is one address-range rule applied to the server.
type FirewallRuleSpec struct {
	// Name identifies the rule on the server.
	Name string `json:"name" validate:"required"`

	// StartAddress is the inclusive lower bound of the allowed range.
	StartAddress string `json:"start_address" validate:"required,ip"`

	// EndAddress is the inclusive upper bound of the allowed range.
	EndAddress string `json:"end_address" validate:"required,ip"`
}

// DatabaseSpec is the desired placement for one member database.
type DatabaseSpec struct {
	// Name is the database name, unique within the server.
	Name string `json:"name" validate:"required"`

	// PoolName assigns the database to an elastic pool. Mutually exclusive
	// with Edition/ServiceObjective.
	PoolName string `json:"pool_name,omitempty"`

	// Edition is the standalone edition when no pool is assigned.
	Edition string `json:"edition,omitempty"`

	// ServiceObjective is the standalone tier when no pool is assigned.
	ServiceObjective string `json:"service_objective,omitempty"`

	// Tags are attached to the database resource on creation.
	Tags map[string]string `json:"tags,omitempty"`
}

// Validate rejects databases that declare both a pool and a standalone tier.
func (s DatabaseSpec) Validate() error {
	if s.Name == "" {
		return NewPreconditionError("database name is required", nil).WithCode(ErrCodeInvalidSpec)
	}
	if s.PoolName != "" && (s.Edition != "" || s.ServiceObjective != "") {
		return NewPreconditionError(
			fmt.Sprintf("database %s: pool assignment and standalone tier are mutually exclusive", s.Name), nil).
			WithCode(ErrCodeTargetConflict).WithResource(s.Name)
	}
	return nil
}

// InfraSpec is the full desired topology for one provisioning pass.
type InfraSpec struct {
	// ResourceGroup is the containing group for every object below.
	ResourceGroup string `json:"resource_group" validate:"required"`

	// Location is the region the group and its children are created in.
	Location string `json:"location" validate:"required"`

	// Tags are merged with poolhand's ownership metadata and applied to
	// every created object.
	Tags map[string]string `json:"tags,omitempty"`

	// Server is the logical server hosting pools and databases.
	Server ServerSpec `json:"server"`

	// FirewallRules are applied to the server. Resolution of the caller's
	// own public address is best-effort.
	FirewallRules []FirewallRuleSpec `json:"firewall_rules,omitempty"`

	// Pools are the elastic pools to ensure.
	Pools []PoolSpec `json:"pools,omitempty"`

	// Databases are the member databases to ensure.
	Databases []DatabaseSpec `json:"databases,omitempty"`
}

// ServerID returns the fully qualified server identifier.
func (s InfraSpec) ServerID() string {
	return s.ResourceGroup + "/" + s.Server.Name
}

// Validate checks the whole topology before any provider call.
func (s InfraSpec) Validate() error {
	if s.ResourceGroup == "" {
		return NewPreconditionError("resource group is required", nil).WithCode(ErrCodeInvalidSpec)
	}
	if s.Location == "" {
		return NewPreconditionError("location is required", nil).WithCode(ErrCodeInvalidSpec)
	}
	if s.Server.Name == "" {
		return NewPreconditionError("server name is required", nil).WithCode(ErrCodeInvalidSpec)
	}
	pools := make(map[string]bool, len(s.Pools))
	for _, p := range s.Pools {
		if err := p.Validate(); err != nil {
			return err
		}
		pools[p.Name] = true
	}
	for _, db := range s.Databases {
		if err := db.Validate(); err != nil {
			return err
		}
		if db.PoolName != "" && !pools[db.PoolName] {
			return NewPreconditionError(
				fmt.Sprintf("database %s references undeclared pool %s", db.Name, db.PoolName), nil).
				WithCode(ErrCodeMissingTargetPool).WithResource(db.Name)
		}
	}
	return nil
}

// TargetPlacement describes where a migration should move a database.
// Exactly one of PoolName or (Edition, ServiceObjective) must be set.
type TargetPlacement struct {
	// PoolName moves the database into the named elastic pool.
	PoolName string `json:"pool_name,omitempty"`

	// Edition retargets the database to a standalone edition.
	Edition string `json:"edition,omitempty"`

	// ServiceObjective retargets the database to a standalone tier.
	ServiceObjective string `json:"service_objective,omitempty"`
}

// ToPool returns true if the target is an elastic pool.
func (t TargetPlacement) ToPool() bool {
	return t.PoolName != ""
}

// Validate enforces the mutually exclusive target forms.
func (t TargetPlacement) Validate() error {
	pool := t.PoolName != ""
	tier := t.Edition != "" || t.ServiceObjective != ""
	switch {
	case pool && tier:
		return NewPreconditionError(
			"target pool and target tier are mutually exclusive", nil).WithCode(ErrCodeTargetConflict)
	case !pool && !tier:
		return NewPreconditionError(
			"either a target pool or a target edition/service objective is required", nil).
			WithCode(ErrCodeTargetConflict)
	case tier && (t.Edition == "" || t.ServiceObjective == ""):
		return NewPreconditionError(
			"standalone targets require both edition and service objective", nil).
			WithCode(ErrCodeInvalidSpec)
	}
	return nil
}

// MigrationRequest asks the migration state machine to move one database.
type MigrationRequest struct {
	// DatabaseID is the fully qualified database identifier
	// ("group/server/database").
	DatabaseID string `json:"database_id" validate:"required"`

	// Source optionally declares where the caller believes the database is.
	// A mismatch with the actual placement fails validation before any
	// mutation.
	Source *Placement `json:"source,omitempty"`

	// Target is the desired placement.
	Target TargetPlacement `json:"target"`

	// Timeout bounds the post-move polling phase. Zero means
	// DefaultMigrationTimeout.
	Timeout time.Duration `json:"timeout,omitempty"`

	// PollInterval is the fixed wait between status reads. Zero means
	// DefaultPollInterval.
	PollInterval time.Duration `json:"poll_interval,omitempty"`

	// ValidateOnly stops after validation and reports the database's current
	// configuration without mutating anything.
	ValidateOnly bool `json:"validate_only,omitempty"`
}

// Validate checks the request before any external call.
func (r MigrationRequest) Validate() error {
	if r.DatabaseID == "" {
		return NewPreconditionError("database id is required", nil).WithCode(ErrCodeInvalidSpec)
	}
	return r.Target.Validate()
}

// EffectiveTimeout returns the configured timeout or the default.
func (r MigrationRequest) EffectiveTimeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return DefaultMigrationTimeout
}

// EffectivePollInterval returns the configured poll interval or the default.
func (r MigrationRequest) EffectivePollInterval() time.Duration {
	if r.PollInterval > 0 {
		return r.PollInterval
	}
	return DefaultPollInterval
}

// MigrationOutcome is the terminal result of one migration run.
type MigrationOutcome struct {
	// Status is the terminal outcome.
	Status MigrationStatus `json:"status"`

	// FinalPlacement is the database's placement re-read after the terminal
	// state was reached, so the outcome reflects ground truth.
	FinalPlacement *Placement `json:"final_placement,omitempty"`

	// Elapsed is the wall time the migration took.
	Elapsed time.Duration `json:"elapsed"`

	// Reason explains failed and timed_out outcomes.
	Reason string `json:"reason,omitempty"`

	// Warnings collects best-effort step failures (backup acknowledgment).
	Warnings []string `json:"warnings,omitempty"`
}

// FragmentationRecord is an immutable snapshot of one storage structure from
// a single analysis pass.
type FragmentationRecord struct {
	// Schema is the schema owning the table.
	Schema string `json:"schema"`

	// Table is the table owning the index.
	Table string `json:"table"`

	// Index is the index name.
	Index string `json:"index"`

	// FragmentationPercent is the measured average fragmentation.
	FragmentationPercent float64 `json:"fragmentation_percent"`

	// PageCount is the structure size in pages.
	PageCount int64 `json:"page_count"`
}

// Object renders the fully qualified structure name.
func (r FragmentationRecord) Object() string {
	return fmt.Sprintf("%s.%s.%s", r.Schema, r.Table, r.Index)
}

// MaintenanceAction pairs a fragmentation record with the action the decision
// engine chose for it. Derived, never stored.
type MaintenanceAction struct {
	Record FragmentationRecord `json:"record"`
	Action ActionKind          `json:"action"`
}

// PipelineStep is one closed entry in a deployment run's audit trail.
// Appended by the pipeline runner, never mutated afterwards.
type PipelineStep struct {
	// Name is the stage name.
	Name string `json:"name"`

	// Status is the terminal step status.
	Status StepStatus `json:"status"`

	// Severity is the failure policy the stage ran under.
	Severity StepSeverity `json:"severity"`

	// Detail carries the stage's summary, skip reason, or error text.
	Detail string `json:"detail,omitempty"`

	// StartedAt is when the stage began (or was skipped).
	StartedAt time.Time `json:"started_at"`

	// Duration is how long the stage ran.
	Duration time.Duration `json:"duration"`
}

// DeploymentReport aggregates the results of one pipeline run. Derived at the
// end of the run, immutable afterwards.
type DeploymentReport struct {
	// RunID is the unique identifier of the run.
	RunID string `json:"run_id"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// Steps is the ordered audit trail, one entry per attempted or skipped
	// stage.
	Steps []PipelineStep `json:"steps"`

	// Errors is the ordered aggregate error list from tolerant and critical
	// stage failures.
	Errors []string `json:"errors,omitempty"`

	// Warnings collects best-effort failures.
	Warnings []string `json:"warnings,omitempty"`

	// TotalDuration is the wall time of the whole run.
	TotalDuration time.Duration `json:"total_duration"`

	// Overall is the run's aggregate status.
	Overall RunStatus `json:"overall"`
}
