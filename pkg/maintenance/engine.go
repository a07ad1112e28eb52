package maintenance

import (
	"context"
	"fmt"

	"github.com/poolhand/poolhand/pkg/cloud"
	"github.com/poolhand/poolhand/pkg/core"
	"github.com/poolhand/poolhand/pkg/telemetry"
)

// Fragmentation thresholds, in percent. Fixed: they follow the vendor's
// published guidance for page-compaction maintenance and are not tunable.
const (
	// RebuildThreshold is the fragmentation above which a structure is rebuilt.
	RebuildThreshold = 30.0

	// ReorganizeThreshold is the fragmentation above which a structure is
	// reorganized in place.
	ReorganizeThreshold = 10.0
)

// DefaultMinPageCount is the noise floor: structures smaller than this many
// pages report meaningless fragmentation numbers and are never touched.
const DefaultMinPageCount = 100

// Classify chooses the maintenance action for one structure. Boundary values
// fall to the milder action: exactly 10 percent is left alone, exactly 30
// percent is reorganized.
func Classify(record core.FragmentationRecord) core.ActionKind {
	switch {
	case record.FragmentationPercent > RebuildThreshold:
		return core.ActionRebuild
	case record.FragmentationPercent > ReorganizeThreshold:
		return core.ActionReorganize
	default:
		return core.ActionNone
	}
}

// Plan classifies every record. The result preserves input order and includes
// non-mutating entries so reports can show what was examined.
func Plan(records []core.FragmentationRecord) []core.MaintenanceAction {
	actions := make([]core.MaintenanceAction, 0, len(records))
	for _, r := range records {
		actions = append(actions, core.MaintenanceAction{Record: r, Action: Classify(r)})
	}
	return actions
}

// Failure records one maintenance statement that did not complete.
type Failure struct {
	// Object is the fully qualified structure name.
	Object string `json:"object"`

	// Action is what was attempted.
	Action core.ActionKind `json:"action"`

	// Err is the query-channel error.
	Err error `json:"-"`
}

// ApplyResult aggregates one maintenance pass.
type ApplyResult struct {
	// OptimizedCount is how many structures completed their action.
	OptimizedCount int `json:"optimized_count"`

	// SkippedCount is how many structures needed no action.
	SkippedCount int `json:"skipped_count"`

	// Failures lists the structures whose statement failed. Execution
	// continues past each failure.
	Failures []Failure `json:"failures,omitempty"`
}

// Engine runs index maintenance over a query channel.
type Engine struct {
	qc cloud.QueryChannel
	rc *telemetry.RunContext
}

// NewEngine creates a maintenance engine.
func NewEngine(qc cloud.QueryChannel, rc *telemetry.RunContext) *Engine {
	if rc == nil {
		rc = telemetry.NewTestRunContext("optimize")
	}
	return &Engine{qc: qc, rc: rc}
}

// Analyze fetches fragmentation statistics for the target and plans the
// maintenance pass. minPages <= 0 means DefaultMinPageCount.
func (e *Engine) Analyze(ctx context.Context, target cloud.Target, minPages int64) ([]core.MaintenanceAction, error) {
	records, err := FetchFragmentation(ctx, e.qc, target, minPages)
	if err != nil {
		return nil, err
	}
	return Plan(records), nil
}

// Apply executes every mutating action in order, continuing past individual
// failures so one locked structure does not starve the rest of the pass.
func (e *Engine) Apply(ctx context.Context, target cloud.Target, actions []core.MaintenanceAction) (*ApplyResult, error) {
	log := e.rc.Logger.NewComponentLogger("maintenance").WithDatabase(target.Database)
	result := &ApplyResult{}

	for _, action := range actions {
		if !action.Action.IsMutating() {
			result.SkippedCount++
			continue
		}

		stmt, err := BuildStatement(action)
		if err != nil {
			return nil, err
		}

		log.WithField("object", action.Record.Object()).
			WithField("action", string(action.Action)).
			Infof("fragmentation %.1f%% over %d pages",
				action.Record.FragmentationPercent, action.Record.PageCount)

		if _, err := e.qc.Execute(ctx, target, stmt); err != nil {
			e.rc.Metrics.RecordMaintenanceAction(string(action.Action), "failed")
			log.WithError(err).WithField("object", action.Record.Object()).
				Warn("maintenance statement failed, continuing")
			result.Failures = append(result.Failures, Failure{
				Object: action.Record.Object(),
				Action: action.Action,
				Err: core.NewTransportError(
					fmt.Sprintf("%s of %s failed", action.Action, action.Record.Object()), err).
					WithCode(core.ErrCodeQueryFailed).WithResource(action.Record.Object()),
			})
			continue
		}

		e.rc.Metrics.RecordMaintenanceAction(string(action.Action), "completed")
		result.OptimizedCount++
	}

	return result, nil
}
