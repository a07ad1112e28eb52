package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/poolhand/poolhand/pkg/core"
	"github.com/poolhand/poolhand/pkg/telemetry"
)

// Stage is one unit of a deployment pipeline.
type Stage struct {
	// Name identifies the stage in the report and logs.
	Name string

	// Severity is the failure policy: critical stages abort the pipeline,
	// tolerant stages record their error and let it continue, best-effort
	// stages downgrade to a warning.
	Severity core.StepSeverity

	// Condition gates the stage. Nil means always run; a false return skips
	// the stage with the given reason.
	Condition func() (bool, string)

	// Run executes the stage and returns a human-readable detail line.
	Run func(ctx context.Context) (string, error)
}

// Runner executes a deployment pipeline in declared order, producing a
// complete audit trail: every stage appears in the report exactly once, as
// completed, failed, or skipped.
type Runner struct {
	rc *telemetry.RunContext
}

// NewRunner creates a pipeline runner.
func NewRunner(rc *telemetry.RunContext) *Runner {
	if rc == nil {
		rc = telemetry.NewTestRunContext("deploy")
	}
	return &Runner{rc: rc}
}

// Execute runs the stages in order and always returns a report, even when a
// critical stage aborts the pipeline. Stages after an abort are recorded as
// skipped so the audit trail stays complete.
func (r *Runner) Execute(ctx context.Context, stages []Stage) *core.DeploymentReport {
	log := r.rc.Logger.NewComponentLogger("pipeline")
	report := &core.DeploymentReport{
		RunID:     r.rc.ID,
		StartedAt: time.Now(),
	}
	aborted := false
	abortedBy := ""

	for _, stage := range stages {
		slog := log.WithStage(stage.Name)
		started := time.Now()

		if aborted {
			report.Steps = append(report.Steps, core.PipelineStep{
				Name:      stage.Name,
				Status:    core.StepSkipped,
				Severity:  stage.Severity,
				Detail:    fmt.Sprintf("not attempted: pipeline aborted by %s", abortedBy),
				StartedAt: started,
			})
			continue
		}

		if stage.Condition != nil {
			if enabled, reason := stage.Condition(); !enabled {
				slog.WithField("reason", reason).Debug("stage skipped")
				r.rc.Metrics.RecordStage(stage.Name, string(core.StepSkipped), 0)
				report.Steps = append(report.Steps, core.PipelineStep{
					Name:      stage.Name,
					Status:    core.StepSkipped,
					Severity:  stage.Severity,
					Detail:    reason,
					StartedAt: started,
				})
				continue
			}
		}

		slog.Info("stage started")
		stageCtx, span := r.rc.Tracer.StartStageSpan(ctx, stage.Name, string(stage.Severity))
		detail, err := stage.Run(stageCtx)
		duration := time.Since(started)

		step := core.PipelineStep{
			Name:      stage.Name,
			Severity:  stage.Severity,
			Detail:    detail,
			StartedAt: started,
			Duration:  duration,
		}

		if err == nil {
			step.Status = core.StepCompleted
			slog.Infof("stage completed in %s", duration.Round(time.Millisecond))
			telemetry.RecordSuccess(span)
		} else {
			step.Status = core.StepFailed
			step.Detail = err.Error()
			telemetry.RecordError(span, err)

			switch stage.Severity {
			case core.SeverityCritical:
				slog.WithError(err).Error("critical stage failed, aborting pipeline")
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", stage.Name, err))
				aborted = true
				abortedBy = stage.Name
			case core.SeverityBestEffort:
				slog.WithError(err).Warn("best-effort stage failed")
				report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %v", stage.Name, err))
			default:
				slog.WithError(err).Error("stage failed, continuing")
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", stage.Name, err))
			}
			r.rc.Metrics.RecordError(string(classOf(err)))
		}

		span.End()
		r.rc.Metrics.RecordStage(stage.Name, string(step.Status), duration)
		report.Steps = append(report.Steps, step)
	}

	report.TotalDuration = time.Since(report.StartedAt)
	report.Overall = overall(aborted, report.Errors)
	log.WithField("overall", string(report.Overall)).
		Infof("pipeline finished: %d steps, %d errors, %d warnings",
			len(report.Steps), len(report.Errors), len(report.Warnings))
	return report
}

// overall derives the run status from the abort flag and the error list.
func overall(aborted bool, errs []string) core.RunStatus {
	switch {
	case aborted:
		return core.RunAborted
	case len(errs) > 0:
		return core.RunCompletedWithErrors
	default:
		return core.RunSuccess
	}
}

func classOf(err error) core.ErrorClass {
	switch {
	case core.IsPrecondition(err):
		return core.ErrorClassPrecondition
	case core.IsTimeout(err):
		return core.ErrorClassTimeout
	case core.IsTransport(err):
		return core.ErrorClassTransport
	default:
		return core.ErrorClassInternal
	}
}
