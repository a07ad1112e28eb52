package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RunContext bundles the telemetry for one orchestration run: a run-scoped
// logger, the metrics collector, and the tracer. The CLI creates one per
// invocation and threads it through every component.
type RunContext struct {
	// ID is the unique run identifier.
	ID string

	// Operation names the run type (provision, migrate, optimize, analyze, deploy).
	Operation string

	// StartedAt is when the run began.
	StartedAt time.Time

	// Logger is the run-scoped logger.
	Logger *Logger

	// Metrics is the metrics collector.
	Metrics *Metrics

	// Tracer is the distributed tracer.
	Tracer *Tracer
}

// runContextKey is the context key for RunContext instances.
type runContextKey struct{}

// NewRunContext builds the telemetry stack for one run.
func NewRunContext(cfg *Config, operation string) (*RunContext, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.New().String()

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	logger = logger.WithRunID(runID).WithField("operation", operation)

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	rc := &RunContext{
		ID:        runID,
		Operation: operation,
		StartedAt: time.Now(),
		Logger:    logger,
		Metrics:   metrics,
		Tracer:    tracer,
	}
	rc.Metrics.RecordRunStarted(operation)
	return rc, nil
}

// NewTestRunContext builds a RunContext that discards all telemetry.
func NewTestRunContext(operation string) *RunContext {
	metrics, _ := NewMetrics(MetricsConfig{})
	tracer, _ := NewTracer(TracingConfig{}, "poolhand", "test", "test")
	return &RunContext{
		ID:        uuid.New().String(),
		Operation: operation,
		StartedAt: time.Now(),
		Logger:    Discard(),
		Metrics:   metrics,
		Tracer:    tracer,
	}
}

// Elapsed returns the time since the run started.
func (rc *RunContext) Elapsed() time.Duration {
	return time.Since(rc.StartedAt)
}

// Close records run completion and flushes the tracer. Status is the
// terminal run status string.
func (rc *RunContext) Close(ctx context.Context, status string) error {
	rc.Metrics.RecordRunCompleted(rc.Operation, status, rc.Elapsed())
	return rc.Tracer.Shutdown(ctx)
}

// WithContext adds the RunContext to the context.
func (rc *RunContext) WithContext(ctx context.Context) context.Context {
	return context.WithValue(rc.Logger.WithContext(ctx), runContextKey{}, rc)
}

// RunFromContext retrieves the RunContext from the context, or nil.
func RunFromContext(ctx context.Context) *RunContext {
	rc, _ := ctx.Value(runContextKey{}).(*RunContext)
	return rc
}
