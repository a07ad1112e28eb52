package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for poolhand. A disabled config yields
// a no-op instance so callers never need nil checks.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Pipeline stage metrics
	stagesExecuted *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec

	// Migration metrics
	migrationsCompleted *prometheus.CounterVec
	migrationDuration   *prometheus.HistogramVec
	pollCycles          prometheus.Counter

	// Maintenance metrics
	maintenanceActions *prometheus.CounterVec

	// Provider metrics
	providerCalls  *prometheus.CounterVec
	providerErrors *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	// System metrics
	activeRuns prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of orchestration runs started",
			},
			[]string{"operation"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of orchestration runs completed",
			},
			[]string{"operation", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of orchestration runs in seconds",
				Buckets:   buckets,
			},
			[]string{"operation", "status"},
		),

		stagesExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_stages_total",
				Help:      "Total number of pipeline stages by terminal status",
			},
			[]string{"stage", "status"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_stage_duration_seconds",
				Help:      "Duration of pipeline stages in seconds",
				Buckets:   buckets,
			},
			[]string{"stage"},
		),

		migrationsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "migrations_completed_total",
				Help:      "Total number of database migrations by terminal status",
			},
			[]string{"status"},
		),
		migrationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "migration_duration_seconds",
				Help:      "Duration of database migrations in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		pollCycles: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "migration_poll_cycles_total",
				Help:      "Total number of migration poll cycles",
			},
		),

		maintenanceActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "maintenance_actions_total",
				Help:      "Total number of index maintenance actions executed",
			},
			[]string{"action", "status"},
		),

		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Total number of provider calls",
			},
			[]string{"kind", "operation"},
		),
		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_errors_total",
				Help:      "Total number of provider errors",
			},
			[]string{"kind", "operation"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),

		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active orchestration runs",
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.stagesExecuted,
		m.stageDuration,
		m.migrationsCompleted,
		m.migrationDuration,
		m.pollCycles,
		m.maintenanceActions,
		m.providerCalls,
		m.providerErrors,
		m.errorsByClass,
		m.activeRuns,
	)

	return m, nil
}

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(operation string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(operation).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(operation, status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(operation, status).Inc()
	m.runDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// RecordStage records one pipeline stage outcome.
func (m *Metrics) RecordStage(stage, status string, duration time.Duration) {
	if m.stagesExecuted == nil {
		return
	}
	m.stagesExecuted.WithLabelValues(stage, status).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordMigration records one migration outcome.
func (m *Metrics) RecordMigration(status string, duration time.Duration) {
	if m.migrationsCompleted == nil {
		return
	}
	m.migrationsCompleted.WithLabelValues(status).Inc()
	m.migrationDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordPollCycle counts one migration poll cycle.
func (m *Metrics) RecordPollCycle() {
	if m.pollCycles == nil {
		return
	}
	m.pollCycles.Inc()
}

// RecordMaintenanceAction records one executed maintenance action.
func (m *Metrics) RecordMaintenanceAction(action, status string) {
	if m.maintenanceActions == nil {
		return
	}
	m.maintenanceActions.WithLabelValues(action, status).Inc()
}

// RecordProviderCall records a provider call.
func (m *Metrics) RecordProviderCall(kind, operation string) {
	if m.providerCalls == nil {
		return
	}
	m.providerCalls.WithLabelValues(kind, operation).Inc()
}

// RecordProviderError records a provider error.
func (m *Metrics) RecordProviderError(kind, operation string) {
	if m.providerErrors == nil {
		return
	}
	m.providerErrors.WithLabelValues(kind, operation).Inc()
}

// RecordError records an error by class.
func (m *Metrics) RecordError(class string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server exposing metrics for the duration
// of a long deploy run. Errors after startup are logged by the caller's
// logger, never fatal.
func (m *Metrics) StartMetricsServer(logger *Logger) error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Warn("metrics server stopped")
		}
	}()

	return nil
}
