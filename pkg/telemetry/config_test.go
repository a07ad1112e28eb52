package telemetry

import (
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "default config is valid",
			mutate: func(c *Config) {},
		},
		{
			name:   "production config is valid",
			mutate: func(c *Config) { *c = *ProductionConfig() },
		},
		{
			name:    "missing service name",
			mutate:  func(c *Config) { c.ServiceName = "" },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
		},
		{
			name:    "invalid log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: true,
		},
		{
			name:    "invalid exporter when tracing enabled",
			mutate:  func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "jaeger" },
			wantErr: true,
		},
		{
			name:    "sampling rate out of range",
			mutate:  func(c *Config) { c.Tracing.SamplingRate = 1.5 },
			wantErr: true,
		},
		{
			name:    "metrics enabled without listen address",
			mutate:  func(c *Config) { c.Metrics.Enabled = true; c.Metrics.ListenAddress = "" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDisabledMetricsAreNoOps(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	// None of these may panic on a disabled collector.
	m.RecordRunStarted("deploy")
	m.RecordRunCompleted("deploy", "success", time.Second)
	m.RecordStage("notify", "completed", time.Millisecond)
	m.RecordMigration("succeeded", time.Minute)
	m.RecordPollCycle()
	m.RecordMaintenanceAction("rebuild", "completed")
	m.RecordProviderCall("database", "get")
	m.RecordProviderError("database", "get")
	m.RecordError("transport")
}

func TestNewTestRunContext(t *testing.T) {
	rc := NewTestRunContext("migrate")
	if rc.ID == "" {
		t.Error("expected non-empty run ID")
	}
	if rc.Operation != "migrate" {
		t.Errorf("Operation = %q, want %q", rc.Operation, "migrate")
	}

	ctx := rc.WithContext(t.Context())
	if got := RunFromContext(ctx); got != rc {
		t.Error("RunFromContext did not return the installed RunContext")
	}
}
