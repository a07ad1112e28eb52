// Package telemetry provides the observability stack for poolhand: structured
// logging via zerolog, Prometheus metrics, and OpenTelemetry tracing.
//
// Every orchestration run builds a RunContext carrying a run-scoped logger,
// the metrics collector, and the tracer. Components receive the RunContext
// (or pull it from the context.Context) rather than using globals, so
// concurrent runs in tests never interfere.
//
// Logging is structured and leveled; the console format is the default for
// interactive use and JSON for production. Metrics cover runs, pipeline
// stages, migrations, maintenance actions, and provider calls; an optional
// HTTP endpoint exposes them during long deploy runs. Tracing supports OTLP
// gRPC and stdout exporters with parent-based sampling.
package telemetry
