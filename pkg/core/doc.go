// Package core defines the domain types shared by every poolhand component:
// placements, pool and infrastructure specs, migration requests and outcomes,
// fragmentation records, pipeline steps and deployment reports, plus the
// classified error type used across the orchestration engine.
//
// Nothing in this package talks to a provider. All entities live for a single
// orchestration run; none persist across runs.
package core
