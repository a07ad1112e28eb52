package policy

import (
	"time"
)

// Severity indicates how a violation affects the gate decision.
type Severity string

const (
	// SeverityInfo is purely informational.
	SeverityInfo Severity = "info"

	// SeverityWarning surfaces in the run report but never blocks.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the operation when the engine is enforcing.
	SeverityError Severity = "error"

	// SeverityCritical always blocks, even in advisory mode.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations at this severity deny the operation
// under the given enforcement mode.
func (s Severity) Blocking(enforcing bool) bool {
	switch s {
	case SeverityCritical:
		return true
	case SeverityError:
		return enforcing
	default:
		return false
	}
}

// Policy is a named Rego rule set evaluated against planned operations.
type Policy struct {
	// Name uniquely identifies the policy.
	Name string `json:"name"`

	// Description explains what the policy checks.
	Description string `json:"description"`

	// Rego is the policy source. Rules contribute to a `deny` set; each
	// member is an object with message, severity, and resource fields.
	Rego string `json:"rego"`

	// Severity is the default for violations that do not carry their own.
	Severity Severity `json:"severity"`

	// Enabled gates evaluation; disabled policies are kept but skipped.
	Enabled bool `json:"enabled"`

	// Tags categorize the policy.
	Tags []string `json:"tags,omitempty"`

	// Source records where the policy came from (builtin or a file path).
	Source string `json:"source,omitempty"`

	// LoadedAt is when the policy was compiled into the engine.
	LoadedAt time.Time `json:"loaded_at"`
}

// Violation is one denial produced by a policy rule.
type Violation struct {
	// Policy is the name of the policy that produced it.
	Policy string `json:"policy"`

	// Message describes what is wrong.
	Message string `json:"message"`

	// Severity is the violation's own severity.
	Severity Severity `json:"severity"`

	// Resource names the object the violation concerns, when known.
	Resource string `json:"resource,omitempty"`
}

// Result is the outcome of evaluating one input against all enabled policies.
type Result struct {
	// Allowed is false when any violation blocks under the engine's mode.
	Allowed bool `json:"allowed"`

	// Violations lists every denial, blocking or not.
	Violations []Violation `json:"violations,omitempty"`

	// Evaluated counts the policies that ran.
	Evaluated int `json:"evaluated"`

	// EvaluatedAt is when the evaluation happened.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Warnings returns the non-blocking violations as report strings.
func (r *Result) Warnings(enforcing bool) []string {
	var out []string
	for _, v := range r.Violations {
		if !v.Severity.Blocking(enforcing) {
			out = append(out, v.Policy+": "+v.Message)
		}
	}
	return out
}

// Input is the document policies evaluate. Exactly one of the operation
// fields is set per evaluation; context is always present.
type Input struct {
	// Infra is set when validating a provisioning or deployment plan.
	Infra interface{} `json:"infra,omitempty"`

	// Migration is set when validating a placement migration.
	Migration interface{} `json:"migration,omitempty"`

	// Maintenance is set when validating planned index maintenance.
	Maintenance interface{} `json:"maintenance,omitempty"`

	// Context carries run metadata every policy can see.
	Context InputContext `json:"context"`
}

// InputContext is the ambient metadata attached to every evaluation.
type InputContext struct {
	// Operation names the engine operation being gated.
	Operation string `json:"operation"`

	// Environment is the deployment environment, e.g. "production".
	Environment string `json:"environment"`

	// RunID ties the evaluation to a run.
	RunID string `json:"run_id,omitempty"`

	// Timestamp is when the operation was requested.
	Timestamp time.Time `json:"timestamp"`
}
