package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/poolhand/poolhand/pkg/core"
)

// compiledPolicy pairs a policy with its prepared query.
type compiledPolicy struct {
	policy   Policy
	prepared rego.PreparedEvalQuery
}

// Engine evaluates Rego policies against planned operations. In enforcing
// mode, error and critical violations deny the operation; in advisory mode
// only critical violations do, everything else degrades to warnings.
type Engine struct {
	mu        sync.RWMutex
	policies  map[string]*compiledPolicy
	enforcing bool
	logger    zerolog.Logger
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger, enforcing bool) (*Engine, error) {
	e := &Engine{
		policies:  make(map[string]*compiledPolicy),
		enforcing: enforcing,
		logger:    logger.With().Str("component", "policy-engine").Logger(),
	}
	for _, p := range BuiltinPolicies() {
		if err := e.AddPolicy(p); err != nil {
			return nil, fmt.Errorf("builtin policy %s: %w", p.Name, err)
		}
	}
	return e, nil
}

// Enforcing reports the engine's enforcement mode.
func (e *Engine) Enforcing() bool {
	return e.enforcing
}

// AddPolicy compiles and registers a policy, replacing any previous version
// with the same name.
func (e *Engine) AddPolicy(p Policy) error {
	module, err := ast.ParseModule(p.Name+".rego", p.Rego)
	if err != nil {
		return fmt.Errorf("parse policy %s: %w", p.Name, err)
	}

	query := module.Package.Path.String() + ".deny"
	prepared, err := rego.New(
		rego.Query(query),
		rego.Module(p.Name+".rego", p.Rego),
	).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("compile policy %s: %w", p.Name, err)
	}

	if p.Severity == "" {
		p.Severity = SeverityWarning
	}
	p.LoadedAt = time.Now()

	e.mu.Lock()
	e.policies[p.Name] = &compiledPolicy{policy: p, prepared: prepared}
	e.mu.Unlock()

	e.logger.Debug().
		Str("policy", p.Name).
		Str("query", query).
		Msg("policy compiled")
	return nil
}

// RemovePolicy unregisters a policy by name.
func (e *Engine) RemovePolicy(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.policies[name]; !ok {
		return false
	}
	delete(e.policies, name)
	return true
}

// ReplaceLoaded swaps every file-sourced policy for the given set, keeping
// builtins. The loader calls it on hot reload.
func (e *Engine) ReplaceLoaded(policies []Policy) error {
	e.mu.Lock()
	for name, cp := range e.policies {
		if cp.policy.Source != SourceBuiltin {
			delete(e.policies, name)
		}
	}
	e.mu.Unlock()

	for _, p := range policies {
		if err := e.AddPolicy(p); err != nil {
			return err
		}
	}
	return nil
}

// GetPolicy returns a registered policy by name.
func (e *Engine) GetPolicy(name string) (Policy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cp, ok := e.policies[name]
	if !ok {
		return Policy{}, false
	}
	return cp.policy, true
}

// ListPolicies returns all registered policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		out = append(out, cp.policy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetEnabled toggles a policy without recompiling it.
func (e *Engine) SetEnabled(name string, enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp, ok := e.policies[name]
	if !ok {
		return false
	}
	cp.policy.Enabled = enabled
	return true
}

// Evaluate runs every enabled policy against the input and aggregates the
// violations. It never denies by itself; Gate applies the enforcement mode.
func (e *Engine) Evaluate(ctx context.Context, input Input) (*Result, error) {
	start := time.Now()
	if input.Context.Timestamp.IsZero() {
		input.Context.Timestamp = start
	}

	e.mu.RLock()
	compiled := make([]*compiledPolicy, 0, len(e.policies))
	for _, cp := range e.policies {
		if cp.policy.Enabled {
			compiled = append(compiled, cp)
		}
	}
	e.mu.RUnlock()

	result := &Result{Allowed: true, EvaluatedAt: start}
	for _, cp := range compiled {
		violations, err := e.evaluateOne(ctx, cp, input)
		if err != nil {
			return nil, fmt.Errorf("evaluate policy %s: %w", cp.policy.Name, err)
		}
		result.Violations = append(result.Violations, violations...)
		result.Evaluated++
	}

	sort.SliceStable(result.Violations, func(i, j int) bool {
		return result.Violations[i].Policy < result.Violations[j].Policy
	})
	for _, v := range result.Violations {
		if v.Severity.Blocking(e.enforcing) {
			result.Allowed = false
			break
		}
	}
	result.Duration = time.Since(start)

	e.logger.Debug().
		Int("policies", result.Evaluated).
		Int("violations", len(result.Violations)).
		Bool("allowed", result.Allowed).
		Str("operation", input.Context.Operation).
		Msg("policy evaluation complete")
	return result, nil
}

// Gate evaluates the input and converts a blocked result into a policy
// denial error carrying the blocking violations.
func (e *Engine) Gate(ctx context.Context, input Input) (*Result, error) {
	result, err := e.Evaluate(ctx, input)
	if err != nil {
		return nil, core.NewInternalError("policy evaluation failed", err).
			WithOperation(input.Context.Operation)
	}
	if result.Allowed {
		return result, nil
	}

	var blocking []string
	for _, v := range result.Violations {
		if v.Severity.Blocking(e.enforcing) {
			blocking = append(blocking, v.Policy+": "+v.Message)
		}
	}
	return result, core.NewPreconditionError(
		fmt.Sprintf("denied by policy: %d violation(s)", len(blocking)), nil).
		WithCode(core.ErrCodePolicyDenied).
		WithOperation(input.Context.Operation).
		WithDetail("violations", blocking)
}

// evaluateOne runs a single prepared policy and decodes its deny set.
func (e *Engine) evaluateOne(ctx context.Context, cp *compiledPolicy, input Input) ([]Violation, error) {
	rs, err := cp.prepared.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, res := range rs {
		for _, expr := range res.Expressions {
			values, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, raw := range values {
				violations = append(violations, e.decodeViolation(cp.policy, raw))
			}
		}
	}
	return violations, nil
}

// decodeViolation converts one deny-set member into a Violation. Members are
// either plain strings or objects with message, severity, and resource.
func (e *Engine) decodeViolation(p Policy, raw interface{}) Violation {
	v := Violation{Policy: p.Name, Severity: p.Severity}

	switch value := raw.(type) {
	case string:
		v.Message = value
	case map[string]interface{}:
		if msg, ok := value["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := value["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
		if res, ok := value["resource"].(string); ok {
			v.Resource = res
		}
	default:
		v.Message = fmt.Sprintf("%v", raw)
	}

	if v.Message == "" {
		v.Message = "policy " + p.Name + " denied the operation"
	}
	return v
}
