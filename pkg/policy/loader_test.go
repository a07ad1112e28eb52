package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const fileRego = `# Pools must not be declared without an edition.
package poolhand.policies.edition

import rego.v1

deny contains violation if {
	some pool in input.infra.pools
	pool.edition == ""
	violation := {
		"message": sprintf("pool %s declares no edition", [pool.name]),
		"severity": "error",
		"resource": pool.name,
	}
}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadRegoFromDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "edition-required.rego", fileRego)
	writeFile(t, dir, "notes.txt", "not a policy")

	l := NewLoader(zerolog.Nop())
	policies, err := l.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths() error = %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("loaded %d policies, want 1", len(policies))
	}

	p := policies[0]
	if p.Name != "edition-required" {
		t.Errorf("name = %q, want edition-required", p.Name)
	}
	if p.Description != "Pools must not be declared without an edition." {
		t.Errorf("description = %q", p.Description)
	}
	if !p.Enabled || p.Severity != SeverityWarning {
		t.Errorf("policy = %+v, want enabled with default warning severity", p)
	}
}

func TestLoadJSONPolicy(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "strict.json", `{
		"name": "strict-editions",
		"description": "Only Standard pools are allowed.",
		"rego": "package poolhand.policies.strict\n\nimport rego.v1\n\ndeny contains msg if {\n\tsome pool in input.infra.pools\n\tpool.edition != \"Standard\"\n\tmsg := sprintf(\"pool %s is not Standard\", [pool.name])\n}\n",
		"severity": "error",
		"enabled": true
	}`)

	l := NewLoader(zerolog.Nop())
	policies, err := l.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths() error = %v", err)
	}
	if len(policies) != 1 || policies[0].Name != "strict-editions" || policies[0].Severity != SeverityError {
		t.Fatalf("policies = %+v", policies)
	}
}

func TestMalformedJSONIsSkippedInDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.rego", fileRego)
	writeFile(t, dir, "bad.json", `{not json`)

	l := NewLoader(zerolog.Nop())
	policies, err := l.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths() error = %v", err)
	}
	if len(policies) != 1 || policies[0].Name != "good" {
		t.Fatalf("policies = %+v, want only the good file", policies)
	}
}

func TestMissingPathFails(t *testing.T) {
	l := NewLoader(zerolog.Nop())
	if _, err := l.LoadFromPaths(context.Background(), []string{"/does/not/exist"}); err == nil {
		t.Fatal("LoadFromPaths() succeeded on a missing path")
	}
}

func TestLoadedPoliciesCompileIntoEngine(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "edition-required.rego", fileRego)

	l := NewLoader(zerolog.Nop())
	policies, err := l.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatal(err)
	}

	e := newTestEngine(t, true)
	if err := e.ReplaceLoaded(policies); err != nil {
		t.Fatalf("ReplaceLoaded() error = %v", err)
	}
	if got := len(e.ListPolicies()); got != 4 {
		t.Fatalf("policies = %d, want 3 builtins plus 1 loaded", got)
	}

	// String deny members inherit the policy's own severity; object members
	// carry their embedded one. The loaded file uses objects with "error".
	spec := infraWithPool(20, 100)
	spec.Pools[0].Edition = ""
	if _, err := e.Gate(context.Background(), Input{Infra: spec, Context: InputContext{Operation: "provision"}}); err == nil {
		t.Fatal("loaded policy did not deny a pool without an edition")
	}
}

func TestReplaceLoadedKeepsBuiltins(t *testing.T) {
	e := newTestEngine(t, true)
	if err := e.ReplaceLoaded(nil); err != nil {
		t.Fatal(err)
	}
	if got := len(e.ListPolicies()); got != 3 {
		t.Fatalf("policies = %d after replacing with empty set, want the 3 builtins", got)
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "edition-required.rego", fileRego)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewLoader(zerolog.Nop())
	reloaded := make(chan []Policy, 1)
	err := l.Watch(ctx, []string{dir}, func(policies []Policy) error {
		select {
		case reloaded <- policies:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer func() { _ = l.StopWatching() }()

	writeFile(t, dir, "second.rego", fileRego)

	select {
	case policies := <-reloaded:
		if len(policies) != 2 {
			t.Errorf("reload delivered %d policies, want 2", len(policies))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload within 5s of a policy file change")
	}
}
