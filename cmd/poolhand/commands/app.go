package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/poolhand/poolhand/pkg/cloud/memcloud"
	"github.com/poolhand/poolhand/pkg/config"
	"github.com/poolhand/poolhand/pkg/policy"
	"github.com/poolhand/poolhand/pkg/stores"
	"github.com/poolhand/poolhand/pkg/telemetry"
)

// app bundles the collaborators every command needs: a run context, the
// provider store, the policy engine, and the optional history store.
type app struct {
	rc      *telemetry.RunContext
	store   *memcloud.Store
	engine  *policy.Engine
	history *stores.SQLiteStore
}

// newApp wires up a command invocation. The returned cleanup closes the run
// context and the history store.
func newApp(ctx context.Context, operation string) (*app, func(), error) {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = buildVersion
	cfg.Environment = environment
	if verbose {
		cfg.Logging.Level = "debug"
	}

	rc, err := telemetry.NewRunContext(cfg, operation)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize telemetry: %w", err)
	}

	engine, err := policy.NewEngine(rc.Logger.Zerolog(), enforce)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize policy engine: %w", err)
	}
	if policyDir != "" {
		loader := policy.NewLoader(rc.Logger.Zerolog())
		policies, err := loader.LoadFromPaths(ctx, []string{policyDir})
		if err != nil {
			return nil, nil, fmt.Errorf("load policies: %w", err)
		}
		if err := engine.ReplaceLoaded(policies); err != nil {
			return nil, nil, fmt.Errorf("compile policies: %w", err)
		}
	}

	a := &app{rc: rc, store: memcloud.New(), engine: engine}

	if historyPath != "" {
		history, err := stores.NewSQLiteStore(stores.Config{Path: historyPath})
		if err != nil {
			return nil, nil, err
		}
		if err := history.Init(ctx); err != nil {
			return nil, nil, fmt.Errorf("open history store: %w", err)
		}
		if err := history.Migrate(ctx); err != nil {
			_ = history.Close()
			return nil, nil, fmt.Errorf("migrate history store: %w", err)
		}
		a.history = history
	}

	cleanup := func() {
		if a.history != nil {
			_ = a.history.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rc.Close(shutdownCtx, "done")
	}
	return a, cleanup, nil
}

// policyInput builds the shared evaluation context for this invocation.
func (a *app) policyInput(operation string) policy.InputContext {
	return policy.InputContext{
		Operation:   operation,
		Environment: environment,
		RunID:       a.rc.ID,
		Timestamp:   time.Now(),
	}
}

// beginRun records the run in history, when history is enabled.
func (a *app) beginRun(ctx context.Context, operation string) {
	if a.history == nil {
		return
	}
	err := a.history.CreateRun(ctx, &stores.RunRecord{
		ID:          a.rc.ID,
		Operation:   operation,
		Environment: environment,
		StartedAt:   a.rc.StartedAt,
	})
	if err != nil {
		a.rc.Logger.WithError(err).Warn("could not record run start in history")
	}
}

// loadConfig parses and validates a deployment configuration.
func loadConfig(path string) (*config.DeploymentConfig, error) {
	parser, err := config.NewParser()
	if err != nil {
		return nil, fmt.Errorf("initialize parser: %w", err)
	}
	return parser.Load(path)
}

// printStructured renders v as JSON or YAML per the --output flag. It returns
// false when the format is text so callers fall through to their own output.
func printStructured(v interface{}) (bool, error) {
	switch outputFormat {
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return true, err
		}
		fmt.Fprintln(os.Stdout, string(data))
		return true, nil
	case "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return true, err
		}
		fmt.Fprint(os.Stdout, string(data))
		return true, nil
	default:
		return false, nil
	}
}

// printPolicyWarnings surfaces non-blocking violations on stderr.
func (a *app) printPolicyWarnings(result *policy.Result) {
	for _, w := range result.Warnings(a.engine.Enforcing()) {
		fmt.Fprintf(os.Stderr, "policy warning: %s\n", w)
	}
}
