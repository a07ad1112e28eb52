package provision

import (
	"context"
	"fmt"

	"github.com/poolhand/poolhand/pkg/cloud"
	"github.com/poolhand/poolhand/pkg/core"
	"github.com/poolhand/poolhand/pkg/telemetry"
)

// ManagedByTag is stamped on every object poolhand creates.
const ManagedByTag = "managed-by"

// DefaultClientRuleName is the firewall rule created for the caller's own
// public address when an address resolver is available.
const DefaultClientRuleName = "poolhand-client"

// ObjectAction describes what the coordinator did for one object.
type ObjectAction string

const (
	// ActionCreated means the object was absent and has been created.
	ActionCreated ObjectAction = "created"

	// ActionExists means the object was already present and left untouched.
	ActionExists ObjectAction = "exists"

	// ActionFailed means the provider call for the object failed.
	ActionFailed ObjectAction = "failed"

	// ActionSkipped means the object was not attempted.
	ActionSkipped ObjectAction = "skipped"
)

// ObjectResult is the outcome for one infrastructure object.
type ObjectResult struct {
	// Kind is the object type.
	Kind cloud.Kind `json:"kind"`

	// ID is the fully qualified identifier.
	ID string `json:"id"`

	// Action is what the coordinator did.
	Action ObjectAction `json:"action"`

	// Err holds the failure for ActionFailed entries.
	Err error `json:"-"`
}

// Result aggregates one provisioning pass.
type Result struct {
	// Objects is the ordered per-object outcome list.
	Objects []ObjectResult `json:"objects"`

	// Warnings collects best-effort failures (firewall rules, address
	// resolution) and recorded placement drift.
	Warnings []string `json:"warnings,omitempty"`
}

// Created counts objects created in this pass.
func (r *Result) Created() int {
	n := 0
	for _, o := range r.Objects {
		if o.Action == ActionCreated {
			n++
		}
	}
	return n
}

// record appends one object outcome.
func (r *Result) record(kind cloud.Kind, id string, action ObjectAction, err error) {
	r.Objects = append(r.Objects, ObjectResult{Kind: kind, ID: id, Action: action, Err: err})
}

// Migrator moves a database to a new placement. The migration state machine
// implements it; the coordinator delegates placement drift to it when present.
type Migrator interface {
	Migrate(ctx context.Context, req core.MigrationRequest) (*core.MigrationOutcome, error)
}

// Coordinator ensures the declared topology exists, creating only what is
// absent. Re-running against converged infrastructure performs no mutations.
type Coordinator struct {
	store    cloud.ResourceStore
	resolver cloud.AddrResolver
	migrator Migrator
	rc       *telemetry.RunContext
}

// NewCoordinator creates a provisioning coordinator. Resolver and migrator
// may be nil; the default client firewall rule and drift correction degrade
// accordingly.
func NewCoordinator(store cloud.ResourceStore, resolver cloud.AddrResolver, migrator Migrator, rc *telemetry.RunContext) *Coordinator {
	if rc == nil {
		rc = telemetry.NewTestRunContext("provision")
	}
	return &Coordinator{store: store, resolver: resolver, migrator: migrator, rc: rc}
}

// EnsureInfrastructure walks the topology in dependency order: group, server,
// firewall rules, pools, then databases. Each object is checked for existence
// before any create. Group, server, pool, and database failures abort the
// pass; firewall failures degrade to warnings.
func (c *Coordinator) EnsureInfrastructure(ctx context.Context, spec core.InfraSpec) (*Result, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	log := c.rc.Logger.NewComponentLogger("provision")
	result := &Result{}
	tags := c.managedTags(spec.Tags)

	ctx, span := c.rc.Tracer.StartSpan(ctx, "provision.ensure")
	defer span.End()

	// Resource group.
	if err := c.ensure(ctx, result, cloud.ResourceSpec{
		Kind:     cloud.KindResourceGroup,
		ID:       spec.ResourceGroup,
		Location: spec.Location,
		Tags:     tags,
	}); err != nil {
		telemetry.RecordError(span, err)
		return result, err
	}

	// Server.
	serverID := spec.ServerID()
	if err := c.ensure(ctx, result, cloud.ResourceSpec{
		Kind:     cloud.KindServer,
		ID:       serverID,
		Location: spec.Location,
		Tags:     tags,
		Server:   &spec.Server,
	}); err != nil {
		telemetry.RecordError(span, err)
		return result, err
	}

	// Firewall rules, declared plus the caller's own address. Best-effort.
	for i := range spec.FirewallRules {
		rule := spec.FirewallRules[i]
		c.ensureFirewallRule(ctx, result, log, serverID, rule)
	}
	if c.resolver != nil {
		addr, err := c.resolver.PublicAddress(ctx)
		if err != nil {
			log.WithError(err).Warn("could not resolve caller public address, skipping client firewall rule")
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("client firewall rule skipped: %v", err))
		} else {
			c.ensureFirewallRule(ctx, result, log, serverID, core.FirewallRuleSpec{
				Name:         DefaultClientRuleName,
				StartAddress: addr,
				EndAddress:   addr,
			})
		}
	}

	// Pools.
	for i := range spec.Pools {
		pool := spec.Pools[i]
		if err := c.ensure(ctx, result, cloud.ResourceSpec{
			Kind: cloud.KindPool,
			ID:   cloud.JoinID(serverID, pool.Name),
			Tags: c.managedTags(pool.Tags),
			Pool: &pool,
		}); err != nil {
			telemetry.RecordError(span, err)
			return result, err
		}
	}

	// Databases. Existing databases are checked for placement drift.
	for i := range spec.Databases {
		db := spec.Databases[i]
		if err := c.ensureDatabase(ctx, result, log, serverID, db); err != nil {
			telemetry.RecordError(span, err)
			return result, err
		}
	}

	log.Infof("provisioning pass complete: %d created, %d total objects, %d warnings",
		result.Created(), len(result.Objects), len(result.Warnings))
	telemetry.RecordSuccess(span)
	return result, nil
}

// EnsureResourceGroup ensures just the containing group. The deploy pipeline
// runs it as its first critical stage so everything later has a group to
// land in.
func (c *Coordinator) EnsureResourceGroup(ctx context.Context, spec core.InfraSpec) (*Result, error) {
	if spec.ResourceGroup == "" || spec.Location == "" {
		return nil, core.NewPreconditionError("resource group and location are required", nil).
			WithCode(core.ErrCodeInvalidSpec)
	}
	result := &Result{}
	err := c.ensure(ctx, result, cloud.ResourceSpec{
		Kind:     cloud.KindResourceGroup,
		ID:       spec.ResourceGroup,
		Location: spec.Location,
		Tags:     c.managedTags(spec.Tags),
	})
	return result, err
}

// ensure checks existence and creates the object only when absent.
func (c *Coordinator) ensure(ctx context.Context, result *Result, spec cloud.ResourceSpec) error {
	c.rc.Metrics.RecordProviderCall(string(spec.Kind), "exists")
	exists, err := c.store.Exists(ctx, spec.Kind, spec.ID)
	if err != nil {
		c.rc.Metrics.RecordProviderError(string(spec.Kind), "exists")
		werr := core.NewTransportError(
			fmt.Sprintf("existence check for %s failed", spec.Kind), err).
			WithCode(core.ErrCodeProviderFailed).WithResource(spec.ID).WithOperation("exists")
		result.record(spec.Kind, spec.ID, ActionFailed, werr)
		return werr
	}
	if exists {
		result.record(spec.Kind, spec.ID, ActionExists, nil)
		return nil
	}

	c.rc.Metrics.RecordProviderCall(string(spec.Kind), "create")
	if _, err := c.store.Create(ctx, spec); err != nil {
		c.rc.Metrics.RecordProviderError(string(spec.Kind), "create")
		werr := core.NewTransportError(
			fmt.Sprintf("create %s failed", spec.Kind), err).
			WithCode(core.ErrCodeProviderFailed).WithResource(spec.ID).WithOperation("create")
		result.record(spec.Kind, spec.ID, ActionFailed, werr)
		return werr
	}
	result.record(spec.Kind, spec.ID, ActionCreated, nil)
	return nil
}

// ensureFirewallRule is the best-effort variant: failures become warnings.
func (c *Coordinator) ensureFirewallRule(ctx context.Context, result *Result, log *telemetry.Logger, serverID string, rule core.FirewallRuleSpec) {
	err := c.ensure(ctx, result, cloud.ResourceSpec{
		Kind:     cloud.KindFirewallRule,
		ID:       cloud.JoinID(serverID, rule.Name),
		Firewall: &rule,
	})
	if err != nil {
		log.WithError(err).WithField("rule", rule.Name).Warn("firewall rule not ensured")
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("firewall rule %s: %v", rule.Name, err))
	}
}

// ensureDatabase creates a missing database or reconciles the placement of an
// existing one.
func (c *Coordinator) ensureDatabase(ctx context.Context, result *Result, log *telemetry.Logger, serverID string, db core.DatabaseSpec) error {
	id := cloud.JoinID(serverID, db.Name)

	c.rc.Metrics.RecordProviderCall(string(cloud.KindDatabase), "exists")
	exists, err := c.store.Exists(ctx, cloud.KindDatabase, id)
	if err != nil {
		c.rc.Metrics.RecordProviderError(string(cloud.KindDatabase), "exists")
		werr := core.NewTransportError("existence check for database failed", err).
			WithCode(core.ErrCodeProviderFailed).WithResource(id).WithOperation("exists")
		result.record(cloud.KindDatabase, id, ActionFailed, werr)
		return werr
	}

	if !exists {
		c.rc.Metrics.RecordProviderCall(string(cloud.KindDatabase), "create")
		if _, err := c.store.Create(ctx, cloud.ResourceSpec{
			Kind:     cloud.KindDatabase,
			ID:       id,
			Tags:     c.managedTags(db.Tags),
			Database: &db,
		}); err != nil {
			c.rc.Metrics.RecordProviderError(string(cloud.KindDatabase), "create")
			werr := core.NewTransportError("create database failed", err).
				WithCode(core.ErrCodeProviderFailed).WithResource(id).WithOperation("create")
			result.record(cloud.KindDatabase, id, ActionFailed, werr)
			return werr
		}
		result.record(cloud.KindDatabase, id, ActionCreated, nil)
		return nil
	}

	result.record(cloud.KindDatabase, id, ActionExists, nil)

	// Placement drift check on the existing database.
	c.rc.Metrics.RecordProviderCall(string(cloud.KindDatabase), "get")
	snap, err := c.store.Get(ctx, cloud.KindDatabase, id)
	if err != nil {
		c.rc.Metrics.RecordProviderError(string(cloud.KindDatabase), "get")
		return core.NewTransportError("read database placement failed", err).
			WithCode(core.ErrCodeProviderFailed).WithResource(id).WithOperation("get")
	}
	if db.PoolName == "" || snap.Placement.PoolName == db.PoolName {
		return nil
	}

	log.WithDatabase(id).
		WithField("current_pool", snap.Placement.PoolName).
		WithField("desired_pool", db.PoolName).
		Warn("database placement drift detected")

	if c.migrator == nil {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("database %s is in pool %q, expected %q (no migrator configured)",
				id, snap.Placement.PoolName, db.PoolName))
		return nil
	}

	outcome, err := c.migrator.Migrate(ctx, core.MigrationRequest{
		DatabaseID: id,
		Target:     core.TargetPlacement{PoolName: db.PoolName},
	})
	if err != nil {
		return err
	}
	if outcome.Status != core.MigrationSucceeded {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("drift correction for %s ended %s: %s", id, outcome.Status, outcome.Reason))
	}
	return nil
}

// managedTags merges the caller's tags with poolhand's ownership stamp.
func (c *Coordinator) managedTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags)+1)
	for k, v := range tags {
		out[k] = v
	}
	out[ManagedByTag] = "poolhand"
	return out
}
