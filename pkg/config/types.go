package config

import (
	"fmt"

	"github.com/poolhand/poolhand/pkg/core"
)

// DeploymentConfig is the declarative description of one deployment, decoded
// from CUE. It carries the full topology plus the knobs controlling the
// optional pipeline stages.
type DeploymentConfig struct {
	// Name identifies the deployment in reports and notifications.
	Name string `json:"name" validate:"required"`

	// ResourceGroup is the containing group for every object.
	ResourceGroup string `json:"resource_group" validate:"required"`

	// Location is the primary region.
	Location string `json:"location" validate:"required"`

	// Tags are applied to every created object.
	Tags map[string]string `json:"tags,omitempty"`

	// Server is the logical database server.
	Server ServerConfig `json:"server" validate:"required"`

	// FirewallRules are applied to the server.
	FirewallRules []FirewallRuleConfig `json:"firewall_rules,omitempty" validate:"dive"`

	// Pools are the elastic pools to ensure.
	Pools []PoolConfig `json:"pools,omitempty" validate:"dive"`

	// Databases are the member databases to ensure.
	Databases []DatabaseConfig `json:"databases,omitempty" validate:"dive"`

	// Options controls the optional pipeline stages.
	Options OptionsConfig `json:"options,omitempty"`
}

// ServerConfig describes the logical server.
type ServerConfig struct {
	// Name is the server name, unique within the resource group.
	Name string `json:"name" validate:"required"`

	// AdminUser is the administrative login created with the server.
	AdminUser string `json:"admin_user" validate:"required"`

	// Version is the server version.
	Version string `json:"version,omitempty"`
}

// FirewallRuleConfig is one address-range rule.
type FirewallRuleConfig struct {
	Name         string `json:"name" validate:"required"`
	StartAddress string `json:"start_address" validate:"required,ip"`
	EndAddress   string `json:"end_address" validate:"required,ip"`
}

// PoolConfig describes one elastic pool.
type PoolConfig struct {
	Name               string            `json:"name" validate:"required"`
	Edition            string            `json:"edition" validate:"required"`
	TotalCapacityUnits int               `json:"total_capacity_units" validate:"gt=0"`
	PerDatabaseMin     int               `json:"per_database_min" validate:"gte=0"`
	PerDatabaseMax     int               `json:"per_database_max" validate:"gt=0"`
	Tags               map[string]string `json:"tags,omitempty"`
}

// DatabaseConfig describes one database and its placement.
type DatabaseConfig struct {
	Name             string            `json:"name" validate:"required"`
	PoolName         string            `json:"pool_name,omitempty"`
	Edition          string            `json:"edition,omitempty"`
	ServiceObjective string            `json:"service_objective,omitempty"`
	Tags             map[string]string `json:"tags,omitempty"`
}

// OptionsConfig controls the optional deployment pipeline stages.
type OptionsConfig struct {
	// MultiRegion enables the secondary infrastructure stage.
	MultiRegion bool `json:"multi_region,omitempty"`

	// SecondaryLocation is the region for secondary infrastructure. Required
	// when MultiRegion is set.
	SecondaryLocation string `json:"secondary_location,omitempty"`

	// SampleData enables the sample data seeding stage.
	SampleData bool `json:"sample_data,omitempty"`

	// Optimize enables the index optimization stage.
	Optimize bool `json:"optimize,omitempty"`

	// Monitoring enables the monitoring setup stage.
	Monitoring bool `json:"monitoring,omitempty"`

	// Automation enables the automation registration stage.
	Automation bool `json:"automation,omitempty"`

	// NotifyAddress receives the run summary notification when set.
	NotifyAddress string `json:"notify_address,omitempty"`
}

// ToInfraSpec converts the decoded configuration into the core topology the
// provisioning coordinator consumes.
func (c *DeploymentConfig) ToInfraSpec() core.InfraSpec {
	spec := core.InfraSpec{
		ResourceGroup: c.ResourceGroup,
		Location:      c.Location,
		Tags:          c.Tags,
		Server: core.ServerSpec{
			Name:      c.Server.Name,
			AdminUser: c.Server.AdminUser,
			Version:   c.Server.Version,
		},
	}
	for _, fw := range c.FirewallRules {
		spec.FirewallRules = append(spec.FirewallRules, core.FirewallRuleSpec{
			Name:         fw.Name,
			StartAddress: fw.StartAddress,
			EndAddress:   fw.EndAddress,
		})
	}
	for _, p := range c.Pools {
		spec.Pools = append(spec.Pools, core.PoolSpec{
			Name:               p.Name,
			Edition:            p.Edition,
			TotalCapacityUnits: p.TotalCapacityUnits,
			PerDatabaseMin:     p.PerDatabaseMin,
			PerDatabaseMax:     p.PerDatabaseMax,
			Tags:               p.Tags,
		})
	}
	for _, db := range c.Databases {
		spec.Databases = append(spec.Databases, core.DatabaseSpec{
			Name:             db.Name,
			PoolName:         db.PoolName,
			Edition:          db.Edition,
			ServiceObjective: db.ServiceObjective,
			Tags:             db.Tags,
		})
	}
	return spec
}

// SecondaryInfraSpec derives the secondary-region topology for multi-region
// deployments. The secondary mirrors the primary under a "-secondary" suffix.
func (c *DeploymentConfig) SecondaryInfraSpec() (core.InfraSpec, error) {
	if !c.Options.MultiRegion {
		return core.InfraSpec{}, fmt.Errorf("deployment %s is not multi-region", c.Name)
	}
	if c.Options.SecondaryLocation == "" {
		return core.InfraSpec{}, fmt.Errorf("deployment %s: secondary location is required for multi-region", c.Name)
	}
	spec := c.ToInfraSpec()
	spec.ResourceGroup = c.ResourceGroup + "-secondary"
	spec.Location = c.Options.SecondaryLocation
	spec.Server.Name = c.Server.Name + "-secondary"
	return spec, nil
}

// ValidationError is one problem found while parsing or validating
// configuration.
type ValidationError struct {
	// File is the source file, when known.
	File string `json:"file,omitempty"`

	// Line and Column locate the problem in the source.
	Line   int `json:"line,omitempty"`
	Column int `json:"column,omitempty"`

	// Path is the configuration path (e.g. "pools[0].per_database_max").
	Path string `json:"path,omitempty"`

	// Message describes the problem.
	Message string `json:"message"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	switch {
	case e.File != "" && e.Line > 0:
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	case e.Path != "":
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	default:
		return e.Message
	}
}

// ValidationErrors aggregates every problem from one parse pass.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%s (and %d more)", e[0].Error(), len(e)-1)
}
