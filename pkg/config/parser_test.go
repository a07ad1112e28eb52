package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validDeployment = `
deployment: {
	name:           "orders-prod"
	resource_group: "orders-rg"
	location:       "westeurope"
	tags: {team: "data"}
	server: {
		name:       "orders-srv"
		admin_user: "dbadmin"
		version:    "12.0"
	}
	firewall_rules: [{
		name:          "office"
		start_address: "198.51.100.0"
		end_address:   "198.51.100.255"
	}]
	pools: [{
		name:                 "standard-pool"
		edition:              "Standard"
		total_capacity_units: 100
		per_database_min:     0
		per_database_max:     20
	}]
	databases: [
		{name: "orders", pool_name: "standard-pool"},
		{name: "audit", edition: "Standard", service_objective: "S1"},
	]
	options: {
		multi_region:       true
		secondary_location: "northeurope"
		optimize:           true
	}
}
`

func TestParseInlineValid(t *testing.T) {
	p, err := NewParser()
	if err != nil {
		t.Fatalf("NewParser() error = %v", err)
	}

	cfg, err := p.ParseInline(validDeployment)
	if err != nil {
		t.Fatalf("ParseInline() error = %v", err)
	}

	if cfg.Name != "orders-prod" {
		t.Errorf("Name = %q, want %q", cfg.Name, "orders-prod")
	}
	if len(cfg.Pools) != 1 || cfg.Pools[0].PerDatabaseMax != 20 {
		t.Errorf("unexpected pools: %+v", cfg.Pools)
	}
	if len(cfg.Databases) != 2 {
		t.Fatalf("expected 2 databases, got %d", len(cfg.Databases))
	}
	if !cfg.Options.MultiRegion || cfg.Options.SecondaryLocation != "northeurope" {
		t.Errorf("unexpected options: %+v", cfg.Options)
	}

	spec := cfg.ToInfraSpec()
	if spec.ServerID() != "orders-rg/orders-srv" {
		t.Errorf("ServerID() = %q", spec.ServerID())
	}

	secondary, err := cfg.SecondaryInfraSpec()
	if err != nil {
		t.Fatalf("SecondaryInfraSpec() error = %v", err)
	}
	if secondary.ResourceGroup != "orders-rg-secondary" {
		t.Errorf("secondary group = %q", secondary.ResourceGroup)
	}
	if secondary.Location != "northeurope" {
		t.Errorf("secondary location = %q", secondary.Location)
	}
}

func TestParseInlineRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantIn  string
	}{
		{
			name: "missing resource group",
			content: `deployment: {
				name: "x", location: "westeurope"
				server: {name: "s", admin_user: "a"}
			}`,
			wantIn: "resource_group",
		},
		{
			name: "pool max exceeds total capacity",
			content: `deployment: {
				name: "x", resource_group: "rg", location: "westeurope"
				server: {name: "s", admin_user: "a"}
				pools: [{
					name: "p", edition: "Standard"
					total_capacity_units: 50
					per_database_min:     0
					per_database_max:     100
				}]
			}`,
			wantIn: "exceeds total capacity",
		},
		{
			name: "database with pool and tier",
			content: `deployment: {
				name: "x", resource_group: "rg", location: "westeurope"
				server: {name: "s", admin_user: "a"}
				pools: [{
					name: "p", edition: "Standard"
					total_capacity_units: 50
					per_database_min:     0
					per_database_max:     25
				}]
				databases: [{name: "d", pool_name: "p", edition: "Standard", service_objective: "S1"}]
			}`,
			wantIn: "mutually exclusive",
		},
		{
			name: "database references undeclared pool",
			content: `deployment: {
				name: "x", resource_group: "rg", location: "westeurope"
				server: {name: "s", admin_user: "a"}
				databases: [{name: "d", pool_name: "ghost"}]
			}`,
			wantIn: "undeclared pool",
		},
		{
			name: "multi-region without secondary location",
			content: `deployment: {
				name: "x", resource_group: "rg", location: "westeurope"
				server: {name: "s", admin_user: "a"}
				options: {multi_region: true}
			}`,
			wantIn: "secondary location",
		},
		{
			name:    "not CUE at all",
			content: `deployment: {{{`,
			wantIn:  "",
		},
	}

	p, err := NewParser()
	if err != nil {
		t.Fatalf("NewParser() error = %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.ParseInline(tt.content)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if tt.wantIn != "" && !strings.Contains(err.Error(), tt.wantIn) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.wantIn)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deploy.cue")
	if err := os.WriteFile(path, []byte(validDeployment), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := NewParser()
	if err != nil {
		t.Fatalf("NewParser() error = %v", err)
	}

	cfg, err := p.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ResourceGroup != "orders-rg" {
		t.Errorf("ResourceGroup = %q", cfg.ResourceGroup)
	}
}

func TestLoadMissingFile(t *testing.T) {
	p, err := NewParser()
	if err != nil {
		t.Fatalf("NewParser() error = %v", err)
	}
	if _, err := p.Load(filepath.Join(t.TempDir(), "absent.cue")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
