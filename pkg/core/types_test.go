package core

import (
	"errors"
	"testing"
	"time"
)

func TestPoolSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    PoolSpec
		wantErr bool
	}{
		{
			name: "valid spec",
			spec: PoolSpec{Name: "pool-a", Edition: "Standard", TotalCapacityUnits: 100,
				PerDatabaseMin: 0, PerDatabaseMax: 50},
			wantErr: false,
		},
		{
			name: "min equals max equals total",
			spec: PoolSpec{Name: "pool-b", Edition: "Standard", TotalCapacityUnits: 100,
				PerDatabaseMin: 100, PerDatabaseMax: 100},
			wantErr: false,
		},
		{
			name: "min above max",
			spec: PoolSpec{Name: "pool-c", Edition: "Standard", TotalCapacityUnits: 100,
				PerDatabaseMin: 60, PerDatabaseMax: 50},
			wantErr: true,
		},
		{
			name: "max above total",
			spec: PoolSpec{Name: "pool-d", Edition: "Standard", TotalCapacityUnits: 100,
				PerDatabaseMin: 0, PerDatabaseMax: 200},
			wantErr: true,
		},
		{
			name:    "missing name",
			spec:    PoolSpec{Edition: "Standard", TotalCapacityUnits: 100, PerDatabaseMax: 50},
			wantErr: true,
		},
		{
			name:    "zero capacity",
			spec:    PoolSpec{Name: "pool-e", Edition: "Standard", PerDatabaseMax: 50},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !IsPrecondition(err) {
				t.Errorf("expected precondition error, got %v", err)
			}
		})
	}
}

func TestTargetPlacementValidate(t *testing.T) {
	tests := []struct {
		name    string
		target  TargetPlacement
		wantErr bool
	}{
		{"pool target", TargetPlacement{PoolName: "pool-a"}, false},
		{"tier target", TargetPlacement{Edition: "Standard", ServiceObjective: "S2"}, false},
		{"both set", TargetPlacement{PoolName: "pool-a", Edition: "Standard", ServiceObjective: "S2"}, true},
		{"neither set", TargetPlacement{}, true},
		{"edition without objective", TargetPlacement{Edition: "Standard"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.target.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMigrationRequestDefaults(t *testing.T) {
	req := MigrationRequest{DatabaseID: "g/s/db", Target: TargetPlacement{PoolName: "pool-a"}}
	if got := req.EffectiveTimeout(); got != DefaultMigrationTimeout {
		t.Errorf("EffectiveTimeout() = %v, want %v", got, DefaultMigrationTimeout)
	}
	if got := req.EffectivePollInterval(); got != DefaultPollInterval {
		t.Errorf("EffectivePollInterval() = %v, want %v", got, DefaultPollInterval)
	}

	req.Timeout = 5 * time.Minute
	req.PollInterval = 10 * time.Second
	if got := req.EffectiveTimeout(); got != 5*time.Minute {
		t.Errorf("EffectiveTimeout() = %v, want 5m", got)
	}
	if got := req.EffectivePollInterval(); got != 10*time.Second {
		t.Errorf("EffectivePollInterval() = %v, want 10s", got)
	}
}

func TestInfraSpecValidate(t *testing.T) {
	base := InfraSpec{
		ResourceGroup: "rg-prod",
		Location:      "westeurope",
		Server:        ServerSpec{Name: "srv-1", AdminUser: "dba"},
		Pools: []PoolSpec{
			{Name: "pool-a", Edition: "Standard", TotalCapacityUnits: 100, PerDatabaseMax: 50},
		},
		Databases: []DatabaseSpec{{Name: "orders", PoolName: "pool-a"}},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
	if got := base.ServerID(); got != "rg-prod/srv-1" {
		t.Errorf("ServerID() = %q", got)
	}

	undeclared := base
	undeclared.Databases = []DatabaseSpec{{Name: "orders", PoolName: "pool-x"}}
	err := undeclared.Validate()
	if err == nil {
		t.Fatal("expected error for undeclared pool reference")
	}
	var ce *Error
	if !errors.As(err, &ce) || ce.Code != ErrCodeMissingTargetPool {
		t.Errorf("expected %s, got %v", ErrCodeMissingTargetPool, err)
	}
}

func TestDatabaseSpecMutualExclusion(t *testing.T) {
	spec := DatabaseSpec{Name: "orders", PoolName: "pool-a", Edition: "Standard"}
	if err := spec.Validate(); err == nil {
		t.Fatal("expected error for pool + tier")
	}
}
