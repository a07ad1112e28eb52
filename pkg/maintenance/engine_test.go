package maintenance

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/poolhand/poolhand/pkg/cloud"
	"github.com/poolhand/poolhand/pkg/cloud/memcloud"
	"github.com/poolhand/poolhand/pkg/core"
	"github.com/poolhand/poolhand/pkg/telemetry"
)

func record(frag float64, pages int64) core.FragmentationRecord {
	return core.FragmentationRecord{
		Schema:               "dbo",
		Table:                "orders",
		Index:                "ix_orders_created",
		FragmentationPercent: frag,
		PageCount:            pages,
	}
}

func TestClassifyBoundaries(t *testing.T) {
	tests := []struct {
		frag float64
		want core.ActionKind
	}{
		{0, core.ActionNone},
		{9.9, core.ActionNone},
		{10, core.ActionNone},       // boundary falls to the milder action
		{10.1, core.ActionReorganize},
		{29.9, core.ActionReorganize},
		{30, core.ActionReorganize}, // boundary falls to the milder action
		{30.1, core.ActionRebuild},
		{31, core.ActionRebuild},
		{99.5, core.ActionRebuild},
	}
	for _, tt := range tests {
		if got := Classify(record(tt.frag, 1000)); got != tt.want {
			t.Errorf("Classify(%.1f%%) = %s, want %s", tt.frag, got, tt.want)
		}
	}
}

func TestBuildStatement(t *testing.T) {
	tests := []struct {
		name   string
		action core.MaintenanceAction
		want   string
	}{
		{
			name:   "reorganize",
			action: core.MaintenanceAction{Record: record(15, 1000), Action: core.ActionReorganize},
			want:   "ALTER INDEX [ix_orders_created] ON [dbo].[orders] REORGANIZE",
		},
		{
			name:   "rebuild",
			action: core.MaintenanceAction{Record: record(45, 1000), Action: core.ActionRebuild},
			want:   "ALTER INDEX [ix_orders_created] ON [dbo].[orders] REBUILD",
		},
		{
			name: "closing bracket in identifier is doubled",
			action: core.MaintenanceAction{
				Record: core.FragmentationRecord{
					Schema: "dbo", Table: "odd]name", Index: "ix_1",
					FragmentationPercent: 45, PageCount: 1000,
				},
				Action: core.ActionRebuild,
			},
			want: "ALTER INDEX [ix_1] ON [dbo].[odd]]name] REBUILD",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildStatement(tt.action)
			if err != nil {
				t.Fatalf("BuildStatement() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("BuildStatement() = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := BuildStatement(core.MaintenanceAction{Record: record(5, 1000), Action: core.ActionNone}); err == nil {
		t.Error("expected error building a statement for a non-mutating action")
	}
}

func TestFetchFragmentationAppliesNoiseFloor(t *testing.T) {
	store := memcloud.New()
	store.ScriptResult("dm_db_index_physical_stats", cloud.RowSet{
		{"schema_name": "dbo", "table_name": "orders", "index_name": "ix_a", "fragmentation_percent": 42.0, "page_count": int64(5000)},
		{"schema_name": "dbo", "table_name": "orders", "index_name": "ix_tiny", "fragmentation_percent": 88.0, "page_count": int64(12)},
		{"schema_name": "dbo", "table_name": "lines", "index_name": "ix_b", "fragmentation_percent": 15.0, "page_count": int64(100)},
	})

	records, err := FetchFragmentation(context.Background(), store, cloud.Target{Database: "orders"}, 0)
	if err != nil {
		t.Fatalf("FetchFragmentation() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2 (noise floor should drop ix_tiny)", len(records))
	}
	for _, r := range records {
		if r.Index == "ix_tiny" {
			t.Error("structure below the page floor was not dropped")
		}
	}
}

func TestFetchFragmentationEmptyDatabase(t *testing.T) {
	store := memcloud.New()
	records, err := FetchFragmentation(context.Background(), store, cloud.Target{Database: "empty"}, 0)
	if err != nil {
		t.Fatalf("FetchFragmentation() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("got %d records from an empty database", len(records))
	}
}

func TestApplyContinuesPastFailures(t *testing.T) {
	store := memcloud.New()
	store.FailExec["[ix_locked]"] = errors.New("lock timeout")

	engine := NewEngine(store, telemetry.NewTestRunContext("optimize"))
	actions := []core.MaintenanceAction{
		{Record: core.FragmentationRecord{Schema: "dbo", Table: "a", Index: "ix_first", FragmentationPercent: 45, PageCount: 1000}, Action: core.ActionRebuild},
		{Record: core.FragmentationRecord{Schema: "dbo", Table: "b", Index: "ix_locked", FragmentationPercent: 45, PageCount: 1000}, Action: core.ActionRebuild},
		{Record: core.FragmentationRecord{Schema: "dbo", Table: "c", Index: "ix_last", FragmentationPercent: 20, PageCount: 1000}, Action: core.ActionReorganize},
		{Record: core.FragmentationRecord{Schema: "dbo", Table: "d", Index: "ix_fine", FragmentationPercent: 5, PageCount: 1000}, Action: core.ActionNone},
	}

	result, err := engine.Apply(context.Background(), cloud.Target{Database: "orders"}, actions)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if result.OptimizedCount != 2 {
		t.Errorf("OptimizedCount = %d, want 2", result.OptimizedCount)
	}
	if result.SkippedCount != 1 {
		t.Errorf("SkippedCount = %d, want 1", result.SkippedCount)
	}
	if len(result.Failures) != 1 || result.Failures[0].Object != "dbo.b.ix_locked" {
		t.Fatalf("Failures = %+v, want one for dbo.b.ix_locked", result.Failures)
	}
	if !strings.Contains(result.Failures[0].Err.Error(), "lock timeout") {
		t.Errorf("failure lost the original error detail: %v", result.Failures[0].Err)
	}
	// All three mutating statements were attempted.
	if len(store.Executed) != 3 {
		t.Errorf("executed %d statements, want 3", len(store.Executed))
	}
}

func TestAnalyzePlansFromLiveStatistics(t *testing.T) {
	store := memcloud.New()
	store.ScriptResult("dm_db_index_physical_stats", cloud.RowSet{
		{"schema_name": "dbo", "table_name": "orders", "index_name": "ix_hot", "fragmentation_percent": 55.0, "page_count": int64(9000)},
		{"schema_name": "dbo", "table_name": "orders", "index_name": "ix_warm", "fragmentation_percent": 12.0, "page_count": int64(400)},
	})

	engine := NewEngine(store, telemetry.NewTestRunContext("optimize"))
	actions, err := engine.Analyze(context.Background(), cloud.Target{Database: "orders"}, 0)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("got %d actions, want 2", len(actions))
	}
	if actions[0].Action != core.ActionRebuild || actions[1].Action != core.ActionReorganize {
		t.Errorf("actions = [%s %s], want [rebuild reorganize]", actions[0].Action, actions[1].Action)
	}
}
