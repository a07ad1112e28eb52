package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/poolhand/poolhand/pkg/core"
	"github.com/poolhand/poolhand/pkg/telemetry"
)

func okStage(name string, severity core.StepSeverity, ran *[]string) Stage {
	return Stage{
		Name:     name,
		Severity: severity,
		Run: func(context.Context) (string, error) {
			*ran = append(*ran, name)
			return "ok", nil
		},
	}
}

func failStage(name string, severity core.StepSeverity, ran *[]string) Stage {
	return Stage{
		Name:     name,
		Severity: severity,
		Run: func(context.Context) (string, error) {
			*ran = append(*ran, name)
			return "", errors.New(name + " exploded")
		},
	}
}

func TestTolerantFailuresDoNotStopThePipeline(t *testing.T) {
	var ran []string
	r := NewRunner(telemetry.NewTestRunContext("deploy"))

	report := r.Execute(context.Background(), []Stage{
		okStage("one", core.SeverityCritical, &ran),
		failStage("two", core.SeverityTolerant, &ran),
		okStage("three", core.SeverityTolerant, &ran),
		failStage("four", core.SeverityTolerant, &ran),
		okStage("five", core.SeverityTolerant, &ran),
	})

	if len(ran) != 5 {
		t.Fatalf("ran %v, want all five stages attempted", ran)
	}
	if report.Overall != core.RunCompletedWithErrors {
		t.Errorf("overall = %s, want completed_with_errors", report.Overall)
	}
	if len(report.Errors) != 2 {
		t.Errorf("errors = %v, want 2 entries", report.Errors)
	}
	if len(report.Steps) != 5 {
		t.Errorf("steps = %d, want 5", len(report.Steps))
	}
}

func TestCriticalFailureAbortsAndRecordsRemaining(t *testing.T) {
	var ran []string
	r := NewRunner(telemetry.NewTestRunContext("deploy"))

	report := r.Execute(context.Background(), []Stage{
		okStage("setup", core.SeverityCritical, &ran),
		failStage("core-infra", core.SeverityCritical, &ran),
		okStage("later", core.SeverityTolerant, &ran),
		okStage("last", core.SeverityBestEffort, &ran),
	})

	if len(ran) != 2 {
		t.Fatalf("ran %v, want execution to stop after the critical failure", ran)
	}
	if report.Overall != core.RunAborted {
		t.Errorf("overall = %s, want aborted", report.Overall)
	}
	// Audit trail still has one entry per declared stage.
	if len(report.Steps) != 4 {
		t.Fatalf("steps = %d, want 4", len(report.Steps))
	}
	for _, step := range report.Steps[2:] {
		if step.Status != core.StepSkipped {
			t.Errorf("step %s status = %s, want skipped", step.Name, step.Status)
		}
		if !strings.Contains(step.Detail, "core-infra") {
			t.Errorf("step %s detail %q does not name the aborting stage", step.Name, step.Detail)
		}
	}
}

func TestBestEffortFailureIsWarning(t *testing.T) {
	var ran []string
	r := NewRunner(telemetry.NewTestRunContext("deploy"))

	report := r.Execute(context.Background(), []Stage{
		okStage("work", core.SeverityCritical, &ran),
		failStage("notify", core.SeverityBestEffort, &ran),
	})

	if report.Overall != core.RunSuccess {
		t.Errorf("overall = %s, want success despite best-effort failure", report.Overall)
	}
	if len(report.Errors) != 0 {
		t.Errorf("errors = %v, want none", report.Errors)
	}
	if len(report.Warnings) != 1 {
		t.Errorf("warnings = %v, want one", report.Warnings)
	}
}

func TestConditionSkipsStage(t *testing.T) {
	var ran []string
	r := NewRunner(telemetry.NewTestRunContext("deploy"))

	report := r.Execute(context.Background(), []Stage{
		{
			Name:     "optional",
			Severity: core.SeverityTolerant,
			Condition: func() (bool, string) {
				return false, "feature disabled"
			},
			Run: func(context.Context) (string, error) {
				ran = append(ran, "optional")
				return "", nil
			},
		},
	})

	if len(ran) != 0 {
		t.Fatal("skipped stage was executed")
	}
	if report.Steps[0].Status != core.StepSkipped || report.Steps[0].Detail != "feature disabled" {
		t.Errorf("step = %+v, want skipped with the condition's reason", report.Steps[0])
	}
	if report.Overall != core.RunSuccess {
		t.Errorf("overall = %s, want success", report.Overall)
	}
}

func TestEmptyPipelineSucceeds(t *testing.T) {
	r := NewRunner(telemetry.NewTestRunContext("deploy"))
	report := r.Execute(context.Background(), nil)
	if report.Overall != core.RunSuccess {
		t.Errorf("overall = %s, want success", report.Overall)
	}
}

func TestRenderRoundTrips(t *testing.T) {
	var ran []string
	r := NewRunner(telemetry.NewTestRunContext("deploy"))
	report := r.Execute(context.Background(), []Stage{
		okStage("one", core.SeverityCritical, &ran),
		failStage("two", core.SeverityTolerant, &ran),
	})

	jsonOut, err := Render(report, FormatJSON)
	if err != nil {
		t.Fatalf("Render(json) error = %v", err)
	}
	var fromJSON core.DeploymentReport
	if err := json.Unmarshal(jsonOut, &fromJSON); err != nil {
		t.Fatalf("JSON output does not parse: %v", err)
	}
	if fromJSON.Overall != report.Overall || len(fromJSON.Steps) != len(report.Steps) {
		t.Errorf("JSON round trip lost data: %+v", fromJSON)
	}

	yamlOut, err := Render(report, FormatYAML)
	if err != nil {
		t.Fatalf("Render(yaml) error = %v", err)
	}
	var fromYAML map[string]interface{}
	if err := yaml.Unmarshal(yamlOut, &fromYAML); err != nil {
		t.Fatalf("YAML output does not parse: %v", err)
	}

	text, err := Render(report, FormatText)
	if err != nil {
		t.Fatalf("Render(text) error = %v", err)
	}
	for _, want := range []string{report.RunID, "one", "two", "two exploded"} {
		if !strings.Contains(string(text), want) {
			t.Errorf("text report missing %q", want)
		}
	}

	if _, err := Render(report, "csv"); err == nil {
		t.Error("expected error for unsupported format")
	}
}
