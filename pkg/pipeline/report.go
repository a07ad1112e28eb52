package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/poolhand/poolhand/pkg/core"
)

// Report formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Render serializes a deployment report in the requested format.
func Render(report *core.DeploymentReport, format string) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(report, "", "  ")
	case FormatYAML:
		return yaml.Marshal(report)
	case FormatText, "":
		return renderText(report), nil
	default:
		return nil, fmt.Errorf("unsupported report format: %s", format)
	}
}

// renderText renders the human-readable report.
func renderText(report *core.DeploymentReport) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "Deployment run %s\n", report.RunID)
	fmt.Fprintf(&b, "Started:  %s\n", report.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Duration: %s\n", report.TotalDuration.Round(time.Millisecond))
	fmt.Fprintf(&b, "Overall:  %s\n\n", report.Overall)

	fmt.Fprintf(&b, "Steps:\n")
	for _, step := range report.Steps {
		fmt.Fprintf(&b, "  %-28s %-10s %-12s %s", step.Name, step.Status, step.Severity,
			step.Duration.Round(time.Millisecond))
		if step.Detail != "" {
			fmt.Fprintf(&b, "  %s", step.Detail)
		}
		fmt.Fprintln(&b)
	}

	if len(report.Errors) > 0 {
		fmt.Fprintf(&b, "\nErrors:\n")
		for _, e := range report.Errors {
			fmt.Fprintf(&b, "  - %s\n", e)
		}
	}
	if len(report.Warnings) > 0 {
		fmt.Fprintf(&b, "\nWarnings:\n")
		for _, w := range report.Warnings {
			fmt.Fprintf(&b, "  - %s\n", w)
		}
	}

	return []byte(b.String())
}
