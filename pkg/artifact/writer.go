package artifact

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/poolhand/poolhand/pkg/core"
	"github.com/poolhand/poolhand/pkg/pipeline"
	"github.com/poolhand/poolhand/pkg/telemetry"
)

// Writer persists run reports as local artifact files. Each run gets its own
// directory holding the report in every rendered format.
type Writer struct {
	dir    string
	logger *telemetry.Logger
}

// NewWriter creates a writer rooted at dir. The directory is created on the
// first write.
func NewWriter(dir string, logger *telemetry.Logger) *Writer {
	if logger == nil {
		logger = telemetry.Discard()
	}
	return &Writer{dir: dir, logger: logger.NewComponentLogger("artifact")}
}

// Write renders the report as JSON and text and writes both under the run's
// artifact directory. It returns the paths written.
func (w *Writer) Write(report *core.DeploymentReport) ([]string, error) {
	runDir := filepath.Join(w.dir, report.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}

	var paths []string
	for _, format := range []string{pipeline.FormatJSON, pipeline.FormatText} {
		data, err := pipeline.Render(report, format)
		if err != nil {
			return paths, fmt.Errorf("render %s report: %w", format, err)
		}
		path := filepath.Join(runDir, "report."+extension(format))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return paths, fmt.Errorf("write %s report: %w", format, err)
		}
		paths = append(paths, path)
	}

	w.logger.WithRunID(report.RunID).Infof("report artifacts written to %s", runDir)
	return paths, nil
}

func extension(format string) string {
	switch format {
	case pipeline.FormatJSON:
		return "json"
	case pipeline.FormatYAML:
		return "yaml"
	default:
		return "txt"
	}
}
