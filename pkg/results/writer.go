package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Writer persists run artifacts under a local results directory, using
// the same runs/<run_id>/ layout as the S3 uploader so local and
// remote copies of a run line up.
type Writer struct {
	log logrus.FieldLogger
	dir string
}

// NewWriter creates a results writer rooted at dir.
func NewWriter(log logrus.FieldLogger, dir string) *Writer {
	return &Writer{
		log: log.WithField("component", "results"),
		dir: dir,
	}
}

// RunDir returns the artifact directory for a run.
func (w *Writer) RunDir(runID string) string {
	return filepath.Join(w.dir, "runs", runID)
}

// WriteSummary writes the run summary document as indented JSON and
// returns its path.
func (w *Writer) WriteSummary(runID string, payload any) (string, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding run summary: %w", err)
	}

	path, err := w.write(runID, "summary.json", data)
	if err != nil {
		return "", err
	}

	w.log.WithFields(logrus.Fields{
		"path":  path,
		"bytes": len(data),
	}).Info("Run summary written")

	return path, nil
}

// WriteReport writes the markdown report and returns its path.
func (w *Writer) WriteReport(runID, markdown string) (string, error) {
	path, err := w.write(runID, "report.md", []byte(markdown))
	if err != nil {
		return "", err
	}

	w.log.WithField("path", path).Info("Run report written")

	return path, nil
}

func (w *Writer) write(runID, name string, data []byte) (string, error) {
	runDir := w.RunDir(runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("creating results directory: %w", err)
	}

	path := filepath.Join(runDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", name, err)
	}

	return path, nil
}
