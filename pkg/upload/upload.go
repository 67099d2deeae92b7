package upload

import (
	"context"

	"github.com/regexoor/regexoor/pkg/config"
	"github.com/sirupsen/logrus"
)

// Uploader publishes run results to remote storage.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable and writable.
	// Writes a small test object to the bucket to fail fast on misconfiguration.
	Preflight(ctx context.Context) error

	// UploadRunSummary uploads the summary document for a finished run.
	// The payload is marshaled to JSON.
	UploadRunSummary(ctx context.Context, runID string, payload any) error
}

// NewUploader returns an uploader for the given configuration, or a
// no-op uploader when uploads are not configured.
func NewUploader(
	log logrus.FieldLogger,
	cfg *config.UploadConfig,
) (Uploader, error) {
	if cfg == nil || cfg.S3 == nil || !cfg.S3.Enabled {
		return &noopUploader{
			log: log.WithField("component", "uploader"),
		}, nil
	}

	return NewS3Uploader(log, cfg.S3)
}

// noopUploader discards uploads when no remote storage is configured.
type noopUploader struct {
	log logrus.FieldLogger
}

// Ensure interface compliance.
var _ Uploader = (*noopUploader)(nil)

func (u *noopUploader) Preflight(_ context.Context) error {
	u.log.Debug("Upload not configured, skipping preflight")

	return nil
}

func (u *noopUploader) UploadRunSummary(
	_ context.Context, runID string, _ any,
) error {
	u.log.WithField("run", runID).
		Debug("Upload not configured, skipping run summary")

	return nil
}
