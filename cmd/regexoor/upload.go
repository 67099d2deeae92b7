package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/regexoor/regexoor/pkg/diag"
	"github.com/regexoor/regexoor/pkg/results"
	"github.com/regexoor/regexoor/pkg/store"
	"github.com/regexoor/regexoor/pkg/upload"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <run-id>",
	Short: "Upload a run summary to remote storage",
	Long: `Build the summary document for a run and upload it to the configured
S3-compatible storage. Useful to re-publish a run after a failed upload.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
}

// runPayload is the summary document for one run, shared by the local
// results writer, the S3 upload and `status --json`.
type runPayload struct {
	Summary    *diag.RunSummary      `json:"summary"`
	Profile    *store.SystemProfile  `json:"system_profile,omitempty"`
	Engines    []results.EngineStats `json:"engine_stats,omitempty"`
	FailedJobs []diag.JobSample      `json:"failed_jobs,omitempty"`
}

func runUpload(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.Upload == nil || cfg.Upload.S3 == nil || !cfg.Upload.S3.Enabled {
		return fmt.Errorf("S3 upload is not configured or not enabled in config")
	}

	runID := args[0]
	ctx := cmd.Context()

	st := store.NewStore(log, &cfg.Database)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() {
		if err := st.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop store")
		}
	}()

	payload, err := buildRunPayload(ctx, diag.New(log, st), st, runID)
	if err != nil {
		return err
	}

	uploader, err := upload.NewS3Uploader(log, cfg.Upload.S3)
	if err != nil {
		return fmt.Errorf("creating S3 uploader: %w", err)
	}

	if err := uploader.Preflight(ctx); err != nil {
		return fmt.Errorf("upload preflight check failed: %w", err)
	}

	if err := uploader.UploadRunSummary(ctx, runID, payload); err != nil {
		return fmt.Errorf("uploading run summary: %w", err)
	}

	log.Info("Upload completed successfully")

	return nil
}

// buildRunPayload assembles the summary document for a run. A missing
// system profile downgrades to a warning so stale runs still upload.
func buildRunPayload(
	ctx context.Context,
	d *diag.Diagnostics,
	st store.Store,
	runID string,
) (*runPayload, error) {
	summary, err := d.RunSummary(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("summarizing run: %w", err)
	}

	jobs, err := st.ListJobs(ctx, runID, "", 0)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}

	failed, err := d.FailedJobs(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("sampling failed jobs: %w", err)
	}

	var profile *store.SystemProfile

	if summary.Run.SystemProfileID != "" {
		profile, err = st.GetProfile(ctx, summary.Run.SystemProfileID)
		if err != nil {
			log.WithError(err).Warn("Failed to load system profile")

			profile = nil
		}
	}

	return &runPayload{
		Summary:    summary,
		Profile:    profile,
		Engines:    results.Aggregate(jobs),
		FailedJobs: failed,
	}, nil
}
