package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/regexoor/regexoor/pkg/diag"
	"github.com/regexoor/regexoor/pkg/store"
)

var statusJSON bool

// failedSampleLimit caps how many failed jobs the report lists.
const failedSampleLimit = 10

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show run status",
	Long: `Show the job status histogram, timeline, and failure samples for a
run, or list all runs when no run id is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false,
		"emit JSON instead of text")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

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

	if len(args) == 0 {
		return listRuns(ctx, st)
	}

	payload, err := buildRunPayload(ctx, diag.New(log, st), st, args[0])
	if err != nil {
		return err
	}

	if statusJSON {
		return printJSON(payload)
	}

	printRunReport(payload)

	return nil
}

// listRuns prints all runs, newest first.
func listRuns(ctx context.Context, st store.Store) error {
	runs, err := st.ListRuns(ctx)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}

	if statusJSON {
		return printJSON(runs)
	}

	if len(runs) == 0 {
		fmt.Println("No runs found.")

		return nil
	}

	fmt.Printf("%-36s  %-24s  %-20s  %s\n", "RUN", "STATUS", "CREATED", "CREATED BY")

	for i := range runs {
		fmt.Printf("%-36s  %-24s  %-20s  %s\n",
			runs[i].RunID,
			runs[i].Status,
			runs[i].CreatedAt.UTC().Format(time.RFC3339),
			runs[i].CreatedBy,
		)
	}

	return nil
}

// printRunReport writes a human-readable run report to stdout.
func printRunReport(payload *runPayload) {
	summary := payload.Summary
	run := summary.Run

	fmt.Printf("\nRun:     %s\n", run.RunID)
	fmt.Printf("Status:  %s\n", run.Status)
	fmt.Printf("Created: %s", run.CreatedAt.UTC().Format(time.RFC3339))

	if run.CreatedBy != "" {
		fmt.Printf(" (by %s)", run.CreatedBy)
	}

	fmt.Printf("\nProfile: %s\n", run.SystemProfileID)
	fmt.Printf("Config:  %s\n", run.ConfigHash)

	fmt.Printf("\nJobs (%d total):\n", summary.TotalJobs)

	for _, status := range []string{
		store.JobStatusQueued,
		store.JobStatusRunning,
		store.JobStatusCompleted,
		store.JobStatusFailed,
		store.JobStatusTimeout,
	} {
		fmt.Printf("  %-10s %6d\n", status, summary.StatusCounts[status])
	}

	if len(payload.Engines) > 0 {
		fmt.Println("\nEngines:")
		fmt.Printf("  %-16s %6s %6s %6s %6s  %10s %10s %10s %9s\n",
			"ENGINE", "JOBS", "OK", "FAIL", "TMOUT", "P50", "P95", "MAX", "MB/S P50")

		for i := range payload.Engines {
			e := &payload.Engines[i]

			p50, p95, maxNs := "-", "-", "-"
			if e.TotalNs != nil {
				p50 = time.Duration(e.TotalNs.P50).String()
				p95 = time.Duration(e.TotalNs.P95).String()
				maxNs = time.Duration(e.TotalNs.Max).String()
			}

			mbps := "-"
			if e.ThroughputMBps != nil {
				mbps = fmt.Sprintf("%.1f", e.ThroughputMBps.P50)
			}

			fmt.Printf("  %-16s %6d %6d %6d %6d  %10s %10s %10s %9s\n",
				e.EngineName, e.Jobs, e.Completed, e.Failed, e.Timeout,
				p50, p95, maxNs, mbps)
		}
	}

	timeline := summary.Timeline

	fmt.Println("\nTimeline:")
	fmt.Printf("  first created   %s\n", formatTime(timeline.FirstCreatedAt))
	fmt.Printf("  first started   %s\n", formatTime(timeline.FirstStartedAt))
	fmt.Printf("  last completed  %s\n", formatTime(timeline.LastCompletedAt))

	if timeline.DurationSeconds > 0 {
		fmt.Printf("  duration        %.1fs\n", timeline.DurationSeconds)
	}

	if len(payload.FailedJobs) == 0 {
		fmt.Println()

		return
	}

	samples := payload.FailedJobs
	if len(samples) > failedSampleLimit {
		samples = samples[:failedSampleLimit]
	}

	fmt.Printf("\nFailed jobs (%d, showing %d):\n",
		len(payload.FailedJobs), len(samples))

	for _, s := range samples {
		fmt.Printf("  - %s %s %s patterns=%d corpus=%s/%s: %s\n",
			s.JobID, s.Status, s.EngineName,
			s.PatternCount, s.CorpusName, s.InputSize, s.Error)
	}

	fmt.Println()
}

// formatTime renders an optional timestamp.
func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}

	return t.UTC().Format(time.RFC3339)
}
