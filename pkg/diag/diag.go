package diag

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/regexoor/regexoor/pkg/store"
)

// maxErrorRunes bounds the error text carried in job samples.
const maxErrorRunes = 200

// Timeline reconstructs a run's execution window from job timestamps.
type Timeline struct {
	FirstCreatedAt  *time.Time `json:"first_created_at"`
	FirstStartedAt  *time.Time `json:"first_started_at"`
	LastCompletedAt *time.Time `json:"last_completed_at"`

	// DurationSeconds spans first started to last completed; zero until
	// both exist.
	DurationSeconds float64 `json:"duration_seconds"`
}

// RunSummary aggregates one run for reporting.
type RunSummary struct {
	Run          *store.BenchmarkRun `json:"run"`
	TotalJobs    int64               `json:"total_jobs"`
	StatusCounts map[string]int64    `json:"status_counts"`
	Timeline     Timeline            `json:"timeline"`
}

// JobSample is a compact job view for listings.
type JobSample struct {
	JobID        string     `json:"job_id"`
	RunID        string     `json:"run_id"`
	EngineName   string     `json:"engine_name"`
	PatternCount int        `json:"pattern_count"`
	InputSize    string     `json:"input_size"`
	PatternSuite string     `json:"pattern_suite"`
	CorpusName   string     `json:"corpus_name"`
	Iteration    int        `json:"iteration"`
	Status       string     `json:"status"`
	Error        string     `json:"error,omitempty"`
	TotalNs      *int64     `json:"total_ns,omitempty"`
	MatchCount   *int64     `json:"match_count,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Diagnostics is the read-only reporting layer over the store.
type Diagnostics struct {
	log   logrus.FieldLogger
	store store.Store
}

func New(log logrus.FieldLogger, st store.Store) *Diagnostics {
	return &Diagnostics{
		log:   log.WithField("component", "diag"),
		store: st,
	}
}

// RunSummary returns the status histogram and timeline for a run.
func (d *Diagnostics) RunSummary(ctx context.Context, runID string) (*RunSummary, error) {
	run, err := d.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	stats, err := d.store.RunStatistics(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("aggregating run %s: %w", runID, err)
	}

	timeline := Timeline{
		FirstCreatedAt:  stats.FirstCreatedAt,
		FirstStartedAt:  stats.FirstStartedAt,
		LastCompletedAt: stats.LastCompletedAt,
	}

	if stats.FirstStartedAt != nil && stats.LastCompletedAt != nil {
		timeline.DurationSeconds = stats.LastCompletedAt.Sub(*stats.FirstStartedAt).Seconds()
	}

	return &RunSummary{
		Run:          run,
		TotalJobs:    stats.TotalJobs,
		StatusCounts: stats.StatusCounts,
		Timeline:     timeline,
	}, nil
}

// FailedJobs samples a run's failed and timed-out jobs with truncated
// error text. limit caps each status class; zero means all.
func (d *Diagnostics) FailedJobs(
	ctx context.Context, runID string, limit int,
) ([]JobSample, error) {
	var samples []JobSample

	for _, status := range []string{store.JobStatusFailed, store.JobStatusTimeout} {
		jobs, err := d.store.ListJobs(ctx, runID, status, limit)
		if err != nil {
			return nil, fmt.Errorf("listing %s jobs: %w", status, err)
		}

		for i := range jobs {
			samples = append(samples, toSample(&jobs[i]))
		}
	}

	return samples, nil
}

// CompletedJobs samples a run's completed jobs.
func (d *Diagnostics) CompletedJobs(
	ctx context.Context, runID string, limit int,
) ([]JobSample, error) {
	jobs, err := d.store.ListJobs(ctx, runID, store.JobStatusCompleted, limit)
	if err != nil {
		return nil, fmt.Errorf("listing completed jobs: %w", err)
	}

	samples := make([]JobSample, 0, len(jobs))
	for i := range jobs {
		samples = append(samples, toSample(&jobs[i]))
	}

	return samples, nil
}

// HangingJobs lists jobs stuck RUNNING with no terminal write, newest
// claim first.
func (d *Diagnostics) HangingJobs(ctx context.Context) ([]JobSample, error) {
	jobs, err := d.store.HangingJobs(ctx)
	if err != nil {
		return nil, err
	}

	samples := make([]JobSample, 0, len(jobs))
	for i := range jobs {
		samples = append(samples, toSample(&jobs[i]))
	}

	return samples, nil
}

func toSample(job *store.BenchmarkJob) JobSample {
	return JobSample{
		JobID:        job.JobID,
		RunID:        job.RunID,
		EngineName:   job.EngineName,
		PatternCount: job.PatternCount,
		InputSize:    job.InputSize,
		PatternSuite: job.PatternSuite,
		CorpusName:   job.CorpusName,
		Iteration:    job.Iteration,
		Status:       job.Status,
		Error:        truncateError(job.ErrorMessage),
		TotalNs:      job.TotalNs,
		MatchCount:   job.MatchCount,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
	}
}

func truncateError(s string) string {
	runes := []rune(s)
	if len(runes) <= maxErrorRunes {
		return s
	}

	return string(runes[:maxErrorRunes]) + "..."
}
