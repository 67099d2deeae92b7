package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regexoor/regexoor/pkg/config"
)

// setupTestStore creates a store backed by a file database in a temp
// dir. A file is used instead of :memory: so the connection pool shares
// one database during concurrent claim tests.
func setupTestStore(t *testing.T) Store {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := NewStore(log, &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{
			Path: filepath.Join(t.TempDir(), "test.db"),
		},
	})

	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() {
		require.NoError(t, s.Stop())
	})

	return s
}

func testProfile(id string) *SystemProfile {
	return &SystemProfile{
		ProfileID:       id,
		Hostname:        "bench-host-01",
		CPUModel:        "AMD EPYC 7543",
		CPUArchitecture: "x86_64",
		CPULogicalCores: 64,
		OSName:          "linux",
		RuntimeVersion:  "go1.24.2",
		ProfiledAt:      time.Now().UTC(),
	}
}

func testRun(runID, profileID string) *BenchmarkRun {
	return &BenchmarkRun{
		RunID:           runID,
		ConfigPath:      "/etc/regexoor/config.yaml",
		ConfigJSON:      `{"engines":[]}`,
		ConfigHash:      "sha256:deadbeef",
		SystemProfileID: profileID,
		CreatedBy:       "tester",
	}
}

func testJob(jobID, runID, engine string) *BenchmarkJob {
	return &BenchmarkJob{
		JobID:          jobID,
		RunID:          runID,
		EngineName:     engine,
		PatternCount:   1000,
		InputSize:      "100MB",
		InputSizeBytes: 104857600,
		Iteration:      1,
		PatternSuite:   "literals",
		CorpusName:     "web",
		ConfigHash:     "sha256:deadbeef",
	}
}

// seedRun creates a profile, a run, and n queued jobs named job-0..n-1.
func seedRun(t *testing.T, s Store, runID string, n int) []*BenchmarkJob {
	t.Helper()

	ctx := context.Background()

	profile := testProfile("profile-" + runID)
	require.NoError(t, s.GetOrCreateProfile(ctx, profile))

	run := testRun(runID, profile.ProfileID)
	require.NoError(t, s.CreateRun(ctx, run))

	jobs := make([]*BenchmarkJob, 0, n)
	for i := 0; i < n; i++ {
		jobs = append(jobs, testJob(fmt.Sprintf("job-%03d", i), runID, "grepola"))
	}

	require.NoError(t, s.EnqueueJobs(ctx, runID, jobs))

	return jobs
}

func TestGetOrCreateProfile_Idempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first := testProfile("profile-abc")
	require.NoError(t, s.GetOrCreateProfile(ctx, first))

	// Same ID with different field values must not overwrite the
	// stored row.
	second := testProfile("profile-abc")
	second.Hostname = "some-other-host"
	require.NoError(t, s.GetOrCreateProfile(ctx, second))

	stored, err := s.GetProfile(ctx, "profile-abc")
	require.NoError(t, err)
	assert.Equal(t, "bench-host-01", stored.Hostname)
	assert.Equal(t, 64, stored.CPULogicalCores)
}

func TestCreateRun_Duplicate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.GetOrCreateProfile(ctx, testProfile("profile-1")))
	require.NoError(t, s.CreateRun(ctx, testRun("run-1", "profile-1")))

	err := s.CreateRun(ctx, testRun("run-1", "profile-1"))
	require.ErrorIs(t, err, ErrDuplicateRun)

	// The original row is untouched.
	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusCreated, run.Status)
	assert.Equal(t, "tester", run.CreatedBy)
}

func TestEnqueueJobs_RejectsForeignRunID(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.GetOrCreateProfile(ctx, testProfile("profile-1")))
	require.NoError(t, s.CreateRun(ctx, testRun("run-1", "profile-1")))

	jobs := []*BenchmarkJob{
		testJob("job-a", "run-1", "grepola"),
		testJob("job-b", "run-other", "grepola"),
	}

	err := s.EnqueueJobs(ctx, "run-1", jobs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run-other")

	// Nothing was inserted.
	stored, err := s.ListJobs(ctx, "run-1", "", 0)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestEnqueueJobs_ForcesQueuedStatus(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.GetOrCreateProfile(ctx, testProfile("profile-1")))
	require.NoError(t, s.CreateRun(ctx, testRun("run-1", "profile-1")))

	job := testJob("job-a", "run-1", "grepola")
	job.Status = JobStatusCompleted

	require.NoError(t, s.EnqueueJobs(ctx, "run-1", []*BenchmarkJob{job}))

	stored, err := s.GetJob(ctx, "job-a")
	require.NoError(t, err)
	assert.Equal(t, JobStatusQueued, stored.Status)
	assert.Nil(t, stored.StartedAt)
	assert.Nil(t, stored.CompletedAt)
}

func TestClaimNextJob_FIFO(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.GetOrCreateProfile(ctx, testProfile("profile-1")))
	require.NoError(t, s.CreateRun(ctx, testRun("run-1", "profile-1")))

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Insert out of creation order to prove ordering comes from
	// created_at, not insertion order.
	second := testJob("job-second", "run-1", "grepola")
	second.CreatedAt = base.Add(time.Minute)

	first := testJob("job-first", "run-1", "grepola")
	first.CreatedAt = base

	third := testJob("job-third", "run-1", "grepola")
	third.CreatedAt = base.Add(2 * time.Minute)

	require.NoError(t, s.EnqueueJobs(ctx, "run-1", []*BenchmarkJob{second, first, third}))

	var claimed []string

	for i := 0; i < 3; i++ {
		job, err := s.ClaimNextJob(ctx, nil)
		require.NoError(t, err)

		claimed = append(claimed, job.JobID)
	}

	assert.Equal(t, []string{"job-first", "job-second", "job-third"}, claimed)
}

func TestClaimNextJob_TiebreakOnJobID(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.GetOrCreateProfile(ctx, testProfile("profile-1")))
	require.NoError(t, s.CreateRun(ctx, testRun("run-1", "profile-1")))

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	jobB := testJob("job-b", "run-1", "grepola")
	jobB.CreatedAt = ts

	jobA := testJob("job-a", "run-1", "grepola")
	jobA.CreatedAt = ts

	require.NoError(t, s.EnqueueJobs(ctx, "run-1", []*BenchmarkJob{jobB, jobA}))

	job, err := s.ClaimNextJob(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "job-a", job.JobID)
}

func TestClaimNextJob_TransitionsToRunning(t *testing.T) {
	s := setupTestStore(t)
	seedRun(t, s, "run-1", 1)

	ctx := context.Background()

	job, err := s.ClaimNextJob(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, JobStatusRunning, job.Status)
	require.NotNil(t, job.StartedAt)
	assert.WithinDuration(t, time.Now().UTC(), *job.StartedAt, 10*time.Second)

	stored, err := s.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusRunning, stored.Status)
	require.NotNil(t, stored.StartedAt)
	assert.Nil(t, stored.CompletedAt)
}

func TestClaimNextJob_EmptyQueue(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.ClaimNextJob(ctx, nil)
	require.ErrorIs(t, err, ErrNoJobAvailable)
}

func TestClaimNextJob_Filters(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.GetOrCreateProfile(ctx, testProfile("profile-1")))
	require.NoError(t, s.CreateRun(ctx, testRun("run-1", "profile-1")))
	require.NoError(t, s.CreateRun(ctx, testRun("run-2", "profile-1")))

	grepola := testJob("job-grepola", "run-1", "grepola")
	rexley := testJob("job-rexley", "run-1", "rexley")
	otherRun := testJob("job-other-run", "run-2", "grepola")

	require.NoError(t, s.EnqueueJobs(ctx, "run-1", []*BenchmarkJob{grepola, rexley}))
	require.NoError(t, s.EnqueueJobs(ctx, "run-2", []*BenchmarkJob{otherRun}))

	job, err := s.ClaimNextJob(ctx, &JobFilter{RunID: "run-1", EngineName: "rexley"})
	require.NoError(t, err)
	assert.Equal(t, "job-rexley", job.JobID)

	job, err = s.ClaimNextJob(ctx, &JobFilter{RunID: "run-2"})
	require.NoError(t, err)
	assert.Equal(t, "job-other-run", job.JobID)

	_, err = s.ClaimNextJob(ctx, &JobFilter{RunID: "run-2"})
	require.ErrorIs(t, err, ErrNoJobAvailable)
}

func TestClaimNextJob_Concurrent(t *testing.T) {
	s := setupTestStore(t)
	seedRun(t, s, "run-1", 20)

	ctx := context.Background()

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		errs    []error
		wg      sync.WaitGroup
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for {
				job, err := s.ClaimNextJob(ctx, nil)
				if errors.Is(err, ErrNoJobAvailable) {
					return
				}

				if err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()

					return
				}

				mu.Lock()
				claimed[job.JobID]++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	require.Empty(t, errs)
	assert.Len(t, claimed, 20)

	for jobID, count := range claimed {
		assert.Equalf(t, 1, count, "job %s claimed %d times", jobID, count)
	}

	_, err := s.ClaimNextJob(ctx, nil)
	require.ErrorIs(t, err, ErrNoJobAvailable)
}

func TestCompleteJob_Success(t *testing.T) {
	s := setupTestStore(t)
	seedRun(t, s, "run-1", 1)

	ctx := context.Background()

	job, err := s.ClaimNextJob(ctx, nil)
	require.NoError(t, err)

	compilation := int64(1_200_000)
	scanning := int64(98_000_000)
	total := int64(99_200_000)
	matches := int64(4521)
	memory := int64(256 * 1024 * 1024)
	patterns := int64(1000)

	err = s.CompleteJob(ctx, job.JobID, JobStatusCompleted, &JobResult{
		CompilationNs:    &compilation,
		ScanningNs:       &scanning,
		TotalNs:          &total,
		MatchCount:       &matches,
		MemoryBytes:      &memory,
		PatternsCompiled: &patterns,
	})
	require.NoError(t, err)

	stored, err := s.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)
	assert.Empty(t, stored.ErrorMessage)

	require.NotNil(t, stored.TotalNs)
	assert.Equal(t, total, *stored.TotalNs)
	require.NotNil(t, stored.MatchCount)
	assert.Equal(t, matches, *stored.MatchCount)
	require.NotNil(t, stored.MemoryBytes)
	assert.Equal(t, memory, *stored.MemoryBytes)
}

func TestCompleteJob_TimeoutWithPartialMetrics(t *testing.T) {
	s := setupTestStore(t)
	seedRun(t, s, "run-1", 1)

	ctx := context.Background()

	job, err := s.ClaimNextJob(ctx, nil)
	require.NoError(t, err)

	compilation := int64(1_200_000)

	err = s.CompleteJob(ctx, job.JobID, JobStatusTimeout, &JobResult{
		ErrorMessage:  "timed out after 45s",
		CompilationNs: &compilation,
	})
	require.NoError(t, err)

	stored, err := s.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusTimeout, stored.Status)
	assert.Equal(t, "timed out after 45s", stored.ErrorMessage)
	require.NotNil(t, stored.CompilationNs)
	assert.Equal(t, compilation, *stored.CompilationNs)
	assert.Nil(t, stored.ScanningNs)
	assert.Nil(t, stored.TotalNs)
}

func TestCompleteJob_InvalidTransitions(t *testing.T) {
	s := setupTestStore(t)
	seedRun(t, s, "run-1", 2)

	ctx := context.Background()

	t.Run("queued job cannot complete", func(t *testing.T) {
		err := s.CompleteJob(ctx, "job-000", JobStatusCompleted, nil)
		require.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("non-terminal target status", func(t *testing.T) {
		job, err := s.ClaimNextJob(ctx, nil)
		require.NoError(t, err)

		err = s.CompleteJob(ctx, job.JobID, JobStatusQueued, nil)
		require.ErrorIs(t, err, ErrInvalidTransition)

		// Still running; the bad write touched nothing.
		stored, err := s.GetJob(ctx, job.JobID)
		require.NoError(t, err)
		assert.Equal(t, JobStatusRunning, stored.Status)
	})

	t.Run("double complete", func(t *testing.T) {
		job, err := s.ClaimNextJob(ctx, nil)
		require.NoError(t, err)

		require.NoError(t, s.CompleteJob(ctx, job.JobID, JobStatusFailed, &JobResult{
			ErrorMessage: "exit status 1",
		}))

		err = s.CompleteJob(ctx, job.JobID, JobStatusCompleted, nil)
		require.ErrorIs(t, err, ErrInvalidTransition)

		// The first terminal write is preserved.
		stored, err := s.GetJob(ctx, job.JobID)
		require.NoError(t, err)
		assert.Equal(t, JobStatusFailed, stored.Status)
		assert.Equal(t, "exit status 1", stored.ErrorMessage)
	})
}

func TestListJobs(t *testing.T) {
	s := setupTestStore(t)
	seedRun(t, s, "run-1", 5)

	ctx := context.Background()

	job, err := s.ClaimNextJob(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, s.CompleteJob(ctx, job.JobID, JobStatusCompleted, nil))

	all, err := s.ListJobs(ctx, "run-1", "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	queued, err := s.ListJobs(ctx, "run-1", JobStatusQueued, 0)
	require.NoError(t, err)
	assert.Len(t, queued, 4)

	limited, err := s.ListJobs(ctx, "run-1", JobStatusQueued, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	done, err := s.ListJobs(ctx, "run-1", JobStatusCompleted, 0)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, job.JobID, done[0].JobID)
}

func TestRunStatistics(t *testing.T) {
	s := setupTestStore(t)
	seedRun(t, s, "run-1", 4)

	ctx := context.Background()

	first, err := s.ClaimNextJob(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, s.CompleteJob(ctx, first.JobID, JobStatusCompleted, nil))

	second, err := s.ClaimNextJob(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, s.CompleteJob(ctx, second.JobID, JobStatusTimeout, &JobResult{
		ErrorMessage: "timed out after 45s",
	}))

	// Third job stays running, fourth stays queued.
	_, err = s.ClaimNextJob(ctx, nil)
	require.NoError(t, err)

	stats, err := s.RunStatistics(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, int64(4), stats.TotalJobs)
	assert.Equal(t, int64(1), stats.StatusCounts[JobStatusCompleted])
	assert.Equal(t, int64(1), stats.StatusCounts[JobStatusTimeout])
	assert.Equal(t, int64(1), stats.StatusCounts[JobStatusRunning])
	assert.Equal(t, int64(1), stats.StatusCounts[JobStatusQueued])
	assert.Equal(t, int64(2), stats.TerminalCount())

	require.NotNil(t, stats.FirstCreatedAt)
	require.NotNil(t, stats.FirstStartedAt)
	require.NotNil(t, stats.LastCompletedAt)
	assert.False(t, stats.LastCompletedAt.Before(*stats.FirstStartedAt))
}

func TestRunStatistics_EmptyRun(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	stats, err := s.RunStatistics(ctx, "run-missing")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalJobs)
	assert.Empty(t, stats.StatusCounts)
	assert.Nil(t, stats.FirstStartedAt)
}

func TestHangingJobs(t *testing.T) {
	s := setupTestStore(t)
	seedRun(t, s, "run-1", 3)

	ctx := context.Background()

	first, err := s.ClaimNextJob(ctx, nil)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	second, err := s.ClaimNextJob(ctx, nil)
	require.NoError(t, err)

	// A completed job must not show up as hanging.
	require.NoError(t, s.CompleteJob(ctx, first.JobID, JobStatusCompleted, nil))

	time.Sleep(10 * time.Millisecond)

	third, err := s.ClaimNextJob(ctx, nil)
	require.NoError(t, err)

	hanging, err := s.HangingJobs(ctx)
	require.NoError(t, err)
	require.Len(t, hanging, 2)

	// Newest claim first.
	assert.Equal(t, third.JobID, hanging[0].JobID)
	assert.Equal(t, second.JobID, hanging[1].JobID)
}

func TestMarkRunStarted_StampsOnce(t *testing.T) {
	s := setupTestStore(t)
	seedRun(t, s, "run-1", 1)

	ctx := context.Background()

	require.NoError(t, s.MarkRunStarted(ctx, "run-1"))

	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, run.Status)
	require.NotNil(t, run.StartedAt)

	started := *run.StartedAt

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.MarkRunStarted(ctx, "run-1"))

	run, err = s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, run.StartedAt.Equal(started))
}

func TestMarkRunCompleted_DerivesStatus(t *testing.T) {
	tests := []struct {
		name     string
		jobs     int
		complete int
		fail     int
		claim    int
		want     string
	}{
		{
			name:     "all jobs completed",
			jobs:     2,
			complete: 2,
			want:     RunStatusCompleted,
		},
		{
			name:     "some jobs failed",
			jobs:     3,
			complete: 2,
			fail:     1,
			want:     RunStatusCompletedWithFailures,
		},
		{
			name:  "jobs left queued",
			jobs:  3,
			claim: 1,
			want:  RunStatusInterrupted,
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupTestStore(t)
			ctx := context.Background()

			runID := fmt.Sprintf("run-%d", i)
			seedRun(t, s, runID, tt.jobs)

			require.NoError(t, s.MarkRunStarted(ctx, runID))

			for j := 0; j < tt.complete; j++ {
				job, err := s.ClaimNextJob(ctx, nil)
				require.NoError(t, err)
				require.NoError(t, s.CompleteJob(ctx, job.JobID, JobStatusCompleted, nil))
			}

			for j := 0; j < tt.fail; j++ {
				job, err := s.ClaimNextJob(ctx, nil)
				require.NoError(t, err)
				require.NoError(t, s.CompleteJob(ctx, job.JobID, JobStatusFailed, &JobResult{
					ErrorMessage: "exit status 2",
				}))
			}

			for j := 0; j < tt.claim; j++ {
				_, err := s.ClaimNextJob(ctx, nil)
				require.NoError(t, err)
			}

			require.NoError(t, s.MarkRunCompleted(ctx, runID))

			run, err := s.GetRun(ctx, runID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, run.Status)
			require.NotNil(t, run.CompletedAt)
		})
	}
}

func TestGetRun_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetRun(context.Background(), "run-missing")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetJob(context.Background(), "job-missing")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetProfile(context.Background(), "profile-missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListRuns(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.GetOrCreateProfile(ctx, testProfile("profile-1")))

	older := testRun("run-older", "profile-1")
	older.CreatedAt = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateRun(ctx, older))

	newer := testRun("run-newer", "profile-1")
	newer.CreatedAt = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateRun(ctx, newer))

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-newer", runs[0].RunID)
	assert.Equal(t, "run-older", runs[1].RunID)
}

// TestJobLifecycle_Property drives randomized terminal-write sequences
// against fresh jobs: only a running job accepts exactly one terminal
// write, and the first write is the one that sticks.
func TestJobLifecycle_Property(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	var iteration int

	properties.Property("first terminal write wins", prop.ForAll(
		func(claimed bool, statuses []string) bool {
			iteration++

			runID := fmt.Sprintf("run-prop-%04d", iteration)
			jobID := fmt.Sprintf("job-prop-%04d", iteration)

			profile := testProfile("profile-" + runID)
			if err := s.GetOrCreateProfile(ctx, profile); err != nil {
				return false
			}

			if err := s.CreateRun(ctx, testRun(runID, profile.ProfileID)); err != nil {
				return false
			}

			if err := s.EnqueueJobs(ctx, runID, []*BenchmarkJob{
				testJob(jobID, runID, "grepola"),
			}); err != nil {
				return false
			}

			if claimed {
				job, err := s.ClaimNextJob(ctx, &JobFilter{RunID: runID})
				if err != nil || job.JobID != jobID {
					return false
				}
			}

			var applied string

			for _, status := range statuses {
				err := s.CompleteJob(ctx, jobID, status, nil)

				if claimed && applied == "" {
					if err != nil {
						return false
					}

					applied = status

					continue
				}

				if !errors.Is(err, ErrInvalidTransition) {
					return false
				}
			}

			stored, err := s.GetJob(ctx, jobID)
			if err != nil {
				return false
			}

			switch {
			case !claimed:
				return stored.Status == JobStatusQueued && stored.StartedAt == nil
			case applied == "":
				return stored.Status == JobStatusRunning && stored.CompletedAt == nil
			default:
				return stored.Status == applied && stored.CompletedAt != nil
			}
		},
		gen.Bool(),
		gen.SliceOf(gen.OneConstOf(
			JobStatusCompleted, JobStatusFailed, JobStatusTimeout,
		)),
	))

	properties.TestingRun(t)
}
