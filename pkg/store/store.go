package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/regexoor/regexoor/pkg/config"
)

var (
	// ErrDuplicateRun is returned when creating a run whose ID exists.
	ErrDuplicateRun = errors.New("run already exists")

	// ErrInvalidTransition is returned when a job status write does not
	// follow queued -> running -> terminal.
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrNoJobAvailable is returned by ClaimNextJob when no queued job
	// matches. It signals an empty queue, not a failure.
	ErrNoJobAvailable = errors.New("no queued job available")

	// ErrNotFound is returned by point lookups for unknown IDs.
	ErrNotFound = errors.New("not found")
)

// Store provides durable, concurrency-safe persistence for runs and
// jobs. It is safe for use from multiple goroutines; every worker
// issues its writes through the shared connection pool and each state
// change is a single atomic statement.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// System profiles.
	GetOrCreateProfile(ctx context.Context, profile *SystemProfile) error
	GetProfile(ctx context.Context, profileID string) (*SystemProfile, error)

	// Runs.
	CreateRun(ctx context.Context, run *BenchmarkRun) error
	GetRun(ctx context.Context, runID string) (*BenchmarkRun, error)
	ListRuns(ctx context.Context) ([]BenchmarkRun, error)
	MarkRunStarted(ctx context.Context, runID string) error
	MarkRunCompleted(ctx context.Context, runID string) error

	// Jobs.
	EnqueueJobs(ctx context.Context, runID string, jobs []*BenchmarkJob) error
	ClaimNextJob(ctx context.Context, filter *JobFilter) (*BenchmarkJob, error)
	CompleteJob(ctx context.Context, jobID, status string, result *JobResult) error
	GetJob(ctx context.Context, jobID string) (*BenchmarkJob, error)
	ListJobs(ctx context.Context, runID, status string, limit int) ([]BenchmarkJob, error)

	// Diagnostics queries.
	RunStatistics(ctx context.Context, runID string) (*RunStatistics, error)
	HangingJobs(ctx context.Context) ([]BenchmarkJob, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var (
		dialector gorm.Dialector
		err       error
	)

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(sqliteDSN(s.cfg.SQLite.Path))
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	s.db, err = gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	if err := s.db.WithContext(ctx).AutoMigrate(
		&SystemProfile{},
		&BenchmarkRun{},
		&BenchmarkJob{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// sqliteDSN appends WAL and busy-timeout pragmas so concurrent workers
// wait on the write lock instead of failing with SQLITE_BUSY.
func sqliteDSN(path string) string {
	if path == ":memory:" {
		return path
	}

	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// --- System profiles ---

// GetOrCreateProfile inserts the profile unless a row with the same
// ProfileID exists. Profiles are immutable, so an existing row is
// loaded as-is rather than updated.
func (s *store) GetOrCreateProfile(
	ctx context.Context, profile *SystemProfile,
) error {
	result := s.db.WithContext(ctx).
		Where("profile_id = ?", profile.ProfileID).
		FirstOrCreate(profile)
	if result.Error != nil {
		return fmt.Errorf("upserting system profile: %w", result.Error)
	}

	return nil
}

func (s *store) GetProfile(
	ctx context.Context, profileID string,
) (*SystemProfile, error) {
	var profile SystemProfile

	err := s.db.WithContext(ctx).
		Where("profile_id = ?", profileID).
		First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: profile %s", ErrNotFound, profileID)
	}

	if err != nil {
		return nil, fmt.Errorf("getting system profile: %w", err)
	}

	return &profile, nil
}

// --- Runs ---

// CreateRun inserts a new run. Returns ErrDuplicateRun if the run ID is
// already taken.
func (s *store) CreateRun(ctx context.Context, run *BenchmarkRun) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&BenchmarkRun{}).
			Where("run_id = ?", run.RunID).
			Count(&count).Error; err != nil {
			return fmt.Errorf("checking for existing run: %w", err)
		}

		if count > 0 {
			return fmt.Errorf("%w: %s", ErrDuplicateRun, run.RunID)
		}

		if run.Status == "" {
			run.Status = RunStatusCreated
		}

		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("creating run: %w", err)
		}

		return nil
	})
}

func (s *store) GetRun(
	ctx context.Context, runID string,
) (*BenchmarkRun, error) {
	var run BenchmarkRun

	err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}

	if err != nil {
		return nil, fmt.Errorf("getting run: %w", err)
	}

	return &run, nil
}

func (s *store) ListRuns(ctx context.Context) ([]BenchmarkRun, error) {
	var runs []BenchmarkRun
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	return runs, nil
}

// MarkRunStarted stamps started_at once; later calls are no-ops.
func (s *store) MarkRunStarted(ctx context.Context, runID string) error {
	now := time.Now().UTC()

	if err := s.db.WithContext(ctx).
		Model(&BenchmarkRun{}).
		Where("run_id = ? AND started_at IS NULL", runID).
		Updates(map[string]any{
			"status":     RunStatusRunning,
			"started_at": now,
		}).Error; err != nil {
		return fmt.Errorf("marking run started: %w", err)
	}

	return nil
}

// MarkRunCompleted derives the run's terminal status from its job
// histogram and stamps completed_at.
func (s *store) MarkRunCompleted(ctx context.Context, runID string) error {
	stats, err := s.RunStatistics(ctx, runID)
	if err != nil {
		return err
	}

	status := RunStatusCompleted

	switch {
	case stats.StatusCounts[JobStatusQueued] > 0 ||
		stats.StatusCounts[JobStatusRunning] > 0:
		status = RunStatusInterrupted
	case stats.StatusCounts[JobStatusFailed] > 0 ||
		stats.StatusCounts[JobStatusTimeout] > 0:
		status = RunStatusCompletedWithFailures
	}

	now := time.Now().UTC()

	if err := s.db.WithContext(ctx).
		Model(&BenchmarkRun{}).
		Where("run_id = ?", runID).
		Updates(map[string]any{
			"status":       status,
			"completed_at": now,
		}).Error; err != nil {
		return fmt.Errorf("marking run completed: %w", err)
	}

	return nil
}

// --- Jobs ---

// EnqueueJobs bulk-inserts jobs for a run with status queued. Jobs
// carrying a different run ID are rejected.
func (s *store) EnqueueJobs(
	ctx context.Context, runID string, jobs []*BenchmarkJob,
) error {
	if len(jobs) == 0 {
		return nil
	}

	for _, job := range jobs {
		if job.RunID != runID {
			return fmt.Errorf(
				"job %s references run %q, expected %q", job.JobID, job.RunID, runID,
			)
		}

		job.Status = JobStatusQueued
	}

	const batchSize = 100

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := 0; i < len(jobs); i += batchSize {
			end := i + batchSize
			if end > len(jobs) {
				end = len(jobs)
			}

			batch := jobs[i:end]

			if err := tx.CreateInBatches(batch, len(batch)).Error; err != nil {
				return fmt.Errorf("bulk inserting jobs: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"run":  runID,
		"jobs": len(jobs),
	}).Info("Jobs enqueued")

	return nil
}

// ClaimNextJob atomically transitions the oldest matching queued job to
// running and returns it. The claim is a compare-and-swap on status:
// two concurrent callers can select the same candidate but only the
// guarded update that flips queued -> running wins; the loser retries
// with the next candidate. Returns ErrNoJobAvailable when the queue
// has no matching job.
func (s *store) ClaimNextJob(
	ctx context.Context, filter *JobFilter,
) (*BenchmarkJob, error) {
	for {
		var job BenchmarkJob

		query := s.db.WithContext(ctx).Where("status = ?", JobStatusQueued)

		if filter != nil {
			if filter.RunID != "" {
				query = query.Where("run_id = ?", filter.RunID)
			}

			if filter.EngineName != "" {
				query = query.Where("engine_name = ?", filter.EngineName)
			}
		}

		err := query.Order("created_at ASC, job_id ASC").First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoJobAvailable
		}

		if err != nil {
			return nil, fmt.Errorf("selecting queued job: %w", err)
		}

		now := time.Now().UTC()

		result := s.db.WithContext(ctx).
			Model(&BenchmarkJob{}).
			Where("job_id = ? AND status = ?", job.JobID, JobStatusQueued).
			Updates(map[string]any{
				"status":     JobStatusRunning,
				"started_at": now,
			})
		if result.Error != nil {
			return nil, fmt.Errorf("claiming job %s: %w", job.JobID, result.Error)
		}

		if result.RowsAffected == 0 {
			// Another claimer won this job; try the next candidate.
			continue
		}

		job.Status = JobStatusRunning
		job.StartedAt = &now

		return &job, nil
	}
}

// CompleteJob writes a terminal status plus metrics or an error message
// and stamps completed_at. The update is guarded on the job currently
// being in the running state; anything else is ErrInvalidTransition.
func (s *store) CompleteJob(
	ctx context.Context, jobID, status string, result *JobResult,
) error {
	if !IsTerminalJobStatus(status) {
		return fmt.Errorf("%w: %q is not a terminal status", ErrInvalidTransition, status)
	}

	updates := map[string]any{
		"status":       status,
		"completed_at": time.Now().UTC(),
	}

	if result != nil {
		if result.ErrorMessage != "" {
			updates["error_message"] = result.ErrorMessage
		}

		if result.CompilationNs != nil {
			updates["compilation_ns"] = *result.CompilationNs
		}

		if result.ScanningNs != nil {
			updates["scanning_ns"] = *result.ScanningNs
		}

		if result.TotalNs != nil {
			updates["total_ns"] = *result.TotalNs
		}

		if result.MatchCount != nil {
			updates["match_count"] = *result.MatchCount
		}

		if result.MemoryBytes != nil {
			updates["memory_bytes"] = *result.MemoryBytes
		}

		if result.PatternsCompiled != nil {
			updates["patterns_compiled"] = *result.PatternsCompiled
		}
	}

	res := s.db.WithContext(ctx).
		Model(&BenchmarkJob{}).
		Where("job_id = ? AND status = ?", jobID, JobStatusRunning).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("completing job %s: %w", jobID, res.Error)
	}

	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: job %s is not running", ErrInvalidTransition, jobID)
	}

	return nil
}

func (s *store) GetJob(
	ctx context.Context, jobID string,
) (*BenchmarkJob, error) {
	var job BenchmarkJob

	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}

	if err != nil {
		return nil, fmt.Errorf("getting job: %w", err)
	}

	return &job, nil
}

// ListJobs returns jobs for a run, optionally filtered by status,
// ordered by creation. A limit of zero means no limit.
func (s *store) ListJobs(
	ctx context.Context, runID, status string, limit int,
) ([]BenchmarkJob, error) {
	query := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("created_at ASC, job_id ASC")

	if status != "" {
		query = query.Where("status = ?", status)
	}

	if limit > 0 {
		query = query.Limit(limit)
	}

	var jobs []BenchmarkJob
	if err := query.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}

	return jobs, nil
}

// --- Diagnostics queries ---

// RunStatistics returns per-status job counts plus the first-created,
// first-started and last-completed timestamps for a run.
func (s *store) RunStatistics(
	ctx context.Context, runID string,
) (*RunStatistics, error) {
	var counts []struct {
		Status string
		Count  int64
	}

	if err := s.db.WithContext(ctx).
		Model(&BenchmarkJob{}).
		Select("status, COUNT(*) as count").
		Where("run_id = ?", runID).
		Group("status").
		Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("counting jobs by status: %w", err)
	}

	stats := &RunStatistics{
		RunID:        runID,
		StatusCounts: make(map[string]int64, len(counts)),
	}

	for _, c := range counts {
		stats.StatusCounts[c.Status] = c.Count
		stats.TotalJobs += c.Count
	}

	var bounds struct {
		FirstCreated  *time.Time
		FirstStarted  *time.Time
		LastCompleted *time.Time
	}

	if err := s.db.WithContext(ctx).
		Model(&BenchmarkJob{}).
		Select(
			"MIN(created_at) as first_created, " +
				"MIN(started_at) as first_started, " +
				"MAX(completed_at) as last_completed",
		).
		Where("run_id = ?", runID).
		Scan(&bounds).Error; err != nil {
		return nil, fmt.Errorf("reading run timeline bounds: %w", err)
	}

	stats.FirstCreatedAt = bounds.FirstCreated
	stats.FirstStartedAt = bounds.FirstStarted
	stats.LastCompletedAt = bounds.LastCompleted

	return stats, nil
}

// HangingJobs returns jobs stuck in the running state with no terminal
// write, newest claim first. These are orphans from crashed workers or
// externally killed processes.
func (s *store) HangingJobs(ctx context.Context) ([]BenchmarkJob, error) {
	var jobs []BenchmarkJob
	if err := s.db.WithContext(ctx).
		Where("status = ? AND completed_at IS NULL", JobStatusRunning).
		Order("started_at DESC").
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("listing hanging jobs: %w", err)
	}

	return jobs, nil
}
