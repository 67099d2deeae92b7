package store

import (
	"time"
)

// Job status values. Jobs move queued -> running -> one of the three
// terminal states and never backward.
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusTimeout   = "timeout"
)

// TerminalJobStatuses are the job states that accept no further
// transitions.
var TerminalJobStatuses = []string{
	JobStatusCompleted,
	JobStatusFailed,
	JobStatusTimeout,
}

// IsTerminalJobStatus reports whether status is terminal.
func IsTerminalJobStatus(status string) bool {
	for _, s := range TerminalJobStatuses {
		if s == status {
			return true
		}
	}

	return false
}

// Run status values.
const (
	RunStatusCreated               = "created"
	RunStatusRunning               = "running"
	RunStatusCompleted             = "completed"
	RunStatusCompletedWithFailures = "completed_with_failures"
	RunStatusInterrupted           = "interrupted"
)

// SystemProfile is one row per distinct host fingerprint. Rows are
// immutable once written and looked up by ProfileID.
type SystemProfile struct {
	ProfileID              string     `gorm:"primaryKey" json:"profile_id"`
	Hostname               string     `gorm:"not null" json:"hostname"`
	CPUModel               string     `json:"cpu_model"`
	CPUArchitecture        string     `json:"cpu_architecture"`
	CPUPhysicalCores       int        `json:"cpu_physical_cores"`
	CPULogicalCores        int        `json:"cpu_logical_cores"`
	CPUGovernor            string     `json:"cpu_governor,omitempty"`
	MemoryTotalGB          float64    `json:"memory_total_gb"`
	MemoryAvailableGB      float64    `json:"memory_available_gb"`
	StorageAvailableGB     float64    `json:"storage_available_gb"`
	OSName                 string     `json:"os_name"`
	OSVersion              string     `json:"os_version"`
	RuntimeVersion         string     `json:"runtime_version"`
	DependencyVersionsJSON string     `gorm:"type:text" json:"dependency_versions_json"`
	BaselineScore          *float64   `json:"baseline_score"`
	IsVirtualized          bool       `json:"is_virtualized"`
	VirtualizationType     string     `json:"virtualization_type"`
	ProfiledAt             time.Time  `json:"profiled_at"`
}

// BenchmarkRun is one benchmark sweep invocation. Identity fields are
// immutable after creation; only status and timestamps advance.
type BenchmarkRun struct {
	RunID           string     `gorm:"primaryKey" json:"run_id"`
	ConfigPath      string     `json:"config_path"`
	ConfigJSON      string     `gorm:"type:text" json:"-"`
	ConfigHash      string     `json:"config_hash"`
	SystemProfileID string     `gorm:"index;not null" json:"system_profile_id"`
	CreatedBy       string     `json:"created_by"`
	Status          string     `gorm:"not null;index" json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at"`
}

// BenchmarkJob is one unit of work: one engine, one parameter
// combination, one iteration. Rows are append-only during a run; the
// claiming worker and the terminal write are the only mutations.
type BenchmarkJob struct {
	JobID          string     `gorm:"primaryKey" json:"job_id"`
	RunID          string     `gorm:"index;not null" json:"run_id"`
	EngineName     string     `gorm:"index;not null" json:"engine_name"`
	PatternCount   int        `gorm:"not null" json:"pattern_count"`
	InputSize      string     `gorm:"not null" json:"input_size"`
	InputSizeBytes int64      `gorm:"not null" json:"input_size_bytes"`
	Iteration      int        `gorm:"not null" json:"iteration"`
	PatternSuite   string     `json:"pattern_suite"`
	CorpusName     string     `json:"corpus_name"`
	ConfigHash     string     `json:"config_hash"`
	Status         string     `gorm:"not null;index:idx_jobs_status_created" json:"status"`
	CreatedAt      time.Time  `gorm:"index:idx_jobs_status_created" json:"created_at"`
	StartedAt      *time.Time `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at"`
	ErrorMessage   string     `gorm:"type:text" json:"error_message,omitempty"`

	// Result metrics, set by the terminal write. Unset metrics stay NULL.
	CompilationNs    *int64 `json:"compilation_ns"`
	ScanningNs       *int64 `json:"scanning_ns"`
	TotalNs          *int64 `json:"total_ns"`
	MatchCount       *int64 `json:"match_count"`
	MemoryBytes      *int64 `json:"memory_bytes"`
	PatternsCompiled *int64 `json:"patterns_compiled"`
}

// JobResult carries the terminal metrics or error detail folded into a
// job row by CompleteJob.
type JobResult struct {
	CompilationNs    *int64
	ScanningNs       *int64
	TotalNs          *int64
	MatchCount       *int64
	MemoryBytes      *int64
	PatternsCompiled *int64
	ErrorMessage     string
}

// JobFilter narrows which queued jobs a claim may select.
type JobFilter struct {
	RunID      string
	EngineName string
}

// RunStatistics aggregates a run's job set by status with the
// timeline boundary timestamps.
type RunStatistics struct {
	RunID           string           `json:"run_id"`
	TotalJobs       int64            `json:"total_jobs"`
	StatusCounts    map[string]int64 `json:"status_counts"`
	FirstCreatedAt  *time.Time       `json:"first_created_at"`
	FirstStartedAt  *time.Time       `json:"first_started_at"`
	LastCompletedAt *time.Time       `json:"last_completed_at"`
}

// TerminalCount returns the number of jobs in any terminal state.
func (s *RunStatistics) TerminalCount() int64 {
	var n int64
	for _, status := range TerminalJobStatuses {
		n += s.StatusCounts[status]
	}

	return n
}
