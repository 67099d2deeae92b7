package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/regexoor/regexoor/pkg/diag"
	"github.com/regexoor/regexoor/pkg/store"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListRuns returns all benchmark runs, newest first.
func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list runs")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	if runs == nil {
		runs = []store.BenchmarkRun{}
	}

	writeJSON(w, http.StatusOK, runs)
}

// handleGetRun returns a single benchmark run.
func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")

	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"run not found"})

			return
		}

		s.log.WithError(err).Error("Failed to load run")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, run)
}

// handleRunStats returns the run's job status histogram and timeline.
func (s *server) handleRunStats(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")

	summary, err := s.diag.RunSummary(r.Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"run not found"})

			return
		}

		s.log.WithError(err).Error("Failed to summarize run")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// handleRunTimeline returns only the run's timeline.
func (s *server) handleRunTimeline(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")

	summary, err := s.diag.RunSummary(r.Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"run not found"})

			return
		}

		s.log.WithError(err).Error("Failed to summarize run")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, summary.Timeline)
}

// handleRunJobs returns a run's jobs, optionally filtered by ?status=
// and capped by ?limit=.
func (s *server) handleRunJobs(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")

	if _, err := s.store.GetRun(r.Context(), runID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"run not found"})

			return
		}

		s.log.WithError(err).Error("Failed to load run")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	var status string

	if raw := r.URL.Query().Get("status"); raw != "" {
		if !validJobStatus(raw) {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{"unknown job status: " + raw})

			return
		}

		status = raw
	}

	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	jobs, err := s.store.ListJobs(r.Context(), runID, status, limit)
	if err != nil {
		s.log.WithError(err).Error("Failed to list jobs")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	if jobs == nil {
		jobs = []store.BenchmarkJob{}
	}

	writeJSON(w, http.StatusOK, jobs)
}

// handleRunSamples returns a run's failed or completed jobs in the
// compact reporting shape, with error text truncated.
func (s *server) handleRunSamples(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")

	if _, err := s.store.GetRun(r.Context(), runID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"run not found"})

			return
		}

		s.log.WithError(err).Error("Failed to load run")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	var (
		samples []diag.JobSample
		err     error
	)

	switch class := chi.URLParam(r, "class"); class {
	case "failed":
		samples, err = s.diag.FailedJobs(r.Context(), runID, limit)
	case "completed":
		samples, err = s.diag.CompletedJobs(r.Context(), runID, limit)
	default:
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"unknown sample class: " + class})

		return
	}

	if err != nil {
		s.log.WithError(err).Error("Failed to sample jobs")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	if samples == nil {
		samples = []diag.JobSample{}
	}

	writeJSON(w, http.StatusOK, samples)
}

// handleGetJob returns one job row in full, including untruncated
// error text.
func (s *server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"job not found"})

			return
		}

		s.log.WithError(err).Error("Failed to load job")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, job)
}

// handleHangingJobs returns jobs stuck in RUNNING with no terminal
// write, across all runs.
func (s *server) handleHangingJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.diag.HangingJobs(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list hanging jobs")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, jobs)
}

// handleGetProfile returns a captured system profile.
func (s *server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profile_id")

	profile, err := s.store.GetProfile(r.Context(), profileID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"profile not found"})

			return
		}

		s.log.WithError(err).Error("Failed to load profile")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, profile)
}

// queryLimit parses the optional ?limit= parameter. A malformed value
// writes a 400 response and returns ok=false; absence means no limit.
func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}

	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"limit must be a non-negative integer"})

		return 0, false
	}

	return parsed, true
}

// validJobStatus reports whether raw names a known job status.
func validJobStatus(raw string) bool {
	switch raw {
	case store.JobStatusQueued, store.JobStatusRunning,
		store.JobStatusCompleted, store.JobStatusFailed,
		store.JobStatusTimeout:
		return true
	default:
		return false
	}
}
