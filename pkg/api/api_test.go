package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regexoor/regexoor/pkg/config"
	"github.com/regexoor/regexoor/pkg/diag"
	"github.com/regexoor/regexoor/pkg/store"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

// setupServer builds a router backed by a fresh store so handlers can
// be exercised without binding a listener.
func setupServer(t *testing.T, cfg *config.ServerConfig) (http.Handler, store.Store) {
	t.Helper()

	s := store.NewStore(testLogger(), &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{
			Path: filepath.Join(t.TempDir(), "test.db"),
		},
	})

	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() {
		require.NoError(t, s.Stop())
	})

	srv := &server{
		log:   testLogger().WithField("component", "api"),
		cfg:   cfg,
		store: s,
		diag:  diag.New(testLogger(), s),
		done:  make(chan struct{}),
	}

	return srv.buildRouter(), s
}

func seedRun(t *testing.T, s store.Store, runID string, n int) {
	t.Helper()

	ctx := context.Background()

	require.NoError(t, s.GetOrCreateProfile(ctx, &store.SystemProfile{
		ProfileID: "profile-1",
		Hostname:  "bench-host",
	}))

	require.NoError(t, s.CreateRun(ctx, &store.BenchmarkRun{
		RunID:           runID,
		ConfigHash:      "sha256:cafe",
		SystemProfileID: "profile-1",
	}))

	jobs := make([]*store.BenchmarkJob, 0, n)
	for i := 0; i < n; i++ {
		jobs = append(jobs, &store.BenchmarkJob{
			JobID:        fmt.Sprintf("job-%03d", i),
			RunID:        runID,
			EngineName:   "grepola",
			PatternCount: 100,
			InputSize:    "1MB",
			Iteration:    1,
			PatternSuite: "literals",
			CorpusName:   "web",
			ConfigHash:   "sha256:cafe",
		})
	}

	require.NoError(t, s.EnqueueJobs(ctx, runID, jobs))
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	return rec
}

func TestAPI_Health(t *testing.T) {
	router, _ := setupServer(t, &config.ServerConfig{})

	rec := get(t, router, "/api/v1/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestAPI_ListRuns(t *testing.T) {
	router, s := setupServer(t, &config.ServerConfig{})
	seedRun(t, s, "run-1", 2)

	rec := get(t, router, "/api/v1/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var runs []store.BenchmarkRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].RunID)
}

func TestAPI_ListRuns_EmptyIsArray(t *testing.T) {
	router, _ := setupServer(t, &config.ServerConfig{})

	rec := get(t, router, "/api/v1/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestAPI_GetRun(t *testing.T) {
	router, s := setupServer(t, &config.ServerConfig{})
	seedRun(t, s, "run-1", 1)

	rec := get(t, router, "/api/v1/runs/run-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var run store.BenchmarkRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, "run-1", run.RunID)
	assert.Equal(t, "profile-1", run.SystemProfileID)
}

func TestAPI_GetRun_NotFound(t *testing.T) {
	router, _ := setupServer(t, &config.ServerConfig{})

	rec := get(t, router, "/api/v1/runs/nope")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run not found", body.Error)
}

func TestAPI_RunStats(t *testing.T) {
	router, s := setupServer(t, &config.ServerConfig{})
	seedRun(t, s, "run-1", 3)

	ctx := context.Background()

	job, err := s.ClaimNextJob(ctx, nil)
	require.NoError(t, err)

	total := int64(4000)
	require.NoError(t, s.CompleteJob(ctx, job.JobID, store.JobStatusCompleted,
		&store.JobResult{TotalNs: &total}))

	rec := get(t, router, "/api/v1/runs/run-1/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var summary diag.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, int64(3), summary.TotalJobs)
	assert.Equal(t, int64(1), summary.StatusCounts[store.JobStatusCompleted])
	assert.Equal(t, int64(2), summary.StatusCounts[store.JobStatusQueued])
}

func TestAPI_RunTimeline(t *testing.T) {
	router, s := setupServer(t, &config.ServerConfig{})
	seedRun(t, s, "run-1", 1)

	rec := get(t, router, "/api/v1/runs/run-1/timeline")
	require.Equal(t, http.StatusOK, rec.Code)

	var timeline diag.Timeline
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &timeline))
	require.NotNil(t, timeline.FirstCreatedAt)
	assert.Nil(t, timeline.FirstStartedAt)
}

func TestAPI_RunJobs(t *testing.T) {
	router, s := setupServer(t, &config.ServerConfig{})
	seedRun(t, s, "run-1", 3)

	ctx := context.Background()

	job, err := s.ClaimNextJob(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, s.CompleteJob(ctx, job.JobID, store.JobStatusFailed,
		&store.JobResult{ErrorMessage: "exit status 1"}))

	t.Run("all jobs", func(t *testing.T) {
		rec := get(t, router, "/api/v1/runs/run-1/jobs")
		require.Equal(t, http.StatusOK, rec.Code)

		var jobs []store.BenchmarkJob
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
		assert.Len(t, jobs, 3)
	})

	t.Run("status filter", func(t *testing.T) {
		rec := get(t, router, "/api/v1/runs/run-1/jobs?status=failed")
		require.Equal(t, http.StatusOK, rec.Code)

		var jobs []store.BenchmarkJob
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
		require.Len(t, jobs, 1)
		assert.Equal(t, job.JobID, jobs[0].JobID)
	})

	t.Run("limit", func(t *testing.T) {
		rec := get(t, router, "/api/v1/runs/run-1/jobs?limit=2")
		require.Equal(t, http.StatusOK, rec.Code)

		var jobs []store.BenchmarkJob
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
		assert.Len(t, jobs, 2)
	})

	t.Run("unknown status", func(t *testing.T) {
		rec := get(t, router, "/api/v1/runs/run-1/jobs?status=exploded")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad limit", func(t *testing.T) {
		rec := get(t, router, "/api/v1/runs/run-1/jobs?limit=banana")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown run", func(t *testing.T) {
		rec := get(t, router, "/api/v1/runs/nope/jobs")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAPI_RunSamples(t *testing.T) {
	router, s := setupServer(t, &config.ServerConfig{})
	seedRun(t, s, "run-1", 3)

	ctx := context.Background()

	failed, err := s.ClaimNextJob(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, s.CompleteJob(ctx, failed.JobID, store.JobStatusFailed,
		&store.JobResult{ErrorMessage: strings.Repeat("x", 500)}))

	completed, err := s.ClaimNextJob(ctx, nil)
	require.NoError(t, err)

	matches := int64(7)
	require.NoError(t, s.CompleteJob(ctx, completed.JobID, store.JobStatusCompleted,
		&store.JobResult{MatchCount: &matches}))

	t.Run("failed", func(t *testing.T) {
		rec := get(t, router, "/api/v1/runs/run-1/samples/failed")
		require.Equal(t, http.StatusOK, rec.Code)

		var samples []diag.JobSample
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &samples))
		require.Len(t, samples, 1)
		assert.Equal(t, failed.JobID, samples[0].JobID)
		assert.True(t, strings.HasSuffix(samples[0].Error, "..."))
	})

	t.Run("completed", func(t *testing.T) {
		rec := get(t, router, "/api/v1/runs/run-1/samples/completed")
		require.Equal(t, http.StatusOK, rec.Code)

		var samples []diag.JobSample
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &samples))
		require.Len(t, samples, 1)
		assert.Equal(t, completed.JobID, samples[0].JobID)
		require.NotNil(t, samples[0].MatchCount)
		assert.Equal(t, int64(7), *samples[0].MatchCount)
	})

	t.Run("unknown class", func(t *testing.T) {
		rec := get(t, router, "/api/v1/runs/run-1/samples/hung")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad limit", func(t *testing.T) {
		rec := get(t, router, "/api/v1/runs/run-1/samples/failed?limit=-1")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown run", func(t *testing.T) {
		rec := get(t, router, "/api/v1/runs/nope/samples/failed")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAPI_GetJob(t *testing.T) {
	router, s := setupServer(t, &config.ServerConfig{})
	seedRun(t, s, "run-1", 1)

	ctx := context.Background()

	job, err := s.ClaimNextJob(ctx, nil)
	require.NoError(t, err)

	longError := strings.Repeat("x", 500)
	require.NoError(t, s.CompleteJob(ctx, job.JobID, store.JobStatusFailed,
		&store.JobResult{ErrorMessage: longError}))

	rec := get(t, router, "/api/v1/jobs/"+job.JobID)
	require.Equal(t, http.StatusOK, rec.Code)

	// The detail row carries the full error text the samples truncate.
	var got store.BenchmarkJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, job.JobID, got.JobID)
	assert.Equal(t, longError, got.ErrorMessage)

	rec = get(t, router, "/api/v1/jobs/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_HangingJobs(t *testing.T) {
	router, s := setupServer(t, &config.ServerConfig{})
	seedRun(t, s, "run-1", 2)

	job, err := s.ClaimNextJob(context.Background(), nil)
	require.NoError(t, err)

	rec := get(t, router, "/api/v1/jobs/hanging")
	require.Equal(t, http.StatusOK, rec.Code)

	var jobs []diag.JobSample
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, job.JobID, jobs[0].JobID)
	assert.Equal(t, store.JobStatusRunning, jobs[0].Status)
}

func TestAPI_GetProfile(t *testing.T) {
	router, s := setupServer(t, &config.ServerConfig{})
	seedRun(t, s, "run-1", 1)

	rec := get(t, router, "/api/v1/profiles/profile-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var profile store.SystemProfile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profile))
	assert.Equal(t, "bench-host", profile.Hostname)

	rec = get(t, router, "/api/v1/profiles/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_RateLimit(t *testing.T) {
	router, _ := setupServer(t, &config.ServerConfig{
		RateLimit: config.RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 3,
		},
	})

	// The burst allows the full per-minute quota up front; the next
	// request within the window is rejected.
	for i := 0; i < 3; i++ {
		rec := get(t, router, "/api/v1/runs")
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}

	rec := get(t, router, "/api/v1/runs")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "rate limit exceeded", body.Error)

	// Health stays outside the rate-limited group.
	rec = get(t, router, "/api/v1/health")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_CORSReflectsOrigin(t *testing.T) {
	router, _ := setupServer(t, &config.ServerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://dashboard.local")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://dashboard.local",
		rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestExtractIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{
			name:       "remote addr with port",
			remoteAddr: "10.0.0.5:4242",
			want:       "10.0.0.5",
		},
		{
			name:       "forwarded single",
			remoteAddr: "10.0.0.5:4242",
			forwarded:  "203.0.113.9",
			want:       "203.0.113.9",
		},
		{
			name:       "forwarded chain",
			remoteAddr: "10.0.0.5:4242",
			forwarded:  "203.0.113.9, 198.51.100.2",
			want:       "203.0.113.9",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "10.0.0.5",
			want:       "10.0.0.5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr

			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}

			assert.Equal(t, tt.want, extractIP(req))
		})
	}
}
