package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Everything else reads the benchmark store.
		r.Group(func(r chi.Router) {
			if s.cfg.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.RateLimit.RequestsPerMinute,
				))
			}

			r.Get("/runs", s.handleListRuns)
			r.Get("/runs/{run_id}", s.handleGetRun)
			r.Get("/runs/{run_id}/stats", s.handleRunStats)
			r.Get("/runs/{run_id}/timeline", s.handleRunTimeline)
			r.Get("/runs/{run_id}/jobs", s.handleRunJobs)
			r.Get("/runs/{run_id}/samples/{class}", s.handleRunSamples)

			r.Get("/jobs/hanging", s.handleHangingJobs)
			r.Get("/jobs/{job_id}", s.handleGetJob)

			r.Get("/profiles/{profile_id}", s.handleGetProfile)
		})
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the server config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods: []string{"GET", "HEAD", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}

	origins := s.cfg.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// Reflect the requesting origin so dashboards on any host work.
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
