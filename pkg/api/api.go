package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/regexoor/regexoor/pkg/config"
	"github.com/regexoor/regexoor/pkg/diag"
	"github.com/regexoor/regexoor/pkg/store"
	"github.com/sirupsen/logrus"
)

const (
	shutdownTimeout     = 10 * time.Second
	hangingScanInterval = time.Minute
)

// Server exposes the diagnostics HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.ServerConfig
	dbCfg      *config.DatabaseConfig
	store      store.Store
	diag       *diag.Diagnostics
	httpServer *http.Server
	wg         sync.WaitGroup
	done       chan struct{}
}

// NewServer creates a new diagnostics API server. The store is opened
// in Start so database problems surface at startup.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.ServerConfig,
	dbCfg *config.DatabaseConfig,
) Server {
	return &server{
		log:   log.WithField("component", "api"),
		cfg:   cfg,
		dbCfg: dbCfg,
		done:  make(chan struct{}),
	}
}

// Start opens the store and starts the HTTP server.
func (s *server) Start(ctx context.Context) error {
	// Create and start the database store.
	s.store = store.NewStore(s.log, s.dbCfg)
	if err := s.store.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	s.diag = diag.New(s.log, s.store)

	// Build router and start HTTP server.
	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start the hanging-job watchdog goroutine.
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(hangingScanInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.reportHangingJobs(ctx)
			case <-s.done:
				return
			}
		}
	}()

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}

	// Start HTTP server.
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Listen).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server and closes the store.
func (s *server) Stop() error {
	close(s.done)

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if s.store != nil {
		if err := s.store.Stop(); err != nil {
			return fmt.Errorf("stopping store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}

// reportHangingJobs logs a warning when jobs sit in RUNNING with no
// completion timestamp, typically after a crashed or killed worker.
func (s *server) reportHangingJobs(ctx context.Context) {
	jobs, err := s.store.HangingJobs(ctx)
	if err != nil {
		s.log.WithError(err).Warn("Failed to scan for hanging jobs")

		return
	}

	if len(jobs) == 0 {
		return
	}

	s.log.WithFields(logrus.Fields{
		"count":  len(jobs),
		"newest": jobs[0].JobID,
	}).Warn("Hanging jobs detected")
}
