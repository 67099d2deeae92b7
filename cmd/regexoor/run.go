package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/regexoor/regexoor/pkg/cpufreq"
	"github.com/regexoor/regexoor/pkg/diag"
	"github.com/regexoor/regexoor/pkg/results"
	"github.com/regexoor/regexoor/pkg/store"
	"github.com/regexoor/regexoor/pkg/sysprofile"
	"github.com/regexoor/regexoor/pkg/upload"
	"github.com/regexoor/regexoor/pkg/worker"
)

var (
	runIDFlag    string
	resumeRun    bool
	skipBaseline bool
	workerCount  int
	engineFilter string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the benchmark sweep",
	Long: `Expand the configured parameter matrix into a job queue and drain it
with a pool of workers, one external engine process per job.`,
	RunE: runBenchmark,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runIDFlag, "run-id", "",
		"run identifier (default: random UUID)")
	runCmd.Flags().BoolVar(&resumeRun, "resume", false,
		"resume an existing run instead of creating one (requires --run-id)")
	runCmd.Flags().BoolVar(&skipBaseline, "skip-baseline", false,
		"skip the CPU baseline measurement during system profiling")
	runCmd.Flags().IntVar(&workerCount, "workers", 0,
		"worker pool size (overrides config; 0 means one per logical core)")
	runCmd.Flags().StringVar(&engineFilter, "engine", "",
		"only claim jobs for this engine")
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := cfg.ValidateSweep(); err != nil {
		return fmt.Errorf("validating sweep config: %w", err)
	}

	if resumeRun && runIDFlag == "" {
		return fmt.Errorf("--resume requires --run-id")
	}

	// Setup context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	// Open the store.
	st := store.NewStore(log, &cfg.Database)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() {
		if err := st.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop store")
		}
	}()

	// Capture the host fingerprint.
	collector := sysprofile.NewCollector(log, cfg.Benchmark.CorpusDir, !skipBaseline)

	profile, err := collector.Collect(ctx)
	if err != nil {
		return fmt.Errorf("collecting system profile: %w", err)
	}

	if err := st.GetOrCreateProfile(ctx, profile); err != nil {
		return fmt.Errorf("storing system profile: %w", err)
	}

	if profile.CPUGovernor != "" && profile.CPUGovernor != cpufreq.GovernorPerformance {
		log.WithField("governor", profile.CPUGovernor).
			Warn("CPU governor is not 'performance', timings may be noisy")
	}

	// Fail fast: verify the upload target is writable before any work runs.
	uploader, err := upload.NewUploader(log, cfg.Upload)
	if err != nil {
		return fmt.Errorf("creating uploader: %w", err)
	}

	if err := uploader.Preflight(ctx); err != nil {
		return fmt.Errorf("upload preflight check failed: %w", err)
	}

	configHash, err := cfg.Hash()
	if err != nil {
		return fmt.Errorf("hashing config: %w", err)
	}

	runID := runIDFlag
	if runID == "" {
		runID = uuid.NewString()
	}

	if resumeRun {
		run, err := st.GetRun(ctx, runID)
		if err != nil {
			return fmt.Errorf("loading run %s: %w", runID, err)
		}

		if run.ConfigHash != configHash {
			log.WithField("run", runID).
				Warn("Config changed since the run was created")
		}

		log.WithField("run", runID).Info("Resuming run")
	} else {
		configJSON, err := cfg.JSON()
		if err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}

		if err := st.CreateRun(ctx, &store.BenchmarkRun{
			RunID:           runID,
			ConfigPath:      cfg.Path(),
			ConfigJSON:      configJSON,
			ConfigHash:      configHash,
			SystemProfileID: profile.ProfileID,
			CreatedBy:       cfg.Global.CreatedBy,
		}); err != nil {
			return fmt.Errorf("creating run: %w", err)
		}

		jobs, err := worker.BuildJobs(cfg, runID, configHash)
		if err != nil {
			return fmt.Errorf("expanding job matrix: %w", err)
		}

		if err := st.EnqueueJobs(ctx, runID, jobs); err != nil {
			return fmt.Errorf("enqueueing jobs: %w", err)
		}

		log.WithFields(logrus.Fields{
			"run":  runID,
			"jobs": len(jobs),
		}).Info("Run created")
	}

	if err := st.MarkRunStarted(ctx, runID); err != nil {
		return fmt.Errorf("marking run started: %w", err)
	}

	runner, err := worker.NewJobRunner(
		log, cfg.Engines,
		cfg.Benchmark.PatternsDir, cfg.Benchmark.CorpusDir,
		cfg.Global.ScratchDir,
	)
	if err != nil {
		return fmt.Errorf("building job runner: %w", err)
	}

	workers := cfg.Benchmark.Workers
	if workerCount > 0 {
		workers = workerCount
	}

	filter := &store.JobFilter{RunID: runID, EngineName: engineFilter}
	pool := worker.NewPool(log, st, runner, workers, filter)

	drainErr := pool.Drain(ctx)

	// The terminal run write must land even when ctx was cancelled by a
	// shutdown signal, so the run is recorded as interrupted.
	finishCtx := context.WithoutCancel(ctx)

	if err := st.MarkRunCompleted(finishCtx, runID); err != nil {
		log.WithError(err).Warn("Failed to mark run completed")
	}

	payload, err := buildRunPayload(finishCtx, diag.New(log, st), st, runID)
	if err != nil {
		log.WithError(err).Warn("Failed to summarize run")
	} else {
		printRunReport(payload)

		if cfg.Benchmark.ResultsDir != "" {
			writer := results.NewWriter(log, cfg.Benchmark.ResultsDir)

			if _, err := writer.WriteSummary(runID, payload); err != nil {
				log.WithError(err).Warn("Failed to write run summary")
			}

			report := results.RenderMarkdown(
				payload.Summary, payload.Profile, payload.Engines, payload.FailedJobs,
			)
			if _, err := writer.WriteReport(runID, report); err != nil {
				log.WithError(err).Warn("Failed to write run report")
			}
		}

		if err := uploader.UploadRunSummary(finishCtx, runID, payload); err != nil {
			log.WithError(err).Warn("Failed to upload run summary")
		}
	}

	if drainErr != nil {
		return fmt.Errorf("worker pool: %w", drainErr)
	}

	if ctx.Err() != nil {
		log.Info("Benchmark interrupted")

		return ctx.Err()
	}

	log.Info("Benchmark completed")

	return nil
}
