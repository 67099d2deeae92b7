package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/regexoor/regexoor/pkg/config"
	"github.com/regexoor/regexoor/pkg/engine"
	"github.com/regexoor/regexoor/pkg/store"
)

// Pool drains the job queue with a bounded set of concurrent workers.
// Workers share nothing but the store; each claim is atomic, so the
// pool needs no scheduling state of its own.
type Pool struct {
	log     logrus.FieldLogger
	store   store.Store
	runner  JobRunner
	workers int
	filter  *store.JobFilter

	claimed   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	timedOut  atomic.Int64
}

// Summary is the pool's terminal-status tally after a drain.
type Summary struct {
	Claimed   int64
	Completed int64
	Failed    int64
	TimedOut  int64
}

// NewPool creates a worker pool. workers <= 0 selects one worker per
// logical CPU core. filter restricts which queued jobs are claimed,
// usually to a single run.
func NewPool(
	log logrus.FieldLogger,
	st store.Store,
	runner JobRunner,
	workers int,
	filter *store.JobFilter,
) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &Pool{
		log:     log.WithField("component", "worker_pool"),
		store:   st,
		runner:  runner,
		workers: workers,
		filter:  filter,
	}
}

// Workers returns the configured concurrency.
func (p *Pool) Workers() int {
	return p.workers
}

// Drain runs workers until the queue is empty or ctx is cancelled, and
// returns the first storage error any worker hit. A plain errgroup is
// used on purpose: one worker's storage failure must not cancel its
// siblings, which keep draining.
func (p *Pool) Drain(ctx context.Context) error {
	p.log.WithField("workers", p.workers).Info("Starting worker pool")

	var g errgroup.Group

	for i := 0; i < p.workers; i++ {
		idx := i

		g.Go(func() error {
			return p.workerLoop(ctx, idx)
		})
	}

	err := g.Wait()

	p.log.WithFields(logrus.Fields{
		"claimed":   p.claimed.Load(),
		"completed": p.completed.Load(),
		"failed":    p.failed.Load(),
		"timed_out": p.timedOut.Load(),
	}).Info("Worker pool drained")

	return err
}

// Summary returns the counters accumulated during Drain.
func (p *Pool) Summary() Summary {
	return Summary{
		Claimed:   p.claimed.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		TimedOut:  p.timedOut.Load(),
	}
}

func (p *Pool) workerLoop(ctx context.Context, idx int) error {
	log := p.log.WithField("worker", idx)

	for {
		if ctx.Err() != nil {
			log.Info("Stop requested, worker claiming no further jobs")

			return nil
		}

		job, err := p.store.ClaimNextJob(ctx, p.filter)

		switch {
		case errors.Is(err, store.ErrNoJobAvailable):
			log.Debug("Queue drained, worker exiting")

			return nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		case err != nil:
			// Storage errors are fatal to this worker only.
			return fmt.Errorf("worker %d: claiming job: %w", idx, err)
		}

		p.claimed.Add(1)

		if err := p.executeJob(ctx, log, job); err != nil {
			return fmt.Errorf("worker %d: %w", idx, err)
		}
	}
}

// executeJob runs one claimed job and writes its terminal status. The
// terminal write uses a context detached from cancellation so a
// shutdown mid-job still lands the FAILED/TIMEOUT row instead of
// leaving the job RUNNING.
func (p *Pool) executeJob(
	ctx context.Context, log logrus.FieldLogger, job *store.BenchmarkJob,
) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("job", job.JobID).Errorf("Recovered worker panic: %v", r)

			completeErr := p.store.CompleteJob(
				context.WithoutCancel(ctx),
				job.JobID,
				store.JobStatusFailed,
				&store.JobResult{ErrorMessage: fmt.Sprintf("worker panic: %v", r)},
			)
			if completeErr != nil {
				log.WithError(completeErr).
					WithField("job", job.JobID).
					Error("Failed to record panicked job")
			}

			p.failed.Add(1)

			err = nil
		}
	}()

	log.WithFields(logrus.Fields{
		"job":           job.JobID,
		"engine":        job.EngineName,
		"pattern_count": job.PatternCount,
		"input_size":    job.InputSize,
	}).Debug("Executing job")

	res, runErr := p.runner.RunJob(ctx, job)
	if runErr != nil {
		res = &engine.Result{
			Status: engine.StatusFailed,
			Error:  runErr.Error(),
		}
	}

	status, result := foldResult(res)

	if err := p.store.CompleteJob(
		context.WithoutCancel(ctx), job.JobID, status, result,
	); err != nil {
		return fmt.Errorf("completing job %s: %w", job.JobID, err)
	}

	switch status {
	case store.JobStatusCompleted:
		p.completed.Add(1)
	case store.JobStatusTimeout:
		p.timedOut.Add(1)
	default:
		p.failed.Add(1)
	}

	log.WithFields(logrus.Fields{
		"job":    job.JobID,
		"status": status,
	}).Info("Job finished")

	return nil
}

// foldResult maps an engine result onto the job's terminal status and
// persisted metrics.
func foldResult(res *engine.Result) (string, *store.JobResult) {
	result := &store.JobResult{ErrorMessage: res.Error}

	if v, ok := res.Metrics[config.MetricCompilationNs]; ok {
		result.CompilationNs = &v
	}

	if v, ok := res.Metrics[config.MetricScanningNs]; ok {
		result.ScanningNs = &v
	}

	if v, ok := res.Metrics[config.MetricElapsedNs]; ok {
		result.TotalNs = &v
	}

	if v, ok := res.Metrics[config.MetricMatches]; ok {
		result.MatchCount = &v
	}

	if v, ok := res.Metrics[config.MetricMemoryBytes]; ok {
		result.MemoryBytes = &v
	}

	if v, ok := res.Metrics[config.MetricPatternsCompiled]; ok {
		result.PatternsCompiled = &v
	}

	switch res.Status {
	case engine.StatusOK:
		return store.JobStatusCompleted, result
	case engine.StatusTimeout:
		return store.JobStatusTimeout, result
	default:
		return store.JobStatusFailed, result
	}
}
