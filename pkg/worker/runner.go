package worker

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/regexoor/regexoor/pkg/config"
	"github.com/regexoor/regexoor/pkg/engine"
	"github.com/regexoor/regexoor/pkg/store"
)

// JobRunner executes one claimed job. Implementations report engine
// failures in the Result; the error return is for runner-machinery
// faults only.
type JobRunner interface {
	RunJob(ctx context.Context, job *store.BenchmarkJob) (*engine.Result, error)
}

// engineJobRunner dispatches jobs to per-engine runners, derives the
// input file paths from the job parameters, and applies the dynamic
// timeout.
type engineJobRunner struct {
	log         logrus.FieldLogger
	runners     map[string]engine.Runner
	patternsDir string
	corpusDir   string
}

var _ JobRunner = (*engineJobRunner)(nil)

// NewJobRunner builds the production JobRunner from engine configs.
// Pattern files live at <patternsDir>/<suite>/<pattern_count>.txt and
// corpus files at <corpusDir>/<corpus>/<input_size>.txt.
func NewJobRunner(
	log logrus.FieldLogger,
	engines []config.EngineConfig,
	patternsDir, corpusDir, scratchDir string,
) (JobRunner, error) {
	runners := make(map[string]engine.Runner, len(engines))

	for i := range engines {
		r, err := engine.NewRunner(log, &engines[i], scratchDir)
		if err != nil {
			return nil, fmt.Errorf("building runner for engine %q: %w", engines[i].Name, err)
		}

		runners[engines[i].Name] = r
	}

	return &engineJobRunner{
		log:         log.WithField("component", "job_runner"),
		runners:     runners,
		patternsDir: patternsDir,
		corpusDir:   corpusDir,
	}, nil
}

func (e *engineJobRunner) RunJob(
	ctx context.Context, job *store.BenchmarkJob,
) (*engine.Result, error) {
	r, ok := e.runners[job.EngineName]
	if !ok {
		return &engine.Result{
			Status: engine.StatusFailed,
			Error:  fmt.Sprintf("no runner configured for engine %q", job.EngineName),
		}, nil
	}

	inv := &engine.Invocation{
		JobID:        job.JobID,
		PatternsPath: filepath.Join(e.patternsDir, job.PatternSuite, fmt.Sprintf("%d.txt", job.PatternCount)),
		CorpusPath:   filepath.Join(e.corpusDir, job.CorpusName, job.InputSize+".txt"),
		Timeout:      engine.TimeoutFor(job.PatternCount, engine.CorpusSizeMB(job.InputSizeBytes)),
	}

	return r.Run(ctx, inv)
}
