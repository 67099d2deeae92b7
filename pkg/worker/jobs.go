package worker

import (
	"fmt"

	"github.com/docker/go-units"
	"github.com/google/uuid"

	"github.com/regexoor/regexoor/pkg/config"
	"github.com/regexoor/regexoor/pkg/store"
)

type inputSize struct {
	label string
	bytes int64
}

// BuildJobs expands the configured matrix into one job per engine x
// pattern count x input size x pattern suite x corpus x iteration.
// Jobs come back in deterministic matrix order; the store stamps their
// shared created_at on insert.
func BuildJobs(cfg *config.Config, runID, configHash string) ([]*store.BenchmarkJob, error) {
	matrix := cfg.Benchmark.Matrix

	sizes := make([]inputSize, 0, len(matrix.InputSizes))

	for _, label := range matrix.InputSizes {
		bytes, err := units.RAMInBytes(label)
		if err != nil {
			return nil, fmt.Errorf("invalid input size %q: %w", label, err)
		}

		sizes = append(sizes, inputSize{label: label, bytes: bytes})
	}

	total := len(cfg.Engines) * len(matrix.PatternCounts) * len(sizes) *
		len(matrix.PatternSuites) * len(matrix.Corpora) * matrix.Iterations

	jobs := make([]*store.BenchmarkJob, 0, total)

	for _, eng := range cfg.Engines {
		for _, patternCount := range matrix.PatternCounts {
			for _, size := range sizes {
				for _, suite := range matrix.PatternSuites {
					for _, corpus := range matrix.Corpora {
						for iter := 1; iter <= matrix.Iterations; iter++ {
							jobs = append(jobs, &store.BenchmarkJob{
								JobID:          uuid.NewString(),
								RunID:          runID,
								EngineName:     eng.Name,
								PatternCount:   patternCount,
								InputSize:      size.label,
								InputSizeBytes: size.bytes,
								Iteration:      iter,
								PatternSuite:   suite,
								CorpusName:     corpus,
								ConfigHash:     configHash,
							})
						}
					}
				}
			}
		}
	}

	return jobs, nil
}
