package engine

import (
	"time"

	"github.com/docker/go-units"
)

const (
	// MinJobTimeout is the floor applied to every job so small
	// workloads are not killed before the engine finishes starting up.
	MinJobTimeout = 45 * time.Second

	// MaxJobTimeout caps the wall-clock budget of a single job.
	MaxJobTimeout = 600 * time.Second

	// timeoutDivisor converts the pattern-count times corpus-megabyte
	// product into seconds. 10000 is the validated constant; do not
	// raise it, larger divisors under-scale big workloads.
	timeoutDivisor = 10000
)

// TimeoutFor computes the wall-clock budget for one job:
//
//	45s + (pattern_count * corpus_size_mb) / 10000 seconds
//
// clamped to [MinJobTimeout, MaxJobTimeout]. Integer arithmetic, so
// workloads below the divisor contribute nothing over the floor.
func TimeoutFor(patternCount int, corpusSizeMB int64) time.Duration {
	scaling := int64(patternCount) * corpusSizeMB / timeoutDivisor

	seconds := int64(MinJobTimeout/time.Second) + scaling

	if seconds < int64(MinJobTimeout/time.Second) {
		seconds = int64(MinJobTimeout / time.Second)
	}

	if seconds > int64(MaxJobTimeout/time.Second) {
		seconds = int64(MaxJobTimeout / time.Second)
	}

	return time.Duration(seconds) * time.Second
}

// CorpusSizeMB converts a corpus byte count to whole mebibytes for the
// timeout formula. Inputs under one mebibyte round down to zero.
func CorpusSizeMB(sizeBytes int64) int64 {
	return sizeBytes / units.MiB
}
