// Package results aggregates finished benchmark jobs into per-engine
// statistics and writes run artifacts (summary JSON, markdown report)
// to a local results directory.
package results

import (
	"slices"
	"sort"

	"github.com/regexoor/regexoor/pkg/store"
)

// MetricStats contains aggregated statistics for one integer metric.
type MetricStats struct {
	Count int64 `json:"count"`
	Min   int64 `json:"min"`
	Max   int64 `json:"max"`
	P50   int64 `json:"p50"`
	P95   int64 `json:"p95"`
	P99   int64 `json:"p99"`
	Mean  int64 `json:"mean"`
}

// MetricStatsFloat contains aggregated statistics for one float metric.
type MetricStatsFloat struct {
	Count int64   `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Mean  float64 `json:"mean"`
}

// EngineStats aggregates one engine's jobs across a run. Metric stats
// are computed over completed jobs only; the counters cover all jobs.
type EngineStats struct {
	EngineName string `json:"engine_name"`
	Jobs       int    `json:"jobs"`
	Completed  int    `json:"completed"`
	Failed     int    `json:"failed"`
	Timeout    int    `json:"timeout"`

	TotalNs        *MetricStats      `json:"total_ns,omitempty"`
	CompilationNs  *MetricStats      `json:"compilation_ns,omitempty"`
	ScanningNs     *MetricStats      `json:"scanning_ns,omitempty"`
	ThroughputMBps *MetricStatsFloat `json:"throughput_mbps,omitempty"`
}

type engineAccumulator struct {
	stats         EngineStats
	totalNs       []int64
	compilationNs []int64
	scanningNs    []int64
	throughput    []float64
}

// Aggregate groups a run's jobs by engine and computes metric
// statistics. Throughput normalizes total time by corpus size, so it is
// the comparable number when a run mixes input sizes. Engines are
// returned sorted by name.
func Aggregate(jobs []store.BenchmarkJob) []EngineStats {
	accs := make(map[string]*engineAccumulator)

	for i := range jobs {
		job := &jobs[i]

		acc, ok := accs[job.EngineName]
		if !ok {
			acc = &engineAccumulator{stats: EngineStats{EngineName: job.EngineName}}
			accs[job.EngineName] = acc
		}

		acc.stats.Jobs++

		switch job.Status {
		case store.JobStatusFailed:
			acc.stats.Failed++

			continue
		case store.JobStatusTimeout:
			acc.stats.Timeout++

			continue
		case store.JobStatusCompleted:
			acc.stats.Completed++
		default:
			continue
		}

		if job.TotalNs != nil {
			acc.totalNs = append(acc.totalNs, *job.TotalNs)

			if *job.TotalNs > 0 && job.InputSizeBytes > 0 {
				mbps := float64(job.InputSizeBytes) * 1000 / float64(*job.TotalNs)
				acc.throughput = append(acc.throughput, mbps)
			}
		}

		if job.CompilationNs != nil {
			acc.compilationNs = append(acc.compilationNs, *job.CompilationNs)
		}

		if job.ScanningNs != nil {
			acc.scanningNs = append(acc.scanningNs, *job.ScanningNs)
		}
	}

	names := make([]string, 0, len(accs))
	for name := range accs {
		names = append(names, name)
	}

	sort.Strings(names)

	engines := make([]EngineStats, 0, len(names))

	for _, name := range names {
		acc := accs[name]
		acc.stats.TotalNs = calculateStats(acc.totalNs)
		acc.stats.CompilationNs = calculateStats(acc.compilationNs)
		acc.stats.ScanningNs = calculateStats(acc.scanningNs)
		acc.stats.ThroughputMBps = calculateStatsFloat(acc.throughput)
		engines = append(engines, acc.stats)
	}

	return engines
}

// calculateStats computes statistics over values, nil when empty.
func calculateStats(values []int64) *MetricStats {
	if len(values) == 0 {
		return nil
	}

	sorted := make([]int64, len(values))
	copy(sorted, values)
	slices.Sort(sorted)

	var sum int64
	for _, v := range sorted {
		sum += v
	}

	return &MetricStats{
		Count: int64(len(sorted)),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		P50:   percentile(sorted, 50),
		P95:   percentile(sorted, 95),
		P99:   percentile(sorted, 99),
		Mean:  sum / int64(len(sorted)),
	}
}

func calculateStatsFloat(values []float64) *MetricStatsFloat {
	if len(values) == 0 {
		return nil
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	slices.Sort(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	return &MetricStatsFloat{
		Count: int64(len(sorted)),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		P50:   percentileFloat(sorted, 50),
		P95:   percentileFloat(sorted, 95),
		P99:   percentileFloat(sorted, 99),
		Mean:  sum / float64(len(sorted)),
	}
}

// percentile calculates the p-th percentile from sorted values using
// the nearest-rank method.
func percentile(sorted []int64, p int) int64 {
	if len(sorted) == 0 {
		return 0
	}

	idx := (p * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	return sorted[idx]
}

func percentileFloat(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}

	idx := (p * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	return sorted[idx]
}
