package results

import (
	"fmt"
	"strings"
	"time"

	"github.com/regexoor/regexoor/pkg/diag"
	"github.com/regexoor/regexoor/pkg/store"
)

// maxFailedRows caps the failed-job listing in the report.
const maxFailedRows = 20

// RenderMarkdown builds the markdown report for one run. profile,
// engines and failed may be empty; the corresponding sections are
// omitted.
func RenderMarkdown(
	summary *diag.RunSummary,
	profile *store.SystemProfile,
	engines []EngineStats,
	failed []diag.JobSample,
) string {
	var sb strings.Builder

	sb.Grow(4096)

	writeTitle(&sb, summary.Run.RunID)
	writeOverview(&sb, summary)
	writeJobCounts(&sb, summary)
	writeEngines(&sb, engines)
	writeSystem(&sb, profile)
	writeFailedJobs(&sb, failed)

	return sb.String()
}

func writeTitle(sb *strings.Builder, runID string) {
	fmt.Fprintf(sb, "# Benchmark Run: %s\n\n", runID)
}

func writeOverview(sb *strings.Builder, summary *diag.RunSummary) {
	run := summary.Run

	sb.WriteString("## Overview\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|---|---|\n")

	fmt.Fprintf(sb, "| Status | %s |\n", run.Status)
	fmt.Fprintf(sb, "| Created | %s |\n",
		run.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC"))

	if run.CreatedBy != "" {
		fmt.Fprintf(sb, "| Created By | %s |\n", run.CreatedBy)
	}

	if run.ConfigHash != "" {
		fmt.Fprintf(sb, "| Config Hash | `%s` |\n", run.ConfigHash)
	}

	if summary.Timeline.DurationSeconds > 0 {
		dur := time.Duration(summary.Timeline.DurationSeconds * float64(time.Second))
		fmt.Fprintf(sb, "| Duration | %s |\n", formatDuration(dur))
	}

	sb.WriteByte('\n')
}

func writeJobCounts(sb *strings.Builder, summary *diag.RunSummary) {
	sb.WriteString("## Jobs\n\n")
	sb.WriteString("| Status | Count |\n")
	sb.WriteString("|---|---|\n")

	for _, status := range []string{
		store.JobStatusQueued,
		store.JobStatusRunning,
		store.JobStatusCompleted,
		store.JobStatusFailed,
		store.JobStatusTimeout,
	} {
		if count := summary.StatusCounts[status]; count > 0 {
			fmt.Fprintf(sb, "| %s | %d |\n", status, count)
		}
	}

	fmt.Fprintf(sb, "| total | %d |\n", summary.TotalJobs)
	sb.WriteByte('\n')
}

func writeEngines(sb *strings.Builder, engines []EngineStats) {
	if len(engines) == 0 {
		return
	}

	sb.WriteString("## Engines\n\n")
	sb.WriteString("| Engine | Jobs | Completed | Failed | Timeout | Total p50 | Total p95 | Total max | MB/s p50 |\n")
	sb.WriteString("|---|---|---|---|---|---|---|---|---|\n")

	for i := range engines {
		e := &engines[i]

		p50, p95, maxNs := "-", "-", "-"
		if e.TotalNs != nil {
			p50 = formatDurationNs(e.TotalNs.P50)
			p95 = formatDurationNs(e.TotalNs.P95)
			maxNs = formatDurationNs(e.TotalNs.Max)
		}

		mbps := "-"
		if e.ThroughputMBps != nil {
			mbps = fmt.Sprintf("%.1f", e.ThroughputMBps.P50)
		}

		fmt.Fprintf(sb, "| %s | %d | %d | %d | %d | %s | %s | %s | %s |\n",
			e.EngineName, e.Jobs, e.Completed, e.Failed, e.Timeout,
			p50, p95, maxNs, mbps)
	}

	sb.WriteByte('\n')
}

func writeSystem(sb *strings.Builder, profile *store.SystemProfile) {
	if profile == nil {
		return
	}

	sb.WriteString("## System\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|---|---|\n")

	if profile.Hostname != "" {
		fmt.Fprintf(sb, "| Hostname | %s |\n", profile.Hostname)
	}

	if profile.CPUModel != "" {
		fmt.Fprintf(sb, "| CPU | %s |\n", profile.CPUModel)
	}

	if profile.CPULogicalCores > 0 {
		fmt.Fprintf(sb, "| Cores | %d (%d physical) |\n",
			profile.CPULogicalCores, profile.CPUPhysicalCores)
	}

	if profile.CPUGovernor != "" {
		fmt.Fprintf(sb, "| Governor | %s |\n", profile.CPUGovernor)
	}

	if profile.MemoryTotalGB > 0 {
		fmt.Fprintf(sb, "| Memory | %.1f GB |\n", profile.MemoryTotalGB)
	}

	if profile.OSName != "" {
		osLine := profile.OSName
		if profile.OSVersion != "" {
			osLine += " " + profile.OSVersion
		}

		fmt.Fprintf(sb, "| OS | %s |\n", osLine)
	}

	if profile.CPUArchitecture != "" {
		fmt.Fprintf(sb, "| Arch | %s |\n", profile.CPUArchitecture)
	}

	if profile.RuntimeVersion != "" {
		fmt.Fprintf(sb, "| Runtime | %s |\n", profile.RuntimeVersion)
	}

	if profile.IsVirtualized {
		fmt.Fprintf(sb, "| Virtualization | %s |\n", profile.VirtualizationType)
	}

	if profile.BaselineScore != nil {
		fmt.Fprintf(sb, "| Baseline Score | %.2f |\n", *profile.BaselineScore)
	}

	sb.WriteByte('\n')
}

func writeFailedJobs(sb *strings.Builder, failed []diag.JobSample) {
	if len(failed) == 0 {
		return
	}

	fmt.Fprintf(sb, "## Failed Jobs (%d)\n\n", len(failed))

	shown := failed
	if len(shown) > maxFailedRows {
		shown = shown[:maxFailedRows]
	}

	for i := range shown {
		s := &shown[i]

		fmt.Fprintf(sb, "- `%s` %s %s patterns=%d corpus=%s/%s",
			s.JobID, s.Status, s.EngineName,
			s.PatternCount, s.CorpusName, s.InputSize)

		if s.Error != "" {
			fmt.Fprintf(sb, ": %s", s.Error)
		}

		sb.WriteByte('\n')
	}

	if hidden := len(failed) - len(shown); hidden > 0 {
		fmt.Fprintf(sb, "\n_... and %d more_\n", hidden)
	}

	sb.WriteByte('\n')
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.String()
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}

	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}

	return fmt.Sprintf("%ds", seconds)
}

// formatDurationNs formats nanoseconds as a human-readable duration.
func formatDurationNs(ns int64) string {
	return formatDuration(time.Duration(ns))
}
