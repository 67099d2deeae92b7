// Package cpufreq reads the kernel's CPU frequency scaling state. The
// scaling governor decides how aggressively the kernel throttles cores,
// which directly skews timing measurements, so the snapshot is recorded
// with every system profile.
package cpufreq

import (
	"fmt"
)

// GovernorPerformance is the governor benchmark hosts should run with.
const GovernorPerformance = "performance"

// CPUInfo contains frequency scaling state for a single CPU.
type CPUInfo struct {
	ID             int
	Governor       string
	CurrentFreqKHz uint64
	MinFreqKHz     uint64
	MaxFreqKHz     uint64
}

// Snapshot is the scaling state of all online CPUs at one point in time.
type Snapshot struct {
	CPUs []CPUInfo
}

// Read collects the scaling state of all online CPUs under basePath,
// normally DefaultSysfsCPUPath. CPUs whose cpufreq directory cannot be
// read are skipped; an empty snapshot with no error means the kernel
// exposes no scaling state at all.
func Read(basePath string) (*Snapshot, error) {
	cpus, err := getOnlineCPUs(basePath)
	if err != nil {
		return nil, fmt.Errorf("listing online CPUs: %w", err)
	}

	snap := &Snapshot{CPUs: make([]CPUInfo, 0, len(cpus))}

	for _, cpuID := range cpus {
		info, ok := readCPUInfo(basePath, cpuID)
		if !ok {
			continue
		}

		snap.CPUs = append(snap.CPUs, info)
	}

	return snap, nil
}

// Governor returns the governor shared by all CPUs in the snapshot,
// "mixed" when CPUs disagree, and "" when no governor could be read.
func (s *Snapshot) Governor() string {
	if s == nil || len(s.CPUs) == 0 {
		return ""
	}

	governors := make(map[string]struct{}, 1)

	for _, cpu := range s.CPUs {
		if cpu.Governor != "" {
			governors[cpu.Governor] = struct{}{}
		}
	}

	switch len(governors) {
	case 0:
		return ""
	case 1:
		for gov := range governors {
			return gov
		}
	}

	return "mixed"
}

// MaxFrequencyKHz returns the highest hardware frequency bound across
// the snapshot, zero when unknown.
func (s *Snapshot) MaxFrequencyKHz() uint64 {
	if s == nil {
		return 0
	}

	var maxKHz uint64

	for _, cpu := range s.CPUs {
		if cpu.MaxFreqKHz > maxKHz {
			maxKHz = cpu.MaxFreqKHz
		}
	}

	return maxKHz
}

// Supported reports whether the cpufreq subsystem is readable under
// basePath.
func Supported(basePath string) bool {
	cpus, err := getOnlineCPUs(basePath)
	if err != nil || len(cpus) == 0 {
		return false
	}

	_, ok := readCPUInfo(basePath, cpus[0])

	return ok
}

// FormatFrequency formats a frequency in kHz to a human-readable string.
func FormatFrequency(kHz uint64) string {
	if kHz >= 1_000_000 {
		return fmt.Sprintf("%.2f GHz", float64(kHz)/1_000_000)
	}

	if kHz >= 1_000 {
		return fmt.Sprintf("%.0f MHz", float64(kHz)/1_000)
	}

	return fmt.Sprintf("%d kHz", kHz)
}
