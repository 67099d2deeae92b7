package cpufreq

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultSysfsCPUPath is the sysfs root for CPU frequency scaling state.
const DefaultSysfsCPUPath = "/sys/devices/system/cpu"

const cpufreqSubdir = "cpufreq"

// cpufreq sysfs files.
const (
	scalingCurFreqFile  = "scaling_cur_freq"
	scalingGovernorFile = "scaling_governor"
	cpuinfoMinFreqFile  = "cpuinfo_min_freq"
	cpuinfoMaxFreqFile  = "cpuinfo_max_freq"
	cpuinfoCurFreqFile  = "cpuinfo_cur_freq"
)

// getOnlineCPUs returns the list of online CPU IDs.
func getOnlineCPUs(basePath string) ([]int, error) {
	data, err := os.ReadFile(filepath.Join(basePath, "online"))
	if err == nil {
		return parseCPURange(strings.TrimSpace(string(data)))
	}

	// Fall back to present CPUs if the online file doesn't exist.
	data, err = os.ReadFile(filepath.Join(basePath, "present"))
	if err != nil {
		return nil, fmt.Errorf("reading CPU online/present: %w", err)
	}

	return parseCPURange(strings.TrimSpace(string(data)))
}

// parseCPURange parses CPU range strings like "0-7" or "0,2,4-6".
func parseCPURange(rangeStr string) ([]int, error) {
	if rangeStr == "" {
		return nil, nil
	}

	var cpus []int

	for _, part := range strings.Split(rangeStr, ",") {
		part = strings.TrimSpace(part)

		if !strings.Contains(part, "-") {
			cpuID, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("parsing CPU ID: %w", err)
			}

			cpus = append(cpus, cpuID)

			continue
		}

		bounds := strings.Split(part, "-")
		if len(bounds) != 2 {
			return nil, fmt.Errorf("invalid CPU range: %s", part)
		}

		start, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
		if err != nil {
			return nil, fmt.Errorf("parsing CPU range start: %w", err)
		}

		end, err := strconv.Atoi(strings.TrimSpace(bounds[1]))
		if err != nil {
			return nil, fmt.Errorf("parsing CPU range end: %w", err)
		}

		for i := start; i <= end; i++ {
			cpus = append(cpus, i)
		}
	}

	return cpus, nil
}

// cpufreqPath returns the path to a cpufreq file for a given CPU.
func cpufreqPath(basePath string, cpuID int, filename string) string {
	return filepath.Join(basePath, fmt.Sprintf("cpu%d", cpuID), cpufreqSubdir, filename)
}

// readSysfsUint64 reads a uint64 value from a sysfs file.
func readSysfsUint64(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}

	value, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", path, err)
	}

	return value, nil
}

// readSysfsString reads a string value from a sysfs file.
func readSysfsString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}

	return strings.TrimSpace(string(data)), nil
}

// readCPUInfo reads the scaling state of one CPU. ok is false when the
// CPU exposes no cpufreq directory (common in VMs and containers).
func readCPUInfo(basePath string, cpuID int) (CPUInfo, bool) {
	info := CPUInfo{ID: cpuID}
	found := false

	if gov, err := readSysfsString(cpufreqPath(basePath, cpuID, scalingGovernorFile)); err == nil {
		info.Governor = gov
		found = true
	}

	if minKHz, err := readSysfsUint64(cpufreqPath(basePath, cpuID, cpuinfoMinFreqFile)); err == nil {
		info.MinFreqKHz = minKHz
		found = true
	}

	if maxKHz, err := readSysfsUint64(cpufreqPath(basePath, cpuID, cpuinfoMaxFreqFile)); err == nil {
		info.MaxFreqKHz = maxKHz
		found = true
	}

	// scaling_cur_freq is the scheduler's view; cpuinfo_cur_freq needs
	// root and is only tried as a fallback.
	if curKHz, err := readSysfsUint64(cpufreqPath(basePath, cpuID, scalingCurFreqFile)); err == nil {
		info.CurrentFreqKHz = curKHz
		found = true
	} else if curKHz, err := readSysfsUint64(cpufreqPath(basePath, cpuID, cpuinfoCurFreqFile)); err == nil {
		info.CurrentFreqKHz = curKHz
		found = true
	}

	return info, found
}
