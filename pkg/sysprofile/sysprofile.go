package sysprofile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"runtime"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/docker/go-units"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/sirupsen/logrus"

	"github.com/regexoor/regexoor/pkg/cpufreq"
	"github.com/regexoor/regexoor/pkg/store"
)

// trackedDependencies are the modules whose versions are recorded in
// the profile's dependency map.
var trackedDependencies = []string{
	"gorm.io/gorm",
	"gorm.io/driver/postgres",
	"github.com/glebarez/sqlite",
	"github.com/sirupsen/logrus",
	"github.com/shirou/gopsutil/v4",
	"github.com/go-chi/chi/v5",
	"github.com/aws/aws-sdk-go-v2/service/s3",
}

// baselineSink keeps the baseline loop's result observable so the loop
// is not eliminated.
var baselineSink uint64

// Collector produces the machine fingerprint a run is tied to.
type Collector interface {
	Collect(ctx context.Context) (*store.SystemProfile, error)
}

type collector struct {
	log logrus.FieldLogger

	// dataDir is the volume whose free space is recorded; empty means
	// the root filesystem.
	dataDir string

	// withBaseline enables the CPU baseline measurement. The score is
	// informational and excluded from the profile ID.
	withBaseline bool
}

var _ Collector = (*collector)(nil)

// NewCollector creates a system profile collector.
func NewCollector(log logrus.FieldLogger, dataDir string, withBaseline bool) Collector {
	return &collector{
		log:          log.WithField("component", "sysprofile"),
		dataDir:      dataDir,
		withBaseline: withBaseline,
	}
}

// Collect gathers the host fingerprint. The profile ID is a hash over
// the stable hardware and OS fields only, so repeated collection on an
// unchanged host yields the same ID.
func (c *collector) Collect(ctx context.Context) (*store.SystemProfile, error) {
	hostInfo, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading host info: %w", err)
	}

	cpuInfos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading cpu info: %w", err)
	}

	cpuModel := ""
	if len(cpuInfos) > 0 {
		cpuModel = cpuInfos[0].ModelName
	}

	physical, err := cpu.CountsWithContext(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("counting physical cores: %w", err)
	}

	logical, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("counting logical cores: %w", err)
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading memory info: %w", err)
	}

	volume := c.dataDir
	if volume == "" {
		volume = "/"
	}

	usage, err := disk.UsageWithContext(ctx, volume)
	if err != nil {
		return nil, fmt.Errorf("reading disk usage for %s: %w", volume, err)
	}

	osName := hostInfo.Platform
	if osName == "" {
		osName = hostInfo.OS
	}

	// The scaling governor is best-effort; VMs and non-Linux hosts
	// expose none.
	governor := ""
	if snap, err := cpufreq.Read(cpufreq.DefaultSysfsCPUPath); err == nil {
		governor = snap.Governor()
	} else {
		c.log.WithError(err).Debug("CPU frequency state not available")
	}

	profile := &store.SystemProfile{
		Hostname:               hostInfo.Hostname,
		CPUModel:               cpuModel,
		CPUArchitecture:        hostInfo.KernelArch,
		CPUPhysicalCores:       physical,
		CPULogicalCores:        logical,
		CPUGovernor:            governor,
		MemoryTotalGB:          toGB(vm.Total),
		MemoryAvailableGB:      toGB(vm.Available),
		StorageAvailableGB:     toGB(usage.Free),
		OSName:                 osName,
		OSVersion:              hostInfo.PlatformVersion,
		RuntimeVersion:         runtime.Version(),
		DependencyVersionsJSON: dependencyVersions(),
		IsVirtualized:          hostInfo.VirtualizationSystem != "" && hostInfo.VirtualizationRole == "guest",
		VirtualizationType:     hostInfo.VirtualizationSystem,
		ProfiledAt:             time.Now().UTC(),
	}

	profile.ProfileID = profileID(profile)

	if c.withBaseline {
		score := measureBaseline()
		profile.BaselineScore = &score

		c.log.WithField("score", score).Debug("Measured CPU baseline")
	}

	c.log.WithFields(logrus.Fields{
		"profile":  profile.ProfileID,
		"hostname": profile.Hostname,
		"cores":    profile.CPULogicalCores,
	}).Info("Collected system profile")

	return profile, nil
}

// profileID hashes the stable fields. Capacity numbers, the baseline
// score, the scaling governor and timestamps are deliberately outside
// the hash.
func profileID(p *store.SystemProfile) string {
	h := sha256.New()

	for _, field := range []string{
		p.Hostname,
		p.CPUModel,
		p.CPUArchitecture,
		strconv.Itoa(p.CPUPhysicalCores),
		strconv.Itoa(p.CPULogicalCores),
		p.OSName,
		p.OSVersion,
		p.RuntimeVersion,
	} {
		h.Write([]byte(field))
		h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil))
}

// dependencyVersions maps the tracked module paths to their built
// versions, JSON-encoded for the profile row.
func dependencyVersions() string {
	versions := make(map[string]string, len(trackedDependencies))

	if info, ok := debug.ReadBuildInfo(); ok {
		for _, dep := range info.Deps {
			for _, tracked := range trackedDependencies {
				if dep.Path == tracked {
					versions[dep.Path] = dep.Version
				}
			}
		}
	}

	out, err := json.Marshal(versions)
	if err != nil {
		return "{}"
	}

	return string(out)
}

// measureBaseline times a fixed xorshift workload and reports
// iterations per microsecond.
func measureBaseline() float64 {
	const iterations = 50_000_000

	acc := uint64(0x9e3779b97f4a7c15)

	start := time.Now()

	for i := 0; i < iterations; i++ {
		acc ^= acc << 13
		acc ^= acc >> 7
		acc ^= acc << 17
	}

	elapsed := time.Since(start)

	baselineSink = acc

	if elapsed <= 0 {
		return 0
	}

	return math.Round(float64(iterations)/float64(elapsed.Microseconds())*100) / 100
}

func toGB(bytes uint64) float64 {
	return math.Round(float64(bytes)/float64(units.GiB)*100) / 100
}
