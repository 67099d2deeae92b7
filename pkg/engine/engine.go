package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/regexoor/regexoor/pkg/config"
)

// Result status values.
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusTimeout = "timeout"
)

// maxErrorDetail bounds the stderr excerpt carried in a failed result.
const maxErrorDetail = 2048

// Invocation carries the per-job inputs for one engine execution. Paths
// are substituted into the engine's argv template element by element;
// no shell is involved.
type Invocation struct {
	JobID        string
	PatternsPath string
	CorpusPath   string
	Timeout      time.Duration
}

// Result is the outcome of one engine execution. Status is one of
// StatusOK, StatusFailed or StatusTimeout; Error carries the failure
// detail for the latter two. Metrics holds extracted values keyed by
// the metric names in config.DefaultMetricPatterns.
type Result struct {
	Status   string
	Error    string
	Metrics  map[string]int64
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner executes one engine's subprocess per job. Failures of the
// engine itself (timeout, non-zero exit, unparseable output) are
// reported in the Result; the error return is reserved for faults of
// the runner's own machinery, such as scratch-dir creation.
type Runner interface {
	Run(ctx context.Context, inv *Invocation) (*Result, error)
	Name() string
}

type metricPattern struct {
	re        *regexp.Regexp
	mandatory bool
}

type runner struct {
	log        logrus.FieldLogger
	cfg        *config.EngineConfig
	scratchDir string
	metrics    map[string]metricPattern
}

var _ Runner = (*runner)(nil)

// NewRunner compiles the engine's metric extraction patterns and
// returns a Runner. scratchDir is where per-job output dirs are
// created; empty means the system temp dir.
func NewRunner(
	log logrus.FieldLogger,
	cfg *config.EngineConfig,
	scratchDir string,
) (Runner, error) {
	metrics := make(map[string]metricPattern, len(cfg.Metrics))

	for name, m := range cfg.Metrics {
		re, err := regexp.Compile(m.Pattern)
		if err != nil {
			return nil, fmt.Errorf("engine %q: metric %q: %w", cfg.Name, name, err)
		}

		metrics[name] = metricPattern{re: re, mandatory: m.Mandatory}
	}

	return &runner{
		log: log.WithFields(logrus.Fields{
			"component": "engine",
			"engine":    cfg.Name,
		}),
		cfg:        cfg,
		scratchDir: scratchDir,
		metrics:    metrics,
	}, nil
}

func (r *runner) Name() string {
	return r.cfg.Name
}

// Run launches the engine process for one job and folds its exit state
// and output into a Result.
func (r *runner) Run(ctx context.Context, inv *Invocation) (*Result, error) {
	var outputPath string

	if r.cfg.ResultFile {
		tmpDir, err := os.MkdirTemp(r.scratchDir, "regexoor-*")
		if err != nil {
			return nil, fmt.Errorf("creating output dir: %w", err)
		}

		defer os.RemoveAll(tmpDir)

		outputPath = filepath.Join(tmpDir, "result.txt")
	}

	argv := buildArgv(r.cfg.Command, inv, outputPath)

	runCtx, cancel := context.WithTimeout(ctx, inv.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = r.cfg.Dir

	// Stdin stays nil so the child reads EOF from the null device
	// instead of inheriting an open descriptor it could block on.
	cmd.Stdin = nil

	// The child runs in its own process group so the kill on timeout
	// reaches any grandchildren it spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}

		return err
	}
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.log.WithFields(logrus.Fields{
		"job":     inv.JobID,
		"timeout": inv.Timeout,
	}).Debug("Launching engine process")

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	res := &Result{
		Status:   StatusOK,
		Metrics:  map[string]int64{},
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	switch {
	case runErr == nil, errors.Is(runErr, exec.ErrWaitDelay):
		// Exited zero; an orphaned grandchild holding the output pipe
		// open past WaitDelay does not fail the job.

	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.Status = StatusTimeout
		res.Error = fmt.Sprintf("timed out after %s", inv.Timeout)
		// Keep whatever metrics made it out before the kill.
		res.Metrics, _ = r.extract(res.Stdout)

		r.log.WithFields(logrus.Fields{
			"job":     inv.JobID,
			"timeout": inv.Timeout,
		}).Warn("Engine process timed out")

		return res, nil

	case runCtx.Err() != nil:
		res.Status = StatusFailed
		res.Error = "cancelled before completion"

		return res, nil

	default:
		res.Status = StatusFailed

		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.Error = exitDetail(exitErr, res.Stderr)
		} else {
			res.Error = fmt.Sprintf("engine process: %v", runErr)
		}

		r.log.WithFields(logrus.Fields{
			"job":   inv.JobID,
			"error": res.Error,
		}).Warn("Engine process failed")

		return res, nil
	}

	source := res.Stdout

	if r.cfg.ResultFile {
		data, err := os.ReadFile(outputPath)
		if err != nil {
			res.Status = StatusFailed
			res.Error = fmt.Sprintf("output parse error: reading result file: %v", err)

			return res, nil
		}

		source = string(data)
	}

	metrics, missing := r.extract(source)
	res.Metrics = metrics

	if len(missing) > 0 {
		res.Status = StatusFailed
		res.Error = fmt.Sprintf(
			"output parse error: missing mandatory metrics: %s",
			strings.Join(missing, ", "),
		)

		return res, nil
	}

	r.log.WithFields(logrus.Fields{
		"job":      inv.JobID,
		"duration": duration,
	}).Debug("Engine process completed")

	return res, nil
}

// buildArgv substitutes the path tokens into the argv template.
func buildArgv(template []string, inv *Invocation, outputPath string) []string {
	repl := strings.NewReplacer(
		"{patterns}", inv.PatternsPath,
		"{corpus}", inv.CorpusPath,
		"{output}", outputPath,
	)

	argv := make([]string, len(template))

	for i, arg := range template {
		argv[i] = repl.Replace(arg)
	}

	return argv
}

// exitDetail builds a failed result's error text from the exit status
// and a bounded stderr excerpt.
func exitDetail(exitErr *exec.ExitError, stderr string) string {
	detail := strings.TrimSpace(stderr)
	if detail == "" {
		return exitErr.Error()
	}

	return fmt.Sprintf("%s: %s", exitErr.Error(), truncate(detail, maxErrorDetail))
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}

	return string(runes[:n]) + "..."
}
