package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/docker/go-units"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultSQLitePath is the default SQLite database location.
	DefaultSQLitePath = "./regexoor.db"

	// DefaultIterations is the default number of iterations per job
	// parameter combination.
	DefaultIterations = 1

	// DefaultListen is the default API listen address.
	DefaultListen = ":8080"

	// DefaultRateLimitPerMinute is the default per-IP request budget
	// for the API when rate limiting is enabled.
	DefaultRateLimitPerMinute = 120
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// REGEXOOR_DATABASE_DRIVER overrides database.driver.
const EnvPrefix = "REGEXOOR"

// envOverridableKeys are keys that can be set purely from the
// environment, without appearing in the config file.
var envOverridableKeys = []string{
	"global.log_level",
	"global.scratch_dir",
	"database.driver",
	"database.sqlite.path",
	"database.postgres.host",
	"database.postgres.port",
	"database.postgres.user",
	"database.postgres.password",
	"database.postgres.database",
	"benchmark.workers",
	"server.listen",
}

// Config is the root configuration for regexoor.
type Config struct {
	Global    GlobalConfig    `yaml:"global" mapstructure:"global"`
	Database  DatabaseConfig  `yaml:"database" mapstructure:"database"`
	Benchmark BenchmarkConfig `yaml:"benchmark" mapstructure:"benchmark"`
	Engines   []EngineConfig  `yaml:"engines" mapstructure:"engines"`
	Server    ServerConfig    `yaml:"server,omitempty" mapstructure:"server"`
	Upload    *UploadConfig   `yaml:"upload,omitempty" mapstructure:"upload"`

	// raw holds the file bytes the config was loaded from.
	raw []byte
	// path is where the config was loaded from.
	path string
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel   string `yaml:"log_level" mapstructure:"log_level"`
	CreatedBy  string `yaml:"created_by,omitempty" mapstructure:"created_by"`
	ScratchDir string `yaml:"scratch_dir,omitempty" mapstructure:"scratch_dir"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteConfig contains SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// BenchmarkConfig contains benchmark sweep settings.
type BenchmarkConfig struct {
	// Workers is the worker pool size. Zero means one worker per
	// logical CPU core.
	Workers     int          `yaml:"workers,omitempty" mapstructure:"workers"`
	PatternsDir string       `yaml:"patterns_dir" mapstructure:"patterns_dir"`
	CorpusDir   string       `yaml:"corpus_dir" mapstructure:"corpus_dir"`
	ResultsDir  string       `yaml:"results_dir,omitempty" mapstructure:"results_dir"`
	Matrix      MatrixConfig `yaml:"matrix" mapstructure:"matrix"`
}

// MatrixConfig defines the job parameter matrix for a sweep. One job is
// created per engine x pattern count x input size x suite x corpus x
// iteration combination.
type MatrixConfig struct {
	PatternCounts []int    `yaml:"pattern_counts" mapstructure:"pattern_counts"`
	InputSizes    []string `yaml:"input_sizes" mapstructure:"input_sizes"`
	PatternSuites []string `yaml:"pattern_suites" mapstructure:"pattern_suites"`
	Corpora       []string `yaml:"corpora" mapstructure:"corpora"`
	Iterations    int      `yaml:"iterations,omitempty" mapstructure:"iterations"`
}

// EngineConfig describes one external matching engine.
type EngineConfig struct {
	Name string `yaml:"name" mapstructure:"name"`

	// Dir is the engine's installation directory; the process is
	// launched with this as its working directory.
	Dir string `yaml:"dir" mapstructure:"dir"`

	// Command is the argv template. The tokens {patterns}, {corpus}
	// and {output} are substituted with file paths at execution time.
	Command []string `yaml:"command" mapstructure:"command"`

	// ResultFile selects file-based result exchange: the engine writes
	// its metrics to the {output} path instead of stdout.
	ResultFile bool `yaml:"result_file,omitempty" mapstructure:"result_file"`

	// Metrics maps metric names to extraction settings. Unset metrics
	// fall back to the default patterns.
	Metrics map[string]MetricConfig `yaml:"metrics,omitempty" mapstructure:"metrics"`
}

// MetricConfig configures extraction of one metric from engine output.
type MetricConfig struct {
	// Pattern is a regular expression with one capture group for the
	// integer value.
	Pattern string `yaml:"pattern" mapstructure:"pattern"`

	// Mandatory marks the metric as required: a successful exit without
	// this metric in the output degrades the result to failed.
	Mandatory bool `yaml:"mandatory,omitempty" mapstructure:"mandatory"`
}

// ServerConfig contains diagnostics API server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen,omitempty" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute,omitempty" mapstructure:"requests_per_minute"`
}

// UploadConfig contains results upload settings.
type UploadConfig struct {
	S3 *S3UploadConfig `yaml:"s3,omitempty" mapstructure:"s3"`
}

// S3UploadConfig contains S3-compatible storage settings.
type S3UploadConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style,omitempty" mapstructure:"force_path_style"`
	StorageClass    string `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
	ACL             string `yaml:"acl,omitempty" mapstructure:"acl"`
}

// Metric names recognized by the engine runner.
const (
	MetricMatches          = "matches"
	MetricElapsedNs        = "elapsed_ns"
	MetricCompilationNs    = "compilation_ns"
	MetricScanningNs       = "scanning_ns"
	MetricMemoryBytes      = "memory_bytes"
	MetricPatternsCompiled = "patterns_compiled"
)

// DefaultMetricPatterns are the extraction patterns applied when an
// engine does not configure its own. Each expects the value in the
// first capture group.
var DefaultMetricPatterns = map[string]string{
	MetricMatches:          `MATCHES=(\d+)`,
	MetricElapsedNs:        `ELAPSED_NS=(\d+)`,
	MetricCompilationNs:    `COMPILATION_NS=(\d+)`,
	MetricScanningNs:       `SCANNING_NS=(\d+)`,
	MetricMemoryBytes:      `MEMORY_BYTES=(\d+)`,
	MetricPatternsCompiled: `PATTERNS_COMPILED=(\d+)`,
}

// Load reads and parses a configuration file from the given path.
// Values can be overridden with REGEXOOR_* environment variables, e.g.
// REGEXOOR_DATABASE_DRIVER=postgres.
func Load(path string) (*Config, error) {
	data, err := Read(path)
	if err != nil {
		return nil, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	cfg.path = path

	return cfg, nil
}

// Read returns the raw bytes of a config file.
func Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return data, nil
}

// Parse decodes config bytes, overlays environment variables, applies
// defaults, and validates the result.
func Parse(data []byte) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper is asked about, so walk the
	// file keys plus the env-only keys to pick up REGEXOOR_* overrides.
	keys := append(v.AllKeys(), envOverridableKeys...)

	for _, key := range keys {
		if val := v.Get(key); val != nil {
			v.Set(key, val)
		}
	}

	var cfg Config

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("building config decoder: %w", err)
	}

	if err := dec.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.raw = data

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}

	if c.Database.Driver == "sqlite" && c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = DefaultSQLitePath
	}

	if c.Database.Postgres.Port == 0 {
		c.Database.Postgres.Port = 5432
	}

	if c.Database.Postgres.SSLMode == "" {
		c.Database.Postgres.SSLMode = "disable"
	}

	if c.Benchmark.Matrix.Iterations == 0 {
		c.Benchmark.Matrix.Iterations = DefaultIterations
	}

	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerMinute == 0 {
		c.Server.RateLimit.RequestsPerMinute = DefaultRateLimitPerMinute
	}

	for i := range c.Engines {
		if c.Engines[i].Metrics == nil {
			c.Engines[i].Metrics = make(map[string]MetricConfig, len(DefaultMetricPatterns))
		}

		for name, pattern := range DefaultMetricPatterns {
			if m, ok := c.Engines[i].Metrics[name]; !ok || m.Pattern == "" {
				c.Engines[i].Metrics[name] = MetricConfig{
					Pattern:   pattern,
					Mandatory: m.Mandatory,
				}
			}
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}

		if c.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	seenNames := make(map[string]struct{}, len(c.Engines))

	for i, eng := range c.Engines {
		if eng.Name == "" {
			return fmt.Errorf("engine %d: name is required", i)
		}

		if _, exists := seenNames[eng.Name]; exists {
			return fmt.Errorf("engine %d: duplicate name %q", i, eng.Name)
		}

		seenNames[eng.Name] = struct{}{}

		if len(eng.Command) == 0 {
			return fmt.Errorf("engine %q: command is required", eng.Name)
		}

		if eng.ResultFile {
			hasOutput := false

			for _, arg := range eng.Command {
				if strings.Contains(arg, "{output}") {
					hasOutput = true

					break
				}
			}

			if !hasOutput {
				return fmt.Errorf(
					"engine %q: result_file requires an {output} token in command", eng.Name,
				)
			}
		}

		for name, m := range eng.Metrics {
			if _, ok := DefaultMetricPatterns[name]; !ok {
				return fmt.Errorf("engine %q: unknown metric %q", eng.Name, name)
			}

			re, err := regexp.Compile(m.Pattern)
			if err != nil {
				return fmt.Errorf("engine %q: metric %q: invalid pattern: %w", eng.Name, name, err)
			}

			if re.NumSubexp() < 1 {
				return fmt.Errorf(
					"engine %q: metric %q: pattern must have a capture group", eng.Name, name,
				)
			}
		}
	}

	for _, size := range c.Benchmark.Matrix.InputSizes {
		if _, err := units.RAMInBytes(size); err != nil {
			return fmt.Errorf("invalid input size %q: %w", size, err)
		}
	}

	for _, count := range c.Benchmark.Matrix.PatternCounts {
		if count <= 0 {
			return fmt.Errorf("pattern counts must be positive, got %d", count)
		}
	}

	if c.Benchmark.Matrix.Iterations < 1 {
		return fmt.Errorf("iterations must be at least 1, got %d", c.Benchmark.Matrix.Iterations)
	}

	return nil
}

// ValidateSweep checks the parts of the configuration a benchmark sweep
// requires beyond Validate.
func (c *Config) ValidateSweep() error {
	if len(c.Engines) == 0 {
		return fmt.Errorf("at least one engine must be configured")
	}

	m := c.Benchmark.Matrix

	if len(m.PatternCounts) == 0 || len(m.InputSizes) == 0 ||
		len(m.PatternSuites) == 0 || len(m.Corpora) == 0 {
		return fmt.Errorf(
			"benchmark.matrix requires pattern_counts, input_sizes, pattern_suites and corpora",
		)
	}

	if c.Benchmark.PatternsDir == "" {
		return fmt.Errorf("benchmark.patterns_dir is required")
	}

	if c.Benchmark.CorpusDir == "" {
		return fmt.Errorf("benchmark.corpus_dir is required")
	}

	return nil
}

// Path returns the path the config was loaded from, if any.
func (c *Config) Path() string {
	return c.path
}

// Hash returns a stable content hash of the effective configuration.
// The config is re-marshaled so that formatting and comments in the
// source file do not affect the hash.
func (c *Config) Hash() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshaling config: %w", err)
	}

	sum := sha256.Sum256(out)

	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// JSON returns the raw config converted to JSON for persisting a run's
// configuration snapshot.
func (c *Config) JSON() (string, error) {
	var doc map[string]any

	if err := yaml.Unmarshal(c.raw, &doc); err != nil {
		return "", fmt.Errorf("decoding config snapshot: %w", err)
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encoding config snapshot: %w", err)
	}

	return string(out), nil
}

// Engine returns the engine config with the given name, or nil.
func (c *Config) Engine(name string) *EngineConfig {
	for i := range c.Engines {
		if c.Engines[i].Name == name {
			return &c.Engines[i]
		}
	}

	return nil
}
