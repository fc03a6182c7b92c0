// Package config handles YAML configuration parsing and validation.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"bsfsim/internal/collector"

	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every configuration error.
var ErrInvalid = errors.New("invalid configuration")

// Defaults of the reference farm: 110 MiB orders, 1 MiB of reports per
// round, 1 s of total work, 100 ms of post-processing, 20 µs latency.
const (
	DefaultOrderBytes    = 110 * 1024 * 1024
	DefaultReportBytes   = 1 * 1024 * 1024
	DefaultRounds        = 1
	DefaultWorkMicros    = 1_000_000
	DefaultProcessMicros = 100_000
	DefaultLatency       = 2e-5
)

// Config is the root configuration structure.
type Config struct {
	Run        RunConfig             `yaml:"run"`
	Link       LinkConfig            `yaml:"link,omitempty"`
	Tolerances *collector.Tolerances `yaml:"tolerances,omitempty"`
}

// RunConfig holds the constants that parametrize one run. They are read-only
// once the first round starts.
type RunConfig struct {
	OrderBytes    int     `yaml:"order_bytes"`
	ReportBytes   int     `yaml:"report_bytes"`
	Rounds        int     `yaml:"rounds"`
	WarmupRounds  int     `yaml:"warmup_rounds"`
	WorkMicros    int64   `yaml:"work_micros"`
	ProcessMicros int64   `yaml:"process_micros"`
	Latency       float64 `yaml:"latency"` // assumed one-way latency, seconds
}

// LinkConfig models the links of the in-process transport.
type LinkConfig struct {
	Latency   time.Duration `yaml:"latency"`
	Bandwidth int64         `yaml:"bandwidth"` // bytes per second, 0 = unlimited
}

// Default returns the reference configuration.
func Default() *Config {
	return &Config{
		Run: RunConfig{
			OrderBytes:    DefaultOrderBytes,
			ReportBytes:   DefaultReportBytes,
			Rounds:        DefaultRounds,
			WorkMicros:    DefaultWorkMicros,
			ProcessMicros: DefaultProcessMicros,
			Latency:       DefaultLatency,
		},
	}
}

// LoadConfig reads a YAML configuration file. Fields missing from the file
// keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Workers returns the number of workers in a group of the given size.
func Workers(groupSize int) int {
	return groupSize - 1
}

// ReportChunk returns the number of report bytes each worker sends per
// round. Coordinator and workers both size their buffers with it.
func (r RunConfig) ReportChunk(workers int) int {
	if workers <= 0 {
		return 0
	}
	return r.ReportBytes / workers
}

// WorkShare returns how long each worker sleeps per round.
func (r RunConfig) WorkShare(workers int) time.Duration {
	if workers <= 0 {
		return 0
	}
	return time.Duration(r.WorkMicros/int64(workers)) * time.Microsecond
}

// ProcessDelay returns how long the coordinator sleeps after collecting.
func (r RunConfig) ProcessDelay() time.Duration {
	return time.Duration(r.ProcessMicros) * time.Microsecond
}

// Validate checks the run constants against a group of groupSize participants.
// All violations are reported together.
func (r RunConfig) Validate(groupSize int) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	workers := Workers(groupSize)
	if groupSize < 2 {
		add("group size %d, need a coordinator and at least one worker", groupSize)
	}
	if r.Rounds < 0 {
		add("rounds must be >= 0, got %d", r.Rounds)
	}
	if r.WarmupRounds < 0 {
		add("warmup_rounds must be >= 0, got %d", r.WarmupRounds)
	}
	if r.OrderBytes < 0 {
		add("order_bytes must be >= 0, got %d", r.OrderBytes)
	}
	if r.ReportBytes < 0 {
		add("report_bytes must be >= 0, got %d", r.ReportBytes)
	}
	if workers >= 1 && r.ReportBytes%workers != 0 {
		add("report_bytes %d not divisible by %d workers", r.ReportBytes, workers)
	}
	if r.WorkMicros < 0 {
		add("work_micros must be >= 0, got %d", r.WorkMicros)
	}
	if r.ProcessMicros < 0 {
		add("process_micros must be >= 0, got %d", r.ProcessMicros)
	}
	if r.Latency < 0 || math.IsNaN(r.Latency) || math.IsInf(r.Latency, 0) {
		add("latency must be a finite value >= 0, got %v", r.Latency)
	}

	return errors.Join(errs...)
}

// Validate checks the whole configuration for a group of groupSize participants.
func (c *Config) Validate(groupSize int) error {
	err := c.Run.Validate(groupSize)
	if c.Link.Latency < 0 {
		err = errors.Join(err, fmt.Errorf("%w: link latency must be >= 0, got %v", ErrInvalid, c.Link.Latency))
	}
	if c.Link.Bandwidth < 0 {
		err = errors.Join(err, fmt.Errorf("%w: link bandwidth must be >= 0, got %d", ErrInvalid, c.Link.Bandwidth))
	}
	return err
}
