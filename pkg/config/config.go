// Package config holds the telemetry settings shared by every subcommand.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"GpuTelemetry/pkg/exporting"
	"GpuTelemetry/pkg/health"
	"GpuTelemetry/pkg/logging"

	"github.com/google/uuid"
)

// Config is built from defaults, then a config file, then GPUTEL_*
// environment variables, then command-line flags.
type Config struct {
	SysRoot  string `yaml:"sys_root" toml:"sys_root"`
	ProcRoot string `yaml:"proc_root" toml:"proc_root"`
	EtcRoot  string `yaml:"etc_root" toml:"etc_root"`

	DisableNvidia    bool `yaml:"disable_nvidia" toml:"disable_nvidia"`
	DisableAmd       bool `yaml:"disable_amd" toml:"disable_amd"`
	DisableIntel     bool `yaml:"disable_intel" toml:"disable_intel"`
	DisableHost      bool `yaml:"disable_host" toml:"disable_host"`
	DisableProcesses bool `yaml:"disable_processes" toml:"disable_processes"`
	DisableHealth    bool `yaml:"disable_health" toml:"disable_health"`
	GpuProcessesOnly bool `yaml:"gpu_processes_only" toml:"gpu_processes_only"`
	Concurrent       bool `yaml:"concurrent" toml:"concurrent"`
	// RescanEvery is how many fdinfo scans reuse the cached client pids.
	RescanEvery int `yaml:"fdinfo_rescan_every" toml:"fdinfo_rescan_every"`

	Interval time.Duration `yaml:"interval" toml:"interval"`
	Duration time.Duration `yaml:"duration" toml:"duration"`

	Format     string `yaml:"format" toml:"format"`
	OutputFile string `yaml:"output" toml:"output"`
	ExpandAll  bool   `yaml:"expand_all" toml:"expand_all"`
	GraphDir   string `yaml:"graph_dir" toml:"graph_dir"`

	Port int `yaml:"port" toml:"port"`

	LogLevel  string `yaml:"log_level" toml:"log_level"`
	LogFormat string `yaml:"log_format" toml:"log_format"`

	Thresholds health.Thresholds `yaml:"thresholds" toml:"thresholds"`

	UUID       string `yaml:"-" toml:"-"`
	Hostname   string `yaml:"hostname" toml:"hostname"`
	ConfigFile string `yaml:"-" toml:"-"`
}

const (
	DefaultInterval    = time.Second
	DefaultFormat      = "jsonl"
	DefaultPort        = 8080
	DefaultRescanEvery = 10
)

// New returns a Config carrying every default.
func New() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.SysRoot == "" {
		c.SysRoot = "/sys"
	}
	if c.ProcRoot == "" {
		c.ProcRoot = "/proc"
	}
	if c.EtcRoot == "" {
		c.EtcRoot = "/etc"
	}
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.Format == "" {
		c.Format = DefaultFormat
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.RescanEvery == 0 {
		c.RescanEvery = DefaultRescanEvery
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.Thresholds == (health.Thresholds{}) {
		c.Thresholds = health.DefaultThresholds()
	}
	if c.Hostname == "" {
		c.Hostname = hostname()
	}
	if c.UUID == "" {
		c.UUID = uuid.NewString()
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Interval < time.Millisecond {
		return fmt.Errorf("interval must be at least 1ms, got %v", c.Interval)
	}
	if c.Duration < 0 {
		return fmt.Errorf("duration cannot be negative, got %v", c.Duration)
	}
	if !slices.Contains(ValidOutputFormats(), c.Format) {
		return fmt.Errorf("invalid output format: %s (valid: %s)", c.Format, strings.Join(ValidOutputFormats(), ", "))
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.RescanEvery < 1 {
		return fmt.Errorf("fdinfo rescan period must be positive, got %d", c.RescanEvery)
	}
	if !logging.ValidLevel(c.LogLevel) {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log format: %s (valid: text, json)", c.LogFormat)
	}
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	return nil
}

// ValidOutputFormats lists the exporter formats --format accepts.
func ValidOutputFormats() []string { return exporting.Names() }

// GenerateOutputPath creates a timestamped output path for prefix.
func (c *Config) GenerateOutputPath(prefix string) string {
	timestamp := time.Now().Format("20060102_150405")
	return filepath.Join(".", fmt.Sprintf("%s_%s%s", prefix, timestamp, exporting.GetExtension(c.Format)))
}

func hostname() string {
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown"
}
