package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// AddCollectionFlags adds the device and collector switches.
func (c *Config) AddCollectionFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.SysRoot, "sys-root", c.SysRoot, "sysfs mount point")
	fs.StringVar(&c.ProcRoot, "proc-root", c.ProcRoot, "procfs mount point")
	fs.StringVar(&c.EtcRoot, "etc-root", c.EtcRoot, "directory holding passwd")
	fs.BoolVar(&c.DisableNvidia, "no-nvidia", c.DisableNvidia, "Skip NVIDIA devices")
	fs.BoolVar(&c.DisableAmd, "no-amd", c.DisableAmd, "Skip AMD devices")
	fs.BoolVar(&c.DisableIntel, "no-intel", c.DisableIntel, "Skip Intel devices")
	fs.BoolVar(&c.DisableHost, "no-host", c.DisableHost, "Skip host CPU and memory metrics")
	fs.BoolVar(&c.DisableProcesses, "no-procs", c.DisableProcesses, "Skip the process table")
	fs.BoolVar(&c.DisableHealth, "no-health", c.DisableHealth, "Skip health scoring")
	fs.BoolVar(&c.GpuProcessesOnly, "gpu-only", c.GpuProcessesOnly, "Keep only processes using a GPU")
	fs.BoolVar(&c.Concurrent, "concurrent", c.Concurrent, "Run collectors and scans concurrently")
	fs.IntVar(&c.RescanEvery, "fdinfo-rescan", c.RescanEvery, "Full fdinfo scan every N reads")
	fs.DurationVar(&c.Interval, "interval", c.Interval, "Collection interval")
	fs.DurationVar(&c.Duration, "duration", c.Duration, "Stop after this long (0 runs until interrupted)")
}

// AddOutputFlags adds file output flags.
func (c *Config) AddOutputFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.Format, "format", "f", c.Format, "Output format (jsonl, jsonl.zst, csv, tsv, parquet)")
	fs.StringVarP(&c.OutputFile, "output", "o", c.OutputFile, "Output file path")
	fs.BoolVar(&c.ExpandAll, "expand-all", c.ExpandAll, "Expand process and health arrays into columns")
	fs.StringVar(&c.GraphDir, "graph-dir", c.GraphDir, "Write an HTML chart report to this directory")
}

// AddSystemFlags adds logging, identity and config file flags.
func (c *Config) AddSystemFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.ConfigFile, "config", "c", c.ConfigFile, "YAML or TOML config file")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "Log format (text, json)")
	fs.StringVar(&c.Hostname, "hostname", c.Hostname, "Hostname override")
	fs.StringVar(&c.UUID, "uuid", c.UUID, "Session UUID (generated if empty)")
	fs.IntVar(&c.Port, "port", c.Port, "HTTP server port")
}

// AddAllFlags adds all common flags.
func (c *Config) AddAllFlags(fs *pflag.FlagSet) {
	c.AddCollectionFlags(fs)
	c.AddOutputFlags(fs)
	c.AddSystemFlags(fs)
}

// Parse parses args with fs, which must not yet carry the common flags, and
// layers defaults, the config file, the environment and the flags that were
// set explicitly.
func Parse(fs *pflag.FlagSet, args []string) (*Config, error) {
	probe := New()
	probe.AddAllFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := New()
	cfg.UUID = probe.UUID
	if probe.ConfigFile != "" {
		if err := cfg.LoadFile(probe.ConfigFile); err != nil {
			return nil, err
		}
		cfg.ConfigFile = probe.ConfigFile
	}
	if err := cfg.ApplyEnv(lookupEnv); err != nil {
		return nil, err
	}

	bound := pflag.NewFlagSet(fs.Name(), pflag.ContinueOnError)
	cfg.AddAllFlags(bound)
	var setErr error
	fs.Visit(func(f *pflag.Flag) {
		if setErr != nil || bound.Lookup(f.Name) == nil {
			return
		}
		if err := bound.Set(f.Name, f.Value.String()); err != nil {
			setErr = fmt.Errorf("flag --%s: %w", f.Name, err)
		}
	})
	if setErr != nil {
		return nil, setErr
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
