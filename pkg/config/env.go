package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const envPrefix = "GPUTEL_"

func lookupEnv(key string) (string, bool) { return os.LookupEnv(key) }

type envVar struct {
	name string
	set  func(c *Config, v string) error
}

func str(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func boolean(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func duration(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

func integer(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

var envVars = []envVar{
	{"SYS_ROOT", str(func(c *Config) *string { return &c.SysRoot })},
	{"PROC_ROOT", str(func(c *Config) *string { return &c.ProcRoot })},
	{"ETC_ROOT", str(func(c *Config) *string { return &c.EtcRoot })},
	{"DISABLE_NVIDIA", boolean(func(c *Config) *bool { return &c.DisableNvidia })},
	{"DISABLE_AMD", boolean(func(c *Config) *bool { return &c.DisableAmd })},
	{"DISABLE_INTEL", boolean(func(c *Config) *bool { return &c.DisableIntel })},
	{"CONCURRENT", boolean(func(c *Config) *bool { return &c.Concurrent })},
	{"INTERVAL", duration(func(c *Config) *time.Duration { return &c.Interval })},
	{"DURATION", duration(func(c *Config) *time.Duration { return &c.Duration })},
	{"FORMAT", str(func(c *Config) *string { return &c.Format })},
	{"OUTPUT", str(func(c *Config) *string { return &c.OutputFile })},
	{"GRAPH_DIR", str(func(c *Config) *string { return &c.GraphDir })},
	{"PORT", integer(func(c *Config) *int { return &c.Port })},
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.LogLevel })},
	{"LOG_FORMAT", str(func(c *Config) *string { return &c.LogFormat })},
	{"HOSTNAME", str(func(c *Config) *string { return &c.Hostname })},
}

// ApplyEnv overlays GPUTEL_* variables found through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, e := range envVars {
		v, ok := lookup(envPrefix + e.name)
		if !ok || v == "" {
			continue
		}
		if err := e.set(c, v); err != nil {
			return fmt.Errorf("%s%s=%q: %w", envPrefix, e.name, v, err)
		}
	}
	return nil
}
