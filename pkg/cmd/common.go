// Package cmd implements the gputel subcommands.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"GpuTelemetry/pkg/collecting"
	"GpuTelemetry/pkg/config"
	"GpuTelemetry/pkg/exporting"
	"GpuTelemetry/pkg/health"
	"GpuTelemetry/pkg/host"
	"GpuTelemetry/pkg/logging"
	"GpuTelemetry/pkg/probing"
	"GpuTelemetry/pkg/process"

	"github.com/spf13/pflag"
)

// CmdContext holds the initialized telemetry stack of a subcommand.
type CmdContext struct {
	Config  *config.Config
	Gpus    *collecting.GpuCollection
	Host    *host.Reader
	Monitor *process.Monitor
	Checker *health.Checker
	Manager *collecting.Manager
}

// ParseFlags parses the common flags plus whatever extra registers. Bad
// flags, config files or environment values are fatal.
func ParseFlags(name string, args []string, extra func(fs *pflag.FlagSet)) (*config.Config, *pflag.FlagSet) {
	fs := pflag.NewFlagSet(name, pflag.ExitOnError)
	if extra != nil {
		extra(fs)
	}
	cfg, err := config.Parse(fs, args)
	if err != nil {
		logging.Logger().Fatalf("%s: %v", name, err)
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat, nil); err != nil {
		logging.Logger().Fatalf("%s: %v", name, err)
	}
	return cfg, fs
}

// InitCmd parses flags and builds the stack. The returned cleanup closes
// the collectors and devices.
func InitCmd(name string, args []string, extra func(fs *pflag.FlagSet)) (*CmdContext, *pflag.FlagSet, func()) {
	cfg, fs := ParseFlags(name, args, extra)
	ctx, err := NewContext(context.Background(), cfg, nil)
	if err != nil {
		logging.Logger().Fatalf("%s: %v", name, err)
	}
	return ctx, fs, ctx.Close
}

// NewContext wires devices, readers, the health checker and the record
// manager from cfg, then collects static metrics once. A nil gpus
// auto-detects devices.
func NewContext(ctx context.Context, cfg *config.Config, gpus *collecting.GpuCollection) (*CmdContext, error) {
	if gpus == nil {
		var err error
		gpus, err = collecting.AutoDetect(ctx, collecting.DetectOptions{
			Sys:           probing.Root(cfg.SysRoot),
			Proc:          probing.Root(cfg.ProcRoot),
			DisableNvidia: cfg.DisableNvidia,
			DisableAmd:    cfg.DisableAmd,
			DisableIntel:  cfg.DisableIntel,
			Concurrent:    cfg.Concurrent,
			RescanEvery:   cfg.RescanEvery,
		})
		if err != nil {
			return nil, fmt.Errorf("detect gpus: %w", err)
		}
	}

	hostReader := host.New(host.Options{Proc: probing.Root(cfg.ProcRoot), Sys: probing.Root(cfg.SysRoot)})
	enum := process.NewEnumerator(process.Options{
		Proc:       probing.Root(cfg.ProcRoot),
		Etc:        probing.Root(cfg.EtcRoot),
		Concurrent: cfg.Concurrent,
	})
	monitor := process.NewMonitor(enum, gpus)

	sources := health.Sources{Gpus: gpus}
	if !cfg.DisableHost {
		sources.Host = hostReader
	}
	checker, err := health.NewChecker(cfg.Thresholds, sources)
	if err != nil {
		gpus.Close()
		return nil, err
	}

	collectors := []collecting.Collector{collecting.NewGpuCollector(gpus)}
	if !cfg.DisableHost {
		collectors = append(collectors, collecting.NewHostCollector(hostReader))
	}
	if !cfg.DisableProcesses {
		collectors = append(collectors, collecting.NewProcessCollector(monitor, cfg.GpuProcessesOnly))
	}
	if !cfg.DisableHealth {
		collectors = append(collectors, collecting.NewHealthCollector(checker))
	}
	manager := collecting.NewManager(cfg.Concurrent, collectors...)
	manager.CollectStatic(ctx, &collecting.StaticMetrics{UUID: cfg.UUID, Hostname: cfg.Hostname})

	return &CmdContext{
		Config:  cfg,
		Gpus:    gpus,
		Host:    hostReader,
		Monitor: monitor,
		Checker: checker,
		Manager: manager,
	}, nil
}

func (c *CmdContext) Close() {
	if err := c.Manager.Close(); err != nil {
		logging.WithComponent("cmd").WithError(err).Warn("closing collectors")
	}
	if err := c.Gpus.Close(); err != nil {
		logging.WithComponent("cmd").WithError(err).Warn("closing devices")
	}
}

// FlattenMode maps --expand-all onto the exporter flattening mode.
func (c *CmdContext) FlattenMode() exporting.FlattenMode {
	if c.Config.ExpandAll {
		return exporting.FlattenAll
	}
	return exporting.FlattenDefault
}

// CollectSnapshot collects one tick and flattens it for output.
func CollectSnapshot(ctx context.Context, manager *collecting.Manager, mode exporting.FlattenMode) exporting.Record {
	return exporting.FlattenRecordWithMode(manager.CollectDynamic(ctx), mode)
}

// DeltaCapture is an initial and a final snapshot and their difference.
type DeltaCapture struct {
	InitialRecord exporting.Record
	FinalRecord   exporting.Record
	DeltaRecord   exporting.Record
	Duration      time.Duration
}

// RunDelta snapshots, waits until wait returns, then snapshots again.
func RunDelta(ctx context.Context, manager *collecting.Manager, mode exporting.FlattenMode, wait func()) *DeltaCapture {
	log := logging.WithComponent("cmd")
	log.Info("Capturing initial snapshot...")
	initial := CollectSnapshot(ctx, manager, mode)
	start := time.Now()

	wait()

	log.Info("Capturing final snapshot...")
	final := CollectSnapshot(context.Background(), manager, mode)
	elapsed := time.Since(start)

	return &DeltaCapture{
		InitialRecord: initial,
		FinalRecord:   final,
		DeltaRecord:   exporting.DeltaRecord(initial, final, elapsed.Milliseconds()),
		Duration:      elapsed,
	}
}

// SignalContext is cancelled on SIGINT or SIGTERM, or after duration when
// it is positive.
func SignalContext(duration time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if duration <= 0 {
		return ctx, stop
	}
	timed, cancel := context.WithTimeout(ctx, duration)
	return timed, func() {
		cancel()
		stop()
	}
}
