package cmd

import (
	"context"
	"time"

	"GpuTelemetry/pkg/exporting"
	"GpuTelemetry/pkg/logging"

	"github.com/spf13/pflag"
)

// Profiler records one row per interval until interrupted or until
// --duration elapses.
func Profiler(args []string) {
	var batch bool
	ctx, _, cleanup := InitCmd("profiler", args, func(fs *pflag.FlagSet) {
		fs.BoolVar(&batch, "batch", false, "Keep records in memory and write them at the end")
	})
	defer cleanup()
	cfg := ctx.Config
	log := logging.WithComponent("cmd")

	if cfg.OutputFile == "" {
		cfg.OutputFile = cfg.GenerateOutputPath("profiler")
	}

	runCtx, stop := SignalContext(cfg.Duration)
	defer stop()

	mode := "stream"
	if batch {
		mode = "batch"
	}
	log.Infof("Profiler started (%s mode)", mode)
	log.Infof("  Output: %s", cfg.OutputFile)
	log.Infof("  Format: %s", cfg.Format)
	log.Infof("  Interval: %v", cfg.Interval)
	log.Infof("  Collectors: %v", ctx.Manager.CollectorNames())

	start := time.Now()
	var count int
	if batch {
		count = recordBatch(runCtx, ctx)
	} else {
		count = recordStream(runCtx, ctx)
	}
	elapsed := time.Since(start)
	log.Infof("Collected %d records in %v (%.2f records/sec)", count, elapsed, float64(count)/elapsed.Seconds())

	if cfg.GraphDir != "" {
		if err := generateGraphs(cfg.OutputFile, cfg.GraphDir); err != nil {
			log.WithError(err).Warn("graph generation failed")
		}
	}
}

// recordStream streams to cfg.OutputFile and writes the static record
// next to it.
func recordStream(runCtx context.Context, ctx *CmdContext) int {
	cfg := ctx.Config
	log := logging.WithComponent("cmd")

	exporter, err := exporting.NewExporter(cfg.OutputFile, cfg.Format, exporting.WithFlattenMode(ctx.FlattenMode()))
	if err != nil {
		log.Fatalf("Failed to create exporter: %v", err)
	}
	defer func() {
		if err := exporter.Close(); err != nil {
			log.WithError(err).Error("closing output")
		}
	}()
	if err := exporter.WriteStatic(ctx.Manager.GetStaticRecord()); err != nil {
		log.WithError(err).Warn("static metrics not written")
	} else {
		log.Infof("  Static: %s", exporter.StaticPath())
	}

	return NewStreamCollector(ctx.Manager, exporter, cfg.Interval).Run(runCtx)
}

func recordBatch(runCtx context.Context, ctx *CmdContext) int {
	cfg := ctx.Config
	log := logging.WithComponent("cmd")

	bc := NewBatchCollector(ctx.Manager, cfg.Interval)
	bc.Run(runCtx)

	log.Infof("Writing %d records to %s...", bc.Count(), cfg.OutputFile)
	if err := SaveBatch(cfg.OutputFile, bc.Records(), ctx.FlattenMode()); err != nil {
		log.Fatalf("Failed to write records: %v", err)
	}
	return bc.Count()
}
