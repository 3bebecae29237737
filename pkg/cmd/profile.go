package cmd

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"GpuTelemetry/pkg/exporting"
	"GpuTelemetry/pkg/logging"

	"github.com/spf13/pflag"
)

// Profile runs a command and records telemetry until it exits. With
// --delta only the change between start and exit is written.
func Profile(args []string) {
	var delta bool
	ctx, fs, cleanup := InitCmd("profile", args, func(fs *pflag.FlagSet) {
		fs.BoolVar(&delta, "delta", false, "Write a single start-to-exit delta record")
	})
	defer cleanup()
	cfg := ctx.Config
	log := logging.WithComponent("cmd")

	cmdArgs := fs.Args()
	if len(cmdArgs) == 0 {
		log.Fatal("No command specified. Usage: gputel profile [flags] -- <command> [args]")
	}
	if cfg.OutputFile == "" {
		prefix := "profile_" + filepath.Base(cmdArgs[0])
		if delta {
			prefix = "delta_" + filepath.Base(cmdArgs[0])
		}
		cfg.OutputFile = cfg.GenerateOutputPath(prefix)
	}

	target := exec.Command(cmdArgs[0], cmdArgs[1:]...)
	target.Stdout = os.Stdout
	target.Stderr = os.Stderr
	target.Stdin = os.Stdin

	log.Infof("Profiling command: %v", cmdArgs)
	log.Infof("Output: %s", cfg.OutputFile)

	var cmdErr error
	if delta {
		capture := RunDelta(context.Background(), ctx.Manager, ctx.FlattenMode(), func() {
			if cmdErr = target.Start(); cmdErr == nil {
				cmdErr = target.Wait()
			}
		})
		if err := exporting.SaveRecords(cfg.OutputFile, []exporting.Record{capture.DeltaRecord}); err != nil {
			log.Fatalf("Failed to write delta record: %v", err)
		}
		log.Infof("Command completed in %v", capture.Duration)
	} else {
		if err := target.Start(); err != nil {
			log.Fatalf("Failed to start command: %v", err)
		}
		runCtx, cancel := context.WithCancel(context.Background())
		done := make(chan int)
		go func() { done <- recordStream(runCtx, ctx) }()

		start := time.Now()
		cmdErr = target.Wait()
		cancel()
		log.Infof("Command completed in %v, %d records", time.Since(start), <-done)
	}

	if cmdErr != nil {
		log.WithError(cmdErr).Warn("command failed")
	}
	if cfg.GraphDir != "" && !delta {
		if err := generateGraphs(cfg.OutputFile, cfg.GraphDir); err != nil {
			log.WithError(err).Warn("graph generation failed")
		}
	}
}
