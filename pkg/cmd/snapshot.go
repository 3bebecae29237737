package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"GpuTelemetry/pkg/exporting"
	"GpuTelemetry/pkg/logging"

	"github.com/spf13/pflag"
)

// Snapshot prints one record, or the difference of two records taken
// --delta apart, as indented JSON.
func Snapshot(args []string) {
	var delta time.Duration
	ctx, _, cleanup := InitCmd("snapshot", args, func(fs *pflag.FlagSet) {
		fs.DurationVar(&delta, "delta", 0, "Report the change over this window instead of one reading")
	})
	defer cleanup()
	log := logging.WithComponent("cmd")

	var record exporting.Record
	if delta > 0 {
		capture := RunDelta(context.Background(), ctx.Manager, ctx.FlattenMode(), func() { time.Sleep(delta) })
		record = capture.DeltaRecord
	} else {
		record = CollectSnapshot(context.Background(), ctx.Manager, ctx.FlattenMode())
	}
	if static := ctx.Manager.GetStaticRecord(); static != nil {
		record["static"] = static
	}

	output, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		log.Fatalf("Failed to marshal output: %v", err)
	}

	if out := ctx.Config.OutputFile; out != "" {
		if err := os.WriteFile(out, output, 0644); err != nil {
			log.Fatalf("Failed to write file: %v", err)
		}
		log.Infof("Wrote snapshot to %s", out)
		return
	}
	fmt.Println(string(output))
}
