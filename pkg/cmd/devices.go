package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"GpuTelemetry/pkg/gpu"
	"GpuTelemetry/pkg/logging"

	"github.com/spf13/pflag"
)

// Gpus lists the detected devices with their identity and current state.
func Gpus(args []string) {
	var asJSON bool
	ctx, _, cleanup := InitCmd("gpus", args, func(fs *pflag.FlagSet) {
		fs.BoolVar(&asJSON, "json", false, "Print full device info as JSON")
	})
	defer cleanup()
	log := logging.WithComponent("cmd")

	if err := ctx.Gpus.RequireDevices(); err != nil {
		log.Fatal(err)
	}
	infos, err := ctx.Gpus.SnapshotAll(context.Background())
	if err != nil {
		log.Fatalf("Failed to read devices: %v", err)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(infos); err != nil {
			log.Fatal(err)
		}
		return
	}
	if err := writeGpuTable(os.Stdout, infos); err != nil {
		log.Fatal(err)
	}
}

func writeGpuTable(w io.Writer, infos []gpu.GpuInfo) error {
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "#\tVENDOR\tNAME\tBUS ID\tMEMORY\tUTIL\tTEMP\tPOWER")
	for i, info := range infos {
		s, d := info.Static, info.Dynamic
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%.0f%%\t%s\t%s\n",
			i, s.Vendor, s.Name, orDash(s.PCIBusID),
			memoryCell(d.Memory), d.Utilization, tempCell(d.Thermal.Temperature), powerCell(d.Power.DrawW))
	}
	return writer.Flush()
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func mib(bytes uint64) uint64 { return bytes / (1 << 20) }

func memoryCell(m gpu.MemoryInfo) string {
	if m.Total == 0 {
		return "-"
	}
	return fmt.Sprintf("%d/%d MiB", mib(m.Used), mib(m.Total))
}

func tempCell(t *int) string {
	if t == nil {
		return "-"
	}
	return fmt.Sprintf("%d°C", *t)
}

func powerCell(w *float64) string {
	if w == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f W", *w)
}
