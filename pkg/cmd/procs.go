package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"GpuTelemetry/pkg/logging"
	"GpuTelemetry/pkg/process"

	"github.com/spf13/pflag"
)

// sortKeys are the orderings accepted by --sort, all descending.
var sortKeys = map[string]func(*process.Info) float64{
	"cpu": func(p *process.Info) float64 { return p.CPUPercent },
	"mem": func(p *process.Info) float64 { return float64(p.MemoryBytes) },
	"gpu": func(p *process.Info) float64 { return float64(p.TotalGPUMemoryBytes) },
}

// Procs prints the process table with GPU attribution.
func Procs(args []string) {
	var sortBy string
	var limit int
	var asJSON bool
	ctx, _, cleanup := InitCmd("procs", args, func(fs *pflag.FlagSet) {
		fs.StringVar(&sortBy, "sort", "cpu", "Sort by cpu, mem or gpu")
		fs.IntVarP(&limit, "limit", "n", 20, "Show at most this many processes (0 for all)")
		fs.BoolVar(&asJSON, "json", false, "Print as JSON")
	})
	defer cleanup()
	log := logging.WithComponent("cmd")

	procs, err := listProcesses(ctx.Monitor, sortBy, ctx.Config.GpuProcessesOnly, limit)
	if err != nil {
		log.Fatal(err)
	}
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(procs); err != nil {
			log.Fatal(err)
		}
		return
	}
	if err := writeProcTable(os.Stdout, procs); err != nil {
		log.Fatal(err)
	}
}

func listProcesses(monitor *process.Monitor, sortBy string, gpuOnly bool, limit int) ([]process.Info, error) {
	key, ok := sortKeys[sortBy]
	if !ok {
		return nil, fmt.Errorf("unknown sort key %q (valid: cpu, mem, gpu)", sortBy)
	}
	var procs []process.Info
	var err error
	if gpuOnly {
		procs, err = monitor.GpuProcesses()
	} else {
		procs, err = monitor.Processes()
	}
	if err != nil {
		return nil, err
	}
	process.SortBy(procs, key)
	if limit > 0 && len(procs) > limit {
		procs = procs[:limit]
	}
	return procs, nil
}

func writeProcTable(w io.Writer, procs []process.Info) error {
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "PID\tUSER\tS\tCPU%\tMEM\tGPUS\tGPU MEM\tTYPE\tNAME")
	for _, p := range procs {
		gpus, gpuMem, typ := "-", "-", "-"
		if p.UsesGPU() {
			idx := make([]string, len(p.GPUIndices))
			for i, g := range p.GPUIndices {
				idx[i] = strconv.Itoa(g)
			}
			gpus = strings.Join(idx, ",")
			gpuMem = fmt.Sprintf("%d MiB", mib(p.TotalGPUMemoryBytes))
			typ = string(p.GPUProcessType)
		}
		fmt.Fprintf(writer, "%d\t%s\t%s\t%.1f\t%d MiB\t%s\t%s\t%s\t%s\n",
			p.PID, orDash(p.User), p.State, p.CPUPercent, mib(p.MemoryBytes), gpus, gpuMem, typ, p.Name)
	}
	return writer.Flush()
}

// Kill signals a process: SIGTERM, or SIGKILL with --force.
func Kill(args []string) {
	var force bool
	ctx, fs, cleanup := InitCmd("kill", args, func(fs *pflag.FlagSet) {
		fs.BoolVar(&force, "force", false, "Send SIGKILL instead of SIGTERM")
	})
	defer cleanup()
	log := logging.WithComponent("cmd")

	if fs.NArg() != 1 {
		log.Fatal("Usage: gputel kill [--force] <pid>")
	}
	pid, err := strconv.Atoi(fs.Arg(0))
	if err != nil {
		log.Fatalf("Invalid pid %q", fs.Arg(0))
	}
	if err := ctx.Monitor.KillProcess(pid, force); err != nil {
		log.Fatal(err)
	}
}
