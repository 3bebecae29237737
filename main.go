package main

import (
	"fmt"
	"os"

	"GpuTelemetry/pkg/cmd"

	_ "go.uber.org/automaxprocs"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "snapshot", "ss":
		cmd.Snapshot(args)
	case "gpus":
		cmd.Gpus(args)
	case "procs":
		cmd.Procs(args)
	case "health":
		cmd.Health(args)
	case "kill":
		cmd.Kill(args)
	case "control":
		cmd.Control(args)
	case "profiler", "pr":
		cmd.Profiler(args)
	case "profile", "p":
		cmd.Profile(args)
	case "serve", "s":
		cmd.Serve(args)
	case "graph", "g":
		cmd.Graph(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`gputel - Cross-vendor GPU, process and host telemetry

Usage:
  gputel <command> [flags]

Commands:
  snapshot, ss    Print one flattened record (--delta DURATION for a delta)
  gpus            List detected GPUs (--json for full device info)
  procs           Process table with GPU attribution (--sort cpu|mem|gpu, -n N)
  health          System health report; exits 2 when a check is critical
  kill            Signal a process (--force for SIGKILL)
  control         Change power, clocks, compute or persistence mode of a GPU
  profiler, pr    Record continuously until Ctrl+C or --duration
  profile, p      Record while a command runs
  serve, s        HTTP API and Prometheus /metrics
  graph, g        Render an HTML chart report from a recorded file

Collection Flags:
  --no-nvidia, --no-amd, --no-intel   Skip a vendor
  --no-host, --no-procs, --no-health  Skip a collector
  --gpu-only                          Keep only processes using a GPU
  --concurrent                        Run collectors and scans concurrently
  --interval DURATION                 Collection interval (default 1s)
  --duration DURATION                 Stop after this long
  --sys-root, --proc-root, --etc-root Alternate mount points

Output Flags:
  -f, --format string    jsonl, jsonl.zst, csv, tsv or parquet (default jsonl)
  -o, --output string    Output file path
  --expand-all           Expand process and health arrays into columns
  --graph-dir string     Write an HTML chart report after recording

System Flags:
  -c, --config string    YAML or TOML config file (GPUTEL_* variables override it)
  --log-level string     debug, info, warn or error
  --log-format string    text or json
  --port int             HTTP server port (default 8080)

Examples:
  # Continuous recording
  gputel profiler --interval 500ms -o metrics.parquet

  # Record a command
  gputel profile --concurrent -- python train.py

  # GPU processes sorted by GPU memory
  gputel procs --gpu-only --sort gpu

  # Lock clocks on the second device
  gputel control -i 1 --lock-clocks 1200,1800

  # HTTP server
  gputel serve --port 9090 -c gputel.yaml

  # Chart report
  gputel graph --graph-dir graphs/ metrics.parquet
`)
}
