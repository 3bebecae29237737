package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"GpuTelemetry/pkg/graphing"
	"GpuTelemetry/pkg/logging"
)

// Graph renders an HTML report from a recorded file:
// gputel graph [--graph-dir DIR] <input-file>
func Graph(args []string) {
	cfg, fs := ParseFlags("graph", args, nil)
	log := logging.WithComponent("cmd")

	if fs.NArg() < 1 {
		log.Fatal("Input file required. Usage: gputel graph [flags] <input-file>")
	}
	inputFile := fs.Arg(0)
	if _, err := os.Stat(inputFile); err != nil {
		log.Fatalf("Input file not found: %s", inputFile)
	}

	outputDir := cfg.GraphDir
	if outputDir == "" {
		outputDir = defaultGraphDir(inputFile)
	}

	log.Infof("Generating graphs from %s", inputFile)
	if err := generateGraphs(inputFile, outputDir); err != nil {
		log.Fatalf("Failed to generate graphs: %v", err)
	}
}

// defaultGraphDir is "<name>_graphs" beside the input, where name stops at
// the first ".".
func defaultGraphDir(inputPath string) string {
	base := filepath.Base(inputPath)
	if i := strings.Index(base, "."); i > 0 {
		base = base[:i]
	}
	return filepath.Join(filepath.Dir(inputPath), base+"_graphs")
}

func generateGraphs(inputPath, outputDir string) error {
	if outputDir == "" {
		outputDir = defaultGraphDir(inputPath)
	}
	gen, err := graphing.NewGenerator(inputPath, outputDir)
	if err != nil {
		return fmt.Errorf("failed to create generator: %w", err)
	}
	out, err := gen.Generate()
	if err != nil {
		return err
	}
	logging.WithComponent("cmd").Infof("Report written to %s", out)
	return nil
}
