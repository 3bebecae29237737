// Package graphing renders an HTML chart report from exported telemetry.
package graphing

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"GpuTelemetry/pkg/exporting"
	"GpuTelemetry/pkg/logging"

	"github.com/go-echarts/go-echarts/v2/components"
)

// Generator builds one report from an exported record file.
type Generator struct {
	inputPath string
	outputDir string
	records   []exporting.Record
	static    map[string]interface{}
}

func NewGenerator(inputPath, outputDir string) (*Generator, error) {
	if inputPath == "" {
		return nil, fmt.Errorf("input path is required")
	}
	if outputDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	return &Generator{inputPath: inputPath, outputDir: outputDir}, nil
}

// Generate writes the report and returns its path. The static record next
// to the input, when present, is shown above the charts.
func (g *Generator) Generate() (string, error) {
	records, err := exporting.LoadRecords(g.inputPath)
	if err != nil {
		return "", fmt.Errorf("failed to load records: %w", err)
	}
	if len(records) < 2 {
		return "", fmt.Errorf("need at least 2 records to generate graphs, got %d", len(records))
	}
	sort.SliceStable(records, func(i, j int) bool {
		return exporting.ToFloat64(records[i]["timestamp"]) < exporting.ToFloat64(records[j]["timestamp"])
	})
	g.records = records

	if data, err := os.ReadFile(exporting.StaticPath(g.inputPath)); err == nil {
		if err := json.Unmarshal(data, &g.static); err != nil {
			logging.WithComponent("graphing").WithError(err).Warn("ignoring unreadable static record")
			g.static = nil
		}
	}

	if err := os.MkdirAll(g.outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	page, count := g.buildPage()
	if count == 0 {
		return "", fmt.Errorf("no charts generated: every metric was constant or missing")
	}

	var buf strings.Builder
	if err := page.Render(&buf); err != nil {
		return "", fmt.Errorf("failed to render charts: %w", err)
	}
	html, err := injectStaticInfo(buf.String(), sessionID(g.static, g.records), g.static)
	if err != nil {
		return "", err
	}

	out := filepath.Join(g.outputDir, sessionID(g.static, g.records)+"-report.html")
	if err := os.WriteFile(out, []byte(html), 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	logging.WithComponent("graphing").Infof("Generated report: %s (%d charts)", out, count)
	return out, nil
}

func (g *Generator) buildPage() (*components.Page, int) {
	page := components.NewPage()
	page.PageTitle = "GPU Telemetry - " + sessionID(g.static, g.records)

	count := 0
	if bar := createHealthCountsChart(g.records); bar != nil {
		page.AddCharts(bar)
		count++
	}

	groups := groupSeries(buildSeries(g.records))
	for _, cat := range orderedCategories(groups) {
		for _, s := range groups[cat] {
			page.AddCharts(createLineChart(s, cat))
			count++
		}
	}
	return page, count
}

func sessionID(static map[string]interface{}, records []exporting.Record) string {
	for _, m := range []map[string]interface{}{static, records[0]} {
		if id, ok := m["uuid"].(string); ok && id != "" {
			return id
		}
	}
	return "session"
}
