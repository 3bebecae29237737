package graphing

import (
	"time"

	"GpuTelemetry/pkg/exporting"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

func timeLabel(ms int64) string {
	return time.UnixMilli(ms).Format("15:04:05.000")
}

// createLineChart plots one series, titled with its report section.
func createLineChart(s *Series, cat string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: formatName(s.Name), Subtitle: cat}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", AxisLabel: &opts.AxisLabel{Rotate: 45}}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "400px"}),
	)

	xLabels := make([]string, len(s.Timestamps))
	for i, ts := range s.Timestamps {
		xLabels[i] = timeLabel(ts)
	}
	data := make([]opts.LineData, len(s.Values))
	for i, v := range s.Values {
		data[i] = opts.LineData{Value: v}
	}

	line.SetXAxis(xLabels).AddSeries("", data,
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true), ShowSymbol: opts.Bool(true)}),
	)
	return line
}

var healthBands = []struct {
	column, label, color string
}{
	{"healthHealthyCount", "Healthy", "#4caf50"},
	{"healthWarningCount", "Warning", "#ff9800"},
	{"healthCriticalCount", "Critical", "#f44336"},
}

// createHealthCountsChart stacks the per-record check counts. It returns
// nil when the records carry no health columns.
func createHealthCountsChart(records []exporting.Record) *charts.Bar {
	if _, ok := records[0][healthBands[0].column]; !ok {
		return nil
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Health Checks", Subtitle: "Health"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "30"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", AxisLabel: &opts.AxisLabel{Rotate: 45}}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "checks"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "400px"}),
	)

	xLabels := make([]string, len(records))
	for i, r := range records {
		xLabels[i] = timeLabel(int64(exporting.ToFloat64(r["timestamp"])))
	}
	bar.SetXAxis(xLabels)

	for _, band := range healthBands {
		data := make([]opts.BarData, len(records))
		for i, r := range records {
			data[i] = opts.BarData{Value: exporting.ToFloat64(r[band.column])}
		}
		bar.AddSeries(band.label, data,
			charts.WithBarChartOpts(opts.BarChart{Stack: "checks"}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: band.color}),
		)
	}
	return bar
}
