// Package health scores the machine from host, disk and GPU readings.
package health

import (
	"fmt"
	"time"

	"GpuTelemetry/pkg/gpu"
	"GpuTelemetry/pkg/host"
)

type Status string

const (
	StatusHealthy  Status = "Healthy"
	StatusGood     Status = "Good"
	StatusWarning  Status = "Warning"
	StatusCritical Status = "Critical"
	StatusUnknown  Status = "Unknown"
)

// Score is the contribution of a check in this status to the overall score.
func (s Status) Score() int {
	switch s {
	case StatusHealthy:
		return 100
	case StatusGood:
		return 85
	case StatusWarning:
		return 50
	case StatusCritical:
		return 10
	}
	return 0
}

// Symbol is a one-rune marker for terminal output.
func (s Status) Symbol() string {
	switch s {
	case StatusHealthy:
		return "✓"
	case StatusGood:
		return "●"
	case StatusWarning:
		return "⚠"
	case StatusCritical:
		return "✗"
	}
	return "?"
}

const (
	CategoryCPU     = "CPU"
	CategoryMemory  = "Memory"
	CategoryGPU     = "GPU"
	CategoryStorage = "Storage"
)

// Check is one scored observation.
type Check struct {
	Name      string   `json:"name"`
	Category  string   `json:"category"`
	Status    Status   `json:"status"`
	Score     int      `json:"score"`
	Message   string   `json:"message"`
	Value     *float64 `json:"value,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

func newCheck(name, category string, status Status, message string) Check {
	return Check{Name: name, Category: category, Status: status, Score: status.Score(), Message: message}
}

func (c Check) withValue(v float64, threshold *float64) Check {
	c.Value = gpu.Ptr(v)
	c.Threshold = threshold
	return c
}

// SystemHealth is the result of one evaluation.
type SystemHealth struct {
	Status        Status    `json:"status"`
	Score         int       `json:"score"`
	Checks        []Check   `json:"checks"`
	HealthyCount  int       `json:"healthy_count"`
	WarningCount  int       `json:"warning_count"`
	CriticalCount int       `json:"critical_count"`
	Timestamp     time.Time `json:"timestamp"`
}

// Issues returns the checks at Warning or Critical.
func (h *SystemHealth) Issues() []Check {
	var out []Check
	for _, c := range h.Checks {
		if c.Status == StatusWarning || c.Status == StatusCritical {
			out = append(out, c)
		}
	}
	return out
}

func (h *SystemHealth) ByCategory(category string) []Check {
	var out []Check
	for _, c := range h.Checks {
		if c.Category == category {
			out = append(out, c)
		}
	}
	return out
}

func (h *SystemHealth) HasCritical() bool { return h.CriticalCount > 0 }
func (h *SystemHealth) HasWarnings() bool { return h.WarningCount > 0 }

func (h *SystemHealth) Summary() string {
	return fmt.Sprintf("%s - Score: %d/100 (%d healthy, %d warning, %d critical)",
		h.Status, h.Score, h.HealthyCount, h.WarningCount, h.CriticalCount)
}

// Inputs are the readings one evaluation scores. Nil or empty inputs
// produce no checks.
type Inputs struct {
	CPUIdle     *float64
	Memory      *host.Memory
	Gpus        []gpu.GpuInfo
	Disks       []host.Disk
	Filesystems []host.Filesystem
	Timestamp   time.Time
}

// minFilesystemBytes excludes pseudo and tiny filesystems from usage checks.
const minFilesystemBytes = 1_000_000_000

// ladder grades v against warning and critical, with good as the lower
// bound of the Good band.
type ladder struct {
	warning, critical, good float64
	// goodExclusive makes the Good band start above good instead of at it.
	goodExclusive bool
}

func (l ladder) grade(v float64) Status {
	switch {
	case v >= l.critical:
		return StatusCritical
	case v >= l.warning:
		return StatusWarning
	case v > l.good, v == l.good && !l.goodExclusive:
		return StatusGood
	}
	return StatusHealthy
}

// Evaluate scores in against t. It performs no I/O.
func Evaluate(t Thresholds, in Inputs) *SystemHealth {
	var checks []Check

	if in.CPUIdle != nil {
		usage := 100 - *in.CPUIdle
		st := ladder{t.CPUWarning, t.CPUCritical, 50, false}.grade(usage)
		msg := pick(st, "CPU usage normal: %.1f%%", "CPU usage moderate: %.1f%%",
			"CPU usage elevated: %.1f%%", "CPU usage critically high: %.1f%%")
		checks = append(checks, newCheck("CPU Usage", CategoryCPU, st, fmt.Sprintf(msg, usage)).
			withValue(usage, gpu.Ptr(t.CPUWarning)))
	}

	if m := in.Memory; m != nil {
		usage := m.UsedPercent()
		st := ladder{t.MemoryWarning, t.MemoryCritical, 60, false}.grade(usage)
		msg := pick(st, "Memory usage normal: %.1f%%", "Memory usage moderate: %.1f%%",
			"Memory usage elevated: %.1f%%", "Memory usage critically high: %.1f%%")
		checks = append(checks, newCheck("Memory Usage", CategoryMemory, st, fmt.Sprintf(msg, usage)).
			withValue(usage, gpu.Ptr(t.MemoryWarning)))

		if m.SwapTotal > 0 {
			swap := m.SwapPercent()
			st := ladder{t.SwapWarning, t.SwapCritical, 10, true}.grade(swap)
			msg := pick(st, "Swap usage minimal: %.1f%%", "Swap in use: %.1f%%",
				"Swap usage elevated: %.1f%%", "Swap usage critically high: %.1f%%")
			checks = append(checks, newCheck("Swap Usage", CategoryMemory, st, fmt.Sprintf(msg, swap)).
				withValue(swap, gpu.Ptr(t.SwapWarning)))
		}
	}

	for idx, info := range in.Gpus {
		checks = append(checks, gpuChecks(t, idx, info.Dynamic)...)
	}

	for _, d := range in.Disks {
		name := fmt.Sprintf("Disk %s Health", d.Name)
		switch d.State {
		case host.DiskHealthy:
			checks = append(checks, newCheck(name, CategoryStorage, StatusHealthy, fmt.Sprintf("Disk %s health: OK", d.Name)))
		case host.DiskWarning:
			checks = append(checks, newCheck(name, CategoryStorage, StatusWarning, fmt.Sprintf("Disk %s health: Warning", d.Name)))
		case host.DiskCritical:
			checks = append(checks, newCheck(name, CategoryStorage, StatusCritical, fmt.Sprintf("Disk %s health: Critical!", d.Name)))
		case host.DiskFailed:
			checks = append(checks, newCheck(name, CategoryStorage, StatusCritical, fmt.Sprintf("Disk %s health: FAILED!", d.Name)))
		}
	}

	for _, fs := range in.Filesystems {
		if fs.Total <= minFilesystemBytes {
			continue
		}
		st := ladder{t.DiskWarning, t.DiskCritical, 60, false}.grade(fs.UsedPercent)
		msg := pick(st, "Disk %s usage normal: %.1f%%", "Disk %s usage moderate: %.1f%%",
			"Disk %s usage high: %.1f%%", "Disk %s critically full: %.1f%%")
		checks = append(checks, newCheck(fmt.Sprintf("Disk %s Usage", fs.Mountpoint), CategoryStorage, st,
			fmt.Sprintf(msg, fs.Mountpoint, fs.UsedPercent)).withValue(fs.UsedPercent, gpu.Ptr(t.DiskWarning)))
	}

	return summarize(checks, in.Timestamp)
}

func gpuChecks(t Thresholds, idx int, dyn gpu.DynamicInfo) []Check {
	var checks []Check
	if temp := dyn.Thermal.Temperature; temp != nil {
		c := float64(*temp)
		st := ladder{t.GPUTempWarning, t.GPUTempCritical, 70, false}.grade(c)
		msg := pick(st, "GPU%d temperature normal: %d°C", "GPU%d temperature warm: %d°C",
			"GPU%d temperature elevated: %d°C", "GPU%d temperature critical: %d°C")
		checks = append(checks, newCheck(fmt.Sprintf("GPU%d Temperature", idx), CategoryGPU, st,
			fmt.Sprintf(msg, idx, *temp)).withValue(c, gpu.Ptr(t.GPUTempWarning)))
	}

	if dyn.Memory.Total > 0 {
		pct := float64(dyn.Memory.Used) / float64(dyn.Memory.Total) * 100
		st := ladder{t.GPUMemoryWarning, t.GPUMemoryCritical, 50, false}.grade(pct)
		msg := pick(st, "GPU%d memory normal: %.1f%%", "GPU%d memory moderate: %.1f%%",
			"GPU%d memory elevated: %.1f%%", "GPU%d memory critically high: %.1f%%")
		checks = append(checks, newCheck(fmt.Sprintf("GPU%d Memory", idx), CategoryGPU, st,
			fmt.Sprintf(msg, idx, pct)).withValue(pct, gpu.Ptr(t.GPUMemoryWarning)))
	}

	util := dyn.Utilization
	st, msg := StatusHealthy, "GPU%d idle/low usage: %.0f%%"
	switch {
	case util >= 95:
		st, msg = StatusGood, "GPU%d fully utilized: %.0f%%"
	case util >= 50:
		msg = "GPU%d active: %.0f%%"
	}
	checks = append(checks, newCheck(fmt.Sprintf("GPU%d Utilization", idx), CategoryGPU, st,
		fmt.Sprintf(msg, idx, util)).withValue(util, nil))
	return checks
}

func pick(st Status, healthy, good, warning, critical string) string {
	switch st {
	case StatusCritical:
		return critical
	case StatusWarning:
		return warning
	case StatusGood:
		return good
	}
	return healthy
}

func summarize(checks []Check, ts time.Time) *SystemHealth {
	if ts.IsZero() {
		ts = time.Now()
	}
	h := &SystemHealth{Checks: checks, Timestamp: ts}
	if h.Checks == nil {
		h.Checks = []Check{}
	}

	var healthy, good, total int
	for _, c := range checks {
		total += c.Score
		switch c.Status {
		case StatusHealthy:
			healthy++
		case StatusGood:
			good++
		case StatusWarning:
			h.WarningCount++
		case StatusCritical:
			h.CriticalCount++
		}
	}
	if len(checks) > 0 {
		h.Score = total / len(checks)
	}

	switch {
	case h.CriticalCount > 0:
		h.Status = StatusCritical
	case h.WarningCount > 0:
		h.Status = StatusWarning
	case good > healthy:
		h.Status = StatusGood
	case len(checks) > 0:
		h.Status = StatusHealthy
	default:
		h.Status = StatusUnknown
	}
	h.HealthyCount = healthy + good
	return h
}
