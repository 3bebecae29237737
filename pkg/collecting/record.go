package collecting

import (
	"GpuTelemetry/pkg/gpu"
	"GpuTelemetry/pkg/health"
	"GpuTelemetry/pkg/process"
)

// StaticMetrics is gathered once per session.
type StaticMetrics struct {
	UUID          string `json:"uuid"`
	Hostname      string `json:"hostname"`
	NumProcessors int    `json:"numProcessors,omitempty"`
	CPUType       string `json:"cpuType,omitempty"`
	CPUCache      string `json:"cpuCache,omitempty"`
	KernelInfo    string `json:"kernelInfo,omitempty"`
	GpuCount      int    `json:"gpuCount"`

	Gpus []gpu.StaticInfo `json:"-"`
}

// DynamicMetrics is one collection tick. Each collector writes its own
// fields, so collectors may run concurrently on the same value.
type DynamicMetrics struct {
	Timestamp int64 `json:"timestamp"`

	CPUIdlePercent    *float64 `json:"cpuIdlePercent,omitempty"`
	MemoryTotal       uint64   `json:"memoryTotal,omitempty"`
	MemoryUsed        uint64   `json:"memoryUsed,omitempty"`
	MemoryAvailable   uint64   `json:"memoryAvailable,omitempty"`
	MemoryUsedPercent float64  `json:"memoryUsedPercent,omitempty"`
	SwapUsed          uint64   `json:"swapUsed,omitempty"`

	ProcessCount    int `json:"processCount,omitempty"`
	GpuProcessCount int `json:"gpuProcessCount,omitempty"`

	HealthStatus health.Status `json:"healthStatus,omitempty"`
	HealthScore  *int          `json:"healthScore,omitempty"`

	Gpus      []gpu.GpuInfo        `json:"-"`
	Processes []process.Info       `json:"-"`
	Health    *health.SystemHealth `json:"-"`
}
