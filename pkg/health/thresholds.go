package health

import (
	"fmt"

	"GpuTelemetry/pkg/gpu"
)

// Thresholds are warning/critical percentages, or °C for GPU temperature.
type Thresholds struct {
	CPUWarning        float64 `json:"cpu_warning" yaml:"cpu_warning" toml:"cpu_warning"`
	CPUCritical       float64 `json:"cpu_critical" yaml:"cpu_critical" toml:"cpu_critical"`
	MemoryWarning     float64 `json:"memory_warning" yaml:"memory_warning" toml:"memory_warning"`
	MemoryCritical    float64 `json:"memory_critical" yaml:"memory_critical" toml:"memory_critical"`
	GPUTempWarning    float64 `json:"gpu_temp_warning" yaml:"gpu_temp_warning" toml:"gpu_temp_warning"`
	GPUTempCritical   float64 `json:"gpu_temp_critical" yaml:"gpu_temp_critical" toml:"gpu_temp_critical"`
	GPUMemoryWarning  float64 `json:"gpu_memory_warning" yaml:"gpu_memory_warning" toml:"gpu_memory_warning"`
	GPUMemoryCritical float64 `json:"gpu_memory_critical" yaml:"gpu_memory_critical" toml:"gpu_memory_critical"`
	DiskWarning       float64 `json:"disk_warning" yaml:"disk_warning" toml:"disk_warning"`
	DiskCritical      float64 `json:"disk_critical" yaml:"disk_critical" toml:"disk_critical"`
	SwapWarning       float64 `json:"swap_warning" yaml:"swap_warning" toml:"swap_warning"`
	SwapCritical      float64 `json:"swap_critical" yaml:"swap_critical" toml:"swap_critical"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUWarning:        80,
		CPUCritical:       95,
		MemoryWarning:     80,
		MemoryCritical:    95,
		GPUTempWarning:    80,
		GPUTempCritical:   95,
		GPUMemoryWarning:  85,
		GPUMemoryCritical: 95,
		DiskWarning:       85,
		DiskCritical:      95,
		SwapWarning:       50,
		SwapCritical:      80,
	}
}

// Validate requires every warning level to sit below its critical level.
func (t Thresholds) Validate() error {
	for _, p := range []struct {
		name              string
		warning, critical float64
	}{
		{"cpu", t.CPUWarning, t.CPUCritical},
		{"memory", t.MemoryWarning, t.MemoryCritical},
		{"gpu_temp", t.GPUTempWarning, t.GPUTempCritical},
		{"gpu_memory", t.GPUMemoryWarning, t.GPUMemoryCritical},
		{"disk", t.DiskWarning, t.DiskCritical},
		{"swap", t.SwapWarning, t.SwapCritical},
	} {
		if p.warning >= p.critical {
			return gpu.InvalidArgument("health thresholds",
				fmt.Errorf("%s warning %.1f must be below critical %.1f", p.name, p.warning, p.critical))
		}
	}
	return nil
}
