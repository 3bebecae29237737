// Package process joins the OS process table with the per-GPU process
// lists reported by each device.
package process

import (
	"GpuTelemetry/pkg/gpu"
)

// State is the one-letter scheduler state from /proc/<pid>/stat.
type State byte

func (s State) String() string {
	if s == 0 {
		return "?"
	}
	return string(rune(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	*s = 0
	if len(b) > 0 {
		*s = State(b[0])
	}
	return nil
}

// Info is one OS process and the GPU usage attributed to it. GPU indices
// are collection positions, not vendor-local indices.
type Info struct {
	PID         uint32  `json:"pid"`
	Name        string  `json:"name"`
	User        *string `json:"user,omitempty"`
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_usage"`
	State       State   `json:"state"`
	Priority    *int32  `json:"priority,omitempty"`

	GPUIndices          []int           `json:"gpu_indices"`
	GPUMemoryPerDevice  map[int]uint64  `json:"gpu_memory_per_device"`
	TotalGPUMemoryBytes uint64          `json:"total_gpu_memory"`
	GPUProcessType      gpu.ProcessType `json:"gpu_process_type"`
}

func newInfo(pid uint32) Info {
	return Info{
		PID:                pid,
		GPUIndices:         []int{},
		GPUMemoryPerDevice: map[int]uint64{},
		GPUProcessType:     gpu.ProcessUnknown,
	}
}

// UsesGPU reports whether any device listed the process.
func (p *Info) UsesGPU() bool { return len(p.GPUIndices) > 0 }

// attach records that device idx reported proc. Repeated reports from the
// same device overwrite the earlier memory figure.
func (p *Info) attach(idx int, proc gpu.GpuProcess) {
	seen := false
	for _, i := range p.GPUIndices {
		if i == idx {
			seen = true
			break
		}
	}
	if !seen {
		p.GPUIndices = append(p.GPUIndices, idx)
	}

	var bytes uint64
	if proc.MemoryBytes != nil {
		bytes = *proc.MemoryBytes
	}
	p.GPUMemoryPerDevice[idx] = bytes

	p.TotalGPUMemoryBytes = 0
	for _, b := range p.GPUMemoryPerDevice {
		p.TotalGPUMemoryBytes += b
	}
	p.GPUProcessType = p.GPUProcessType.Merge(proc.Type)
}
