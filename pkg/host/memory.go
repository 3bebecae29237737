package host

import (
	"context"
	"errors"

	"github.com/shirou/gopsutil/v3/mem"
)

// Memory is system RAM and swap in bytes.
type Memory struct {
	Total     uint64 `json:"total"`
	Available uint64 `json:"available"`
	Used      uint64 `json:"used"`
	SwapTotal uint64 `json:"swap_total"`
	SwapFree  uint64 `json:"swap_free"`
	SwapUsed  uint64 `json:"swap_used"`
}

func (m Memory) UsedPercent() float64 {
	if m.Total == 0 {
		return 0
	}
	return float64(m.Used) / float64(m.Total) * 100
}

func (m Memory) SwapPercent() float64 {
	if m.SwapTotal == 0 {
		return 0
	}
	return float64(m.SwapUsed) / float64(m.SwapTotal) * 100
}

// Memory reads /proc/meminfo. Used is everything not available, so page
// cache the kernel can drop does not count against the host.
func (r *Reader) Memory() (Memory, error) {
	vm, err := mem.VirtualMemoryWithContext(r.env(context.Background()))
	if err != nil {
		return Memory{}, err
	}
	if vm.Total == 0 {
		return Memory{}, errors.New("no MemTotal in meminfo")
	}

	m := Memory{
		Total:     vm.Total,
		Available: vm.Available,
		SwapTotal: vm.SwapTotal,
		SwapFree:  vm.SwapFree,
	}
	if m.Available < m.Total {
		m.Used = m.Total - m.Available
	}
	if m.SwapFree < m.SwapTotal {
		m.SwapUsed = m.SwapTotal - m.SwapFree
	}
	return m, nil
}
