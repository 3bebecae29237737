package drm

import (
	"errors"
	"sync"
	"time"

	"GpuTelemetry/pkg/gpu"
)

// EngineMeter turns cumulative fdinfo engine times into busy percentages
// by differencing the two most recent observations.
type EngineMeter struct {
	mu     sync.Mutex
	prev   map[uint32]map[string]uint64
	prevAt time.Time
	busy   map[string]float64
}

func NewEngineMeter() *EngineMeter {
	return &EngineMeter{}
}

// Observe records the engine counters of procs taken at time at.
func (m *EngineMeter) Observe(procs []gpu.GpuProcess, at time.Time) {
	cur := make(map[uint32]map[string]uint64, len(procs))
	for _, p := range procs {
		if len(p.EngineNs) > 0 {
			cur[p.PID] = p.EngineNs
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prev != nil {
		elapsed := at.Sub(m.prevAt)
		if elapsed > 0 {
			m.busy = engineBusy(m.prev, cur, elapsed)
		}
	}
	m.prev, m.prevAt = cur, at
}

// engineBusy sums per-pid counter deltas, ignoring pids that are new or
// gone so exits never produce negative time.
func engineBusy(prev, cur map[uint32]map[string]uint64, elapsed time.Duration) map[string]float64 {
	busy := make(map[string]float64)
	for pid, engines := range cur {
		before, ok := prev[pid]
		if !ok {
			continue
		}
		for engine, ns := range engines {
			if old, ok := before[engine]; ok && ns > old {
				busy[engine] += float64(ns - old)
			}
		}
	}
	for engine, ns := range busy {
		pct := ns / float64(elapsed.Nanoseconds()) * 100
		if pct > 100 {
			pct = 100
		}
		busy[engine] = pct
	}
	return busy
}

// Utilization maps the latest busy percentages onto EngineInfo.
func (m *EngineMeter) Utilization() (gpu.EngineInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy == nil {
		return gpu.EngineInfo{}, gpu.QueryFailed("engine utilization", errors.New("need two process samples"))
	}

	var info gpu.EngineInfo
	// several engine names share a field, so clamp the sum.
	add := func(dst **float64, v float64) {
		if *dst != nil {
			v += **dst
		}
		*dst = gpu.Ptr(min(v, 100))
	}
	for engine, pct := range m.busy {
		switch engine {
		case "gfx", "render", "rcs":
			add(&info.Graphics, pct)
		case "compute", "ccs":
			add(&info.Compute, pct)
		case "enc", "video", "vcs", "vcn":
			add(&info.Encoder, pct)
		case "dec", "jpeg":
			add(&info.Decoder, pct)
		case "copy", "dma", "sdma", "bcs":
			add(&info.Copy, pct)
		default:
			if info.VendorSpecific == nil {
				info.VendorSpecific = make(map[string]float64)
			}
			info.VendorSpecific[engine] = pct
		}
	}
	return info, nil
}
