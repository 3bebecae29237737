package collecting

import (
	"context"
	"fmt"
	"sync"

	"GpuTelemetry/pkg/gpu"
	"GpuTelemetry/pkg/health"
	"GpuTelemetry/pkg/host"
	"GpuTelemetry/pkg/logging"
	"GpuTelemetry/pkg/process"
)

// Collector fills its part of the static and dynamic metrics.
type Collector interface {
	Name() string
	CollectStatic(ctx context.Context, s *StaticMetrics) error
	CollectDynamic(ctx context.Context, d *DynamicMetrics) error
	Close() error
}

// GpuCollector snapshots every device of a collection.
type GpuCollector struct {
	gpus *GpuCollection
}

func NewGpuCollector(gpus *GpuCollection) *GpuCollector { return &GpuCollector{gpus: gpus} }

func (c *GpuCollector) Name() string { return "GPU" }
func (c *GpuCollector) Close() error { return nil }

// CollectStatic records the identity of each device. A device whose
// identity cannot be read is logged and left out.
func (c *GpuCollector) CollectStatic(_ context.Context, s *StaticMetrics) error {
	s.GpuCount = c.gpus.Len()
	s.Gpus = make([]gpu.StaticInfo, 0, c.gpus.Len())
	for _, d := range c.gpus.Gpus() {
		info, err := gpu.ReadStatic(d)
		if err != nil {
			logging.WithComponent("collecting").WithError(err).Warn("static gpu info unavailable")
			continue
		}
		s.Gpus = append(s.Gpus, info)
	}
	return nil
}

func (c *GpuCollector) CollectDynamic(ctx context.Context, d *DynamicMetrics) error {
	infos, err := c.gpus.SnapshotAll(ctx)
	if err != nil {
		return err
	}
	d.Gpus = infos
	return nil
}

// HostCollector reports CPU idle time between ticks and memory usage.
type HostCollector struct {
	reader *host.Reader

	mu   sync.Mutex
	prev *host.CPUTimes
}

func NewHostCollector(reader *host.Reader) *HostCollector { return &HostCollector{reader: reader} }

func (c *HostCollector) Name() string { return "Host" }
func (c *HostCollector) Close() error { return nil }

func (c *HostCollector) CollectStatic(_ context.Context, s *StaticMetrics) error {
	st := c.reader.Static()
	s.NumProcessors = st.NumProcessors
	s.CPUType = st.CPUType
	s.CPUCache = st.CPUCache
	s.KernelInfo = st.KernelInfo
	return nil
}

// CollectDynamic measures CPU idle since the previous tick; the first tick
// reports the average since boot.
func (c *HostCollector) CollectDynamic(_ context.Context, d *DynamicMetrics) error {
	times, err := c.reader.CPUTimes()
	if err != nil {
		return fmt.Errorf("cpu times: %w", err)
	}
	c.mu.Lock()
	prev := host.CPUTimes{}
	if c.prev != nil {
		prev = *c.prev
	}
	c.prev = &times
	c.mu.Unlock()
	idle := host.IdlePercent(prev, times)
	d.CPUIdlePercent = &idle

	m, err := c.reader.Memory()
	if err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	d.MemoryTotal = m.Total
	d.MemoryUsed = m.Used
	d.MemoryAvailable = m.Available
	d.MemoryUsedPercent = m.UsedPercent()
	d.SwapUsed = m.SwapUsed
	return nil
}

// ProcessCollector captures the attributed process table.
type ProcessCollector struct {
	monitor *process.Monitor
	gpuOnly bool
}

func NewProcessCollector(monitor *process.Monitor, gpuOnly bool) *ProcessCollector {
	return &ProcessCollector{monitor: monitor, gpuOnly: gpuOnly}
}

func (c *ProcessCollector) Name() string                                        { return "Process" }
func (c *ProcessCollector) Close() error                                        { return nil }
func (c *ProcessCollector) CollectStatic(context.Context, *StaticMetrics) error { return nil }

func (c *ProcessCollector) CollectDynamic(_ context.Context, d *DynamicMetrics) error {
	procs, err := c.monitor.Processes()
	if err != nil {
		return err
	}
	gpuCount := 0
	kept := procs[:0]
	for _, p := range procs {
		if p.UsesGPU() {
			gpuCount++
		} else if c.gpuOnly {
			continue
		}
		kept = append(kept, p)
	}
	d.ProcessCount = len(procs)
	d.GpuProcessCount = gpuCount
	d.Processes = kept
	return nil
}

// HealthCollector scores the machine on every tick.
type HealthCollector struct {
	checker *health.Checker
}

func NewHealthCollector(checker *health.Checker) *HealthCollector {
	return &HealthCollector{checker: checker}
}

func (c *HealthCollector) Name() string                                        { return "Health" }
func (c *HealthCollector) Close() error                                        { return nil }
func (c *HealthCollector) CollectStatic(context.Context, *StaticMetrics) error { return nil }

func (c *HealthCollector) CollectDynamic(ctx context.Context, d *DynamicMetrics) error {
	h, err := c.checker.Check(ctx)
	if err != nil {
		return err
	}
	d.Health = h
	d.HealthStatus = h.Status
	d.HealthScore = gpu.Ptr(h.Score)
	return nil
}
