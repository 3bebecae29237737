package health

import (
	"context"
	"sync"
	"time"

	"GpuTelemetry/pkg/gpu"
	"GpuTelemetry/pkg/host"
	"GpuTelemetry/pkg/logging"
)

// HostSource provides the machine readings. *host.Reader implements it.
type HostSource interface {
	CPUIdle(ctx context.Context, interval time.Duration) (float64, error)
	Memory() (host.Memory, error)
	Disks() ([]host.Disk, error)
	Filesystems(ctx context.Context) ([]host.Filesystem, error)
}

// GpuSource provides GPU snapshots. *collecting.GpuCollection implements it.
type GpuSource interface {
	SnapshotAll(ctx context.Context) ([]gpu.GpuInfo, error)
}

type Sources struct {
	Host HostSource
	Gpus GpuSource
	// CPUInterval is the /proc/stat sampling window; zero averages since boot.
	CPUInterval time.Duration
}

// Checker gathers readings and evaluates them. Thresholds may be replaced
// while checks run.
type Checker struct {
	mu         sync.RWMutex
	thresholds Thresholds
	sources    Sources
}

func NewChecker(t Thresholds, sources Sources) (*Checker, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Checker{thresholds: t, sources: sources}, nil
}

func (c *Checker) Thresholds() Thresholds {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.thresholds
}

// SetThresholds swaps in t if it is valid.
func (c *Checker) SetThresholds(t Thresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.thresholds = t
	c.mu.Unlock()
	return nil
}

// Check reads every source and evaluates the result. A source that fails
// contributes no checks; only cancellation fails the call.
func (c *Checker) Check(ctx context.Context) (*SystemHealth, error) {
	log := logging.WithComponent("health")
	in := Inputs{Timestamp: time.Now()}

	if h := c.sources.Host; h != nil {
		if idle, err := h.CPUIdle(ctx, c.sources.CPUInterval); err == nil {
			in.CPUIdle = &idle
		} else {
			log.WithError(err).Debug("cpu reading unavailable")
		}
		if m, err := h.Memory(); err == nil {
			in.Memory = &m
		} else {
			log.WithError(err).Debug("memory reading unavailable")
		}
		if d, err := h.Disks(); err == nil {
			in.Disks = d
		} else {
			log.WithError(err).Debug("disk states unavailable")
		}
		if fs, err := h.Filesystems(ctx); err == nil {
			in.Filesystems = fs
		} else {
			log.WithError(err).Debug("filesystem usage unavailable")
		}
	}
	if g := c.sources.Gpus; g != nil {
		if infos, err := g.SnapshotAll(ctx); err == nil {
			in.Gpus = infos
		} else {
			log.WithError(err).Debug("gpu snapshot unavailable")
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Evaluate(c.Thresholds(), in), nil
}
