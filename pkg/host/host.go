// Package host reads CPU, memory, swap and disk state of the machine.
package host

import (
	"context"

	"GpuTelemetry/pkg/probing"

	"github.com/shirou/gopsutil/v3/common"
	"github.com/shirou/gopsutil/v3/disk"
)

type Options struct {
	Proc probing.Root
	Sys  probing.Root

	// Partitions and Usage default to gopsutil.
	Partitions func(ctx context.Context) ([]disk.PartitionStat, error)
	Usage      func(ctx context.Context, path string) (*disk.UsageStat, error)
}

type Reader struct {
	proc       probing.Root
	sys        probing.Root
	partitions func(ctx context.Context) ([]disk.PartitionStat, error)
	usage      func(ctx context.Context, path string) (*disk.UsageStat, error)
}

func New(opts Options) *Reader {
	r := &Reader{
		proc:       opts.Proc,
		sys:        opts.Sys,
		partitions: opts.Partitions,
		usage:      opts.Usage,
	}
	if r.proc == "" {
		r.proc = "/proc"
	}
	if r.sys == "" {
		r.sys = "/sys"
	}
	if r.partitions == nil {
		r.partitions = gopsutilPartitions
	}
	if r.usage == nil {
		r.usage = gopsutilUsage
	}
	return r
}

// env roots gopsutil's /proc and /sys reads at the reader's directories.
func (r *Reader) env(ctx context.Context) context.Context {
	return context.WithValue(ctx, common.EnvKey, common.EnvMap{
		common.HostProcEnvKey: string(r.proc),
		common.HostSysEnvKey:  string(r.sys),
	})
}
