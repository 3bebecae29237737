package host

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"GpuTelemetry/pkg/probing"

	"github.com/shirou/gopsutil/v3/cpu"
	"golang.org/x/sys/unix"
)

// CPUTimes is the aggregate cpu line of /proc/stat, in seconds.
type CPUTimes = cpu.TimesStat

// IdlePercent is the share of idle and iowait time between two samples.
// Guest time is already counted in user and is left out of the total.
func IdlePercent(prev, cur CPUTimes) float64 {
	total := func(t CPUTimes) float64 {
		return t.User + t.Nice + t.System + t.Idle + t.Iowait + t.Irq + t.Softirq + t.Steal
	}
	elapsed := total(cur) - total(prev)
	if elapsed <= 0 {
		return 100
	}
	idle := (cur.Idle + cur.Iowait) - (prev.Idle + prev.Iowait)
	return min(max(idle/elapsed*100, 0), 100)
}

func (r *Reader) CPUTimes() (CPUTimes, error) {
	times, err := cpu.TimesWithContext(r.env(context.Background()), false)
	if err != nil {
		return CPUTimes{}, err
	}
	if len(times) == 0 {
		return CPUTimes{}, errors.New("no aggregate cpu line in stat")
	}
	return times[0], nil
}

// CPUIdle samples /proc/stat twice, interval apart. A zero interval
// reports the average since boot.
func (r *Reader) CPUIdle(ctx context.Context, interval time.Duration) (float64, error) {
	first, err := r.CPUTimes()
	if err != nil {
		return 0, err
	}
	if interval <= 0 {
		return IdlePercent(CPUTimes{}, first), nil
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(interval):
	}
	second, err := r.CPUTimes()
	if err != nil {
		return 0, err
	}
	return IdlePercent(first, second), nil
}

// Static describes the host once per run.
type Static struct {
	Hostname      string `json:"hostname"`
	NumProcessors int    `json:"num_processors"`
	CPUType       string `json:"cpu_type"`
	CPUCache      string `json:"cpu_cache,omitempty"`
	KernelInfo    string `json:"kernel_info,omitempty"`
}

func (r *Reader) Static() Static {
	s := Static{
		NumProcessors: runtime.NumCPU(),
		CPUType:       r.cpuType(),
		CPUCache:      r.cpuCache(),
		KernelInfo:    kernelInfo(),
	}
	var uts unix.Utsname
	if err := unix.Uname(&uts); err == nil {
		s.Hostname = unix.ByteSliceToString(uts.Nodename[:])
	}
	return s
}

func (r *Reader) cpuType() string {
	infos, _ := cpu.InfoWithContext(r.env(context.Background()))
	for _, info := range infos {
		if info.ModelName != "" {
			return info.ModelName
		}
	}
	return "unknown"
}

// cpuCache summarises the distinct cache instances, e.g. "L1d:48K L2:1M".
func (r *Reader) cpuCache() string {
	sizes := make(map[string]int64)
	seen := make(map[string]bool)

	dirs, _ := filepath.Glob(r.sys.Path("devices", "system", "cpu", "cpu*", "cache", "index*"))
	for _, dir := range dirs {
		level, _ := probing.String(filepath.Join(dir, "level"))
		typ, _ := probing.String(filepath.Join(dir, "type"))
		size, _ := probing.String(filepath.Join(dir, "size"))
		shared, _ := probing.String(filepath.Join(dir, "shared_cpu_map"))

		id := fmt.Sprintf("L%s-%s-%s", level, typ, shared)
		if seen[id] || level == "" || size == "" {
			continue
		}
		seen[id] = true

		var n int64
		var unit rune
		_, _ = fmt.Sscanf(size, "%d%c", &n, &unit)
		switch unit {
		case 'K':
			n <<= 10
		case 'M':
			n <<= 20
		}

		suffix := ""
		if level == "1" {
			switch typ {
			case "Data":
				suffix = "d"
			case "Instruction":
				suffix = "i"
			}
		}
		sizes["L"+level+suffix] += n
	}

	var parts []string
	for _, label := range []string{"L1d", "L1i", "L2", "L3", "L4"} {
		n := sizes[label]
		switch {
		case n >= 1<<20:
			parts = append(parts, fmt.Sprintf("%s:%dM", label, n>>20))
		case n > 0:
			parts = append(parts, fmt.Sprintf("%s:%dK", label, n>>10))
		}
	}
	return strings.Join(parts, " ")
}

func kernelInfo() string {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return ""
	}
	return strings.Join([]string{
		unix.ByteSliceToString(uts.Sysname[:]),
		unix.ByteSliceToString(uts.Release[:]),
		unix.ByteSliceToString(uts.Version[:]),
		unix.ByteSliceToString(uts.Machine[:]),
	}, " ")
}
