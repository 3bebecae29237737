package host

import (
	"context"
	"os"
	"regexp"
	"strings"

	"GpuTelemetry/pkg/logging"
	"GpuTelemetry/pkg/probing"

	"github.com/shirou/gopsutil/v3/disk"
)

const sectorSize = 512

var diskPattern = regexp.MustCompile(`^(sd[a-z]+|nvme\d+n\d+|vd[a-z]+|xvd[a-z]+|hd[a-z]+|mmcblk\d+)$`)

// DiskState is the health a block device reports through sysfs.
type DiskState string

const (
	DiskHealthy  DiskState = "Healthy"
	DiskWarning  DiskState = "Warning"
	DiskCritical DiskState = "Critical"
	DiskFailed   DiskState = "Failed"
	DiskUnknown  DiskState = "Unknown"
)

// Disk is one whole block device.
type Disk struct {
	Name      string    `json:"name"`
	Model     string    `json:"model,omitempty"`
	Vendor    string    `json:"vendor,omitempty"`
	SizeBytes uint64    `json:"size"`
	State     DiskState `json:"state"`
}

// Filesystem is the usage of one mounted filesystem.
type Filesystem struct {
	Device      string  `json:"device"`
	Mountpoint  string  `json:"mountpoint"`
	Fstype      string  `json:"fstype"`
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"used_percent"`
}

// Disks lists the physical block devices under class/block.
func (r *Reader) Disks() ([]Disk, error) {
	entries, err := os.ReadDir(r.sys.Path("class", "block"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var disks []Disk
	for _, e := range entries {
		name := e.Name()
		if !diskPattern.MatchString(name) {
			continue
		}
		dev := r.sys.Path("class", "block", name, "device")
		d := Disk{Name: name, State: diskState(dev)}
		d.Model, _ = probing.String(dev + "/model")
		if d.Vendor, _ = probing.String(dev + "/vendor"); d.Vendor == "" && strings.HasPrefix(name, "nvme") {
			d.Vendor, _ = probing.String(dev + "/subsystem_vendor")
		}
		if sectors, err := probing.FileUint(r.sys.Path("class", "block", name, "size")); err == nil {
			d.SizeBytes = sectors * sectorSize
		}
		disks = append(disks, d)
	}
	return disks, nil
}

// diskState maps the SCSI device state, or for NVMe namespaces the state of
// the controller their device link points at.
func diskState(dev string) DiskState {
	state, err := probing.String(dev + "/state")
	if err != nil {
		return DiskUnknown
	}
	switch strings.ToLower(state) {
	case "running", "live":
		return DiskHealthy
	case "blocked", "quiesce", "transport-offline", "resetting", "connecting":
		return DiskWarning
	case "offline":
		return DiskCritical
	case "dead", "deleting":
		return DiskFailed
	}
	return DiskUnknown
}

// Filesystems reports usage of every mounted physical filesystem.
// Filesystems whose usage cannot be read are skipped.
func (r *Reader) Filesystems(ctx context.Context) ([]Filesystem, error) {
	parts, err := r.partitions(ctx)
	if err != nil {
		return nil, err
	}
	log := logging.WithComponent("host")
	seen := make(map[string]bool)
	var out []Filesystem
	for _, p := range parts {
		if seen[p.Mountpoint] {
			continue
		}
		seen[p.Mountpoint] = true
		u, err := r.usage(ctx, p.Mountpoint)
		if err != nil {
			log.WithField("mountpoint", p.Mountpoint).WithError(err).Debug("filesystem usage unavailable")
			continue
		}
		out = append(out, Filesystem{
			Device:      p.Device,
			Mountpoint:  p.Mountpoint,
			Fstype:      p.Fstype,
			Total:       u.Total,
			Used:        u.Used,
			Free:        u.Free,
			UsedPercent: u.UsedPercent,
		})
	}
	return out, nil
}

func gopsutilPartitions(ctx context.Context) ([]disk.PartitionStat, error) {
	return disk.PartitionsWithContext(ctx, false)
}

func gopsutilUsage(ctx context.Context, path string) (*disk.UsageStat, error) {
	return disk.UsageWithContext(ctx, path)
}
