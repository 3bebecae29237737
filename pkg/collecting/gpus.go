package collecting

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"GpuTelemetry/pkg/drm"
	"GpuTelemetry/pkg/gpu"
	"GpuTelemetry/pkg/gpu/amd"
	"GpuTelemetry/pkg/gpu/intel"
	"GpuTelemetry/pkg/gpu/nvidia"
	"GpuTelemetry/pkg/logging"
	"GpuTelemetry/pkg/probing"
)

// DetectOptions selects the vendors AutoDetect probes and where it looks.
type DetectOptions struct {
	Sys  probing.Root
	Proc probing.Root

	DisableNvidia bool
	DisableAmd    bool
	DisableIntel  bool

	// NVML replaces the system library, mainly in tests.
	NVML nvidia.Library

	// Concurrent and RescanEvery configure the fdinfo scanners of the
	// sysfs vendors.
	Concurrent  bool
	RescanEvery int

	// Enumerators overrides the vendor enumerators entirely.
	Enumerators []gpu.Enumerator
}

func (o DetectOptions) enumerators() []gpu.Enumerator {
	if o.Enumerators != nil {
		return o.Enumerators
	}
	scanner := func(drivers []string) *drm.Scanner {
		return drm.NewScanner(drm.ScannerOptions{
			Proc:        o.Proc,
			Drivers:     drivers,
			Concurrent:  o.Concurrent,
			RescanEvery: o.RescanEvery,
		})
	}

	var enums []gpu.Enumerator
	if !o.DisableNvidia {
		enums = append(enums, nvidia.NewEnumerator(o.NVML))
	}
	if !o.DisableAmd {
		enums = append(enums, amd.NewEnumerator(amd.Options{Sys: o.Sys, Proc: o.Proc, Scanner: scanner(amd.Drivers)}))
	}
	if !o.DisableIntel {
		enums = append(enums, intel.NewEnumerator(intel.Options{Sys: o.Sys, Proc: o.Proc, Scanner: scanner(intel.Drivers)}))
	}
	return enums
}

// GpuCollection owns a fixed, ordered set of devices. Positions in the
// collection are stable for its lifetime.
type GpuCollection struct {
	devices []gpu.Device
}

func NewGpuCollection(devices ...gpu.Device) *GpuCollection {
	return &GpuCollection{devices: devices}
}

// AutoDetect enumerates NVIDIA, AMD and Intel devices in that order. A
// vendor whose enumeration fails is logged and skipped; an empty collection
// is not an error.
func AutoDetect(ctx context.Context, opts DetectOptions) (*GpuCollection, error) {
	log := logging.WithComponent("collecting")
	c := &GpuCollection{}
	for _, e := range opts.enumerators() {
		devices, err := e.Enumerate(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.Close()
				return nil, ctx.Err()
			}
			log.WithField("vendor", e.Vendor()).WithError(err).Warn("enumeration failed")
			continue
		}
		log.WithField("vendor", e.Vendor()).Debugf("found %d devices", len(devices))
		c.devices = append(c.devices, devices...)
	}
	return c, nil
}

// Gpus returns the devices in collection order.
func (c *GpuCollection) Gpus() []gpu.Device {
	out := make([]gpu.Device, len(c.devices))
	copy(out, c.devices)
	return out
}

func (c *GpuCollection) Len() int { return len(c.devices) }

func (c *GpuCollection) Get(i int) (gpu.Device, bool) {
	if i < 0 || i >= len(c.devices) {
		return nil, false
	}
	return c.devices[i], true
}

func (c *GpuCollection) ByVendor(v gpu.Vendor) []gpu.Device {
	var out []gpu.Device
	for _, d := range c.devices {
		if d.Vendor() == v {
			out = append(out, d)
		}
	}
	return out
}

func (c *GpuCollection) NvidiaGpus() []gpu.Device { return c.ByVendor(gpu.VendorNvidia) }
func (c *GpuCollection) AmdGpus() []gpu.Device    { return c.ByVendor(gpu.VendorAmd) }
func (c *GpuCollection) IntelGpus() []gpu.Device  { return c.ByVendor(gpu.VendorIntel) }

// RequireDevices fails with ErrNoDevicesFound on an empty collection.
func (c *GpuCollection) RequireDevices() error {
	if len(c.devices) == 0 {
		return gpu.ErrNoDevicesFound
	}
	return nil
}

// SnapshotAll reads every device, in parallel, and returns the results in
// collection order. Any device failure fails the whole call.
func (c *GpuCollection) SnapshotAll(ctx context.Context) ([]gpu.GpuInfo, error) {
	infos := make([]gpu.GpuInfo, len(c.devices))
	errs := make([]error, len(c.devices))

	work := make(chan int, len(c.devices))
	for i := range c.devices {
		work <- i
	}
	close(work)

	workers := min(runtime.NumCPU(), len(c.devices))
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range work {
				if err := ctx.Err(); err != nil {
					errs[i] = err
					continue
				}
				infos[i], errs[i] = gpu.Snapshot(c.devices[i])
			}
		}()
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return infos, nil
}

// Close closes every device and reports every failure.
func (c *GpuCollection) Close() error {
	var errs []error
	for _, d := range c.devices {
		errs = append(errs, d.Close())
	}
	return errors.Join(errs...)
}
