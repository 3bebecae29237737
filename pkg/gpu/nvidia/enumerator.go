package nvidia

import (
	"context"

	"GpuTelemetry/pkg/gpu"
	"GpuTelemetry/pkg/logging"
)

type Enumerator struct {
	lib Library
}

// NewEnumerator enumerates through lib, or the system NVML when lib is nil.
func NewEnumerator(lib Library) *Enumerator {
	if lib == nil {
		lib = NVML()
	}
	return &Enumerator{lib: lib}
}

func (e *Enumerator) Vendor() gpu.Vendor { return gpu.VendorNvidia }

// Enumerate opens NVML and returns one Device per handle, indexed by NVML
// index. Each device holds its own reference; the library shuts down once
// every device is closed. A missing library or driver yields no devices.
func (e *Enumerator) Enumerate(ctx context.Context) ([]gpu.Device, error) {
	log := logging.WithComponent("nvidia")
	ref, err := Open(e.lib)
	if err != nil {
		log.WithError(err).Debug("nvml unavailable")
		return nil, nil
	}
	defer ref.Release()

	count, ret := e.lib.DeviceGetCount()
	if !ok(ret) {
		log.WithError(queryError("device count", ret)).Warn("nvml device count failed")
		return nil, nil
	}

	var devices []gpu.Device
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			for _, d := range devices {
				d.Close()
			}
			return nil, err
		}
		handle, ret := e.lib.DeviceGetHandleByIndex(i)
		if !ok(ret) {
			log.WithField("index", i).WithError(queryError("device handle", ret)).Warn("skipping adapter")
			continue
		}
		devRef, err := ref.Clone()
		if err != nil {
			return nil, err
		}
		devices = append(devices, newDevice(i, devRef, handle))
	}
	return devices, nil
}
