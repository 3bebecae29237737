package nvidia

import (
	"fmt"

	"GpuTelemetry/pkg/gpu"
	"GpuTelemetry/pkg/logging"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

var computeModes = map[nvml.ComputeMode]gpu.ComputeMode{
	nvml.COMPUTEMODE_DEFAULT:           gpu.ComputeModeDefault,
	nvml.COMPUTEMODE_EXCLUSIVE_THREAD:  gpu.ComputeModeExclusiveThread,
	nvml.COMPUTEMODE_PROHIBITED:        gpu.ComputeModeProhibited,
	nvml.COMPUTEMODE_EXCLUSIVE_PROCESS: gpu.ComputeModeExclusiveProcess,
}

// maxNvLinks bounds the link scan; NVML reports invalid argument past the
// last link of a device.
const maxNvLinks = 18

func (d *Device) NvLinkStatus() ([]gpu.NvLinkStatus, error) {
	h, err := d.dev("nvlink status")
	if err != nil {
		return nil, err
	}
	var links []gpu.NvLinkStatus
	for link := 0; link < maxNvLinks; link++ {
		state, ret := h.GetNvLinkState(link)
		if !ok(ret) {
			if link == 0 {
				return nil, queryError("nvlink status", ret)
			}
			break
		}
		s := gpu.LinkInactive
		switch state {
		case nvml.FEATURE_ENABLED:
			s = gpu.LinkActive
		case nvml.FEATURE_DISABLED:
		default:
			s = gpu.LinkUnknown
		}
		links = append(links, gpu.NvLinkStatus{LinkID: uint32(link), State: s})
	}
	return links, nil
}

func (d *Device) MigMode() (gpu.MigMode, error) {
	h, err := d.dev("mig mode")
	if err != nil {
		return gpu.MigMode{}, err
	}
	cur, pending, ret := h.GetMigMode()
	if err := queryError("mig mode", ret); err != nil {
		return gpu.MigMode{}, err
	}
	return gpu.MigMode{Current: cur == nvml.DEVICE_MIG_ENABLE, Pending: pending == nvml.DEVICE_MIG_ENABLE}, nil
}

func (d *Device) EccErrors() (gpu.EccErrors, error) {
	h, err := d.dev("ecc errors")
	if err != nil {
		return gpu.EccErrors{}, err
	}
	var e gpu.EccErrors
	for _, c := range []struct {
		typ     nvml.MemoryErrorType
		counter nvml.EccCounterType
		dst     *uint64
	}{
		{nvml.MEMORY_ERROR_TYPE_CORRECTED, nvml.VOLATILE_ECC, &e.VolatileSingleBit},
		{nvml.MEMORY_ERROR_TYPE_UNCORRECTED, nvml.VOLATILE_ECC, &e.VolatileDoubleBit},
		{nvml.MEMORY_ERROR_TYPE_CORRECTED, nvml.AGGREGATE_ECC, &e.AggregateSingleBit},
		{nvml.MEMORY_ERROR_TYPE_UNCORRECTED, nvml.AGGREGATE_ECC, &e.AggregateDoubleBit},
	} {
		v, ret := h.GetTotalEccErrors(c.typ, c.counter)
		if err := queryError("ecc errors", ret); err != nil {
			return gpu.EccErrors{}, err
		}
		*c.dst = v
	}
	return e, nil
}

func (d *Device) ComputeMode() (gpu.ComputeMode, error) {
	h, err := d.dev("compute mode")
	if err != nil {
		return "", err
	}
	mode, ret := h.GetComputeMode()
	if err := queryError("compute mode", ret); err != nil {
		return "", err
	}
	m, known := computeModes[mode]
	if !known {
		return "", gpu.QueryFailed("compute mode", fmt.Errorf("unknown mode %d", mode))
	}
	return m, nil
}

func (d *Device) PersistenceMode() (bool, error) {
	h, err := d.dev("persistence mode")
	if err != nil {
		return false, err
	}
	state, ret := h.GetPersistenceMode()
	if err := queryError("persistence mode", ret); err != nil {
		return false, err
	}
	return state == nvml.FEATURE_ENABLED, nil
}

// PCIeLink implements gpu.PCIeReporter. Throughput counters are in KB/s.
func (d *Device) PCIeLink() (gpu.PCIeInfo, error) {
	h, err := d.dev("pcie link")
	if err != nil {
		return gpu.PCIeInfo{}, err
	}
	var link gpu.PCIeInfo
	gen, ret := h.GetCurrPcieLinkGeneration()
	if err := queryError("pcie link", ret); err != nil {
		return link, err
	}
	link.CurrentGen = gpu.Ptr(uint32(gen))
	intPtr := func(call func() (int, nvml.Return)) *uint32 {
		if v, ret := call(); ok(ret) {
			return gpu.Ptr(uint32(v))
		}
		return nil
	}
	link.CurrentWidth = intPtr(h.GetCurrPcieLinkWidth)
	link.MaxGen = intPtr(h.GetMaxPcieLinkGeneration)
	link.MaxWidth = intPtr(h.GetMaxPcieLinkWidth)
	if kb, ret := h.GetPcieThroughput(nvml.PCIE_UTIL_TX_BYTES); ok(ret) {
		link.TxBytesPerSec = gpu.Ptr(uint64(kb) * 1024)
	}
	if kb, ret := h.GetPcieThroughput(nvml.PCIE_UTIL_RX_BYTES); ok(ret) {
		link.RxBytesPerSec = gpu.Ptr(uint64(kb) * 1024)
	}
	return link, nil
}

// Static implements gpu.StaticDetails.
func (d *Device) Static() gpu.StaticInfo {
	var s gpu.StaticInfo
	h, err := d.dev("static info")
	if err != nil {
		return s
	}
	if major, minor, ret := h.GetCudaComputeCapability(); ok(ret) {
		s.ComputeCapability = gpu.Ptr(fmt.Sprintf("%d.%d", major, minor))
	}
	if cores, ret := h.GetNumGpuCores(); ok(ret) && cores > 0 {
		s.ShaderCores = gpu.Ptr(uint32(cores))
	}
	if v, ret := h.GetVbiosVersion(); ok(ret) && v != "" {
		s.VBIOSVersion = gpu.Ptr(v)
	}
	return s
}

func (d *Device) SetPowerLimit(watts float64) error {
	h, err := d.dev("set power limit")
	if err != nil {
		return err
	}
	if watts <= 0 {
		return gpu.InvalidArgument("set power limit", fmt.Errorf("%.1f W is not positive", watts))
	}
	mw := gpu.WattsToMilliwatts(watts)
	if lo, hi, ret := h.GetPowerManagementLimitConstraints(); ok(ret) && (mw < lo || mw > hi) {
		return gpu.InvalidArgument("set power limit",
			fmt.Errorf("%.1f W outside %.1f-%.1f W", watts, gpu.MilliwattsToWatts(lo), gpu.MilliwattsToWatts(hi)))
	}
	if err := controlError("set power limit", h.SetPowerManagementLimit(mw)); err != nil {
		return err
	}
	logging.WithComponent("nvidia").WithField("gpu", d.index).Infof("power limit set to %.1f W", watts)
	return nil
}

func (d *Device) LockGPUClocks(minMHz, maxMHz uint32) error {
	h, err := d.dev("lock gpu clocks")
	if err != nil {
		return err
	}
	if minMHz > maxMHz {
		return gpu.InvalidArgument("lock gpu clocks", fmt.Errorf("min %d MHz above max %d MHz", minMHz, maxMHz))
	}
	return controlError("lock gpu clocks", h.SetGpuLockedClocks(minMHz, maxMHz))
}

func (d *Device) ResetGPUClocks() error {
	h, err := d.dev("reset gpu clocks")
	if err != nil {
		return err
	}
	return controlError("reset gpu clocks", h.ResetGpuLockedClocks())
}

func (d *Device) SetComputeMode(mode gpu.ComputeMode) error {
	h, err := d.dev("set compute mode")
	if err != nil {
		return err
	}
	for native, m := range computeModes {
		if m == mode {
			return controlError("set compute mode", h.SetComputeMode(native))
		}
	}
	return gpu.InvalidArgument("set compute mode", fmt.Errorf("unknown mode %q", mode))
}

func (d *Device) SetPersistenceMode(enabled bool) error {
	h, err := d.dev("set persistence mode")
	if err != nil {
		return err
	}
	state := nvml.FEATURE_DISABLED
	if enabled {
		state = nvml.FEATURE_ENABLED
	}
	return controlError("set persistence mode", h.SetPersistenceMode(state))
}
