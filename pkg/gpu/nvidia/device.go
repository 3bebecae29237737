package nvidia

import (
	"errors"
	"fmt"
	"sort"

	"GpuTelemetry/pkg/gpu"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// Device is one NVML device. It keeps its Context alive through a Ref until
// Close; any read after Close fails with ErrInitializationFailed.
type Device struct {
	index  int
	ref    *Ref
	handle NVMLDevice
}

var (
	_ gpu.Device        = (*Device)(nil)
	_ gpu.StaticDetails = (*Device)(nil)
	_ gpu.PCIeReporter  = (*Device)(nil)
)

func newDevice(index int, ref *Ref, handle NVMLDevice) *Device {
	return &Device{index: index, ref: ref, handle: handle}
}

// dev returns the handle while the NVML reference is live.
func (d *Device) dev(op string) (NVMLDevice, error) {
	if err := d.ref.check(op); err != nil {
		return nil, err
	}
	return d.handle, nil
}

func (d *Device) Vendor() gpu.Vendor { return gpu.VendorNvidia }
func (d *Device) Index() int         { return d.index }
func (d *Device) Close() error       { return d.ref.Release() }

func readString(d *Device, op string, call func(NVMLDevice) (string, nvml.Return)) (string, error) {
	h, err := d.dev(op)
	if err != nil {
		return "", err
	}
	v, ret := call(h)
	if err := queryError(op, ret); err != nil {
		return "", err
	}
	return v, nil
}

func (d *Device) Name() (string, error) {
	return readString(d, "name", NVMLDevice.GetName)
}

func (d *Device) UUID() (string, error) {
	return readString(d, "uuid", NVMLDevice.GetUUID)
}

func (d *Device) DriverVersion() (string, error) {
	lib, err := d.ref.Library("driver version")
	if err != nil {
		return "", err
	}
	v, ret := lib.SystemGetDriverVersion()
	if err := queryError("driver version", ret); err != nil {
		return "", err
	}
	return v, nil
}

func (d *Device) PCIInfo() (gpu.PCIInfo, error) {
	h, err := d.dev("pci info")
	if err != nil {
		return gpu.PCIInfo{}, err
	}
	pci, ret := h.GetPciInfo()
	if err := queryError("pci info", ret); err != nil {
		return gpu.PCIInfo{}, err
	}
	info := gpu.PCIInfo{Domain: pci.Domain, Bus: uint8(pci.Bus), Device: uint8(pci.Device)}
	info.BusID = fmt.Sprintf("%04x:%02x:%02x.%x", info.Domain, info.Bus, info.Device, info.Function)
	if gen, ret := h.GetCurrPcieLinkGeneration(); ok(ret) {
		info.PCIeGeneration = gpu.Ptr(uint32(gen))
	}
	if width, ret := h.GetCurrPcieLinkWidth(); ok(ret) {
		info.PCIeLinkWidth = gpu.Ptr(uint32(width))
	}
	return info, nil
}

func (d *Device) Temperature() (gpu.Temperature, error) {
	h, err := d.dev("temperature")
	if err != nil {
		return gpu.Temperature{}, err
	}
	c, ret := h.GetTemperature(nvml.TEMPERATURE_GPU)
	if err := queryError("temperature", ret); err != nil {
		return gpu.Temperature{}, err
	}
	t := gpu.Temperature{Edge: gpu.Ptr(float64(c))}

	var th gpu.TemperatureThresholds
	if v, ret := h.GetTemperatureThreshold(nvml.TEMPERATURE_THRESHOLD_SLOWDOWN); ok(ret) && v > 0 {
		th.Slowdown = gpu.Ptr(float64(v))
	}
	if v, ret := h.GetTemperatureThreshold(nvml.TEMPERATURE_THRESHOLD_SHUTDOWN); ok(ret) && v > 0 {
		th.Shutdown = gpu.Ptr(float64(v))
	}
	if th != (gpu.TemperatureThresholds{}) {
		t.Thresholds = &th
	}
	return t, nil
}

func (d *Device) Power() (gpu.Power, error) {
	h, err := d.dev("power")
	if err != nil {
		return gpu.Power{}, err
	}
	mw, ret := h.GetPowerUsage()
	if err := queryError("power usage", ret); err != nil {
		return gpu.Power{}, err
	}
	p := gpu.Power{CurrentW: gpu.MilliwattsToWatts(mw)}

	watts := func(call func() (uint32, nvml.Return), dst *float64) {
		if v, ret := call(); ok(ret) {
			*dst = gpu.MilliwattsToWatts(v)
		}
	}
	watts(h.GetPowerManagementLimit, &p.LimitW)
	watts(h.GetPowerManagementDefaultLimit, &p.DefaultLimitW)
	watts(h.GetEnforcedPowerLimit, &p.EnforcedLimitW)
	if lo, hi, ret := h.GetPowerManagementLimitConstraints(); ok(ret) {
		p.MinLimitW, p.MaxLimitW = gpu.MilliwattsToWatts(lo), gpu.MilliwattsToWatts(hi)
	}
	return p, nil
}

func (d *Device) Clocks() (gpu.Clocks, error) {
	h, err := d.dev("clocks")
	if err != nil {
		return gpu.Clocks{}, err
	}
	gfx, ret := h.GetClockInfo(nvml.CLOCK_GRAPHICS)
	if err := queryError("graphics clock", ret); err != nil {
		return gpu.Clocks{}, err
	}
	c := gpu.Clocks{GraphicsMHz: gfx}
	if v, ret := h.GetClockInfo(nvml.CLOCK_MEM); ok(ret) {
		c.MemoryMHz = v
	}
	opt := func(call func(nvml.ClockType) (uint32, nvml.Return), typ nvml.ClockType) *uint32 {
		if v, ret := call(typ); ok(ret) {
			return gpu.Opt32(v)
		}
		return nil
	}
	c.SMMHz = opt(h.GetClockInfo, nvml.CLOCK_SM)
	c.VideoMHz = opt(h.GetClockInfo, nvml.CLOCK_VIDEO)
	c.GraphicsMaxMHz = opt(h.GetMaxClockInfo, nvml.CLOCK_GRAPHICS)
	c.MemoryMaxMHz = opt(h.GetMaxClockInfo, nvml.CLOCK_MEM)
	return c, nil
}

func (d *Device) Utilization() (gpu.Utilization, error) {
	h, err := d.dev("utilization")
	if err != nil {
		return gpu.Utilization{}, err
	}
	rates, ret := h.GetUtilizationRates()
	if err := queryError("utilization", ret); err != nil {
		return gpu.Utilization{}, err
	}
	u := gpu.Utilization{GPU: float64(rates.Gpu), Memory: float64(rates.Memory)}
	if v, _, ret := h.GetEncoderUtilization(); ok(ret) {
		u.Encoder = gpu.Ptr(float64(v))
	}
	if v, _, ret := h.GetDecoderUtilization(); ok(ret) {
		u.Decoder = gpu.Ptr(float64(v))
	}
	return u, nil
}

func (d *Device) Memory() (gpu.Memory, error) {
	h, err := d.dev("memory")
	if err != nil {
		return gpu.Memory{}, err
	}
	mem, ret := h.GetMemoryInfo()
	if err := queryError("memory", ret); err != nil {
		return gpu.Memory{}, err
	}
	return gpu.NewMemory(mem.Total, mem.Used), nil
}

func (d *Device) FanSpeed() (gpu.FanSpeed, error) {
	h, err := d.dev("fan speed")
	if err != nil {
		return gpu.FanSpeed{}, err
	}
	pct, ret := h.GetFanSpeed()
	if err := queryError("fan speed", ret); err != nil {
		return gpu.FanSpeed{}, err
	}
	return gpu.FanSpeed{Percent: gpu.Opt32(pct)}, nil
}

func (d *Device) PerformanceState() (gpu.PerformanceState, error) {
	h, err := d.dev("performance state")
	if err != nil {
		return "", err
	}
	ps, ret := h.GetPerformanceState()
	if err := queryError("performance state", ret); err != nil {
		return "", err
	}
	if ps == nvml.PSTATE_UNKNOWN {
		return "", gpu.QueryFailed("performance state", errors.New("unknown pstate"))
	}
	return gpu.PerformanceState(fmt.Sprintf("P%d", ps)), nil
}

// Processes merges the compute, MPS and graphics lists. A pid present in
// both kinds is Mixed; its memory is the largest reported value.
func (d *Device) Processes() ([]gpu.GpuProcess, error) {
	h, err := d.dev("processes")
	if err != nil {
		return nil, err
	}

	byPID := make(map[uint32]*gpu.GpuProcess)
	var order []uint32
	add := func(list []nvml.ProcessInfo, typ gpu.ProcessType) {
		for _, info := range list {
			p, seen := byPID[info.Pid]
			if !seen {
				p = &gpu.GpuProcess{PID: info.Pid, Type: gpu.ProcessUnknown}
				byPID[info.Pid] = p
				order = append(order, info.Pid)
			}
			p.Type = p.Type.Merge(typ)
			if mem := gpu.Opt64(info.UsedGpuMemory); mem != nil && (p.MemoryBytes == nil || *mem > *p.MemoryBytes) {
				p.MemoryBytes = mem
			}
		}
	}

	compute, cret := h.GetComputeRunningProcesses()
	graphics, gret := h.GetGraphicsRunningProcesses()
	if !ok(cret) && !ok(gret) {
		return nil, queryError("processes", cret)
	}
	add(compute, gpu.ProcessCompute)
	if mps, ret := h.GetMPSComputeRunningProcesses(); ok(ret) {
		add(mps, gpu.ProcessCompute)
	}
	add(graphics, gpu.ProcessGraphics)

	procs := make([]gpu.GpuProcess, 0, len(order))
	for _, pid := range order {
		procs = append(procs, *byPID[pid])
	}
	sort.Slice(procs, func(i, j int) bool { return procs[i].PID < procs[j].PID })
	return procs, nil
}
