package nvidia

import (
	"math"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

type fakeLibrary struct {
	initRet   nvml.Return
	devices   []*fakeDevice
	badHandle map[int]bool
	inits     int
	shutdowns int
}

func (l *fakeLibrary) Init() nvml.Return {
	l.inits++
	return l.initRet
}

func (l *fakeLibrary) Shutdown() nvml.Return {
	l.shutdowns++
	return nvml.SUCCESS
}

func (l *fakeLibrary) DeviceGetCount() (int, nvml.Return) { return len(l.devices), nvml.SUCCESS }

func (l *fakeLibrary) DeviceGetHandleByIndex(i int) (NVMLDevice, nvml.Return) {
	if l.badHandle[i] {
		return nil, nvml.ERROR_UNKNOWN
	}
	return l.devices[i], nvml.SUCCESS
}

func (l *fakeLibrary) SystemGetDriverVersion() (string, nvml.Return) { return "550.54.15", nvml.SUCCESS }

// fakeDevice answers every query from its fields; unsupported marks
// queries that return ERROR_NOT_SUPPORTED.
type fakeDevice struct {
	name        string
	tempC       uint32
	powerMW     uint32
	limitMW     uint32
	minMW       uint32
	maxMW       uint32
	util        nvml.Utilization
	mem         nvml.Memory
	fan         uint32
	pstate      nvml.Pstates
	compute     []nvml.ProcessInfo
	graphics    []nvml.ProcessInfo
	nvlinks     int
	computeMode nvml.ComputeMode
	persistence nvml.EnableState
	unsupported map[string]bool

	lockedMin, lockedMax uint32
	setLimit             uint32
	setRet               nvml.Return
}

func newFakeDevice(name string) *fakeDevice {
	return &fakeDevice{
		name:        name,
		tempC:       64,
		powerMW:     215000,
		limitMW:     300000,
		minMW:       100000,
		maxMW:       350000,
		util:        nvml.Utilization{Gpu: 87, Memory: 40},
		mem:         nvml.Memory{Total: 24 << 30, Used: 6 << 30, Free: 18 << 30},
		fan:         55,
		pstate:      nvml.PSTATE_2,
		computeMode: nvml.COMPUTEMODE_DEFAULT,
		persistence: nvml.FEATURE_ENABLED,
		unsupported: map[string]bool{},
	}
}

func (f *fakeDevice) ret(op string) nvml.Return {
	if f.unsupported[op] {
		return nvml.ERROR_NOT_SUPPORTED
	}
	return nvml.SUCCESS
}

func (f *fakeDevice) GetName() (string, nvml.Return) { return f.name, f.ret("name") }
func (f *fakeDevice) GetUUID() (string, nvml.Return) {
	return "GPU-5f1c0d6e-0000-0000-0000-000000000000", f.ret("uuid")
}
func (f *fakeDevice) GetVbiosVersion() (string, nvml.Return) { return "94.02.71.00.01", f.ret("vbios") }
func (f *fakeDevice) GetPciInfo() (nvml.PciInfo, nvml.Return) {
	return nvml.PciInfo{Domain: 0, Bus: 0x41, Device: 0}, f.ret("pci")
}
func (f *fakeDevice) GetCudaComputeCapability() (int, int, nvml.Return) { return 8, 6, f.ret("cc") }
func (f *fakeDevice) GetNumGpuCores() (int, nvml.Return)                { return 10496, f.ret("cores") }

func (f *fakeDevice) GetTemperature(nvml.TemperatureSensors) (uint32, nvml.Return) {
	return f.tempC, f.ret("temperature")
}
func (f *fakeDevice) GetTemperatureThreshold(t nvml.TemperatureThresholds) (uint32, nvml.Return) {
	if t == nvml.TEMPERATURE_THRESHOLD_SHUTDOWN {
		return 98, f.ret("threshold")
	}
	return 93, f.ret("threshold")
}
func (f *fakeDevice) GetPowerUsage() (uint32, nvml.Return)           { return f.powerMW, f.ret("power") }
func (f *fakeDevice) GetPowerManagementLimit() (uint32, nvml.Return) { return f.limitMW, f.ret("limit") }
func (f *fakeDevice) GetPowerManagementDefaultLimit() (uint32, nvml.Return) {
	return f.limitMW, f.ret("limit")
}
func (f *fakeDevice) GetPowerManagementLimitConstraints() (uint32, uint32, nvml.Return) {
	return f.minMW, f.maxMW, f.ret("limit")
}
func (f *fakeDevice) GetEnforcedPowerLimit() (uint32, nvml.Return) { return f.limitMW, f.ret("limit") }
func (f *fakeDevice) GetClockInfo(t nvml.ClockType) (uint32, nvml.Return) {
	switch t {
	case nvml.CLOCK_GRAPHICS:
		return 1695, f.ret("clocks")
	case nvml.CLOCK_MEM:
		return 9751, f.ret("clocks")
	case nvml.CLOCK_SM:
		return 1695, f.ret("clocks")
	}
	return math.MaxUint32, f.ret("clocks")
}
func (f *fakeDevice) GetMaxClockInfo(nvml.ClockType) (uint32, nvml.Return) { return 2100, f.ret("clocks") }
func (f *fakeDevice) GetUtilizationRates() (nvml.Utilization, nvml.Return) {
	return f.util, f.ret("utilization")
}
func (f *fakeDevice) GetEncoderUtilization() (uint32, uint32, nvml.Return) {
	return 5, 167000, f.ret("encoder")
}
func (f *fakeDevice) GetDecoderUtilization() (uint32, uint32, nvml.Return) {
	return 0, 167000, f.ret("decoder")
}
func (f *fakeDevice) GetMemoryInfo() (nvml.Memory, nvml.Return) { return f.mem, f.ret("memory") }
func (f *fakeDevice) GetFanSpeed() (uint32, nvml.Return)        { return f.fan, f.ret("fan") }
func (f *fakeDevice) GetPerformanceState() (nvml.Pstates, nvml.Return) {
	return f.pstate, f.ret("pstate")
}

func (f *fakeDevice) GetCurrPcieLinkGeneration() (int, nvml.Return) { return 4, f.ret("pcie") }
func (f *fakeDevice) GetCurrPcieLinkWidth() (int, nvml.Return)      { return 16, f.ret("pcie") }
func (f *fakeDevice) GetMaxPcieLinkGeneration() (int, nvml.Return)  { return 4, f.ret("pcie") }
func (f *fakeDevice) GetMaxPcieLinkWidth() (int, nvml.Return)       { return 16, f.ret("pcie") }
func (f *fakeDevice) GetPcieThroughput(c nvml.PcieUtilCounter) (uint32, nvml.Return) {
	if c == nvml.PCIE_UTIL_TX_BYTES {
		return 2, f.ret("pcie")
	}
	return 3, f.ret("pcie")
}

func (f *fakeDevice) GetComputeRunningProcesses() ([]nvml.ProcessInfo, nvml.Return) {
	return f.compute, f.ret("processes")
}
func (f *fakeDevice) GetGraphicsRunningProcesses() ([]nvml.ProcessInfo, nvml.Return) {
	return f.graphics, f.ret("processes")
}
func (f *fakeDevice) GetMPSComputeRunningProcesses() ([]nvml.ProcessInfo, nvml.Return) {
	return nil, nvml.ERROR_NOT_SUPPORTED
}

func (f *fakeDevice) GetNvLinkState(link int) (nvml.EnableState, nvml.Return) {
	if link >= f.nvlinks {
		return 0, nvml.ERROR_INVALID_ARGUMENT
	}
	if link%2 == 1 {
		return nvml.FEATURE_DISABLED, nvml.SUCCESS
	}
	return nvml.FEATURE_ENABLED, nvml.SUCCESS
}
func (f *fakeDevice) GetMigMode() (int, int, nvml.Return) {
	return nvml.DEVICE_MIG_DISABLE, nvml.DEVICE_MIG_ENABLE, f.ret("mig")
}
func (f *fakeDevice) GetTotalEccErrors(t nvml.MemoryErrorType, c nvml.EccCounterType) (uint64, nvml.Return) {
	if t == nvml.MEMORY_ERROR_TYPE_CORRECTED && c == nvml.AGGREGATE_ECC {
		return 12, f.ret("ecc")
	}
	return 0, f.ret("ecc")
}
func (f *fakeDevice) GetComputeMode() (nvml.ComputeMode, nvml.Return) {
	return f.computeMode, f.ret("compute mode")
}
func (f *fakeDevice) GetPersistenceMode() (nvml.EnableState, nvml.Return) {
	return f.persistence, f.ret("persistence")
}

func (f *fakeDevice) SetPowerManagementLimit(mw uint32) nvml.Return {
	if f.setRet != nvml.SUCCESS {
		return f.setRet
	}
	f.setLimit = mw
	return nvml.SUCCESS
}
func (f *fakeDevice) SetGpuLockedClocks(lo, hi uint32) nvml.Return {
	f.lockedMin, f.lockedMax = lo, hi
	return f.setRet
}
func (f *fakeDevice) ResetGpuLockedClocks() nvml.Return {
	f.lockedMin, f.lockedMax = 0, 0
	return f.setRet
}
func (f *fakeDevice) SetComputeMode(m nvml.ComputeMode) nvml.Return {
	f.computeMode = m
	return f.setRet
}
func (f *fakeDevice) SetPersistenceMode(s nvml.EnableState) nvml.Return {
	f.persistence = s
	return f.setRet
}
