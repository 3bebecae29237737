// Package nvidia reads NVIDIA GPUs through NVML.
package nvidia

import (
	"errors"

	"GpuTelemetry/pkg/gpu"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// NVMLDevice is the subset of nvml.Device this package calls.
type NVMLDevice interface {
	GetName() (string, nvml.Return)
	GetUUID() (string, nvml.Return)
	GetVbiosVersion() (string, nvml.Return)
	GetPciInfo() (nvml.PciInfo, nvml.Return)
	GetCudaComputeCapability() (int, int, nvml.Return)
	GetNumGpuCores() (int, nvml.Return)

	GetTemperature(nvml.TemperatureSensors) (uint32, nvml.Return)
	GetTemperatureThreshold(nvml.TemperatureThresholds) (uint32, nvml.Return)
	GetPowerUsage() (uint32, nvml.Return)
	GetPowerManagementLimit() (uint32, nvml.Return)
	GetPowerManagementDefaultLimit() (uint32, nvml.Return)
	GetPowerManagementLimitConstraints() (uint32, uint32, nvml.Return)
	GetEnforcedPowerLimit() (uint32, nvml.Return)
	GetClockInfo(nvml.ClockType) (uint32, nvml.Return)
	GetMaxClockInfo(nvml.ClockType) (uint32, nvml.Return)
	GetUtilizationRates() (nvml.Utilization, nvml.Return)
	GetEncoderUtilization() (uint32, uint32, nvml.Return)
	GetDecoderUtilization() (uint32, uint32, nvml.Return)
	GetMemoryInfo() (nvml.Memory, nvml.Return)
	GetFanSpeed() (uint32, nvml.Return)
	GetPerformanceState() (nvml.Pstates, nvml.Return)

	GetCurrPcieLinkGeneration() (int, nvml.Return)
	GetCurrPcieLinkWidth() (int, nvml.Return)
	GetMaxPcieLinkGeneration() (int, nvml.Return)
	GetMaxPcieLinkWidth() (int, nvml.Return)
	GetPcieThroughput(nvml.PcieUtilCounter) (uint32, nvml.Return)

	GetComputeRunningProcesses() ([]nvml.ProcessInfo, nvml.Return)
	GetGraphicsRunningProcesses() ([]nvml.ProcessInfo, nvml.Return)
	GetMPSComputeRunningProcesses() ([]nvml.ProcessInfo, nvml.Return)

	GetNvLinkState(int) (nvml.EnableState, nvml.Return)
	GetMigMode() (int, int, nvml.Return)
	GetTotalEccErrors(nvml.MemoryErrorType, nvml.EccCounterType) (uint64, nvml.Return)
	GetComputeMode() (nvml.ComputeMode, nvml.Return)
	GetPersistenceMode() (nvml.EnableState, nvml.Return)

	SetPowerManagementLimit(uint32) nvml.Return
	SetGpuLockedClocks(uint32, uint32) nvml.Return
	ResetGpuLockedClocks() nvml.Return
	SetComputeMode(nvml.ComputeMode) nvml.Return
	SetPersistenceMode(nvml.EnableState) nvml.Return
}

// Library is the process-wide part of NVML.
type Library interface {
	Init() nvml.Return
	Shutdown() nvml.Return
	DeviceGetCount() (int, nvml.Return)
	DeviceGetHandleByIndex(int) (NVMLDevice, nvml.Return)
	SystemGetDriverVersion() (string, nvml.Return)
}

type nvmlLibrary struct{}

// NVML returns the Library backed by libnvidia-ml.
func NVML() Library { return nvmlLibrary{} }

func (nvmlLibrary) Init() nvml.Return                             { return nvml.Init() }
func (nvmlLibrary) Shutdown() nvml.Return                         { return nvml.Shutdown() }
func (nvmlLibrary) DeviceGetCount() (int, nvml.Return)            { return nvml.DeviceGetCount() }
func (nvmlLibrary) SystemGetDriverVersion() (string, nvml.Return) { return nvml.SystemGetDriverVersion() }

func (nvmlLibrary) DeviceGetHandleByIndex(i int) (NVMLDevice, nvml.Return) {
	dev, ret := nvml.DeviceGetHandleByIndex(i)
	if !errors.Is(ret, nvml.SUCCESS) {
		return nil, ret
	}
	return dev, ret
}

func ok(ret nvml.Return) bool { return errors.Is(ret, nvml.SUCCESS) }

// queryError maps an NVML return code of a read.
func queryError(op string, ret nvml.Return) error {
	return mapReturn(op, ret, gpu.QueryFailed)
}

// controlError maps an NVML return code of a write.
func controlError(op string, ret nvml.Return) error {
	return mapReturn(op, ret, gpu.ControlFailed)
}

func mapReturn(op string, ret nvml.Return, fallback func(string, error) error) error {
	switch {
	case ok(ret):
		return nil
	case errors.Is(ret, nvml.ERROR_NOT_SUPPORTED), errors.Is(ret, nvml.ERROR_FUNCTION_NOT_FOUND):
		return gpu.NotSupported(op)
	case errors.Is(ret, nvml.ERROR_NO_PERMISSION):
		return gpu.PermissionDenied(op, ret)
	case errors.Is(ret, nvml.ERROR_INVALID_ARGUMENT):
		return gpu.InvalidArgument(op, ret)
	case errors.Is(ret, nvml.ERROR_UNINITIALIZED),
		errors.Is(ret, nvml.ERROR_LIBRARY_NOT_FOUND),
		errors.Is(ret, nvml.ERROR_DRIVER_NOT_LOADED):
		return gpu.InitializationFailed(op, ret)
	}
	return fallback(op, ret)
}
