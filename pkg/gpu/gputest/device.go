// Package gputest provides an in-memory gpu.Device for tests.
package gputest

import (
	"GpuTelemetry/pkg/gpu"
)

// Device returns canned values. A nil error field means the read succeeds;
// zero-value sensors without an error are reported as-is.
type Device struct {
	gpu.Unsupported

	VendorID gpu.Vendor
	Idx      int

	NameValue string
	NameErr   error
	UUIDValue string
	PCI       gpu.PCIInfo
	PCIErr    error
	Driver    string

	Temp       gpu.Temperature
	TempErr    error
	PowerValue gpu.Power
	PowerErr   error
	ClockValue gpu.Clocks
	ClockErr   error
	Util       gpu.Utilization
	UtilErr    error
	Mem        gpu.Memory
	MemErr     error
	Fan        gpu.FanSpeed
	FanErr     error
	PState     gpu.PerformanceState
	PStateErr  error
	Procs      []gpu.GpuProcess
	ProcsErr   error

	ProcessCalls int
	Closed       bool
}

func (d *Device) Vendor() gpu.Vendor { return d.VendorID }
func (d *Device) Index() int         { return d.Idx }

func (d *Device) Name() (string, error) {
	if d.NameErr != nil {
		return "", d.NameErr
	}
	if d.NameValue == "" {
		return "Fake GPU", nil
	}
	return d.NameValue, nil
}

func (d *Device) UUID() (string, error) {
	if d.UUIDValue == "" {
		return "", gpu.NotSupported("uuid")
	}
	return d.UUIDValue, nil
}

func (d *Device) PCIInfo() (gpu.PCIInfo, error) { return d.PCI, orUnsupported(d.PCIErr, d.PCI.BusID == "") }

func (d *Device) DriverVersion() (string, error) {
	if d.Driver == "" {
		return "", gpu.NotSupported("driver version")
	}
	return d.Driver, nil
}

func (d *Device) Temperature() (gpu.Temperature, error) { return d.Temp, d.TempErr }
func (d *Device) Power() (gpu.Power, error)             { return d.PowerValue, d.PowerErr }
func (d *Device) Clocks() (gpu.Clocks, error)           { return d.ClockValue, d.ClockErr }
func (d *Device) Utilization() (gpu.Utilization, error) { return d.Util, d.UtilErr }
func (d *Device) Memory() (gpu.Memory, error)           { return d.Mem, d.MemErr }
func (d *Device) FanSpeed() (gpu.FanSpeed, error)       { return d.Fan, d.FanErr }

func (d *Device) PerformanceState() (gpu.PerformanceState, error) { return d.PState, d.PStateErr }

func (d *Device) Processes() ([]gpu.GpuProcess, error) {
	d.ProcessCalls++
	if d.ProcsErr != nil {
		return nil, d.ProcsErr
	}
	out := make([]gpu.GpuProcess, len(d.Procs))
	copy(out, d.Procs)
	return out, nil
}

func (d *Device) Close() error {
	d.Closed = true
	return nil
}

func orUnsupported(err error, missing bool) error {
	if err != nil {
		return err
	}
	if missing {
		return gpu.NotSupported("pci info")
	}
	return nil
}

// Process is shorthand for a reported process using bytes of memory.
func Process(pid uint32, typ gpu.ProcessType, bytes uint64) gpu.GpuProcess {
	return gpu.GpuProcess{PID: pid, Type: typ, MemoryBytes: gpu.Ptr(bytes)}
}
