package gpu

import "context"

// Device is one physical or virtual GPU. Vendor and Index never fail; every
// other read fails independently so a missing sensor never hides the rest.
type Device interface {
	Vendor() Vendor
	// Index is the vendor-local position assigned at enumeration.
	Index() int

	Name() (string, error)
	UUID() (string, error)
	PCIInfo() (PCIInfo, error)
	DriverVersion() (string, error)

	Temperature() (Temperature, error)
	Power() (Power, error)
	Clocks() (Clocks, error)
	Utilization() (Utilization, error)
	Memory() (Memory, error)
	FanSpeed() (FanSpeed, error)
	PerformanceState() (PerformanceState, error)
	Processes() ([]GpuProcess, error)

	NvLinkStatus() ([]NvLinkStatus, error)
	MigMode() (MigMode, error)
	EccErrors() (EccErrors, error)
	ComputeMode() (ComputeMode, error)
	PersistenceMode() (bool, error)

	SetPowerLimit(watts float64) error
	LockGPUClocks(minMHz, maxMHz uint32) error
	ResetGPUClocks() error
	SetComputeMode(mode ComputeMode) error
	SetPersistenceMode(enabled bool) error

	// Close releases vendor resources held by the device.
	Close() error
}

// StaticDetails is implemented by devices that know more about themselves
// than the Device contract asks for.
type StaticDetails interface {
	Static() StaticInfo
}

// Enumerator discovers the devices of one vendor. A missing driver or
// library yields no devices and no error.
type Enumerator interface {
	Vendor() Vendor
	Enumerate(ctx context.Context) ([]Device, error)
}

// Unsupported implements the optional and control parts of Device by
// reporting ErrNotSupported. Vendor backends embed it and override what
// their hardware provides.
type Unsupported struct{}

func (Unsupported) NvLinkStatus() ([]NvLinkStatus, error) { return nil, NotSupported("nvlink status") }
func (Unsupported) MigMode() (MigMode, error)             { return MigMode{}, NotSupported("mig mode") }
func (Unsupported) EccErrors() (EccErrors, error)         { return EccErrors{}, NotSupported("ecc errors") }
func (Unsupported) ComputeMode() (ComputeMode, error)     { return "", NotSupported("compute mode") }
func (Unsupported) PersistenceMode() (bool, error)        { return false, NotSupported("persistence mode") }
func (Unsupported) SetPowerLimit(float64) error           { return NotSupported("set power limit") }
func (Unsupported) LockGPUClocks(uint32, uint32) error    { return NotSupported("lock gpu clocks") }
func (Unsupported) ResetGPUClocks() error                 { return NotSupported("reset gpu clocks") }
func (Unsupported) SetComputeMode(ComputeMode) error      { return NotSupported("set compute mode") }
func (Unsupported) SetPersistenceMode(bool) error         { return NotSupported("set persistence mode") }
