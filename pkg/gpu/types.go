// Package gpu defines the vendor-neutral GPU data model and the Device
// contract implemented by each vendor backend.
package gpu

import (
	"fmt"
	"strings"
)

// Vendor identifies the GPU manufacturer behind a Device.
type Vendor int

const (
	VendorNvidia Vendor = iota
	VendorAmd
	VendorIntel
	VendorApple
)

var vendorNames = map[Vendor]string{
	VendorNvidia: "NVIDIA",
	VendorAmd:    "AMD",
	VendorIntel:  "Intel",
	VendorApple:  "Apple",
}

func (v Vendor) String() string {
	if s, ok := vendorNames[v]; ok {
		return s
	}
	return fmt.Sprintf("Vendor(%d)", int(v))
}

func (v Vendor) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

func (v *Vendor) UnmarshalText(b []byte) error {
	parsed, err := ParseVendor(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseVendor accepts vendor names case-insensitively.
func ParseVendor(s string) (Vendor, error) {
	for v, name := range vendorNames {
		if strings.EqualFold(s, name) {
			return v, nil
		}
	}
	return 0, InvalidArgument("parse vendor", fmt.Errorf("unknown vendor %q", s))
}

// PCIInfo is the bus location of an adapter.
type PCIInfo struct {
	Domain         uint32  `json:"domain"`
	Bus            uint8   `json:"bus"`
	Device         uint8   `json:"device"`
	Function       uint8   `json:"function"`
	BusID          string  `json:"bus_id"`
	PCIeGeneration *uint32 `json:"pcie_generation,omitempty"`
	PCIeLinkWidth  *uint32 `json:"pcie_link_width,omitempty"`
}

// ParseBusID parses "DDDD:BB:DD.F" (the domain may be 4 or 8 hex digits).
func ParseBusID(s string) (PCIInfo, error) {
	var info PCIInfo
	var bus, dev, fn uint32
	if _, err := fmt.Sscanf(strings.ToLower(strings.TrimSpace(s)), "%x:%x:%x.%x", &info.Domain, &bus, &dev, &fn); err != nil {
		return PCIInfo{}, InvalidArgument("parse bus id", fmt.Errorf("%q: %w", s, err))
	}
	info.Bus, info.Device, info.Function = uint8(bus), uint8(dev), uint8(fn)
	info.BusID = fmt.Sprintf("%04x:%02x:%02x.%x", info.Domain, info.Bus, info.Device, info.Function)
	return info, nil
}

// TemperatureThresholds are vendor-programmed limits in °C.
type TemperatureThresholds struct {
	Slowdown       *float64 `json:"slowdown,omitempty"`
	Shutdown       *float64 `json:"shutdown,omitempty"`
	Critical       *float64 `json:"critical,omitempty"`
	MemoryCritical *float64 `json:"memory_critical,omitempty"`
}

// Temperature holds every sensor a vendor exposes, in °C.
type Temperature struct {
	Edge       *float64               `json:"edge,omitempty"`
	Junction   *float64               `json:"junction,omitempty"`
	Memory     *float64               `json:"memory,omitempty"`
	Hotspot    *float64               `json:"hotspot,omitempty"`
	Thresholds *TemperatureThresholds `json:"thresholds,omitempty"`
}

// Primary returns the most representative reading: junction, then hotspot,
// edge and memory.
func (t Temperature) Primary() *float64 {
	for _, v := range []*float64{t.Junction, t.Hotspot, t.Edge, t.Memory} {
		if v != nil {
			return v
		}
	}
	return nil
}

// Max returns the hottest sensor.
func (t Temperature) Max() *float64 {
	var max *float64
	for _, v := range []*float64{t.Edge, t.Junction, t.Memory, t.Hotspot} {
		if v != nil && (max == nil || *v > *max) {
			max = v
		}
	}
	return max
}

// TemperatureStatus classifies the primary reading against the thresholds.
type TemperatureStatus string

const (
	TemperatureNormal     TemperatureStatus = "Normal"
	TemperatureThrottling TemperatureStatus = "Throttling"
	TemperatureShutdown   TemperatureStatus = "Shutdown Warning"
	TemperatureCritical   TemperatureStatus = "Critical"
	TemperatureUnknown    TemperatureStatus = "Unknown"
)

func (t Temperature) Status() TemperatureStatus {
	temp := t.Primary()
	if temp == nil {
		return TemperatureUnknown
	}
	th := t.Thresholds
	if th == nil {
		return TemperatureNormal
	}
	switch {
	case th.Critical != nil && *temp >= *th.Critical:
		return TemperatureCritical
	case th.Shutdown != nil && *temp >= *th.Shutdown:
		return TemperatureShutdown
	case th.Slowdown != nil && *temp >= *th.Slowdown:
		return TemperatureThrottling
	}
	return TemperatureNormal
}

// Power readings and limits, in watts.
type Power struct {
	CurrentW       float64  `json:"current_w"`
	AverageW       *float64 `json:"average_w,omitempty"`
	LimitW         float64  `json:"limit_w"`
	DefaultLimitW  float64  `json:"default_limit_w"`
	MinLimitW      float64  `json:"min_limit_w"`
	MaxLimitW      float64  `json:"max_limit_w"`
	EnforcedLimitW float64  `json:"enforced_limit_w"`
}

// UsagePercent is the draw relative to the active limit, or nil without a limit.
func (p Power) UsagePercent() *float64 {
	if p.LimitW <= 0 {
		return nil
	}
	return Ptr(p.CurrentW / p.LimitW * 100)
}

// Clocks in MHz.
type Clocks struct {
	GraphicsMHz    uint32  `json:"graphics_mhz"`
	MemoryMHz      uint32  `json:"memory_mhz"`
	SMMHz          *uint32 `json:"sm_mhz,omitempty"`
	VideoMHz       *uint32 `json:"video_mhz,omitempty"`
	GraphicsMaxMHz *uint32 `json:"graphics_max_mhz,omitempty"`
	MemoryMaxMHz   *uint32 `json:"memory_max_mhz,omitempty"`
}

// Utilization percentages, 0-100.
type Utilization struct {
	GPU     float64  `json:"gpu"`
	Memory  float64  `json:"memory"`
	Encoder *float64 `json:"encoder,omitempty"`
	Decoder *float64 `json:"decoder,omitempty"`
}

// Memory sizes in bytes. Used never exceeds Total and Free is Total-Used.
type Memory struct {
	Total uint64 `json:"total"`
	Used  uint64 `json:"used"`
	Free  uint64 `json:"free"`
}

// NewMemory builds a consistent Memory value, clamping used to total.
func NewMemory(total, used uint64) Memory {
	if used > total {
		used = total
	}
	return Memory{Total: total, Used: used, Free: total - used}
}

func (m Memory) UtilizationPercent() float64 {
	if m.Total == 0 {
		return 0
	}
	return float64(m.Used) / float64(m.Total) * 100
}

// FanSpeed carries whichever unit the hardware reports.
type FanSpeed struct {
	RPM     *uint32 `json:"rpm,omitempty"`
	Percent *uint32 `json:"percent,omitempty"`
}

// PerformanceState is a vendor performance level such as "P0" or "auto".
type PerformanceState string

// ProcessType describes which engines a process was seen using.
type ProcessType string

const (
	ProcessCompute  ProcessType = "Compute"
	ProcessGraphics ProcessType = "Graphics"
	ProcessMixed    ProcessType = "Mixed"
	ProcessUnknown  ProcessType = "Unknown"
)

// Merge combines two observations of the same process.
func (p ProcessType) Merge(other ProcessType) ProcessType {
	switch {
	case p == "" || p == ProcessUnknown:
		return other
	case other == "" || other == ProcessUnknown || other == p:
		return p
	}
	return ProcessMixed
}

// GpuProcess is one process reported by a device.
type GpuProcess struct {
	PID         uint32            `json:"pid"`
	Name        string            `json:"name,omitempty"`
	User        string            `json:"user,omitempty"`
	Type        ProcessType       `json:"process_type"`
	MemoryBytes *uint64           `json:"memory_usage,omitempty"`
	EngineNs    map[string]uint64 `json:"engine_ns,omitempty"`
}

// ComputeMode is the NVIDIA compute sharing policy.
type ComputeMode string

const (
	ComputeModeDefault          ComputeMode = "Default"
	ComputeModeExclusiveThread  ComputeMode = "ExclusiveThread"
	ComputeModeProhibited       ComputeMode = "Prohibited"
	ComputeModeExclusiveProcess ComputeMode = "ExclusiveProcess"
)

// LinkState of an NVLink.
type LinkState string

const (
	LinkActive   LinkState = "Active"
	LinkInactive LinkState = "Inactive"
	LinkUnknown  LinkState = "Unknown"
)

type NvLinkStatus struct {
	LinkID uint32    `json:"link_id"`
	State  LinkState `json:"state"`
}

type MigMode struct {
	Current bool `json:"current"`
	Pending bool `json:"pending"`
}

type EccErrors struct {
	VolatileSingleBit  uint64 `json:"volatile_single_bit"`
	VolatileDoubleBit  uint64 `json:"volatile_double_bit"`
	AggregateSingleBit uint64 `json:"aggregate_single_bit"`
	AggregateDoubleBit uint64 `json:"aggregate_double_bit"`
}

// Ptr returns a pointer to a copy of v.
func Ptr[T any](v T) *T { return &v }
