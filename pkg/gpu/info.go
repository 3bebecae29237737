package gpu

import (
	"fmt"
	"math"

	"GpuTelemetry/pkg/logging"

	"github.com/sirupsen/logrus"
)

// StaticInfo is read once per device.
type StaticInfo struct {
	Index             int     `json:"index"`
	Vendor            Vendor  `json:"vendor"`
	Name              string  `json:"name"`
	PCIBusID          *string `json:"pci_bus_id,omitempty"`
	UUID              *string `json:"uuid,omitempty"`
	VBIOSVersion      *string `json:"vbios_version,omitempty"`
	DriverVersion     *string `json:"driver_version,omitempty"`
	ComputeCapability *string `json:"compute_capability,omitempty"`
	ShaderCores       *uint32 `json:"shader_cores,omitempty"`
	L2CacheBytes      *uint64 `json:"l2_cache,omitempty"`
	NumEngines        *uint32 `json:"num_engines,omitempty"`
	MemoryVendor      *string `json:"memory_vendor,omitempty"`
	Integrated        bool    `json:"integrated"`
}

type MemoryInfo struct {
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	Free        uint64  `json:"free"`
	Utilization float64 `json:"utilization"`
}

type ClockInfo struct {
	Graphics    *uint32 `json:"graphics,omitempty"`
	GraphicsMax *uint32 `json:"graphics_max,omitempty"`
	Memory      *uint32 `json:"memory,omitempty"`
	MemoryMax   *uint32 `json:"memory_max,omitempty"`
	SM          *uint32 `json:"sm,omitempty"`
	Video       *uint32 `json:"video,omitempty"`
}

type PowerInfo struct {
	DrawW         *float64 `json:"draw,omitempty"`
	LimitW        *float64 `json:"limit,omitempty"`
	DefaultLimitW *float64 `json:"default_limit,omitempty"`
	UsagePercent  *float64 `json:"usage_percent,omitempty"`
}

type ThermalInfo struct {
	Temperature         *int              `json:"temperature,omitempty"`
	MaxTemperature      *int              `json:"max_temperature,omitempty"`
	CriticalTemperature *int              `json:"critical_temperature,omitempty"`
	FanSpeed            *uint32           `json:"fan_speed,omitempty"`
	FanRPM              *uint32           `json:"fan_rpm,omitempty"`
	Status              TemperatureStatus `json:"status"`
}

type PCIeInfo struct {
	CurrentGen      *uint32  `json:"current_gen,omitempty"`
	MaxGen          *uint32  `json:"max_gen,omitempty"`
	CurrentWidth    *uint32  `json:"current_width,omitempty"`
	MaxWidth        *uint32  `json:"max_width,omitempty"`
	TxBytesPerSec   *uint64  `json:"tx_bytes_per_sec,omitempty"`
	RxBytesPerSec   *uint64  `json:"rx_bytes_per_sec,omitempty"`
	CurrentSpeedGTs *float64 `json:"current_speed,omitempty"`
}

// EngineInfo holds per-engine utilisation in percent.
type EngineInfo struct {
	Graphics       *float64           `json:"graphics,omitempty"`
	Compute        *float64           `json:"compute,omitempty"`
	Encoder        *float64           `json:"encoder,omitempty"`
	Decoder        *float64           `json:"decoder,omitempty"`
	Copy           *float64           `json:"copy,omitempty"`
	VendorSpecific map[string]float64 `json:"vendor_specific,omitempty"`
}

// DynamicInfo is re-read on every snapshot.
type DynamicInfo struct {
	Utilization      float64          `json:"utilization"`
	Memory           MemoryInfo       `json:"memory"`
	Clocks           ClockInfo        `json:"clocks"`
	Power            PowerInfo        `json:"power"`
	Thermal          ThermalInfo      `json:"thermal"`
	PCIe             PCIeInfo         `json:"pcie"`
	Engines          EngineInfo       `json:"engines"`
	PerformanceState PerformanceState `json:"performance_state,omitempty"`
	Processes        []GpuProcess     `json:"processes"`
}

// GpuInfo pairs one static and one dynamic snapshot. It is never mutated
// after Snapshot returns it.
type GpuInfo struct {
	Static  StaticInfo  `json:"static_info"`
	Dynamic DynamicInfo `json:"dynamic_info"`
}

// PCIeReporter is implemented by devices that report link speed and
// throughput beyond PCIInfo.
type PCIeReporter interface {
	PCIeLink() (PCIeInfo, error)
}

// EngineReporter is implemented by devices with per-engine utilisation.
type EngineReporter interface {
	EngineUtilization() (EngineInfo, error)
}

// Snapshot reads static and dynamic info of d. Sensors that fail to read are
// left empty. Only a failed name read or a released library fails the
// snapshot.
func Snapshot(d Device) (GpuInfo, error) {
	static, err := ReadStatic(d)
	if err != nil {
		return GpuInfo{}, err
	}
	dynamic, err := ReadDynamic(d)
	if err != nil {
		return GpuInfo{}, err
	}
	return GpuInfo{Static: static, Dynamic: dynamic}, nil
}

// absorb returns nil for errors that only make a field unavailable.
func absorb(d Device, err error) error {
	if err == nil {
		return nil
	}
	if IsUnavailable(err) {
		logging.WithComponent("gpu").WithFields(logrus.Fields{
			"vendor": d.Vendor(),
			"gpu":    d.Index(),
		}).WithError(err).Debug("sensor unavailable")
		return nil
	}
	return err
}

func ReadStatic(d Device) (StaticInfo, error) {
	var static StaticInfo
	if sd, ok := d.(StaticDetails); ok {
		static = sd.Static()
	}
	static.Index = d.Index()
	static.Vendor = d.Vendor()

	name, err := d.Name()
	if err != nil {
		return StaticInfo{}, fmt.Errorf("%s gpu %d: %w", d.Vendor(), d.Index(), err)
	}
	static.Name = name

	if pci, err := d.PCIInfo(); err == nil {
		static.PCIBusID = Ptr(pci.BusID)
	} else if err = absorb(d, err); err != nil {
		return StaticInfo{}, err
	}
	if uuid, err := d.UUID(); err == nil && uuid != "" {
		static.UUID = Ptr(uuid)
	} else if err = absorb(d, err); err != nil {
		return StaticInfo{}, err
	}
	if drv, err := d.DriverVersion(); err == nil && drv != "" {
		static.DriverVersion = Ptr(drv)
	} else if err = absorb(d, err); err != nil {
		return StaticInfo{}, err
	}
	return static, nil
}

func ReadDynamic(d Device) (DynamicInfo, error) {
	var dyn DynamicInfo
	var hard error
	keep := func(err error) bool {
		if err == nil {
			return true
		}
		if hard == nil {
			hard = absorb(d, err)
		}
		return false
	}

	if u, err := d.Utilization(); keep(err) {
		dyn.Utilization = u.GPU
		dyn.Engines.Encoder = u.Encoder
		dyn.Engines.Decoder = u.Decoder
	}
	if m, err := d.Memory(); keep(err) {
		dyn.Memory = MemoryInfo{Total: m.Total, Used: m.Used, Free: m.Free, Utilization: m.UtilizationPercent()}
	}
	if c, err := d.Clocks(); keep(err) {
		dyn.Clocks = ClockInfo{
			Graphics:    Ptr(c.GraphicsMHz),
			GraphicsMax: c.GraphicsMaxMHz,
			Memory:      Ptr(c.MemoryMHz),
			MemoryMax:   c.MemoryMaxMHz,
			SM:          c.SMMHz,
			Video:       c.VideoMHz,
		}
	}
	if p, err := d.Power(); keep(err) {
		dyn.Power = PowerInfo{DrawW: Ptr(p.CurrentW), UsagePercent: p.UsagePercent()}
		if p.LimitW > 0 {
			dyn.Power.LimitW = Ptr(p.LimitW)
		}
		if p.DefaultLimitW > 0 {
			dyn.Power.DefaultLimitW = Ptr(p.DefaultLimitW)
		}
	}
	dyn.Thermal.Status = TemperatureUnknown
	if t, err := d.Temperature(); keep(err) {
		dyn.Thermal.Temperature = roundC(t.Primary())
		dyn.Thermal.MaxTemperature = roundC(t.Max())
		if t.Thresholds != nil {
			crit := t.Thresholds.Critical
			if crit == nil {
				crit = t.Thresholds.Shutdown
			}
			dyn.Thermal.CriticalTemperature = roundC(crit)
		}
		dyn.Thermal.Status = t.Status()
	}
	if f, err := d.FanSpeed(); keep(err) {
		dyn.Thermal.FanSpeed = f.Percent
		dyn.Thermal.FanRPM = f.RPM
	}
	if ps, err := d.PerformanceState(); keep(err) {
		dyn.PerformanceState = ps
	}
	if pci, err := d.PCIInfo(); keep(err) {
		dyn.PCIe.CurrentGen = pci.PCIeGeneration
		dyn.PCIe.CurrentWidth = pci.PCIeLinkWidth
	}
	if pr, ok := d.(PCIeReporter); ok {
		if link, err := pr.PCIeLink(); keep(err) {
			dyn.PCIe = link
		}
	}
	if er, ok := d.(EngineReporter); ok {
		if eng, err := er.EngineUtilization(); keep(err) {
			if eng.Encoder == nil {
				eng.Encoder = dyn.Engines.Encoder
			}
			if eng.Decoder == nil {
				eng.Decoder = dyn.Engines.Decoder
			}
			dyn.Engines = eng
		}
	}
	if procs, err := d.Processes(); keep(err) {
		dyn.Processes = procs
	}
	if dyn.Processes == nil {
		dyn.Processes = []GpuProcess{}
	}
	if hard != nil {
		return DynamicInfo{}, fmt.Errorf("%s gpu %d: %w", d.Vendor(), d.Index(), hard)
	}
	return dyn, nil
}

func roundC(v *float64) *int {
	if v == nil {
		return nil
	}
	return Ptr(int(math.Round(*v)))
}
