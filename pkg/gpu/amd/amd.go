// Package amd reads AMD GPUs through the amdgpu sysfs and hwmon interface.
package amd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"GpuTelemetry/pkg/drm"
	"GpuTelemetry/pkg/gpu"
	"GpuTelemetry/pkg/logging"
	"GpuTelemetry/pkg/probing"
)

// Drivers are the fdinfo driver tags owned by this backend.
var Drivers = []string{"amdgpu"}

type Options struct {
	Sys  probing.Root
	Proc probing.Root
	// Scanner is shared by every device of the enumeration. When nil one is
	// built from Proc.
	Scanner *drm.Scanner
}

type Enumerator struct {
	opts Options
}

func NewEnumerator(opts Options) *Enumerator {
	if opts.Sys == "" {
		opts.Sys = "/sys"
	}
	if opts.Proc == "" {
		opts.Proc = "/proc"
	}
	if opts.Scanner == nil {
		opts.Scanner = drm.NewScanner(drm.ScannerOptions{Proc: opts.Proc, Drivers: Drivers})
	}
	return &Enumerator{opts: opts}
}

func (e *Enumerator) Vendor() gpu.Vendor { return gpu.VendorAmd }

// Enumerate returns one Device per amdgpu card in scan order.
func (e *Enumerator) Enumerate(ctx context.Context) ([]gpu.Device, error) {
	cards, err := drm.CardsFor(e.opts.Sys, gpu.VendorAmd)
	if err != nil {
		return nil, err
	}

	log := logging.WithComponent("amd")
	var devices []gpu.Device
	for _, card := range cards {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dev, err := newDevice(len(devices), card, e.opts)
		if err != nil {
			log.WithField("card", card.Name).WithError(err).Warn("skipping adapter")
			continue
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

// Device is one amdgpu card.
type Device struct {
	gpu.Unsupported

	index   int
	card    drm.Card
	sys     probing.Root
	hwmon   drm.Hwmon
	name    string
	scanner *drm.Scanner
	engines *drm.EngineMeter
}

var (
	_ gpu.Device        = (*Device)(nil)
	_ gpu.StaticDetails = (*Device)(nil)
	_ gpu.PCIeReporter  = (*Device)(nil)
)

func newDevice(index int, card drm.Card, opts Options) (*Device, error) {
	if !probing.IsDir(card.DevicePath) {
		return nil, gpu.QueryFailed("open "+card.Name, errors.New("device directory missing"))
	}
	d := &Device{
		index:   index,
		card:    card,
		sys:     opts.Sys,
		scanner: opts.Scanner,
		engines: drm.NewEngineMeter(),
	}
	d.hwmon, _ = drm.FindHwmon(card.DevicePath)
	d.name = readName(card, index)
	return d, nil
}

func readName(card drm.Card, index int) string {
	if name, err := probing.String(filepath.Join(card.DevicePath, "product_name")); err == nil && name != "" {
		return name
	}
	if kv, err := probing.FileKV(filepath.Join(card.DevicePath, "uevent"), "="); err == nil && kv["PCI_ID"] != "" {
		return fmt.Sprintf("AMD GPU [%s]", kv["PCI_ID"])
	}
	if card.DeviceID != 0 {
		return fmt.Sprintf("AMD GPU [%04X:%04X]", card.VendorID, card.DeviceID)
	}
	return fmt.Sprintf("AMD GPU %d", index)
}

func (d *Device) attr(name string) string { return filepath.Join(d.card.DevicePath, name) }

func (d *Device) Vendor() gpu.Vendor            { return gpu.VendorAmd }
func (d *Device) Index() int                    { return d.index }
func (d *Device) Name() (string, error)         { return d.name, nil }
func (d *Device) PCIInfo() (gpu.PCIInfo, error) { return d.card.PCIInfo() }
func (d *Device) Close() error                  { return nil }

func (d *Device) UUID() (string, error) {
	id, err := probing.String(d.attr("unique_id"))
	if err != nil || id == "" {
		return "", gpu.NotSupported("uuid")
	}
	return id, nil
}

func (d *Device) DriverVersion() (string, error) {
	v, err := probing.String(d.sys.Path("module", "amdgpu", "version"))
	if err != nil {
		return "", gpu.QueryFailed("driver version", err)
	}
	return v, nil
}

func (d *Device) Temperature() (gpu.Temperature, error) {
	if d.hwmon == "" {
		return gpu.Temperature{}, gpu.NotSupported("temperature")
	}
	edge := d.hwmon.TempInput("edge", 1)
	t := gpu.Temperature{
		Edge:     d.hwmon.Celsius(edge),
		Junction: d.hwmon.Celsius(d.hwmon.TempInput("junction", 0)),
		Memory:   d.hwmon.Celsius(d.hwmon.TempInput("mem", 0)),
	}
	if t.Edge == nil && t.Junction == nil && t.Memory == nil {
		return gpu.Temperature{}, gpu.QueryFailed("temperature", errors.New("no readable sensor"))
	}

	prefix := strings.TrimSuffix(edge, "_input")
	th := gpu.TemperatureThresholds{
		Critical: d.hwmon.Celsius(prefix + "_crit"),
		Shutdown: d.hwmon.Celsius(prefix + "_emergency"),
	}
	if mem := d.hwmon.TempInput("mem", 0); mem != "" {
		th.MemoryCritical = d.hwmon.Celsius(strings.TrimSuffix(mem, "_input") + "_crit")
	}
	if th != (gpu.TemperatureThresholds{}) {
		t.Thresholds = &th
	}
	return t, nil
}

func (d *Device) Power() (gpu.Power, error) {
	if d.hwmon == "" {
		return gpu.Power{}, gpu.NotSupported("power")
	}
	var p gpu.Power
	avg, err := d.hwmon.Watts("power1_average")
	if err == nil {
		p.CurrentW = avg
		p.AverageW = gpu.Ptr(avg)
	} else if p.CurrentW, err = d.hwmon.Watts("power1_input"); err != nil {
		return gpu.Power{}, err
	}
	if limit, err := d.hwmon.Watts("power1_cap"); err == nil {
		p.LimitW = limit
		p.EnforcedLimitW = limit
	}
	if v, err := d.hwmon.Watts("power1_cap_default"); err == nil {
		p.DefaultLimitW = v
	}
	if v, err := d.hwmon.Watts("power1_cap_min"); err == nil {
		p.MinLimitW = v
	}
	if v, err := d.hwmon.Watts("power1_cap_max"); err == nil {
		p.MaxLimitW = v
	}
	return p, nil
}

func (d *Device) Clocks() (gpu.Clocks, error) {
	var c gpu.Clocks
	gfx, gfxMax, okGfx := d.dpmClock("pp_dpm_sclk", "freq1_input")
	mem, memMax, okMem := d.dpmClock("pp_dpm_mclk", "freq2_input")
	if !okGfx && !okMem {
		return c, gpu.QueryFailed("clocks", errors.New("no dpm table or frequency sensor"))
	}
	c.GraphicsMHz, c.GraphicsMaxMHz = gfx, gfxMax
	c.MemoryMHz, c.MemoryMaxMHz = mem, memMax
	return c, nil
}

// dpmClock reads the active level of a pp_dpm table and falls back to the
// hwmon frequency sensor, reported in Hz.
func (d *Device) dpmClock(table, sensor string) (uint32, *uint32, bool) {
	if lines, err := probing.FileLines(d.attr(table)); err == nil {
		if cur, top, ok := ParseDPM(lines); ok {
			return cur, gpu.Ptr(top), true
		}
	}
	if hz, err := d.hwmon.Uint(sensor); err == nil {
		return gpu.HzToMHz(hz), nil, true
	}
	return 0, nil, false
}

// ParseDPM reads a table such as
//
//	0: 500Mhz
//	1: 1800Mhz *
//
// returning the starred level and the highest level.
func ParseDPM(lines []string) (cur, top uint32, ok bool) {
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		mhz, err := probing.ParseUint64(strings.TrimSuffix(strings.ToLower(fields[1]), "mhz"))
		if err != nil {
			continue
		}
		if uint32(mhz) > top {
			top = uint32(mhz)
		}
		if len(fields) > 2 && fields[2] == "*" {
			cur, ok = uint32(mhz), true
		}
	}
	return cur, top, ok
}

func (d *Device) Utilization() (gpu.Utilization, error) {
	busy, err := probing.FileUint(d.attr("gpu_busy_percent"))
	if err != nil {
		return gpu.Utilization{}, gpu.QueryFailed("gpu_busy_percent", err)
	}
	u := gpu.Utilization{GPU: float64(busy)}
	if mem, err := probing.FileUint(d.attr("mem_busy_percent")); err == nil {
		u.Memory = float64(mem)
	}
	return u, nil
}

func (d *Device) Memory() (gpu.Memory, error) {
	total, err := probing.FileUint(d.attr("mem_info_vram_total"))
	if err != nil {
		return gpu.Memory{}, gpu.QueryFailed("mem_info_vram_total", err)
	}
	if total == 0 {
		return gpu.Memory{}, gpu.NotSupported("vram")
	}
	used, err := probing.FileUint(d.attr("mem_info_vram_used"))
	if err != nil {
		return gpu.Memory{}, gpu.QueryFailed("mem_info_vram_used", err)
	}
	return gpu.NewMemory(total, used), nil
}

func (d *Device) FanSpeed() (gpu.FanSpeed, error) {
	if d.hwmon == "" {
		return gpu.FanSpeed{}, gpu.NotSupported("fan speed")
	}
	return d.hwmon.Fan()
}

func (d *Device) PerformanceState() (gpu.PerformanceState, error) {
	level, err := probing.String(d.attr("power_dpm_force_performance_level"))
	if err != nil {
		return "", gpu.QueryFailed("performance level", err)
	}
	return gpu.PerformanceState(level), nil
}

// Processes attributes amdgpu fdinfo clients on this card's PCI address.
func (d *Device) Processes() ([]gpu.GpuProcess, error) {
	procs, err := d.scanner.Processes(d.card.BusID)
	if err != nil {
		return nil, err
	}
	d.engines.Observe(procs, time.Now())
	return procs, nil
}

// PCIeLink implements gpu.PCIeReporter.
func (d *Device) PCIeLink() (gpu.PCIeInfo, error) { return d.card.PCIeLink() }

// EngineUtilization implements gpu.EngineReporter from fdinfo engine time
// between the last two process scans, falling back to gpu_busy_percent for
// the graphics engine.
func (d *Device) EngineUtilization() (gpu.EngineInfo, error) {
	info, err := d.engines.Utilization()
	if err == nil {
		return info, nil
	}
	busy, berr := probing.FileUint(d.attr("gpu_busy_percent"))
	if berr != nil {
		return gpu.EngineInfo{}, err
	}
	return gpu.EngineInfo{Graphics: gpu.Ptr(float64(busy))}, nil
}

// Static implements gpu.StaticDetails.
func (d *Device) Static() gpu.StaticInfo {
	var s gpu.StaticInfo
	if v, err := probing.String(d.attr("vbios_version")); err == nil && v != "" {
		s.VBIOSVersion = gpu.Ptr(v)
	}
	if v, err := probing.String(d.attr("mem_info_vram_vendor")); err == nil && v != "" {
		s.MemoryVendor = gpu.Ptr(v)
	}
	s.Integrated = isAPU(d.name)
	return s
}

var apuNames = []string{"integrated", "radeon graphics", "renoir", "cezanne", "rembrandt", "phoenix", "raphael", "van gogh"}

func isAPU(name string) bool {
	lower := strings.ToLower(name)
	for _, n := range apuNames {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

// SetPowerLimit writes power1_cap, in microwatts.
func (d *Device) SetPowerLimit(watts float64) error {
	if d.hwmon == "" {
		return gpu.NotSupported("set power limit")
	}
	if watts <= 0 {
		return gpu.InvalidArgument("set power limit", fmt.Errorf("%.1f W is not positive", watts))
	}
	if lo, err := d.hwmon.Watts("power1_cap_min"); err == nil && watts < lo {
		return gpu.InvalidArgument("set power limit", fmt.Errorf("%.1f W below minimum %.1f W", watts, lo))
	}
	if hi, err := d.hwmon.Watts("power1_cap_max"); err == nil && hi > 0 && watts > hi {
		return gpu.InvalidArgument("set power limit", fmt.Errorf("%.1f W above maximum %.1f W", watts, hi))
	}
	value := fmt.Sprintf("%d", gpu.WattsToMicrowatts(watts))
	if err := probing.WriteString(d.hwmon.Path("power1_cap"), value); err != nil {
		return gpu.WriteFailed("set power limit", err)
	}
	logging.WithComponent("amd").WithField("card", d.card.Name).Infof("power cap set to %.1f W", watts)
	return nil
}
