// Package intel reads Intel GPUs bound to the i915 or xe kernel drivers.
package intel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"GpuTelemetry/pkg/drm"
	"GpuTelemetry/pkg/gpu"
	"GpuTelemetry/pkg/logging"
	"GpuTelemetry/pkg/probing"
)

const (
	DriverI915 = "i915"
	DriverXe   = "xe"
)

var Drivers = []string{DriverI915, DriverXe}

type Options struct {
	Sys     probing.Root
	Proc    probing.Root
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

func (e *Enumerator) Vendor() gpu.Vendor { return gpu.VendorIntel }

func (e *Enumerator) Enumerate(ctx context.Context) ([]gpu.Device, error) {
	cards, err := drm.CardsFor(e.opts.Sys, gpu.VendorIntel)
	if err != nil {
		return nil, err
	}

	var devices []gpu.Device
	for _, card := range cards {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dev, err := newDevice(len(devices), card, e.opts)
		if err != nil {
			logging.WithComponent("intel").WithField("card", card.Name).WithError(err).Warn("skipping adapter")
			continue
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

// Device is one Intel adapter.
type Device struct {
	gpu.Unsupported

	index   int
	card    drm.Card
	driver  string
	sys     probing.Root
	hwmon   drm.Hwmon
	name    string
	scanner *drm.Scanner
	engines *drm.EngineMeter
	write   func(path, value string) error

	mu         sync.Mutex
	lastEnergy uint64
	lastAt     time.Time
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
	driver := card.Driver
	if driver != DriverXe {
		driver = DriverI915
	}
	d := &Device{
		index:   index,
		card:    card,
		driver:  driver,
		sys:     opts.Sys,
		scanner: opts.Scanner,
		engines: drm.NewEngineMeter(),
		write:   probing.WriteString,
	}
	d.hwmon, _ = drm.FindHwmon(card.DevicePath)
	d.name = DeviceName(card.DeviceID, driver)
	return d, nil
}

func (d *Device) attr(elem ...string) string {
	return filepath.Join(append([]string{d.card.DevicePath}, elem...)...)
}

// gtAttr is an i915 gt_* frequency file. i915 exposes them on the DRM card
// node, not on the PCI device.
func (d *Device) gtAttr(name string) string {
	return filepath.Join(d.card.Path, name)
}

func (d *Device) Vendor() gpu.Vendor            { return gpu.VendorIntel }
func (d *Device) Index() int                    { return d.index }
func (d *Device) Name() (string, error)         { return d.name, nil }
func (d *Device) UUID() (string, error)         { return "", gpu.NotSupported("uuid") }
func (d *Device) PCIInfo() (gpu.PCIInfo, error) { return d.card.PCIInfo() }
func (d *Device) Close() error                  { return nil }

// Driver is the bound kernel driver, i915 or xe.
func (d *Device) Driver() string { return d.driver }

func (d *Device) DriverVersion() (string, error) {
	v, err := probing.String(d.sys.Path("module", d.driver, "version"))
	if err != nil {
		return "", gpu.QueryFailed("driver version", err)
	}
	return v, nil
}

func (d *Device) Temperature() (gpu.Temperature, error) {
	if d.hwmon == "" {
		return gpu.Temperature{}, gpu.NotSupported("temperature")
	}
	pkg := d.hwmon.TempInput("pkg", 1)
	t := gpu.Temperature{Edge: d.hwmon.Celsius(pkg)}
	if vram := d.hwmon.TempInput("vram", 0); vram != "" {
		t.Memory = d.hwmon.Celsius(vram)
	}
	if t.Edge == nil && t.Memory == nil {
		return gpu.Temperature{}, gpu.QueryFailed("temperature", errors.New("no readable sensor"))
	}
	prefix := strings.TrimSuffix(pkg, "_input")
	th := gpu.TemperatureThresholds{
		Critical: d.hwmon.Celsius(prefix + "_crit"),
		Slowdown: d.hwmon.Celsius(prefix + "_max"),
	}
	if th != (gpu.TemperatureThresholds{}) {
		t.Thresholds = &th
	}
	return t, nil
}

// Power prefers an averaged or instantaneous sensor and otherwise derives
// draw from the energy counter between two calls.
func (d *Device) Power() (gpu.Power, error) {
	if d.hwmon == "" {
		return gpu.Power{}, gpu.NotSupported("power")
	}
	var p gpu.Power
	if w, err := d.hwmon.Watts("power1_average"); err == nil {
		p.CurrentW, p.AverageW = w, gpu.Ptr(w)
	} else if w, err := d.hwmon.Watts("power1_input"); err == nil {
		p.CurrentW = w
	} else {
		w, err := d.energyWatts(time.Now())
		if err != nil {
			return gpu.Power{}, err
		}
		p.CurrentW = w
	}
	if limit := d.limitAttr(); limit != "" {
		if w, err := d.hwmon.Watts(limit); err == nil {
			p.LimitW, p.EnforcedLimitW = w, w
		}
	}
	if w, err := d.hwmon.Watts("power1_rated_max"); err == nil {
		p.MaxLimitW = w
	}
	return p, nil
}

func (d *Device) energyWatts(now time.Time) (float64, error) {
	uj, err := d.hwmon.Uint("energy1_input")
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	prev, prevAt := d.lastEnergy, d.lastAt
	d.lastEnergy, d.lastAt = uj, now
	if prevAt.IsZero() || uj < prev || !now.After(prevAt) {
		return 0, gpu.QueryFailed("power", errors.New("energy counter needs a second sample"))
	}
	return float64(uj-prev) / 1e6 / now.Sub(prevAt).Seconds(), nil
}

// limitAttr is the sustained power limit file; i915 and xe name it
// power1_max, older hwmon drivers power1_cap.
func (d *Device) limitAttr() string {
	for _, attr := range []string{"power1_max", "power1_cap"} {
		if probing.Exists(d.hwmon.Path(attr)) {
			return attr
		}
	}
	return ""
}

func (d *Device) freqAttrs() (cur, ceiling, boost string) {
	if d.driver == DriverXe {
		return d.attr("tile0", "gt0", "freq0", "cur_freq"), d.attr("tile0", "gt0", "freq0", "max_freq"), ""
	}
	return d.gtAttr("gt_cur_freq_mhz"), d.gtAttr("gt_max_freq_mhz"), d.gtAttr("gt_boost_freq_mhz")
}

func (d *Device) Clocks() (gpu.Clocks, error) {
	curPath, maxPath, boostPath := d.freqAttrs()
	cur, err := probing.FileUint(curPath)
	if err != nil && d.driver == DriverXe {
		cur, err = probing.FileUint(d.attr("gt", "gt0", "freq0", "cur_freq"))
		maxPath = d.attr("gt", "gt0", "freq0", "max_freq")
	}
	if err != nil {
		return gpu.Clocks{}, gpu.QueryFailed("graphics clock", err)
	}
	c := gpu.Clocks{GraphicsMHz: uint32(cur)}
	if ceiling, err := probing.FileUint(maxPath); err == nil {
		c.GraphicsMaxMHz = gpu.Ptr(uint32(ceiling))
	}
	if boostPath != "" {
		if boost, err := probing.FileUint(boostPath); err == nil && (c.GraphicsMaxMHz == nil || uint32(boost) > *c.GraphicsMaxMHz) {
			c.GraphicsMaxMHz = gpu.Ptr(uint32(boost))
		}
	}
	return c, nil
}

// Utilization reports the busiest engine from fdinfo engine time. Before two
// process scans exist it falls back to the current/maximum frequency ratio.
func (d *Device) Utilization() (gpu.Utilization, error) {
	if eng, err := d.engines.Utilization(); err == nil {
		return gpu.Utilization{GPU: busiest(eng), Encoder: eng.Encoder, Decoder: eng.Decoder}, nil
	}
	c, err := d.Clocks()
	if err != nil {
		return gpu.Utilization{}, err
	}
	if c.GraphicsMaxMHz == nil || *c.GraphicsMaxMHz == 0 {
		return gpu.Utilization{}, gpu.QueryFailed("utilization", errors.New("no engine samples and no maximum frequency"))
	}
	pct := float64(c.GraphicsMHz) / float64(*c.GraphicsMaxMHz) * 100
	if pct > 100 {
		pct = 100
	}
	return gpu.Utilization{GPU: pct}, nil
}

func busiest(eng gpu.EngineInfo) float64 {
	var top float64
	for _, v := range []*float64{eng.Graphics, eng.Compute, eng.Encoder, eng.Decoder, eng.Copy} {
		if v != nil && *v > top {
			top = *v
		}
	}
	for _, v := range eng.VendorSpecific {
		if v > top {
			top = v
		}
	}
	return top
}

// Memory is only reported by discrete cards; integrated parts share
// system memory.
func (d *Device) Memory() (gpu.Memory, error) {
	total, err := probing.FileUint(d.attr("mem_info_vram_total"))
	if err != nil || total == 0 {
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
	return "", gpu.NotSupported("performance state")
}

func (d *Device) Processes() ([]gpu.GpuProcess, error) {
	procs, err := d.scanner.Processes(d.card.BusID)
	if err != nil {
		return nil, err
	}
	d.engines.Observe(procs, time.Now())
	return procs, nil
}

func (d *Device) PCIeLink() (gpu.PCIeInfo, error) { return d.card.PCIeLink() }

func (d *Device) EngineUtilization() (gpu.EngineInfo, error) { return d.engines.Utilization() }

func (d *Device) Static() gpu.StaticInfo {
	s := gpu.StaticInfo{Integrated: IsIntegrated(d.name)}
	if entries, err := os.ReadDir(filepath.Join(d.card.Path, "engine")); err == nil && len(entries) > 0 {
		s.NumEngines = gpu.Ptr(uint32(len(entries)))
	}
	return s
}

// SetPowerLimit writes the sustained power limit in microwatts.
func (d *Device) SetPowerLimit(watts float64) error {
	limit := ""
	if d.hwmon != "" {
		limit = d.limitAttr()
	}
	if limit == "" {
		return gpu.NotSupported("set power limit")
	}
	if watts <= 0 {
		return gpu.InvalidArgument("set power limit", fmt.Errorf("%.1f W is not positive", watts))
	}
	if err := probing.WriteString(d.hwmon.Path(limit), fmt.Sprint(gpu.WattsToMicrowatts(watts))); err != nil {
		return gpu.WriteFailed("set power limit", err)
	}
	return nil
}

// LockGPUClocks pins the i915 frequency range through gt_min/gt_max.
func (d *Device) LockGPUClocks(minMHz, maxMHz uint32) error {
	if d.driver != DriverI915 {
		return gpu.NotSupported("lock gpu clocks")
	}
	if minMHz == 0 || minMHz > maxMHz {
		return gpu.InvalidArgument("lock gpu clocks", fmt.Errorf("range %d-%d MHz", minMHz, maxMHz))
	}
	// i915 rejects a max below the current min and a min above the current
	// max, so lowering the range moves the floor first.
	writes := []struct {
		attr string
		mhz  uint32
	}{{"gt_max_freq_mhz", maxMHz}, {"gt_min_freq_mhz", minMHz}}
	if curMin, err := probing.FileUint(d.gtAttr("gt_min_freq_mhz")); err == nil && uint64(maxMHz) < curMin {
		writes[0], writes[1] = writes[1], writes[0]
	}
	for _, w := range writes {
		if err := d.write(d.gtAttr(w.attr), fmt.Sprint(w.mhz)); err != nil {
			return gpu.WriteFailed("lock gpu clocks", err)
		}
	}
	return nil
}

// ResetGPUClocks restores the hardware RPn..RP0 range.
func (d *Device) ResetGPUClocks() error {
	if d.driver != DriverI915 {
		return gpu.NotSupported("reset gpu clocks")
	}
	rpn, err := probing.FileUint(d.gtAttr("gt_RPn_freq_mhz"))
	if err != nil {
		return gpu.QueryFailed("reset gpu clocks", err)
	}
	rp0, err := probing.FileUint(d.gtAttr("gt_RP0_freq_mhz"))
	if err != nil {
		return gpu.QueryFailed("reset gpu clocks", err)
	}
	if err := d.write(d.gtAttr("gt_min_freq_mhz"), fmt.Sprint(rpn)); err != nil {
		return gpu.WriteFailed("reset gpu clocks", err)
	}
	if err := d.write(d.gtAttr("gt_max_freq_mhz"), fmt.Sprint(rp0)); err != nil {
		return gpu.WriteFailed("reset gpu clocks", err)
	}
	return nil
}
