package intel

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"GpuTelemetry/pkg/gpu"
	"GpuTelemetry/pkg/probing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func card(t *testing.T, sys probing.Root, name string, files map[string]string) string {
	t.Helper()
	dev := sys.Path("class", "drm", name, "device")
	for f, content := range files {
		write(t, filepath.Join(dev, f), content+"\n")
	}
	return dev
}

func i915Files() map[string]string {
	return map[string]string{
		"vendor":            "0x8086",
		"device":            "0x46a6",
		"class":             "0x030000",
		"uevent":            "DRIVER=i915\nPCI_SLOT_NAME=0000:00:02.0\n",
	}
}

// i915GtFiles live on the DRM card node next to engine/.
func i915GtFiles() map[string]string {
	return map[string]string{
		"gt_cur_freq_mhz":   "700",
		"gt_max_freq_mhz":   "1400",
		"gt_boost_freq_mhz": "1400",
		"gt_RPn_freq_mhz":   "100",
		"gt_RP0_freq_mhz":   "1400",
		"gt_min_freq_mhz":   "100",
	}
}

func TestEnumerationDeterminism(t *testing.T) {
	sys := probing.Root(t.TempDir())
	card(t, sys, "card0", i915Files())
	card(t, sys, "card1", map[string]string{"vendor": "0x1002", "class": "0x030000"})
	card(t, sys, "card2", map[string]string{"vendor": "0x1b36", "class": "0x030000"})

	devs, err := NewEnumerator(Options{Sys: sys, Proc: probing.Root(t.TempDir())}).Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, devs, 1)
	assert.Equal(t, 0, devs[0].Index())
	assert.Equal(t, gpu.VendorIntel, devs[0].Vendor())

	name, err := devs[0].Name()
	require.NoError(t, err)
	assert.Equal(t, "Intel UHD Graphics (Alder Lake)", name)
}

func TestSkipsNonDisplayIntelFunction(t *testing.T) {
	sys := probing.Root(t.TempDir())
	card(t, sys, "card0", map[string]string{"vendor": "0x8086", "class": "0x048000"})

	devs, err := NewEnumerator(Options{Sys: sys}).Enumerate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, devs)
}

func TestEnumerateCancelled(t *testing.T) {
	sys := probing.Root(t.TempDir())
	card(t, sys, "card0", i915Files())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEnumerator(Options{Sys: sys}).Enumerate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func newI915(t *testing.T) (*Device, string) {
	t.Helper()
	sys := probing.Root(t.TempDir())
	dev := card(t, sys, "card0", i915Files())
	for f, content := range i915GtFiles() {
		write(t, sys.Path("class", "drm", "card0", f), content+"\n")
	}
	hw := filepath.Join(dev, "hwmon", "hwmon1")
	write(t, filepath.Join(hw, "temp1_input"), "48000\n")
	write(t, filepath.Join(hw, "temp1_crit"), "105000\n")
	write(t, filepath.Join(hw, "power1_max"), "28000000\n")
	write(t, filepath.Join(hw, "energy1_input"), "1000000\n")
	write(t, sys.Path("module", "i915", "version"), "1.6.0\n")
	require.NoError(t, os.MkdirAll(sys.Path("class", "drm", "card0", "engine", "rcs0"), 0o755))
	require.NoError(t, os.MkdirAll(sys.Path("class", "drm", "card0", "engine", "vcs0"), 0o755))

	devs, err := NewEnumerator(Options{Sys: sys, Proc: probing.Root(t.TempDir())}).Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, devs, 1)
	return devs[0].(*Device), hw
}

func TestI915Sensors(t *testing.T) {
	d, _ := newI915(t)
	assert.Equal(t, DriverI915, d.Driver())

	drv, err := d.DriverVersion()
	require.NoError(t, err)
	assert.Equal(t, "1.6.0", drv)

	clocks, err := d.Clocks()
	require.NoError(t, err)
	assert.Equal(t, uint32(700), clocks.GraphicsMHz)
	assert.Equal(t, uint32(1400), *clocks.GraphicsMaxMHz)

	util, err := d.Utilization()
	require.NoError(t, err)
	assert.InDelta(t, 50.0, util.GPU, 1e-9)

	temp, err := d.Temperature()
	require.NoError(t, err)
	assert.InDelta(t, 48.0, *temp.Edge, 1e-9)
	assert.InDelta(t, 105.0, *temp.Thresholds.Critical, 1e-9)

	_, err = d.Memory()
	assert.ErrorIs(t, err, gpu.ErrNotSupported)
	_, err = d.UUID()
	assert.ErrorIs(t, err, gpu.ErrNotSupported)

	s := d.Static()
	assert.True(t, s.Integrated)
	assert.Equal(t, uint32(2), *s.NumEngines)
}

func TestEnergyDerivedPower(t *testing.T) {
	d, hw := newI915(t)
	start := time.Now()

	_, err := d.energyWatts(start)
	assert.ErrorIs(t, err, gpu.ErrQueryFailed)

	write(t, filepath.Join(hw, "energy1_input"), "6000000\n")
	w, err := d.energyWatts(start.Add(time.Second))
	require.NoError(t, err)
	assert.InDelta(t, 5.0, w, 1e-9)

	write(t, filepath.Join(hw, "power1_input"), "9500000\n")
	p, err := d.Power()
	require.NoError(t, err)
	assert.InDelta(t, 9.5, p.CurrentW, 1e-9)
	assert.InDelta(t, 28.0, p.LimitW, 1e-9)
}

func TestXeClocksAndMemory(t *testing.T) {
	sys := probing.Root(t.TempDir())
	dev := card(t, sys, "card1", map[string]string{
		"vendor":              "0x8086",
		"device":              "0x56a0",
		"class":               "0x030000",
		"mem_info_vram_total": "8589934592",
		"mem_info_vram_used":  "1073741824",
	})
	drvDir := sys.Path("bus", "pci", "drivers", "xe")
	require.NoError(t, os.MkdirAll(drvDir, 0o755))
	require.NoError(t, os.Symlink(drvDir, filepath.Join(dev, "driver")))
	write(t, filepath.Join(dev, "tile0", "gt0", "freq0", "cur_freq"), "2000\n")
	write(t, filepath.Join(dev, "tile0", "gt0", "freq0", "max_freq"), "2400\n")

	devs, err := NewEnumerator(Options{Sys: sys, Proc: probing.Root(t.TempDir())}).Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, devs, 1)
	d := devs[0].(*Device)
	assert.Equal(t, DriverXe, d.Driver())
	assert.False(t, d.Static().Integrated)

	clocks, err := d.Clocks()
	require.NoError(t, err)
	assert.Equal(t, uint32(2000), clocks.GraphicsMHz)
	assert.Equal(t, uint32(2400), *clocks.GraphicsMaxMHz)

	mem, err := d.Memory()
	require.NoError(t, err)
	assert.Equal(t, uint64(7516192768), mem.Free)

	assert.ErrorIs(t, d.LockGPUClocks(300, 1000), gpu.ErrNotSupported)
}

func TestLockAndResetClocks(t *testing.T) {
	d, _ := newI915(t)

	require.NoError(t, d.LockGPUClocks(300, 1200))
	v, _ := probing.String(filepath.Join(d.card.Path, "gt_min_freq_mhz"))
	assert.Equal(t, "300", v)
	v, _ = probing.String(filepath.Join(d.card.Path, "gt_max_freq_mhz"))
	assert.Equal(t, "1200", v)

	assert.ErrorIs(t, d.LockGPUClocks(900, 300), gpu.ErrInvalidArgument)

	require.NoError(t, d.ResetGPUClocks())
	v, _ = probing.String(filepath.Join(d.card.Path, "gt_min_freq_mhz"))
	assert.Equal(t, "100", v)
	v, _ = probing.String(filepath.Join(d.card.Path, "gt_max_freq_mhz"))
	assert.Equal(t, "1400", v)
}

func TestClockFilesOnCardNode(t *testing.T) {
	d, _ := newI915(t)
	assert.NoFileExists(t, filepath.Join(d.card.DevicePath, "gt_cur_freq_mhz"))
	require.NoError(t, d.LockGPUClocks(300, 1200))
	assert.NoFileExists(t, filepath.Join(d.card.DevicePath, "gt_max_freq_mhz"))
}

func TestLockClocksWriteOrder(t *testing.T) {
	d, _ := newI915(t)
	var order []string
	d.write = func(path, value string) error {
		order = append(order, filepath.Base(path)+"="+value)
		return probing.WriteString(path, value)
	}

	// raising: the ceiling moves before the floor.
	require.NoError(t, d.LockGPUClocks(300, 1400))
	assert.Equal(t, []string{"gt_max_freq_mhz=1400", "gt_min_freq_mhz=300"}, order)

	// lowering below the current floor of 300: the floor moves first.
	order = nil
	require.NoError(t, d.LockGPUClocks(200, 250))
	assert.Equal(t, []string{"gt_min_freq_mhz=200", "gt_max_freq_mhz=250"}, order)

	d.write = func(string, string) error { return os.ErrPermission }
	assert.ErrorIs(t, d.LockGPUClocks(200, 250), gpu.ErrPermissionDenied)
}

func TestSetPowerLimit(t *testing.T) {
	d, hw := newI915(t)
	require.NoError(t, d.SetPowerLimit(15))
	v, err := probing.String(filepath.Join(hw, "power1_max"))
	require.NoError(t, err)
	assert.Equal(t, "15000000", v)
	assert.ErrorIs(t, d.SetPowerLimit(0), gpu.ErrInvalidArgument)
}

func TestUtilizationFromEngineTime(t *testing.T) {
	d, _ := newI915(t)
	start := time.Now()
	d.engines.Observe([]gpu.GpuProcess{{PID: 1, EngineNs: map[string]uint64{"render": 0, "video": 0}}}, start)
	d.engines.Observe([]gpu.GpuProcess{{PID: 1, EngineNs: map[string]uint64{"render": 250_000_000, "video": 100_000_000}}}, start.Add(time.Second))

	util, err := d.Utilization()
	require.NoError(t, err)
	assert.InDelta(t, 25.0, util.GPU, 1e-9)
	assert.InDelta(t, 10.0, *util.Encoder, 1e-9)

	eng, err := d.EngineUtilization()
	require.NoError(t, err)
	assert.InDelta(t, 25.0, *eng.Graphics, 1e-9)
}

func TestDeviceName(t *testing.T) {
	assert.Equal(t, "Intel Arc A770", DeviceName(0x5690, DriverI915))
	assert.Equal(t, "Intel Graphics [0x1234] (xe)", DeviceName(0x1234, DriverXe))
	assert.False(t, IsIntegrated("Intel Data Center GPU Max"))
	assert.True(t, IsIntegrated("Intel Graphics [0x1234] (xe)"))
}
