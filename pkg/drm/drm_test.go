package drm

import (
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

func addCard(t *testing.T, sys probing.Root, name, vendor, class string) string {
	t.Helper()
	dev := sys.Path("class", "drm", name, "device")
	write(t, filepath.Join(dev, "vendor"), vendor+"\n")
	write(t, filepath.Join(dev, "class"), class+"\n")
	return dev
}

func TestScanCardsClassification(t *testing.T) {
	sys := probing.Root(t.TempDir())
	addCard(t, sys, "card0", "0x8086", "0x030000")
	addCard(t, sys, "card1", "0x1002", "0x030000")
	addCard(t, sys, "card2", "0x1234", "0x030000")
	write(t, sys.Path("class", "drm", "card0-DP-1", "status"), "connected\n")
	write(t, sys.Path("class", "drm", "renderD128", "dev"), "226:128\n")
	require.NoError(t, os.MkdirAll(sys.Path("class", "drm", "card3"), 0o755))

	cards, err := ScanCards(sys)
	require.NoError(t, err)
	require.Len(t, cards, 3)

	intel, err := CardsFor(sys, gpu.VendorIntel)
	require.NoError(t, err)
	require.Len(t, intel, 1)
	assert.Equal(t, "card0", intel[0].Name)

	amd, err := CardsFor(sys, gpu.VendorAmd)
	require.NoError(t, err)
	require.Len(t, amd, 1)
	assert.Equal(t, "card1", amd[0].Name)

	_, ok := Classify(cards[2])
	assert.False(t, ok)
}

func TestClassifyByDriverAndIntelClass(t *testing.T) {
	v, ok := Classify(Card{Driver: "xe"})
	require.True(t, ok)
	assert.Equal(t, gpu.VendorIntel, v)

	v, ok = Classify(Card{Driver: "amdgpu", VendorID: PCIVendorIntel})
	require.True(t, ok)
	assert.Equal(t, gpu.VendorAmd, v)

	_, ok = Classify(Card{VendorID: PCIVendorIntel, Class: 0x048000})
	assert.False(t, ok)
}

func TestScanCardsWithoutDrm(t *testing.T) {
	cards, err := ScanCards(probing.Root(t.TempDir()))
	require.NoError(t, err)
	assert.Empty(t, cards)
}

func TestDriverSymlinkAndPCI(t *testing.T) {
	sys := probing.Root(t.TempDir())
	pciDev := sys.Path("devices", "pci0000:00", "0000:03:00.0")
	write(t, filepath.Join(pciDev, "vendor"), "0x1002\n")
	write(t, filepath.Join(pciDev, "current_link_width"), "16\n")
	write(t, filepath.Join(pciDev, "current_link_speed"), "16.0 GT/s PCIe\n")
	drvDir := sys.Path("bus", "pci", "drivers", "amdgpu")
	require.NoError(t, os.MkdirAll(drvDir, 0o755))
	require.NoError(t, os.Symlink(drvDir, filepath.Join(pciDev, "driver")))
	require.NoError(t, os.MkdirAll(sys.Path("class", "drm", "card0"), 0o755))
	require.NoError(t, os.Symlink(pciDev, sys.Path("class", "drm", "card0", "device")))

	cards, err := ScanCards(sys)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "amdgpu", cards[0].Driver)
	assert.Equal(t, "0000:03:00.0", cards[0].BusID)

	pci, err := cards[0].PCIInfo()
	require.NoError(t, err)
	assert.Equal(t, uint32(16), *pci.PCIeLinkWidth)
	assert.Equal(t, uint32(4), *pci.PCIeGeneration)
}

func TestHwmon(t *testing.T) {
	dev := t.TempDir()
	hw := filepath.Join(dev, "hwmon", "hwmon2")
	write(t, filepath.Join(hw, "temp1_input"), "45000\n")
	write(t, filepath.Join(hw, "temp2_label"), "junction\n")
	write(t, filepath.Join(hw, "temp2_input"), "61000\n")
	write(t, filepath.Join(hw, "power1_average"), "35000000\n")
	write(t, filepath.Join(hw, "pwm1"), "64\n")

	h, ok := FindHwmon(dev)
	require.True(t, ok)
	assert.Equal(t, "temp2_input", h.TempInput("junction", 0))
	assert.Equal(t, "temp3_input", h.TempInput("mem", 3))
	assert.InDelta(t, 45.0, *h.Celsius("temp1_input"), 1e-9)
	assert.Nil(t, h.Celsius("temp9_input"))

	w, err := h.Watts("power1_average")
	require.NoError(t, err)
	assert.InDelta(t, 35.0, w, 1e-9)

	fan, err := h.Fan()
	require.NoError(t, err)
	assert.Nil(t, fan.RPM)
	assert.Equal(t, uint32(25), *fan.Percent)

	_, err = Hwmon("").Uint("temp1_input")
	assert.ErrorIs(t, err, gpu.ErrNotSupported)
}

const amdFdinfo = "pos:\t0\nflags:\t02100002\ndrm-driver:\tamdgpu\ndrm-pdev:\t0000:03:00.0\n" +
	"drm-client-id:\t33\ndrm-memory-vram:\t1048576 KiB\ndrm-memory-gtt: \t2048 KiB\n" +
	"drm-engine-gfx:\t0 ns\ndrm-engine-compute:\t9000 ns\n"

func TestParseFdinfo(t *testing.T) {
	c, ok := ParseFdinfo(amdFdinfo)
	require.True(t, ok)
	assert.Equal(t, "amdgpu", c.Driver)
	assert.Equal(t, "0000:03:00.0", c.PDev)
	assert.Equal(t, uint64(1<<30), c.VRAM)
	assert.Equal(t, uint64(2<<20), c.GTT)
	assert.Equal(t, gpu.ProcessCompute, c.ProcessType())
	assert.True(t, c.Active())

	_, ok = ParseFdinfo("pos:\t0\nflags:\t02\n")
	assert.False(t, ok)

	i915, ok := ParseFdinfo("drm-driver:\ti915\ndrm-client-id:\t4\ndrm-engine-render:\t100 ns\ndrm-engine-capacity-render:\t2\n")
	require.True(t, ok)
	assert.Equal(t, gpu.ProcessGraphics, i915.ProcessType())
	assert.False(t, i915.HasVRAM)
	assert.Len(t, i915.EngineNs, 1)
}

// amdgpu on 6.x kernels prints the standard keys and the legacy aliases.
const amdDualKeyFdinfo = "pos:\t0\nflags:\t02100002\nmnt_id:\t24\nino:\t1073\n" +
	"drm-driver:\tamdgpu\ndrm-client-id:\t51\ndrm-pdev:\t0000:03:00.0\ndrm-pasid:\t32771\n" +
	"drm-total-cpu:\t0\ndrm-shared-cpu:\t0\ndrm-active-cpu:\t0\ndrm-resident-cpu:\t0\ndrm-purgeable-cpu:\t0\n" +
	"drm-total-gtt:\t4096 KiB\ndrm-shared-gtt:\t0\ndrm-active-gtt:\t0\ndrm-resident-gtt:\t4096 KiB\n" +
	"drm-total-vram:\t1048576 KiB\ndrm-shared-vram:\t0\ndrm-active-vram:\t0\ndrm-resident-vram:\t1048576 KiB\n" +
	"drm-memory-vram:\t1048576 KiB\ndrm-memory-gtt: \t4096 KiB\ndrm-memory-cpu: \t0 KiB\n" +
	"amd-memory-visible-vram:\t1048576 KiB\namd-evicted-vram:\t0 KiB\n" +
	"drm-engine-gfx:\t1200 ns\ndrm-engine-compute:\t0 ns\n"

func TestParseFdinfoCountsOneKeyFamily(t *testing.T) {
	c, ok := ParseFdinfo(amdDualKeyFdinfo)
	require.True(t, ok)
	assert.Equal(t, uint64(1<<30), c.VRAM)
	assert.Equal(t, uint64(4<<20), c.GTT)
	assert.True(t, c.HasVRAM)

	// resident is used when total is absent.
	c, _ = ParseFdinfo("drm-driver:\txe\ndrm-resident-vram0:\t512 KiB\ndrm-memory-vram:\t9 MiB\n")
	assert.Equal(t, uint64(512<<10), c.VRAM)

	// i915 reports device memory as local regions.
	c, _ = ParseFdinfo("drm-driver:\ti915\ndrm-total-local0:\t2 MiB\ndrm-resident-local0:\t1 MiB\ndrm-total-system0:\t8 MiB\n")
	assert.Equal(t, uint64(2<<20), c.VRAM)
	assert.Zero(t, c.GTT)
}

func TestScannerAttributesAndCaches(t *testing.T) {
	proc := probing.Root(t.TempDir())
	write(t, proc.Path("4242", "comm"), "trainer\n")
	write(t, proc.Path("4242", "fdinfo", "5"), amdFdinfo)
	write(t, proc.Path("4242", "fdinfo", "6"), amdFdinfo)
	write(t, proc.Path("4242", "fdinfo", "7"), "drm-driver:\tamdgpu\ndrm-pdev:\t0000:04:00.0\ndrm-client-id:\t40\ndrm-engine-gfx:\t500 ns\n")
	write(t, proc.Path("100", "fdinfo", "0"), "pos:\t0\n")
	write(t, proc.Path("self", "fdinfo", "0"), amdFdinfo)

	s := NewScanner(ScannerOptions{Proc: proc, Drivers: []string{"amdgpu"}, RescanEvery: 100})

	procs, err := s.Processes("0000:03:00.0")
	require.NoError(t, err)
	require.Len(t, procs, 1)
	assert.Equal(t, uint32(4242), procs[0].PID)
	assert.Equal(t, "trainer", procs[0].Name)
	assert.Equal(t, uint64(1<<30), *procs[0].MemoryBytes)
	assert.Equal(t, gpu.ProcessCompute, procs[0].Type)

	all, err := s.Processes("")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, gpu.ProcessMixed, all[0].Type)

	// pid 100 is cached as idle until its descriptor count changes.
	assert.Contains(t, s.idle, 100)
	write(t, proc.Path("100", "fdinfo", "1"), amdFdinfo)
	procs, err = s.Processes("0000:03:00.0")
	require.NoError(t, err)
	assert.Len(t, procs, 2)
	assert.NotContains(t, s.idle, 100)
}

func TestScannerConcurrentMatchesSequential(t *testing.T) {
	proc := probing.Root(t.TempDir())
	for _, pid := range []string{"10", "11", "12", "13"} {
		write(t, proc.Path(pid, "fdinfo", "3"), amdFdinfo)
	}
	seq, err := NewScanner(ScannerOptions{Proc: proc, Drivers: []string{"amdgpu"}}).Processes("")
	require.NoError(t, err)
	par, err := NewScanner(ScannerOptions{Proc: proc, Drivers: []string{"amdgpu"}, Concurrent: true}).Processes("")
	require.NoError(t, err)
	assert.Equal(t, seq, par)
	assert.Len(t, par, 4)
}

func TestScannerMissingProc(t *testing.T) {
	_, err := NewScanner(ScannerOptions{Proc: probing.Root(filepath.Join(t.TempDir(), "nope"))}).Processes("")
	assert.ErrorIs(t, err, gpu.ErrQueryFailed)
}

func BenchmarkScanner(b *testing.B) {
	s := NewScanner(ScannerOptions{Proc: "/proc", Drivers: []string{"amdgpu", "i915", "xe"}})
	for i := 0; i < b.N; i++ {
		s.Processes("")
	}
}

func TestEngineMeterUtilization(t *testing.T) {
	m := NewEngineMeter()
	_, err := m.Utilization()
	assert.ErrorIs(t, err, gpu.ErrQueryFailed)

	at := time.Unix(1000, 0)
	m.Observe([]gpu.GpuProcess{{PID: 1, EngineNs: map[string]uint64{"vcs": 0, "video": 0, "vecs": 0, "render": 0}}}, at)
	m.Observe([]gpu.GpuProcess{
		{PID: 1, EngineNs: map[string]uint64{"vcs": 700e6, "video": 600e6, "vecs": 500e6, "render": 250e6}},
		{PID: 2, EngineNs: map[string]uint64{"render": 900e6}},
	}, at.Add(time.Second))

	info, err := m.Utilization()
	require.NoError(t, err)
	assert.Equal(t, 100.0, *info.Encoder, "shared fields are clamped after summing")
	assert.InDelta(t, 25.0, *info.Graphics, 1e-9, "new pids contribute no delta")
	assert.Nil(t, info.Decoder)
	assert.InDelta(t, 50.0, info.VendorSpecific["vecs"], 1e-9)
}
