package gpu_test

import (
	"errors"
	"math"
	"testing"

	"GpuTelemetry/pkg/gpu"
	"GpuTelemetry/pkg/gpu/gputest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKinds(t *testing.T) {
	cause := errors.New("read /sys/x: no such file")
	err := gpu.QueryFailed("temperature", cause)

	assert.ErrorIs(t, err, gpu.ErrQueryFailed)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, gpu.ErrNotSupported)
	assert.True(t, gpu.IsUnavailable(err))
	assert.Equal(t, "temperature: query failed: read /sys/x: no such file", err.Error())

	var ge *gpu.Error
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "temperature", ge.Op)

	assert.True(t, gpu.IsUnavailable(gpu.PermissionDenied("processes", nil)))
	assert.False(t, gpu.IsUnavailable(gpu.InitializationFailed("memory", nil)))
	assert.False(t, gpu.IsUnavailable(nil))
}

func TestUnsupportedDefaults(t *testing.T) {
	var u gpu.Unsupported
	_, err := u.MigMode()
	assert.ErrorIs(t, err, gpu.ErrNotSupported)
	assert.ErrorIs(t, u.SetPowerLimit(100), gpu.ErrNotSupported)
	assert.ErrorIs(t, u.LockGPUClocks(300, 1500), gpu.ErrNotSupported)
	assert.ErrorIs(t, u.SetComputeMode(gpu.ComputeModeDefault), gpu.ErrNotSupported)
}

func TestUnits(t *testing.T) {
	assert.InDelta(t, 45.5, gpu.MicrowattsToWatts(45_500_000), 1e-9)
	assert.Equal(t, uint32(250_000), gpu.WattsToMilliwatts(250))
	assert.Equal(t, uint32(1800), gpu.HzToMHz(1_800_000_000))
	assert.Equal(t, uint32(1200), gpu.KHzToMHz(1_200_000))
	assert.InDelta(t, 54.0, gpu.MillidegreesToCelsius(54000), 1e-9)
	assert.Equal(t, uint32(50), gpu.PWMToPercent(128, 255))
	assert.Equal(t, uint32(100), gpu.PWMToPercent(300, 0))
	assert.Nil(t, gpu.Opt32(math.MaxUint32))
	assert.Equal(t, uint32(7), *gpu.Opt32(7))
	assert.Nil(t, gpu.Opt64(math.MaxUint64))
}

func TestParseBusID(t *testing.T) {
	pci, err := gpu.ParseBusID("0000:03:00.0")
	require.NoError(t, err)
	assert.Equal(t, uint8(3), pci.Bus)
	assert.Equal(t, "0000:03:00.0", pci.BusID)

	pci, err = gpu.ParseBusID("00000000:65:00.0")
	require.NoError(t, err)
	assert.Equal(t, "0000:65:00.0", pci.BusID)

	_, err = gpu.ParseBusID("garbage")
	assert.ErrorIs(t, err, gpu.ErrInvalidArgument)
}

func TestMemoryInvariant(t *testing.T) {
	m := gpu.NewMemory(8<<30, 3<<30)
	assert.Equal(t, m.Total-m.Used, m.Free)
	assert.LessOrEqual(t, m.Used, m.Total)

	clamped := gpu.NewMemory(100, 250)
	assert.Equal(t, uint64(100), clamped.Used)
	assert.Equal(t, uint64(0), clamped.Free)
	assert.InDelta(t, 100.0, clamped.UtilizationPercent(), 1e-9)
	assert.Zero(t, gpu.Memory{}.UtilizationPercent())
}

func TestTemperatureStatus(t *testing.T) {
	temp := gpu.Temperature{
		Edge:     gpu.Ptr(70.0),
		Junction: gpu.Ptr(88.0),
		Thresholds: &gpu.TemperatureThresholds{
			Slowdown: gpu.Ptr(85.0),
			Shutdown: gpu.Ptr(95.0),
		},
	}
	assert.Equal(t, 88.0, *temp.Primary())
	assert.Equal(t, 88.0, *temp.Max())
	assert.Equal(t, gpu.TemperatureThrottling, temp.Status())

	assert.Equal(t, gpu.TemperatureUnknown, gpu.Temperature{}.Status())
	assert.Equal(t, gpu.TemperatureNormal, gpu.Temperature{Edge: gpu.Ptr(40.0)}.Status())
}

func TestProcessTypeMerge(t *testing.T) {
	assert.Equal(t, gpu.ProcessCompute, gpu.ProcessUnknown.Merge(gpu.ProcessCompute))
	assert.Equal(t, gpu.ProcessMixed, gpu.ProcessCompute.Merge(gpu.ProcessGraphics))
	assert.Equal(t, gpu.ProcessGraphics, gpu.ProcessGraphics.Merge(gpu.ProcessGraphics))
	assert.Equal(t, gpu.ProcessMixed, gpu.ProcessMixed.Merge(gpu.ProcessUnknown))
}

func TestVendorText(t *testing.T) {
	b, err := gpu.VendorAmd.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "AMD", string(b))

	var v gpu.Vendor
	require.NoError(t, v.UnmarshalText([]byte("intel")))
	assert.Equal(t, gpu.VendorIntel, v)
	assert.Error(t, v.UnmarshalText([]byte("matrox")))
}

func TestSnapshotAbsorbsSensorFailures(t *testing.T) {
	d := &gputest.Device{
		VendorID: gpu.VendorAmd,
		Idx:      1,
		Mem:      gpu.NewMemory(16<<30, 4<<30),
		TempErr:  gpu.QueryFailed("temperature", errors.New("no hwmon")),
		PowerErr: gpu.NotSupported("power"),
		Util:     gpu.Utilization{GPU: 42},
		Procs:    []gpu.GpuProcess{gputest.Process(10, gpu.ProcessCompute, 1024)},
	}

	info, err := gpu.Snapshot(d)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Static.Index)
	assert.Equal(t, gpu.VendorAmd, info.Static.Vendor)
	assert.Nil(t, info.Dynamic.Thermal.Temperature)
	assert.Equal(t, gpu.TemperatureUnknown, info.Dynamic.Thermal.Status)
	assert.Nil(t, info.Dynamic.Power.DrawW)
	assert.InDelta(t, 42.0, info.Dynamic.Utilization, 1e-9)
	assert.InDelta(t, 25.0, info.Dynamic.Memory.Utilization, 1e-9)
	assert.Len(t, info.Dynamic.Processes, 1)
}

func TestSnapshotFailsOnIdentityOrHardError(t *testing.T) {
	d := &gputest.Device{NameErr: gpu.QueryFailed("name", nil)}
	_, err := gpu.Snapshot(d)
	assert.ErrorIs(t, err, gpu.ErrQueryFailed)

	d = &gputest.Device{MemErr: gpu.InitializationFailed("memory", errors.New("library released"))}
	_, err = gpu.Snapshot(d)
	assert.ErrorIs(t, err, gpu.ErrInitializationFailed)
}

func TestSnapshotAbsorbsDeniedReads(t *testing.T) {
	d := &gputest.Device{
		Util:      gpu.Utilization{GPU: 7},
		PStateErr: gpu.PermissionDenied("performance state", nil),
		PCIErr:    gpu.InvalidArgument("pci", nil),
		ProcsErr:  gpu.PermissionDenied("processes", errors.New("NVML_ERROR_NO_PERMISSION")),
	}
	info, err := gpu.Snapshot(d)
	require.NoError(t, err)
	assert.Empty(t, info.Dynamic.PerformanceState)
	assert.Nil(t, info.Static.PCIBusID)
	assert.NotNil(t, info.Dynamic.Processes)
	assert.Empty(t, info.Dynamic.Processes)
	assert.InDelta(t, 7.0, info.Dynamic.Utilization, 1e-9)
}
