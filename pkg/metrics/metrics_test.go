package metrics

import (
	"strings"
	"testing"
	"time"

	"GpuTelemetry/pkg/collecting"
	"GpuTelemetry/pkg/gpu"
	"GpuTelemetry/pkg/health"
	"GpuTelemetry/pkg/process"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() *collecting.DynamicMetrics {
	var a100 gpu.GpuInfo
	a100.Static = gpu.StaticInfo{Index: 0, Vendor: gpu.VendorNvidia, Name: "A100"}
	a100.Dynamic.Utilization = 87
	a100.Dynamic.Memory = gpu.MemoryInfo{Total: 80 << 30, Used: 20 << 30}
	a100.Dynamic.Thermal.Temperature = gpu.Ptr(64)
	a100.Dynamic.Power.DrawW = gpu.Ptr(250.5)
	a100.Dynamic.Clocks.Graphics = gpu.Ptr(uint32(1410))

	var arc gpu.GpuInfo
	arc.Static = gpu.StaticInfo{Index: 1, Vendor: gpu.VendorIntel, Name: "Arc A770"}

	return &collecting.DynamicMetrics{
		CPUIdlePercent:    gpu.Ptr(75.0),
		MemoryTotal:       100,
		MemoryUsedPercent: 42,
		ProcessCount:      310,
		Gpus:              []gpu.GpuInfo{a100, arc},
		Processes: []process.Info{
			{PID: 4242, Name: "python", GPUMemoryPerDevice: map[int]uint64{0: 1 << 30}},
		},
		Health: &health.SystemHealth{
			Score: 75,
			Checks: []health.Check{
				{Name: "CPU Usage", Category: health.CategoryCPU, Status: health.StatusHealthy},
				{Name: "GPU0 Temperature", Category: health.CategoryGPU, Status: health.StatusWarning},
			},
		},
	}
}

func TestNewMetricsUsesCustomRegistry(t *testing.T) {
	m := NewMetrics()
	m.HealthScore.Set(1)

	families, err := m.Registry.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	defaults, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	own := map[string]bool{}
	for _, f := range families {
		assert.True(t, strings.HasPrefix(f.GetName(), "gputel_"), f.GetName())
		own[f.GetName()] = true
	}
	for _, f := range defaults {
		assert.False(t, own[f.GetName()], "%s leaked into the default registry", f.GetName())
	}
}

func TestObserve(t *testing.T) {
	m := NewMetrics()
	m.Observe(sample(), 150*time.Millisecond)

	a100 := []string{"0", "NVIDIA", "A100"}
	assert.Equal(t, 87.0, testutil.ToFloat64(m.GpuUtilization.WithLabelValues(a100...)))
	assert.Equal(t, float64(20<<30), testutil.ToFloat64(m.GpuMemoryUsed.WithLabelValues(a100...)))
	assert.Equal(t, 64.0, testutil.ToFloat64(m.GpuTemperature.WithLabelValues(a100...)))
	assert.Equal(t, 250.5, testutil.ToFloat64(m.GpuPower.WithLabelValues(a100...)))
	assert.Equal(t, 1410.0, testutil.ToFloat64(m.GpuClock.WithLabelValues("0", "NVIDIA", "A100", "graphics")))

	assert.Equal(t, 2, testutil.CollectAndCount(m.GpuUtilization))
	assert.Equal(t, 1, testutil.CollectAndCount(m.GpuTemperature), "sensorless devices export no temperature")
	assert.Equal(t, 1, testutil.CollectAndCount(m.GpuClock))

	assert.Equal(t, float64(1<<30), testutil.ToFloat64(m.ProcessGpuMemory.WithLabelValues("4242", "python", "0")))
	assert.Equal(t, 310.0, testutil.ToFloat64(m.ProcessCount))
	assert.Equal(t, 75.0, testutil.ToFloat64(m.HostCPUIdle))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.HostMemoryPercent))

	assert.Equal(t, 75.0, testutil.ToFloat64(m.HealthScore))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.HealthCheckStatus.WithLabelValues("GPU0 Temperature", "GPU")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.CollectionDuration))
}

func TestObserveDropsVanishedSeries(t *testing.T) {
	m := NewMetrics()
	m.Observe(sample(), time.Millisecond)
	require.Equal(t, 2, testutil.CollectAndCount(m.GpuUtilization))

	m.Observe(&collecting.DynamicMetrics{}, time.Millisecond)
	assert.Zero(t, testutil.CollectAndCount(m.GpuUtilization))
	assert.Zero(t, testutil.CollectAndCount(m.ProcessGpuMemory))
	assert.Zero(t, testutil.CollectAndCount(m.HealthCheckStatus))
}

func TestStatusValue(t *testing.T) {
	assert.Equal(t, 0.0, StatusValue(health.StatusHealthy))
	assert.Equal(t, 1.0, StatusValue(health.StatusGood))
	assert.Equal(t, 2.0, StatusValue(health.StatusWarning))
	assert.Equal(t, 3.0, StatusValue(health.StatusCritical))
	assert.Equal(t, -1.0, StatusValue(health.StatusUnknown))
}
