// Package metrics exposes collected GPU, process and health readings as
// Prometheus series on a private registry.
package metrics

import (
	"strconv"
	"time"

	"GpuTelemetry/pkg/collecting"
	"GpuTelemetry/pkg/gpu"
	"GpuTelemetry/pkg/health"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gputel"

var gpuLabels = []string{"gpu", "vendor", "name"}

// Metrics holds every exported series. Uses a custom registry to avoid
// polluting the global default.
type Metrics struct {
	Registry *prometheus.Registry

	GpuUtilization   *prometheus.GaugeVec
	GpuMemoryUsed    *prometheus.GaugeVec
	GpuMemoryTotal   *prometheus.GaugeVec
	GpuTemperature   *prometheus.GaugeVec
	GpuPower         *prometheus.GaugeVec
	GpuClock         *prometheus.GaugeVec
	ProcessGpuMemory *prometheus.GaugeVec

	HostCPUIdle       prometheus.Gauge
	HostMemoryPercent prometheus.Gauge
	ProcessCount      prometheus.Gauge

	HealthScore       prometheus.Gauge
	HealthCheckStatus *prometheus.GaugeVec

	CollectionDuration prometheus.Histogram
}

func gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels)
}

func gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		GpuUtilization:   gaugeVec("gpu_utilization_percent", "GPU core utilization.", gpuLabels...),
		GpuMemoryUsed:    gaugeVec("gpu_memory_used_bytes", "Device memory in use.", gpuLabels...),
		GpuMemoryTotal:   gaugeVec("gpu_memory_total_bytes", "Device memory size.", gpuLabels...),
		GpuTemperature:   gaugeVec("gpu_temperature_celsius", "Primary GPU temperature.", gpuLabels...),
		GpuPower:         gaugeVec("gpu_power_watts", "Current board power draw.", gpuLabels...),
		GpuClock:         gaugeVec("gpu_clock_mhz", "Current clock frequency.", append(append([]string{}, gpuLabels...), "clock")...),
		ProcessGpuMemory: gaugeVec("process_gpu_memory_bytes", "Device memory attributed to a process.", "pid", "name", "gpu"),

		HostCPUIdle:       gauge("host_cpu_idle_percent", "CPU idle share over the last interval."),
		HostMemoryPercent: gauge("host_memory_used_percent", "Host memory in use."),
		ProcessCount:      gauge("processes", "Processes seen on the last tick."),

		HealthScore:       gauge("health_score", "Overall health score from 0 to 100."),
		HealthCheckStatus: gaugeVec("health_check_status", "Per-check status: 0 healthy, 1 good, 2 warning, 3 critical.", "check", "category"),

		CollectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collection_duration_seconds",
			Help:      "Duration of one collection tick in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.GpuUtilization,
		m.GpuMemoryUsed,
		m.GpuMemoryTotal,
		m.GpuTemperature,
		m.GpuPower,
		m.GpuClock,
		m.ProcessGpuMemory,
		m.HostCPUIdle,
		m.HostMemoryPercent,
		m.ProcessCount,
		m.HealthScore,
		m.HealthCheckStatus,
		m.CollectionDuration,
	)
	return m
}

// Observe replaces the labelled series with the readings of d, so devices
// and processes that disappeared stop being exported. Its signature matches
// collecting.Manager.Observe.
func (m *Metrics) Observe(d *collecting.DynamicMetrics, elapsed time.Duration) {
	m.CollectionDuration.Observe(elapsed.Seconds())

	for _, vec := range []*prometheus.GaugeVec{
		m.GpuUtilization, m.GpuMemoryUsed, m.GpuMemoryTotal, m.GpuTemperature,
		m.GpuPower, m.GpuClock, m.ProcessGpuMemory, m.HealthCheckStatus,
	} {
		vec.Reset()
	}

	for _, info := range d.Gpus {
		m.observeGpu(info)
	}

	for _, p := range d.Processes {
		pid := strconv.FormatUint(uint64(p.PID), 10)
		for idx, bytes := range p.GPUMemoryPerDevice {
			m.ProcessGpuMemory.WithLabelValues(pid, p.Name, strconv.Itoa(idx)).Set(float64(bytes))
		}
	}
	if d.ProcessCount > 0 {
		m.ProcessCount.Set(float64(d.ProcessCount))
	}

	if d.CPUIdlePercent != nil {
		m.HostCPUIdle.Set(*d.CPUIdlePercent)
	}
	if d.MemoryTotal > 0 {
		m.HostMemoryPercent.Set(d.MemoryUsedPercent)
	}

	if h := d.Health; h != nil {
		m.HealthScore.Set(float64(h.Score))
		for _, c := range h.Checks {
			m.HealthCheckStatus.WithLabelValues(c.Name, c.Category).Set(StatusValue(c.Status))
		}
	}
}

func (m *Metrics) observeGpu(info gpu.GpuInfo) {
	labels := []string{strconv.Itoa(info.Static.Index), info.Static.Vendor.String(), info.Static.Name}
	dyn := info.Dynamic

	m.GpuUtilization.WithLabelValues(labels...).Set(dyn.Utilization)
	m.GpuMemoryUsed.WithLabelValues(labels...).Set(float64(dyn.Memory.Used))
	m.GpuMemoryTotal.WithLabelValues(labels...).Set(float64(dyn.Memory.Total))
	if t := dyn.Thermal.Temperature; t != nil {
		m.GpuTemperature.WithLabelValues(labels...).Set(float64(*t))
	}
	if p := dyn.Power.DrawW; p != nil {
		m.GpuPower.WithLabelValues(labels...).Set(*p)
	}
	for clock, v := range map[string]*uint32{
		"graphics": dyn.Clocks.Graphics,
		"memory":   dyn.Clocks.Memory,
		"sm":       dyn.Clocks.SM,
	} {
		if v != nil {
			m.GpuClock.WithLabelValues(append(labels, clock)...).Set(float64(*v))
		}
	}
}

// StatusValue maps a health status onto the health_check_status scale.
// Unknown is -1.
func StatusValue(s health.Status) float64 {
	switch s {
	case health.StatusHealthy:
		return 0
	case health.StatusGood:
		return 1
	case health.StatusWarning:
		return 2
	case health.StatusCritical:
		return 3
	}
	return -1
}
