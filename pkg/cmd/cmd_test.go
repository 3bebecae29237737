package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"GpuTelemetry/pkg/collecting"
	"GpuTelemetry/pkg/config"
	"GpuTelemetry/pkg/exporting"
	"GpuTelemetry/pkg/gpu"
	"GpuTelemetry/pkg/gpu/gputest"
	"GpuTelemetry/pkg/health"
	"GpuTelemetry/pkg/process"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// newTestContext wires the stack over one fake NVIDIA device and a /proc
// holding pids 1 and 4242, the latter using the GPU.
func newTestContext(t *testing.T) *CmdContext {
	t.Helper()
	root := t.TempDir()
	proc, etc := filepath.Join(root, "proc"), filepath.Join(root, "etc")
	write(t, filepath.Join(proc, "uptime"), "1000.00 3900.12\n")
	write(t, filepath.Join(etc, "passwd"), "root:x:0:0:root:/root:/bin/bash\n")
	for _, pid := range []int{1, 4242} {
		dir := filepath.Join(proc, fmt.Sprint(pid))
		write(t, filepath.Join(dir, "stat"), fmt.Sprintf(
			"%d (proc%d) S 1 %d %d 0 -1 4194560 100 0 0 0 10 10 0 0 20 0 4 0 100 12345678 100 18446744073709551615\n", pid, pid, pid, pid))
		write(t, filepath.Join(dir, "statm"), "2000 100 100 10 0 500 0\n")
		write(t, filepath.Join(dir, "status"), "Name:\tproc\nUid:\t0\t0\t0\t0\n")
	}

	cfg := config.New()
	cfg.ProcRoot = proc
	cfg.EtcRoot = etc
	cfg.SysRoot = filepath.Join(root, "sys")
	cfg.DisableHost = true
	cfg.UUID = "test-session"
	cfg.Hostname = "node-1"

	gpus := collecting.NewGpuCollection(&gputest.Device{
		VendorID:  gpu.VendorNvidia,
		NameValue: "A100",
		Util:      gpu.Utilization{GPU: 42},
		Mem:       gpu.Memory{Total: 80 << 30, Used: 8 << 30, Free: 72 << 30},
		Procs:     []gpu.GpuProcess{gputest.Process(4242, gpu.ProcessCompute, 1<<30)},
	})
	ctx, err := NewContext(context.Background(), cfg, gpus)
	require.NoError(t, err)
	t.Cleanup(ctx.Close)
	return ctx
}

func get(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestNewContextCollectors(t *testing.T) {
	ctx := newTestContext(t)
	assert.Equal(t, []string{"GPU", "Process", "Health"}, ctx.Manager.CollectorNames())
	assert.Equal(t, "node-1", ctx.Manager.GetStatic().Hostname)
	assert.Equal(t, 1, ctx.Manager.GetStatic().GpuCount)
}

func TestServerRoutes(t *testing.T) {
	h := newServer(newTestContext(t)).routes()

	rec := get(t, h, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK\n", rec.Body.String())

	rec = get(t, h, http.MethodGet, "/gpus")
	require.Equal(t, http.StatusOK, rec.Code)
	var infos []gpu.GpuInfo
	decode(t, rec, &infos)
	require.Len(t, infos, 1)
	assert.Equal(t, "A100", infos[0].Static.Name)
	assert.Equal(t, 42.0, infos[0].Dynamic.Utilization)

	rec = get(t, h, http.MethodGet, "/processes?sort=gpu&gpu_only=true")
	require.Equal(t, http.StatusOK, rec.Code)
	var procs []process.Info
	decode(t, rec, &procs)
	require.Len(t, procs, 1)
	assert.Equal(t, uint32(4242), procs[0].PID)

	rec = get(t, h, http.MethodGet, "/processes?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &procs)
	assert.Len(t, procs, 1)

	assert.Equal(t, http.StatusBadRequest, get(t, h, http.MethodGet, "/processes?sort=bogus").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, http.MethodGet, "/processes?limit=-1").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, http.MethodGet, "/processes?gpu_only=maybe").Code)

	rec = get(t, h, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var report health.SystemHealth
	decode(t, rec, &report)
	assert.NotEmpty(t, report.Checks)

	rec = get(t, h, http.MethodGet, "/snapshot")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap map[string]interface{}
	decode(t, rec, &snap)
	assert.Equal(t, "A100", snap["gpu0Name"])
	assert.Equal(t, "test-session", snap["uuid"])

	rec = get(t, h, http.MethodGet, "/info")
	var info map[string]interface{}
	decode(t, rec, &info)
	assert.Equal(t, 1.0, info["gpus"])
	assert.Equal(t, 0.0, info["active_sessions"])
}

func TestMetricsEndpoint(t *testing.T) {
	h := newServer(newTestContext(t)).routes()
	rec := get(t, h, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `gputel_gpu_utilization_percent{gpu="0",name="A100",vendor="NVIDIA"} 42`)
	assert.Contains(t, body, `gputel_process_gpu_memory_bytes{`)
	assert.Contains(t, body, "gputel_health_score")
	assert.NotContains(t, body, "go_goroutines", "runtime collectors stay off the custom registry")
}

func TestProfileSession(t *testing.T) {
	h := newServer(newTestContext(t)).routes()

	assert.Equal(t, http.StatusMethodNotAllowed, get(t, h, http.MethodGet, "/profile/start").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, http.MethodGet, "/profile/delta").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, http.MethodGet, "/profile/status?session_id=nope").Code)

	rec := get(t, h, http.MethodPost, "/profile/start")
	require.Equal(t, http.StatusOK, rec.Code)
	var started map[string]interface{}
	decode(t, rec, &started)
	id, _ := started["session_id"].(string)
	require.NotEmpty(t, id)

	rec = get(t, h, http.MethodGet, "/profile/status")
	var status map[string][]map[string]interface{}
	decode(t, rec, &status)
	require.Len(t, status["sessions"], 1)
	assert.Equal(t, id, status["sessions"][0]["session_id"])

	rec = get(t, h, http.MethodGet, "/profile/delta?session_id="+id)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, h, http.MethodPost, "/profile/stop?session_id="+id)
	require.Equal(t, http.StatusOK, rec.Code)
	var stopped map[string]interface{}
	decode(t, rec, &stopped)
	assert.Contains(t, stopped, "delta")
	assert.Contains(t, stopped, "duration_ms")

	assert.Equal(t, http.StatusNotFound, get(t, h, http.MethodPost, "/profile/stop?session_id="+id).Code)
}

func TestProfileSnapshot(t *testing.T) {
	h := newServer(newTestContext(t)).routes()
	assert.Equal(t, http.StatusBadRequest, get(t, h, http.MethodPost, "/profile/snapshot?duration_ms=x").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, get(t, h, http.MethodDelete, "/profile/snapshot").Code)

	rec := get(t, h, http.MethodPost, "/profile/snapshot?duration_ms=1")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	decode(t, rec, &body)
	delta, ok := body["delta"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "A100", delta["gpu0Name"])
}

func TestListProcesses(t *testing.T) {
	ctx := newTestContext(t)
	procs, err := listProcesses(ctx.Monitor, "gpu", false, 0)
	require.NoError(t, err)
	require.Len(t, procs, 2)
	assert.Equal(t, uint32(4242), procs[0].PID, "gpu memory sorts first")

	_, err = listProcesses(ctx.Monitor, "disk", false, 0)
	assert.ErrorContains(t, err, "unknown sort key")

	var buf bytes.Buffer
	require.NoError(t, writeProcTable(&buf, procs))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "PID"))
	assert.Contains(t, lines[1], "1024 MiB")
	assert.Contains(t, lines[1], "root")
}

func TestWriteGpuTable(t *testing.T) {
	var info gpu.GpuInfo
	info.Static = gpu.StaticInfo{Vendor: gpu.VendorAmd, Name: "MI300X", PCIBusID: gpu.Ptr("0000:c1:00.0")}
	info.Dynamic.Memory = gpu.MemoryInfo{Total: 192 << 30, Used: 2 << 30}
	info.Dynamic.Utilization = 37
	info.Dynamic.Thermal.Temperature = gpu.Ptr(55)

	var buf bytes.Buffer
	require.NoError(t, writeGpuTable(&buf, []gpu.GpuInfo{info}))
	out := buf.String()
	for _, want := range []string{"AMD", "MI300X", "0000:c1:00.0", "2048/196608 MiB", "37%", "55°C"} {
		assert.Contains(t, out, want)
	}
	assert.Contains(t, strings.Split(out, "\n")[1], "-", "missing power reads as a dash")
}

func TestHealthReport(t *testing.T) {
	h := health.Evaluate(health.DefaultThresholds(), health.Inputs{
		CPUIdle: gpu.Ptr(2.0),
		Gpus:    []gpu.GpuInfo{{}},
	})
	assert.Equal(t, ExitCritical, healthExitCode(h))

	var buf bytes.Buffer
	require.NoError(t, writeHealthReport(&buf, h, true))
	out := buf.String()
	assert.Contains(t, out, "Critical - Score:")
	assert.Contains(t, out, "CPU usage critically high: 98.0%")
	assert.NotContains(t, out, "GPU0 Utilization")

	warn := health.Evaluate(health.DefaultThresholds(), health.Inputs{CPUIdle: gpu.Ptr(15.0)})
	assert.Equal(t, ExitWarning, healthExitCode(warn))

	ok := health.Evaluate(health.DefaultThresholds(), health.Inputs{CPUIdle: gpu.Ptr(90.0)})
	assert.Zero(t, healthExitCode(ok))
}

func TestControlParsing(t *testing.T) {
	lo, hi, err := parseClockRange(" 1200, 1800")
	require.NoError(t, err)
	assert.Equal(t, uint32(1200), lo)
	assert.Equal(t, uint32(1800), hi)
	for _, bad := range []string{"1200", "a,b", "1800,1200"} {
		_, _, err := parseClockRange(bad)
		assert.ErrorIs(t, err, gpu.ErrInvalidArgument, bad)
	}

	mode, err := parseComputeMode("exclusiveprocess")
	require.NoError(t, err)
	assert.Equal(t, gpu.ComputeModeExclusiveProcess, mode)
	_, err = parseComputeMode("shared")
	assert.ErrorIs(t, err, gpu.ErrInvalidArgument)

	for in, want := range map[string]bool{"on": true, "Enabled": true, "off": false, "0": false, "true": true} {
		got, err := parseOnOff(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err = parseOnOff("sometimes")
	assert.ErrorIs(t, err, gpu.ErrInvalidArgument)
}

func TestApplyControl(t *testing.T) {
	d := &gputest.Device{VendorID: gpu.VendorIntel}
	assert.ErrorIs(t, applyControl(d, controlRequest{}), gpu.ErrInvalidArgument)

	err := applyControl(d, controlRequest{PowerLimitW: gpu.Ptr(250.0), Persistence: gpu.Ptr(true)})
	assert.ErrorIs(t, err, gpu.ErrNotSupported)
	assert.Contains(t, err.Error(), "set power limit", "stops at the first failing change")
}

func TestDefaultGraphDir(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "profiler_1_graphs"), defaultGraphDir(filepath.Join("out", "profiler_1.jsonl.zst")))
}

func TestSaveBatch(t *testing.T) {
	ctx := newTestContext(t)
	path := filepath.Join(t.TempDir(), "batch.jsonl")
	records := []map[string]interface{}{ctx.Manager.CollectDynamic(context.Background())}
	require.NoError(t, SaveBatch(path, records, ctx.FlattenMode()))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"gpu0Name":"A100"`)
}

func TestStreamCollector(t *testing.T) {
	ctx := newTestContext(t)
	path := filepath.Join(t.TempDir(), "stream.jsonl")
	exporter, err := exporting.NewExporter(path, "jsonl", exporting.WithFlattenMode(ctx.FlattenMode()))
	require.NoError(t, err)

	runCtx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	sc := NewStreamCollector(ctx.Manager, exporter, 10*time.Millisecond)
	count := sc.Run(runCtx)
	require.NoError(t, exporter.Close())
	assert.Positive(t, count)
	assert.Equal(t, count, sc.Count())

	records, err := exporting.LoadRecords(path)
	require.NoError(t, err)
	assert.Len(t, records, count)
	assert.Equal(t, "A100", records[0]["gpu0Name"])
}
