package process

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"GpuTelemetry/pkg/gpu"
	"GpuTelemetry/pkg/gpu/gputest"
	"GpuTelemetry/pkg/probing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type devices []gpu.Device

func (d devices) Gpus() []gpu.Device { return d }

type procFixture struct {
	t    *testing.T
	proc string
	etc  string
}

func newProcFixture(t *testing.T) *procFixture {
	root := t.TempDir()
	f := &procFixture{t: t, proc: filepath.Join(root, "proc"), etc: filepath.Join(root, "etc")}
	f.write(filepath.Join(f.proc, "uptime"), "1000.00 3900.12\n")
	f.write(filepath.Join(f.etc, "passwd"),
		"root:x:0:0:root:/root:/bin/bash\n# comment\nalice:x:1000:1000::/home/alice:/bin/sh\n")
	return f
}

func (f *procFixture) write(path, content string) {
	f.t.Helper()
	require.NoError(f.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(f.t, os.WriteFile(path, []byte(content), 0o644))
}

// addProc writes a process that started at starttime ticks and used
// utime+stime ticks.
func (f *procFixture) addProc(pid int, comm string, state byte, utime, stime, starttime uint64, rssPages, uid int) {
	dir := filepath.Join(f.proc, strconv.Itoa(pid))
	f.write(filepath.Join(dir, "stat"), fmt.Sprintf(
		"%d (%s) %c 1 %d %d 0 -1 4194560 100 0 0 0 %d %d 0 0 20 0 4 0 %d 12345678 %d 18446744073709551615\n",
		pid, comm, state, pid, pid, utime, stime, starttime, rssPages))
	f.write(filepath.Join(dir, "statm"), fmt.Sprintf("2000 %d 100 10 0 500 0\n", rssPages))
	f.write(filepath.Join(dir, "status"), fmt.Sprintf(
		"Name:\t%s\nState:\t%c (running)\nUid:\t%d\t%d\t%d\t%d\nGid:\t0\t0\t0\t0\n", comm, state, uid, uid, uid, uid))
}

func (f *procFixture) enumerator(concurrent bool) *Enumerator {
	return NewEnumerator(Options{Proc: probing.Root(f.proc), Etc: probing.Root(f.etc), Concurrent: concurrent})
}

func TestListRequiresUptime(t *testing.T) {
	f := newProcFixture(t)
	f.addProc(4242, "python3", 'R', 600, 400, 95000, 25600, 1000)

	require.NoError(t, os.Remove(filepath.Join(f.proc, "uptime")))
	_, err := f.enumerator(false).List()
	assert.ErrorIs(t, err, gpu.ErrQueryFailed)

	f.write(filepath.Join(f.proc, "uptime"), "garbage\n")
	_, err = f.enumerator(false).List()
	assert.ErrorIs(t, err, gpu.ErrQueryFailed)

	f.write(filepath.Join(f.proc, "uptime"), "\n")
	_, err = f.enumerator(true).List()
	assert.ErrorIs(t, err, gpu.ErrQueryFailed)
}

func TestListReadsProcessTable(t *testing.T) {
	f := newProcFixture(t)
	f.addProc(1, "systemd", 'S', 50, 50, 0, 3000, 0)
	// 10s of CPU over 50s of life: uptime 1000, started at 950s.
	f.addProc(4242, "python3 (worker)", 'R', 600, 400, 95000, 25600, 1000)
	f.addProc(77, "ghost", 'Z', 0, 0, 1000, 0, 4321)
	f.write(filepath.Join(f.proc, "self"), "not a pid dir")
	require.NoError(t, os.MkdirAll(filepath.Join(f.proc, "sys"), 0o755))

	procs, err := f.enumerator(false).List()
	require.NoError(t, err)
	require.Len(t, procs, 3)
	assert.Equal(t, []uint32{1, 77, 4242}, []uint32{procs[0].PID, procs[1].PID, procs[2].PID})

	p := procs[2]
	assert.Equal(t, "python3 (worker)", p.Name)
	assert.Equal(t, "R", p.State.String())
	assert.Equal(t, "alice", *p.User)
	assert.Equal(t, int32(20), *p.Priority)
	assert.InDelta(t, 20.0, p.CPUPercent, 1e-9)
	assert.Equal(t, uint64(25600)*uint64(os.Getpagesize()), p.MemoryBytes)
	assert.Equal(t, gpu.ProcessUnknown, p.GPUProcessType)
	assert.Empty(t, p.GPUIndices)

	assert.Equal(t, "4321", *procs[1].User, "unknown uid falls back to the number")
	assert.InDelta(t, 0.1, procs[0].CPUPercent, 1e-9)
}

func TestCPUPercentClampsYoungProcess(t *testing.T) {
	st := stat{utime: 50, stime: 0, starttime: 99990}
	assert.InDelta(t, 50.0, cpuPercent(st, 1000), 1e-9)
}

func TestListMissingProcRoot(t *testing.T) {
	e := NewEnumerator(Options{Proc: probing.Root(filepath.Join(t.TempDir(), "absent"))})
	_, err := e.List()
	assert.ErrorIs(t, err, gpu.ErrQueryFailed)
}

func TestListSkipsVanishedProcess(t *testing.T) {
	f := newProcFixture(t)
	f.addProc(10, "alive", 'S', 1, 1, 10, 1, 0)
	require.NoError(t, os.MkdirAll(filepath.Join(f.proc, "11"), 0o755))
	f.write(filepath.Join(f.proc, "12", "stat"), "garbage")

	procs, err := f.enumerator(false).List()
	require.NoError(t, err)
	require.Len(t, procs, 1)
	assert.Equal(t, uint32(10), procs[0].PID)
}

func TestConcurrentListMatchesSequential(t *testing.T) {
	f := newProcFixture(t)
	for pid := 100; pid < 164; pid++ {
		f.addProc(pid, "worker", 'S', uint64(pid), 3, 500, pid, 0)
	}
	seq, err := f.enumerator(false).List()
	require.NoError(t, err)
	con, err := f.enumerator(true).List()
	require.NoError(t, err)
	assert.Equal(t, seq, con)
}

func TestParseStat(t *testing.T) {
	st, ok := parseStat([]byte("9 (a) b) c) S 2 0 0 0 -1 69238880 0 0 0 0 7 3 0 0 -2 0 1 0 25 0 0\n"))
	require.True(t, ok)
	assert.Equal(t, "a) b) c", st.name)
	assert.Equal(t, byte('S'), st.state)
	assert.Equal(t, uint64(7), st.utime)
	assert.Equal(t, uint64(3), st.stime)
	assert.Equal(t, int32(-2), st.priority)
	assert.Equal(t, uint64(25), st.starttime)

	_, ok = parseStat([]byte("9 (short) S 1 2"))
	assert.False(t, ok)
}

func attributionFixture(t *testing.T) (*procFixture, devices) {
	f := newProcFixture(t)
	f.addProc(4242, "trainer", 'R', 100, 100, 1000, 100, 1000)
	f.addProc(5000, "render", 'S', 10, 10, 1000, 50, 1000)
	f.addProc(6000, "idle", 'S', 0, 0, 1000, 10, 0)

	gpu0 := &gputest.Device{VendorID: gpu.VendorNvidia, Procs: []gpu.GpuProcess{
		gputest.Process(4242, gpu.ProcessCompute, 1<<30),
		gputest.Process(9999, gpu.ProcessCompute, 4<<30),
	}}
	gpu1 := &gputest.Device{VendorID: gpu.VendorAmd, Procs: []gpu.GpuProcess{
		gputest.Process(4242, gpu.ProcessGraphics, 2<<30),
		{PID: 5000, Type: gpu.ProcessGraphics},
	}}
	return f, devices{gpu0, gpu1}
}

func TestAttribution(t *testing.T) {
	f, devs := attributionFixture(t)
	m := NewMonitor(f.enumerator(false), devs)

	for round := 0; round < 2; round++ {
		procs, err := m.Processes()
		require.NoError(t, err)
		require.Len(t, procs, 3, "pid 9999 exited and is dropped")

		trainer := procs[0]
		assert.Equal(t, uint32(4242), trainer.PID)
		assert.Equal(t, []int{0, 1}, trainer.GPUIndices)
		assert.Equal(t, map[int]uint64{0: 1 << 30, 1: 2 << 30}, trainer.GPUMemoryPerDevice)
		assert.Equal(t, uint64(3221225472), trainer.TotalGPUMemoryBytes)
		assert.Equal(t, gpu.ProcessMixed, trainer.GPUProcessType)

		render := procs[1]
		assert.Equal(t, []int{1}, render.GPUIndices)
		assert.Equal(t, uint64(0), render.TotalGPUMemoryBytes)
		assert.Equal(t, gpu.ProcessGraphics, render.GPUProcessType)

		assert.False(t, procs[2].UsesGPU())
	}

	for _, p := range mustProcesses(t, m) {
		var sum uint64
		for _, b := range p.GPUMemoryPerDevice {
			sum += b
		}
		assert.Equal(t, p.TotalGPUMemoryBytes, sum)
		assert.Len(t, p.GPUIndices, len(p.GPUMemoryPerDevice))
		for _, idx := range p.GPUIndices {
			assert.Contains(t, p.GPUMemoryPerDevice, idx)
		}
	}
}

func mustProcesses(t *testing.T, m *Monitor) []Info {
	t.Helper()
	procs, err := m.Processes()
	require.NoError(t, err)
	return procs
}

func TestAttributionSkipsUnavailableDevice(t *testing.T) {
	f, devs := attributionFixture(t)
	devs[0].(*gputest.Device).ProcsErr = gpu.NotSupported("processes")
	m := NewMonitor(f.enumerator(false), devs)

	p, err := m.ProcessByPID(4242)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, []int{1}, p.GPUIndices)
	assert.Equal(t, gpu.ProcessGraphics, p.GPUProcessType)

	// unprivileged containers get NVML_ERROR_NO_PERMISSION for process lists.
	devs[0].(*gputest.Device).ProcsErr = gpu.PermissionDenied("processes", nil)
	procs, err := m.Processes()
	require.NoError(t, err)
	assert.NotEmpty(t, procs)
	p, err = m.ProcessByPID(4242)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, p.GPUIndices)

	devs[0].(*gputest.Device).ProcsErr = gpu.InitializationFailed("processes", nil)
	_, err = m.Processes()
	assert.ErrorIs(t, err, gpu.ErrInitializationFailed)
}

func TestMonitorQueries(t *testing.T) {
	f, devs := attributionFixture(t)
	m := NewMonitor(f.enumerator(false), devs)

	gpuProcs, err := m.GpuProcesses()
	require.NoError(t, err)
	assert.Len(t, gpuProcs, 2)

	n, err := m.ProcessCount()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = m.GpuProcessCount()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	byGPU, err := m.ProcessesByGPUMemory()
	require.NoError(t, err)
	assert.Equal(t, []uint32{4242, 5000, 6000}, pids(byGPU))

	byCPU, err := m.ProcessesByCPU()
	require.NoError(t, err)
	assert.Equal(t, []uint32{4242, 5000, 6000}, pids(byCPU))

	byMem, err := m.ProcessesByMemory()
	require.NoError(t, err)
	assert.Equal(t, []uint32{4242, 5000, 6000}, pids(byMem))

	missing, err := m.ProcessByPID(31337)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSortByBreaksTiesByPID(t *testing.T) {
	procs := []Info{{PID: 30, CPUPercent: 5}, {PID: 10, CPUPercent: 5}, {PID: 20, CPUPercent: 9}}
	SortBy(procs, func(p *Info) float64 { return p.CPUPercent })
	assert.Equal(t, []uint32{20, 10, 30}, pids(procs))
}

func pids(procs []Info) []uint32 {
	out := make([]uint32, len(procs))
	for i, p := range procs {
		out[i] = p.PID
	}
	return out
}

func TestKillProcess(t *testing.T) {
	m := NewMonitor(NewEnumerator(Options{}), nil)
	var gotPID int
	var gotSig unix.Signal
	m.kill = func(pid int, sig unix.Signal) error {
		gotPID, gotSig = pid, sig
		return nil
	}

	require.NoError(t, m.KillProcess(1234, false))
	assert.Equal(t, 1234, gotPID)
	assert.Equal(t, unix.SIGTERM, gotSig)
	require.NoError(t, m.KillProcess(1234, true))
	assert.Equal(t, unix.SIGKILL, gotSig)

	assert.ErrorIs(t, m.KillProcess(0, false), gpu.ErrInvalidArgument)

	m.kill = func(int, unix.Signal) error { return unix.EPERM }
	assert.ErrorIs(t, m.KillProcess(1, false), gpu.ErrPermissionDenied)
	m.kill = func(int, unix.Signal) error { return unix.ESRCH }
	assert.ErrorIs(t, m.KillProcess(99999, false), gpu.ErrQueryFailed)
}

func TestStateText(t *testing.T) {
	b, err := State('D').MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "D", string(b))

	var s State
	require.NoError(t, s.UnmarshalText([]byte("Z")))
	assert.Equal(t, State('Z'), s)
	assert.Equal(t, "?", State(0).String())
}

func BenchmarkList(b *testing.B) {
	e := NewEnumerator(Options{})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.List()
	}
}

func BenchmarkListConcurrent(b *testing.B) {
	e := NewEnumerator(Options{Concurrent: true})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.List()
	}
}
