package process

import (
	"errors"
	"fmt"
	"sort"

	"GpuTelemetry/pkg/gpu"
	"GpuTelemetry/pkg/logging"

	"golang.org/x/sys/unix"
)

// Devices is the ordered device set processes are attributed against.
type Devices interface {
	Gpus() []gpu.Device
}

// Monitor rebuilds the process table and its GPU attribution on every call.
type Monitor struct {
	enum    *Enumerator
	devices Devices
	kill    func(pid int, sig unix.Signal) error
}

func NewMonitor(enum *Enumerator, devices Devices) *Monitor {
	return &Monitor{enum: enum, devices: devices, kill: unix.Kill}
}

// Processes returns every process sorted by pid, with GPU usage attached.
func (m *Monitor) Processes() ([]Info, error) {
	procs, err := m.enum.List()
	if err != nil {
		return nil, err
	}
	byPID := make(map[uint32]*Info, len(procs))
	for i := range procs {
		byPID[procs[i].PID] = &procs[i]
	}
	if err := m.attribute(byPID); err != nil {
		return nil, err
	}
	return procs, nil
}

// attribute joins each device's process list onto the table. Pids a
// device reports that are no longer in the table exited between the two
// reads and are dropped.
func (m *Monitor) attribute(byPID map[uint32]*Info) error {
	if m.devices == nil {
		return nil
	}
	log := logging.WithComponent("process")
	for idx, d := range m.devices.Gpus() {
		reported, err := d.Processes()
		if err != nil {
			if gpu.IsUnavailable(err) {
				log.WithField("gpu", idx).WithError(err).Debug("process list unavailable")
				continue
			}
			return fmt.Errorf("gpu %d processes: %w", idx, err)
		}
		for _, proc := range reported {
			p, ok := byPID[proc.PID]
			if !ok {
				log.WithField("gpu", idx).WithField("pid", proc.PID).Debug("dropping exited process")
				continue
			}
			p.attach(idx, proc)
		}
	}
	return nil
}

// GpuProcesses returns the processes attributed to at least one device.
func (m *Monitor) GpuProcesses() ([]Info, error) {
	procs, err := m.Processes()
	if err != nil {
		return nil, err
	}
	out := procs[:0]
	for _, p := range procs {
		if p.UsesGPU() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Monitor) ProcessesByCPU() ([]Info, error) {
	return m.sorted(func(p *Info) float64 { return p.CPUPercent })
}

func (m *Monitor) ProcessesByMemory() ([]Info, error) {
	return m.sorted(func(p *Info) float64 { return float64(p.MemoryBytes) })
}

func (m *Monitor) ProcessesByGPUMemory() ([]Info, error) {
	return m.sorted(func(p *Info) float64 { return float64(p.TotalGPUMemoryBytes) })
}

// sorted orders by key descending, ties by pid ascending.
func (m *Monitor) sorted(key func(*Info) float64) ([]Info, error) {
	procs, err := m.Processes()
	if err != nil {
		return nil, err
	}
	SortBy(procs, key)
	return procs, nil
}

// SortBy orders procs by key descending, ties by pid ascending.
func SortBy(procs []Info, key func(*Info) float64) {
	sort.SliceStable(procs, func(i, j int) bool {
		ki, kj := key(&procs[i]), key(&procs[j])
		if ki != kj {
			return ki > kj
		}
		return procs[i].PID < procs[j].PID
	})
}

// ProcessByPID returns nil when pid is not running.
func (m *Monitor) ProcessByPID(pid uint32) (*Info, error) {
	procs, err := m.Processes()
	if err != nil {
		return nil, err
	}
	i := sort.Search(len(procs), func(i int) bool { return procs[i].PID >= pid })
	if i < len(procs) && procs[i].PID == pid {
		return &procs[i], nil
	}
	return nil, nil
}

func (m *Monitor) ProcessCount() (int, error) {
	procs, err := m.enum.List()
	if err != nil {
		return 0, err
	}
	return len(procs), nil
}

func (m *Monitor) GpuProcessCount() (int, error) {
	procs, err := m.GpuProcesses()
	if err != nil {
		return 0, err
	}
	return len(procs), nil
}

// KillProcess sends SIGTERM, or SIGKILL when force is set.
func (m *Monitor) KillProcess(pid int, force bool) error {
	op := fmt.Sprintf("kill %d", pid)
	if pid <= 0 {
		return gpu.InvalidArgument(op, errors.New("pid must be positive"))
	}
	sig := unix.SIGTERM
	if force {
		sig = unix.SIGKILL
	}
	err := m.kill(pid, sig)
	switch {
	case err == nil:
		logging.WithComponent("process").WithField("pid", pid).Infof("sent %s", unix.SignalName(sig))
		return nil
	case errors.Is(err, unix.EPERM):
		return gpu.PermissionDenied(op, err)
	case errors.Is(err, unix.ESRCH):
		return gpu.QueryFailed(op, err)
	}
	return gpu.ControlFailed(op, err)
}
