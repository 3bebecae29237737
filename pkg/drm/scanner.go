package drm

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"

	"GpuTelemetry/pkg/gpu"
	"GpuTelemetry/pkg/probing"
)

const DefaultRescanEvery = 10

// ScannerOptions configures a Scanner.
type ScannerOptions struct {
	Proc    probing.Root
	Drivers []string
	// Concurrent spreads the per-pid fdinfo reads over NumCPU workers.
	Concurrent bool
	// RescanEvery forces a sweep of every pid each N scans. Between full
	// sweeps pids previously seen without DRM clients are skipped while
	// their descriptor count is unchanged.
	RescanEvery int
}

// Scanner attributes DRM clients to processes by walking fdinfo.
type Scanner struct {
	proc        probing.Root
	drivers     map[string]bool
	concurrent  bool
	rescanEvery int

	mu    sync.Mutex
	scans int
	idle  map[int]int
}

func NewScanner(opts ScannerOptions) *Scanner {
	if opts.Proc == "" {
		opts.Proc = "/proc"
	}
	if opts.RescanEvery <= 0 {
		opts.RescanEvery = DefaultRescanEvery
	}
	drivers := make(map[string]bool, len(opts.Drivers))
	for _, d := range opts.Drivers {
		drivers[d] = true
	}
	return &Scanner{
		proc:        opts.Proc,
		drivers:     drivers,
		concurrent:  opts.Concurrent,
		rescanEvery: opts.RescanEvery,
		idle:        make(map[int]int),
	}
}

type pidClients struct {
	pid     int
	name    string
	fds     int
	clients []Client
	err     error
}

// Processes returns the processes with active clients on the device at
// pdev, sorted by pid. An empty pdev matches every device of the drivers.
func (s *Scanner) Processes(pdev string) ([]gpu.GpuProcess, error) {
	results, err := s.sweep()
	if err != nil {
		return nil, err
	}

	var procs []gpu.GpuProcess
	for _, r := range results {
		if p, ok := aggregate(r, pdev); ok {
			procs = append(procs, p)
		}
	}
	sort.Slice(procs, func(i, j int) bool { return procs[i].PID < procs[j].PID })
	return procs, nil
}

func aggregate(r pidClients, pdev string) (gpu.GpuProcess, bool) {
	proc := gpu.GpuProcess{PID: uint32(r.pid), Name: r.name, Type: gpu.ProcessUnknown}
	seen := make(map[string]bool)
	var vram uint64
	var hasVRAM, active bool

	for i, c := range r.clients {
		if pdev != "" && c.PDev != "" && c.PDev != pdev {
			continue
		}
		key := c.ClientID
		if key == "" {
			key = "fd" + strconv.Itoa(i)
		}
		if seen[key] {
			continue
		}
		seen[key] = true

		if !c.Active() {
			continue
		}
		active = true
		vram += c.VRAM
		hasVRAM = hasVRAM || c.HasVRAM
		proc.Type = proc.Type.Merge(c.ProcessType())
		for engine, ns := range c.EngineNs {
			if proc.EngineNs == nil {
				proc.EngineNs = make(map[string]uint64)
			}
			proc.EngineNs[engine] += ns
		}
	}
	if !active {
		return gpu.GpuProcess{}, false
	}
	if hasVRAM {
		proc.MemoryBytes = gpu.Ptr(vram)
	}
	return proc, true
}

func (s *Scanner) sweep() ([]pidClients, error) {
	entries, err := os.ReadDir(string(s.proc))
	if err != nil {
		return nil, gpu.QueryFailed("read process table", err)
	}

	pids := make([]int, 0, len(entries))
	for _, e := range entries {
		if pid, err := strconv.Atoi(e.Name()); err == nil && e.IsDir() {
			pids = append(pids, pid)
		}
	}

	s.mu.Lock()
	full := s.scans%s.rescanEvery == 0
	s.scans++
	idle := make(map[int]int, len(s.idle))
	for k, v := range s.idle {
		idle[k] = v
	}
	s.mu.Unlock()

	results := make([]pidClients, len(pids))
	scan := func(i int) {
		results[i] = s.scanPid(pids[i], idle, full)
	}

	if s.concurrent && len(pids) > 1 {
		work := make(chan int, len(pids))
		for i := range pids {
			work <- i
		}
		close(work)

		var wg sync.WaitGroup
		for w := 0; w < runtime.NumCPU(); w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range work {
					scan(i)
				}
			}()
		}
		wg.Wait()
	} else {
		for i := range pids {
			scan(i)
		}
	}

	nextIdle := make(map[int]int)
	out := results[:0]
	for _, r := range results {
		if r.err != nil {
			continue
		}
		if len(r.clients) == 0 {
			nextIdle[r.pid] = r.fds
			continue
		}
		out = append(out, r)
	}

	s.mu.Lock()
	s.idle = nextIdle
	s.mu.Unlock()
	return out, nil
}

func (s *Scanner) scanPid(pid int, idle map[int]int, full bool) pidClients {
	r := pidClients{pid: pid}
	dir := s.proc.Path(strconv.Itoa(pid), "fdinfo")
	fds, err := os.ReadDir(dir)
	if err != nil {
		r.err = err
		return r
	}
	r.fds = len(fds)
	if count, known := idle[pid]; known && !full && count == r.fds {
		return r
	}

	for _, fd := range fds {
		content, err := probing.File(filepath.Join(dir, fd.Name()))
		if err != nil {
			continue
		}
		c, ok := ParseFdinfo(content)
		if !ok || !s.drivers[c.Driver] {
			continue
		}
		r.clients = append(r.clients, c)
	}
	if len(r.clients) > 0 {
		if name, err := probing.String(s.proc.Path(strconv.Itoa(pid), "comm")); err == nil {
			r.name = name
		}
	}
	return r
}
