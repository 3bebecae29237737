package process

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"GpuTelemetry/pkg/gpu"
	"GpuTelemetry/pkg/probing"

	"golang.org/x/sys/unix"
)

// clockTicks is USER_HZ, the unit of the stat time fields.
const clockTicks = 100

type Options struct {
	Proc probing.Root
	Etc  probing.Root
	// Concurrent reads pids with NumCPU workers.
	Concurrent bool
}

// Enumerator reads the process table from procfs.
type Enumerator struct {
	proc       probing.Root
	etc        probing.Root
	concurrent bool
	pageSize   uint64
}

func NewEnumerator(opts Options) *Enumerator {
	if opts.Proc == "" {
		opts.Proc = "/proc"
	}
	if opts.Etc == "" {
		opts.Etc = "/etc"
	}
	return &Enumerator{
		proc:       opts.Proc,
		etc:        opts.Etc,
		concurrent: opts.Concurrent,
		pageSize:   uint64(os.Getpagesize()),
	}
}

var procBufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, 4096)
		return &buf
	},
}

// readProcFile reads a small proc file with one read into a pooled buffer.
func readProcFile(path string) ([]byte, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	defer unix.Close(fd)

	bufPtr := procBufPool.Get().(*[]byte)
	defer procBufPool.Put(bufPtr)

	n, err := unix.Read(fd, *bufPtr)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, errors.New("empty file")
	}
	out := make([]byte, n)
	copy(out, (*bufPtr)[:n])
	return out, nil
}

// List returns every readable process, sorted by pid. Processes that exit
// mid-scan are skipped; an unreadable proc root fails the call.
func (e *Enumerator) List() ([]Info, error) {
	entries, err := os.ReadDir(string(e.proc))
	if err != nil {
		return nil, gpu.QueryFailed("read process table", err)
	}
	pids := make([]uint32, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if pid, err := strconv.ParseUint(entry.Name(), 10, 32); err == nil {
			pids = append(pids, uint32(pid))
		}
	}

	uptime, err := e.uptime()
	if err != nil {
		return nil, gpu.QueryFailed("read system uptime", err)
	}
	users := loadUsers(e.etc.Path("passwd"))

	var procs []Info
	if e.concurrent && len(pids) > 1 {
		procs = e.listConcurrent(pids, uptime, users)
	} else {
		procs = make([]Info, 0, len(pids))
		for _, pid := range pids {
			if p, ok := e.read(pid, uptime, users); ok {
				procs = append(procs, p)
			}
		}
	}
	sort.Slice(procs, func(i, j int) bool { return procs[i].PID < procs[j].PID })
	return procs, nil
}

func (e *Enumerator) listConcurrent(pids []uint32, uptime float64, users userTable) []Info {
	pidChan := make(chan uint32, len(pids))
	resultChan := make(chan Info, len(pids))

	var wg sync.WaitGroup
	for i := 0; i < runtime.NumCPU(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pid := range pidChan {
				if p, ok := e.read(pid, uptime, users); ok {
					resultChan <- p
				}
			}
		}()
	}
	for _, pid := range pids {
		pidChan <- pid
	}
	close(pidChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	procs := make([]Info, 0, len(pids))
	for p := range resultChan {
		procs = append(procs, p)
	}
	return procs
}

// uptime is the first field of /proc/uptime, in seconds. CPU percentages
// are relative to it, so it has no fallback value.
func (e *Enumerator) uptime() (float64, error) {
	v, err := probing.String(e.proc.Path("uptime"))
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty uptime %q", v)
	}
	up, err := probing.ParseFloat64(fields[0])
	if err != nil {
		return 0, err
	}
	return up, nil
}

// read builds one Info. A missing or malformed stat file means the process
// is gone and it is skipped; statm and status are best effort.
func (e *Enumerator) read(pid uint32, uptime float64, users userTable) (Info, bool) {
	dir := strconv.FormatUint(uint64(pid), 10)
	data, err := readProcFile(e.proc.Path(dir, "stat"))
	if err != nil {
		return Info{}, false
	}
	st, ok := parseStat(data)
	if !ok {
		return Info{}, false
	}

	p := newInfo(pid)
	p.Name = st.name
	p.State = State(st.state)
	p.Priority = gpu.Ptr(st.priority)
	p.CPUPercent = cpuPercent(st, uptime)

	if data, err := readProcFile(e.proc.Path(dir, "statm")); err == nil {
		if fields := bytes.Fields(data); len(fields) >= 2 {
			if pages, err := strconv.ParseUint(string(fields[1]), 10, 64); err == nil {
				p.MemoryBytes = pages * e.pageSize
			}
		}
	}
	if data, err := readProcFile(e.proc.Path(dir, "status")); err == nil {
		if uid, ok := parseStatusUID(data); ok {
			p.User = gpu.Ptr(users.name(uid))
		}
	}
	return p, true
}

type stat struct {
	name      string
	state     byte
	utime     uint64
	stime     uint64
	priority  int32
	starttime uint64
}

// parseStat extracts fields from /proc/[pid]/stat. The comm may contain
// spaces and parentheses, so it ends at the last ')'.
func parseStat(data []byte) (stat, bool) {
	start := bytes.IndexByte(data, '(')
	end := bytes.LastIndexByte(data, ')')
	if start == -1 || end == -1 || end <= start || end+2 > len(data) {
		return stat{}, false
	}
	fields := bytes.Fields(data[end+2:])
	if len(fields) < 20 {
		return stat{}, false
	}
	u := func(i int) uint64 {
		v, _ := strconv.ParseUint(string(fields[i]), 10, 64)
		return v
	}
	prio, _ := strconv.ParseInt(string(fields[15]), 10, 32)
	return stat{
		name:      string(data[start+1 : end]),
		state:     fields[0][0],
		utime:     u(11),
		stime:     u(12),
		priority:  int32(prio),
		starttime: u(19),
	}, true
}

// cpuPercent is the lifetime average CPU use of the process, not a
// point-in-time rate.
func cpuPercent(st stat, uptime float64) float64 {
	cpuSeconds := float64(st.utime+st.stime) / clockTicks
	elapsed := uptime - float64(st.starttime)/clockTicks
	if elapsed < 1 {
		elapsed = 1
	}
	return cpuSeconds / elapsed * 100
}

// parseStatusUID returns the real uid from the Uid: line.
func parseStatusUID(data []byte) (uint32, bool) {
	for len(data) > 0 {
		lineEnd := bytes.IndexByte(data, '\n')
		if lineEnd == -1 {
			lineEnd = len(data)
		}
		line := data[:lineEnd]
		if bytes.HasPrefix(line, []byte("Uid:")) {
			fields := bytes.Fields(line[4:])
			if len(fields) == 0 {
				return 0, false
			}
			uid, err := strconv.ParseUint(string(fields[0]), 10, 32)
			return uint32(uid), err == nil
		}
		if lineEnd+1 >= len(data) {
			break
		}
		data = data[lineEnd+1:]
	}
	return 0, false
}
