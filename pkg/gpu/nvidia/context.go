package nvidia

import (
	"errors"
	"sync"

	"GpuTelemetry/pkg/gpu"
	"GpuTelemetry/pkg/logging"
)

var errReleased = errors.New("nvml context released")

// Context owns one initialised NVML library. Every user holds a Ref; the
// library is shut down when the last Ref is released, and a released Ref
// refuses further use.
type Context struct {
	lib Library

	mu   sync.Mutex
	refs int
	down bool
}

// Ref is one counted reference to a Context.
type Ref struct {
	ctx *Context

	mu       sync.Mutex
	released bool
}

// Open initialises lib and returns the first reference to it.
func Open(lib Library) (*Ref, error) {
	if ret := lib.Init(); !ok(ret) {
		return nil, gpu.InitializationFailed("nvml init", ret)
	}
	c := &Context{lib: lib, refs: 1}
	return &Ref{ctx: c}, nil
}

// Clone takes another reference on the same context.
func (r *Ref) Clone() (*Ref, error) {
	if err := r.check("clone nvml reference"); err != nil {
		return nil, err
	}
	c := r.ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return nil, gpu.InitializationFailed("clone nvml reference", errReleased)
	}
	c.refs++
	return &Ref{ctx: c}, nil
}

// Library returns the NVML library while the reference is live.
func (r *Ref) Library(op string) (Library, error) {
	if err := r.check(op); err != nil {
		return nil, err
	}
	return r.ctx.lib, nil
}

func (r *Ref) check(op string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return gpu.InitializationFailed(op, errReleased)
	}
	return nil
}

// Release drops the reference. Releasing twice is a no-op.
func (r *Ref) Release() error {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return nil
	}
	r.released = true
	r.mu.Unlock()
	return r.ctx.release()
}

// Refs reports the live reference count.
func (c *Context) Refs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refs
}

func (c *Context) release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs--
	if c.refs > 0 || c.down {
		return nil
	}
	c.down = true
	logging.WithComponent("nvidia").Debug("shutting down nvml")
	if ret := c.lib.Shutdown(); !ok(ret) {
		return gpu.ControlFailed("nvml shutdown", ret)
	}
	return nil
}

// Context exposes the shared context, mainly for reference accounting.
func (r *Ref) Context() *Context { return r.ctx }
