// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cuda

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/gomlx/gocuda/driver"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Context is an execution context bound to a device.
//
// The driver keeps a stack of current contexts per OS thread: new streams, events and device
// allocations go to the context on top of the calling thread's stack. Use Guard or Run to make
// a context current for a scope.
type Context struct {
	api driver.API
	h   *handle[driver.Context]
}

func newOwnedContext(api driver.API, raw driver.Context) *Context {
	c := &Context{
		api: api,
		h:   newOwnedHandle(raw, "cuCtxDestroy", api.CtxDestroy, &live.contexts),
	}
	RegisterFinalizer(c)
	return c
}

func newAmbientContext(api driver.API, raw driver.Context) *Context {
	return &Context{api: api, h: newAmbientHandle(raw)}
}

// NewContext creates a new context on the device, exclusively owned by the returned Context.
//
// The calling thread's current context stack is left as it was: push the context (see Guard) to use it.
func NewContext(dev Device) (*Context, error) {
	if dev.api == nil {
		return nil, errors.Wrap(InvalidDevice, "cuda.NewContext with zero Device")
	}
	api := dev.api
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	raw, r := api.CtxCreate(0, dev.raw)
	if err := check(r, "cuCtxCreate"); err != nil {
		return nil, errors.WithMessagef(err, "creating context on %s", dev)
	}

	// The native create made the new context current: pop it.
	if _, r := api.CtxPopCurrent(); r != driver.Success {
		if r := api.CtxDestroy(raw); r != driver.Success {
			klog.Warningf("cuda: cuCtxDestroy(%#x) failed after failed pop: %v", uintptr(raw), Classify(r))
		}
		return nil, errors.WithMessagef(check(r, "cuCtxPopCurrent"), "creating context on %s", dev)
	}
	klog.V(1).Infof("cuda: created context %#x on %s", uintptr(raw), dev)
	return newOwnedContext(api, raw), nil
}

// RetainPrimaryContext retains the device's primary context and returns it as an Ambient
// Context: this package never destroys or releases it. See Device.ReleasePrimaryContext.
func RetainPrimaryContext(dev Device) (*Context, error) {
	if dev.api == nil {
		return nil, errors.Wrap(InvalidDevice, "cuda.RetainPrimaryContext with zero Device")
	}
	raw, r := dev.api.DevicePrimaryCtxRetain(dev.raw)
	if err := check(r, "cuDevicePrimaryCtxRetain"); err != nil {
		return nil, err
	}
	return newAmbientContext(dev.api, raw), nil
}

// CurrentContext returns the context on top of the calling thread's stack, as an Ambient Context.
// If no context is current, the returned Context IsNil.
func CurrentContext() (*Context, error) {
	api, err := currentDriver()
	if err != nil {
		return nil, err
	}
	raw, r := api.CtxGetCurrent()
	if err := check(r, "cuCtxGetCurrent"); err != nil {
		return nil, err
	}
	return newAmbientContext(api, raw), nil
}

// WrapContext references a native context owned elsewhere, as an Ambient Context.
func WrapContext(raw driver.Context) (*Context, error) {
	api, err := currentDriver()
	if err != nil {
		return nil, err
	}
	return newAmbientContext(api, raw), nil
}

// IsNil returns whether c is nil, finalized, or references no native context.
func (c *Context) IsNil() bool {
	return c == nil || !c.h.valid() || c.h.raw == 0
}

// Raw returns the native context handle, or 0 if c is nil or finalized.
func (c *Context) Raw() driver.Context {
	if c == nil || !c.h.valid() {
		return 0
	}
	return c.h.raw
}

// Ownership of the native context by c.
func (c *Context) Ownership() Ownership {
	if c == nil {
		return Ambient
	}
	return c.h.ownership()
}

func (c *Context) raw() (driver.Context, error) {
	if c == nil || !c.h.valid() {
		return 0, errors.Wrap(InvalidContext, "context is nil or already finalized")
	}
	return c.h.raw, nil
}

// Clone returns a new reference to the same native context: the native context is destroyed
// when the last reference is finalized. Cloning an Ambient context returns another Ambient context.
//
// It panics if c was already finalized.
func (c *Context) Clone() *Context {
	clone := &Context{api: c.api, h: c.h.clone()}
	if clone.h.owner != nil {
		RegisterFinalizer(clone)
	}
	return clone
}

// Finalize releases this reference to the native context. It is idempotent.
//
// The context must not be current in any thread when its last reference is finalized.
func (c *Context) Finalize() {
	if c == nil {
		return
	}
	c.h.release()
}

// Push makes c the current context of the calling thread, on top of the previous one.
// c is kept reachable until it is popped.
//
// The calling goroutine is locked to its OS thread until the matching PopContext: Push and
// PopContext must be called from the same goroutine. Prefer Guard or Run.
func (c *Context) Push() error {
	raw, err := c.raw()
	if err != nil {
		return err
	}
	runtime.LockOSThread()
	if err := check(c.api.CtxPushCurrent(raw), "cuCtxPushCurrent"); err != nil {
		runtime.UnlockOSThread()
		return err
	}
	pushed.pin(raw, c)
	return nil
}

// pushed keeps the wrappers of contexts pushed with Push reachable while they are on a native
// stack, so their finalizer can't destroy them while current.
var pushed = pinnedContexts{byRaw: make(map[driver.Context][]*Context)}

type pinnedContexts struct {
	mu    sync.Mutex
	byRaw map[driver.Context][]*Context
}

func (p *pinnedContexts) pin(raw driver.Context, c *Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byRaw[raw] = append(p.byRaw[raw], c)
}

// unpin drops the most recent pin of raw. Contexts pushed outside this package have none.
func (p *pinnedContexts) unpin(raw driver.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pins := p.byRaw[raw]
	switch len(pins) {
	case 0:
	case 1:
		delete(p.byRaw, raw)
	default:
		pins[len(pins)-1] = nil
		p.byRaw[raw] = pins[:len(pins)-1]
	}
}

// count returns the number of pins of raw.
func (p *pinnedContexts) count(raw driver.Context) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byRaw[raw])
}

// PopContext pops whatever context is on top of the calling thread's stack.
func PopContext() error {
	api, err := currentDriver()
	if err != nil {
		return err
	}
	return popContext(api)
}

func popContext(api driver.API) error {
	raw, r := api.CtxPopCurrent()
	if r != driver.Success {
		return check(r, "cuCtxPopCurrent")
	}
	pushed.unpin(raw)
	runtime.UnlockOSThread()
	return nil
}

// ContextGuard keeps a context current until it is released. See Context.Guard.
type ContextGuard struct {
	ctx      *Context
	released bool
}

// Guard pushes c on the calling thread's stack, and returns a guard whose Release pops it.
//
// Typical use:
//
//	guard, err := ctx.Guard()
//	if err != nil {
//		return err
//	}
//	defer guard.Release()
//
// The guard must be released by the same goroutine that created it.
func (c *Context) Guard() (*ContextGuard, error) {
	if err := c.Push(); err != nil {
		return nil, err
	}
	return &ContextGuard{ctx: c}, nil
}

// Context returns the context held current by the guard.
func (g *ContextGuard) Context() *Context {
	return g.ctx
}

// Release pops the guarded context. Only the first call pops: further calls are no-ops.
//
// A failure to pop is logged. The context then stays on the native stack, so the goroutine
// stays locked to its OS thread until a later PopContext succeeds. If the goroutine exits
// while locked, Go terminates the thread along with its stack.
func (g *ContextGuard) Release() {
	if g == nil || g.released {
		return
	}
	g.released = true
	if err := popContext(g.ctx.api); err != nil {
		klog.Warningf("cuda: failed to pop context %#x on guard release: %v", uintptr(g.ctx.h.raw), err)
	}
	runtime.KeepAlive(g.ctx)
}

// Run calls fn with c current in the calling thread, and pops c afterwards, also if fn panics.
func (c *Context) Run(fn func() error) error {
	guard, err := c.Guard()
	if err != nil {
		return err
	}
	defer guard.Release()
	return fn()
}

// String implements fmt.Stringer.
func (c *Context) String() string {
	if c.IsNil() {
		return "Context(nil)"
	}
	return fmt.Sprintf("Context(%#x, %s)", uintptr(c.h.raw), c.Ownership())
}
