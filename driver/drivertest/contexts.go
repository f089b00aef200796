// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package drivertest

import "github.com/gomlx/gocuda/driver"

// DeviceGetCount implements driver.API.
func (f *Fake) DeviceGetCount() (int, driver.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, failed := f.enter("cuDeviceGetCount"); failed {
		return 0, r
	}
	return len(f.devices), driver.Success
}

func (f *Fake) lookupDevice(dev driver.Device) (*fakeDevice, bool) {
	if dev < 0 || int(dev) >= len(f.devices) {
		return nil, false
	}
	return f.devices[dev], true
}

// DeviceGet implements driver.API.
func (f *Fake) DeviceGet(ordinal int) (driver.Device, driver.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, failed := f.enter("cuDeviceGet"); failed {
		return 0, r
	}
	if _, ok := f.lookupDevice(driver.Device(ordinal)); !ok {
		return 0, errInvalidDevice
	}
	return driver.Device(ordinal), driver.Success
}

// DeviceGetName implements driver.API.
func (f *Fake) DeviceGetName(dev driver.Device) (string, driver.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, failed := f.enter("cuDeviceGetName"); failed {
		return "", r
	}
	d, ok := f.lookupDevice(dev)
	if !ok {
		return "", errInvalidDevice
	}
	return d.name, driver.Success
}

// DeviceTotalMem implements driver.API.
func (f *Fake) DeviceTotalMem(dev driver.Device) (uint64, driver.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, failed := f.enter("cuDeviceTotalMem"); failed {
		return 0, r
	}
	d, ok := f.lookupDevice(dev)
	if !ok {
		return 0, errInvalidDevice
	}
	return d.memory, driver.Success
}

// DevicePrimaryCtxRetain implements driver.API.
func (f *Fake) DevicePrimaryCtxRetain(dev driver.Device) (driver.Context, driver.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, failed := f.enter("cuDevicePrimaryCtxRetain"); failed {
		return 0, r
	}
	d, ok := f.lookupDevice(dev)
	if !ok {
		return 0, errInvalidDevice
	}
	if d.primary == 0 {
		d.primary = driver.Context(f.newHandle())
		f.contexts[d.primary] = &fakeContext{device: dev, isPrimary: true}
	}
	d.retained++
	return d.primary, driver.Success
}

// DevicePrimaryCtxRelease implements driver.API.
func (f *Fake) DevicePrimaryCtxRelease(dev driver.Device) driver.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, failed := f.enter("cuDevicePrimaryCtxRelease"); failed {
		return r
	}
	d, ok := f.lookupDevice(dev)
	if !ok {
		return errInvalidDevice
	}
	if d.retained == 0 {
		return errInvalidContext
	}
	d.retained--
	if d.retained == 0 {
		delete(f.contexts, d.primary)
		d.primary = 0
	}
	return driver.Success
}

// current returns the calling thread's current context, or 0. It must be called with f.mu held.
func (f *Fake) current() driver.Context {
	stack := f.stacks[threadID()]
	if len(stack) == 0 {
		return 0
	}
	return stack[len(stack)-1]
}

// CtxCreate implements driver.API. Like the native driver, it makes the new context current.
func (f *Fake) CtxCreate(flags uint32, dev driver.Device) (driver.Context, driver.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, failed := f.enter("cuCtxCreate"); failed {
		return 0, r
	}
	if _, ok := f.lookupDevice(dev); !ok {
		return 0, errInvalidDevice
	}
	if flags != 0 {
		return 0, errInvalidValue
	}
	ctx := driver.Context(f.newHandle())
	f.contexts[ctx] = &fakeContext{device: dev}
	tid := threadID()
	f.stacks[tid] = append(f.stacks[tid], ctx)
	return ctx, driver.Success
}

// CtxDestroy implements driver.API. If the context is current on the calling thread it is popped.
func (f *Fake) CtxDestroy(ctx driver.Context) driver.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, failed := f.enter("cuCtxDestroy"); failed {
		return r
	}
	c, ok := f.contexts[ctx]
	if !ok || c.isPrimary {
		return errInvalidContext
	}
	delete(f.contexts, ctx)
	tid := threadID()
	if stack := f.stacks[tid]; len(stack) > 0 && stack[len(stack)-1] == ctx {
		f.stacks[tid] = stack[:len(stack)-1]
	}
	return driver.Success
}

// CtxPushCurrent implements driver.API.
func (f *Fake) CtxPushCurrent(ctx driver.Context) driver.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, failed := f.enter("cuCtxPushCurrent"); failed {
		return r
	}
	if _, ok := f.contexts[ctx]; !ok {
		return errInvalidContext
	}
	tid := threadID()
	f.stacks[tid] = append(f.stacks[tid], ctx)
	return driver.Success
}

// CtxPopCurrent implements driver.API.
func (f *Fake) CtxPopCurrent() (driver.Context, driver.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, failed := f.enter("cuCtxPopCurrent"); failed {
		return 0, r
	}
	tid := threadID()
	stack := f.stacks[tid]
	if len(stack) == 0 {
		return 0, errInvalidContext
	}
	ctx := stack[len(stack)-1]
	if len(stack) == 1 {
		delete(f.stacks, tid)
	} else {
		f.stacks[tid] = stack[:len(stack)-1]
	}
	return ctx, driver.Success
}

// CtxGetCurrent implements driver.API.
func (f *Fake) CtxGetCurrent() (driver.Context, driver.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, failed := f.enter("cuCtxGetCurrent"); failed {
		return 0, r
	}
	return f.current(), driver.Success
}
