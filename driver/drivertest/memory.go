// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package drivertest

import (
	"unsafe"

	"github.com/gomlx/gocuda/driver"
)

// fakeAlloc is one device allocation.
type fakeAlloc struct {
	data    []byte
	device  driver.Device
	freeing bool
}

// deviceAllocGap separates fake device allocations, so out-of-bounds addresses don't resolve.
const deviceAllocGap = 256

// MemAllocHost implements driver.API. The buffer is Go memory kept reachable until freed.
func (f *Fake) MemAllocHost(size uintptr) (unsafe.Pointer, driver.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, failed := f.enter("cuMemAllocHost"); failed {
		return nil, r
	}
	if size == 0 {
		return nil, errInvalidValue
	}
	buf := make([]byte, size)
	ptr := unsafe.Pointer(&buf[0])
	f.host[uintptr(ptr)] = buf
	return ptr, driver.Success
}

// MemFreeHost implements driver.API.
func (f *Fake) MemFreeHost(p unsafe.Pointer) driver.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, failed := f.enter("cuMemFreeHost"); failed {
		return r
	}
	if _, ok := f.host[uintptr(p)]; !ok {
		return errInvalidValue
	}
	delete(f.host, uintptr(p))
	return driver.Success
}

func (f *Fake) deviceUsed(dev driver.Device) (used uint64) {
	for _, alloc := range f.device {
		if alloc.device == dev {
			used += uint64(len(alloc.data))
		}
	}
	return
}

// MemAllocAsync implements driver.API. The address is reserved immediately, on the device of the
// stream's context.
func (f *Fake) MemAllocAsync(size uintptr, s driver.Stream) (driver.DevicePtr, driver.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, failed := f.enter("cuMemAllocAsync"); failed {
		return 0, r
	}
	stream, ok := f.streams[s]
	if !ok {
		return 0, errInvalidHandle
	}
	if size == 0 {
		return 0, errInvalidValue
	}
	ctx, ok := f.contexts[stream.ctx]
	if !ok {
		return 0, errInvalidContext
	}
	if f.deviceUsed(ctx.device)+uint64(size) > f.devices[ctx.device].memory {
		return 0, errOutOfMemory
	}
	p := f.nextAddress
	f.nextAddress += driver.DevicePtr(size + deviceAllocGap)
	f.device[p] = &fakeAlloc{data: make([]byte, size), device: ctx.device}
	return p, driver.Success
}

// MemFreeAsync implements driver.API. The allocation is released when the stream reaches the free.
func (f *Fake) MemFreeAsync(p driver.DevicePtr, s driver.Stream) driver.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, failed := f.enter("cuMemFreeAsync"); failed {
		return r
	}
	stream, ok := f.streams[s]
	if !ok {
		return errInvalidHandle
	}
	alloc, ok := f.device[p]
	if !ok || alloc.freeing {
		return errInvalidValue
	}
	alloc.freeing = true
	f.enqueue(stream, &fakeOp{run: func() { delete(f.device, p) }})
	return driver.Success
}

// resolveDevice returns the bytes [p, p+size) if they lie within one device allocation.
func (f *Fake) resolveDevice(p driver.DevicePtr, size uintptr) ([]byte, bool) {
	for base, alloc := range f.device {
		if p >= base && uint64(p-base)+uint64(size) <= uint64(len(alloc.data)) {
			offset := uintptr(p - base)
			return alloc.data[offset : offset+size], true
		}
	}
	return nil, false
}

// resolveHost returns the bytes [p, p+size) if they lie within one pinned host allocation.
func (f *Fake) resolveHost(p driver.DevicePtr, size uintptr) ([]byte, bool) {
	addr := uintptr(p)
	for base, buf := range f.host {
		if addr >= base && addr-base+size <= uintptr(len(buf)) {
			offset := addr - base
			return buf[offset : offset+size], true
		}
	}
	return nil, false
}

// resolve finds an address in either address space, as the driver does with unified addressing.
func (f *Fake) resolve(p driver.DevicePtr, size uintptr) ([]byte, bool) {
	if data, ok := f.resolveDevice(p, size); ok {
		return data, true
	}
	return f.resolveHost(p, size)
}

func (f *Fake) resolveTyped(memType driver.MemoryType, p driver.DevicePtr, size uintptr) ([]byte, bool) {
	switch memType {
	case driver.MemoryTypeHost:
		return f.resolveHost(p, size)
	case driver.MemoryTypeDevice:
		return f.resolveDevice(p, size)
	case driver.MemoryTypeUnified:
		return f.resolve(p, size)
	}
	return nil, false
}

// Memcpy implements driver.API.
func (f *Fake) Memcpy(dst, src driver.DevicePtr, size uintptr) driver.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, failed := f.enter("cuMemcpy"); failed {
		return r
	}
	if size == 0 {
		return driver.Success
	}
	dstData, ok := f.resolve(dst, size)
	if !ok {
		return errInvalidValue
	}
	srcData, ok := f.resolve(src, size)
	if !ok {
		return errInvalidValue
	}
	copy(dstData, srcData)
	return driver.Success
}

// submit runs op in stream s, or immediately for the null stream (0).
func (f *Fake) submit(s driver.Stream, run func()) driver.Result {
	if s == 0 {
		f.drainAll()
		run()
		return driver.Success
	}
	stream, ok := f.streams[s]
	if !ok {
		return errInvalidHandle
	}
	f.enqueue(stream, &fakeOp{run: run})
	return driver.Success
}

// drainAll completes the work of every stream, as the legacy null stream synchronizes with them.
func (f *Fake) drainAll() {
	for _, s := range f.streams {
		f.drain(s)
	}
}

// MemcpyAsync implements driver.API. The bytes are copied when the stream executes the copy.
func (f *Fake) MemcpyAsync(dst, src driver.DevicePtr, size uintptr, s driver.Stream) driver.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, failed := f.enter("cuMemcpyAsync"); failed {
		return r
	}
	if size == 0 {
		return driver.Success
	}
	dstData, ok := f.resolve(dst, size)
	if !ok {
		return errInvalidValue
	}
	srcData, ok := f.resolve(src, size)
	if !ok {
		return errInvalidValue
	}
	return f.submit(s, func() { copy(dstData, srcData) })
}

// Memcpy2DAsync implements driver.API.
func (f *Fake) Memcpy2DAsync(p *driver.Memcpy2D, s driver.Stream) driver.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, failed := f.enter("cuMemcpy2DAsync"); failed {
		return r
	}
	if p == nil || p.WidthInBytes > p.SrcPitch || p.WidthInBytes > p.DstPitch {
		return errInvalidValue
	}
	if p.WidthInBytes == 0 || p.Height == 0 {
		return driver.Success
	}
	width, height := p.WidthInBytes, p.Height
	srcData, ok := f.resolveTyped(p.SrcMemoryType, p.Src, (height-1)*p.SrcPitch+width)
	if !ok {
		return errInvalidValue
	}
	dstData, ok := f.resolveTyped(p.DstMemoryType, p.Dst, (height-1)*p.DstPitch+width)
	if !ok {
		return errInvalidValue
	}
	srcPitch, dstPitch := p.SrcPitch, p.DstPitch
	return f.submit(s, func() {
		for row := uintptr(0); row < height; row++ {
			copy(dstData[row*dstPitch:row*dstPitch+width], srcData[row*srcPitch:row*srcPitch+width])
		}
	})
}
