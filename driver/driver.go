// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package driver defines the raw boundary to a CUDA driver implementation.
//
// It exposes the native functions needed by package cuda almost 1:1: opaque handle types,
// numeric status codes ([Result]) and the [API] interface. It holds no policy: ownership,
// error classification and lifetimes live in package cuda.
//
// Implementations register themselves with [Register] during package initialization:
//
//   - github.com/gomlx/gocuda/driver/nvcuda binds libcuda through cgo (build tag "cuda").
//   - github.com/gomlx/gocuda/driver/drivertest is an in-memory fake used for tests.
package driver

import "unsafe"

// Result is the native status code (CUresult) returned by every driver function.
type Result int32

const (
	// Success is the status of a call that completed without errors.
	Success Result = 0

	// NotReady is returned by stream and event queries while work is still pending.
	NotReady Result = 600
)

// Handle types. They are opaque to Go and never dereferenced.
type (
	Device    int32
	Context   uintptr
	Stream    uintptr
	Event     uintptr
	DevicePtr uint64
)

// MemoryType selects the address space of one side of a 2D copy.
type MemoryType uint32

const (
	MemoryTypeHost    MemoryType = 1
	MemoryTypeDevice  MemoryType = 2
	MemoryTypeArray   MemoryType = 3
	MemoryTypeUnified MemoryType = 4
)

// Memcpy2D describes a strided 2D copy (CUDA_MEMCPY2D).
//
// Src and Dst are addresses in the space given by the respective MemoryType: for host memory
// they hold the host address.
type Memcpy2D struct {
	SrcMemoryType MemoryType
	Src           DevicePtr
	SrcPitch      uintptr

	DstMemoryType MemoryType
	Dst           DevicePtr
	DstPitch      uintptr

	WidthInBytes uintptr
	Height       uintptr
}

// API is the set of native driver functions used by package cuda.
//
// Context, stream and event functions follow the driver's threading rules: the context stack
// is per OS thread, and functions that create objects use the calling thread's current context.
type API interface {
	// Name of the implementation, e.g. "cuda" or "fake".
	Name() string

	Init(flags uint32) Result

	DeviceGetCount() (int, Result)
	DeviceGet(ordinal int) (Device, Result)
	DeviceGetName(dev Device) (string, Result)
	DeviceTotalMem(dev Device) (uint64, Result)
	DevicePrimaryCtxRetain(dev Device) (Context, Result)
	DevicePrimaryCtxRelease(dev Device) Result

	CtxCreate(flags uint32, dev Device) (Context, Result)
	CtxDestroy(ctx Context) Result
	CtxPushCurrent(ctx Context) Result
	CtxPopCurrent() (Context, Result)
	CtxGetCurrent() (Context, Result)

	StreamCreate(flags uint32) (Stream, Result)
	StreamDestroy(s Stream) Result
	StreamSynchronize(s Stream) Result
	StreamQuery(s Stream) Result
	StreamGetCtx(s Stream) (Context, Result)
	StreamWaitEvent(s Stream, e Event, flags uint32) Result

	EventCreate(flags uint32) (Event, Result)
	EventDestroy(e Event) Result
	EventRecord(e Event, s Stream) Result
	EventQuery(e Event) Result
	EventSynchronize(e Event) Result
	EventElapsedTime(start, end Event) (float32, Result)

	MemAllocHost(size uintptr) (unsafe.Pointer, Result)
	MemFreeHost(p unsafe.Pointer) Result
	MemAllocAsync(size uintptr, s Stream) (DevicePtr, Result)
	MemFreeAsync(p DevicePtr, s Stream) Result
	Memcpy(dst, src DevicePtr, size uintptr) Result
	MemcpyAsync(dst, src DevicePtr, size uintptr, s Stream) Result
	Memcpy2DAsync(p *Memcpy2D, s Stream) Result
}

// HostPtr converts a host address to the unified address form taken by the copy functions.
func HostPtr(p unsafe.Pointer) DevicePtr {
	return DevicePtr(uintptr(p))
}
