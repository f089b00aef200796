// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

//go:build cuda

package nvcuda

// #cgo LDFLAGS: -lcuda
// #include <cuda.h>
// #include <string.h>
import "C"
import (
	"unsafe"

	"github.com/gomlx/gocuda/driver"
)

func init() {
	driver.Register(Name, func(_ string) (driver.API, error) {
		return &libcuda{}, nil
	})
}

// libcuda implements driver.API by calling libcuda directly. It holds no state.
type libcuda struct{}

var _ driver.API = (*libcuda)(nil)

func (*libcuda) Name() string { return Name }

func result(r C.CUresult) driver.Result { return driver.Result(r) }

func cContext(ctx driver.Context) C.CUcontext {
	return C.CUcontext(unsafe.Pointer(uintptr(ctx)))
}

func cStream(s driver.Stream) C.CUstream {
	return C.CUstream(unsafe.Pointer(uintptr(s)))
}

func cEvent(e driver.Event) C.CUevent {
	return C.CUevent(unsafe.Pointer(uintptr(e)))
}

func (*libcuda) Init(flags uint32) driver.Result {
	return result(C.cuInit(C.uint(flags)))
}

func (*libcuda) DeviceGetCount() (int, driver.Result) {
	var count C.int
	r := C.cuDeviceGetCount(&count)
	return int(count), result(r)
}

func (*libcuda) DeviceGet(ordinal int) (driver.Device, driver.Result) {
	var dev C.CUdevice
	r := C.cuDeviceGet(&dev, C.int(ordinal))
	return driver.Device(dev), result(r)
}

func (*libcuda) DeviceGetName(dev driver.Device) (string, driver.Result) {
	const maxLen = 256
	var buf [maxLen]C.char
	r := C.cuDeviceGetName(&buf[0], C.int(maxLen), C.CUdevice(dev))
	if r != C.CUDA_SUCCESS {
		return "", result(r)
	}
	return C.GoString(&buf[0]), driver.Success
}

func (*libcuda) DeviceTotalMem(dev driver.Device) (uint64, driver.Result) {
	var bytes C.size_t
	r := C.cuDeviceTotalMem_v2(&bytes, C.CUdevice(dev))
	return uint64(bytes), result(r)
}

func (*libcuda) DevicePrimaryCtxRetain(dev driver.Device) (driver.Context, driver.Result) {
	var ctx C.CUcontext
	r := C.cuDevicePrimaryCtxRetain(&ctx, C.CUdevice(dev))
	return driver.Context(uintptr(unsafe.Pointer(ctx))), result(r)
}

func (*libcuda) DevicePrimaryCtxRelease(dev driver.Device) driver.Result {
	return result(C.cuDevicePrimaryCtxRelease_v2(C.CUdevice(dev)))
}

func (*libcuda) CtxCreate(flags uint32, dev driver.Device) (driver.Context, driver.Result) {
	var ctx C.CUcontext
	r := C.cuCtxCreate_v2(&ctx, C.uint(flags), C.CUdevice(dev))
	return driver.Context(uintptr(unsafe.Pointer(ctx))), result(r)
}

func (*libcuda) CtxDestroy(ctx driver.Context) driver.Result {
	return result(C.cuCtxDestroy_v2(cContext(ctx)))
}

func (*libcuda) CtxPushCurrent(ctx driver.Context) driver.Result {
	return result(C.cuCtxPushCurrent_v2(cContext(ctx)))
}

func (*libcuda) CtxPopCurrent() (driver.Context, driver.Result) {
	var ctx C.CUcontext
	r := C.cuCtxPopCurrent_v2(&ctx)
	return driver.Context(uintptr(unsafe.Pointer(ctx))), result(r)
}

func (*libcuda) CtxGetCurrent() (driver.Context, driver.Result) {
	var ctx C.CUcontext
	r := C.cuCtxGetCurrent(&ctx)
	return driver.Context(uintptr(unsafe.Pointer(ctx))), result(r)
}

func (*libcuda) StreamCreate(flags uint32) (driver.Stream, driver.Result) {
	var s C.CUstream
	r := C.cuStreamCreate(&s, C.uint(flags))
	return driver.Stream(uintptr(unsafe.Pointer(s))), result(r)
}

func (*libcuda) StreamDestroy(s driver.Stream) driver.Result {
	return result(C.cuStreamDestroy_v2(cStream(s)))
}

func (*libcuda) StreamSynchronize(s driver.Stream) driver.Result {
	return result(C.cuStreamSynchronize(cStream(s)))
}

func (*libcuda) StreamQuery(s driver.Stream) driver.Result {
	return result(C.cuStreamQuery(cStream(s)))
}

func (*libcuda) StreamGetCtx(s driver.Stream) (driver.Context, driver.Result) {
	var ctx C.CUcontext
	r := C.cuStreamGetCtx(cStream(s), &ctx)
	return driver.Context(uintptr(unsafe.Pointer(ctx))), result(r)
}

func (*libcuda) StreamWaitEvent(s driver.Stream, e driver.Event, flags uint32) driver.Result {
	return result(C.cuStreamWaitEvent(cStream(s), cEvent(e), C.uint(flags)))
}

func (*libcuda) EventCreate(flags uint32) (driver.Event, driver.Result) {
	var e C.CUevent
	r := C.cuEventCreate(&e, C.uint(flags))
	return driver.Event(uintptr(unsafe.Pointer(e))), result(r)
}

func (*libcuda) EventDestroy(e driver.Event) driver.Result {
	return result(C.cuEventDestroy_v2(cEvent(e)))
}

func (*libcuda) EventRecord(e driver.Event, s driver.Stream) driver.Result {
	return result(C.cuEventRecord(cEvent(e), cStream(s)))
}

func (*libcuda) EventQuery(e driver.Event) driver.Result {
	return result(C.cuEventQuery(cEvent(e)))
}

func (*libcuda) EventSynchronize(e driver.Event) driver.Result {
	return result(C.cuEventSynchronize(cEvent(e)))
}

func (*libcuda) EventElapsedTime(start, end driver.Event) (float32, driver.Result) {
	var ms C.float
	r := C.cuEventElapsedTime(&ms, cEvent(start), cEvent(end))
	return float32(ms), result(r)
}

func (*libcuda) MemAllocHost(size uintptr) (unsafe.Pointer, driver.Result) {
	var p unsafe.Pointer
	r := C.cuMemAllocHost_v2(&p, C.size_t(size))
	return p, result(r)
}

func (*libcuda) MemFreeHost(p unsafe.Pointer) driver.Result {
	return result(C.cuMemFreeHost(p))
}

func (*libcuda) MemAllocAsync(size uintptr, s driver.Stream) (driver.DevicePtr, driver.Result) {
	var p C.CUdeviceptr
	r := C.cuMemAllocAsync(&p, C.size_t(size), cStream(s))
	return driver.DevicePtr(p), result(r)
}

func (*libcuda) MemFreeAsync(p driver.DevicePtr, s driver.Stream) driver.Result {
	return result(C.cuMemFreeAsync(C.CUdeviceptr(p), cStream(s)))
}

func (*libcuda) Memcpy(dst, src driver.DevicePtr, size uintptr) driver.Result {
	return result(C.cuMemcpy(C.CUdeviceptr(dst), C.CUdeviceptr(src), C.size_t(size)))
}

func (*libcuda) MemcpyAsync(dst, src driver.DevicePtr, size uintptr, s driver.Stream) driver.Result {
	return result(C.cuMemcpyAsync(C.CUdeviceptr(dst), C.CUdeviceptr(src), C.size_t(size), cStream(s)))
}

func (*libcuda) Memcpy2DAsync(p *driver.Memcpy2D, s driver.Stream) driver.Result {
	var params C.CUDA_MEMCPY2D
	C.memset(unsafe.Pointer(&params), 0, C.size_t(unsafe.Sizeof(params)))
	params.srcMemoryType = C.CUmemorytype(p.SrcMemoryType)
	params.srcPitch = C.size_t(p.SrcPitch)
	if p.SrcMemoryType == driver.MemoryTypeHost {
		params.srcHost = unsafe.Pointer(uintptr(p.Src))
	} else {
		params.srcDevice = C.CUdeviceptr(p.Src)
	}
	params.dstMemoryType = C.CUmemorytype(p.DstMemoryType)
	params.dstPitch = C.size_t(p.DstPitch)
	if p.DstMemoryType == driver.MemoryTypeHost {
		params.dstHost = unsafe.Pointer(uintptr(p.Dst))
	} else {
		params.dstDevice = C.CUdeviceptr(p.Dst)
	}
	params.WidthInBytes = C.size_t(p.WidthInBytes)
	params.Height = C.size_t(p.Height)
	return result(C.cuMemcpy2DAsync_v2(&params, cStream(s)))
}
