// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cuda

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gocuda/driver"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// HostMemory is a pinned (page-locked) host buffer, exclusively owned.
//
// Copies with HostMemory are synchronous. Pinned memory is also what asynchronous copies with
// DeviceMemory require on the host side.
type HostMemory struct {
	api       driver.API
	ptr       unsafe.Pointer
	size      int
	finalized atomic.Bool
}

// AllocHost allocates size bytes of pinned host memory.
func AllocHost(size int) (*HostMemory, error) {
	api, err := currentDriver()
	if err != nil {
		return nil, err
	}
	if size < 0 {
		return nil, errors.Wrapf(InvalidValue, "cuda.AllocHost(%d)", size)
	}
	ptr, r := api.MemAllocHost(uintptr(size))
	if err := check(r, "cuMemAllocHost"); err != nil {
		return nil, errors.WithMessagef(err, "allocating %s of pinned host memory", humanize.IBytes(uint64(size)))
	}
	live.hostBuffers.Add(1)
	h := &HostMemory{api: api, ptr: ptr, size: size}
	RegisterFinalizer(h)
	return h, nil
}

// Size in bytes.
func (h *HostMemory) Size() int {
	return h.size
}

// IsNil returns whether h is nil or finalized.
func (h *HostMemory) IsNil() bool {
	return h == nil || h.finalized.Load() || h.ptr == nil
}

// Ptr returns the address of the buffer, in the form taken by the raw copy functions.
// It is 0 if h is nil or finalized.
func (h *HostMemory) Ptr() driver.DevicePtr {
	if h.IsNil() {
		return 0
	}
	return driver.HostPtr(h.ptr)
}

// UnsafePointer returns the address of the buffer, or nil if h is nil or finalized.
func (h *HostMemory) UnsafePointer() unsafe.Pointer {
	if h.IsNil() {
		return nil
	}
	return h.ptr
}

// Bytes returns the buffer as a byte slice, or nil if h is nil or finalized.
// The slice must not be used after h is finalized.
func (h *HostMemory) Bytes() []byte {
	if h.IsNil() || h.size == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(h.ptr), h.size)
}

// HostView reinterprets the buffer as a slice of Size()/sizeof(T) elements of T.
// Trailing bytes that don't fill a whole element are not part of the view.
//
// The slice must not be used after h is finalized. It returns nil if h is nil or finalized, and
// panics if T has zero size.
func HostView[T any](h *HostMemory) []T {
	var zero T
	elementSize := int(unsafe.Sizeof(zero))
	if elementSize == 0 {
		exceptions.Panicf("cuda.HostView[%T]: zero sized element type", zero)
	}
	if h.IsNil() || h.size < elementSize {
		return nil
	}
	return unsafe.Slice((*T)(h.ptr), h.size/elementSize)
}

func (h *HostMemory) valid() error {
	if h.IsNil() {
		return errors.Wrap(InvalidValue, "host memory is nil or already finalized")
	}
	return nil
}

// CopyToRaw copies size bytes from the start of h to the address dst, synchronously.
// dst can be in host or device memory: the driver figures out the direction.
func (h *HostMemory) CopyToRaw(dst driver.DevicePtr, size int) error {
	defer runtime.KeepAlive(h)
	if err := h.valid(); err != nil {
		return err
	}
	if size < 0 || size > h.size {
		return errors.Wrapf(InvalidValue, "copying %d bytes out of host memory of %d bytes", size, h.size)
	}
	return check(h.api.Memcpy(dst, h.Ptr(), uintptr(size)), "cuMemcpy")
}

// CopyFromRaw copies size bytes from the address src to the start of h, synchronously.
func (h *HostMemory) CopyFromRaw(src driver.DevicePtr, size int) error {
	defer runtime.KeepAlive(h)
	if err := h.valid(); err != nil {
		return err
	}
	if size < 0 || size > h.size {
		return errors.Wrapf(InvalidValue, "copying %d bytes into host memory of %d bytes", size, h.size)
	}
	return check(h.api.Memcpy(h.Ptr(), src, uintptr(size)), "cuMemcpy")
}

// CopyTo copies dst.Size() bytes from h into dst. It fails with InvalidValue if dst is larger than h.
func (h *HostMemory) CopyTo(dst *HostMemory) error {
	defer runtime.KeepAlive(dst)
	if err := dst.valid(); err != nil {
		return err
	}
	return h.CopyToRaw(dst.Ptr(), dst.size)
}

// Clone allocates a new buffer of the same size and copies h into it.
func (h *HostMemory) Clone() (*HostMemory, error) {
	if err := h.valid(); err != nil {
		return nil, err
	}
	clone, err := AllocHost(h.size)
	if err != nil {
		return nil, err
	}
	if err := h.CopyTo(clone); err != nil {
		clone.Finalize()
		return nil, err
	}
	return clone, nil
}

// Finalize frees the pinned memory. It is idempotent.
func (h *HostMemory) Finalize() {
	if h == nil || !h.finalized.CompareAndSwap(false, true) {
		return
	}
	live.hostBuffers.Add(-1)
	if r := h.api.MemFreeHost(h.ptr); r != driver.Success {
		klog.Warningf("cuda: cuMemFreeHost(%p) failed while releasing: %v", h.ptr, Classify(r))
	}
	h.ptr = nil
}

// String implements fmt.Stringer.
func (h *HostMemory) String() string {
	if h.IsNil() {
		return "HostMemory(nil)"
	}
	return fmt.Sprintf("HostMemory(%p, %s)", h.ptr, humanize.IBytes(uint64(h.size)))
}
