// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cuda

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gocuda/driver"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DeviceMemory is a device buffer allocated and freed in stream order, exclusively owned.
//
// It holds its own reference to the stream it was allocated on (the bound stream), so the
// stream outlives the buffer even if the caller finalizes theirs. Copies are asynchronous: they
// take an optional stream and default to the bound stream when it is nil. The caller must
// synchronize before using the results on the host.
//
// DeviceMemory has no internal synchronization: using it from two streams requires explicit
// ordering with events (see Stream.WaitEvent).
type DeviceMemory struct {
	api       driver.API
	ptr       driver.DevicePtr
	size      int
	stream    *Stream
	finalized atomic.Bool
}

// AllocDevice allocates size bytes of device memory, in stream order: the memory can only be
// used by work ordered after the work already enqueued in stream.
func AllocDevice(size int, stream *Stream) (*DeviceMemory, error) {
	defer runtime.KeepAlive(stream)
	s, err := stream.raw()
	if err != nil {
		return nil, errors.WithMessage(err, "cuda.AllocDevice")
	}
	if size < 0 {
		return nil, errors.Wrapf(InvalidValue, "cuda.AllocDevice(%d)", size)
	}
	api := stream.api
	ptr, r := api.MemAllocAsync(uintptr(size), s)
	if err := check(r, "cuMemAllocAsync"); err != nil {
		return nil, errors.WithMessagef(err, "allocating %s of device memory", humanize.IBytes(uint64(size)))
	}
	live.deviceBuffers.Add(1)
	klog.V(2).Infof("cuda: allocated %s of device memory at %#x on %s", humanize.IBytes(uint64(size)), ptr, stream)
	m := &DeviceMemory{api: api, ptr: ptr, size: size, stream: stream.Clone()}
	RegisterFinalizer(m)
	return m, nil
}

// Size in bytes.
func (m *DeviceMemory) Size() int {
	return m.size
}

// IsNil returns whether m is nil or finalized.
func (m *DeviceMemory) IsNil() bool {
	return m == nil || m.finalized.Load()
}

// Ptr returns the device address of the buffer, or 0 if m is nil or finalized.
func (m *DeviceMemory) Ptr() driver.DevicePtr {
	if m.IsNil() {
		return 0
	}
	return m.ptr
}

// Stream returns the bound stream. It is owned by m: Clone it to keep it beyond m's lifetime.
func (m *DeviceMemory) Stream() *Stream {
	if m == nil {
		return nil
	}
	return m.stream
}

func (m *DeviceMemory) valid() error {
	if m.IsNil() {
		return errors.Wrap(InvalidValue, "device memory is nil or already finalized")
	}
	return nil
}

// streamFor returns the native handle of the explicit stream, or of the bound one if nil.
func (m *DeviceMemory) streamFor(stream *Stream) (driver.Stream, error) {
	if stream == nil {
		stream = m.stream
	}
	return stream.raw()
}

// CopyToRaw enqueues the copy of size bytes from the start of m to the address dst (host or
// device), on stream, or on the bound stream if it is nil.
func (m *DeviceMemory) CopyToRaw(dst driver.DevicePtr, size int, stream *Stream) error {
	defer runtime.KeepAlive(m)
	defer runtime.KeepAlive(stream)
	if err := m.valid(); err != nil {
		return err
	}
	if size < 0 || size > m.size {
		return errors.Wrapf(InvalidValue, "copying %d bytes out of device memory of %d bytes", size, m.size)
	}
	s, err := m.streamFor(stream)
	if err != nil {
		return err
	}
	return check(m.api.MemcpyAsync(dst, m.ptr, uintptr(size), s), "cuMemcpyAsync")
}

// CopyFromRaw enqueues the copy of size bytes from the address src (host or device) to the start
// of m, on stream, or on the bound stream if it is nil.
func (m *DeviceMemory) CopyFromRaw(src driver.DevicePtr, size int, stream *Stream) error {
	defer runtime.KeepAlive(m)
	defer runtime.KeepAlive(stream)
	if err := m.valid(); err != nil {
		return err
	}
	if size < 0 || size > m.size {
		return errors.Wrapf(InvalidValue, "copying %d bytes into device memory of %d bytes", size, m.size)
	}
	s, err := m.streamFor(stream)
	if err != nil {
		return err
	}
	return check(m.api.MemcpyAsync(m.ptr, src, uintptr(size), s), "cuMemcpyAsync")
}

// CopyTo enqueues the copy of dst.Size() bytes from m into dst. It fails with InvalidValue if dst
// is larger than m.
func (m *DeviceMemory) CopyTo(dst *DeviceMemory, stream *Stream) error {
	defer runtime.KeepAlive(dst)
	if err := dst.valid(); err != nil {
		return err
	}
	return m.CopyToRaw(dst.ptr, dst.size, stream)
}

// CopyFrom enqueues the copy of m.Size() bytes from src into m. It fails with InvalidValue if m
// is larger than src.
func (m *DeviceMemory) CopyFrom(src *DeviceMemory, stream *Stream) error {
	if err := m.valid(); err != nil {
		return err
	}
	return src.CopyTo(m, stream)
}

// CopyFromHost enqueues the copy of all of host into the start of m. host must not be larger than m.
func (m *DeviceMemory) CopyFromHost(host *HostMemory, stream *Stream) error {
	defer runtime.KeepAlive(host)
	if err := host.valid(); err != nil {
		return err
	}
	return m.CopyFromRaw(host.Ptr(), host.size, stream)
}

// CopyToHost enqueues the copy of host.Size() bytes from the start of m into host. host must not
// be larger than m.
func (m *DeviceMemory) CopyToHost(host *HostMemory, stream *Stream) error {
	defer runtime.KeepAlive(host)
	if err := host.valid(); err != nil {
		return err
	}
	return m.CopyToRaw(host.Ptr(), host.size, stream)
}

// Clone allocates a buffer of the same size on the bound stream, and enqueues the copy of m into it.
func (m *DeviceMemory) Clone() (*DeviceMemory, error) {
	if err := m.valid(); err != nil {
		return nil, err
	}
	clone, err := AllocDevice(m.size, m.stream)
	if err != nil {
		return nil, err
	}
	if err := m.CopyTo(clone, nil); err != nil {
		clone.Finalize()
		return nil, err
	}
	return clone, nil
}

// ToHost allocates a pinned host buffer of the same size, and enqueues the copy of m into it on
// the bound stream. The contents are only valid after the bound stream is synchronized.
func (m *DeviceMemory) ToHost() (*HostMemory, error) {
	if err := m.valid(); err != nil {
		return nil, err
	}
	host, err := AllocHost(m.size)
	if err != nil {
		return nil, err
	}
	if err := m.CopyToHost(host, nil); err != nil {
		host.Finalize()
		return nil, err
	}
	return host, nil
}

// Finalize enqueues the free of the device memory on the bound stream, and releases m's
// reference to the stream. It doesn't wait for the free to complete. It is idempotent.
func (m *DeviceMemory) Finalize() {
	if m == nil || !m.finalized.CompareAndSwap(false, true) {
		return
	}
	live.deviceBuffers.Add(-1)
	if s, err := m.stream.raw(); err != nil {
		klog.Warningf("cuda: device memory %#x leaked, its stream is no longer valid: %v", m.ptr, err)
	} else if r := m.api.MemFreeAsync(m.ptr, s); r != driver.Success {
		klog.Warningf("cuda: cuMemFreeAsync(%#x) failed while releasing: %v", m.ptr, Classify(r))
	}
	m.stream.Finalize()
}

// String implements fmt.Stringer.
func (m *DeviceMemory) String() string {
	if m.IsNil() {
		return "DeviceMemory(nil)"
	}
	return fmt.Sprintf("DeviceMemory(%#x, %s)", m.ptr, humanize.IBytes(uint64(m.size)))
}
