// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cuda

import (
	"fmt"
	"math"
	"runtime"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gocuda/driver"
	"github.com/pkg/errors"
)

// PitchAlignment is the alignment of the rows (the pitch) of PitchedDeviceMemory.
const PitchAlignment = 512

// Region2D describes a 2D region in memory: Height rows of Width bytes, each row starting
// Pitch bytes after the previous.
//
// Host selects the address space of Ptr: host memory (e.g. HostMemory.Ptr()) if true, device
// memory otherwise.
type Region2D struct {
	Ptr           driver.DevicePtr
	Pitch         int
	Width, Height int
	Host          bool
}

// memoryType of the region's address space.
func (r Region2D) memoryType() driver.MemoryType {
	if r.Host {
		return driver.MemoryTypeHost
	}
	return driver.MemoryTypeDevice
}

// PitchedDeviceMemory is a 2D device buffer of Height rows of Width bytes, each row padded to
// Pitch bytes, a multiple of PitchAlignment. It is backed by a DeviceMemory of Pitch*Height bytes.
//
// 2D copies require the other side to have exactly the same width and height.
type PitchedDeviceMemory struct {
	mem                  *DeviceMemory
	width, height, pitch int
}

// AllocPitched allocates a 2D buffer of height rows of width bytes in stream order, see AllocDevice.
func AllocPitched(width, height int, stream *Stream) (*PitchedDeviceMemory, error) {
	if width < 0 || height < 0 {
		return nil, errors.Wrapf(InvalidValue, "cuda.AllocPitched(%d, %d)", width, height)
	}
	pitch := RoundUp(width, PitchAlignment)
	if height > 0 && pitch > math.MaxInt/height {
		return nil, errors.Wrapf(InvalidValue, "cuda.AllocPitched(%d, %d): size overflow", width, height)
	}
	mem, err := AllocDevice(pitch*height, stream)
	if err != nil {
		return nil, errors.WithMessagef(err, "cuda.AllocPitched(%d, %d)", width, height)
	}
	return &PitchedDeviceMemory{mem: mem, width: width, height: height, pitch: pitch}, nil
}

// Width of each row in bytes.
func (p *PitchedDeviceMemory) Width() int { return p.width }

// Height is the number of rows.
func (p *PitchedDeviceMemory) Height() int { return p.height }

// Pitch is the distance in bytes between the start of consecutive rows.
func (p *PitchedDeviceMemory) Pitch() int { return p.pitch }

// Memory returns the backing DeviceMemory, owned by p.
func (p *PitchedDeviceMemory) Memory() *DeviceMemory { return p.mem }

// Stream returns the bound stream, owned by p.
func (p *PitchedDeviceMemory) Stream() *Stream { return p.mem.Stream() }

// IsNil returns whether p is nil or finalized.
func (p *PitchedDeviceMemory) IsNil() bool {
	return p == nil || p.mem.IsNil()
}

// Region returns the device region of p, for the raw 2D copies.
func (p *PitchedDeviceMemory) Region() Region2D {
	return Region2D{Ptr: p.mem.Ptr(), Pitch: p.pitch, Width: p.width, Height: p.height}
}

func (p *PitchedDeviceMemory) checkShape(r Region2D) error {
	if r.Width != p.width || r.Height != p.height {
		return errors.Wrapf(InvalidValue, "2D copy between %dx%d and %dx%d regions (width x height)",
			p.width, p.height, r.Width, r.Height)
	}
	return nil
}

func (p *PitchedDeviceMemory) copy2D(params *driver.Memcpy2D, stream *Stream) error {
	defer runtime.KeepAlive(p)
	defer runtime.KeepAlive(stream)
	s, err := p.mem.streamFor(stream)
	if err != nil {
		return err
	}
	return check(p.mem.api.Memcpy2DAsync(params, s), "cuMemcpy2DAsync")
}

// CopyToRaw enqueues the 2D copy of p into dst, on stream or on the bound stream if it is nil.
// It fails with InvalidValue, before any native call, if dst's width or height differ from p's.
func (p *PitchedDeviceMemory) CopyToRaw(dst Region2D, stream *Stream) error {
	if err := p.mem.valid(); err != nil {
		return err
	}
	if err := p.checkShape(dst); err != nil {
		return err
	}
	return p.copy2D(&driver.Memcpy2D{
		SrcMemoryType: driver.MemoryTypeDevice,
		Src:           p.mem.ptr,
		SrcPitch:      uintptr(p.pitch),
		DstMemoryType: dst.memoryType(),
		Dst:           dst.Ptr,
		DstPitch:      uintptr(dst.Pitch),
		WidthInBytes:  uintptr(p.width),
		Height:        uintptr(p.height),
	}, stream)
}

// CopyFromRaw enqueues the 2D copy of src into p, on stream or on the bound stream if it is nil.
// It fails with InvalidValue, before any native call, if src's width or height differ from p's.
func (p *PitchedDeviceMemory) CopyFromRaw(src Region2D, stream *Stream) error {
	if err := p.mem.valid(); err != nil {
		return err
	}
	if err := p.checkShape(src); err != nil {
		return err
	}
	return p.copy2D(&driver.Memcpy2D{
		SrcMemoryType: src.memoryType(),
		Src:           src.Ptr,
		SrcPitch:      uintptr(src.Pitch),
		DstMemoryType: driver.MemoryTypeDevice,
		Dst:           p.mem.ptr,
		DstPitch:      uintptr(p.pitch),
		WidthInBytes:  uintptr(p.width),
		Height:        uintptr(p.height),
	}, stream)
}

// CopyTo enqueues the 2D copy of p into dst. Both must have the same width and height.
func (p *PitchedDeviceMemory) CopyTo(dst *PitchedDeviceMemory, stream *Stream) error {
	defer runtime.KeepAlive(dst)
	if dst.IsNil() {
		return errors.Wrap(InvalidValue, "destination pitched memory is nil or already finalized")
	}
	return p.CopyToRaw(dst.Region(), stream)
}

// CopyFrom enqueues the 2D copy of src into p. Both must have the same width and height.
func (p *PitchedDeviceMemory) CopyFrom(src *PitchedDeviceMemory, stream *Stream) error {
	defer runtime.KeepAlive(src)
	if src.IsNil() {
		return errors.Wrap(InvalidValue, "source pitched memory is nil or already finalized")
	}
	return p.CopyFromRaw(src.Region(), stream)
}

// Clone allocates a buffer with the same shape on the bound stream, and enqueues the copy of p into it.
func (p *PitchedDeviceMemory) Clone() (*PitchedDeviceMemory, error) {
	if err := p.mem.valid(); err != nil {
		return nil, err
	}
	clone, err := AllocPitched(p.width, p.height, p.mem.stream)
	if err != nil {
		return nil, err
	}
	if err := p.CopyTo(clone, nil); err != nil {
		clone.Finalize()
		return nil, err
	}
	return clone, nil
}

// ToHost allocates a tightly packed pinned host buffer of Width*Height bytes, and enqueues the
// 2D copy of p into it on the bound stream. The contents are only valid after the bound stream
// is synchronized.
func (p *PitchedDeviceMemory) ToHost() (*HostMemory, error) {
	if err := p.mem.valid(); err != nil {
		return nil, err
	}
	host, err := AllocHost(p.width * p.height)
	if err != nil {
		return nil, err
	}
	dst := Region2D{Ptr: host.Ptr(), Pitch: p.width, Width: p.width, Height: p.height, Host: true}
	if err := p.CopyToRaw(dst, nil); err != nil {
		host.Finalize()
		return nil, err
	}
	runtime.KeepAlive(host)
	return host, nil
}

// Finalize enqueues the free of the backing memory, see DeviceMemory.Finalize. It is idempotent.
func (p *PitchedDeviceMemory) Finalize() {
	if p == nil {
		return
	}
	p.mem.Finalize()
}

// String implements fmt.Stringer.
func (p *PitchedDeviceMemory) String() string {
	if p.IsNil() {
		return "PitchedDeviceMemory(nil)"
	}
	return fmt.Sprintf("PitchedDeviceMemory(%#x, %dx%d, pitch=%d, %s)",
		p.mem.ptr, p.width, p.height, p.pitch, humanize.IBytes(uint64(p.pitch*p.height)))
}
