// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cuda

import (
	"testing"

	"github.com/gomlx/gocuda/driver"
	"github.com/gomlx/gocuda/driver/drivertest"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// filledHost allocates a host buffer of the given size filled with a pattern derived from seed.
func filledHost(t *testing.T, size int, seed byte) *HostMemory {
	t.Helper()
	host := must.M1(AllocHost(size))
	for ii := range host.Bytes() {
		host.Bytes()[ii] = byte(ii*7) + seed
	}
	return host
}

func TestDeviceMemoryRoundTrip(t *testing.T) {
	setupTest(t)
	_, done := withContext(t)
	defer done()
	stream := must.M1(NewStream())
	defer stream.Finalize()

	for _, size := range []int{1, 7, 512, 4096, 100_003} {
		input := filledHost(t, size, byte(size))
		mem, err := AllocDevice(size, stream)
		require.NoError(t, err)
		require.NoError(t, mem.CopyFromHost(input, nil))
		output := must.M1(AllocHost(size))
		require.NoError(t, mem.CopyToHost(output, nil))
		require.NoError(t, stream.Synchronize())
		require.Equal(t, input.Bytes(), output.Bytes(), "round trip of %d bytes", size)
		mem.Finalize()
		input.Finalize()
		output.Finalize()
	}
}

func TestDeviceMemoryStreamOrder(t *testing.T) {
	fake := setupTest(t)
	_, done := withContext(t)
	defer done()
	stream := must.M1(NewStream())
	defer stream.Finalize()

	const size = 1024
	input := filledHost(t, size, 1)
	defer input.Finalize()
	fake.Hold(stream.Raw())
	mem := must.M1(AllocDevice(size, stream))
	defer mem.Finalize()
	require.NoError(t, mem.CopyFromHost(input, nil))
	output, err := mem.ToHost()
	require.NoError(t, err)
	defer output.Finalize()

	// Nothing executed yet.
	assert.Equal(t, make([]byte, size), output.Bytes())
	assert.Equal(t, 2, fake.Pending(stream.Raw()))
	require.NoError(t, stream.Synchronize())
	assert.Equal(t, input.Bytes(), output.Bytes())
}

func TestDeviceMemoryExplicitStream(t *testing.T) {
	fake := setupTest(t)
	_, done := withContext(t)
	defer done()
	bound := must.M1(NewStream())
	defer bound.Finalize()
	other := must.M1(NewStream())
	defer other.Finalize()

	const size = 64
	input := filledHost(t, size, 3)
	defer input.Finalize()
	mem := must.M1(AllocDevice(size, bound))
	defer mem.Finalize()
	fake.Hold(bound.Raw())
	require.NoError(t, mem.CopyFromHost(input, other))
	require.NoError(t, other.Synchronize())
	assert.Equal(t, 0, fake.Pending(bound.Raw()))
	got, ok := fake.DeviceBytes(mem.Ptr(), size)
	require.True(t, ok)
	assert.Equal(t, input.Bytes(), got)

	dst := must.M1(AllocDevice(size, other))
	defer dst.Finalize()
	// Swap the halves.
	require.NoError(t, mem.CopyToRaw(dst.Ptr()+size/2, size/2, other))
	require.NoError(t, dst.CopyFromRaw(mem.Ptr()+size/2, size/2, other))
	require.NoError(t, other.Synchronize())
	got, _ = fake.DeviceBytes(dst.Ptr(), size)
	want := append(append([]byte{}, input.Bytes()[size/2:]...), input.Bytes()[:size/2]...)
	assert.Equal(t, want, got)
}

func TestDeviceMemoryKeepsStream(t *testing.T) {
	fake := setupTest(t)
	_, done := withContext(t)
	defer done()
	stream := must.M1(NewStream())
	mem := must.M1(AllocDevice(128, stream))
	assert.Equal(t, Shared, stream.Ownership())

	// The memory holds its own reference to the stream.
	stream.Finalize()
	assert.Equal(t, 0, fake.Calls("cuStreamDestroy"))
	assert.False(t, mem.Stream().IsNil())
	host := must.M1(mem.ToHost())
	defer host.Finalize()
	require.NoError(t, mem.Stream().Synchronize())

	liveBefore := Live().DeviceBuffers
	mem.Finalize()
	mem.Finalize()
	assert.Equal(t, 1, fake.Calls("cuMemFreeAsync"))
	assert.Equal(t, 1, fake.Calls("cuStreamDestroy"))
	assert.Equal(t, liveBefore-1, Live().DeviceBuffers)
	assert.Equal(t, drivertest.Live{Contexts: 1, HostBuffers: 1}, fake.Live())
	assert.True(t, mem.IsNil())
	assert.True(t, errors.Is(mem.CopyToHost(host, nil), InvalidValue))
}

func TestDeviceMemoryCopyAndClone(t *testing.T) {
	fake := setupTest(t)
	_, done := withContext(t)
	defer done()
	stream := must.M1(NewStream())
	defer stream.Finalize()

	input := filledHost(t, 256, 5)
	defer input.Finalize()
	src := must.M1(AllocDevice(256, stream))
	defer src.Finalize()
	require.NoError(t, src.CopyFromHost(input, nil))

	clone, err := src.Clone()
	require.NoError(t, err)
	defer clone.Finalize()
	smaller := must.M1(AllocDevice(100, stream))
	defer smaller.Finalize()
	require.NoError(t, smaller.CopyFrom(src, nil))
	require.NoError(t, stream.Synchronize())

	got := must.M1(clone.ToHost())
	defer got.Finalize()
	require.NoError(t, stream.Synchronize())
	assert.Equal(t, input.Bytes(), got.Bytes())
	gotSmaller, _ := fake.DeviceBytes(smaller.Ptr(), 100)
	assert.Equal(t, input.Bytes()[:100], gotSmaller)

	// Destination larger than the source: rejected before the driver is called.
	copies := fake.Calls("cuMemcpyAsync")
	assert.True(t, errors.Is(smaller.CopyTo(src, nil), InvalidValue))
	assert.True(t, errors.Is(src.CopyFrom(smaller, nil), InvalidValue))
	assert.True(t, errors.Is(smaller.CopyFromHost(input, nil), InvalidValue))
	assert.True(t, errors.Is(src.CopyToRaw(0, 257, nil), InvalidValue))
	assert.Equal(t, copies, fake.Calls("cuMemcpyAsync"))
}

func TestDeviceMemoryFailures(t *testing.T) {
	fake := setupTest(t, 1024)
	_, done := withContext(t)
	defer done()
	stream := must.M1(NewStream())
	defer stream.Finalize()

	_, err := AllocDevice(2048, stream)
	assert.True(t, errors.Is(err, OutOfMemory))
	_, err = AllocDevice(16, nil)
	assert.True(t, errors.Is(err, InvalidHandle))
	_, err = AllocDevice(-1, stream)
	assert.True(t, errors.Is(err, InvalidValue))

	// A failed asynchronous free is logged, and the stream reference is still released.
	mem := must.M1(AllocDevice(512, stream))
	fake.FailNext("cuMemFreeAsync", driver.Result(InvalidValue))
	assert.NotPanics(t, mem.Finalize)
	assert.Equal(t, Exclusive, stream.Ownership())

	fake.FailNext("cuMemcpyAsync", driver.Result(IllegalAddress))
	mem = must.M1(AllocDevice(256, stream))
	defer mem.Finalize()
	_, err = mem.ToHost()
	assert.True(t, errors.Is(err, IllegalAddress))
	assert.Equal(t, 0, fake.Live().HostBuffers)
}
