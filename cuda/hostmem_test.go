// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cuda

import (
	"testing"

	"github.com/gomlx/gocuda/driver"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostMemory(t *testing.T) {
	fake := setupTest(t)
	host, err := AllocHost(18)
	require.NoError(t, err)
	assert.Equal(t, 18, host.Size())
	assert.Len(t, host.Bytes(), 18)
	assert.Contains(t, host.String(), "18 B")

	// Views drop trailing bytes that don't fill an element.
	view := HostView[uint32](host)
	require.Len(t, view, 4)
	for ii := range view {
		view[ii] = uint32(ii * 1000)
	}
	assert.Len(t, HostView[[3]uint64](host), 0)
	assert.Panics(t, func() { HostView[struct{}](host) })

	clone, err := host.Clone()
	require.NoError(t, err)
	defer clone.Finalize()
	assert.Equal(t, host.Bytes(), clone.Bytes())
	assert.Equal(t, []uint32{0, 1000, 2000, 3000}, HostView[uint32](clone))
	assert.Equal(t, 2, fake.Live().HostBuffers)

	host.Finalize()
	host.Finalize()
	assert.Equal(t, 1, fake.Calls("cuMemFreeHost"))
	assert.Equal(t, 1, fake.Live().HostBuffers)
	assert.True(t, host.IsNil())
	assert.Nil(t, host.Bytes())
	assert.Nil(t, HostView[uint32](host))
	assert.True(t, errors.Is(host.CopyToRaw(clone.Ptr(), 4), InvalidValue))
}

func TestHostMemoryCopies(t *testing.T) {
	fake := setupTest(t)
	small := must.M1(AllocHost(4))
	defer small.Finalize()
	large := must.M1(AllocHost(8))
	defer large.Finalize()
	copy(large.Bytes(), []byte{1, 2, 3, 4, 5, 6, 7, 8})

	// CopyTo copies the destination's size.
	require.NoError(t, large.CopyTo(small))
	assert.Equal(t, []byte{1, 2, 3, 4}, small.Bytes())

	// A destination larger than the source is rejected before the driver is called.
	memcpys := fake.Calls("cuMemcpy")
	assert.True(t, errors.Is(small.CopyTo(large), InvalidValue))
	assert.Equal(t, memcpys, fake.Calls("cuMemcpy"))

	require.NoError(t, small.CopyToRaw(large.Ptr()+4, 4))
	assert.Equal(t, []byte{1, 2, 3, 4, 1, 2, 3, 4}, large.Bytes())
	require.NoError(t, small.CopyFromRaw(large.Ptr()+2, 2))
	assert.Equal(t, []byte{3, 4, 3, 4}, small.Bytes())
	assert.True(t, errors.Is(small.CopyFromRaw(large.Ptr(), 5), InvalidValue))

	fake.FailNext("cuMemcpy", driver.Result(IllegalAddress))
	assert.True(t, errors.Is(small.CopyToRaw(large.Ptr(), 4), IllegalAddress))
}

func TestHostMemoryFailures(t *testing.T) {
	fake := setupTest(t)
	_, err := AllocHost(-1)
	assert.True(t, errors.Is(err, InvalidValue))
	fake.FailNext("cuMemAllocHost", driver.Result(OutOfMemory))
	_, err = AllocHost(1 << 20)
	assert.True(t, errors.Is(err, OutOfMemory))
	assert.Contains(t, err.Error(), "1.0 MiB")

	liveBefore := Live().HostBuffers
	host := must.M1(AllocHost(16))
	fake.FailNext("cuMemFreeHost", driver.Result(InvalidValue))
	assert.NotPanics(t, host.Finalize)
	assert.Equal(t, liveBefore, Live().HostBuffers)
}
