// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cuda

import (
	"testing"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocPitched(t *testing.T) {
	setupTest(t)
	_, done := withContext(t)
	defer done()
	stream := must.M1(NewStream())
	defer stream.Finalize()

	for _, tc := range []struct{ width, height, pitch int }{
		{1, 1, 512},
		{100, 3, 512},
		{512, 2, 512},
		{513, 2, 1024},
		{2000, 5, 2048},
	} {
		p, err := AllocPitched(tc.width, tc.height, stream)
		require.NoError(t, err)
		assert.Equal(t, tc.width, p.Width())
		assert.Equal(t, tc.height, p.Height())
		assert.Equal(t, tc.pitch, p.Pitch())
		assert.Equal(t, tc.pitch*tc.height, p.Memory().Size())
		assert.Zero(t, p.Pitch()%PitchAlignment)
		p.Finalize()
		assert.True(t, p.IsNil())
	}

	_, err := AllocPitched(-1, 2, stream)
	assert.True(t, errors.Is(err, InvalidValue))
}

func TestPitchedRoundTrip(t *testing.T) {
	fake := setupTest(t)
	_, done := withContext(t)
	defer done()
	stream := must.M1(NewStream())
	defer stream.Finalize()

	const width, height = 100, 3
	input := filledHost(t, width*height, 11)
	defer input.Finalize()
	p := must.M1(AllocPitched(width, height, stream))
	defer p.Finalize()
	require.NoError(t, p.CopyFromRaw(Region2D{Ptr: input.Ptr(), Pitch: width, Width: width, Height: height, Host: true}, nil))

	output, err := p.ToHost()
	require.NoError(t, err)
	defer output.Finalize()
	require.NoError(t, stream.Synchronize())
	assert.Equal(t, width*height, output.Size())
	assert.Equal(t, input.Bytes(), output.Bytes())

	// Rows land at pitch offsets, padding is untouched.
	device, ok := fake.DeviceBytes(p.Memory().Ptr(), p.Pitch()*height)
	require.True(t, ok)
	for row := range height {
		rowStart := row * p.Pitch()
		assert.Equal(t, input.Bytes()[row*width:(row+1)*width], device[rowStart:rowStart+width])
		assert.Equal(t, make([]byte, p.Pitch()-width), device[rowStart+width:rowStart+p.Pitch()])
	}

	// Device to device, and clone.
	other := must.M1(AllocPitched(width, height, stream))
	defer other.Finalize()
	require.NoError(t, other.CopyFrom(p, nil))
	clone := must.M1(other.Clone())
	defer clone.Finalize()
	back := must.M1(clone.ToHost())
	defer back.Finalize()
	require.NoError(t, stream.Synchronize())
	assert.Equal(t, input.Bytes(), back.Bytes())
}

func TestPitchedShapeMismatch(t *testing.T) {
	fake := setupTest(t)
	_, done := withContext(t)
	defer done()
	stream := must.M1(NewStream())
	defer stream.Finalize()

	p := must.M1(AllocPitched(64, 4, stream))
	defer p.Finalize()
	wider := must.M1(AllocPitched(65, 4, stream))
	defer wider.Finalize()
	taller := must.M1(AllocPitched(64, 5, stream))
	defer taller.Finalize()
	host := must.M1(AllocHost(64 * 4))
	defer host.Finalize()

	for _, err := range []error{
		p.CopyTo(wider, nil),
		p.CopyTo(taller, nil),
		p.CopyFrom(wider, nil),
		taller.CopyTo(p, nil),
		p.CopyToRaw(Region2D{Ptr: host.Ptr(), Pitch: 64, Width: 64, Height: 3, Host: true}, nil),
		p.CopyFromRaw(Region2D{Ptr: host.Ptr(), Pitch: 64, Width: 32, Height: 4, Host: true}, nil),
	} {
		kind, ok := KindOf(err)
		require.True(t, ok)
		assert.Equal(t, InvalidValue, kind)
	}
	assert.Equal(t, 0, fake.Calls("cuMemcpy2DAsync"))

	// Same shape goes through, regardless of pitch.
	require.NoError(t, p.CopyToRaw(Region2D{Ptr: host.Ptr(), Pitch: 64, Width: 64, Height: 4, Host: true}, nil))
	assert.Equal(t, 1, fake.Calls("cuMemcpy2DAsync"))

	finalized := must.M1(AllocPitched(64, 4, stream))
	finalized.Finalize()
	assert.True(t, errors.Is(p.CopyTo(finalized, nil), InvalidValue))
	assert.True(t, errors.Is(finalized.CopyTo(p, nil), InvalidValue))
	assert.Equal(t, 1, fake.Calls("cuMemcpy2DAsync"))
}
