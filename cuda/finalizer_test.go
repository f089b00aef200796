// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cuda

import (
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
)

func TestLive(t *testing.T) {
	setupTest(t)
	before := Live()
	ctx, done := withContext(t)
	stream := must.M1(NewStream())
	event := must.M1(NewEvent())
	host := must.M1(AllocHost(32))
	mem := must.M1(AllocDevice(32, stream))
	primary := must.M1(RetainPrimaryContext(must.M1(NewDevice(0))))

	got := Live()
	assert.Equal(t, LiveObjects{
		Contexts:      before.Contexts + 1,
		Streams:       before.Streams + 1,
		Events:        before.Events + 1,
		HostBuffers:   before.HostBuffers + 1,
		DeviceBuffers: before.DeviceBuffers + 1,
	}, got)
	assert.Equal(t, before.Total()+5, got.Total())
	assert.Contains(t, got.String(), "device_buffers=")

	mem.Finalize()
	host.Finalize()
	event.Finalize()
	stream.Finalize()
	primary.Finalize()
	done()
	assert.True(t, ctx.IsNil())
	GarbageCollect(false)
	assert.Equal(t, before, Live())
}
