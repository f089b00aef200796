// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cuda

import (
	"runtime"
	"testing"
	"time"

	"github.com/gomlx/gocuda/driver"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewContext(t *testing.T) {
	fake := setupTest(t)
	liveBefore := Live().Contexts
	ctx, err := NewContext(must.M1(NewDevice(0)))
	require.NoError(t, err)
	assert.Equal(t, Exclusive, ctx.Ownership())
	assert.False(t, ctx.IsNil())
	assert.Equal(t, 1, fake.Live().Contexts)
	assert.Equal(t, liveBefore+1, Live().Contexts)

	// Creation leaves the current context untouched.
	current, err := CurrentContext()
	require.NoError(t, err)
	assert.True(t, current.IsNil())

	ctx.Finalize()
	ctx.Finalize()
	assert.Equal(t, 1, fake.Calls("cuCtxDestroy"))
	assert.Equal(t, 0, fake.Live().Contexts)
	assert.Equal(t, liveBefore, Live().Contexts)
	assert.True(t, ctx.IsNil())
	assert.Equal(t, driver.Context(0), ctx.Raw())
	assert.True(t, errors.Is(ctx.Push(), InvalidContext))
}

func TestNewContextFailures(t *testing.T) {
	fake := setupTest(t)
	dev := must.M1(NewDevice(0))

	fake.FailNext("cuCtxCreate", driver.Result(OutOfMemory))
	_, err := NewContext(dev)
	assert.True(t, errors.Is(err, OutOfMemory))

	// If the context can't be popped after creation, it is destroyed.
	fake.FailNext("cuCtxPopCurrent", driver.Result(Unknown))
	_, err = NewContext(dev)
	assert.True(t, errors.Is(err, Unknown))
	assert.Equal(t, 1, fake.Calls("cuCtxDestroy"))
	assert.Equal(t, 0, fake.Live().Contexts)
}

func TestGuardNesting(t *testing.T) {
	fake := setupTest(t)
	dev := must.M1(NewDevice(0))
	ctx1 := must.M1(NewContext(dev))
	defer ctx1.Finalize()
	ctx2 := must.M1(NewContext(dev))
	defer ctx2.Finalize()
	pushesBefore, popsBefore := fake.Calls("cuCtxPushCurrent"), fake.Calls("cuCtxPopCurrent")

	currentRaw := func() driver.Context {
		return must.M1(CurrentContext()).Raw()
	}
	func() {
		g1 := must.M1(ctx1.Guard())
		defer g1.Release()
		require.Equal(t, ctx1.Raw(), currentRaw())
		func() {
			g2 := must.M1(ctx2.Guard())
			defer g2.Release()
			require.Equal(t, ctx2.Raw(), currentRaw())
			require.Equal(t, ctx2, g2.Context())
			func() {
				g3 := must.M1(ctx1.Guard())
				defer g3.Release()
				require.Equal(t, ctx1.Raw(), currentRaw())
				require.Equal(t, []driver.Context{ctx1.Raw(), ctx2.Raw(), ctx1.Raw()}, fake.Stack())
			}()
			require.Equal(t, ctx2.Raw(), currentRaw())
		}()
		require.Equal(t, ctx1.Raw(), currentRaw())

		// Releasing twice pops once.
		g4 := must.M1(ctx2.Guard())
		g4.Release()
		g4.Release()
		require.Equal(t, ctx1.Raw(), currentRaw())
	}()
	assert.Equal(t, driver.Context(0), currentRaw())
	pushes := fake.Calls("cuCtxPushCurrent") - pushesBefore
	pops := fake.Calls("cuCtxPopCurrent") - popsBefore
	assert.Equal(t, 4, pushes)
	assert.Equal(t, pushes, pops)
}

func TestContextRun(t *testing.T) {
	fake := setupTest(t)
	ctx := must.M1(NewContext(must.M1(NewDevice(0))))
	defer ctx.Finalize()
	popsBefore := fake.Calls("cuCtxPopCurrent")

	var inside driver.Context
	require.NoError(t, ctx.Run(func() error {
		inside = must.M1(CurrentContext()).Raw()
		return nil
	}))
	assert.Equal(t, ctx.Raw(), inside)

	errFn := errors.New("fn failed")
	assert.Equal(t, errFn, ctx.Run(func() error { return errFn }))

	// The context is popped also when fn panics.
	assert.Panics(t, func() {
		_ = ctx.Run(func() error { panic("boom") })
	})
	assert.Equal(t, 3, fake.Calls("cuCtxPopCurrent")-popsBefore)
	assert.Equal(t, driver.Context(0), must.M1(CurrentContext()).Raw())
}

func TestPushPop(t *testing.T) {
	fake := setupTest(t)
	ctx := must.M1(NewContext(must.M1(NewDevice(0))))
	defer ctx.Finalize()

	require.NoError(t, ctx.Push())
	assert.Equal(t, []driver.Context{ctx.Raw()}, fake.Stack())
	require.NoError(t, PopContext())

	// Popping an empty stack is reported by the driver.
	err := PopContext()
	assert.True(t, errors.Is(err, InvalidContext))

	fake.FailNext("cuCtxPushCurrent", driver.Result(ContextIsDestroyed))
	assert.True(t, errors.Is(ctx.Push(), ContextIsDestroyed))
}

func TestContextClone(t *testing.T) {
	fake := setupTest(t)
	const numClones = 5
	ctx := must.M1(NewContext(must.M1(NewDevice(0))))
	clones := make([]*Context, numClones)
	for ii := range clones {
		clones[ii] = ctx.Clone()
		assert.Equal(t, ctx.Raw(), clones[ii].Raw())
	}
	assert.Equal(t, Shared, ctx.Ownership())
	assert.Equal(t, Shared, clones[0].Ownership())

	ctx.Finalize()
	ctx.Finalize()
	for _, clone := range clones[:numClones-1] {
		clone.Finalize()
		require.Equal(t, 0, fake.Calls("cuCtxDestroy"))
	}
	last := clones[numClones-1]
	assert.Equal(t, Exclusive, last.Ownership())
	last.Finalize()
	assert.Equal(t, 1, fake.Calls("cuCtxDestroy"))
	assert.Equal(t, 0, fake.Live().Contexts)

	// Cloning a finalized context is a logic error.
	assert.Panics(t, func() { ctx.Clone() })
}

func TestPrimaryContext(t *testing.T) {
	fake := setupTest(t)
	dev := must.M1(NewDevice(0))
	primary, err := dev.RetainPrimaryContext()
	require.NoError(t, err)
	assert.Equal(t, Ambient, primary.Ownership())

	clones := []*Context{primary.Clone(), primary.Clone(), primary.Clone()}
	for _, clone := range clones {
		assert.Equal(t, Ambient, clone.Ownership())
	}
	require.NoError(t, primary.Run(func() error {
		stream, err := NewStream()
		if err != nil {
			return err
		}
		stream.Finalize()
		return nil
	}))
	for _, clone := range clones {
		clone.Finalize()
	}
	primary.Finalize()
	assert.Equal(t, 0, fake.Calls("cuCtxDestroy"))
	assert.Equal(t, 0, fake.Calls("cuDevicePrimaryCtxRelease"))

	require.NoError(t, dev.ReleasePrimaryContext())
	assert.Equal(t, 0, fake.Live().Contexts)
	assert.True(t, errors.Is(dev.ReleasePrimaryContext(), InvalidContext))
}

func TestWrapContext(t *testing.T) {
	fake := setupTest(t)
	ctx := must.M1(NewContext(must.M1(NewDevice(0))))
	defer ctx.Finalize()

	wrapped, err := WrapContext(ctx.Raw())
	require.NoError(t, err)
	assert.Equal(t, Ambient, wrapped.Ownership())
	wrapped.Clone().Finalize()
	wrapped.Finalize()
	assert.Equal(t, 0, fake.Calls("cuCtxDestroy"))
	assert.Equal(t, Exclusive, ctx.Ownership())
}

func TestContextReleaseFailure(t *testing.T) {
	fake := setupTest(t)
	liveBefore := Live().Contexts
	ctx := must.M1(NewContext(must.M1(NewDevice(0))))

	// Release failures are logged, never returned nor panicked.
	fake.FailNext("cuCtxDestroy", driver.Result(InvalidContext))
	assert.NotPanics(t, ctx.Finalize)
	assert.Equal(t, 1, fake.Calls("cuCtxDestroy"))
	assert.Equal(t, liveBefore, Live().Contexts)
	assert.True(t, ctx.IsNil())

	// A failed guard pop is logged too.
	ctx2 := must.M1(NewContext(must.M1(NewDevice(0))))
	defer ctx2.Finalize()
	guard := must.M1(ctx2.Guard())
	fake.FailNext("cuCtxPopCurrent", driver.Result(InvalidContext))
	assert.NotPanics(t, guard.Release)
	// The context is still current and pinned, and the next pop releases it.
	assert.Equal(t, []driver.Context{ctx2.Raw()}, fake.Stack())
	assert.Equal(t, 1, pushed.count(ctx2.Raw()))
	require.NoError(t, PopContext())
	assert.Equal(t, 0, pushed.count(ctx2.Raw()))
	assert.Empty(t, fake.Stack())
}

// pushAndDrop creates a context, pushes it and drops the wrapper.
func pushAndDrop(t *testing.T) driver.Context {
	ctx := must.M1(NewContext(must.M1(NewDevice(0))))
	require.NoError(t, ctx.Push())
	return ctx.Raw()
}

func TestPushedContextStaysAlive(t *testing.T) {
	fake := setupTest(t)
	raw := pushAndDrop(t)
	GarbageCollect(false)
	assert.Equal(t, 0, fake.Calls("cuCtxDestroy"))
	assert.Equal(t, []driver.Context{raw}, fake.Stack())
	assert.Equal(t, 1, pushed.count(raw))

	// The current context is still usable.
	stream := must.M1(NewStream())
	mem, err := AllocDevice(64, stream)
	require.NoError(t, err)
	mem.Finalize()
	stream.Finalize()

	// Once popped, the dropped wrapper is collected and the context destroyed.
	require.NoError(t, PopContext())
	assert.Equal(t, 0, pushed.count(raw))
	require.Eventually(t, func() bool {
		runtime.GC()
		return fake.Calls("cuCtxDestroy") == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, fake.Live().Contexts)
}
