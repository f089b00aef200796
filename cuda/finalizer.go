// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cuda

import (
	"fmt"
	"runtime"
	"sync/atomic"
)

// Finalizer is any object that implements Finalize, that can be called
// when an object is deallocated using runtime.SetFinalizer.
type Finalizer interface {
	// Finalize frees the underlying native resources.
	//
	// Finalize is idempotent: subsequent calls have no effect.
	Finalize()
}

// RegisterFinalizer is a trivial helper function that calls Finalize when o is garbage collected.
func RegisterFinalizer[T Finalizer](o T) {
	runtime.SetFinalizer(o, func(o T) {
		o.Finalize()
	})
}

// Counters of native objects owned by this package and not yet released.
var live struct {
	contexts, streams, events, hostBuffers, deviceBuffers atomic.Int64
}

// LiveObjects is a snapshot of the native objects owned by this package that are not yet released.
//
// Ambient handles are not counted. Device buffers count as released as soon as their
// asynchronous free is enqueued.
type LiveObjects struct {
	Contexts, Streams, Events, HostBuffers, DeviceBuffers int64
}

// Live returns the current count of owned native objects.
func Live() LiveObjects {
	return LiveObjects{
		Contexts:      live.contexts.Load(),
		Streams:       live.streams.Load(),
		Events:        live.events.Load(),
		HostBuffers:   live.hostBuffers.Load(),
		DeviceBuffers: live.deviceBuffers.Load(),
	}
}

// Total number of live objects.
func (l LiveObjects) Total() int64 {
	return l.Contexts + l.Streams + l.Events + l.HostBuffers + l.DeviceBuffers
}

// String implements fmt.Stringer.
func (l LiveObjects) String() string {
	return fmt.Sprintf("contexts=%d streams=%d events=%d host_buffers=%d device_buffers=%d",
		l.Contexts, l.Streams, l.Events, l.HostBuffers, l.DeviceBuffers)
}

// GarbageCollect repeatedly calls runtime.GC() until the count of live objects stops changing,
// so the finalizers of unreachable wrappers have run. Used mostly for tests.
func GarbageCollect(verbose bool) {
	for current := Live(); ; {
		for ii := 0; ii < 10; ii++ {
			runtime.GC()
			runtime.GC()
			runtime.GC()
		}
		next := Live()
		if verbose {
			fmt.Printf("\tGC: %s\n", next)
		}
		if next == current {
			return
		}
		current = next
	}
}
