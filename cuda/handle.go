// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cuda

import (
	"fmt"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gocuda/driver"
	"k8s.io/klog/v2"
)

// Ownership describes how a wrapper relates to its native handle.
type Ownership int

const (
	// Exclusive means the wrapper is the only owner: the native object is destroyed when it is finalized.
	Exclusive Ownership = iota

	// Shared means the native object is owned by more than one wrapper (see the Clone methods),
	// and it is destroyed when the last of them is finalized.
	Shared

	// Ambient means the native object is owned by something else (e.g. the driver's primary
	// context, or a handle received from other code): it is never destroyed by this package.
	Ambient
)

// String implements fmt.Stringer.
func (o Ownership) String() string {
	switch o {
	case Exclusive:
		return "Exclusive"
	case Shared:
		return "Shared"
	case Ambient:
		return "Ambient"
	}
	return fmt.Sprintf("Ownership(%d)", int(o))
}

// owner is the reference count shared by all clones of an owned native handle.
type owner[H ~uintptr] struct {
	refs    atomic.Int64
	destroy func(H) driver.Result
	op      string        // Name of the native destroy function, for logging.
	live    *atomic.Int64 // Live objects counter of the kind.
}

// handle is one wrapper's reference to a native handle. Ambient handles have no owner.
//
// A handle is released at most once, and the native destroy function runs exactly once for all
// clones of an owned handle: when the last reference is released.
type handle[H ~uintptr] struct {
	raw       H
	owner     *owner[H]
	finalized atomic.Bool
}

// newOwnedHandle takes exclusive ownership of raw.
func newOwnedHandle[H ~uintptr](raw H, op string, destroy func(H) driver.Result, live *atomic.Int64) *handle[H] {
	o := &owner[H]{destroy: destroy, op: op, live: live}
	o.refs.Store(1)
	live.Add(1)
	return &handle[H]{raw: raw, owner: o}
}

// newAmbientHandle references raw without owning it.
func newAmbientHandle[H ~uintptr](raw H) *handle[H] {
	return &handle[H]{raw: raw}
}

// valid returns whether the handle can still be used.
func (h *handle[H]) valid() bool {
	return h != nil && !h.finalized.Load()
}

func (h *handle[H]) ownership() Ownership {
	if h == nil || h.owner == nil {
		return Ambient
	}
	if h.owner.refs.Load() > 1 {
		return Shared
	}
	return Exclusive
}

// clone returns a new reference to the same native handle. Ambient handles clone to ambient handles.
//
// It panics if h was already released: cloning a released handle is a logic error.
func (h *handle[H]) clone() *handle[H] {
	if !h.valid() {
		exceptions.Panicf("cuda: cloning a handle (%#x) that was already finalized", uintptr(h.raw))
	}
	if h.owner != nil {
		h.owner.refs.Add(1)
	}
	return &handle[H]{raw: h.raw, owner: h.owner}
}

// release drops this reference, destroying the native object if it was the last one.
// Failures of the destroy function are logged and otherwise ignored.
func (h *handle[H]) release() {
	if h == nil || !h.finalized.CompareAndSwap(false, true) {
		return
	}
	o := h.owner
	if o == nil {
		return
	}
	if o.refs.Add(-1) > 0 {
		return
	}
	o.live.Add(-1)
	if r := o.destroy(h.raw); r != driver.Success {
		klog.Warningf("cuda: %s(%#x) failed while releasing: %v", o.op, uintptr(h.raw), Classify(r))
		return
	}
	klog.V(2).Infof("cuda: %s(%#x)", o.op, uintptr(h.raw))
}
