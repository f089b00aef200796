// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cuda

import (
	"fmt"
	"runtime"

	"github.com/gomlx/gocuda/driver"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Stream is an ordered asynchronous work queue on a device.
//
// Work submitted to one stream executes in submission order. Ordering across streams requires
// WaitEvent.
type Stream struct {
	api driver.API
	h   *handle[driver.Stream]
}

// NewStream creates a stream in the calling thread's current context, exclusively owned by the
// returned Stream.
func NewStream() (*Stream, error) {
	api, err := currentDriver()
	if err != nil {
		return nil, err
	}
	raw, r := api.StreamCreate(0)
	if err := check(r, "cuStreamCreate"); err != nil {
		return nil, err
	}
	klog.V(1).Infof("cuda: created stream %#x", uintptr(raw))
	s := &Stream{
		api: api,
		h:   newOwnedHandle(raw, "cuStreamDestroy", api.StreamDestroy, &live.streams),
	}
	RegisterFinalizer(s)
	return s, nil
}

// WrapStream references a native stream owned elsewhere, as an Ambient Stream.
func WrapStream(raw driver.Stream) (*Stream, error) {
	api, err := currentDriver()
	if err != nil {
		return nil, err
	}
	return &Stream{api: api, h: newAmbientHandle(raw)}, nil
}

// IsNil returns whether s is nil or finalized.
func (s *Stream) IsNil() bool {
	return s == nil || !s.h.valid()
}

// Raw returns the native stream handle, or 0 if s is nil or finalized.
func (s *Stream) Raw() driver.Stream {
	if s.IsNil() {
		return 0
	}
	return s.h.raw
}

// Ownership of the native stream by s.
func (s *Stream) Ownership() Ownership {
	if s == nil {
		return Ambient
	}
	return s.h.ownership()
}

func (s *Stream) raw() (driver.Stream, error) {
	if s.IsNil() {
		return 0, errors.Wrap(InvalidHandle, "stream is nil or already finalized")
	}
	return s.h.raw, nil
}

// Clone returns a new reference to the same native stream, destroyed when the last reference is
// finalized. It panics if s was already finalized.
func (s *Stream) Clone() *Stream {
	clone := &Stream{api: s.api, h: s.h.clone()}
	if clone.h.owner != nil {
		RegisterFinalizer(clone)
	}
	return clone
}

// Finalize releases this reference to the native stream. It is idempotent.
func (s *Stream) Finalize() {
	if s == nil {
		return
	}
	s.h.release()
}

// Synchronize blocks until all work enqueued in the stream has completed.
func (s *Stream) Synchronize() error {
	defer runtime.KeepAlive(s)
	raw, err := s.raw()
	if err != nil {
		return err
	}
	return check(s.api.StreamSynchronize(raw), "cuStreamSynchronize")
}

// Query returns whether all work enqueued in the stream has completed, without blocking.
// Work still pending is not an error: it returns false.
func (s *Stream) Query() (bool, error) {
	defer runtime.KeepAlive(s)
	raw, err := s.raw()
	if err != nil {
		return false, err
	}
	return queryResult(s.api.StreamQuery(raw), "cuStreamQuery")
}

// queryResult interprets the status of a stream or event query.
func queryResult(r driver.Result, op string) (bool, error) {
	switch r {
	case driver.Success:
		return true, nil
	case driver.NotReady:
		return false, nil
	}
	return false, check(r, op)
}

// Context returns the context the stream runs under, as an Ambient Context.
func (s *Stream) Context() (*Context, error) {
	defer runtime.KeepAlive(s)
	raw, err := s.raw()
	if err != nil {
		return nil, err
	}
	ctx, r := s.api.StreamGetCtx(raw)
	if err := check(r, "cuStreamGetCtx"); err != nil {
		return nil, err
	}
	return newAmbientContext(s.api, ctx), nil
}

// WaitEvent makes work submitted to s after this call wait until the point last recorded in
// the event completes. It doesn't block the caller.
func (s *Stream) WaitEvent(e *Event) error {
	defer runtime.KeepAlive(s)
	defer runtime.KeepAlive(e)
	raw, err := s.raw()
	if err != nil {
		return err
	}
	event, err := e.raw()
	if err != nil {
		return err
	}
	return check(s.api.StreamWaitEvent(raw, event, 0), "cuStreamWaitEvent")
}

// String implements fmt.Stringer.
func (s *Stream) String() string {
	if s.IsNil() {
		return "Stream(nil)"
	}
	return fmt.Sprintf("Stream(%#x, %s)", uintptr(s.h.raw), s.Ownership())
}
