// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cuda

import (
	"fmt"
	"runtime"
	"time"

	"github.com/gomlx/gocuda/driver"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Event marks a point in a stream: it completes when the stream reaches the point it was recorded at.
// Events are used for cross-stream dependencies (Stream.WaitEvent) and timing (ElapsedTime).
type Event struct {
	api driver.API
	h   *handle[driver.Event]
}

// NewEvent creates an event in the calling thread's current context, exclusively owned by the
// returned Event.
func NewEvent() (*Event, error) {
	api, err := currentDriver()
	if err != nil {
		return nil, err
	}
	raw, r := api.EventCreate(0)
	if err := check(r, "cuEventCreate"); err != nil {
		return nil, err
	}
	klog.V(1).Infof("cuda: created event %#x", uintptr(raw))
	e := &Event{
		api: api,
		h:   newOwnedHandle(raw, "cuEventDestroy", api.EventDestroy, &live.events),
	}
	RegisterFinalizer(e)
	return e, nil
}

// WrapEvent references a native event owned elsewhere, as an Ambient Event.
func WrapEvent(raw driver.Event) (*Event, error) {
	api, err := currentDriver()
	if err != nil {
		return nil, err
	}
	return &Event{api: api, h: newAmbientHandle(raw)}, nil
}

// IsNil returns whether e is nil or finalized.
func (e *Event) IsNil() bool {
	return e == nil || !e.h.valid()
}

// Raw returns the native event handle, or 0 if e is nil or finalized.
func (e *Event) Raw() driver.Event {
	if e.IsNil() {
		return 0
	}
	return e.h.raw
}

// Ownership of the native event by e.
func (e *Event) Ownership() Ownership {
	if e == nil {
		return Ambient
	}
	return e.h.ownership()
}

func (e *Event) raw() (driver.Event, error) {
	if e.IsNil() {
		return 0, errors.Wrap(InvalidHandle, "event is nil or already finalized")
	}
	return e.h.raw, nil
}

// Clone returns a new reference to the same native event, destroyed when the last reference is
// finalized. It panics if e was already finalized.
func (e *Event) Clone() *Event {
	clone := &Event{api: e.api, h: e.h.clone()}
	if clone.h.owner != nil {
		RegisterFinalizer(clone)
	}
	return clone
}

// Finalize releases this reference to the native event. It is idempotent.
func (e *Event) Finalize() {
	if e == nil {
		return
	}
	e.h.release()
}

// Record marks the event at the current tail of the stream. Re-recording moves the mark.
func (e *Event) Record(s *Stream) error {
	defer runtime.KeepAlive(e)
	defer runtime.KeepAlive(s)
	raw, err := e.raw()
	if err != nil {
		return err
	}
	stream, err := s.raw()
	if err != nil {
		return err
	}
	return check(e.api.EventRecord(raw, stream), "cuEventRecord")
}

// Query returns whether the recorded point was reached, without blocking.
// Not reached yet is not an error: it returns false.
func (e *Event) Query() (bool, error) {
	defer runtime.KeepAlive(e)
	raw, err := e.raw()
	if err != nil {
		return false, err
	}
	return queryResult(e.api.EventQuery(raw), "cuEventQuery")
}

// Synchronize blocks until the recorded point is reached.
func (e *Event) Synchronize() error {
	defer runtime.KeepAlive(e)
	raw, err := e.raw()
	if err != nil {
		return err
	}
	return check(e.api.EventSynchronize(raw), "cuEventSynchronize")
}

// ElapsedTime returns the time between the recorded points of start and e.
//
// Both events must have been recorded and completed: otherwise the driver's error is returned
// (e.g. NotReady, or InvalidHandle for an event never recorded). The driver's resolution is
// around half a microsecond.
func (e *Event) ElapsedTime(start *Event) (time.Duration, error) {
	defer runtime.KeepAlive(e)
	defer runtime.KeepAlive(start)
	end, err := e.raw()
	if err != nil {
		return 0, err
	}
	begin, err := start.raw()
	if err != nil {
		return 0, err
	}
	ms, r := e.api.EventElapsedTime(begin, end)
	if err := check(r, "cuEventElapsedTime"); err != nil {
		return 0, err
	}
	return time.Duration(float64(ms) * float64(time.Millisecond)), nil
}

// String implements fmt.Stringer.
func (e *Event) String() string {
	if e.IsNil() {
		return "Event(nil)"
	}
	return fmt.Sprintf("Event(%#x, %s)", uintptr(e.h.raw), e.Ownership())
}
