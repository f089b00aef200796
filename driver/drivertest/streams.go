// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package drivertest

import (
	"time"

	"github.com/gomlx/gocuda/driver"
)

// enqueue appends the operation to the stream and lets every stream progress.
// It must be called with f.mu held.
func (f *Fake) enqueue(s *fakeStream, op *fakeOp) {
	s.pending = append(s.pending, op)
	f.progress()
}

// advance runs the operations of s that are ready, in order, and reports whether any ran.
func (f *Fake) advance(s *fakeStream) (ran bool) {
	for len(s.pending) > 0 && !s.held {
		op := s.pending[0]
		if op.wait != nil && !op.wait.done {
			break
		}
		s.pending = s.pending[1:]
		if op.run != nil {
			op.run()
		}
		ran = true
	}
	return
}

// progress advances all streams until none can make progress: an event completing in one stream
// may unblock others.
func (f *Fake) progress() {
	for changed := true; changed; {
		changed = false
		for _, s := range f.streams {
			if f.advance(s) {
				changed = true
			}
		}
	}
}

// drain executes all pending work of s, ignoring holds, including the work of other streams s
// waits on. It simulates blocking until the stream is idle.
func (f *Fake) drain(s *fakeStream) {
	for len(s.pending) > 0 {
		op := s.pending[0]
		if op.wait != nil && !op.wait.done {
			if src, ok := f.streams[op.wait.stream]; ok && src != s {
				// Draining src also advances s: re-read its head.
				f.drain(src)
				op.wait.done = true
				continue
			}
			op.wait.done = true
		}
		s.pending = s.pending[1:]
		if op.run != nil {
			op.run()
		}
	}
	f.progress()
}

// StreamCreate implements driver.API. It requires a current context in the calling thread.
func (f *Fake) StreamCreate(flags uint32) (driver.Stream, driver.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, failed := f.enter("cuStreamCreate"); failed {
		return 0, r
	}
	ctx := f.current()
	if ctx == 0 {
		return 0, errInvalidContext
	}
	if flags != 0 {
		return 0, errInvalidValue
	}
	s := driver.Stream(f.newHandle())
	f.streams[s] = &fakeStream{ctx: ctx}
	return s, driver.Success
}

// StreamDestroy implements driver.API. Pending work still completes.
func (f *Fake) StreamDestroy(s driver.Stream) driver.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, failed := f.enter("cuStreamDestroy"); failed {
		return r
	}
	stream, ok := f.streams[s]
	if !ok {
		return errInvalidHandle
	}
	f.drain(stream)
	delete(f.streams, s)
	return driver.Success
}

// StreamSynchronize implements driver.API.
func (f *Fake) StreamSynchronize(s driver.Stream) driver.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, failed := f.enter("cuStreamSynchronize"); failed {
		return r
	}
	stream, ok := f.streams[s]
	if !ok {
		return errInvalidHandle
	}
	f.drain(stream)
	return driver.Success
}

// StreamQuery implements driver.API.
func (f *Fake) StreamQuery(s driver.Stream) driver.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, failed := f.enter("cuStreamQuery"); failed {
		return r
	}
	stream, ok := f.streams[s]
	if !ok {
		return errInvalidHandle
	}
	if len(stream.pending) > 0 {
		return driver.NotReady
	}
	return driver.Success
}

// StreamGetCtx implements driver.API.
func (f *Fake) StreamGetCtx(s driver.Stream) (driver.Context, driver.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, failed := f.enter("cuStreamGetCtx"); failed {
		return 0, r
	}
	stream, ok := f.streams[s]
	if !ok {
		return 0, errInvalidHandle
	}
	return stream.ctx, driver.Success
}

// StreamWaitEvent implements driver.API. It waits on the event's most recent record.
func (f *Fake) StreamWaitEvent(s driver.Stream, e driver.Event, flags uint32) driver.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, failed := f.enter("cuStreamWaitEvent"); failed {
		return r
	}
	stream, ok := f.streams[s]
	if !ok {
		return errInvalidHandle
	}
	event, ok := f.events[e]
	if !ok {
		return errInvalidHandle
	}
	if flags != 0 {
		return errInvalidValue
	}
	if event.record != nil && !event.record.done {
		f.enqueue(stream, &fakeOp{wait: event.record})
	}
	return driver.Success
}

// EventCreate implements driver.API. It requires a current context in the calling thread.
func (f *Fake) EventCreate(flags uint32) (driver.Event, driver.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, failed := f.enter("cuEventCreate"); failed {
		return 0, r
	}
	ctx := f.current()
	if ctx == 0 {
		return 0, errInvalidContext
	}
	if flags != 0 {
		return 0, errInvalidValue
	}
	e := driver.Event(f.newHandle())
	f.events[e] = &fakeEvent{ctx: ctx}
	return e, driver.Success
}

// EventDestroy implements driver.API.
func (f *Fake) EventDestroy(e driver.Event) driver.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, failed := f.enter("cuEventDestroy"); failed {
		return r
	}
	if _, ok := f.events[e]; !ok {
		return errInvalidHandle
	}
	delete(f.events, e)
	return driver.Success
}

// EventRecord implements driver.API. Stream 0 (the null stream) records immediately.
func (f *Fake) EventRecord(e driver.Event, s driver.Stream) driver.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, failed := f.enter("cuEventRecord"); failed {
		return r
	}
	event, ok := f.events[e]
	if !ok {
		return errInvalidHandle
	}
	record := &fakeRecord{stream: s}
	event.record = record
	complete := func() {
		record.done = true
		record.at = time.Now()
	}
	if s == 0 {
		complete()
		return driver.Success
	}
	stream, ok := f.streams[s]
	if !ok {
		return errInvalidHandle
	}
	f.enqueue(stream, &fakeOp{run: complete})
	return driver.Success
}

// EventQuery implements driver.API. An event never recorded is complete.
func (f *Fake) EventQuery(e driver.Event) driver.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, failed := f.enter("cuEventQuery"); failed {
		return r
	}
	event, ok := f.events[e]
	if !ok {
		return errInvalidHandle
	}
	if event.record != nil && !event.record.done {
		return driver.NotReady
	}
	return driver.Success
}

// EventSynchronize implements driver.API.
func (f *Fake) EventSynchronize(e driver.Event) driver.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, failed := f.enter("cuEventSynchronize"); failed {
		return r
	}
	event, ok := f.events[e]
	if !ok {
		return errInvalidHandle
	}
	if record := event.record; record != nil && !record.done {
		if stream, ok := f.streams[record.stream]; ok {
			f.drain(stream)
		}
	}
	return driver.Success
}

// EventElapsedTime implements driver.API. Both events must have been recorded and completed.
func (f *Fake) EventElapsedTime(start, end driver.Event) (float32, driver.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, failed := f.enter("cuEventElapsedTime"); failed {
		return 0, r
	}
	startEvent, ok := f.events[start]
	if !ok {
		return 0, errInvalidHandle
	}
	endEvent, ok := f.events[end]
	if !ok {
		return 0, errInvalidHandle
	}
	if startEvent.record == nil || endEvent.record == nil {
		return 0, errInvalidHandle
	}
	if !startEvent.record.done || !endEvent.record.done {
		return 0, driver.NotReady
	}
	elapsed := endEvent.record.at.Sub(startEvent.record.at)
	return float32(elapsed.Seconds() * 1000), driver.Success
}
