// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package drivertest implements an in-memory driver.API, used to test package cuda without a GPU.
//
// The Fake models what the ownership and ordering layers depend on:
//
//   - Devices with configurable memory, primary contexts and a per-OS-thread context stack.
//   - Streams as ordered queues. Work runs as soon as it is enqueued, unless the stream is
//     held (see Fake.Hold) or waits on an event that hasn't completed: then it stays pending
//     and StreamQuery reports driver.NotReady until a synchronization drains it.
//   - Events with timestamps taken when their recorded point executes.
//   - Pinned host memory (Go allocated, kept reachable while allocated) and a separate
//     device address space backed by byte slices.
//
// Every native call is counted (see Fake.Calls) and failures can be injected (see Fake.FailNext).
package drivertest

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gocuda/driver"
	"github.com/pkg/errors"
)

// Name of the fake driver in the driver registry.
const Name = "fake"

// DefaultDeviceMemory is the memory of each device when none is configured.
const DefaultDeviceMemory = 8 << 30

func init() {
	driver.Register(Name, func(config string) (driver.API, error) {
		return NewFromConfig(config)
	})
}

var _ driver.API = (*Fake)(nil)

// Fake implements driver.API in memory. It is safe for concurrent use.
type Fake struct {
	mu          sync.Mutex
	initialized bool
	calls       map[string]int
	failures    map[string][]driver.Result

	devices  []*fakeDevice
	contexts map[driver.Context]*fakeContext
	stacks   map[int][]driver.Context // Per OS thread.
	streams  map[driver.Stream]*fakeStream
	events   map[driver.Event]*fakeEvent
	host     map[uintptr][]byte
	device   map[driver.DevicePtr]*fakeAlloc

	nextHandle  uintptr
	nextAddress driver.DevicePtr
}

type fakeDevice struct {
	name     string
	memory   uint64
	primary  driver.Context
	retained int
}

type fakeContext struct {
	device    driver.Device
	isPrimary bool
}

type fakeStream struct {
	ctx     driver.Context
	held    bool
	pending []*fakeOp
}

// fakeOp is one unit of work on a stream: either a function to run, or a wait on an event record.
type fakeOp struct {
	wait *fakeRecord
	run  func()
}

type fakeEvent struct {
	ctx    driver.Context
	record *fakeRecord
}

// fakeRecord is one recorded point of an event: re-recording creates a new one.
type fakeRecord struct {
	stream driver.Stream
	done   bool
	at     time.Time
}

// New creates a Fake with one device per given memory size. Without sizes it creates a single
// device with DefaultDeviceMemory.
func New(deviceMemory ...uint64) *Fake {
	if len(deviceMemory) == 0 {
		deviceMemory = []uint64{DefaultDeviceMemory}
	}
	f := &Fake{
		calls:       make(map[string]int),
		failures:    make(map[string][]driver.Result),
		contexts:    make(map[driver.Context]*fakeContext),
		stacks:      make(map[int][]driver.Context),
		streams:     make(map[driver.Stream]*fakeStream),
		events:      make(map[driver.Event]*fakeEvent),
		host:        make(map[uintptr][]byte),
		device:      make(map[driver.DevicePtr]*fakeAlloc),
		nextHandle:  0x1000,
		nextAddress: 0x7f0000000000,
	}
	for ii, mem := range deviceMemory {
		f.devices = append(f.devices, &fakeDevice{
			name:   fmt.Sprintf("Fake CUDA Device %d", ii),
			memory: mem,
		})
	}
	return f
}

// NewFromConfig parses a comma separated list of device memory sizes (e.g. "8GiB,16GiB") and
// returns the corresponding Fake.
func NewFromConfig(config string) (*Fake, error) {
	var sizes []uint64
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		size, err := humanize.ParseBytes(part)
		if err != nil {
			return nil, errors.Wrapf(err, "fake driver: invalid device memory size %q", part)
		}
		sizes = append(sizes, size)
	}
	return New(sizes...), nil
}

// Name implements driver.API.
func (f *Fake) Name() string {
	return Name
}

// Calls returns how many times the native function with the given name (e.g. "cuStreamDestroy")
// was called.
func (f *Fake) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

// FailNext makes the next call to the native function name return result, without any effect.
// Multiple failures for the same function are returned in order.
func (f *Fake) FailNext(name string, result driver.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[name] = append(f.failures[name], result)
}

// Hold stops the stream from executing work: enqueued operations stay pending until the stream
// is resumed or synchronized.
func (f *Fake) Hold(s driver.Stream) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if stream, ok := f.streams[s]; ok {
		stream.held = true
	}
}

// Resume lets a held stream execute its pending work.
func (f *Fake) Resume(s driver.Stream) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if stream, ok := f.streams[s]; ok {
		stream.held = false
	}
	f.progress()
}

// Pending returns the number of operations waiting to execute in the stream.
func (f *Fake) Pending(s driver.Stream) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if stream, ok := f.streams[s]; ok {
		return len(stream.pending)
	}
	return 0
}

// Stack returns a copy of the calling OS thread's context stack, bottom first.
func (f *Fake) Stack() []driver.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]driver.Context(nil), f.stacks[threadID()]...)
}

// Live reports the native objects currently alive in the fake.
type Live struct {
	Contexts, Streams, Events, HostBuffers, DeviceBuffers int
}

// Live returns the count of native objects currently alive.
func (f *Fake) Live() Live {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Live{
		Contexts:      len(f.contexts),
		Streams:       len(f.streams),
		Events:        len(f.events),
		HostBuffers:   len(f.host),
		DeviceBuffers: len(f.device),
	}
}

// DeviceBytes returns a copy of the contents of the device allocation that contains p, starting at p.
func (f *Fake) DeviceBytes(p driver.DevicePtr, size int) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.resolveDevice(p, uintptr(size))
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// enter counts the call and returns an injected failure, if any, or the NotInitialized status
// if Init was not called. It must be called with f.mu held.
func (f *Fake) enter(name string) (driver.Result, bool) {
	f.calls[name]++
	if queue := f.failures[name]; len(queue) > 0 {
		f.failures[name] = queue[1:]
		return queue[0], true
	}
	if !f.initialized && name != "cuInit" {
		return errNotInitialized, true
	}
	return driver.Success, false
}

// Status codes used by the fake.
const (
	errInvalidValue   driver.Result = 1
	errOutOfMemory    driver.Result = 2
	errNotInitialized driver.Result = 3
	errInvalidDevice  driver.Result = 101
	errInvalidContext driver.Result = 201
	errInvalidHandle  driver.Result = 400
)

func (f *Fake) newHandle() uintptr {
	f.nextHandle += 0x10
	return f.nextHandle
}

// Init implements driver.API.
func (f *Fake) Init(flags uint32) driver.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, failed := f.enter("cuInit"); failed {
		return r
	}
	if flags != 0 {
		return errInvalidValue
	}
	f.initialized = true
	return driver.Success
}
