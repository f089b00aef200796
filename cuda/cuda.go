// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cuda is a safe, ownership-aware layer over the CUDA driver API.
//
// It wraps the native contexts, streams, events and memory buffers in Go values that track who
// owns the underlying handle (see Ownership) and release it exactly once: either explicitly with
// Finalize, or when the Go value is garbage collected.
//
// Before anything else, call Init (or InitWithDriver) once. Init picks the driver from the
// registry in package driver: with the "cuda" build tag and
//
//	import _ "github.com/gomlx/gocuda/driver/nvcuda"
//
// it binds the real libcuda. Tests use the in-memory driver in package drivertest.
//
// A typical round trip:
//
//	dev, err := cuda.NewDevice(0)
//	ctx, err := cuda.NewContext(dev)
//	err = ctx.Run(func() error {
//		stream, err := cuda.NewStream()
//		...
//		mem, err := cuda.AllocDevice(4096, stream)
//		...
//		err = mem.CopyFromHost(host, nil)
//		...
//		return stream.Synchronize()
//	})
//
// Errors returned by this package wrap an ErrorKind, see Classify and KindOf.
//
// The driver's current-context stack is per OS thread: pushing a context (Context.Push or
// Context.Guard) locks the calling goroutine to its OS thread until the matching pop.
package cuda

import (
	"sync"

	"github.com/gomlx/gocuda/driver"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	muDriver      sync.RWMutex
	defaultDriver driver.API
)

// Init initializes the default driver (see driver.New) and makes it the one used by this package.
func Init() error {
	api, err := driver.New()
	if err != nil {
		return errors.WithMessage(err, "cuda.Init")
	}
	return InitWithDriver(api)
}

// InitWithDriver initializes the given driver and makes it the one used by this package for new
// objects. Objects already created keep using the driver they were created with.
func InitWithDriver(api driver.API) error {
	if api == nil {
		return errors.Wrap(InvalidValue, "cuda.InitWithDriver(nil)")
	}
	if err := check(api.Init(0), "cuInit"); err != nil {
		return errors.WithMessagef(err, "initializing driver %q", api.Name())
	}
	muDriver.Lock()
	defaultDriver = api
	muDriver.Unlock()
	klog.V(1).Infof("cuda: initialized driver %q", api.Name())
	return nil
}

// Driver returns the driver in use, or nil if Init was not called.
func Driver() driver.API {
	muDriver.RLock()
	defer muDriver.RUnlock()
	return defaultDriver
}

// currentDriver returns the driver in use or a NotInitialized error.
func currentDriver() (driver.API, error) {
	api := Driver()
	if api == nil {
		return nil, errors.Wrap(NotInitialized, "cuda.Init was not called")
	}
	return api, nil
}
