// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cuda

import (
	"fmt"

	"github.com/gomlx/gocuda/driver"
	"github.com/pkg/errors"
)

// Device identifies a physical device by its ordinal. It is a plain value: it holds no native
// resources and can be freely copied.
type Device struct {
	api     driver.API
	raw     driver.Device
	ordinal int
}

// DeviceCount returns the number of devices enumerated by the driver.
func DeviceCount() (int, error) {
	api, err := currentDriver()
	if err != nil {
		return 0, err
	}
	count, r := api.DeviceGetCount()
	if err := check(r, "cuDeviceGetCount"); err != nil {
		return 0, err
	}
	return count, nil
}

// NewDevice returns the device with the given ordinal. It fails with InvalidDevice if ordinal is
// not in [0, DeviceCount()).
func NewDevice(ordinal int) (Device, error) {
	api, err := currentDriver()
	if err != nil {
		return Device{}, err
	}
	count, r := api.DeviceGetCount()
	if err := check(r, "cuDeviceGetCount"); err != nil {
		return Device{}, err
	}
	if ordinal < 0 || ordinal >= count {
		return Device{}, errors.Wrapf(InvalidDevice, "cuda.NewDevice(%d): %d devices available", ordinal, count)
	}
	raw, r := api.DeviceGet(ordinal)
	if err := check(r, "cuDeviceGet"); err != nil {
		return Device{}, err
	}
	return Device{api: api, raw: raw, ordinal: ordinal}, nil
}

// Ordinal of the device.
func (d Device) Ordinal() int { return d.ordinal }

// Raw returns the native device handle.
func (d Device) Raw() driver.Device { return d.raw }

// Name returns the device name reported by the driver.
func (d Device) Name() (string, error) {
	if d.api == nil {
		return "", errors.Wrap(InvalidDevice, "zero Device")
	}
	name, r := d.api.DeviceGetName(d.raw)
	if err := check(r, "cuDeviceGetName"); err != nil {
		return "", err
	}
	return name, nil
}

// TotalMemory returns the device's addressable memory in bytes.
func (d Device) TotalMemory() (uint64, error) {
	if d.api == nil {
		return 0, errors.Wrap(InvalidDevice, "zero Device")
	}
	bytes, r := d.api.DeviceTotalMem(d.raw)
	if err := check(r, "cuDeviceTotalMem"); err != nil {
		return 0, err
	}
	return bytes, nil
}

// RetainPrimaryContext is an alias to RetainPrimaryContext(d).
func (d Device) RetainPrimaryContext() (*Context, error) {
	return RetainPrimaryContext(d)
}

// ReleasePrimaryContext releases one retention of the device's primary context.
//
// The context returned by RetainPrimaryContext is Ambient and never releases it: call this once
// per retention when the primary context is no longer needed.
func (d Device) ReleasePrimaryContext() error {
	if d.api == nil {
		return errors.Wrap(InvalidDevice, "zero Device")
	}
	return check(d.api.DevicePrimaryCtxRelease(d.raw), "cuDevicePrimaryCtxRelease")
}

// String implements fmt.Stringer.
func (d Device) String() string {
	return fmt.Sprintf("Device(%d)", d.ordinal)
}
