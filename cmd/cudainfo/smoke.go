// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"

	"github.com/gomlx/gocuda/cuda"
	"github.com/pkg/errors"
)

const (
	smokeSize = 4096
	smokeByte = 0xAB
)

// smoke copies a buffer filled with smokeByte to dev and back, and checks the result.
func smoke(dev cuda.Device) error {
	ctx, err := cuda.NewContext(dev)
	if err != nil {
		return err
	}
	defer ctx.Finalize()
	return ctx.Run(func() error {
		stream, err := cuda.NewStream()
		if err != nil {
			return err
		}
		defer stream.Finalize()
		mem, err := cuda.AllocDevice(smokeSize, stream)
		if err != nil {
			return err
		}
		defer mem.Finalize()
		src, err := cuda.AllocHost(smokeSize)
		if err != nil {
			return err
		}
		defer src.Finalize()
		copy(src.Bytes(), bytes.Repeat([]byte{smokeByte}, smokeSize))
		if err := mem.CopyFromHost(src, nil); err != nil {
			return err
		}
		if err := stream.Synchronize(); err != nil {
			return err
		}
		dst, err := mem.ToHost()
		if err != nil {
			return err
		}
		defer dst.Finalize()
		if err := stream.Synchronize(); err != nil {
			return err
		}
		for ii, b := range dst.Bytes() {
			if b != smokeByte {
				return errors.Errorf("byte %d is %#x after the round trip, wanted %#x", ii, b, smokeByte)
			}
		}
		return nil
	})
}
