// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gocuda/cuda"
	"github.com/google/uuid"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// benchResult holds the accumulated copy times of one device.
type benchResult struct {
	device           cuda.Device
	bytes            uint64
	toDevice, toHost time.Duration
}

// benchmark times iterations copies of size bytes in each direction on each device, and prints
// the bandwidth table.
func benchmark(devices []cuda.Device, size, iterations int) {
	runID := uuid.NewString()
	klog.V(1).Infof("benchmark run %s: %d devices, %s per copy", runID, len(devices), humanize.IBytes(uint64(size)))

	output := termenv.NewOutput(os.Stdout)
	output.HideCursor()
	bar := progressbar.NewOptions(2*iterations*len(devices),
		progressbar.OptionSetDescription("      [bold]copies[reset]"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("copies"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
	)
	results := make([]benchResult, 0, len(devices))
	for _, dev := range devices {
		results = append(results, benchDevice(dev, size, iterations, bar))
	}
	_ = bar.Finish()
	output.ShowCursor()
	fmt.Println()

	fmt.Println(titleStyle.Render(fmt.Sprintf("Copy bandwidth (run %s)", runID)))
	table := newPlainTable(true).Headers("Ordinal", "Copied", "Host to device", "Device to host")
	for _, result := range results {
		table.Row(fmt.Sprint(result.device.Ordinal()), humanize.IBytes(result.bytes),
			bandwidth(result.bytes, result.toDevice), bandwidth(result.bytes, result.toHost))
	}
	fmt.Println(table.Render())
}

// benchDevice runs the copies on a new context of dev.
func benchDevice(dev cuda.Device, size, iterations int, bar *progressbar.ProgressBar) benchResult {
	result := benchResult{device: dev, bytes: uint64(size) * uint64(iterations)}
	ctx := must.M1(cuda.NewContext(dev))
	defer ctx.Finalize()
	must.M(ctx.Run(func() error {
		stream, err := cuda.NewStream()
		if err != nil {
			return err
		}
		defer stream.Finalize()
		host, err := cuda.AllocHost(size)
		if err != nil {
			return err
		}
		defer host.Finalize()
		mem, err := cuda.AllocDevice(size, stream)
		if err != nil {
			return err
		}
		defer mem.Finalize()
		start, err := cuda.NewEvent()
		if err != nil {
			return err
		}
		defer start.Finalize()
		stop, err := cuda.NewEvent()
		if err != nil {
			return err
		}
		defer stop.Finalize()

		for range iterations {
			elapsed, err := timeCopy(stream, start, stop, func() error { return mem.CopyFromHost(host, nil) })
			if err != nil {
				return err
			}
			result.toDevice += elapsed
			_ = bar.Add(1)
			elapsed, err = timeCopy(stream, start, stop, func() error { return mem.CopyToHost(host, nil) })
			if err != nil {
				return err
			}
			result.toHost += elapsed
			_ = bar.Add(1)
		}
		return nil
	}))
	return result
}

// timeCopy enqueues copyFn between the two events and waits for it.
func timeCopy(stream *cuda.Stream, start, stop *cuda.Event, copyFn func() error) (time.Duration, error) {
	if err := start.Record(stream); err != nil {
		return 0, err
	}
	if err := copyFn(); err != nil {
		return 0, err
	}
	if err := stop.Record(stream); err != nil {
		return 0, err
	}
	if err := stop.Synchronize(); err != nil {
		return 0, err
	}
	return stop.ElapsedTime(start)
}

func bandwidth(bytes uint64, elapsed time.Duration) string {
	if elapsed <= 0 {
		return "n/a"
	}
	return humanize.IBytes(uint64(float64(bytes)/elapsed.Seconds())) + "/s"
}
