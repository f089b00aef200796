// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// cudainfo lists the devices seen by the CUDA driver and optionally benchmarks host/device copies.
//
// Build with "-tags cuda" to use the real driver. Without it (or with -driver=fake) it reports
// the in-memory fake driver, configurable with e.g. -driver=fake:8GiB,16GiB.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gocuda/cuda"
	"github.com/gomlx/gocuda/driver"
	"github.com/gomlx/gocuda/driver/drivertest"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gocuda/driver/nvcuda"
)

var (
	flagDriver = flag.String("driver", "", fmt.Sprintf("Driver configuration formatted as \"<name>:<config>\". "+
		"If empty, $%s is used, and then the first available of %q.", driver.ConfigEnvVar, driver.DefaultDrivers))
	flagDevice = flag.Int("device", -1, "Ordinal of the device to test or benchmark. If negative, all devices are used.")
	flagSmoke  = flag.Bool("smoke", false, "Run a host to device to host round trip on each selected device.")
	flagBench  = flag.Bool("bench", false, "Benchmark host to device and device to host copies.")
	flagSize   = flag.String("bench_size", "64MiB", "Size of each copy in the benchmark, e.g. \"256MiB\".")
	flagIters  = flag.Int("bench_iters", 20, "Number of copies in each direction, per device.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if len(flag.Args()) > 0 {
		klog.Errorf("Unexpected arguments %q. See 'cudainfo -help'.", flag.Args())
		os.Exit(1)
	}

	api := must.M1(newDriver(*flagDriver))
	must.M(cuda.InitWithDriver(api))
	devices := listDevices(api)
	if *flagDevice >= 0 {
		if *flagDevice >= len(devices) {
			klog.Errorf("-device=%d given, but only %d devices available.", *flagDevice, len(devices))
			os.Exit(1)
		}
		devices = devices[*flagDevice : *flagDevice+1]
	}
	if *flagSmoke {
		for _, dev := range devices {
			if err := smoke(dev); err != nil {
				klog.Fatalf("Round trip on %s failed: %+v", dev, err)
			}
			fmt.Printf("%s: round trip ok\n", dev)
		}
	}
	if *flagBench {
		size := must.M1(humanize.ParseBytes(*flagSize))
		if size == 0 || *flagIters <= 0 {
			klog.Errorf("-bench_size and -bench_iters must be positive.")
			os.Exit(1)
		}
		benchmark(devices, int(size), *flagIters)
	}
}

func newDriver(config string) (driver.API, error) {
	if config == "" {
		return driver.New()
	}
	return driver.NewWithConfig(config)
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == lgtable.HeaderRow {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

// driverLabel names the driver for the reports, marking the in-memory fake.
func driverLabel(api driver.API) string {
	if api.Name() == drivertest.Name {
		return api.Name() + " (in-memory, not hardware)"
	}
	return api.Name()
}

// deviceRow is the devices table row of dev.
func deviceRow(api driver.API, dev cuda.Device) []string {
	name := must.M1(dev.Name())
	memory := must.M1(dev.TotalMemory())
	return []string{fmt.Sprint(dev.Ordinal()), name, humanize.IBytes(memory), driverLabel(api)}
}

// listDevices prints the driver summary and the devices table, and returns the devices.
func listDevices(api driver.API) []cuda.Device {
	count := must.M1(cuda.DeviceCount())
	fmt.Println(titleStyle.Render("Driver"))
	summary := newPlainTable(false)
	summary.Row("driver", driverLabel(api))
	summary.Row("# devices", humanize.Comma(int64(count)))
	fmt.Println(summary.Render())
	if api.Name() == drivertest.Name {
		klog.Warningf("Using the in-memory %q driver: devices are simulated. Build with -tags cuda for real devices.", api.Name())
	}

	devices := make([]cuda.Device, 0, count)
	fmt.Println(titleStyle.Render("Devices"))
	table := newPlainTable(true).Headers("Ordinal", "Name", "Memory", "Driver")
	for ordinal := range count {
		dev := must.M1(cuda.NewDevice(ordinal))
		devices = append(devices, dev)
		table.Row(deviceRow(api, dev)...)
	}
	fmt.Println(table.Render())
	return devices
}
