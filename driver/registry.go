// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package driver

import (
	"os"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Constructor takes a config string (optionally empty) and returns a driver.
type Constructor func(config string) (API, error)

var (
	muRegistry             sync.RWMutex
	registeredConstructors = make(map[string]Constructor)
)

// Register a driver with the given name and a constructor that takes as input a configuration
// string that is passed along to the driver.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	registeredConstructors[name] = constructor
}

// Registered returns the names of the registered drivers, sorted.
func Registered() []string {
	muRegistry.RLock()
	defer muRegistry.RUnlock()
	names := make([]string, 0, len(registeredConstructors))
	for name := range registeredConstructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConfigEnvVar is the environment variable with the default driver configuration to use.
//
// The format of config is "<driver_name>:<driver_configuration>".
// The "<driver_name>" is the name of a registered driver (e.g.: "cuda") and
// "<driver_configuration>" is driver specific (e.g.: for "fake", the list of device memory sizes).
const ConfigEnvVar = "GOCUDA_DRIVER"

// DefaultConfig is the driver configuration used if ConfigEnvVar is not set.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// DefaultDrivers is the list of drivers to use in preference order, if not otherwise specified.
var DefaultDrivers = []string{"cuda", "fake"}

// New returns a new default driver.
//
// The default is:
//
//  1. The environment ConfigEnvVar is used as a configuration if defined.
//  2. Next the variable DefaultConfig is used as a configuration if defined.
//  3. The first registered driver in DefaultDrivers, then any registered driver, with an empty configuration.
func New() (API, error) {
	if config, found := os.LookupEnv(ConfigEnvVar); found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewWithConfig takes a configuration string formatted as "<driver_name>:<driver_configuration>".
//
// If "<driver_name>" is empty, it picks the preferred registered driver, see DefaultDrivers.
func NewWithConfig(config string) (API, error) {
	name, driverConfig := config, ""
	if idx := strings.Index(config, ":"); idx != -1 {
		name, driverConfig = config[:idx], config[idx+1:]
	}
	registered := Registered()
	if len(registered) == 0 {
		return nil, errors.New(`no registered CUDA drivers -- maybe import the cgo one with ` +
			`import _ "github.com/gomlx/gocuda/driver/nvcuda" and build with -tags cuda?`)
	}
	if name == "" {
		name = preferred(registered)
	}
	muRegistry.RLock()
	constructor, found := registeredConstructors[name]
	muRegistry.RUnlock()
	if !found {
		return nil, errors.Errorf("can't find driver %q for configuration %q given, registered drivers: %q",
			name, config, registered)
	}
	api, err := constructor(driverConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "driver %q", name)
	}
	return api, nil
}

// preferred picks the first of DefaultDrivers that is registered, or else the first registered.
func preferred(registered []string) string {
	for _, name := range DefaultDrivers {
		if slices.Contains(registered, name) {
			return name
		}
	}
	return registered[0]
}
