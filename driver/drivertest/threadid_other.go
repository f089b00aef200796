// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

//go:build !linux

package drivertest

// threadID returns a single id: outside linux all threads share one context stack.
func threadID() int {
	return 0
}
