// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package drivertest

import "golang.org/x/sys/unix"

// threadID identifies the calling OS thread, which owns a context stack.
func threadID() int {
	return unix.Gettid()
}
