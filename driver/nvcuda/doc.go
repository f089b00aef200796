// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package nvcuda binds the NVIDIA CUDA driver library (libcuda) through cgo, and registers it
// as the "cuda" driver.
//
// Simply import it with import _ "github.com/gomlx/gocuda/driver/nvcuda" and build with
// "-tags cuda" to make it available in your program. The CUDA headers (cuda.h) must be found by
// the C compiler, e.g. by setting CGO_CFLAGS="-I/usr/local/cuda/include", and libcuda.so by the
// linker. Without the build tag the package is empty.
package nvcuda

// Name of the driver in the driver registry.
const Name = "cuda"
