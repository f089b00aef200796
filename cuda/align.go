// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cuda

import (
	"github.com/gomlx/exceptions"
	"golang.org/x/exp/constraints"
)

// RoundUp returns x rounded up to the next multiple of align, or x if it is already a multiple.
//
// align must be a positive power of two and x must be non-negative. It panics (with
// exceptions.Panicf) if these don't hold, or if the result overflows T.
func RoundUp[T constraints.Integer](x, align T) T {
	if align <= 0 || align&(align-1) != 0 {
		exceptions.Panicf("cuda.RoundUp(%d, %d): align must be a positive power of two", x, align)
	}
	if x < 0 {
		exceptions.Panicf("cuda.RoundUp(%d, %d): x must be non-negative", x, align)
	}
	mask := align - 1
	if x&mask == 0 {
		return x
	}
	v := x | mask
	if v+1 < v {
		exceptions.Panicf("cuda.RoundUp(%d, %d): overflow", x, align)
	}
	return v + 1
}
