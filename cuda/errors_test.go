// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cuda

import (
	"fmt"
	"testing"

	"github.com/gomlx/gocuda/driver"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	assert.Equal(t, InvalidValue, Classify(1))
	assert.Equal(t, OutOfMemory, Classify(2))
	assert.Equal(t, NotReady, Classify(600))
	assert.Equal(t, IllegalAddress, Classify(700))
	assert.Equal(t, Timeout, Classify(909))
	assert.Equal(t, Unknown, Classify(999))
	assert.Equal(t, Unknown, Classify(1000))
	assert.Equal(t, Unknown, Classify(-1))
	assert.Equal(t, Unknown, Classify(driver.Success))

	names := make(map[string]ErrorKind, len(errorKinds))
	for kind, info := range errorKinds {
		assert.Equal(t, kind, Classify(driver.Result(kind)), "Classify(%d)", int32(kind))
		assert.Equal(t, info.name, kind.String())
		assert.NotEmpty(t, info.message, "message for %s", kind)
		if other, found := names[info.name]; found {
			t.Errorf("name %q used by %d and %d", info.name, int32(other), int32(kind))
		}
		names[info.name] = kind
	}
	assert.Greater(t, len(errorKinds), 90)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "OutOfMemory", OutOfMemory.String())
	assert.Equal(t, "ErrorKind(12345)", ErrorKind(12345).String())
	assert.Contains(t, OutOfMemory.Error(), "OutOfMemory (2)")
	assert.Contains(t, ErrorKind(12345).Error(), "unknown")
	assert.Equal(t, "CUDA error OutOfMemory (2): unable to allocate enough memory for the operation",
		OutOfMemory.Error())

	// Formatting as an error, as the release paths log it.
	assert.Equal(t, OutOfMemory.Error(), fmt.Sprintf("%v", OutOfMemory))
	assert.Equal(t, "CUDA error ErrorKind(12345) (12345): unknown internal error", fmt.Sprint(ErrorKind(12345)))
}

func TestCheck(t *testing.T) {
	require.NoError(t, check(driver.Success, "cuInit"))

	err := check(2, "cuMemAllocAsync")
	require.Error(t, err)
	assert.True(t, errors.Is(err, OutOfMemory))
	assert.False(t, errors.Is(err, InvalidValue))
	assert.Contains(t, err.Error(), "cuMemAllocAsync")
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, OutOfMemory, kind)

	// Further wrapping preserves the kind.
	kind, ok = KindOf(errors.WithMessage(fmt.Errorf("outer: %w", err), "more context"))
	require.True(t, ok)
	assert.Equal(t, OutOfMemory, kind)

	err = check(4242, "cuStreamQuery")
	kind, _ = KindOf(err)
	assert.Equal(t, Unknown, kind)

	_, ok = KindOf(nil)
	assert.False(t, ok)
	_, ok = KindOf(errors.New("not from the driver"))
	assert.False(t, ok)
}
