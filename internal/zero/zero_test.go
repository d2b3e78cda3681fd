// Copyright 2021 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package zero

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBytes(t *testing.T) {
	for _, input := range [][]byte{
		{},
		{'a', 'b', 'c'},
	} {
		initialLen := len(input)
		initialCap := cap(input)
		// slices are zero'd by default
		expected := make([]byte, len(input))
		Bytes(input)
		require.Equal(t, expected, input)
		require.True(t, IsZero(input))
		// len and cap should be unchanged
		require.Equal(t, initialLen, len(input))
		require.Equal(t, initialCap, cap(input))
	}
}

func TestIsZero(t *testing.T) {
	b := make([]byte, 5)
	require.True(t, IsZero(b))
	require.True(t, IsZero(nil))
	b[3] = 1
	require.False(t, IsZero(b))
	Bytes(b)
	require.True(t, IsZero(b))
}
