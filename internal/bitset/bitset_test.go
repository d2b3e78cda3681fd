// Copyright 2021 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package bitset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBitset(t *testing.T) {
	b := New(16)

	require.Equal(t, 2, len(b.bits))
	require.Equal(t, int64(16), b.length)

	// should do nothing
	b.Set(20)

	zero := []byte{0, 0}
	require.Equal(t, zero, b.bits)

	require.False(t, b.IsSet(7))
	b.Set(7)
	require.True(t, b.IsSet(7))
	b.Set(8)
	require.True(t, b.IsSet(8))
	require.Equal(t, []byte{0x80, 0x01}, b.bits)
	b.Clear(7)
	require.False(t, b.IsSet(7))
	require.True(t, b.IsSet(8))
	b.Clear(8)
	require.Equal(t, zero, b.bits)

	b.SetAll()
	full := []byte{0xff, 0xff}
	require.Equal(t, full, b.bits)

	// should do nothing
	b.Clear(17)
	require.Equal(t, full, b.bits)
}

func TestView(t *testing.T) {
	row := []byte{0, 0, 42, 42}
	b := View(row, 10)
	require.Equal(t, 2, len(b.Bytes()))
	b.Set(0)
	b.Set(9)
	require.Equal(t, []byte{0x01, 0x02, 42, 42}, row)
	require.True(t, b.PaddingClear())

	// bit 12 is past the logical length but inside the second byte
	row[1] |= 1 << 4
	require.False(t, b.PaddingClear())
	require.False(t, b.IsSet(12))
}

func TestByteLen(t *testing.T) {
	for _, testcase := range []struct {
		input    int64
		expected int
	}{
		{0, 0},
		{1, 1},
		{8, 1},
		{9, 2},
		{17, 3},
	} {
		require.Equal(t, testcase.expected, ByteLen(testcase.input))
	}
}
