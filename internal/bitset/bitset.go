// Copyright 2021 The tabledb Authors and Caleb Spare. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package bitset implements a bitmap over a byte slice.  Rows store their
// null and in-use flags in such a bitmap at the head of every record, so the
// bit order within a byte is fixed: bit n lives in byte n/8 at position n%8.
package bitset

// Bitset is conceptually similar to []bool, but more memory efficient.
type Bitset struct {
	bits   []byte
	length int64
}

// ByteLen returns the number of bytes needed to hold length bits.
func ByteLen(length int64) int {
	return int((length + 7) / 8)
}

func getOffsets(off int64) (sliceOff int64, bitOff uint8) {
	sliceOff = off / 8
	bitOff = uint8(off % 8)
	return
}

// Set sets the bit at position `off` to 1.
func (b *Bitset) Set(off int64) {
	if off < 0 || off >= b.length {
		return
	}
	sliceOff, bitOff := getOffsets(off)
	b.bits[sliceOff] |= 1 << bitOff
}

// Clear sets the bit at position `off` to 0.
func (b *Bitset) Clear(off int64) {
	if off < 0 || off >= b.length {
		return
	}
	sliceOff, bitOff := getOffsets(off)
	b.bits[sliceOff] &^= 1 << bitOff
}

// IsSet returns true if the bit at position `off` is 1.
func (b *Bitset) IsSet(off int64) bool {
	if off < 0 || off >= b.length {
		return false
	}
	sliceOff, bitOff := getOffsets(off)
	return b.bits[sliceOff]&(1<<bitOff) != 0
}

// SetAll sets every bit in [0, Len()).
func (b *Bitset) SetAll() {
	for i := int64(0); i < b.length; i++ {
		b.Set(i)
	}
}

// Len returns the number of addressable bits.
func (b *Bitset) Len() int64 {
	return b.length
}

// PaddingClear reports whether the unused bits of the last byte are all 0.
func (b *Bitset) PaddingClear() bool {
	total := int64(len(b.bits)) * 8
	for i := b.length; i < total; i++ {
		sliceOff, bitOff := getOffsets(i)
		if b.bits[sliceOff]&(1<<bitOff) != 0 {
			return false
		}
	}
	return true
}

// ClearPadding zeroes the unused bits of the last byte.
func (b *Bitset) ClearPadding() {
	total := int64(len(b.bits)) * 8
	for i := b.length; i < total; i++ {
		sliceOff, bitOff := getOffsets(i)
		b.bits[sliceOff] &^= 1 << bitOff
	}
}

// Bytes returns the backing storage.
func (b *Bitset) Bytes() []byte {
	return b.bits
}

// New returns a new in-memory bitset where you can set, clear and test for individual bits.
func New(length int64) *Bitset {
	return &Bitset{
		bits:   make([]byte, ByteLen(length)),
		length: length,
	}
}

// View returns a bitset that reads and writes buf directly.  buf must be at
// least ByteLen(length) bytes long.
func View(buf []byte, length int64) *Bitset {
	return &Bitset{
		bits:   buf[:ByteLen(length)],
		length: length,
	}
}
