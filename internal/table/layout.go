// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package table

import (
	"github.com/bpowers/tabledb/field"
	"github.com/bpowers/tabledb/internal/bitset"
	"github.com/bpowers/tabledb/internal/valuestore"
)

// layout describes the bytes of one row: a bitmap with a NULL bit per field
// plus an in-use bit, followed by one slot per field.
type layout struct {
	fields      []field.Descriptor
	offsets     []int
	bitmapBytes int
	rowSize     int
}

func newLayout(fields []field.Descriptor) *layout {
	l := &layout{
		fields:      append([]field.Descriptor(nil), fields...),
		offsets:     make([]int, len(fields)),
		bitmapBytes: bitset.ByteLen(int64(len(fields) + 1)),
	}
	off := l.bitmapBytes
	for i, d := range fields {
		l.offsets[i] = off
		off += d.SlotWidth()
	}
	l.rowSize = off
	return l
}

func (l *layout) bits(row []byte) *bitset.Bitset {
	return bitset.View(row[:l.bitmapBytes], int64(len(l.fields)+1))
}

func (l *layout) inUse(row []byte) bool {
	return l.bits(row).IsSet(int64(len(l.fields)))
}

func (l *layout) isNull(row []byte, f int) bool {
	return l.bits(row).IsSet(int64(f))
}

func (l *layout) slot(row []byte, f int) []byte {
	return row[l.offsets[f] : l.offsets[f]+l.fields[f].SlotWidth()]
}

// emptyRow fills row as a live row with every field NULL.
func (l *layout) emptyRow(row []byte) {
	clear(row)
	l.bits(row).SetAll()
}

func (l *layout) handle(row []byte, f int) valuestore.Handle {
	if !l.fields[f].IsVariable() || l.isNull(row, f) {
		return valuestore.Handle{}
	}
	return valuestore.HandleFromBytes(l.slot(row, f))
}

// handles returns every value-store handle held by row.
func (l *layout) handles(row []byte) []valuestore.Handle {
	var hs []valuestore.Handle
	for f := range l.fields {
		if h := l.handle(row, f); !h.IsNull() {
			hs = append(hs, h)
		}
	}
	return hs
}
