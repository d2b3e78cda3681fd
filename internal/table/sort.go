// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package table

import (
	"slices"

	"github.com/bpowers/tabledb/dberr"
	"github.com/bpowers/tabledb/field"
)

type sortItem struct {
	row  uint64
	live bool
	key  field.Value
	buf  []byte
}

// Sort reorders rows [from, to] by field f, ascending with NULL first, or
// descending with NULL last when reverse is set.  Rows with equal keys keep
// their relative order.  Free rows in the range move to its end.  Row
// numbers name slots, so every index is updated for the rows that moved.
func (t *Table) Sort(f int, from, to uint64, reverse bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return err
	}
	if err := t.checkField(f); err != nil {
		return err
	}
	if from > to {
		return dberr.New(dberr.InvalidParameters, "sort range [%d, %d]", from, to)
	}
	if err := t.checkRow(to); err != nil {
		return err
	}

	items := make([]sortItem, 0, to-from+1)
	for row := from; row <= to; row++ {
		it := sortItem{row: row, buf: make([]byte, t.layout.rowSize)}
		if err := t.readRow(row, it.buf); err != nil {
			return err
		}
		it.live = t.layout.inUse(it.buf)
		if it.live {
			key, err := t.decode(it.buf, f)
			if err != nil {
				return err
			}
			it.key = key
		}
		items = append(items, it)
	}

	slices.SortStableFunc(items, func(a, b sortItem) int {
		switch {
		case a.live != b.live:
			if a.live {
				return -1
			}
			return 1
		case !a.live:
			return 0
		case reverse:
			return field.Compare(b.key, a.key)
		default:
			return field.Compare(a.key, b.key)
		}
	})

	// pull the moved rows out of every index before putting them back at
	// their new slots, so no entry is clobbered half way
	type movedEntry struct {
		f   int
		v   field.Value
		row uint64
	}
	var moved []movedEntry
	for i, it := range items {
		dst := from + uint64(i)
		if it.row == dst || !it.live {
			continue
		}
		for g, x := range t.indexes {
			if x == nil {
				continue
			}
			v, err := t.decode(it.buf, g)
			if err != nil {
				return err
			}
			x.Remove(v, it.row)
			moved = append(moved, movedEntry{g, v, dst})
		}
	}

	for i, it := range items {
		dst := from + uint64(i)
		if it.row == dst {
			continue
		}
		if err := t.writeRow(dst, it.buf); err != nil {
			return err
		}
		if it.live {
			t.free.Remove(dst)
		} else {
			t.free.Add(dst)
		}
	}

	for _, m := range moved {
		if err := t.indexes[m.f].Insert(m.v, m.row); err != nil {
			return err
		}
	}
	return nil
}
