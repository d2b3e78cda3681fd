// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package table

import (
	"github.com/bpowers/tabledb/internal/valuestore"
)

// slotRef locates a handle slot in the row container.
type slotRef struct {
	pos    uint64
	length uint32
}

// backrefs maps value-store block offsets to the row slots referring to
// them.
func (t *Table) backrefs() (map[uint64][]slotRef, error) {
	refs := make(map[uint64][]slotRef)
	buf := make([]byte, t.layout.rowSize)
	for row := uint64(0); row < t.count; row++ {
		if err := t.readRow(row, buf); err != nil {
			return nil, err
		}
		if !t.layout.inUse(buf) {
			continue
		}
		for f := range t.layout.fields {
			h := t.layout.handle(buf, f)
			if h.IsNull() {
				continue
			}
			refs[h.Offset] = append(refs[h.Offset], slotRef{
				pos:    t.rowPos(row) + uint64(t.layout.offsets[f]),
				length: h.Length,
			})
		}
	}
	return refs, nil
}

// CompactValues squeezes free space out of the value store, rewriting the
// handles in the rows that refer to moved values.  The store must not be
// shared with a spawned table.  If progress returns an error compaction
// stops early; the table stays consistent and a later call continues.
func (t *Table) CompactValues(progress valuestore.ProgressFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return err
	}
	return t.compactLocked(progress)
}

func (t *Table) compactLocked(progress valuestore.ProgressFunc) error {
	refs, err := t.backrefs()
	if err != nil {
		return err
	}
	var slot [valuestore.HandleSize]byte
	return t.store.Compact(func(from, to uint64) error {
		for _, ref := range refs[from] {
			valuestore.Handle{Offset: to, Length: ref.length}.MarshalTo(slot[:])
			if err := t.rows.Write(ref.pos, slot[:]); err != nil {
				return err
			}
		}
		refs[to] = refs[from]
		delete(refs, from)
		return nil
	}, progress)
}
