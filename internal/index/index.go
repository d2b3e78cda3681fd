// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package index maintains ordered (value, row) indexes over a single table
// field.  Entries are ordered by the field's comparison order, NULL lowest,
// and then by row so duplicate values iterate in row order.
package index

import (
	"github.com/google/btree"

	"github.com/bpowers/tabledb/dberr"
	"github.com/bpowers/tabledb/field"
)

const btreeDegree = 32

type Entry struct {
	Value field.Value
	Row   uint64
}

func lessEntry(a, b Entry) bool {
	if c := field.Compare(a.Value, b.Value); c != 0 {
		return c < 0
	}
	return a.Row < b.Row
}

// FieldIndex is not safe for concurrent use; tables serialize access.
type FieldIndex struct {
	desc field.Descriptor
	tree *btree.BTreeG[Entry]
}

// New returns an empty index for values described by d.
func New(d field.Descriptor) (*FieldIndex, error) {
	if !d.Indexable() {
		return nil, dberr.New(dberr.InvalidParameters, "field %q of type %s cannot be indexed", d.Name, d)
	}
	return &FieldIndex{
		desc: d,
		tree: btree.NewG[Entry](btreeDegree, lessEntry),
	}, nil
}

func (x *FieldIndex) check(v field.Value) error {
	if !v.Matches(x.desc) {
		return dberr.New(dberr.TypeMismatch, "%s value for index on %s", v.Type(), x.desc)
	}
	return nil
}

// Insert adds (v, row).  Inserting an existing pair is a no-op.
func (x *FieldIndex) Insert(v field.Value, row uint64) error {
	if err := x.check(v); err != nil {
		return err
	}
	x.tree.ReplaceOrInsert(Entry{Value: v, Row: row})
	return nil
}

// Remove deletes (v, row), reporting whether it was present.
func (x *FieldIndex) Remove(v field.Value, row uint64) bool {
	_, ok := x.tree.Delete(Entry{Value: v, Row: row})
	return ok
}

// Update moves row from value old to value new.
func (x *FieldIndex) Update(old, new field.Value, row uint64) error {
	if err := x.check(new); err != nil {
		return err
	}
	x.tree.Delete(Entry{Value: old, Row: row})
	x.tree.ReplaceOrInsert(Entry{Value: new, Row: row})
	return nil
}

// Contains reports whether (v, row) is in the index.
func (x *FieldIndex) Contains(v field.Value, row uint64) bool {
	return x.tree.Has(Entry{Value: v, Row: row})
}

func (x *FieldIndex) Len() int {
	return x.tree.Len()
}

// Ascend calls fn for every entry in order until fn returns false.
func (x *FieldIndex) Ascend(fn func(e Entry) bool) {
	x.tree.Ascend(fn)
}

// Match returns the rows in [fromRow, toRow] whose value lies in [lo, hi],
// ordered by value and then row.  At most max rows are returned unless max
// is zero.
func (x *FieldIndex) Match(lo, hi field.Value, fromRow, toRow uint64, max int) []uint64 {
	var rows []uint64
	if field.Compare(lo, hi) > 0 || fromRow > toRow {
		return rows
	}
	x.tree.AscendGreaterOrEqual(Entry{Value: lo, Row: 0}, func(e Entry) bool {
		if field.Compare(e.Value, hi) > 0 {
			return false
		}
		if e.Row < fromRow || e.Row > toRow {
			return true
		}
		rows = append(rows, e.Row)
		return max == 0 || len(rows) < max
	})
	return rows
}
