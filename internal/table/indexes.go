// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package table

import (
	"log/slog"
	"slices"
	"time"

	"github.com/bpowers/tabledb/dberr"
	"github.com/bpowers/tabledb/field"
	"github.com/bpowers/tabledb/internal/index"
)

// IsIndexed reports whether field f has an index.
func (t *Table) IsIndexed(f int) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkField(f); err != nil {
		return false, err
	}
	return t.indexes[f] != nil, nil
}

// buildIndex indexes field f over every live row.
func (t *Table) buildIndex(f int, progress index.ProgressFunc) (*index.FieldIndex, error) {
	buf := make([]byte, t.layout.rowSize)
	return index.Build(t.layout.fields[f], t.count, func(row uint64) (field.Value, bool, error) {
		if err := t.readRow(row, buf); err != nil {
			return field.Value{}, false, err
		}
		if !t.layout.inUse(buf) {
			return field.Value{}, false, nil
		}
		v, err := t.decode(buf, f)
		return v, true, err
	}, progress)
}

// CreateIndex builds an index over field f.  progress is called once per
// row; if it returns an error the build is abandoned and the table is left
// without an index on f.
func (t *Table) CreateIndex(f int, progress index.ProgressFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return err
	}
	if err := t.checkField(f); err != nil {
		return err
	}
	d := t.layout.fields[f]
	if t.indexes[f] != nil {
		return dberr.New(dberr.FieldAlreadyIndexed, "field %q of %q", d.Name, t.name)
	}
	if !d.Indexable() {
		return dberr.New(dberr.InvalidParameters, "array field %q cannot be indexed", d.Name)
	}

	start := time.Now()
	x, err := t.buildIndex(f, progress)
	if err != nil {
		return err
	}
	t.indexes[f] = x
	t.logger.Info("index created",
		slog.String("field", d.Name),
		slog.Int("entries", x.Len()),
		slog.Duration("elapsed", time.Since(start)))
	return t.backing.makeHeaderPersistent(t)
}

// RemoveIndex drops the index on field f.
func (t *Table) RemoveIndex(f int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return err
	}
	if err := t.checkField(f); err != nil {
		return err
	}
	if t.indexes[f] == nil {
		return dberr.New(dberr.FieldNotIndexed, "field %q of %q", t.layout.fields[f].Name, t.name)
	}
	t.indexes[f] = nil
	if err := t.backing.indexRemoved(t, f); err != nil {
		return err
	}
	return t.backing.makeHeaderPersistent(t)
}

// MatchRows returns the live rows in [fromRow, toRow] whose value of field f
// lies in [lo, hi], ordered by value and then by row.  At most maxCount rows
// are returned; zero means no limit.  The answer is the same whether or not
// f is indexed.
func (t *Table) MatchRows(lo, hi field.Value, fromRow, toRow uint64, maxCount int, f int) ([]uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	if err := t.checkField(f); err != nil {
		return nil, err
	}
	d := t.layout.fields[f]
	if !lo.Matches(d) || !hi.Matches(d) {
		return nil, dberr.New(dberr.TypeMismatch, "range [%s, %s] for field %s", lo.Type(), hi.Type(), d)
	}
	if maxCount < 0 {
		return nil, dberr.New(dberr.InvalidParameters, "negative row limit %d", maxCount)
	}
	if t.count == 0 || fromRow > toRow || fromRow >= t.count {
		return nil, nil
	}
	toRow = min(toRow, t.count-1)

	if x := t.indexes[f]; x != nil {
		return x.Match(lo, hi, fromRow, toRow, maxCount), nil
	}
	return t.scanMatch(lo, hi, fromRow, toRow, maxCount, f)
}

func (t *Table) scanMatch(lo, hi field.Value, fromRow, toRow uint64, maxCount int, f int) ([]uint64, error) {
	type match struct {
		row uint64
		v   field.Value
	}
	var matches []match
	buf := make([]byte, t.layout.rowSize)
	for row := fromRow; row <= toRow; row++ {
		if err := t.readRow(row, buf); err != nil {
			return nil, err
		}
		if !t.layout.inUse(buf) {
			continue
		}
		v, err := t.decode(buf, f)
		if err != nil {
			return nil, err
		}
		if field.Between(v, lo, hi) {
			matches = append(matches, match{row, v})
		}
	}
	// rows were collected in ascending order, so a stable sort by value
	// orders ties by row
	slices.SortStableFunc(matches, func(a, b match) int {
		return field.Compare(a.v, b.v)
	})
	if maxCount > 0 && len(matches) > maxCount {
		matches = matches[:maxCount]
	}
	if len(matches) == 0 {
		return nil, nil
	}
	rows := make([]uint64, len(matches))
	for i, m := range matches {
		rows[i] = m.row
	}
	return rows, nil
}
