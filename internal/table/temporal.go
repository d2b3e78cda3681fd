// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package table

import (
	"github.com/cockroachdb/errors"

	"github.com/bpowers/tabledb/field"
	"github.com/bpowers/tabledb/internal/valuestore"
)

const temporalName = "temporal"

// temporal tables keep rows and values in memory-resident containers that
// spill to temporary files and are deleted on close.
type temporal struct{}

func (temporal) flushEpilog(*Table) error          { return nil }
func (temporal) makeHeaderPersistent(*Table) error { return nil }
func (temporal) indexRemoved(*Table, int) error    { return nil }
func (temporal) persistent() bool                  { return false }

func (temporal) close(t *Table) error {
	var err error
	if t.store.Users() > 1 {
		// the store outlives this table: give back what the rows hold
		buf := make([]byte, t.layout.rowSize)
		for row := uint64(0); row < t.count; row++ {
			if rerr := t.readRow(row, buf); rerr != nil {
				err = errors.CombineErrors(err, rerr)
				continue
			}
			for _, h := range t.layout.handles(buf) {
				err = errors.CombineErrors(err, t.store.Release(h))
			}
		}
	}
	err = errors.CombineErrors(err, t.store.Close())
	return errors.CombineErrors(err, t.rows.Close())
}

// NewTemporal creates an empty table that lives until it is closed.
func NewTemporal(fields []field.Descriptor, opts ...Option) (*Table, error) {
	if err := field.Validate(fields); err != nil {
		return nil, err
	}
	cfg := newConfig(opts)
	vc := cfg.newMemory(cfg.storeBlockSize, cfg.storeBlockCount, "temporal values")
	store, err := valuestore.Create(vc, cfg.storeOptions()...)
	if err != nil {
		return nil, errors.CombineErrors(err, vc.Close())
	}
	return newTemporal(fields, store, cfg), nil
}

func newTemporal(fields []field.Descriptor, store *valuestore.Store, cfg *config) *Table {
	rows := cfg.newMemory(cfg.tableBlockSize, cfg.tableBlockCount, "temporal rows")
	return newTable(temporalName, newLayout(fields), rows, 0, store, temporal{}, cfg)
}

// Spawn returns a temporal table with the same fields.  With copyRows set it
// starts with a copy of every live row, packed from row 0 in row order.
// Text and array values are shared with this table until either side
// overwrites them.  Indexes are not copied.
//
// Spawned tables share the value store, so a persistent table refuses to
// close until its spawned tables are closed.
func (t *Table) Spawn(copyRows bool) (*Table, error) {
	s, err := t.spawn(copyRows)
	if err != nil {
		return nil, err
	}
	if t.cfg.onSpawn != nil {
		if err := t.cfg.onSpawn(s); err != nil {
			return nil, errors.CombineErrors(err, s.Close())
		}
	}
	return s, nil
}

func (t *Table) spawn(copyRows bool) (*Table, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return nil, err
	}

	s := newTemporal(t.layout.fields, t.store.Share(), t.cfg)
	if !copyRows {
		return s, nil
	}

	buf := make([]byte, t.layout.rowSize)
	for row := uint64(0); row < t.count; row++ {
		err := t.readRow(row, buf)
		if err == nil && !t.layout.inUse(buf) {
			continue
		}
		for _, h := range t.layout.handles(buf) {
			if err != nil {
				break
			}
			err = t.store.Retain(h)
		}
		if err == nil {
			err = s.writeRow(s.count, buf)
		}
		if err != nil {
			// the rows copied so far are released by Close
			return nil, errors.CombineErrors(err, s.Close())
		}
		s.count++
	}
	return s, nil
}
