// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package table implements tables of fixed-size rows.  Every row holds a
// NULL bitmap and one slot per field; text and array values live in a
// value store and the row keeps a handle to them.  Tables keep a free-list
// of released rows, optional per-field indexes, and come in two variants:
// persistent tables stored in a directory, and temporal tables kept in
// memory (spilling to temporary files) for the lifetime of their handle.
package table

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/cockroachdb/errors"

	"github.com/bpowers/tabledb/dberr"
	"github.com/bpowers/tabledb/field"
	"github.com/bpowers/tabledb/internal/container"
	"github.com/bpowers/tabledb/internal/index"
	"github.com/bpowers/tabledb/internal/valuestore"
	"github.com/bpowers/tabledb/internal/zero"
)

// backing is what differs between persistent and temporal tables.
type backing interface {
	// flushEpilog runs at the end of Flush, once rows and values are written.
	flushEpilog(t *Table) error
	// makeHeaderPersistent records the table's metadata, such as which fields
	// are indexed, after it changes.
	makeHeaderPersistent(t *Table) error
	// indexRemoved drops whatever the variant keeps for an index.
	indexRemoved(t *Table, f int) error
	close(t *Table) error
	persistent() bool
}

// Table is safe for concurrent use: every operation is atomic with respect
// to the table's rows and indexes.  Sequences of operations are not; callers
// that need that use Lock and Unlock.
type Table struct {
	mu sync.Mutex

	name    string
	cfg     *config
	logger  *slog.Logger
	layout  *layout
	rows    container.Container
	base    uint64
	store   *valuestore.Store
	indexes []*index.FieldIndex
	free    *roaring64.Bitmap
	count   uint64
	backing backing
	locked  atomic.Bool
	closed  bool
}

func newTable(name string, l *layout, rows container.Container, base uint64, store *valuestore.Store, b backing, cfg *config) *Table {
	t := &Table{
		name:    name,
		cfg:     cfg,
		logger:  cfg.logger.With(slog.String("table", name)),
		layout:  l,
		rows:    rows,
		base:    base,
		store:   store,
		indexes: make([]*index.FieldIndex, len(l.fields)),
		free:    roaring64.New(),
		backing: b,
	}
	cfg.metrics.OpenTables.Inc()
	return t
}

// scanRows rebuilds the free-list from the in-use bits.
func (t *Table) scanRows() error {
	t.free.Clear()
	buf := make([]byte, t.layout.rowSize)
	for row := uint64(0); row < t.count; row++ {
		if err := t.readRow(row, buf); err != nil {
			return err
		}
		if !t.layout.inUse(buf) {
			t.free.Add(row)
		}
	}
	return nil
}

func (t *Table) Name() string {
	return t.name
}

// Persistent reports whether the table lives in a database directory.
func (t *Table) Persistent() bool {
	return t.backing.persistent()
}

func (t *Table) rowPos(row uint64) uint64 {
	return t.base + row*uint64(t.layout.rowSize)
}

func (t *Table) readRow(row uint64, buf []byte) error {
	return t.rows.Read(t.rowPos(row), buf[:t.layout.rowSize])
}

func (t *Table) writeRow(row uint64, buf []byte) error {
	return t.rows.Write(t.rowPos(row), buf[:t.layout.rowSize])
}

func (t *Table) checkOpen() error {
	if t.closed {
		return dberr.New(dberr.GeneralControl, "table %q is closed", t.name)
	}
	return nil
}

func (t *Table) checkField(f int) error {
	if f < 0 || f >= len(t.layout.fields) {
		return dberr.New(dberr.FieldNotFound, "field %d of %d in table %q", f, len(t.layout.fields), t.name)
	}
	return nil
}

func (t *Table) checkRow(row uint64) error {
	if row >= t.count {
		return dberr.New(dberr.RowNotAllocated, "row %d of %d", row, t.count)
	}
	return nil
}

func (t *Table) FieldsCount() int {
	return len(t.layout.fields)
}

// RetrieveField returns the index of the field called name.
func (t *Table) RetrieveField(name string) (int, error) {
	for i, d := range t.layout.fields {
		if d.Name == name {
			return i, nil
		}
	}
	return -1, dberr.New(dberr.FieldNotFound, "no field %q in table %q", name, t.name)
}

// DescribeField returns the descriptor of field f.
func (t *Table) DescribeField(f int) (field.Descriptor, error) {
	if err := t.checkField(f); err != nil {
		return field.Descriptor{}, err
	}
	return t.layout.fields[f], nil
}

// Fields returns the table schema.
func (t *Table) Fields() []field.Descriptor {
	return append([]field.Descriptor(nil), t.layout.fields...)
}

// AllocatedRows is the number of row slots, live or reusable.
func (t *Table) AllocatedRows() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// ReusableRowsCount is the number of slots on the free-list.
func (t *Table) ReusableRowsCount() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.free.GetCardinality()
}

// IsRowLive reports whether row is allocated and not on the free-list.
func (t *Table) IsRowLive(row uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return row < t.count && !t.free.Contains(row)
}

// addIndexNulls gives a newly live row a NULL entry in every index.
func (t *Table) addIndexNulls(row uint64, except int) error {
	for f, x := range t.indexes {
		if x == nil || f == except {
			continue
		}
		if err := x.Insert(field.NullFor(t.layout.fields[f]), row); err != nil {
			return err
		}
	}
	return nil
}

// AddRow appends a new live row with every field NULL.
func (t *Table) AddRow() (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return 0, err
	}
	return t.addRowLocked()
}

func (t *Table) addRowLocked() (uint64, error) {
	row := t.count
	buf := make([]byte, t.layout.rowSize)
	t.layout.emptyRow(buf)
	if err := t.writeRow(row, buf); err != nil {
		return 0, dberr.Wrap(err, dberr.RowAllocation, "add row %d to %q", row, t.name)
	}
	t.count++
	if err := t.addIndexNulls(row, -1); err != nil {
		return 0, err
	}
	t.cfg.metrics.RowsAdded.Inc()
	return row, nil
}

// GetReusableRow returns the lowest row on the free-list.  With commit set
// the row is taken off the free-list and made live, or a new row is added if
// the free-list is empty.  Without commit nothing changes and, with an empty
// free-list, the index the next AddRow would return is reported.
func (t *Table) GetReusableRow(commit bool) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return 0, err
	}

	if t.free.IsEmpty() {
		if !commit {
			return t.count, nil
		}
		return t.addRowLocked()
	}

	row := t.free.Minimum()
	if !commit {
		return row, nil
	}
	buf := make([]byte, t.layout.rowSize)
	t.layout.emptyRow(buf)
	if err := t.writeRow(row, buf); err != nil {
		return 0, dberr.Wrap(err, dberr.RowAllocation, "reuse row %d of %q", row, t.name)
	}
	t.free.Remove(row)
	if err := t.addIndexNulls(row, -1); err != nil {
		return 0, err
	}
	t.cfg.metrics.RowsReused.Inc()
	return row, nil
}

// MarkRowForReuse releases a live row: its index entries are removed, its
// values released, and the slot put on the free-list.
func (t *Table) MarkRowForReuse(row uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return err
	}
	if err := t.checkRow(row); err != nil {
		return err
	}
	if t.free.Contains(row) {
		return dberr.New(dberr.RowNotAllocated, "row %d of %q is already free", row, t.name)
	}

	buf := make([]byte, t.layout.rowSize)
	if err := t.readRow(row, buf); err != nil {
		return err
	}
	for f, x := range t.indexes {
		if x == nil {
			continue
		}
		v, err := t.decode(buf, f)
		if err != nil {
			return err
		}
		x.Remove(v, row)
	}

	handles := t.layout.handles(buf)
	zero.Bytes(buf)
	if err := t.writeRow(row, buf); err != nil {
		return err
	}
	t.free.Add(row)
	t.cfg.metrics.RowsReleased.Inc()

	var err error
	for _, h := range handles {
		err = errors.CombineErrors(err, t.store.Release(h))
	}
	return err
}

// decode returns the value of field f in the row bytes buf.
func (t *Table) decode(buf []byte, f int) (field.Value, error) {
	d := t.layout.fields[f]
	if !t.layout.inUse(buf) || t.layout.isNull(buf, f) {
		return field.NullFor(d), nil
	}
	slot := t.layout.slot(buf, f)
	if !d.IsVariable() {
		return field.DecodeScalar(d.Type, slot)
	}
	payload, err := t.store.Read(valuestore.HandleFromBytes(slot))
	if err != nil {
		return field.Value{}, err
	}
	return field.DecodePayload(d, payload)
}

// Get returns the value of field f in row.  Rows on the free-list read as
// NULL.
func (t *Table) Get(row uint64, f int) (field.Value, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return field.Value{}, err
	}
	if err := t.checkField(f); err != nil {
		return field.Value{}, err
	}
	if err := t.checkRow(row); err != nil {
		return field.Value{}, err
	}
	return t.getLocked(row, f)
}

func (t *Table) getLocked(row uint64, f int) (field.Value, error) {
	buf := make([]byte, t.layout.rowSize)
	if err := t.readRow(row, buf); err != nil {
		return field.Value{}, err
	}
	return t.decode(buf, f)
}

// Set stores v in field f of row.  A row on the free-list becomes live
// again.  The row and the field's index change together: if the row cannot
// be written the index is left alone and any new value released.
func (t *Table) Set(row uint64, f int, v field.Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return err
	}
	if err := t.checkField(f); err != nil {
		return err
	}
	if err := t.checkRow(row); err != nil {
		return err
	}
	d := t.layout.fields[f]
	if !v.Matches(d) {
		return dberr.New(dberr.TypeMismatch, "cannot store %s value in field %s", v.Type(), d)
	}

	buf := make([]byte, t.layout.rowSize)
	if err := t.readRow(row, buf); err != nil {
		return err
	}
	revived := !t.layout.inUse(buf)
	if revived {
		t.layout.emptyRow(buf)
	}

	var old field.Value
	if t.indexes[f] != nil && !revived {
		var err error
		if old, err = t.decode(buf, f); err != nil {
			return err
		}
	}
	oldHandle := t.layout.handle(buf, f)

	var newHandle valuestore.Handle
	if d.IsVariable() && !v.IsNull() {
		var err error
		if newHandle, err = t.store.Add(field.PayloadBytes(v)); err != nil {
			return err
		}
	}

	bits := t.layout.bits(buf)
	slot := t.layout.slot(buf, f)
	clear(slot)
	switch {
	case v.IsNull():
		bits.Set(int64(f))
	case d.IsVariable():
		bits.Clear(int64(f))
		newHandle.MarshalTo(slot)
	default:
		bits.Clear(int64(f))
		field.EncodeScalar(v, slot)
	}

	if err := t.writeRow(row, buf); err != nil {
		return errors.CombineErrors(err, t.store.Release(newHandle))
	}

	if revived {
		t.free.Remove(row)
		if err := t.addIndexNulls(row, f); err != nil {
			return err
		}
		if x := t.indexes[f]; x != nil {
			if err := x.Insert(v, row); err != nil {
				return err
			}
		}
	} else if x := t.indexes[f]; x != nil {
		if err := x.Update(old, v, row); err != nil {
			return err
		}
	}

	return t.store.Release(oldHandle)
}

// Lock takes the table's advisory lock.
func (t *Table) Lock() error {
	if !t.locked.CompareAndSwap(false, true) {
		return dberr.New(dberr.TableAlreadyLocked, "table %q", t.name)
	}
	return nil
}

// Unlock releases the table's advisory lock.
func (t *Table) Unlock() error {
	if !t.locked.CompareAndSwap(true, false) {
		return dberr.New(dberr.TableNotLocked, "table %q", t.name)
	}
	return nil
}

func (t *Table) IsLocked() bool {
	return t.locked.Load()
}

// Flush writes buffered rows and values out.  If the value store has become
// fragmented enough and is not shared it is compacted first.
func (t *Table) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return err
	}
	return t.flushLocked()
}

func (t *Table) flushLocked() error {
	if t.store.NeedsCompaction() && t.store.Users() == 1 {
		if err := t.compactLocked(nil); err != nil {
			return err
		}
	}
	if err := t.rows.Flush(); err != nil {
		return err
	}
	if err := t.store.Flush(); err != nil {
		return err
	}
	return t.backing.flushEpilog(t)
}

// Close releases the table's resources.  Temporal tables are destroyed.  A
// persistent table cannot be closed while tables spawned from it are open,
// since they hold values in its store.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	if t.backing.persistent() {
		if n := t.store.Users(); n > 1 {
			return dberr.New(dberr.TableInUse, "%q shares its values with %d spawned tables", t.name, n-1)
		}
	}
	err := t.backing.close(t)
	t.closed = true
	t.cfg.metrics.OpenTables.Dec()
	return err
}
