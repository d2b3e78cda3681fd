// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package table

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"

	"github.com/bpowers/tabledb/dberr"
	"github.com/bpowers/tabledb/field"
	"github.com/bpowers/tabledb/internal/container"
	"github.com/bpowers/tabledb/internal/valuestore"
	"github.com/bpowers/tabledb/internal/zero"
)

// Severity grades a repair action.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// RepairFunc is told about every change Repair makes.
type RepairFunc func(msg string, sev Severity)

// checker walks the rows of a table that is not open, verifying every field
// and, when fix is set, replacing what is wrong.
type checker struct {
	name   string
	layout *layout
	rows   container.Container
	base   uint64
	count  uint64
	store  *valuestore.Store
	fix    bool
	report RepairFunc

	problems int
	refs     map[uint64]uint32
}

func (c *checker) problem(sev Severity, format string, args ...interface{}) {
	c.problems++
	if c.report != nil {
		c.report(fmt.Sprintf(format, args...), sev)
	}
}

// checkValue reports why field f of an in-use row is unusable, if it is.
func (c *checker) checkValue(buf []byte, f int) error {
	d := c.layout.fields[f]
	slot := c.layout.slot(buf, f)
	if !d.IsVariable() {
		_, err := field.DecodeScalar(d.Type, slot)
		return err
	}
	h := valuestore.HandleFromBytes(slot)
	if h.IsNull() {
		return dberr.New(dberr.ValueStoreCorrupted, "non-NULL field with an empty handle")
	}
	payload, err := c.store.ReadUncached(h)
	if err != nil {
		return err
	}
	_, err = field.DecodePayload(d, payload)
	return err
}

func (c *checker) checkRow(row uint64, buf []byte) (changed bool) {
	l := c.layout
	if !l.inUse(buf) {
		if !zero.IsZero(buf) {
			c.problem(SeverityWarning, "row %d: free row holds data, cleared", row)
			zero.Bytes(buf)
			changed = true
		}
		return changed
	}

	bits := l.bits(buf)
	if !bits.PaddingClear() {
		c.problem(SeverityInfo, "row %d: stray bits in NULL bitmap, cleared", row)
		bits.ClearPadding()
		changed = true
	}

	for f, d := range l.fields {
		slot := l.slot(buf, f)
		if l.isNull(buf, f) {
			if !zero.IsZero(slot) {
				c.problem(SeverityInfo, "row %d field %q: NULL field holds data, cleared", row, d.Name)
				zero.Bytes(slot)
				changed = true
			}
			continue
		}
		if err := c.checkValue(buf, f); err != nil {
			c.problem(SeverityError, "row %d field %q: %v; set to NULL", row, d.Name, err)
			zero.Bytes(slot)
			bits.Set(int64(f))
			changed = true
			continue
		}
		if h := l.handle(buf, f); !h.IsNull() {
			c.refs[h.Offset]++
		}
	}
	return changed
}

func (c *checker) checkRows() error {
	buf := make([]byte, c.layout.rowSize)
	for row := uint64(0); row < c.count; row++ {
		pos := c.base + row*uint64(c.layout.rowSize)
		if err := c.rows.Read(pos, buf); err != nil {
			return err
		}
		if c.checkRow(row, buf) && c.fix {
			if err := c.rows.Write(pos, buf); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkRefCounts compares every block's reference count with the references
// the rows hold.
func (c *checker) checkRefCounts() error {
	type fixup struct {
		off  uint64
		want uint32
	}
	var fixups []fixup
	err := c.store.Blocks(func(b valuestore.Block) error {
		if want := c.refs[b.Offset]; b.RefCount != want {
			c.problem(SeverityWarning, "value block %d: reference count %d, %d references found", b.Offset, b.RefCount, want)
			fixups = append(fixups, fixup{b.Offset, want})
		}
		return nil
	})
	if err != nil || !c.fix {
		return err
	}
	// live blocks first: freeing can merge and truncate blocks further on
	sort.SliceStable(fixups, func(i, j int) bool {
		return fixups[i].want != 0 && fixups[j].want == 0
	})
	for _, fx := range fixups {
		if err := c.store.SetRefCount(fx.off, fx.want); err != nil {
			return err
		}
	}
	return nil
}

// Validate reports whether the table can be opened and every row and value
// is intact.  Nothing is modified.
func Validate(dir, name string, opts ...Option) (bool, error) {
	if err := validateTableName(name); err != nil {
		return false, err
	}
	cfg := newConfig(opts)
	path := RowsPath(dir, name)
	hdr, err := readFileHeader(path)
	if err != nil {
		if oserror.IsNotExist(err) {
			return false, dberr.New(dberr.TableNotFound, "%q in %s", name, dir)
		}
		cfg.logger.Info("table header invalid", slog.String("table", name), slog.Any("err", err))
		return false, nil
	}

	rows, err := container.OpenSegmented(path, hdr.maxSegmentSize, false)
	if err != nil {
		cfg.logger.Info("table rows invalid", slog.String("table", name), slog.Any("err", err))
		return false, nil
	}
	defer rows.Close()
	l := newLayout(hdr.fields)
	count, err := rowsCount(rows.Size(), hdr, l)
	if err != nil {
		cfg.logger.Info("table rows invalid", slog.String("table", name), slog.Any("err", err))
		return false, nil
	}

	vseg, err := container.OpenSegmented(ValuesPath(dir, name), hdr.maxSegmentSize, false)
	if err != nil {
		cfg.logger.Info("value store invalid", slog.String("table", name), slog.Any("err", err))
		return false, nil
	}
	store, err := valuestore.Open(vseg, valuestore.WithLogger(cfg.logger), valuestore.WithCacheSize(0))
	if err != nil {
		cfg.logger.Info("value store invalid", slog.String("table", name), slog.Any("err", err))
		_ = vseg.Close()
		return false, nil
	}
	defer store.Close()

	c := &checker{
		name:   name,
		layout: l,
		rows:   rows,
		base:   uint64(hdr.headerSize),
		count:  count,
		store:  store,
		refs:   make(map[uint64]uint32),
	}
	if err := c.checkRows(); err != nil {
		return false, err
	}
	if err := c.checkRefCounts(); err != nil {
		return false, err
	}
	return c.problems == 0, nil
}

// Repair fixes what Validate would complain about.  Unusable values become
// NULL, reference counts are recomputed, a partial trailing row is dropped
// and every index is rebuilt.  report is called once per correction.  A
// header that cannot be interpreted fails with dberr.TableRecoveryFailed.
func Repair(dir, name string, report RepairFunc, opts ...Option) error {
	if err := validateTableName(name); err != nil {
		return err
	}
	cfg := newConfig(opts)
	logger := cfg.logger.With(slog.String("table", name))
	if report == nil {
		report = func(string, Severity) {}
	}
	notify := func(msg string, sev Severity) {
		cfg.metrics.RepairActions.WithLabelValues(sev.String()).Inc()
		logger.Info("repair", slog.String("severity", sev.String()), slog.String("action", msg))
		report(msg, sev)
	}

	path := RowsPath(dir, name)
	hdr, err := readFileHeader(path)
	if err != nil {
		if oserror.IsNotExist(err) {
			return dberr.New(dberr.TableNotFound, "%q in %s", name, dir)
		}
		return err
	}

	rows, err := container.OpenSegmented(path, hdr.maxSegmentSize, false)
	if err != nil {
		return dberr.Wrap(err, dberr.TableRecoveryFailed, "open rows of %q", name)
	}
	l := newLayout(hdr.fields)

	size := rows.Size()
	if size < uint64(hdr.headerSize) {
		_ = rows.Close()
		return dberr.New(dberr.TableRecoveryFailed, "%q: file of %d bytes is shorter than its header", name, size)
	}
	body := size - uint64(hdr.headerSize)
	if extra := body % uint64(l.rowSize); extra != 0 {
		notify(fmt.Sprintf("dropped %d bytes of a partial row at the end of the table", extra), SeverityWarning)
		if err := rows.Collapse(size-extra, size); err != nil {
			return errors.CombineErrors(err, rows.Close())
		}
		body -= extra
	}
	count := body / uint64(l.rowSize)
	if !hdr.dirty() && count != hdr.rowsCount {
		notify(fmt.Sprintf("row count %d in header corrected to %d", hdr.rowsCount, count), SeverityWarning)
	}

	store, err := openStoreForRepair(dir, name, hdr, cfg, notify)
	if err != nil {
		return errors.CombineErrors(err, rows.Close())
	}

	c := &checker{
		name:   name,
		layout: l,
		rows:   rows,
		base:   uint64(hdr.headerSize),
		count:  count,
		store:  store,
		fix:    true,
		report: notify,
		refs:   make(map[uint64]uint32),
	}
	err = c.checkRows()
	if err == nil {
		err = c.checkRefCounts()
	}
	if err == nil {
		// reopening a dirty table rebuilds its indexes from the rows
		hdr.rowsCount = count
		hdr.setDirty(true)
		err = rows.Write(0, hdr.MarshalBinary())
	}
	err = errors.CombineErrors(err, store.Close())
	err = errors.CombineErrors(err, rows.Close())
	if err != nil {
		return err
	}

	t, err := Open(dir, name, opts...)
	if err != nil {
		return dberr.Wrap(err, dberr.TableRecoveryFailed, "reopen %q after repair", name)
	}
	logger.Info("repair finished", slog.Int("actions", c.problems))
	return t.Close()
}

func openStoreForRepair(dir, name string, hdr *fileHeader, cfg *config, notify RepairFunc) (*valuestore.Store, error) {
	path := ValuesPath(dir, name)
	opts := []valuestore.Option{
		valuestore.WithLogger(cfg.logger),
		valuestore.WithMetrics(cfg.metrics),
		valuestore.WithCacheSize(0),
	}
	if !container.Exists(path) {
		notify("value store missing, recreated empty", SeverityError)
		seg, err := container.OpenSegmented(path, hdr.maxSegmentSize, true)
		if err != nil {
			return nil, err
		}
		return valuestore.Create(seg, opts...)
	}

	seg, err := container.OpenSegmented(path, hdr.maxSegmentSize, false)
	if err != nil {
		notify(fmt.Sprintf("value store unreadable (%v), recreated empty", err), SeverityError)
		if seg, err = container.OpenSegmented(path, hdr.maxSegmentSize, true); err != nil {
			return nil, err
		}
		return valuestore.Create(seg, opts...)
	}
	store, err := valuestore.Open(seg, append(opts, valuestore.WithCorruptionHandler(func(off uint64, err error) {
		notify(fmt.Sprintf("value store truncated at damaged block %d: %v", off, err), SeverityError)
	}))...)
	if err == nil {
		return store, nil
	}
	notify(fmt.Sprintf("value store header damaged (%v), recreated empty", err), SeverityError)
	return valuestore.Create(seg, opts...)
}
