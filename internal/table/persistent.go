// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package table

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"

	"github.com/bpowers/tabledb/dberr"
	"github.com/bpowers/tabledb/field"
	"github.com/bpowers/tabledb/internal/container"
	"github.com/bpowers/tabledb/internal/index"
	"github.com/bpowers/tabledb/internal/valuestore"
)

const (
	rowsSuffix   = ".tbl"
	valuesSuffix = ".val"
	indexSuffix  = ".idx"
)

// RowsPath is the primary file of the table's header and rows.  Table names
// cannot contain '.', so no two tables share a file.
func RowsPath(dir, name string) string {
	return filepath.Join(dir, name+rowsSuffix)
}

// ValuesPath is the primary file of the table's value store.
func ValuesPath(dir, name string) string {
	return filepath.Join(dir, name+valuesSuffix)
}

// IndexPath is the snapshot file of the index on field f.
func IndexPath(dir, name string, f int) string {
	return filepath.Join(dir, name+"."+strconv.Itoa(f)+indexSuffix)
}

// persistent tables live in a database directory and survive Close.
type persistent struct {
	dir    string
	header *fileHeader
}

func (p *persistent) persistent() bool { return true }

func (p *persistent) writeHeader(t *Table) error {
	p.header.rowsCount = t.count
	for f, x := range t.indexes {
		p.header.indexed[f] = x != nil
	}
	if err := t.rows.Write(0, p.header.MarshalBinary()); err != nil {
		return dberr.Wrap(err, dberr.FileIO, "write header of %q", t.name)
	}
	return nil
}

func (p *persistent) flushEpilog(t *Table) error {
	if err := p.writeHeader(t); err != nil {
		return err
	}
	return t.rows.Flush()
}

func (p *persistent) makeHeaderPersistent(t *Table) error {
	return p.writeHeader(t)
}

func (p *persistent) indexRemoved(t *Table, f int) error {
	return removeIndexFiles(p.dir, t.name, f)
}

func removeIndexFiles(dir, name string, f int) error {
	return container.RemoveSegments(IndexPath(dir, name, f))
}

// close writes index snapshots under a new generation and marks the header
// clean, so the next Open can load them instead of rebuilding.
func (p *persistent) close(t *Table) error {
	err := t.flushLocked()
	if err == nil {
		p.header.generation++
		for f, x := range t.indexes {
			if x == nil {
				continue
			}
			if err = p.writeSnapshot(t, f, x); err != nil {
				break
			}
		}
	}
	if err == nil {
		p.header.setDirty(false)
		err = p.flushEpilog(t)
	} else {
		t.logger.Warn("table closed dirty", slog.Any("err", err))
	}
	err = errors.CombineErrors(err, t.store.Close())
	return errors.CombineErrors(err, t.rows.Close())
}

func (p *persistent) writeSnapshot(t *Table, f int, x *index.FieldIndex) error {
	c, err := container.OpenSegmented(IndexPath(p.dir, t.name, f), p.header.maxSegmentSize, true)
	if err != nil {
		return err
	}
	err = x.WriteTo(c, p.header.generation)
	return errors.CombineErrors(err, c.Close())
}

func (p *persistent) loadSnapshot(t *Table, f int) (*index.FieldIndex, error) {
	c, err := container.OpenSegmented(IndexPath(p.dir, t.name, f), p.header.maxSegmentSize, false)
	if err != nil {
		return nil, err
	}
	x, err := index.Load(c, t.layout.fields[f], p.header.generation)
	return x, errors.CombineErrors(err, c.Close())
}

func validateTableName(name string) error {
	if !field.ValidateName(name) {
		return dberr.New(dberr.InvalidTableName, "%q", name)
	}
	return nil
}

// Exists reports whether dir holds a table called name.
func Exists(dir, name string) bool {
	return container.Exists(RowsPath(dir, name))
}

// Create creates a persistent table in dir and opens it.
func Create(dir, name string, fields []field.Descriptor, opts ...Option) (t *Table, err error) {
	if err := validateTableName(name); err != nil {
		return nil, err
	}
	if err := field.Validate(fields); err != nil {
		return nil, err
	}
	if len(fields) > maxFields {
		return nil, dberr.New(dberr.InvalidParameters, "%d fields, at most %d", len(fields), maxFields)
	}
	if Exists(dir, name) {
		return nil, dberr.New(dberr.TableExists, "%q in %s", name, dir)
	}
	cfg := newConfig(opts)

	defer func() {
		if err != nil {
			_ = Remove(dir, name)
		}
	}()

	l := newLayout(fields)
	p := &persistent{dir: dir, header: newFileHeader(l, cfg.maxSegmentSize)}
	p.header.setDirty(true)

	seg, err := container.OpenSegmented(RowsPath(dir, name), cfg.maxSegmentSize, true)
	if err != nil {
		return nil, err
	}
	rows := container.NewCached(seg, cfg.tableBlockSize, cfg.tableBlockCount)
	if err := rows.Write(0, p.header.MarshalBinary()); err != nil {
		return nil, errors.CombineErrors(err, rows.Close())
	}

	vseg, err := container.OpenSegmented(ValuesPath(dir, name), cfg.maxSegmentSize, true)
	if err != nil {
		return nil, errors.CombineErrors(err, rows.Close())
	}
	store, err := valuestore.Create(container.NewCached(vseg, cfg.storeBlockSize, cfg.storeBlockCount), cfg.storeOptions()...)
	if err != nil {
		return nil, errors.CombineErrors(err, errors.CombineErrors(vseg.Close(), rows.Close()))
	}

	t = newTable(name, l, rows, uint64(p.header.headerSize), store, p, cfg)
	t.logger.Info("table created", slog.String("dir", dir), slog.Int("fields", len(fields)))
	return t, nil
}

// Open opens an existing persistent table.  A table that was not closed
// cleanly has its indexes rebuilt from the rows.
func Open(dir, name string, opts ...Option) (*Table, error) {
	if err := validateTableName(name); err != nil {
		return nil, err
	}
	path := RowsPath(dir, name)
	hdr, err := readFileHeader(path)
	if err != nil {
		if oserror.IsNotExist(err) {
			return nil, dberr.New(dberr.TableNotFound, "%q in %s", name, dir)
		}
		return nil, err
	}
	cfg := newConfig(opts)
	l := newLayout(hdr.fields)

	seg, err := container.OpenSegmented(path, hdr.maxSegmentSize, false)
	if err != nil {
		return nil, err
	}
	rows := container.NewCached(seg, cfg.tableBlockSize, cfg.tableBlockCount)
	count, err := rowsCount(rows.Size(), hdr, l)
	if err != nil {
		return nil, errors.CombineErrors(err, rows.Close())
	}

	vseg, err := container.OpenSegmented(ValuesPath(dir, name), hdr.maxSegmentSize, false)
	if err != nil {
		return nil, errors.CombineErrors(err, rows.Close())
	}
	store, err := valuestore.Open(container.NewCached(vseg, cfg.storeBlockSize, cfg.storeBlockCount), cfg.storeOptions()...)
	if err != nil {
		return nil, errors.CombineErrors(err, errors.CombineErrors(vseg.Close(), rows.Close()))
	}

	p := &persistent{dir: dir, header: hdr}
	t := newTable(name, l, rows, uint64(hdr.headerSize), store, p, cfg)
	t.count = count
	if err := t.openIndexes(p); err == nil {
		err = t.scanRows()
	}
	if err != nil {
		t.closed = true
		cfg.metrics.OpenTables.Dec()
		return nil, errors.CombineErrors(err, errors.CombineErrors(store.Close(), rows.Close()))
	}

	hdr.setDirty(true)
	if err := p.writeHeader(t); err != nil {
		return nil, errors.CombineErrors(err, t.Close())
	}
	if err := rows.Flush(); err != nil {
		return nil, errors.CombineErrors(err, t.Close())
	}
	return t, nil
}

func rowsCount(size uint64, hdr *fileHeader, l *layout) (uint64, error) {
	if size < uint64(hdr.headerSize) {
		return 0, dberr.New(dberr.TableCorrupted, "file of %d bytes, header needs %d", size, hdr.headerSize)
	}
	body := size - uint64(hdr.headerSize)
	if body%uint64(l.rowSize) != 0 {
		return 0, dberr.New(dberr.TableCorrupted, "%d bytes of rows is not a multiple of the %d byte row size", body, l.rowSize)
	}
	count := body / uint64(l.rowSize)
	if !hdr.dirty() && count != hdr.rowsCount {
		return 0, dberr.New(dberr.TableCorrupted, "header says %d rows, file holds %d", hdr.rowsCount, count)
	}
	return count, nil
}

// openIndexes loads index snapshots, or rebuilds indexes when the table was
// left dirty or a snapshot cannot be used.
func (t *Table) openIndexes(p *persistent) error {
	dirty := p.header.dirty()
	if dirty {
		t.logger.Warn("table was not closed cleanly, rebuilding indexes")
	}
	for f, indexed := range p.header.indexed {
		if !indexed {
			continue
		}
		if !dirty {
			x, err := p.loadSnapshot(t, f)
			if err == nil {
				t.indexes[f] = x
				continue
			}
			t.logger.Warn("index snapshot unusable, rebuilding",
				slog.String("field", t.layout.fields[f].Name),
				slog.Any("err", err))
		}
		x, err := t.buildIndex(f, nil)
		if err != nil {
			return err
		}
		t.indexes[f] = x
		t.cfg.metrics.IndexRebuilds.Inc()
	}
	return nil
}

// Remove deletes every file of the table.  The table must not be open.
func Remove(dir, name string) error {
	if err := validateTableName(name); err != nil {
		return err
	}
	err := container.RemoveSegments(RowsPath(dir, name))
	err = errors.CombineErrors(err, container.RemoveSegments(ValuesPath(dir, name)))
	matches, gerr := filepath.Glob(filepath.Join(dir, name+".*"+indexSuffix+"*"))
	err = errors.CombineErrors(err, gerr)
	for _, m := range matches {
		if rerr := os.Remove(m); rerr != nil && !oserror.IsNotExist(rerr) {
			err = errors.CombineErrors(err, dberr.Wrap(rerr, dberr.FileIO, "remove %s", m))
		}
	}
	return err
}

// FileInfo describes one file of a table.
type FileInfo struct {
	Path string
	Size int64
}

// Info is what Inspect learns about a table without opening it.
type Info struct {
	Name           string
	Fields         []field.Descriptor
	Indexed        []bool
	RowSize        int
	RowsCount      uint64
	HeaderSize     int
	MaxSegmentSize uint64
	Generation     uint64
	Dirty          bool
	Files          []FileInfo
}

// Inspect reads the header of a table and lists its files.
func Inspect(dir, name string) (*Info, error) {
	if err := validateTableName(name); err != nil {
		return nil, err
	}
	hdr, err := readFileHeader(RowsPath(dir, name))
	if err != nil {
		if oserror.IsNotExist(err) {
			return nil, dberr.New(dberr.TableNotFound, "%q in %s", name, dir)
		}
		return nil, err
	}
	info := &Info{
		Name:           name,
		Fields:         hdr.fields,
		Indexed:        hdr.indexed,
		RowSize:        int(hdr.rowSize),
		RowsCount:      hdr.rowsCount,
		HeaderSize:     int(hdr.headerSize),
		MaxSegmentSize: hdr.maxSegmentSize,
		Generation:     hdr.generation,
		Dirty:          hdr.dirty(),
	}
	primaries := []string{RowsPath(dir, name), ValuesPath(dir, name)}
	for f, indexed := range hdr.indexed {
		if indexed {
			primaries = append(primaries, IndexPath(dir, name, f))
		}
	}
	for _, primary := range primaries {
		for i := 0; ; i++ {
			fi, err := os.Stat(container.SegmentName(primary, i))
			if err != nil {
				break
			}
			info.Files = append(info.Files, FileInfo{Path: container.SegmentName(primary, i), Size: fi.Size()})
		}
	}
	return info, nil
}

func (i *Info) String() string {
	return fmt.Sprintf("%s: %d fields, %d rows of %d bytes", i.Name, len(i.Fields), i.RowsCount, i.RowSize)
}
