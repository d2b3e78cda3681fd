// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package tabledb

import (
	"io"
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"

	"github.com/bpowers/tabledb/dberr"
	"github.com/bpowers/tabledb/field"
	"github.com/bpowers/tabledb/internal/datafile"
)

// ExportTable writes every live row of the persistent table name to the
// dump file at path, along with its schema and which fields are indexed.
// It returns the number of rows written.
func (h *Handler) ExportTable(name, path string) (n uint64, err error) {
	t, err := h.RetrievePersistentTable(name)
	if err != nil {
		return 0, err
	}
	defer func() {
		err = errors.CombineErrors(err, h.ReleaseTable(t))
	}()

	f, err := os.Create(path)
	if err != nil {
		return 0, dberr.Wrap(err, dberr.FileIO, "create %s", path)
	}
	n, err = dumpTable(t, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = dberr.Wrap(cerr, dberr.FileIO, "close %s", path)
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, err
	}
	h.logger.Info("table exported", slog.String("table", name), slog.Uint64("rows", n), slog.String("path", path))
	return n, nil
}

func dumpTable(t *Table, f datafile.FileWriter) (uint64, error) {
	fields := t.Fields()
	schema := datafile.Schema{Fields: fields, Indexed: make([]bool, len(fields))}
	for i := range fields {
		indexed, err := t.IsIndexed(i)
		if err != nil {
			return 0, err
		}
		schema.Indexed[i] = indexed
	}
	w, err := datafile.NewWriter(f, schema)
	if err != nil {
		return 0, dberr.Wrap(err, dberr.FileIO, "datafile.NewWriter")
	}
	values := make([]field.Value, len(fields))
	for row := uint64(0); row < t.AllocatedRows(); row++ {
		if !t.IsRowLive(row) {
			continue
		}
		for i := range fields {
			if values[i], err = t.Get(row, i); err != nil {
				return 0, err
			}
		}
		if err := w.Write(row, values); err != nil {
			return 0, dberr.Wrap(err, dberr.FileIO, "write row %d", row)
		}
	}
	if err := w.Finish(); err != nil {
		return 0, dberr.Wrap(err, dberr.FileIO, "datafile.Finish")
	}
	return w.Count(), nil
}

// ImportTable creates the persistent table name from the dump file at path.
// Rows are appended in dump order and the dumped indexes are rebuilt.  On
// failure the new table is deleted.
func (h *Handler) ImportTable(name, path string) (n uint64, err error) {
	f, err := os.Open(path)
	if err != nil {
		if oserror.IsNotExist(err) {
			return 0, dberr.Wrap(err, dberr.InvalidParameters, "no dump at %s", path)
		}
		return 0, dberr.Wrap(err, dberr.FileIO, "open %s", path)
	}
	defer f.Close()

	r, err := datafile.NewReader(f)
	if err != nil {
		return 0, dberr.Wrap(err, dberr.TableCorrupted, "%s", path)
	}
	schema := r.Schema()
	if err := h.AddTable(name, schema.Fields); err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			err = errors.CombineErrors(err, h.DeleteTable(name))
		}
	}()

	t, err := h.RetrievePersistentTable(name)
	if err != nil {
		return 0, err
	}
	n, err = loadTable(t, r, schema)
	if rerr := h.ReleaseTable(t); err == nil {
		err = rerr
	}
	if err != nil {
		return 0, err
	}
	h.logger.Info("table imported", slog.String("table", name), slog.Uint64("rows", n), slog.String("path", path))
	return n, nil
}

func loadTable(t *Table, r *datafile.Reader, schema datafile.Schema) (uint64, error) {
	var n uint64
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return n, dberr.Wrap(err, dberr.TableCorrupted, "read dump")
		}
		row, err := t.AddRow()
		if err != nil {
			return n, err
		}
		for i, v := range rec.Values {
			if v.IsNull() {
				continue
			}
			if err := t.Set(row, i, v); err != nil {
				return n, err
			}
		}
		n++
	}
	for i, indexed := range schema.Indexed {
		if indexed {
			if err := t.CreateIndex(i, nil); err != nil {
				return n, err
			}
		}
	}
	return n, t.Flush()
}
