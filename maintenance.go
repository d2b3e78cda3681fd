// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package tabledb

import (
	"log/slog"

	"github.com/bpowers/tabledb/dberr"
	"github.com/bpowers/tabledb/internal/table"
)

// Severity grades a repair action.
type Severity = table.Severity

const (
	SeverityInfo    = table.SeverityInfo
	SeverityWarning = table.SeverityWarning
	SeverityError   = table.SeverityError
)

// RepairFunc is called once per repair action.
type RepairFunc = table.RepairFunc

// ValidateTable reports whether the table name in dir is structurally
// sound.  It never modifies the table.
func ValidateTable(dir, name string, opts ...Option) (bool, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return table.Validate(dir, name, table.WithLogger(o.logger))
}

// ValidateTable checks a table of the database.
func (h *Handler) ValidateTable(name string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cat.indexOf(name) < 0 {
		return false, dberr.New(dberr.TableNotFound, "%q in %s", name, h.path)
	}
	if _, ok := h.persistent[name]; ok {
		return false, dberr.New(dberr.TableInUse, "%q", name)
	}
	return table.Validate(h.path, name, h.tableOptions()...)
}

// RepairTable fixes table name in dir, calling cb for every change.  When
// dir is empty the table is looked up in h.  The table must not be in use.
func RepairTable(h *Handler, name, dir string, cb RepairFunc) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if dir == "" {
		dir = h.path
	}
	if dir == h.path {
		if _, ok := h.persistent[name]; ok {
			return dberr.New(dberr.TableInUse, "%q", name)
		}
	}
	h.logger.Info("repairing table", slog.String("table", name), slog.String("dir", dir))
	return table.Repair(dir, name, cb, h.tableOptions()...)
}
