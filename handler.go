// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package tabledb

import (
	"log/slog"
	"os"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/bpowers/tabledb/dberr"
	"github.com/bpowers/tabledb/field"
	"github.com/bpowers/tabledb/internal/table"
)

// Handler is an open database.  It is safe for concurrent use.
type Handler struct {
	mu sync.Mutex

	e      *Engine
	path   string
	cat    *catalog
	lock   *os.File
	logger *slog.Logger
	refs   int
	closed bool

	persistent map[string]*Table
	temporal   map[*Table]struct{}
	syncs      syncPoints
}

func newHandler(e *Engine, path string, cat *catalog, lock *os.File) *Handler {
	return &Handler{
		e:          e,
		path:       path,
		cat:        cat,
		lock:       lock,
		logger:     e.logger.With(slog.String("database", cat.Name)),
		refs:       1,
		persistent: make(map[string]*Table),
		temporal:   make(map[*Table]struct{}),
	}
}

// Name is the database name.
func (h *Handler) Name() string {
	return h.cat.Name
}

// Path is the database directory.
func (h *Handler) Path() string {
	return h.path
}

// ID is the unique id the database was created with.
func (h *Handler) ID() string {
	return h.cat.ID
}

// tableOptions are the engine's table options plus a hook that counts
// spawned tables as temporal tables of this database.
func (h *Handler) tableOptions() []table.Option {
	return append(h.e.tableOptions(), table.WithSpawnHook(h.registerSpawn))
}

func (h *Handler) registerSpawn(t *Table) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return dberr.New(dberr.GeneralControl, "database %q is closed", h.cat.Name)
	}
	h.temporal[t] = struct{}{}
	return nil
}

func (h *Handler) inUseLocked() int {
	return len(h.persistent) + len(h.temporal)
}

// TablesInUse counts retrieved persistent tables and live temporal tables.
func (h *Handler) TablesInUse() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inUseLocked()
}

// forceClose closes every table still in use and drops the database lock.
func (h *Handler) forceClose() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	// temporal tables first: spawned ones hold values of their parents
	var err error
	for t := range h.temporal {
		err = errors.CombineErrors(err, t.Close())
	}
	for name, t := range h.persistent {
		h.logger.Warn("closing table still in use", slog.String("table", name))
		err = errors.CombineErrors(err, t.Close())
	}
	h.closed = true
	h.persistent = make(map[string]*Table)
	h.temporal = make(map[*Table]struct{})
	if h.lock != nil {
		err = errors.CombineErrors(err, h.lock.Close())
		h.lock = nil
	}
	return err
}

// AddTable creates a persistent table.  It is not retrieved.
func (h *Handler) AddTable(name string, fields []field.Descriptor) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cat.indexOf(name) >= 0 {
		return dberr.New(dberr.TableExists, "%q in %s", name, h.path)
	}
	t, err := table.Create(h.path, name, fields, h.tableOptions()...)
	if err != nil {
		return err
	}
	if err := t.Close(); err != nil {
		return errors.CombineErrors(err, table.Remove(h.path, name))
	}
	h.cat.add(name)
	if err := h.cat.save(h.path); err != nil {
		h.cat.remove(name)
		return errors.CombineErrors(err, table.Remove(h.path, name))
	}
	return nil
}

// DeleteTable removes a persistent table and its files.
func (h *Handler) DeleteTable(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cat.indexOf(name) < 0 {
		return dberr.New(dberr.TableNotFound, "%q in %s", name, h.path)
	}
	if _, ok := h.persistent[name]; ok {
		return dberr.New(dberr.TableInUse, "%q", name)
	}
	h.cat.remove(name)
	if err := h.cat.save(h.path); err != nil {
		h.cat.add(name)
		return err
	}
	h.logger.Info("table deleted", slog.String("table", name))
	return table.Remove(h.path, name)
}

// RetrievePersistentTable opens the table called name.  A table can be
// retrieved once at a time; each retrieval is paired with ReleaseTable.
func (h *Handler) RetrievePersistentTable(name string) (*Table, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.retrieveLocked(name)
}

// RetrievePersistentTableAt opens the i'th table of the catalog.
func (h *Handler) RetrievePersistentTableAt(i int) (*Table, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i < 0 || i >= len(h.cat.Tables) {
		return nil, dberr.New(dberr.TableNotFound, "table %d of %d", i, len(h.cat.Tables))
	}
	return h.retrieveLocked(h.cat.Tables[i])
}

func (h *Handler) retrieveLocked(name string) (*Table, error) {
	if h.cat.indexOf(name) < 0 {
		return nil, dberr.New(dberr.TableNotFound, "%q in %s", name, h.path)
	}
	if _, ok := h.persistent[name]; ok {
		return nil, dberr.New(dberr.TableInUse, "%q", name)
	}
	t, err := table.Open(h.path, name, h.tableOptions()...)
	if err != nil {
		return nil, err
	}
	h.persistent[name] = t
	return t, nil
}

// CreateTempTable creates a temporal table, destroyed by ReleaseTable.
// Tables spawned from it, or from any table of this database, are
// temporal tables of the database too.
func (h *Handler) CreateTempTable(fields []field.Descriptor) (*Table, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, err := table.NewTemporal(fields, h.tableOptions()...)
	if err != nil {
		return nil, err
	}
	h.temporal[t] = struct{}{}
	return t, nil
}

// ReleaseTable gives back a table from RetrievePersistentTable or
// CreateTempTable, or one spawned from either.  Released tables are closed.
// A persistent table with open spawned tables stays retrieved and
// TableInUse is returned.
func (h *Handler) ReleaseTable(t *Table) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.temporal[t]; ok {
		delete(h.temporal, t)
		return t.Close()
	}
	if t.Persistent() && h.persistent[t.Name()] == t {
		err := t.Close()
		if errors.Is(err, dberr.TableInUse) {
			return err
		}
		delete(h.persistent, t.Name())
		return err
	}
	return dberr.New(dberr.InvalidParameters, "table %q was not retrieved from %s", t.Name(), h.path)
}

// TableName returns the name of the i'th persistent table.
func (h *Handler) TableName(i int) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i < 0 || i >= len(h.cat.Tables) {
		return "", dberr.New(dberr.TableNotFound, "table %d of %d", i, len(h.cat.Tables))
	}
	return h.cat.Tables[i], nil
}

func (h *Handler) PersistentTablesCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.cat.Tables)
}
