// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package tabledb stores tables of typed fields in database directories.
//
// An Engine holds process-wide state: configuration, metrics, the name
// source for temporary files and the registry of open databases.  A Handler
// is one open database; it hands out persistent tables by name and creates
// temporal tables that vanish when released.
package tabledb

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
	"golang.org/x/sync/errgroup"

	"github.com/bpowers/tabledb/dberr"
	"github.com/bpowers/tabledb/field"
	"github.com/bpowers/tabledb/internal/container"
	"github.com/bpowers/tabledb/internal/metrics"
	"github.com/bpowers/tabledb/internal/table"
)

// Table is a table retrieved from a Handler.
type Table = table.Table

// Engine is safe for concurrent use.
type Engine struct {
	mu sync.Mutex

	opts    options
	logger  *slog.Logger
	metrics *metrics.Metrics
	names   *container.NameGenerator

	databases map[string]*Handler
	shutdown  bool
}

// NewEngine creates an engine.  Engines are independent; most programs need
// one.
func NewEngine(opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxFileSize == 0 {
		return nil, dberr.New(dberr.InvalidParameters, "max file size of 0")
	}
	m, err := metrics.New(o.registerer)
	if err != nil {
		return nil, dberr.Wrap(err, dberr.InvalidParameters, "register metrics")
	}
	return &Engine{
		opts:      o,
		logger:    o.logger,
		metrics:   m,
		names:     container.NewNameGenerator(),
		databases: make(map[string]*Handler),
	}, nil
}

// Shutdown releases every open database, closing the tables still in use.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return nil
	}
	e.shutdown = true
	handlers := make([]*Handler, 0, len(e.databases))
	for _, h := range e.databases {
		handlers = append(handlers, h)
	}
	e.databases = nil
	e.mu.Unlock()

	var g errgroup.Group
	for _, h := range handlers {
		g.Go(h.forceClose)
	}
	err := g.Wait()
	e.metrics.Unregister(e.opts.registerer)
	e.names = nil
	e.logger.Info("engine shut down", slog.Int("databases", len(handlers)))
	return err
}

func (e *Engine) checkRunning() error {
	if e.shutdown {
		return dberr.New(dberr.GeneralControl, "engine is shut down")
	}
	return nil
}

func (e *Engine) tableOptions() []table.Option {
	return []table.Option{
		table.WithLogger(e.logger),
		table.WithMetrics(e.metrics),
		table.WithNameGenerator(e.names),
		table.WithTempDir(e.opts.tempDir),
		table.WithMaxSegmentSize(e.opts.maxFileSize),
		table.WithTableCache(e.opts.tableBlockSize, e.opts.tableBlockCount),
		table.WithValueStoreCache(e.opts.storeBlockSize, e.opts.storeBlockCount),
		table.WithValueCacheSize(e.opts.valueCacheSize),
		table.WithCompactionThreshold(e.opts.compactionThreshold),
	}
}

// databasePath returns the absolute directory of database name under dir.
func (e *Engine) databasePath(name, dir string) (string, error) {
	if !field.ValidateName(name) {
		return "", dberr.New(dberr.InvalidParameters, "invalid database name %q", name)
	}
	if !filepath.IsAbs(dir) && e.opts.workDir != "" {
		dir = filepath.Join(e.opts.workDir, dir)
	}
	path, err := filepath.Abs(filepath.Join(dir, name))
	if err != nil {
		return "", dberr.Wrap(err, dberr.InvalidParameters, "filepath.Abs")
	}
	return path, nil
}

// CreateDatabase creates an empty database called name in dir.
func (e *Engine) CreateDatabase(name, dir string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkRunning(); err != nil {
		return err
	}
	path, err := e.databasePath(name, dir)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(path, catalogFile)); err == nil {
		return dberr.New(dberr.DatabaseExists, "%s", path)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return dberr.Wrap(err, dberr.FileIO, "create %s", path)
	}
	if err := newCatalog(name).save(path); err != nil {
		return err
	}
	e.logger.Info("database created", slog.String("path", path))
	return nil
}

// RetrieveDatabase opens database name in dir.  Retrieving an open database
// returns the same Handler; every retrieval is paired with a
// ReleaseDatabase.
func (e *Engine) RetrieveDatabase(name, dir string) (*Handler, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkRunning(); err != nil {
		return nil, err
	}
	path, err := e.databasePath(name, dir)
	if err != nil {
		return nil, err
	}
	if h, ok := e.databases[path]; ok {
		h.mu.Lock()
		h.refs++
		h.mu.Unlock()
		return h, nil
	}

	cat, err := loadCatalog(path)
	if err != nil {
		return nil, err
	}
	lock, err := lockDatabase(path)
	if err != nil {
		return nil, err
	}
	h := newHandler(e, path, cat, lock)
	e.databases[path] = h
	e.metrics.OpenDatabases.Inc()
	e.logger.Info("database opened", slog.String("path", path), slog.String("id", cat.ID))
	return h, nil
}

// ReleaseDatabase gives back a Handler from RetrieveDatabase.  A database
// with tables in use cannot be released.
func (e *Engine) ReleaseDatabase(h *Handler) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.databases[h.path] != h {
		return dberr.New(dberr.InvalidParameters, "database %s is not open", h.path)
	}

	h.mu.Lock()
	if n := h.inUseLocked(); n > 0 {
		h.mu.Unlock()
		return dberr.New(dberr.DatabaseInUse, "%s has %d tables in use", h.path, n)
	}
	h.refs--
	last := h.refs == 0
	h.mu.Unlock()
	if !last {
		return nil
	}

	delete(e.databases, h.path)
	e.metrics.OpenDatabases.Dec()
	e.logger.Info("database closed", slog.String("path", h.path))
	return h.forceClose()
}

// RemoveDatabase deletes database name in dir and every table in it.
func (e *Engine) RemoveDatabase(name, dir string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkRunning(); err != nil {
		return err
	}
	path, err := e.databasePath(name, dir)
	if err != nil {
		return err
	}
	if _, ok := e.databases[path]; ok {
		return dberr.New(dberr.DatabaseInUse, "%s", path)
	}
	if _, err := loadCatalog(path); err != nil {
		return err
	}
	lock, err := lockDatabase(path)
	if err != nil {
		return err
	}
	err = os.RemoveAll(path)
	err = errors.CombineErrors(err, lock.Close())
	if err != nil && !oserror.IsNotExist(err) {
		return dberr.Wrap(err, dberr.FileIO, "remove %s", path)
	}
	e.logger.Info("database removed", slog.String("path", path))
	return nil
}
