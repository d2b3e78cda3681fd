// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package table

import (
	"io"
	"log/slog"
	"os"

	"github.com/bpowers/tabledb/internal/container"
	"github.com/bpowers/tabledb/internal/metrics"
	"github.com/bpowers/tabledb/internal/valuestore"
)

const (
	DefaultCacheBlockSize  = 4096
	DefaultCacheBlockCount = 1024
)

type config struct {
	logger              *slog.Logger
	metrics             *metrics.Metrics
	names               *container.NameGenerator
	tempDir             string
	maxSegmentSize      uint64
	tableBlockSize      uint64
	tableBlockCount     int
	storeBlockSize      uint64
	storeBlockCount     int
	valueCacheSize      int
	compactionThreshold float64
	onSpawn             func(*Table) error
}

type Option func(*config)

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// WithNameGenerator sets where temporary containers get their file names.
func WithNameGenerator(names *container.NameGenerator) Option {
	return func(c *config) {
		c.names = names
	}
}

// WithTempDir sets the directory overflow files are created in.
func WithTempDir(dir string) Option {
	return func(c *config) {
		c.tempDir = dir
	}
}

// WithMaxSegmentSize caps the size of every file a new table creates.
func WithMaxSegmentSize(n uint64) Option {
	return func(c *config) {
		c.maxSegmentSize = n
	}
}

// WithTableCache sets the page cache in front of the row container.
func WithTableCache(blockSize uint64, blockCount int) Option {
	return func(c *config) {
		c.tableBlockSize = blockSize
		c.tableBlockCount = blockCount
	}
}

// WithValueStoreCache sets the page cache in front of the value store.
func WithValueStoreCache(blockSize uint64, blockCount int) Option {
	return func(c *config) {
		c.storeBlockSize = blockSize
		c.storeBlockCount = blockCount
	}
}

// WithValueCacheSize sets how many decoded text and array payloads are kept.
func WithValueCacheSize(n int) Option {
	return func(c *config) {
		c.valueCacheSize = n
	}
}

// WithCompactionThreshold sets the free-space fraction that makes Flush
// compact the value store.  Zero disables automatic compaction.
func WithCompactionThreshold(f float64) Option {
	return func(c *config) {
		c.compactionThreshold = f
	}
}

// WithSpawnHook sets a function told about every table Spawn creates,
// including spawns of spawns.  It runs without the parent locked.  If it
// fails the new table is closed and Spawn returns the error.
func WithSpawnHook(fn func(*Table) error) Option {
	return func(c *config) {
		c.onSpawn = fn
	}
}

func newConfig(opts []Option) *config {
	c := &config{
		logger:              slog.New(slog.NewTextHandler(io.Discard, nil)),
		tempDir:             os.TempDir(),
		maxSegmentSize:      container.DefaultMaxSegmentSize,
		tableBlockSize:      DefaultCacheBlockSize,
		tableBlockCount:     DefaultCacheBlockCount,
		storeBlockSize:      DefaultCacheBlockSize,
		storeBlockCount:     DefaultCacheBlockCount,
		valueCacheSize:      valuestore.DefaultCacheSize,
		compactionThreshold: valuestore.DefaultCompactionThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.Discard()
	}
	if c.names == nil {
		c.names = container.NewNameGenerator()
	}
	return c
}

func (c *config) storeOptions() []valuestore.Option {
	return []valuestore.Option{
		valuestore.WithLogger(c.logger),
		valuestore.WithMetrics(c.metrics),
		valuestore.WithCacheSize(c.valueCacheSize),
		valuestore.WithCompactionThreshold(c.compactionThreshold),
	}
}

// newMemory returns a memory-resident container that spills to a temporary
// file under the configured temp directory.
func (c *config) newMemory(blockSize uint64, blockCount int, what string) *container.Buffered {
	b := container.NewMemory(blockSize, blockCount, func() (container.Container, error) {
		tmp, err := container.NewTemp(c.names, c.tempDir, c.maxSegmentSize)
		if err != nil {
			return nil, err
		}
		c.metrics.ContainerSpills.Inc()
		c.logger.Info("memory container spilled to disk", slog.String("what", what), slog.String("path", tmp.Path()))
		return tmp, nil
	})
	b.MarkForRemoval()
	return b
}
