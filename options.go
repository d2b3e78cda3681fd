// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package tabledb

import (
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/bpowers/tabledb/dberr"
	"github.com/bpowers/tabledb/internal/container"
	"github.com/bpowers/tabledb/internal/table"
	"github.com/bpowers/tabledb/internal/valuestore"
)

// Option configures an Engine.
type Option func(*options)

type options struct {
	logger              *slog.Logger
	registerer          prometheus.Registerer
	workDir             string
	tempDir             string
	maxFileSize         uint64
	tableBlockSize      uint64
	tableBlockCount     int
	storeBlockSize      uint64
	storeBlockCount     int
	valueCacheSize      int
	compactionThreshold float64
}

func defaultOptions() options {
	return options{
		logger:              slog.New(slog.NewTextHandler(io.Discard, nil)),
		tempDir:             os.TempDir(),
		maxFileSize:         container.DefaultMaxSegmentSize,
		tableBlockSize:      table.DefaultCacheBlockSize,
		tableBlockCount:     table.DefaultCacheBlockCount,
		storeBlockSize:      table.DefaultCacheBlockSize,
		storeBlockCount:     table.DefaultCacheBlockCount,
		valueCacheSize:      valuestore.DefaultCacheSize,
		compactionThreshold: valuestore.DefaultCompactionThreshold,
	}
}

// WithLogger sets an optional logger for the engine and everything it opens.
// If not provided, no logging output will be produced.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetricsRegisterer registers the engine's metrics with reg.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithWorkDir sets the directory relative database directories are resolved
// against.
func WithWorkDir(dir string) Option {
	return func(o *options) {
		o.workDir = dir
	}
}

// WithTempDir sets where memory-resident tables spill to.
func WithTempDir(dir string) Option {
	return func(o *options) {
		o.tempDir = dir
	}
}

// WithMaxFileSize caps the size of every file a new table creates.
func WithMaxFileSize(n uint64) Option {
	return func(o *options) {
		o.maxFileSize = n
	}
}

func WithTableCache(blockSize uint64, blockCount int) Option {
	return func(o *options) {
		o.tableBlockSize = blockSize
		o.tableBlockCount = blockCount
	}
}

func WithValueStoreCache(blockSize uint64, blockCount int) Option {
	return func(o *options) {
		o.storeBlockSize = blockSize
		o.storeBlockCount = blockCount
	}
}

// WithValueCacheSize sets how many text and array values each table keeps
// decoded in memory.
func WithValueCacheSize(n int) Option {
	return func(o *options) {
		o.valueCacheSize = n
	}
}

// WithCompactionThreshold sets the fraction of a value store that may be free
// before flushing compacts it.  Zero disables automatic compaction.
func WithCompactionThreshold(f float64) Option {
	return func(o *options) {
		o.compactionThreshold = f
	}
}

// Config is the YAML form of the engine options.  Zero fields keep their
// defaults.
type Config struct {
	WorkDir                   string   `yaml:"workDir"`
	TempDir                   string   `yaml:"tempDir"`
	MaxFileSize               uint64   `yaml:"maxFileSize"`
	TableCacheBlockSize       uint64   `yaml:"tableCacheBlockSize"`
	TableCacheBlockCount      int      `yaml:"tableCacheBlockCount"`
	ValueStoreCacheBlockSize  uint64   `yaml:"valueStoreCacheBlockSize"`
	ValueStoreCacheBlockCount int      `yaml:"valueStoreCacheBlockCount"`
	ValueCacheSize            *int     `yaml:"valueCacheSize"`
	CompactionThreshold       *float64 `yaml:"compactionThreshold"`
}

// Option turns the config into an engine option.
func (c *Config) Option() Option {
	return func(o *options) {
		if c.WorkDir != "" {
			o.workDir = c.WorkDir
		}
		if c.TempDir != "" {
			o.tempDir = c.TempDir
		}
		if c.MaxFileSize != 0 {
			o.maxFileSize = c.MaxFileSize
		}
		if c.TableCacheBlockSize != 0 {
			o.tableBlockSize = c.TableCacheBlockSize
		}
		if c.TableCacheBlockCount != 0 {
			o.tableBlockCount = c.TableCacheBlockCount
		}
		if c.ValueStoreCacheBlockSize != 0 {
			o.storeBlockSize = c.ValueStoreCacheBlockSize
		}
		if c.ValueStoreCacheBlockCount != 0 {
			o.storeBlockCount = c.ValueStoreCacheBlockCount
		}
		if c.ValueCacheSize != nil {
			o.valueCacheSize = *c.ValueCacheSize
		}
		if c.CompactionThreshold != nil {
			o.compactionThreshold = *c.CompactionThreshold
		}
	}
}

// ParseConfig parses a YAML configuration document.
func ParseConfig(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, dberr.Wrap(err, dberr.InvalidParameters, "parse config")
	}
	if c.ValueCacheSize != nil && *c.ValueCacheSize < 0 {
		return nil, dberr.New(dberr.InvalidParameters, "valueCacheSize %d", *c.ValueCacheSize)
	}
	if c.CompactionThreshold != nil && (*c.CompactionThreshold < 0 || *c.CompactionThreshold > 1) {
		return nil, dberr.New(dberr.InvalidParameters, "compactionThreshold %g outside [0, 1]", *c.CompactionThreshold)
	}
	return &c, nil
}

// LoadConfig reads a YAML configuration file and returns it as an Option.
func LoadConfig(path string) (Option, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, dberr.Wrap(err, dberr.FileIO, "read config %s", path)
	}
	c, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}
	return c.Option(), nil
}
