// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package container turns a logical byte address space of arbitrary size
// into on-disk segment files, or into a memory-resident buffer that spills to
// a temporary file when it outgrows its budget.
//
// Containers are not safe for concurrent use; their owners (tables and value
// stores) serialize access.
package container

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DefaultMaxSegmentSize is the default cap on a single segment file.
const DefaultMaxSegmentSize = 2 << 30

// Container is an addressable range of bytes [0, Size()).
type Container interface {
	// Write stores data at pos.  pos may not be past Size(); writes that run
	// past the end grow the container.
	Write(pos uint64, data []byte) error
	// Read fills buf from pos.  The whole range must be inside the container.
	Read(pos uint64, buf []byte) error
	// Collapse deletes [from, to), shifting later bytes down.
	Collapse(from, to uint64) error
	Size() uint64
	// MarkForRemoval arranges for the backing files to be deleted on Close.
	MarkForRemoval()
	Flush() error
	Close() error
}

// NameGenerator produces unique names for temporary container files.  One
// generator is shared by everything an Engine creates; the lock is only held
// while the next id is taken.
type NameGenerator struct {
	mu     sync.Mutex
	next   uint64
	prefix string
}

func NewNameGenerator() *NameGenerator {
	return &NameGenerator{
		prefix: fmt.Sprintf("tdb%d_", os.Getpid()),
	}
}

// Next returns a fresh path inside dir.
func (g *NameGenerator) Next(dir string) string {
	g.mu.Lock()
	id := g.next
	g.next++
	g.mu.Unlock()

	return filepath.Join(dir, fmt.Sprintf("%s%d.tmp", g.prefix, id))
}

// NewTemp creates an empty segmented container under dir that deletes its
// files when closed.
func NewTemp(names *NameGenerator, dir string, maxSegmentSize uint64) (*Segmented, error) {
	c, err := OpenSegmented(names.Next(dir), maxSegmentSize, true)
	if err != nil {
		return nil, err
	}
	c.MarkForRemoval()
	return c, nil
}
