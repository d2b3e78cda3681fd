// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package container

import (
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/bpowers/tabledb/dberr"
)

// MinBlockCount is the smallest number of cache windows a Buffered container
// keeps once it is backed by a file.
const MinBlockCount = 2

// SpillFunc creates the overflow container a memory-resident Buffered
// container moves its contents to once they outgrow the memory budget.
type SpillFunc func() (Container, error)

type window struct {
	start uint64
	len   uint64
	data  []byte
	used  uint64
	valid bool
	dirty bool
}

// Buffered is a container kept in memory.  Until its contents outgrow
// blockSize*blockCount bytes they live in one flat buffer; after that the
// bytes move to a backing container and the memory is reused as blockCount
// block-aligned write-back windows over it.
type Buffered struct {
	blockSize  uint64
	blockCount int
	size       uint64

	mem []byte

	backing Container
	spill   SpillFunc
	windows []window
	tick    uint64

	remove bool
	closed bool
}

var _ Container = &Buffered{}

func normalize(blockSize uint64, blockCount int) (uint64, int) {
	if blockSize == 0 {
		blockSize = 4096
	}
	if blockCount < MinBlockCount {
		blockCount = MinBlockCount
	}
	return blockSize, blockCount
}

// NewMemory returns an empty memory-resident container.  spill is called at
// most once, the first time the contents grow past the memory budget.
func NewMemory(blockSize uint64, blockCount int, spill SpillFunc) *Buffered {
	blockSize, blockCount = normalize(blockSize, blockCount)
	return &Buffered{
		blockSize:  blockSize,
		blockCount: blockCount,
		spill:      spill,
	}
}

// NewCached puts a write-back page cache of blockCount windows of blockSize
// bytes in front of backing.  Closing the Buffered container closes backing.
func NewCached(backing Container, blockSize uint64, blockCount int) *Buffered {
	blockSize, blockCount = normalize(blockSize, blockCount)
	b := &Buffered{
		blockSize:  blockSize,
		blockCount: blockCount,
		size:       backing.Size(),
		backing:    backing,
	}
	b.initWindows()
	return b
}

func (b *Buffered) initWindows() {
	b.windows = make([]window, b.blockCount)
	for i := range b.windows {
		b.windows[i].data = make([]byte, b.blockSize)
	}
}

func (b *Buffered) budget() uint64 {
	return b.blockSize * uint64(b.blockCount)
}

// Spilled reports whether the contents live in a backing container.
func (b *Buffered) Spilled() bool {
	return b.backing != nil
}

func (b *Buffered) Size() uint64 {
	return b.size
}

func (b *Buffered) spillToBacking() error {
	if b.spill == nil {
		return dberr.New(dberr.GeneralControl, "memory container has no overflow")
	}
	backing, err := b.spill()
	if err != nil {
		return errors.Wrapf(err, "spill %d bytes", b.size)
	}
	if b.remove {
		backing.MarkForRemoval()
	}
	if err := backing.Write(0, b.mem[:b.size]); err != nil {
		_ = backing.Close()
		return err
	}
	b.backing = backing
	b.mem = nil
	b.initWindows()
	return nil
}

func (b *Buffered) Write(pos uint64, data []byte) error {
	if b.closed {
		return dberr.New(dberr.GeneralControl, "write to closed container")
	}
	if pos > b.size {
		return dberr.New(dberr.InvalidAccessPosition, "write at %d past end %d", pos, b.size)
	}
	end := pos + uint64(len(data))

	if b.backing == nil {
		if end <= b.budget() {
			if end > uint64(len(b.mem)) {
				b.mem = append(b.mem, make([]byte, end-uint64(len(b.mem)))...)
			}
			copy(b.mem[pos:], data)
			b.size = max(b.size, end)
			return nil
		}
		if err := b.spillToBacking(); err != nil {
			return err
		}
	}

	for len(data) > 0 {
		w, err := b.fillCache(pos)
		if err != nil {
			return err
		}
		off := pos - w.start
		n := min(uint64(len(data)), b.blockSize-off)
		copy(w.data[off:], data[:n])
		w.len = max(w.len, off+n)
		w.dirty = true

		pos += n
		data = data[n:]
		b.size = max(b.size, pos)
	}
	return nil
}

func (b *Buffered) Read(pos uint64, buf []byte) error {
	if b.closed {
		return dberr.New(dberr.GeneralControl, "read from closed container")
	}
	if pos+uint64(len(buf)) > b.size || pos+uint64(len(buf)) < pos {
		return dberr.New(dberr.InvalidAccessPosition, "read [%d, %d) past end %d", pos, pos+uint64(len(buf)), b.size)
	}
	if b.backing == nil {
		copy(buf, b.mem[pos:])
		return nil
	}
	for len(buf) > 0 {
		w, err := b.fillCache(pos)
		if err != nil {
			return err
		}
		off := pos - w.start
		n := min(uint64(len(buf)), b.blockSize-off)
		copy(buf[:n], w.data[off:off+n])
		pos += n
		buf = buf[n:]
	}
	return nil
}

// fillCache returns the window covering pos, loading it from the backing
// container and evicting the least recently used window if needed.
func (b *Buffered) fillCache(pos uint64) (*window, error) {
	b.tick++
	start := pos / b.blockSize * b.blockSize

	var victim *window
	for i := range b.windows {
		w := &b.windows[i]
		if w.valid && w.start == start {
			w.used = b.tick
			return w, nil
		}
		switch {
		case victim == nil:
			victim = w
		case !w.valid && victim.valid:
			victim = w
		case w.valid && victim.valid && w.used < victim.used:
			victim = w
		}
	}

	if victim.valid && victim.dirty {
		if err := b.flushWindow(victim); err != nil {
			return nil, err
		}
	}

	victim.valid = false
	victim.dirty = false
	victim.start = start
	victim.len = 0
	if backingSize := b.backing.Size(); start < backingSize {
		n := min(b.blockSize, backingSize-start)
		if err := b.backing.Read(start, victim.data[:n]); err != nil {
			return nil, err
		}
		victim.len = n
	}
	victim.valid = true
	victim.used = b.tick
	return victim, nil
}

// flushWindow writes w back, after every dirty window below it, so the
// backing container never sees a write past its end.
func (b *Buffered) flushWindow(w *window) error {
	for _, o := range b.dirtyWindows() {
		if o.start >= w.start {
			break
		}
		if err := b.writeBack(o); err != nil {
			return err
		}
	}
	return b.writeBack(w)
}

func (b *Buffered) dirtyWindows() []*window {
	var dirty []*window
	for i := range b.windows {
		if w := &b.windows[i]; w.valid && w.dirty {
			dirty = append(dirty, w)
		}
	}
	sort.Slice(dirty, func(i, j int) bool { return dirty[i].start < dirty[j].start })
	return dirty
}

func (b *Buffered) writeBack(w *window) error {
	if err := b.backing.Write(w.start, w.data[:w.len]); err != nil {
		return err
	}
	w.dirty = false
	return nil
}

func (b *Buffered) flushAll() error {
	for _, w := range b.dirtyWindows() {
		if err := b.writeBack(w); err != nil {
			return err
		}
	}
	return nil
}

func (b *Buffered) Collapse(from, to uint64) error {
	if from > to || to > b.size {
		return dberr.New(dberr.InvalidAccessPosition, "collapse [%d, %d) of %d bytes", from, to, b.size)
	}
	if from == to {
		return nil
	}
	if b.backing == nil {
		copy(b.mem[from:], b.mem[to:b.size])
		b.size -= to - from
		b.mem = b.mem[:b.size]
		return nil
	}

	if err := b.flushAll(); err != nil {
		return err
	}
	if err := b.backing.Collapse(from, to); err != nil {
		return err
	}
	for i := range b.windows {
		b.windows[i].valid = false
	}
	b.size = b.backing.Size()
	return nil
}

func (b *Buffered) MarkForRemoval() {
	b.remove = true
	if b.backing != nil {
		b.backing.MarkForRemoval()
	}
}

func (b *Buffered) Flush() error {
	if b.closed || b.backing == nil {
		return nil
	}
	if err := b.flushAll(); err != nil {
		return err
	}
	return b.backing.Flush()
}

func (b *Buffered) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	b.mem = nil
	if b.backing == nil {
		return nil
	}

	var err error
	if !b.remove {
		err = b.flushAll()
	}
	b.windows = nil
	return errors.CombineErrors(err, b.backing.Close())
}
