// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package valuestore implements the heap holding the variable-length
// payloads (text and arrays) that table rows reference by Handle.
//
// A store is a header followed by a sequence of blocks covering the rest of
// the container.  Each block carries a reference count; blocks whose count
// drops to zero are reused by later Adds, merged with free neighbours, and
// squeezed out by Compact.
package valuestore

import (
	"encoding/binary"
	"io"
	"log/slog"
	"sync"

	"github.com/google/btree"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bpowers/tabledb/dberr"
	"github.com/bpowers/tabledb/internal/container"
	"github.com/bpowers/tabledb/internal/metrics"
)

const (
	DefaultCacheSize           = 1024
	DefaultCompactionThreshold = 0.5

	btreeDegree  = 16
	maxBlockSize = 1 << 31
)

type freeBlock struct {
	offset uint64
	size   uint32
}

func lessBySize(a, b freeBlock) bool {
	if a.size != b.size {
		return a.size < b.size
	}
	return a.offset < b.offset
}

func lessByOffset(a, b freeBlock) bool {
	return a.offset < b.offset
}

// Block describes one block found while walking a store.
type Block struct {
	Offset     uint64
	RefCount   uint32
	PayloadLen uint32
	Size       uint32
}

func (b Block) Free() bool {
	return b.RefCount == 0
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithCacheSize sets how many decoded payloads are kept in memory.  Zero
// disables the cache.
func WithCacheSize(n int) Option {
	return func(s *Store) {
		s.cacheSize = n
	}
}

// WithCompactionThreshold sets the fraction of free bytes above which
// NeedsCompaction reports true.
func WithCompactionThreshold(f float64) Option {
	return func(s *Store) {
		s.threshold = f
	}
}

// WithCorruptionHandler makes Open tolerate a damaged block chain: the store
// is cut back to the last good block and report is told where.
func WithCorruptionHandler(report func(offset uint64, err error)) Option {
	return func(s *Store) {
		s.onCorrupt = report
	}
}

// Store is safe for concurrent use.  It may be shared by several tables
// (see Share); the backing container is closed when the last user closes.
type Store struct {
	mu sync.Mutex

	c         container.Container
	logger    *slog.Logger
	metrics   *metrics.Metrics
	cacheSize int
	threshold float64
	onCorrupt func(offset uint64, err error)

	cache     *lru.Cache[uint64, []byte]
	bySize    *btree.BTreeG[freeBlock]
	byOffset  *btree.BTreeG[freeBlock]
	freeBytes uint64
	users     int
}

func newStore(c container.Container, opts []Option) (*Store, error) {
	s := &Store{
		c:         c,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		cacheSize: DefaultCacheSize,
		threshold: DefaultCompactionThreshold,
		bySize:    btree.NewG[freeBlock](btreeDegree, lessBySize),
		byOffset:  btree.NewG[freeBlock](btreeDegree, lessByOffset),
		users:     1,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.Discard()
	}
	if s.cacheSize > 0 {
		cache, err := lru.New[uint64, []byte](s.cacheSize)
		if err != nil {
			return nil, dberr.Wrap(err, dberr.InvalidParameters, "value cache of %d entries", s.cacheSize)
		}
		s.cache = cache
	}
	return s, nil
}

// Create initializes an empty store in c, discarding whatever c held.
func Create(c container.Container, opts ...Option) (*Store, error) {
	s, err := newStore(c, opts)
	if err != nil {
		return nil, err
	}
	if c.Size() > 0 {
		if err := c.Collapse(0, c.Size()); err != nil {
			return nil, err
		}
	}
	var buf [StoreHeaderSize]byte
	if err := newStoreHeader().MarshalTo(buf[:]); err != nil {
		return nil, err
	}
	if err := c.Write(0, buf[:]); err != nil {
		return nil, dberr.Wrap(err, dberr.FileIO, "write value store header")
	}
	return s, nil
}

// Open attaches to an existing store in c, rebuilding the free lists from
// the block chain.
func Open(c container.Container, opts ...Option) (*Store, error) {
	s, err := newStore(c, opts)
	if err != nil {
		return nil, err
	}
	if c.Size() < StoreHeaderSize {
		return nil, dberr.New(dberr.ValueStoreCorrupted, "value store of %d bytes", c.Size())
	}
	var buf [StoreHeaderSize]byte
	if err := c.Read(0, buf[:]); err != nil {
		return nil, err
	}
	var h storeHeader
	if err := h.UnmarshalBytes(buf[:]); err != nil {
		return nil, dberr.Wrap(err, dberr.ValueStoreCorrupted, "value store header")
	}
	if err := s.scan(); err != nil {
		return nil, err
	}
	return s, nil
}

// scan walks the block chain, collecting free blocks.
func (s *Store) scan() error {
	s.bySize.Clear(false)
	s.byOffset.Clear(false)
	s.freeBytes = 0

	size := s.c.Size()
	var hdr [BlockHeaderSize]byte
	for off := uint64(StoreHeaderSize); off < size; {
		err := s.c.Read(off, hdr[:])
		var h blockHeader
		if err == nil {
			h = readBlockHeader(hdr[:])
			if !h.sane(off, size) {
				err = dberr.New(dberr.ValueStoreCorrupted, "block at %d: size %d payload %d in store of %d", off, h.blockSize, h.payloadLen, size)
			}
		}
		if err != nil {
			if s.onCorrupt == nil {
				return err
			}
			s.onCorrupt(off, err)
			if cerr := s.c.Collapse(off, size); cerr != nil {
				return cerr
			}
			return nil
		}
		if h.refCount == 0 {
			s.addFree(freeBlock{offset: off, size: h.blockSize})
		}
		off += uint64(h.blockSize)
	}
	return nil
}

// addFree records a free block, merging it with free neighbours.  The caller
// has already written (or is about to write) its header.
func (s *Store) addFree(fb freeBlock) freeBlock {
	var prev freeBlock
	var havePrev bool
	s.byOffset.DescendLessOrEqual(freeBlock{offset: fb.offset - 1}, func(item freeBlock) bool {
		prev, havePrev = item, true
		return false
	})
	if havePrev && prev.offset+uint64(prev.size) == fb.offset && uint64(prev.size)+uint64(fb.size) <= maxBlockSize {
		s.removeFree(prev)
		fb = freeBlock{offset: prev.offset, size: prev.size + fb.size}
	}
	next, ok := s.byOffset.Get(freeBlock{offset: fb.offset + uint64(fb.size)})
	if ok && uint64(next.size)+uint64(fb.size) <= maxBlockSize {
		s.removeFree(next)
		fb.size += next.size
	}
	s.insertFree(fb)
	return fb
}

func (s *Store) insertFree(fb freeBlock) {
	s.bySize.ReplaceOrInsert(fb)
	s.byOffset.ReplaceOrInsert(fb)
	s.freeBytes += uint64(fb.size)
}

// carve takes [off, off+size) out of the free block containing it, leaving
// the pieces on either side free.
func (s *Store) carve(off uint64, size uint32) error {
	var fb freeBlock
	var found bool
	s.byOffset.DescendLessOrEqual(freeBlock{offset: off}, func(item freeBlock) bool {
		fb, found = item, true
		return false
	})
	end := off + uint64(size)
	if !found || fb.offset+uint64(fb.size) < end {
		return nil
	}
	s.removeFree(fb)
	if fb.offset < off {
		before := freeBlock{offset: fb.offset, size: uint32(off - fb.offset)}
		if err := s.writeFreeHeader(before); err != nil {
			return err
		}
		s.insertFree(before)
	}
	if fbEnd := fb.offset + uint64(fb.size); end < fbEnd {
		after := freeBlock{offset: end, size: uint32(fbEnd - end)}
		if err := s.writeFreeHeader(after); err != nil {
			return err
		}
		s.insertFree(after)
	}
	return nil
}

func (s *Store) removeFree(fb freeBlock) {
	s.bySize.Delete(fb)
	s.byOffset.Delete(fb)
	s.freeBytes -= uint64(fb.size)
}

func (s *Store) writeFreeHeader(fb freeBlock) error {
	var hdr [BlockHeaderSize]byte
	freeBlockHeader(fb.size).MarshalTo(hdr[:])
	return s.c.Write(fb.offset, hdr[:])
}

// releaseBlock turns the block at off into free space, trimming the store if
// it ends up at the tail.
func (s *Store) releaseBlock(off uint64, size uint32) error {
	if s.cache != nil {
		s.cache.Remove(off)
	}
	fb := s.addFree(freeBlock{offset: off, size: size})
	if fb.offset+uint64(fb.size) == s.c.Size() {
		s.removeFree(fb)
		return s.c.Collapse(fb.offset, s.c.Size())
	}
	return s.writeFreeHeader(fb)
}

// Share registers another user of the store.  Each user must call Close.
func (s *Store) Share() *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users++
	return s
}

// Users returns the number of tables sharing the store.
func (s *Store) Users() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users
}

// Add stores payload in a new block with a reference count of one.  An empty
// payload yields the zero Handle.
func (s *Store) Add(payload []byte) (Handle, error) {
	if len(payload) == 0 {
		return Handle{}, nil
	}
	if len(payload) > MaxPayload {
		return Handle{}, dberr.New(dberr.InvalidParameters, "value of %d bytes exceeds maximum %d", len(payload), MaxPayload)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	need := blockSizeFor(len(payload))
	off := s.c.Size()
	size := need

	var fit freeBlock
	var found bool
	s.bySize.AscendGreaterOrEqual(freeBlock{size: need}, func(item freeBlock) bool {
		fit, found = item, true
		return false
	})
	if found {
		s.removeFree(fit)
		off = fit.offset
		size = fit.size
		if rest := fit.size - need; rest >= BlockHeaderSize {
			remainder := freeBlock{offset: fit.offset + uint64(need), size: rest}
			if err := s.writeFreeHeader(remainder); err != nil {
				s.addFree(fit)
				return Handle{}, err
			}
			s.addFree(remainder)
			size = need
		}
	}

	block := make([]byte, size)
	blockHeader{
		refCount:   1,
		payloadLen: uint32(len(payload)),
		blockSize:  size,
		checksum:   checksum(payload),
	}.MarshalTo(block)
	copy(block[BlockHeaderSize:], payload)
	if err := s.c.Write(off, block); err != nil {
		return Handle{}, err
	}

	if s.cache != nil {
		s.cache.Add(off, block[BlockHeaderSize:BlockHeaderSize+len(payload)])
	}
	return Handle{Offset: off, Length: uint32(len(payload))}, nil
}

func (s *Store) readHeader(h Handle) (blockHeader, error) {
	if h.Offset < StoreHeaderSize || h.Offset+BlockHeaderSize > s.c.Size() {
		return blockHeader{}, dberr.New(dberr.ValueStoreCorrupted, "handle %d+%d outside store of %d bytes", h.Offset, h.Length, s.c.Size())
	}
	var hdr [BlockHeaderSize]byte
	if err := s.c.Read(h.Offset, hdr[:]); err != nil {
		return blockHeader{}, err
	}
	bh := readBlockHeader(hdr[:])
	if !bh.sane(h.Offset, s.c.Size()) || bh.payloadLen != h.Length {
		return blockHeader{}, dberr.New(dberr.ValueStoreCorrupted, "handle %d+%d does not match block (len %d, size %d)", h.Offset, h.Length, bh.payloadLen, bh.blockSize)
	}
	if bh.refCount == 0 {
		return blockHeader{}, dberr.New(dberr.ValueStoreCorrupted, "handle %d+%d refers to a free block", h.Offset, h.Length)
	}
	return bh, nil
}

// Read returns the payload h refers to.  The returned slice may be shared
// with the store's cache and must not be modified.
func (s *Store) Read(h Handle) ([]byte, error) {
	if h.IsNull() {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cache != nil {
		if payload, ok := s.cache.Get(h.Offset); ok && len(payload) == int(h.Length) {
			return payload, nil
		}
	}
	payload, err := s.readVerified(h)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Add(h.Offset, payload)
	}
	return payload, nil
}

func (s *Store) readVerified(h Handle) ([]byte, error) {
	bh, err := s.readHeader(h)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, h.Length)
	if err := s.c.Read(h.Offset+BlockHeaderSize, payload); err != nil {
		return nil, err
	}
	if sum := checksum(payload); sum != bh.checksum {
		return nil, dberr.New(dberr.ValueStoreCorrupted, "block %d checksum failed (%d != %d)", h.Offset, bh.checksum, sum)
	}
	return payload, nil
}

// ReadUncached is Read without the cache: the payload always comes from the
// container and is checked against its block.
func (s *Store) ReadUncached(h Handle) ([]byte, error) {
	if h.IsNull() {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readVerified(h)
}

func (s *Store) writeRefCount(off uint64, n uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], n)
	return s.c.Write(off+refCountOff, buf[:])
}

// Retain adds a reference to the block h refers to.
func (s *Store) Retain(h Handle) error {
	if h.IsNull() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	bh, err := s.readHeader(h)
	if err != nil {
		return err
	}
	return s.writeRefCount(h.Offset, bh.refCount+1)
}

// Release drops a reference; the last release frees the block.
func (s *Store) Release(h Handle) error {
	if h.IsNull() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	bh, err := s.readHeader(h)
	if err != nil {
		return err
	}
	if bh.refCount > 1 {
		return s.writeRefCount(h.Offset, bh.refCount-1)
	}
	return s.releaseBlock(h.Offset, bh.blockSize)
}

// RefCount returns the reference count of the block h refers to.
func (s *Store) RefCount(h Handle) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bh, err := s.readHeader(h)
	if err != nil {
		return 0, err
	}
	return bh.refCount, nil
}

// Blocks calls fn for every block in store order.
func (s *Store) Blocks(fn func(b Block) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	size := s.c.Size()
	var hdr [BlockHeaderSize]byte
	for off := uint64(StoreHeaderSize); off < size; {
		if err := s.c.Read(off, hdr[:]); err != nil {
			return err
		}
		h := readBlockHeader(hdr[:])
		if !h.sane(off, size) {
			return dberr.New(dberr.ValueStoreCorrupted, "block at %d: size %d", off, h.blockSize)
		}
		if err := fn(Block{Offset: off, RefCount: h.refCount, PayloadLen: h.payloadLen, Size: h.blockSize}); err != nil {
			return err
		}
		off += uint64(h.blockSize)
	}
	return nil
}

// SetRefCount overwrites the reference count of the block at off.  Setting
// it to zero frees the block.
func (s *Store) SetRefCount(off uint64, n uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if off < StoreHeaderSize || off+BlockHeaderSize > s.c.Size() {
		return dberr.New(dberr.InvalidAccessPosition, "no block at %d", off)
	}
	var hdr [BlockHeaderSize]byte
	if err := s.c.Read(off, hdr[:]); err != nil {
		return err
	}
	bh := readBlockHeader(hdr[:])
	switch {
	case bh.refCount == n:
		return nil
	case n == 0:
		return s.releaseBlock(off, bh.blockSize)
	case bh.refCount == 0:
		// a free block coming back to life
		if err := s.carve(off, bh.blockSize); err != nil {
			return err
		}
	}
	return s.writeRefCount(off, n)
}

// Reset drops every block.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cache != nil {
		s.cache.Purge()
	}
	s.bySize.Clear(false)
	s.byOffset.Clear(false)
	s.freeBytes = 0
	return s.c.Collapse(StoreHeaderSize, s.c.Size())
}

// Size is the size of the store including free space.
func (s *Store) Size() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.Size()
}

// FreeBytes is the total size of the free blocks.
func (s *Store) FreeBytes() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freeBytes
}

// NeedsCompaction reports whether free space exceeds the compaction
// threshold.
func (s *Store) NeedsCompaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.threshold <= 0 {
		return false
	}
	data := s.c.Size() - StoreHeaderSize
	return data > 0 && float64(s.freeBytes)/float64(data) > s.threshold
}

func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.Flush()
}

// MarkForRemoval deletes the store's files once the last user closes it.
func (s *Store) MarkForRemoval() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.MarkForRemoval()
}

// Close releases one user; the last one closes the container.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.users == 0 {
		return nil
	}
	s.users--
	if s.users > 0 {
		return nil
	}
	if s.cache != nil {
		s.cache.Purge()
	}
	return s.c.Close()
}
