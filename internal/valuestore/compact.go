// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package valuestore

import (
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/bpowers/tabledb/dberr"
)

// RelocateFunc rewrites every handle that refers to the block at from so it
// refers to the block at to.  It is called once per moved block, after the
// block has been copied.
type RelocateFunc func(from, to uint64) error

// ProgressFunc is told how many bytes of the store have been walked.
// Returning an error stops the walk.
type ProgressFunc func(done, total uint64) error

// Compact slides live blocks towards the start of the store, squeezing out
// free space, and shrinks the container.  The store must not be shared.
//
// If progress returns an error the walk stops; the space not yet reclaimed
// becomes a single free block, so the store stays valid and a later Compact
// picks up where this one stopped.
func (s *Store) Compact(relocate RelocateFunc, progress ProgressFunc) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.users > 1 {
		return dberr.New(dberr.TableInUse, "value store shared by %d tables", s.users)
	}

	start := time.Now()
	s.logger.Info("compacting value store", slog.Uint64("size", s.c.Size()), slog.Uint64("free", s.freeBytes))
	defer func() {
		s.metrics.ObserveCompaction(time.Since(start), err)
		s.logger.Info("value store compaction finished",
			slog.Uint64("size", s.c.Size()),
			slog.Duration("elapsed", time.Since(start)),
			slog.Any("err", err))
	}()

	size := s.c.Size()
	total := size - StoreHeaderSize
	dst := uint64(StoreHeaderSize)
	var hdr [BlockHeaderSize]byte
	var block []byte

	for src := uint64(StoreHeaderSize); src < size; {
		if progress != nil {
			if perr := progress(src-StoreHeaderSize, total); perr != nil {
				return s.stopCompaction(dst, src, perr)
			}
		}

		if err := s.c.Read(src, hdr[:]); err != nil {
			return err
		}
		h := readBlockHeader(hdr[:])
		if !h.sane(src, size) {
			return dberr.New(dberr.ValueStoreCorrupted, "block at %d: size %d", src, h.blockSize)
		}
		if h.refCount == 0 {
			src += uint64(h.blockSize)
			continue
		}

		// only the used part of a live block moves; the slack is dropped
		used := blockSizeFor(int(h.payloadLen))
		if src != dst || used != h.blockSize {
			if cap(block) < int(used) {
				block = make([]byte, used)
			}
			block = block[:used]
			if err := s.c.Read(src, block); err != nil {
				return err
			}
			h.blockSize = used
			h.MarshalTo(block)
			if err := s.c.Write(dst, block); err != nil {
				return err
			}
			if src != dst {
				if err := relocate(src, dst); err != nil {
					return errors.Wrapf(err, "relocate block %d to %d", src, dst)
				}
				if s.cache != nil {
					if payload, ok := s.cache.Peek(src); ok {
						s.cache.Remove(src)
						s.cache.Add(dst, payload)
					}
				}
			}
		}
		dst += uint64(used)
		src += uint64(readBlockHeader(hdr[:]).blockSize)
	}

	if progress != nil {
		if perr := progress(total, total); perr != nil {
			return s.stopCompaction(dst, size, perr)
		}
	}

	s.bySize.Clear(false)
	s.byOffset.Clear(false)
	s.freeBytes = 0
	if dst < size {
		return s.c.Collapse(dst, size)
	}
	return nil
}

// stopCompaction turns the gap between the compacted prefix and the rest of
// the store into one free block and rebuilds the free lists.
func (s *Store) stopCompaction(dst, src uint64, cause error) error {
	if src > dst {
		if src == s.c.Size() {
			if err := s.c.Collapse(dst, src); err != nil {
				return errors.CombineErrors(cause, err)
			}
		} else if err := s.writeFreeRange(dst, src); err != nil {
			return errors.CombineErrors(cause, err)
		}
	}
	if err := s.scan(); err != nil {
		return errors.CombineErrors(cause, err)
	}
	return cause
}

// writeFreeRange covers [from, to) with free block headers.
func (s *Store) writeFreeRange(from, to uint64) error {
	for from < to {
		n := min(to-from, maxBlockSize)
		if err := s.writeFreeHeader(freeBlock{offset: from, size: uint32(n)}); err != nil {
			return err
		}
		from += n
	}
	return nil
}
