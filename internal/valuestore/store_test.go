// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package valuestore

import (
	"bytes"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/tabledb/dberr"
	"github.com/bpowers/tabledb/internal/container"
)

func newMemStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Create(container.NewMemory(4096, 16, nil), opts...)
	require.NoError(t, err)
	return s
}

func TestStoreHeaderRoundTrip(t *testing.T) {
	h := newStoreHeader()
	err := h.MarshalTo(nil)
	assert.Error(t, err)

	buf := make([]byte, StoreHeaderSize)
	var h2 storeHeader
	// missing magic number
	assert.Error(t, h2.UnmarshalBytes(buf))

	require.NoError(t, h.MarshalTo(buf))
	require.NoError(t, h2.UnmarshalBytes(buf))
	assert.Equal(t, *h, h2)

	h.formatVersion = 666
	require.NoError(t, h.MarshalTo(buf))
	assert.Error(t, h2.UnmarshalBytes(buf))
}

func TestHandleEncoding(t *testing.T) {
	var buf [HandleSize]byte
	h := Handle{Offset: 1 << 40, Length: 77}
	h.MarshalTo(buf[:])
	require.Equal(t, h, HandleFromBytes(buf[:]))
	require.True(t, Handle{}.IsNull())
}

func TestAddRead(t *testing.T) {
	s := newMemStore(t)
	defer s.Close()

	h, err := s.Add(nil)
	require.NoError(t, err)
	require.True(t, h.IsNull())
	payload, err := s.Read(h)
	require.NoError(t, err)
	require.Nil(t, payload)

	handles := make(map[string]Handle)
	for i := 0; i < 100; i++ {
		v := fmt.Sprintf("value %d %s", i, bytes.Repeat([]byte{'x'}, i))
		h, err := s.Add([]byte(v))
		require.NoError(t, err)
		handles[v] = h
	}
	for v, h := range handles {
		payload, err := s.Read(h)
		require.NoError(t, err)
		require.Equal(t, v, string(payload))
		payload, err = s.ReadUncached(h)
		require.NoError(t, err)
		require.Equal(t, v, string(payload))
	}

	// a handle with the wrong length is rejected
	for _, h := range handles {
		_, err := s.Read(Handle{Offset: h.Offset, Length: h.Length + 1})
		require.True(t, errors.Is(err, dberr.ValueStoreCorrupted))
		break
	}
	_, err = s.Read(Handle{Offset: 1 << 30, Length: 3})
	require.True(t, errors.Is(err, dberr.ValueStoreCorrupted))
}

func TestReleaseReuse(t *testing.T) {
	s := newMemStore(t, WithCacheSize(0))
	defer s.Close()

	a, err := s.Add(bytes.Repeat([]byte{'a'}, 100))
	require.NoError(t, err)
	b, err := s.Add(bytes.Repeat([]byte{'b'}, 100))
	require.NoError(t, err)
	c, err := s.Add([]byte("tail"))
	require.NoError(t, err)

	require.NoError(t, s.Retain(a))
	n, err := s.RefCount(a)
	require.NoError(t, err)
	require.Equal(t, uint32(2), n)

	require.NoError(t, s.Release(a))
	require.Equal(t, uint64(0), s.FreeBytes())
	require.NoError(t, s.Release(a))
	require.Equal(t, uint64(blockSizeFor(100)), s.FreeBytes())

	// the freed block is reused by a smaller value, and the remainder split off
	small, err := s.Add([]byte("small"))
	require.NoError(t, err)
	require.Equal(t, a.Offset, small.Offset)
	require.Equal(t, uint64(blockSizeFor(100)-blockSizeFor(5)), s.FreeBytes())

	// releasing b merges it with the remainder of a
	require.NoError(t, s.Release(b))
	require.Equal(t, uint64(2*blockSizeFor(100)-blockSizeFor(5)), s.FreeBytes())
	big, err := s.Add(bytes.Repeat([]byte{'B'}, 150))
	require.NoError(t, err)
	require.Equal(t, small.Offset+uint64(blockSizeFor(5)), big.Offset)

	payload, err := s.Read(c)
	require.NoError(t, err)
	require.Equal(t, "tail", string(payload))

	// releasing the last block shrinks the store, taking free space before
	// it along
	require.NoError(t, s.Release(c))
	require.Equal(t, big.Offset+uint64(blockSizeFor(150)), s.Size())
	require.Equal(t, uint64(0), s.FreeBytes())

	_, err = s.Read(a)
	require.Error(t, err)
}

func TestPersistentReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "values")
	seg, err := container.OpenSegmented(path, 1000, true)
	require.NoError(t, err)
	s, err := Create(container.NewCached(seg, 256, 4))
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	var handles []Handle
	var values [][]byte
	for i := 0; i < 50; i++ {
		v := make([]byte, 1+rng.Intn(300))
		_, _ = rng.Read(v)
		h, err := s.Add(v)
		require.NoError(t, err)
		handles = append(handles, h)
		values = append(values, v)
	}
	for i := 0; i < 50; i += 3 {
		require.NoError(t, s.Release(handles[i]))
	}
	free := s.FreeBytes()
	require.NoError(t, s.Close())

	seg, err = container.OpenSegmented(path, 1000, false)
	require.NoError(t, err)
	s, err = Open(seg)
	require.NoError(t, err)
	defer s.Close()
	require.Equal(t, free, s.FreeBytes())
	for i, h := range handles {
		if i%3 == 0 {
			continue
		}
		payload, err := s.Read(h)
		require.NoError(t, err)
		require.Equal(t, values[i], payload)
	}
}

func TestCorruptChecksum(t *testing.T) {
	c := container.NewMemory(4096, 4, nil)
	s, err := Create(c, WithCacheSize(0))
	require.NoError(t, err)
	h, err := s.Add([]byte("hello"))
	require.NoError(t, err)

	require.NoError(t, c.Write(h.Offset+BlockHeaderSize, []byte("j")))
	_, err = s.Read(h)
	require.True(t, errors.Is(err, dberr.ValueStoreCorrupted))
	_, err = s.ReadUncached(h)
	require.True(t, errors.Is(err, dberr.ValueStoreCorrupted))
}

func TestOpenCorruptChain(t *testing.T) {
	c := container.NewMemory(4096, 4, nil)
	s, err := Create(c)
	require.NoError(t, err)
	a, err := s.Add([]byte("first"))
	require.NoError(t, err)
	b, err := s.Add([]byte("second"))
	require.NoError(t, err)

	// clobber the size of the second block
	require.NoError(t, c.Write(b.Offset+blockSizeOff, []byte{3, 0, 0, 0}))

	_, err = Open(c)
	require.True(t, errors.Is(err, dberr.ValueStoreCorrupted))

	var reported []uint64
	s, err = Open(c, WithCorruptionHandler(func(off uint64, err error) {
		reported = append(reported, off)
	}))
	require.NoError(t, err)
	require.Equal(t, []uint64{b.Offset}, reported)
	require.Equal(t, b.Offset, s.Size())
	payload, err := s.Read(a)
	require.NoError(t, err)
	require.Equal(t, "first", string(payload))
}

func TestCompact(t *testing.T) {
	s := newMemStore(t)
	defer s.Close()

	type entry struct {
		h Handle
		v string
	}
	var all []*entry
	for i := 0; i < 200; i++ {
		v := fmt.Sprintf("%03d:%s", i, bytes.Repeat([]byte{byte('a' + i%26)}, i%40))
		h, err := s.Add([]byte(v))
		require.NoError(t, err)
		all = append(all, &entry{h, v})
	}
	var live []*entry
	for i, e := range all {
		if i%2 == 0 {
			require.NoError(t, s.Release(e.h))
			continue
		}
		live = append(live, e)
	}
	require.Greater(t, s.FreeBytes(), uint64(0))

	byOffset := make(map[uint64]*entry)
	for _, e := range live {
		byOffset[e.h.Offset] = e
	}
	relocate := func(from, to uint64) error {
		e, ok := byOffset[from]
		if !ok {
			return fmt.Errorf("unknown block %d", from)
		}
		delete(byOffset, from)
		e.h.Offset = to
		byOffset[to] = e
		return nil
	}

	require.NoError(t, s.Compact(relocate, nil))
	require.Equal(t, uint64(0), s.FreeBytes())
	require.False(t, s.NeedsCompaction())

	var used uint64
	for _, e := range live {
		payload, err := s.Read(e.h)
		require.NoError(t, err)
		require.Equal(t, e.v, string(payload))
		used += uint64(blockSizeFor(len(e.v)))
	}
	require.Equal(t, StoreHeaderSize+used, s.Size())
}

func TestCompactResumes(t *testing.T) {
	s := newMemStore(t, WithCacheSize(0))
	defer s.Close()

	var handles []Handle
	for i := 0; i < 100; i++ {
		h, err := s.Add([]byte(fmt.Sprintf("value-%d", i)))
		require.NoError(t, err)
		handles = append(handles, h)
	}
	for i := 0; i < 100; i += 2 {
		require.NoError(t, s.Release(handles[i]))
		handles[i] = Handle{}
	}

	index := make(map[uint64]int)
	for i, h := range handles {
		if !h.IsNull() {
			index[h.Offset] = i
		}
	}
	relocate := func(from, to uint64) error {
		i := index[from]
		delete(index, from)
		handles[i].Offset = to
		index[to] = i
		return nil
	}

	stop := errors.New("stop")
	calls := 0
	err := s.Compact(relocate, func(done, total uint64) error {
		calls++
		if calls == 40 {
			return stop
		}
		return nil
	})
	require.True(t, errors.Is(err, stop))
	require.Greater(t, s.FreeBytes(), uint64(0))

	check := func() {
		for i, h := range handles {
			if h.IsNull() {
				continue
			}
			payload, err := s.Read(h)
			require.NoError(t, err)
			require.Equal(t, fmt.Sprintf("value-%d", i), string(payload))
		}
	}
	check()

	// the store is still a valid chain
	require.NoError(t, s.Blocks(func(Block) error { return nil }))

	require.NoError(t, s.Compact(relocate, nil))
	require.Equal(t, uint64(0), s.FreeBytes())
	check()
}

func TestCompactRequiresExclusiveStore(t *testing.T) {
	s := newMemStore(t)
	s.Share()
	err := s.Compact(func(from, to uint64) error { return nil }, nil)
	require.True(t, errors.Is(err, dberr.TableInUse))
	require.NoError(t, s.Close())
	require.Equal(t, 1, s.Users())
	require.NoError(t, s.Compact(func(from, to uint64) error { return nil }, nil))
	require.NoError(t, s.Close())
}

func TestSetRefCount(t *testing.T) {
	s := newMemStore(t)
	defer s.Close()

	a, err := s.Add([]byte("aaaa"))
	require.NoError(t, err)
	b, err := s.Add([]byte("bbbb"))
	require.NoError(t, err)

	var blocks []Block
	require.NoError(t, s.Blocks(func(blk Block) error {
		blocks = append(blocks, blk)
		return nil
	}))
	require.Len(t, blocks, 2)
	require.Equal(t, uint32(1), blocks[0].RefCount)

	require.NoError(t, s.SetRefCount(a.Offset, 3))
	n, err := s.RefCount(a)
	require.NoError(t, err)
	require.Equal(t, uint32(3), n)

	require.NoError(t, s.SetRefCount(a.Offset, 0))
	require.Equal(t, uint64(blockSizeFor(4)), s.FreeBytes())
	_, err = s.Read(b)
	require.NoError(t, err)

	require.NoError(t, s.Reset())
	require.Equal(t, uint64(StoreHeaderSize), s.Size())
}
