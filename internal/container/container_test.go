// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package container

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/tabledb/dberr"
)

const kib = 1024

func randomBytes(rng *rand.Rand, n int) []byte {
	b := make([]byte, n)
	_, _ = rng.Read(b)
	return b
}

func checkSegments(t *testing.T, c *Segmented) {
	t.Helper()
	var total uint64
	for i := 0; ; i++ {
		fi, err := os.Stat(SegmentName(c.Path(), i))
		if err != nil {
			break
		}
		total += uint64(fi.Size())
		if i < len(c.files)-1 {
			require.Equal(t, c.maxSegment, uint64(fi.Size()), "segment %d", i)
		}
	}
	require.Equal(t, c.Size(), total)
}

func TestSegmentedLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows")
	c, err := OpenSegmented(path, 512*kib, true)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	data := randomBytes(rng, 512*kib*4+345)
	require.NoError(t, c.Write(0, data))
	require.Equal(t, uint64(len(data)), c.Size())
	require.Equal(t, []uint64{512 * kib, 512 * kib, 512 * kib, 512 * kib, 345}, c.SegmentSizes())
	require.NoError(t, c.Close())

	for i := 0; i < 5; i++ {
		fi, err := os.Stat(SegmentName(path, i))
		require.NoError(t, err)
		if i < 4 {
			assert.Equal(t, int64(512*kib), fi.Size())
		} else {
			assert.Equal(t, int64(345), fi.Size())
		}
	}
	_, err = os.Stat(SegmentName(path, 5))
	require.True(t, os.IsNotExist(err))

	c, err = OpenSegmented(path, 512*kib, false)
	require.NoError(t, err)
	defer c.Close()
	buf := make([]byte, len(data))
	require.NoError(t, c.Read(0, buf))
	require.Equal(t, data, buf)
}

func TestSegmentedRoundTrip(t *testing.T) {
	c, err := OpenSegmented(filepath.Join(t.TempDir(), "c"), 1000, true)
	require.NoError(t, err)
	defer c.Close()

	rng := rand.New(rand.NewSource(2))
	var shadow []byte
	for i := 0; i < 200; i++ {
		pos := rng.Intn(len(shadow) + 1)
		data := randomBytes(rng, rng.Intn(2500))
		require.NoError(t, c.Write(uint64(pos), data))
		if end := pos + len(data); end > len(shadow) {
			shadow = append(shadow, make([]byte, end-len(shadow))...)
		}
		copy(shadow[pos:], data)
		checkSegments(t, c)
	}

	buf := make([]byte, len(shadow))
	require.NoError(t, c.Read(0, buf))
	require.Equal(t, shadow, buf)
}

func TestSegmentedAccessErrors(t *testing.T) {
	c, err := OpenSegmented(filepath.Join(t.TempDir(), "c"), 64, true)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Write(0, []byte("hello")))
	err = c.Write(6, []byte("x"))
	require.True(t, errors.Is(err, dberr.InvalidAccessPosition))
	require.Equal(t, uint64(5), c.Size())

	err = c.Read(3, make([]byte, 3))
	require.True(t, errors.Is(err, dberr.InvalidAccessPosition))

	err = c.Collapse(4, 6)
	require.True(t, errors.Is(err, dberr.InvalidAccessPosition))
}

func TestSegmentedCollapse(t *testing.T) {
	c, err := OpenSegmented(filepath.Join(t.TempDir(), "c"), 4096, true)
	require.NoError(t, err)
	defer c.Close()

	rng := rand.New(rand.NewSource(3))
	shadow := randomBytes(rng, 4096*5+17)
	require.NoError(t, c.Write(0, shadow))

	for _, r := range [][2]int{{10, 20}, {0, 4096}, {4000, 9000}, {100, 100}, {5000, 5100}} {
		before := c.Size()
		require.NoError(t, c.Collapse(uint64(r[0]), uint64(r[1])))
		require.Equal(t, before-uint64(r[1]-r[0]), c.Size())
		shadow = append(shadow[:r[0]], shadow[r[1]:]...)
		checkSegments(t, c)

		buf := make([]byte, len(shadow))
		require.NoError(t, c.Read(0, buf))
		require.Equal(t, shadow, buf)
	}

	require.NoError(t, c.Collapse(0, c.Size()))
	require.Equal(t, uint64(0), c.Size())
	require.Len(t, c.files, 1)
}

func TestSegmentedOpenValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c")
	c, err := OpenSegmented(path, 100, true)
	require.NoError(t, err)
	require.NoError(t, c.Write(0, make([]byte, 250)))
	require.NoError(t, c.Close())

	// a short middle segment
	require.NoError(t, os.Truncate(SegmentName(path, 1), 99))
	_, err = OpenSegmented(path, 100, false)
	require.True(t, errors.Is(err, dberr.ContainerInvalid))

	// opening with a smaller segment size than the files were written with
	require.NoError(t, os.Truncate(SegmentName(path, 1), 100))
	_, err = OpenSegmented(path, 50, false)
	require.True(t, errors.Is(err, dberr.ContainerInvalid))

	c, err = OpenSegmented(path, 100, false)
	require.NoError(t, err)
	require.Equal(t, uint64(250), c.Size())
	require.NoError(t, c.Close())

	_, err = OpenSegmented(filepath.Join(t.TempDir(), "missing"), 100, false)
	require.True(t, errors.Is(err, dberr.FileIO))
}

func TestSegmentedFailedExtendLeavesNoSegment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c")
	c, err := OpenSegmented(path, 100, true)
	require.NoError(t, err)
	require.NoError(t, c.Write(0, make([]byte, 100)))

	saved := openSegment
	defer func() { openSegment = saved }()
	openSegment = func(name string) (*os.File, error) {
		return os.OpenFile(name, os.O_RDONLY|os.O_CREATE|os.O_TRUNC, 0644)
	}
	err = c.Write(100, []byte("next"))
	require.True(t, errors.Is(err, dberr.FileIO), "%v", err)
	require.Equal(t, uint64(100), c.Size())
	require.Len(t, c.files, 1)
	_, err = os.Stat(SegmentName(path, 1))
	require.True(t, oserror.IsNotExist(err), "%v", err)
	require.NoError(t, c.Close())

	openSegment = saved
	c, err = OpenSegmented(path, 100, false)
	require.NoError(t, err)
	require.Equal(t, uint64(100), c.Size())
	require.NoError(t, c.Write(100, []byte("next")))
	checkSegments(t, c)
	require.NoError(t, c.Close())
}

func TestTempRemoval(t *testing.T) {
	dir := t.TempDir()
	names := NewNameGenerator()
	a, err := NewTemp(names, dir, 10)
	require.NoError(t, err)
	b, err := NewTemp(names, dir, 10)
	require.NoError(t, err)
	require.NotEqual(t, a.Path(), b.Path())

	require.NoError(t, a.Write(0, make([]byte, 35)))
	require.NoError(t, a.Close())
	require.NoError(t, b.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestBufferedSpill(t *testing.T) {
	dir := t.TempDir()
	names := NewNameGenerator()
	spills := 0
	b := NewMemory(256, 2, func() (Container, error) {
		spills++
		return NewTemp(names, dir, 1000)
	})

	rng := rand.New(rand.NewSource(4))
	var shadow []byte
	for i := 0; i < 300; i++ {
		pos := rng.Intn(len(shadow) + 1)
		data := randomBytes(rng, rng.Intn(300))
		require.NoError(t, b.Write(uint64(pos), data))
		if end := pos + len(data); end > len(shadow) {
			shadow = append(shadow, make([]byte, end-len(shadow))...)
		}
		copy(shadow[pos:], data)
		require.Equal(t, uint64(len(shadow)), b.Size())

		if i%7 == 0 && len(shadow) > 0 {
			from := rng.Intn(len(shadow))
			to := from + rng.Intn(len(shadow)-from+1)
			require.NoError(t, b.Collapse(uint64(from), uint64(to)))
			shadow = append(shadow[:from], shadow[to:]...)
		}

		buf := make([]byte, len(shadow))
		require.NoError(t, b.Read(0, buf))
		require.Equal(t, shadow, buf)
	}
	require.True(t, b.Spilled())
	require.Equal(t, 1, spills)

	b.MarkForRemoval()
	require.NoError(t, b.Close())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestBufferedMemoryOnly(t *testing.T) {
	b := NewMemory(64, 4, nil)
	require.NoError(t, b.Write(0, []byte("abcdefgh")))
	require.NoError(t, b.Collapse(2, 4))
	buf := make([]byte, 6)
	require.NoError(t, b.Read(0, buf))
	require.Equal(t, "abefgh", string(buf))
	require.False(t, b.Spilled())

	err := b.Write(0, make([]byte, 257))
	require.True(t, errors.Is(err, dberr.GeneralControl))
	require.NoError(t, b.Close())
}

func TestCachedPersistsOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cached")
	seg, err := OpenSegmented(path, 300, true)
	require.NoError(t, err)
	c := NewCached(seg, 128, 3)

	rng := rand.New(rand.NewSource(5))
	data := randomBytes(rng, 2000)
	// write out of order: the tail first, then fill the head.
	require.NoError(t, c.Write(0, data[:1000]))
	require.NoError(t, c.Write(500, data[500:2000]))
	require.NoError(t, c.Write(0, data[:500]))
	require.NoError(t, c.Close())

	seg, err = OpenSegmented(path, 300, false)
	require.NoError(t, err)
	defer seg.Close()
	checkSegments(t, seg)
	buf := make([]byte, 2000)
	require.NoError(t, seg.Read(0, buf))
	require.Equal(t, data, buf)
}
