// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package container

import (
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"

	"github.com/bpowers/tabledb/dberr"
)

const collapseChunkSize = 64 * 1024

// Segmented is a container stored in one or more files.  Segment i is the
// file `path` for i == 0 and `path<i>` afterwards; every segment but the last
// holds exactly maxSegmentSize bytes.
type Segmented struct {
	path       string
	maxSegment uint64
	files      []*os.File
	size       uint64
	remove     bool
	closed     bool
}

var _ Container = &Segmented{}

// SegmentName returns the file name of segment i of the container at path.
func SegmentName(path string, i int) string {
	if i == 0 {
		return path
	}
	return path + strconv.Itoa(i)
}

// OpenSegmented opens the container at path.  With create set any existing
// segments are discarded and an empty container is returned.  Opening checks
// that the segment sizes are consistent with maxSegmentSize.
func OpenSegmented(path string, maxSegmentSize uint64, create bool) (*Segmented, error) {
	if maxSegmentSize == 0 {
		return nil, dberr.New(dberr.InvalidParameters, "max segment size of 0")
	}
	c := &Segmented{
		path:       path,
		maxSegment: maxSegmentSize,
	}
	if create {
		if err := RemoveSegments(path); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
		if err != nil {
			return nil, dberr.Wrap(err, dberr.FileIO, "create %s", path)
		}
		c.files = []*os.File{f}
		return c, nil
	}

	for i := 0; ; i++ {
		name := SegmentName(path, i)
		f, err := os.OpenFile(name, os.O_RDWR, 0)
		if err != nil {
			if oserror.IsNotExist(err) && i > 0 {
				break
			}
			c.closeFiles()
			return nil, dberr.Wrap(err, dberr.FileIO, "open %s", name)
		}
		c.files = append(c.files, f)
	}

	if err := c.validate(); err != nil {
		c.closeFiles()
		return nil, err
	}
	return c, nil
}

func (c *Segmented) validate() error {
	var total uint64
	last := len(c.files) - 1
	for i, f := range c.files {
		fi, err := f.Stat()
		if err != nil {
			return dberr.Wrap(err, dberr.FileIO, "stat %s", f.Name())
		}
		sz := uint64(fi.Size())
		if i < last && sz != c.maxSegment {
			return dberr.New(dberr.ContainerInvalid, "segment %s has %d bytes, expected %d", f.Name(), sz, c.maxSegment)
		}
		if i == last && (sz > c.maxSegment || (sz == 0 && i > 0)) {
			return dberr.New(dberr.ContainerInvalid, "last segment %s has %d bytes (max %d)", f.Name(), sz, c.maxSegment)
		}
		total += sz
	}
	c.size = total
	return nil
}

// RemoveSegments deletes every segment file of the container at path.
func RemoveSegments(path string) error {
	for i := 0; ; i++ {
		err := os.Remove(SegmentName(path, i))
		if err != nil {
			if oserror.IsNotExist(err) {
				return nil
			}
			return dberr.Wrap(err, dberr.FileIO, "remove %s", SegmentName(path, i))
		}
	}
}

// Exists reports whether the primary segment of the container at path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (c *Segmented) Path() string {
	return c.path
}

func (c *Segmented) Size() uint64 {
	return c.size
}

// SegmentSizes returns the current size of every segment file.
func (c *Segmented) SegmentSizes() []uint64 {
	sizes := make([]uint64, len(c.files))
	rest := c.size
	for i := range sizes {
		sizes[i] = min(rest, c.maxSegment)
		rest -= sizes[i]
	}
	return sizes
}

var openSegment = func(name string) (*os.File, error) {
	return os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
}

// extend adds the next (empty) segment file.
func (c *Segmented) extend() error {
	name := SegmentName(c.path, len(c.files))
	f, err := openSegment(name)
	if err != nil {
		return dberr.Wrap(err, dberr.FileIO, "create segment %s", name)
	}
	c.files = append(c.files, f)
	return nil
}

func (c *Segmented) Write(pos uint64, data []byte) error {
	if c.closed {
		return dberr.New(dberr.GeneralControl, "write to closed container %s", c.path)
	}
	if pos > c.size {
		return dberr.New(dberr.InvalidAccessPosition, "write at %d past end %d of %s", pos, c.size, c.path)
	}
	for len(data) > 0 {
		seg := int(pos / c.maxSegment)
		off := pos % c.maxSegment
		extended := seg == len(c.files)
		if extended {
			// only reachable when pos == c.size and the last segment is full
			if err := c.extend(); err != nil {
				return err
			}
		}
		n := min(uint64(len(data)), c.maxSegment-off)
		if _, err := c.files[seg].WriteAt(data[:n], int64(off)); err != nil {
			err = dberr.Wrap(err, dberr.FileIO, "write %s", c.files[seg].Name())
			if extended {
				// an empty trailing segment would fail validation on open
				err = errors.CombineErrors(err, c.dropLast())
			}
			return err
		}
		pos += n
		data = data[n:]
		if pos > c.size {
			c.size = pos
		}
	}
	return nil
}

// dropLast closes and removes the last segment file.
func (c *Segmented) dropLast() error {
	last := len(c.files) - 1
	f := c.files[last]
	c.files = c.files[:last]
	_ = f.Close()
	if err := os.Remove(f.Name()); err != nil {
		return dberr.Wrap(err, dberr.FileIO, "remove segment %s", f.Name())
	}
	return nil
}

func (c *Segmented) Read(pos uint64, buf []byte) error {
	if c.closed {
		return dberr.New(dberr.GeneralControl, "read from closed container %s", c.path)
	}
	if pos+uint64(len(buf)) > c.size || pos+uint64(len(buf)) < pos {
		return dberr.New(dberr.InvalidAccessPosition, "read [%d, %d) past end %d of %s", pos, pos+uint64(len(buf)), c.size, c.path)
	}
	for len(buf) > 0 {
		seg := int(pos / c.maxSegment)
		off := pos % c.maxSegment
		n := min(uint64(len(buf)), c.maxSegment-off)
		if _, err := c.files[seg].ReadAt(buf[:n], int64(off)); err != nil {
			return dberr.Wrap(err, dberr.FileIO, "read %s", c.files[seg].Name())
		}
		pos += n
		buf = buf[n:]
	}
	return nil
}

func (c *Segmented) Collapse(from, to uint64) error {
	if from > to || to > c.size {
		return dberr.New(dberr.InvalidAccessPosition, "collapse [%d, %d) of %d bytes", from, to, c.size)
	}
	if from == to {
		return nil
	}

	buf := make([]byte, min(collapseChunkSize, c.size-to))
	dst := from
	for src := to; src < c.size; {
		n := min(uint64(len(buf)), c.size-src)
		if err := c.Read(src, buf[:n]); err != nil {
			return err
		}
		if err := c.Write(dst, buf[:n]); err != nil {
			return err
		}
		src += n
		dst += n
	}
	return c.truncate(c.size - (to - from))
}

func (c *Segmented) truncate(newSize uint64) error {
	count := int((newSize + c.maxSegment - 1) / c.maxSegment)
	if count == 0 {
		count = 1
	}
	for i := len(c.files) - 1; i >= count; i-- {
		name := c.files[i].Name()
		_ = c.files[i].Close()
		if err := os.Remove(name); err != nil {
			return dberr.Wrap(err, dberr.FileIO, "remove segment %s", name)
		}
	}
	c.files = c.files[:count]

	lastSize := newSize - uint64(count-1)*c.maxSegment
	if err := c.files[count-1].Truncate(int64(lastSize)); err != nil {
		return dberr.Wrap(err, dberr.FileIO, "truncate %s", c.files[count-1].Name())
	}
	c.size = newSize
	return nil
}

func (c *Segmented) MarkForRemoval() {
	c.remove = true
}

func (c *Segmented) Flush() error {
	if c.closed {
		return nil
	}
	for _, f := range c.files {
		if err := f.Sync(); err != nil {
			return dberr.Wrap(err, dberr.FileIO, "sync %s", f.Name())
		}
	}
	return nil
}

func (c *Segmented) closeFiles() {
	for _, f := range c.files {
		_ = f.Close()
	}
}

func (c *Segmented) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	var err error
	for _, f := range c.files {
		err = errors.CombineErrors(err, f.Close())
	}
	if c.remove {
		err = errors.CombineErrors(err, RemoveSegments(c.path))
	}
	return err
}
