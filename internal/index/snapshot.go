// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package index

import (
	"encoding/binary"

	"github.com/dgryski/go-farm"

	"github.com/bpowers/tabledb/dberr"
	"github.com/bpowers/tabledb/field"
	"github.com/bpowers/tabledb/internal/container"
)

const (
	magicIndexHeader  = 0xC0FFEE1E
	fileFormatVersion = 1
	fileHeaderSize    = 32

	maxSnapshotSize = 1 << 40
)

func writeFileHeader(buf []byte, d field.Descriptor, count, generation uint64, body []byte) {
	_ = buf[fileHeaderSize-1]
	clear(buf[:fileHeaderSize])
	binary.LittleEndian.PutUint32(buf[0:4], magicIndexHeader)
	binary.LittleEndian.PutUint32(buf[4:8], fileFormatVersion)
	buf[8] = byte(d.Type)
	binary.LittleEndian.PutUint64(buf[12:20], count)
	binary.LittleEndian.PutUint64(buf[20:28], generation)
	binary.LittleEndian.PutUint32(buf[28:32], uint32(farm.Hash64(body)))
}

// WriteTo replaces the contents of c with a snapshot of the index, stamped
// with generation.
func (x *FieldIndex) WriteTo(c container.Container, generation uint64) error {
	buf := make([]byte, fileHeaderSize, fileHeaderSize+x.Len()*16)
	x.tree.Ascend(func(e Entry) bool {
		buf = binary.LittleEndian.AppendUint64(buf, e.Row)
		buf = field.AppendBinary(buf, e.Value)
		return true
	})
	writeFileHeader(buf, x.desc, uint64(x.Len()), generation, buf[fileHeaderSize:])

	if c.Size() > 0 {
		if err := c.Collapse(0, c.Size()); err != nil {
			return err
		}
	}
	if err := c.Write(0, buf); err != nil {
		return err
	}
	return c.Flush()
}

// Load reads a snapshot written by WriteTo.  A snapshot with a different
// generation, or one that fails its checksum, is reported as
// dberr.IndexCorrupted so the caller can rebuild from the table.
func Load(c container.Container, d field.Descriptor, generation uint64) (*FieldIndex, error) {
	size := c.Size()
	if size < fileHeaderSize || size > maxSnapshotSize {
		return nil, dberr.New(dberr.IndexCorrupted, "index snapshot of %d bytes", size)
	}
	buf := make([]byte, size)
	if err := c.Read(0, buf); err != nil {
		return nil, err
	}

	if magic := binary.LittleEndian.Uint32(buf[0:4]); magic != magicIndexHeader {
		return nil, dberr.New(dberr.IndexCorrupted, "bad magic number on index snapshot (%x)", magic)
	}
	if version := binary.LittleEndian.Uint32(buf[4:8]); version != fileFormatVersion {
		return nil, dberr.New(dberr.IndexCorrupted, "can only read v%d index snapshots; found v%d", fileFormatVersion, version)
	}
	if t := field.Type(buf[8]); t != d.Type {
		return nil, dberr.New(dberr.IndexCorrupted, "snapshot indexes %s, field is %s", t, d.Type)
	}
	count := binary.LittleEndian.Uint64(buf[12:20])
	if gen := binary.LittleEndian.Uint64(buf[20:28]); gen != generation {
		return nil, dberr.New(dberr.IndexCorrupted, "stale index snapshot: generation %d, table at %d", gen, generation)
	}
	body := buf[fileHeaderSize:]
	if sum := uint32(farm.Hash64(body)); sum != binary.LittleEndian.Uint32(buf[28:32]) {
		return nil, dberr.New(dberr.IndexCorrupted, "index snapshot checksum failed")
	}

	x, err := New(d)
	if err != nil {
		return nil, err
	}
	var prev Entry
	for i := uint64(0); i < count; i++ {
		if len(body) < 8 {
			return nil, dberr.New(dberr.IndexCorrupted, "index snapshot truncated at entry %d of %d", i, count)
		}
		e := Entry{Row: binary.LittleEndian.Uint64(body)}
		v, n, err := field.ReadBinary(d, body[8:])
		if err != nil {
			return nil, dberr.Wrap(err, dberr.IndexCorrupted, "index snapshot entry %d", i)
		}
		e.Value = v
		body = body[8+n:]
		if i > 0 && !lessEntry(prev, e) {
			return nil, dberr.New(dberr.IndexCorrupted, "index snapshot out of order at entry %d", i)
		}
		x.tree.ReplaceOrInsert(e)
		prev = e
	}
	if len(body) != 0 {
		return nil, dberr.New(dberr.IndexCorrupted, "%d trailing bytes in index snapshot", len(body))
	}
	return x, nil
}
