// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package table

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/dgryski/go-farm"

	"github.com/bpowers/tabledb/dberr"
	"github.com/bpowers/tabledb/field"
)

const (
	magicTableHeader  = 0xC0FFEE7B
	fileFormatVersion = 1

	// fixedHeaderSize is the part of the header in front of the field
	// descriptors.
	fixedHeaderSize = 64

	flagDirty = 1 << 0

	descFlagArray   = 1 << 0
	descFlagIndexed = 1 << 1

	maxFields = 1 << 12
)

// fileHeader is stored at the start of a persistent table's row container;
// rows follow it.
type fileHeader struct {
	magic          uint32
	formatVersion  uint32
	headerSize     uint32
	rowSize        uint32
	flags          uint32
	rowsCount      uint64
	maxSegmentSize uint64
	generation     uint64
	fields         []field.Descriptor
	indexed        []bool
}

func newFileHeader(l *layout, maxSegmentSize uint64) *fileHeader {
	h := &fileHeader{
		magic:          magicTableHeader,
		formatVersion:  fileFormatVersion,
		rowSize:        uint32(l.rowSize),
		maxSegmentSize: maxSegmentSize,
		fields:         l.fields,
		indexed:        make([]bool, len(l.fields)),
	}
	h.headerSize = uint32(headerSizeFor(l.fields))
	return h
}

func headerSizeFor(fields []field.Descriptor) int {
	n := fixedHeaderSize
	for _, d := range fields {
		// name length + name + type + flags + slot offset
		n += 1 + len(d.Name) + 1 + 1 + 4
	}
	return (n + 7) / 8 * 8
}

func (h *fileHeader) dirty() bool {
	return h.flags&flagDirty != 0
}

func (h *fileHeader) setDirty(dirty bool) {
	if dirty {
		h.flags |= flagDirty
	} else {
		h.flags &^= flagDirty
	}
}

func (h *fileHeader) descriptorBytes() []byte {
	l := newLayout(h.fields)
	var buf []byte
	for i, d := range h.fields {
		buf = append(buf, byte(len(d.Name)))
		buf = append(buf, d.Name...)
		buf = append(buf, byte(d.Type))
		var flags byte
		if d.Array {
			flags |= descFlagArray
		}
		if h.indexed[i] {
			flags |= descFlagIndexed
		}
		buf = append(buf, flags)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(l.offsets[i]))
	}
	return buf
}

// MarshalBinary returns the full headerSize bytes of the header.
func (h *fileHeader) MarshalBinary() []byte {
	buf := make([]byte, h.headerSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.formatVersion)
	binary.LittleEndian.PutUint32(buf[8:12], h.headerSize)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(h.fields)))
	binary.LittleEndian.PutUint32(buf[16:20], h.rowSize)
	binary.LittleEndian.PutUint32(buf[20:24], h.flags)
	binary.LittleEndian.PutUint64(buf[24:32], h.rowsCount)
	binary.LittleEndian.PutUint64(buf[32:40], h.maxSegmentSize)
	binary.LittleEndian.PutUint64(buf[40:48], h.generation)
	desc := h.descriptorBytes()
	binary.LittleEndian.PutUint32(buf[48:52], uint32(farm.Hash64(desc)))
	copy(buf[fixedHeaderSize:], desc)
	return buf
}

// UnmarshalBytes parses a header.  Every failure means the rest of the file
// cannot be interpreted.
func (h *fileHeader) UnmarshalBytes(buf []byte) error {
	if len(buf) < fixedHeaderSize {
		return fmt.Errorf("header too short: %d < %d", len(buf), fixedHeaderSize)
	}
	h.magic = binary.LittleEndian.Uint32(buf[0:4])
	if h.magic != magicTableHeader {
		return fmt.Errorf("bad magic number on table file (%x) -- not a table or corrupted", h.magic)
	}
	h.formatVersion = binary.LittleEndian.Uint32(buf[4:8])
	if h.formatVersion != fileFormatVersion {
		return fmt.Errorf("this version of tabledb can only read v%d tables; found v%d", fileFormatVersion, h.formatVersion)
	}
	h.headerSize = binary.LittleEndian.Uint32(buf[8:12])
	fieldsCount := binary.LittleEndian.Uint32(buf[12:16])
	h.rowSize = binary.LittleEndian.Uint32(buf[16:20])
	h.flags = binary.LittleEndian.Uint32(buf[20:24])
	h.rowsCount = binary.LittleEndian.Uint64(buf[24:32])
	h.maxSegmentSize = binary.LittleEndian.Uint64(buf[32:40])
	h.generation = binary.LittleEndian.Uint64(buf[40:48])
	descChecksum := binary.LittleEndian.Uint32(buf[48:52])

	if fieldsCount == 0 || fieldsCount > maxFields {
		return fmt.Errorf("implausible field count %d", fieldsCount)
	}
	if int(h.headerSize) > len(buf) || h.headerSize < fixedHeaderSize {
		return fmt.Errorf("header size %d outside [%d, %d]", h.headerSize, fixedHeaderSize, len(buf))
	}
	if h.maxSegmentSize == 0 {
		return fmt.Errorf("max segment size of 0")
	}

	desc := buf[fixedHeaderSize:h.headerSize]
	h.fields = make([]field.Descriptor, 0, fieldsCount)
	h.indexed = make([]bool, 0, fieldsCount)
	var offsets []uint32
	for i := uint32(0); i < fieldsCount; i++ {
		if len(desc) < 1 || len(desc) < 1+int(desc[0])+6 {
			return fmt.Errorf("descriptor %d truncated", i)
		}
		n := int(desc[0])
		d := field.Descriptor{
			Name:  string(desc[1 : 1+n]),
			Type:  field.Type(desc[1+n]),
			Array: desc[2+n]&descFlagArray != 0,
		}
		h.fields = append(h.fields, d)
		h.indexed = append(h.indexed, desc[2+n]&descFlagIndexed != 0)
		offsets = append(offsets, binary.LittleEndian.Uint32(desc[3+n:]))
		desc = desc[7+n:]
	}
	if err := field.Validate(h.fields); err != nil {
		return fmt.Errorf("field descriptors: %w", err)
	}
	if sum := uint32(farm.Hash64(buf[fixedHeaderSize : h.headerSize-uint32(len(desc))])); sum != descChecksum {
		return fmt.Errorf("descriptor checksum failed (%d != %d)", sum, descChecksum)
	}
	if want := headerSizeFor(h.fields); int(h.headerSize) != want {
		return fmt.Errorf("header size %d, descriptors need %d", h.headerSize, want)
	}
	l := newLayout(h.fields)
	if int(h.rowSize) != l.rowSize {
		return fmt.Errorf("row size %d does not match the %d bytes the fields need", h.rowSize, l.rowSize)
	}
	for i, off := range offsets {
		if int(off) != l.offsets[i] {
			return fmt.Errorf("field %q at offset %d, expected %d", h.fields[i].Name, off, l.offsets[i])
		}
		if h.indexed[i] && !h.fields[i].Indexable() {
			return fmt.Errorf("array field %q marked indexed", h.fields[i].Name)
		}
	}
	return nil
}

// readFileHeader reads the header of the table whose row container starts at
// path, without opening the container.
func readFileHeader(path string) (*fileHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fixed := make([]byte, fixedHeaderSize)
	if _, err := io.ReadFull(f, fixed); err != nil {
		return nil, dberr.Wrap(err, dberr.TableRecoveryFailed, "read header of %s", path)
	}
	size := binary.LittleEndian.Uint32(fixed[8:12])
	if size < fixedHeaderSize || size > fixedHeaderSize+maxFields*(1+field.MaxNameLen+6) {
		return nil, dberr.New(dberr.TableRecoveryFailed, "header of %s: implausible size %d", path, size)
	}
	buf := make([]byte, size)
	copy(buf, fixed)
	if _, err := io.ReadFull(f, buf[fixedHeaderSize:]); err != nil {
		return nil, dberr.Wrap(err, dberr.TableRecoveryFailed, "read header of %s", path)
	}

	var h fileHeader
	if err := h.UnmarshalBytes(buf); err != nil {
		return nil, dberr.Wrap(err, dberr.TableRecoveryFailed, "header of %s", path)
	}
	return &h, nil
}
