// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package datafile reads and writes table dumps: a self-describing header
// naming the fields, followed by one checksummed record per row.  Dumps are
// written sequentially and do not depend on the table's on-disk layout.
package datafile

import (
	"encoding/binary"
	"fmt"

	"github.com/dgryski/go-farm"
	"github.com/google/uuid"

	"github.com/bpowers/tabledb/field"
)

const (
	magicDataHeader   = 0xC0FFEE0D
	fileFormatVersion = 1

	// fixedHeaderSize is the part of the header in front of the schema.
	fixedHeaderSize = 48

	recordCountOff = 24

	descFlagArray   = 1 << 0
	descFlagIndexed = 1 << 1

	maxFields = 1 << 12
)

// Schema describes the fields of a dumped table and which were indexed.
type Schema struct {
	Fields  []field.Descriptor
	Indexed []bool
}

type fileHeader struct {
	magic         uint32
	formatVersion uint32
	fileID        uuid.UUID
	recordCount   uint64
	schema        Schema
}

func newFileHeader(s Schema) (*fileHeader, error) {
	if err := field.Validate(s.Fields); err != nil {
		return nil, err
	}
	if len(s.Indexed) == 0 {
		s.Indexed = make([]bool, len(s.Fields))
	}
	if len(s.Indexed) != len(s.Fields) {
		return nil, fmt.Errorf("%d index flags for %d fields", len(s.Indexed), len(s.Fields))
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("uuid.NewRandom: %w", err)
	}
	return &fileHeader{
		magic:         magicDataHeader,
		formatVersion: fileFormatVersion,
		fileID:        id,
		schema:        s,
	}, nil
}

func (h *fileHeader) schemaBytes() []byte {
	var buf []byte
	for i, d := range h.schema.Fields {
		buf = append(buf, byte(len(d.Name)))
		buf = append(buf, d.Name...)
		buf = append(buf, byte(d.Type))
		var flags byte
		if d.Array {
			flags |= descFlagArray
		}
		if h.schema.Indexed[i] {
			flags |= descFlagIndexed
		}
		buf = append(buf, flags)
	}
	return buf
}

// MarshalBinary returns the header followed by the schema.
func (h *fileHeader) MarshalBinary() []byte {
	schema := h.schemaBytes()
	buf := make([]byte, fixedHeaderSize, fixedHeaderSize+len(schema))
	binary.LittleEndian.PutUint32(buf[0:4], h.magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.formatVersion)
	copy(buf[8:24], h.fileID[:])
	binary.LittleEndian.PutUint64(buf[recordCountOff:recordCountOff+8], h.recordCount)
	binary.LittleEndian.PutUint32(buf[32:36], uint32(len(h.schema.Fields)))
	binary.LittleEndian.PutUint32(buf[36:40], uint32(len(schema)))
	binary.LittleEndian.PutUint32(buf[40:44], uint32(farm.Hash64(schema)))
	return append(buf, schema...)
}

// unmarshalFixed parses the fixed part of the header, returning the schema
// length and checksum.
func (h *fileHeader) unmarshalFixed(buf []byte) (fieldsCount, schemaLen int, checksum uint32, err error) {
	if len(buf) < fixedHeaderSize {
		return 0, 0, 0, fmt.Errorf("header too short: %d < %d", len(buf), fixedHeaderSize)
	}
	h.magic = binary.LittleEndian.Uint32(buf[0:4])
	if h.magic != magicDataHeader {
		return 0, 0, 0, fmt.Errorf("bad magic number on data file (%x) -- not a table dump or corrupted", h.magic)
	}
	h.formatVersion = binary.LittleEndian.Uint32(buf[4:8])
	if h.formatVersion != fileFormatVersion {
		return 0, 0, 0, fmt.Errorf("this version of tabledb can only read v%d dumps; found v%d", fileFormatVersion, h.formatVersion)
	}
	copy(h.fileID[:], buf[8:24])
	h.recordCount = binary.LittleEndian.Uint64(buf[recordCountOff : recordCountOff+8])
	fieldsCount = int(binary.LittleEndian.Uint32(buf[32:36]))
	schemaLen = int(binary.LittleEndian.Uint32(buf[36:40]))
	checksum = binary.LittleEndian.Uint32(buf[40:44])
	if fieldsCount == 0 || fieldsCount > maxFields {
		return 0, 0, 0, fmt.Errorf("implausible field count %d", fieldsCount)
	}
	if schemaLen > fieldsCount*(1+field.MaxNameLen+2) {
		return 0, 0, 0, fmt.Errorf("implausible schema length %d", schemaLen)
	}
	return fieldsCount, schemaLen, checksum, nil
}

func (h *fileHeader) unmarshalSchema(fieldsCount int, checksum uint32, buf []byte) error {
	if sum := uint32(farm.Hash64(buf)); sum != checksum {
		return fmt.Errorf("schema checksum failed (%d != %d)", sum, checksum)
	}
	s := Schema{
		Fields:  make([]field.Descriptor, 0, fieldsCount),
		Indexed: make([]bool, 0, fieldsCount),
	}
	for i := 0; i < fieldsCount; i++ {
		if len(buf) < 1 || len(buf) < 3+int(buf[0]) {
			return fmt.Errorf("descriptor %d truncated", i)
		}
		n := int(buf[0])
		s.Fields = append(s.Fields, field.Descriptor{
			Name:  string(buf[1 : 1+n]),
			Type:  field.Type(buf[1+n]),
			Array: buf[2+n]&descFlagArray != 0,
		})
		s.Indexed = append(s.Indexed, buf[2+n]&descFlagIndexed != 0)
		buf = buf[3+n:]
	}
	if len(buf) != 0 {
		return fmt.Errorf("%d trailing schema bytes", len(buf))
	}
	if err := field.Validate(s.Fields); err != nil {
		return fmt.Errorf("field descriptors: %w", err)
	}
	h.schema = s
	return nil
}
