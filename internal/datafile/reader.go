// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package datafile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dgryski/go-farm"
	"github.com/google/uuid"

	"github.com/bpowers/tabledb/field"
)

// Record is one row of a dump.
type Record struct {
	Row    uint64
	Values []field.Value
}

// Reader reads a dump from start to end.
type Reader struct {
	h    fileHeader
	r    *bufio.Reader
	read uint64
	buf  []byte
}

func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReaderSize(r, defaultBufferSize)
	fixed := make([]byte, fixedHeaderSize)
	if _, err := io.ReadFull(br, fixed); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	rd := &Reader{r: br}
	fieldsCount, schemaLen, checksum, err := rd.h.unmarshalFixed(fixed)
	if err != nil {
		return nil, fmt.Errorf("fileHeader.unmarshalFixed: %w", err)
	}
	schema := make([]byte, schemaLen)
	if _, err := io.ReadFull(br, schema); err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	if err := rd.h.unmarshalSchema(fieldsCount, checksum, schema); err != nil {
		return nil, fmt.Errorf("fileHeader.unmarshalSchema: %w", err)
	}
	return rd, nil
}

// Schema describes the dumped table.
func (r *Reader) Schema() Schema {
	return r.h.schema
}

// Len is the number of records in the dump.
func (r *Reader) Len() uint64 {
	return r.h.recordCount
}

// ID identifies the dump.
func (r *Reader) ID() uuid.UUID {
	return r.h.fileID
}

// Next returns the next record, or io.EOF after the last one.
func (r *Reader) Next() (Record, error) {
	if r.read >= r.h.recordCount {
		return Record{}, io.EOF
	}
	var header [recordHeaderSize]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		return Record{}, fmt.Errorf("record %d: %w", r.read, noEOF(err))
	}
	expectedChecksum := binary.LittleEndian.Uint32(header[:4])
	n := binary.LittleEndian.Uint32(header[4:])
	if n < 8 || n > maxRecordLen {
		return Record{}, fmt.Errorf("record %d: implausible length %d", r.read, n)
	}
	if cap(r.buf) < int(n) {
		r.buf = make([]byte, n)
	}
	body := r.buf[:n]
	if _, err := io.ReadFull(r.r, body); err != nil {
		return Record{}, fmt.Errorf("record %d: %w", r.read, noEOF(err))
	}
	if checksum := uint32(farm.Hash64(body)); checksum != expectedChecksum {
		return Record{}, fmt.Errorf("record %d checksum failed (%d != %d): data file corrupted", r.read, expectedChecksum, checksum)
	}

	rec := Record{
		Row:    binary.LittleEndian.Uint64(body),
		Values: make([]field.Value, len(r.h.schema.Fields)),
	}
	body = body[8:]
	for i, d := range r.h.schema.Fields {
		v, used, err := field.ReadBinary(d, body)
		if err != nil {
			return Record{}, fmt.Errorf("record %d field %q: %w", r.read, d.Name, err)
		}
		rec.Values[i] = v
		body = body[used:]
	}
	if len(body) != 0 {
		return Record{}, fmt.Errorf("record %d: %d trailing bytes", r.read, len(body))
	}
	r.read++
	return rec, nil
}

func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
