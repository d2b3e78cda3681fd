// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package datafile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/dgryski/go-farm"

	"github.com/bpowers/tabledb/field"
)

const (
	defaultBufferSize = 1024 * 1024
	recordHeaderSize  = 4 + 4 // 32-bit checksum of the body + 32-bit body length

	maxRecordLen = 1 << 30
)

type nopWriter struct{}

func (nopWriter) Write([]byte) (int, error) {
	return 0, io.EOF
}

// FileWriter is usually an *os.File, but specified as an interface for easier testing.
type FileWriter interface {
	io.Writer
	io.WriterAt
}

type Writer struct {
	f        FileWriter
	h        *fileHeader
	w        *bufio.Writer
	buf      []byte
	count    uint64
	finished atomic.Bool
}

func NewWriter(f FileWriter, s Schema) (*Writer, error) {
	h, err := newFileHeader(s)
	if err != nil {
		return nil, fmt.Errorf("newFileHeader: %w", err)
	}
	w := &Writer{
		f: f,
		h: h,
		w: bufio.NewWriterSize(f, defaultBufferSize),
	}
	if _, err := w.w.Write(h.MarshalBinary()); err != nil {
		return nil, fmt.Errorf("bufio.Write: %w", err)
	}
	// try to expose errors when writing to the backing file early
	if err := w.w.Flush(); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}
	return w, nil
}

// Write appends the values of one row.  row is the row's position in the
// table it came from.
func (w *Writer) Write(row uint64, values []field.Value) error {
	if w.finished.Load() {
		return errors.New("write after Finish")
	}
	fields := w.h.schema.Fields
	if len(values) != len(fields) {
		return fmt.Errorf("%d values for %d fields", len(values), len(fields))
	}

	body := binary.LittleEndian.AppendUint64(w.buf[:0], row)
	for i, v := range values {
		if !v.Matches(fields[i]) {
			return fmt.Errorf("field %q: value of type %s", fields[i].Name, v.Type())
		}
		body = field.AppendBinary(body, v)
	}
	w.buf = body
	if len(body) > maxRecordLen {
		return fmt.Errorf("row %d: record of %d bytes too long", row, len(body))
	}

	var header [recordHeaderSize]byte
	binary.LittleEndian.PutUint32(header[:4], uint32(farm.Hash64(body)))
	binary.LittleEndian.PutUint32(header[4:], uint32(len(body)))
	if _, err := w.w.Write(header[:]); err != nil {
		return fmt.Errorf("bufio.Write 1: %w", err)
	}
	if _, err := w.w.Write(body); err != nil {
		return fmt.Errorf("bufio.Write 2: %w", err)
	}
	w.count++
	return nil
}

// Count is the number of records written so far.
func (w *Writer) Count() uint64 {
	return w.count
}

// Finish flushes buffered records and stores the record count in the
// header.  The underlying file is not closed.
func (w *Writer) Finish() error {
	if alreadyFinished := w.finished.Swap(true); alreadyFinished {
		// nothing to do - already cleaned up
		return nil
	}

	defer func() {
		w.w.Reset(nopWriter{})
		w.w = nil
	}()

	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("bufio.Flush: %w", err)
	}
	var count [8]byte
	binary.LittleEndian.PutUint64(count[:], w.count)
	if _, err := w.f.WriteAt(count[:], recordCountOff); err != nil {
		return fmt.Errorf("WriteAt: %w", err)
	}
	return nil
}
