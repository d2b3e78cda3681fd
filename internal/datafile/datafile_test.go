// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package datafile

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/tabledb/field"
)

type safeBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (s *safeBuffer) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.buf...)
}

func (s *safeBuffer) Write(p []byte) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, p...)
	return len(p), nil
}

func (s *safeBuffer) WriteAt(p []byte, off int64) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(off)+len(p) > len(s.buf) {
		return 0, errors.New("writeAt out of bounds")
	}

	return copy(s.buf[off:int(off)+len(p)], p), nil
}

var _ FileWriter = &safeBuffer{}

type testWriter struct {
	inner            FileWriter
	writeShouldError bool
}

func (c *testWriter) Write(p []byte) (n int, err error) {
	if c.writeShouldError {
		return 0, errors.New("write failed")
	}
	return c.inner.Write(p)
}

func (c *testWriter) WriteAt(p []byte, off int64) (n int, err error) {
	if c.writeShouldError {
		return 0, errors.New("write failed")
	}
	return c.inner.WriteAt(p, off)
}

var _ FileWriter = &testWriter{}

var testSchema = Schema{
	Fields: []field.Descriptor{
		{Name: "id", Type: field.Int64},
		{Name: "name", Type: field.Text},
		{Name: "tags", Type: field.UInt16, Array: true},
	},
	Indexed: []bool{true, false, false},
}

func testRow(t *testing.T, i int) []field.Value {
	t.Helper()
	name := field.Null(field.Text)
	if i%3 != 0 {
		var err error
		name, err = field.NewText(string(rune('a' + i%26)))
		require.NoError(t, err)
	}
	tag, err := field.NewUInt(field.UInt16, uint64(i))
	require.NoError(t, err)
	tags, err := field.NewArray(field.UInt16, []field.Value{tag, tag})
	require.NoError(t, err)
	return []field.Value{field.NewInt64(int64(i)), name, tags}
}

func TestNewWriter_Errors(t *testing.T) {
	var fileBytes safeBuffer
	writer := &testWriter{
		inner:            &fileBytes,
		writeShouldError: true,
	}
	_, err := NewWriter(writer, testSchema)
	assert.Error(t, err)

	_, err = NewWriter(&fileBytes, Schema{})
	assert.Error(t, err)

	_, err = NewWriter(&fileBytes, Schema{Fields: testSchema.Fields, Indexed: []bool{true}})
	assert.Error(t, err)
}

func TestWriter_BadRows(t *testing.T) {
	var fileBytes safeBuffer
	w, err := NewWriter(&fileBytes, testSchema)
	require.NoError(t, err)

	// too few values
	assert.Error(t, w.Write(0, testRow(t, 1)[:2]))
	// wrong type
	row := testRow(t, 1)
	row[0] = field.NewUInt64(1)
	assert.Error(t, w.Write(0, row))

	require.NoError(t, w.Finish())
	// multiple finishes should be fine
	require.NoError(t, w.Finish())
	assert.Error(t, w.Write(0, testRow(t, 1)))

	r, err := NewReader(bytes.NewReader(fileBytes.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), r.Len())
	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestWriter_RoundTrip(t *testing.T) {
	var fileBytes safeBuffer
	w, err := NewWriter(&fileBytes, testSchema)
	require.NoError(t, err)

	const n = 1000
	for i := 0; i < n; i++ {
		require.NoError(t, w.Write(uint64(i*2), testRow(t, i)))
	}
	require.Equal(t, uint64(n), w.Count())
	require.NoError(t, w.Finish())

	r, err := NewReader(bytes.NewReader(fileBytes.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, uint64(n), r.Len())
	assert.Equal(t, testSchema, r.Schema())
	assert.NotEqual(t, [16]byte{}, [16]byte(r.ID()))

	i := 0
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.Equal(t, uint64(i*2), rec.Row)
		want := testRow(t, i)
		for f := range want {
			require.True(t, field.Equal(want[f], rec.Values[f]), "record %d field %d", i, f)
		}
		i++
	}
	require.Equal(t, n, i)
}

func TestReader_Errors(t *testing.T) {
	_, err := NewReader(bytes.NewReader(nil))
	assert.Error(t, err)

	_, err = NewReader(bytes.NewReader(make([]byte, 128)))
	assert.Error(t, err)

	var fileBytes safeBuffer
	w, err := NewWriter(&fileBytes, testSchema)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Write(uint64(i), testRow(t, i)))
	}
	require.NoError(t, w.Finish())
	good := fileBytes.Bytes()

	// damaged schema
	bad := append([]byte(nil), good...)
	bad[fixedHeaderSize+1] ^= 0xff
	_, err = NewReader(bytes.NewReader(bad))
	assert.Error(t, err)

	// damaged last record
	bad = append([]byte(nil), good...)
	bad[len(bad)-1] ^= 0xff
	r, err := NewReader(bytes.NewReader(bad))
	require.NoError(t, err)
	_, err = r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	assert.Error(t, err)

	// truncated
	r, err = NewReader(bytes.NewReader(good[:len(good)-4]))
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = r.Next()
		require.NoError(t, err)
	}
	_, err = r.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
