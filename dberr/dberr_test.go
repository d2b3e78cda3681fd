// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package dberr

import (
	"io"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKinds(t *testing.T) {
	for _, testcase := range []struct {
		code     Code
		expected Kind
	}{
		{InvalidParameters, Usage},
		{RowNotAllocated, Usage},
		{TypeMismatch, Usage},
		{InvalidUTF8, Data},
		{NumericFault, Data},
		{ContainerInvalid, Structural},
		{TableCorrupted, Structural},
		{TableRecoveryFailed, Critical},
		{GeneralControl, Critical},
	} {
		require.Equal(t, testcase.expected, testcase.code.Kind(), testcase.code.String())
		require.Equal(t, testcase.expected == Critical, testcase.code.Critical())
	}
}

func TestNewAndMatch(t *testing.T) {
	err := New(RowNotAllocated, "row %d of %d", 7, 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, RowNotAllocated))
	assert.False(t, errors.Is(err, TableNotFound))
	assert.Equal(t, RowNotAllocated, CodeOf(err))
	assert.Equal(t, Usage, KindOf(err))
	assert.False(t, IsCritical(err))
	assert.Equal(t, "row not allocated: row 7 of 3", err.Error())

	wrapped := errors.Wrapf(err, "table %q", "people")
	assert.True(t, errors.Is(wrapped, RowNotAllocated))
	assert.Equal(t, RowNotAllocated, CodeOf(wrapped))
}

func TestWrap(t *testing.T) {
	require.NoError(t, Wrap(nil, FileIO, "nothing"))

	err := Wrap(io.ErrUnexpectedEOF, FileIO, "read segment %d", 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	assert.True(t, errors.Is(err, FileIO))
	assert.Equal(t, Structural, KindOf(err))

	// foreign errors are treated as structural
	assert.Equal(t, Structural, KindOf(io.EOF))
	assert.Equal(t, Code(0), CodeOf(io.EOF))
}

func TestCritical(t *testing.T) {
	err := New(TableRecoveryFailed, "header unreadable")
	assert.True(t, IsCritical(err))

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.True(t, e.Critical())
	assert.Equal(t, Critical, e.Kind())
}

func TestSource(t *testing.T) {
	err := New(InvalidParameters, "bad")
	file, line, ok := Source(err)
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(file, "dberr_test.go"), file)
	assert.Greater(t, line, 0)
}
