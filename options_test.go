// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package tabledb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/tabledb/dberr"
	"github.com/bpowers/tabledb/field"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tabledb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workDir: /srv/data
maxFileSize: 1048576
tableCacheBlockSize: 8192
tableCacheBlockCount: 16
valueCacheSize: 0
compactionThreshold: 0.25
`), 0o644))

	opt, err := LoadConfig(path)
	require.NoError(t, err)
	o := defaultOptions()
	opt(&o)
	require.Equal(t, "/srv/data", o.workDir)
	require.Equal(t, uint64(1<<20), o.maxFileSize)
	require.Equal(t, uint64(8192), o.tableBlockSize)
	require.Equal(t, 16, o.tableBlockCount)
	require.Equal(t, defaultOptions().storeBlockCount, o.storeBlockCount)
	require.Equal(t, 0, o.valueCacheSize)
	require.Equal(t, 0.25, o.compactionThreshold)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.True(t, errors.Is(err, dberr.FileIO))
}

func TestParseConfigErrors(t *testing.T) {
	for _, doc := range []string{
		"compactionThreshold: 1.5",
		"valueCacheSize: -1",
		"maxFileSize: [1, 2]",
	} {
		_, err := ParseConfig([]byte(doc))
		require.True(t, errors.Is(err, dberr.InvalidParameters), "%q: %v", doc, err)
	}
}

func TestParseFields(t *testing.T) {
	fields, err := ParseFields("id:INT64, name:TEXT ,tags:UINT16[]")
	require.NoError(t, err)
	require.Equal(t, []field.Descriptor{
		{Name: "id", Type: field.Int64},
		{Name: "name", Type: field.Text},
		{Name: "tags", Type: field.UInt16, Array: true},
	}, fields)

	cases := []struct {
		schema string
		code   dberr.Code
	}{
		{"id", dberr.InvalidParameters},
		{"id:INT64,id:TEXT", dberr.DuplicateFieldName},
		{"id:NUMBER", dberr.InvalidFieldType},
		{"9id:INT64", dberr.InvalidFieldName},
	}
	for _, c := range cases {
		_, err := ParseFields(c.schema)
		require.True(t, errors.Is(err, c.code), "%q: %v", c.schema, err)
	}
}
