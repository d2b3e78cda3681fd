// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bpowers/tabledb"
	"github.com/bpowers/tabledb/field"
)

func makeDatabase(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	e, err := tabledb.NewEngine(tabledb.WithTempDir(t.TempDir()))
	require.NoError(t, err)
	require.NoError(t, e.CreateDatabase("shop", dir))
	h, err := e.RetrieveDatabase("shop", dir)
	require.NoError(t, err)

	fields, err := tabledb.ParseFields("sku:INT64,title:TEXT")
	require.NoError(t, err)
	for _, name := range []string{"items", "orders"} {
		require.NoError(t, h.AddTable(name, fields))
	}
	tbl, err := h.RetrievePersistentTable("items")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		row, err := tbl.AddRow()
		require.NoError(t, err)
		require.NoError(t, tbl.Set(row, 0, field.NewInt64(int64(i))))
		title, err := field.NewText("widget")
		require.NoError(t, err)
		require.NoError(t, tbl.Set(row, 1, title))
	}
	require.NoError(t, tbl.CreateIndex(0, nil))
	require.NoError(t, h.ReleaseTable(tbl))
	require.NoError(t, e.ReleaseDatabase(h))
	require.NoError(t, e.Shutdown())
	return filepath.Join(dir, "shop")
}

func runTool(t *testing.T, args ...string) (string, error) {
	t.Helper()
	tool := newTool()
	var out bytes.Buffer
	tool.Root.SetOut(&out)
	tool.Root.SetArgs(args)
	err := tool.Root.Execute()
	return out.String(), err
}

func TestDescribe(t *testing.T) {
	db := makeDatabase(t)
	out, err := runTool(t, "describe", db)
	require.NoError(t, err)
	require.Contains(t, out, "database shop")
	require.Contains(t, out, "items: 2 fields, 5 rows")
	require.Contains(t, out, "orders: 2 fields, 0 rows")
	require.Contains(t, out, "items.tbl")
	require.Contains(t, out, "items.0.idx")

	_, err = runTool(t, "describe", db, "missing")
	require.Error(t, err)
}

func TestCheckValidateRepair(t *testing.T) {
	db := makeDatabase(t)

	out, err := runTool(t, "check", db)
	require.NoError(t, err)
	require.Contains(t, out, "items")
	require.Contains(t, out, "orders")
	require.NotContains(t, out, "DAMAGED")

	out, err = runTool(t, "validate", db, "items")
	require.NoError(t, err)
	require.Equal(t, "items: ok\n", out)

	out, err = runTool(t, "repair", db, "items")
	require.NoError(t, err)
	require.Equal(t, "items: 0 repair actions\n", out)
}

func TestDumpLoad(t *testing.T) {
	db := makeDatabase(t)
	dump := filepath.Join(t.TempDir(), "items.dump")

	out, err := runTool(t, "dump", db, "items", dump)
	require.NoError(t, err)
	require.Equal(t, "items: 5 rows dumped\n", out)

	out, err = runTool(t, "load", db, "copy", dump)
	require.NoError(t, err)
	require.Equal(t, "copy: 5 rows loaded\n", out)

	out, err = runTool(t, "describe", db, "copy")
	require.NoError(t, err)
	require.Contains(t, out, "copy: 2 fields, 5 rows")
	require.Contains(t, out, "copy.0.idx")
}
