// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// gen-testdata fills a database with random key/value rows for benchmarks
// and for exercising tdbtool.
package main

import (
	"crypto/hmac"
	crand "crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/rand"
	"os"

	"github.com/bpowers/tabledb"
	"github.com/bpowers/tabledb/field"
)

const (
	nPairs    = 100000
	prefix    = "pref_"
	suffixLen = 16
	hmacKey   = "d259c7f656caf7f1"
	dbName    = "testdata"
	tableName = "pairs"
	schema    = "id:INT64,key:TEXT,value:TEXT,bucket:UINT8"
)

func newRand() *rand.Rand {
	var seedBytes [8]byte
	crand.Read(seedBytes[:])
	seed := int64(binary.LittleEndian.Uint64(seedBytes[:]))
	return rand.New(rand.NewSource(seed))
}

func main() {
	dir := "."
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(dir, logger); err != nil {
		logger.Error("gen-testdata failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(dir string, logger *slog.Logger) (err error) {
	fields, err := tabledb.ParseFields(schema)
	if err != nil {
		return err
	}
	e, err := tabledb.NewEngine(tabledb.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if serr := e.Shutdown(); err == nil {
			err = serr
		}
	}()

	if err := e.CreateDatabase(dbName, dir); err != nil {
		return err
	}
	h, err := e.RetrieveDatabase(dbName, dir)
	if err != nil {
		return err
	}
	if err := h.AddTable(tableName, fields); err != nil {
		return err
	}
	t, err := h.RetrievePersistentTable(tableName)
	if err != nil {
		return err
	}

	rng := newRand()
	mac := hmac.New(sha256.New, []byte(hmacKey))
	for i := 0; i < nPairs; i++ {
		var buf [suffixLen / 2]byte
		if _, err := rng.Read(buf[:]); err != nil {
			return err
		}
		value := fmt.Sprintf("%s%x", prefix, buf)
		mac.Reset()
		mac.Write([]byte(value))
		key := hex.EncodeToString(mac.Sum(nil))

		if err := addPair(t, int64(i), key, value, uint64(buf[0]%16)); err != nil {
			return err
		}
	}
	if err := t.CreateIndex(1, nil); err != nil {
		return err
	}
	if err := t.CreateIndex(3, nil); err != nil {
		return err
	}
	if err := h.ReleaseTable(t); err != nil {
		return err
	}
	logger.Info("generated", slog.Int("rows", nPairs), slog.String("database", h.Path()))
	return e.ReleaseDatabase(h)
}

func addPair(t *tabledb.Table, id int64, key, value string, bucket uint64) error {
	row, err := t.AddRow()
	if err != nil {
		return err
	}
	k, err := field.NewText(key)
	if err != nil {
		return err
	}
	v, err := field.NewText(value)
	if err != nil {
		return err
	}
	b, err := field.NewUInt(field.UInt8, bucket)
	if err != nil {
		return err
	}
	for f, val := range []field.Value{field.NewInt64(id), k, v, b} {
		if err := t.Set(row, f, val); err != nil {
			return err
		}
	}
	return nil
}
