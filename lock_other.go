// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

//go:build !unix

package tabledb

import (
	"os"
	"path/filepath"

	"github.com/bpowers/tabledb/dberr"
)

const lockFile = "LOCK"

// lockDatabase only creates the LOCK file; other processes are not kept out.
func lockDatabase(dir string) (*os.File, error) {
	path := filepath.Join(dir, lockFile)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, dberr.Wrap(err, dberr.FileIO, "open %s", path)
	}
	return f, nil
}
