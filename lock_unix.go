// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

//go:build unix

package tabledb

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/bpowers/tabledb/dberr"
)

const lockFile = "LOCK"

// lockDatabase takes an exclusive flock on the database's LOCK file.  The
// lock is released by closing the returned file.
func lockDatabase(dir string) (*os.File, error) {
	path := filepath.Join(dir, lockFile)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, dberr.Wrap(err, dberr.FileIO, "open %s", path)
	}
	err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == unix.EWOULDBLOCK {
		_ = f.Close()
		return nil, dberr.New(dberr.DatabaseInUse, "%s is locked by another process", dir)
	}
	if err != nil {
		_ = f.Close()
		return nil, dberr.Wrap(err, dberr.FileIO, "flock %s", path)
	}
	return f, nil
}
