// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package index

import (
	"github.com/cockroachdb/errors"

	"github.com/bpowers/tabledb/field"
)

// RowFunc returns the value of the indexed field in row, and whether the row
// is live.
type RowFunc func(row uint64) (v field.Value, live bool, err error)

// ProgressFunc is called once per row with the row about to be indexed.
// Returning an error abandons the build.
type ProgressFunc func(row, rowsCount uint64) error

// Build creates an index over rows [0, rowsCount) in a single ascending pass.
// If progress or get fails the partial index is discarded and the error
// returned, so a caller's existing index is left as it was.
func Build(d field.Descriptor, rowsCount uint64, get RowFunc, progress ProgressFunc) (*FieldIndex, error) {
	x, err := New(d)
	if err != nil {
		return nil, err
	}
	for row := uint64(0); row < rowsCount; row++ {
		if progress != nil {
			if err := progress(row, rowsCount); err != nil {
				return nil, err
			}
		}
		v, live, err := get(row)
		if err != nil {
			return nil, errors.Wrapf(err, "index row %d", row)
		}
		if !live {
			continue
		}
		if err := x.Insert(v, row); err != nil {
			return nil, errors.Wrapf(err, "index row %d", row)
		}
	}
	return x, nil
}
