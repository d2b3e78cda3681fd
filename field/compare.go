// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package field

import (
	"cmp"
	"strings"
)

// Compare orders two values of the same type: NULL sorts below every
// non-NULL value, integers compare numerically, text by code point, temporal
// values by calendar order and arrays element by element.  It returns -1, 0
// or +1.
func Compare(a, b Value) int {
	switch {
	case a.null && b.null:
		return 0
	case a.null:
		return -1
	case b.null:
		return 1
	}
	if a.array || b.array {
		return compareArrays(a, b)
	}
	return compareScalars(a, b)
}

func compareScalars(a, b Value) int {
	if a.typ != b.typ {
		return cmp.Compare(a.typ, b.typ)
	}
	switch {
	case a.typ.IsSigned():
		return cmp.Compare(int64(a.n), int64(b.n))
	case a.typ.IsFloat():
		return cmp.Compare(a.Float(), b.Float())
	case a.typ.IsTemporal():
		return a.t.Compare(b.t)
	case a.typ == Text:
		// byte order of UTF-8 is code point order
		return strings.Compare(a.s, b.s)
	default:
		return cmp.Compare(a.n, b.n)
	}
}

func compareArrays(a, b Value) int {
	if a.array != b.array {
		if a.array {
			return 1
		}
		return -1
	}
	n := min(len(a.elems), len(b.elems))
	for i := 0; i < n; i++ {
		if c := compareScalars(a.elems[i], b.elems[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(a.elems), len(b.elems))
}

// Equal is Compare(a, b) == 0 for values of the same type.
func Equal(a, b Value) bool {
	return a.typ == b.typ && a.array == b.array && Compare(a, b) == 0
}

// Between reports whether lo <= v <= hi.
func Between(v, lo, hi Value) bool {
	return Compare(lo, v) <= 0 && Compare(v, hi) <= 0
}
