// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package field describes table fields: their types, the typed values rows
// hold, how those values are laid out on disk and how they are ordered.
package field

import (
	"fmt"
	"strings"

	"github.com/bpowers/tabledb/dberr"
)

// Type is the type of a field (or of the elements of an array field).
type Type uint8

const (
	Bool Type = iota + 1
	Char
	Date
	DateTime
	HiresTime
	Int8
	Int16
	Int32
	Int64
	UInt8
	UInt16
	UInt32
	UInt64
	Real
	RichReal
	Text

	lastType = Text
)

// HandleSize is the width of a row slot that refers to a value-store entry:
// a 64-bit offset followed by a 32-bit length.
const HandleSize = 12

var typeNames = [...]string{
	Bool:      "BOOL",
	Char:      "CHAR",
	Date:      "DATE",
	DateTime:  "DATETIME",
	HiresTime: "HIRESTIME",
	Int8:      "INT8",
	Int16:     "INT16",
	Int32:     "INT32",
	Int64:     "INT64",
	UInt8:     "UINT8",
	UInt16:    "UINT16",
	UInt32:    "UINT32",
	UInt64:    "UINT64",
	Real:      "REAL",
	RichReal:  "RICHREAL",
	Text:      "TEXT",
}

var scalarWidths = [...]int{
	Bool:      1,
	Char:      4,
	Date:      4,
	DateTime:  7,
	HiresTime: 11,
	Int8:      1,
	Int16:     2,
	Int32:     4,
	Int64:     8,
	UInt8:     1,
	UInt16:    2,
	UInt32:    4,
	UInt64:    8,
	Real:      4,
	RichReal:  8,
	Text:      0,
}

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	return t >= Bool && t <= lastType
}

func (t Type) String() string {
	if t.Valid() {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// ParseType parses the names produced by Type.String, case-insensitively.
func ParseType(s string) (Type, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for t := Bool; t <= lastType; t++ {
		if typeNames[t] == upper {
			return t, nil
		}
	}
	return 0, dberr.New(dberr.InvalidFieldType, "unknown type %q", s)
}

// ScalarWidth is the number of bytes a single non-null value of t occupies.
// Text has no fixed width and reports 0.
func (t Type) ScalarWidth() int {
	if !t.Valid() {
		return 0
	}
	return scalarWidths[t]
}

// IsSigned is true for the signed integer types.
func (t Type) IsSigned() bool {
	return t >= Int8 && t <= Int64
}

// IsUnsigned is true for the unsigned integer types.
func (t Type) IsUnsigned() bool {
	return t >= UInt8 && t <= UInt64
}

// IsTemporal is true for DATE, DATETIME and HIRESTIME.
func (t Type) IsTemporal() bool {
	return t == Date || t == DateTime || t == HiresTime
}

// IsFloat is true for REAL and RICHREAL.
func (t Type) IsFloat() bool {
	return t == Real || t == RichReal
}
