// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package field

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bpowers/tabledb/dberr"
)

const (
	minYear = math.MinInt16
	maxYear = math.MaxInt16
)

// Value is a single (possibly NULL) field value.  The zero Value is invalid;
// use the constructors.
type Value struct {
	typ   Type
	array bool
	null  bool
	n     uint64 // bools, chars, integers and float bits
	t     time.Time
	s     string
	elems []Value
}

// Null returns the NULL value of type t.
func Null(t Type) Value {
	return Value{typ: t, null: true}
}

// NullArray returns the NULL array of element type t.
func NullArray(t Type) Value {
	return Value{typ: t, array: true, null: true}
}

// NullFor returns the NULL value matching d.
func NullFor(d Descriptor) Value {
	if d.Array {
		return NullArray(d.Type)
	}
	return Null(d.Type)
}

func NewBool(b bool) Value {
	v := Value{typ: Bool}
	if b {
		v.n = 1
	}
	return v
}

// NewChar returns a CHAR value, failing for invalid code points.
func NewChar(r rune) (Value, error) {
	if !utf8.ValidRune(r) {
		return Value{}, dberr.New(dberr.InvalidUnicode, "U+%X", uint32(r))
	}
	return Value{typ: Char, n: uint64(r)}, nil
}

// NewInt returns a signed integer value of type t, checking that v fits.
func NewInt(t Type, v int64) (Value, error) {
	var lo, hi int64
	switch t {
	case Int8:
		lo, hi = math.MinInt8, math.MaxInt8
	case Int16:
		lo, hi = math.MinInt16, math.MaxInt16
	case Int32:
		lo, hi = math.MinInt32, math.MaxInt32
	case Int64:
		lo, hi = math.MinInt64, math.MaxInt64
	default:
		return Value{}, dberr.New(dberr.TypeMismatch, "%s is not a signed integer type", t)
	}
	if v < lo || v > hi {
		return Value{}, dberr.New(dberr.NumericFault, "%d does not fit %s", v, t)
	}
	return Value{typ: t, n: uint64(v)}, nil
}

// NewUInt returns an unsigned integer value of type t, checking that v fits.
func NewUInt(t Type, v uint64) (Value, error) {
	var hi uint64
	switch t {
	case UInt8:
		hi = math.MaxUint8
	case UInt16:
		hi = math.MaxUint16
	case UInt32:
		hi = math.MaxUint32
	case UInt64:
		hi = math.MaxUint64
	default:
		return Value{}, dberr.New(dberr.TypeMismatch, "%s is not an unsigned integer type", t)
	}
	if v > hi {
		return Value{}, dberr.New(dberr.NumericFault, "%d does not fit %s", v, t)
	}
	return Value{typ: t, n: v}, nil
}

// NewInt64 is shorthand for an INT64 value, which cannot fail.
func NewInt64(v int64) Value {
	return Value{typ: Int64, n: uint64(v)}
}

// NewUInt64 is shorthand for a UINT64 value, which cannot fail.
func NewUInt64(v uint64) Value {
	return Value{typ: UInt64, n: v}
}

// NewReal returns a REAL value.  NaN and infinities are numeric faults.
func NewReal(f float32) (Value, error) {
	if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
		return Value{}, dberr.New(dberr.NumericFault, "%v", f)
	}
	return Value{typ: Real, n: math.Float64bits(float64(f))}, nil
}

// NewRichReal returns a RICHREAL value.  NaN and infinities are numeric faults.
func NewRichReal(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, dberr.New(dberr.NumericFault, "%v", f)
	}
	return Value{typ: RichReal, n: math.Float64bits(f)}, nil
}

func validDateTime(y int, m time.Month, d, h, mi, s, usec int) bool {
	if y < minYear || y > maxYear || m < time.January || m > time.December {
		return false
	}
	if d < 1 || d > daysIn(y, m) {
		return false
	}
	return h >= 0 && h < 24 && mi >= 0 && mi < 60 && s >= 0 && s < 60 && usec >= 0 && usec < 1000000
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// NewDate returns a DATE value.
func NewDate(y int, m time.Month, d int) (Value, error) {
	if !validDateTime(y, m, d, 0, 0, 0, 0) {
		return Value{}, dberr.New(dberr.InvalidDateTime, "%04d-%02d-%02d", y, int(m), d)
	}
	return Value{typ: Date, t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}, nil
}

// NewDateTime returns a DATETIME value with second resolution.
func NewDateTime(y int, m time.Month, d, h, mi, s int) (Value, error) {
	if !validDateTime(y, m, d, h, mi, s, 0) {
		return Value{}, dberr.New(dberr.InvalidDateTime, "%04d-%02d-%02d %02d:%02d:%02d", y, int(m), d, h, mi, s)
	}
	return Value{typ: DateTime, t: time.Date(y, m, d, h, mi, s, 0, time.UTC)}, nil
}

// NewHiresTime returns a HIRESTIME value with microsecond resolution.
func NewHiresTime(y int, m time.Month, d, h, mi, s, usec int) (Value, error) {
	if !validDateTime(y, m, d, h, mi, s, usec) {
		return Value{}, dberr.New(dberr.InvalidDateTime, "%04d-%02d-%02d %02d:%02d:%02d.%06d", y, int(m), d, h, mi, s, usec)
	}
	return Value{typ: HiresTime, t: time.Date(y, m, d, h, mi, s, usec*1000, time.UTC)}, nil
}

// NewTime truncates tm (converted to UTC) to the resolution of t.
func NewTime(t Type, tm time.Time) (Value, error) {
	tm = tm.UTC()
	y, m, d := tm.Date()
	switch t {
	case Date:
		return NewDate(y, m, d)
	case DateTime:
		return NewDateTime(y, m, d, tm.Hour(), tm.Minute(), tm.Second())
	case HiresTime:
		return NewHiresTime(y, m, d, tm.Hour(), tm.Minute(), tm.Second(), tm.Nanosecond()/1000)
	}
	return Value{}, dberr.New(dberr.TypeMismatch, "%s is not a temporal type", t)
}

// NewText returns a TEXT value.  The empty string is NULL.
func NewText(s string) (Value, error) {
	if !utf8.ValidString(s) {
		return Value{}, dberr.New(dberr.InvalidUTF8, "%q", s)
	}
	if s == "" {
		return Null(Text), nil
	}
	return Value{typ: Text, s: s}, nil
}

// NewArray returns an array of element type t.  Elements must be non-NULL
// scalars of type t; an empty array is NULL.
func NewArray(t Type, elems []Value) (Value, error) {
	if !t.Valid() || t == Text {
		return Value{}, dberr.New(dberr.InvalidFieldType, "arrays of %s are not supported", t)
	}
	if len(elems) == 0 {
		return NullArray(t), nil
	}
	for i, e := range elems {
		if e.array || e.typ != t {
			return Value{}, dberr.New(dberr.TypeMismatch, "element %d is %s, not %s", i, e.typeString(), t)
		}
		if e.null {
			return Value{}, dberr.New(dberr.NullArrayElement, "element %d", i)
		}
	}
	cp := make([]Value, len(elems))
	copy(cp, elems)
	return Value{typ: t, array: true, elems: cp}, nil
}

// Type returns the value's type (the element type for arrays).
func (v Value) Type() Type { return v.typ }

// IsArray is true for array values.
func (v Value) IsArray() bool { return v.array }

// IsNull is true for NULL values.
func (v Value) IsNull() bool { return v.null }

// Matches reports whether v can be stored in a field described by d.
func (v Value) Matches(d Descriptor) bool {
	return v.typ == d.Type && v.array == d.Array
}

func (v Value) Bool() bool { return v.n != 0 }

func (v Value) Char() rune { return rune(v.n) }

// Int returns integer values as int64.
func (v Value) Int() int64 { return int64(v.n) }

// Uint returns integer values as uint64.
func (v Value) Uint() uint64 { return v.n }

// Float returns REAL and RICHREAL values.
func (v Value) Float() float64 { return math.Float64frombits(v.n) }

// Time returns temporal values in UTC.
func (v Value) Time() time.Time { return v.t }

// Text returns the contents of a TEXT value; NULL text is "".
func (v Value) Text() string { return v.s }

// Len returns the number of elements of an array or characters of a text.
func (v Value) Len() int {
	if v.array {
		return len(v.elems)
	}
	if v.typ == Text {
		return utf8.RuneCountInString(v.s)
	}
	return 0
}

// Elem returns the i-th element of an array.
func (v Value) Elem(i int) (Value, error) {
	if !v.array {
		return Value{}, dberr.New(dberr.TypeMismatch, "%s is not an array", v.typeString())
	}
	if i < 0 || i >= len(v.elems) {
		return Value{}, dberr.New(dberr.ArrayIndexOutOfBounds, "index %d of %d", i, len(v.elems))
	}
	return v.elems[i], nil
}

// Elems returns a copy of an array's elements.
func (v Value) Elems() []Value {
	cp := make([]Value, len(v.elems))
	copy(cp, v.elems)
	return cp
}

// CharAt returns the i-th character (not byte) of a text value.
func (v Value) CharAt(i int) (rune, error) {
	if v.typ != Text || v.array {
		return 0, dberr.New(dberr.TypeMismatch, "%s is not TEXT", v.typeString())
	}
	if i >= 0 {
		n := 0
		for _, r := range v.s {
			if n == i {
				return r, nil
			}
			n++
		}
	}
	return 0, dberr.New(dberr.StringIndexOutOfBounds, "index %d of %d", i, v.Len())
}

func (v Value) typeString() string {
	if v.array {
		return "ARRAY OF " + v.typ.String()
	}
	return v.typ.String()
}

func (v Value) String() string {
	if v.null {
		return "NULL"
	}
	if v.array {
		parts := make([]string, len(v.elems))
		for i, e := range v.elems {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	switch {
	case v.typ == Bool:
		return strconv.FormatBool(v.Bool())
	case v.typ == Char:
		return strconv.QuoteRune(v.Char())
	case v.typ.IsSigned():
		return strconv.FormatInt(v.Int(), 10)
	case v.typ.IsUnsigned():
		return strconv.FormatUint(v.Uint(), 10)
	case v.typ == Real:
		return strconv.FormatFloat(v.Float(), 'g', -1, 32)
	case v.typ == RichReal:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	case v.typ == Date:
		return v.t.Format("2006-01-02")
	case v.typ == DateTime:
		return v.t.Format("2006-01-02 15:04:05")
	case v.typ == HiresTime:
		return v.t.Format("2006-01-02 15:04:05.000000")
	case v.typ == Text:
		return strconv.Quote(v.s)
	}
	return fmt.Sprintf("<%s>", v.typ)
}
