// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package field

import (
	"encoding/binary"
	"math"
	"time"
	"unicode/utf8"

	"github.com/bpowers/tabledb/dberr"
	"github.com/bpowers/tabledb/internal/unsafestring"
)

// EncodeScalar writes a non-NULL scalar value into buf, which must be at
// least v.Type().ScalarWidth() bytes long.  All multi-byte quantities are
// little endian.
func EncodeScalar(v Value, buf []byte) {
	w := v.typ.ScalarWidth()
	_ = buf[w-1]
	switch v.typ {
	case Bool, Int8, UInt8:
		buf[0] = byte(v.n)
	case Int16, UInt16:
		binary.LittleEndian.PutUint16(buf, uint16(v.n))
	case Char, Int32, UInt32:
		binary.LittleEndian.PutUint32(buf, uint32(v.n))
	case Int64, UInt64, RichReal:
		binary.LittleEndian.PutUint64(buf, v.n)
	case Real:
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v.Float())))
	case Date, DateTime, HiresTime:
		y, m, d := v.t.Date()
		binary.LittleEndian.PutUint16(buf, uint16(int16(y)))
		buf[2] = byte(m)
		buf[3] = byte(d)
		if v.typ == Date {
			return
		}
		buf[4] = byte(v.t.Hour())
		buf[5] = byte(v.t.Minute())
		buf[6] = byte(v.t.Second())
		if v.typ == HiresTime {
			binary.LittleEndian.PutUint32(buf[7:], uint32(v.t.Nanosecond()/1000))
		}
	}
}

// DecodeScalar is the inverse of EncodeScalar.  It validates what it reads,
// so corrupted bytes surface as data errors.
func DecodeScalar(t Type, buf []byte) (Value, error) {
	w := t.ScalarWidth()
	if w == 0 {
		return Value{}, dberr.New(dberr.InvalidFieldType, "%s has no scalar encoding", t)
	}
	if len(buf) < w {
		return Value{}, dberr.New(dberr.InvalidParameters, "need %d bytes for %s, have %d", w, t, len(buf))
	}
	switch t {
	case Bool:
		if buf[0] > 1 {
			return Value{}, dberr.New(dberr.NumericFault, "bool byte %#x", buf[0])
		}
		return NewBool(buf[0] == 1), nil
	case Char:
		return NewChar(rune(binary.LittleEndian.Uint32(buf)))
	case Int8:
		return Value{typ: t, n: uint64(int64(int8(buf[0])))}, nil
	case Int16:
		return Value{typ: t, n: uint64(int64(int16(binary.LittleEndian.Uint16(buf))))}, nil
	case Int32:
		return Value{typ: t, n: uint64(int64(int32(binary.LittleEndian.Uint32(buf))))}, nil
	case Int64:
		return Value{typ: t, n: binary.LittleEndian.Uint64(buf)}, nil
	case UInt8:
		return Value{typ: t, n: uint64(buf[0])}, nil
	case UInt16:
		return Value{typ: t, n: uint64(binary.LittleEndian.Uint16(buf))}, nil
	case UInt32:
		return Value{typ: t, n: uint64(binary.LittleEndian.Uint32(buf))}, nil
	case UInt64:
		return Value{typ: t, n: binary.LittleEndian.Uint64(buf)}, nil
	case Real:
		return NewReal(math.Float32frombits(binary.LittleEndian.Uint32(buf)))
	case RichReal:
		return NewRichReal(math.Float64frombits(binary.LittleEndian.Uint64(buf)))
	case Date, DateTime, HiresTime:
		y := int(int16(binary.LittleEndian.Uint16(buf)))
		m := time.Month(buf[2])
		d := int(buf[3])
		switch t {
		case Date:
			return NewDate(y, m, d)
		case DateTime:
			return NewDateTime(y, m, d, int(buf[4]), int(buf[5]), int(buf[6]))
		default:
			return NewHiresTime(y, m, d, int(buf[4]), int(buf[5]), int(buf[6]), int(binary.LittleEndian.Uint32(buf[7:])))
		}
	}
	return Value{}, dberr.New(dberr.InvalidFieldType, "%s", t)
}

// EncodePayload returns the value-store payload of a TEXT or array value, or
// nil for NULL.
func EncodePayload(v Value) []byte {
	if v.null {
		return nil
	}
	if !v.array {
		return []byte(v.s)
	}
	w := v.typ.ScalarWidth()
	out := make([]byte, w*len(v.elems))
	for i, e := range v.elems {
		EncodeScalar(e, out[i*w:])
	}
	return out
}

// PayloadBytes returns a read-only view of a TEXT value's payload without
// copying; for other values it behaves like EncodePayload.
func PayloadBytes(v Value) []byte {
	if !v.null && !v.array && v.typ == Text {
		return unsafestring.ToBytes(v.s)
	}
	return EncodePayload(v)
}

// DecodePayload rebuilds a TEXT or array value from its value-store payload.
func DecodePayload(d Descriptor, payload []byte) (Value, error) {
	if len(payload) == 0 {
		return NullFor(d), nil
	}
	if !d.Array {
		if d.Type != Text {
			return Value{}, dberr.New(dberr.InvalidFieldType, "%s is stored inline", d.Type)
		}
		if !utf8.Valid(payload) {
			return Value{}, dberr.New(dberr.InvalidUTF8, "field %q", d.Name)
		}
		return Value{typ: Text, s: string(payload)}, nil
	}
	w := d.Type.ScalarWidth()
	if w == 0 || len(payload)%w != 0 {
		return Value{}, dberr.New(dberr.ValueStoreCorrupted, "array payload of %d bytes for %s", len(payload), d.Type)
	}
	elems := make([]Value, len(payload)/w)
	for i := range elems {
		e, err := DecodeScalar(d.Type, payload[i*w:])
		if err != nil {
			return Value{}, err
		}
		elems[i] = e
	}
	return Value{typ: d.Type, array: true, elems: elems}, nil
}

// AppendBinary appends a self-delimiting encoding of v to dst: a NULL flag
// byte, then either the scalar bytes or a 32-bit length and the payload.
func AppendBinary(dst []byte, v Value) []byte {
	if v.null {
		return append(dst, 1)
	}
	dst = append(dst, 0)
	if v.array || v.typ == Text {
		payload := PayloadBytes(v)
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(payload)))
		return append(dst, payload...)
	}
	var scratch [16]byte
	w := v.typ.ScalarWidth()
	EncodeScalar(v, scratch[:w])
	return append(dst, scratch[:w]...)
}

// ReadBinary decodes a value written by AppendBinary, returning it and the
// number of bytes consumed.
func ReadBinary(d Descriptor, src []byte) (Value, int, error) {
	if len(src) < 1 {
		return Value{}, 0, dberr.New(dberr.InvalidParameters, "empty input")
	}
	if src[0] == 1 {
		return NullFor(d), 1, nil
	} else if src[0] != 0 {
		return Value{}, 0, dberr.New(dberr.InvalidParameters, "bad NULL flag %#x", src[0])
	}
	src = src[1:]
	if d.IsVariable() {
		if len(src) < 4 {
			return Value{}, 0, dberr.New(dberr.InvalidParameters, "short length prefix")
		}
		n := int(binary.LittleEndian.Uint32(src))
		if len(src) < 4+n {
			return Value{}, 0, dberr.New(dberr.InvalidParameters, "short payload: %d < %d", len(src)-4, n)
		}
		v, err := DecodePayload(d, src[4:4+n])
		return v, 1 + 4 + n, err
	}
	v, err := DecodeScalar(d.Type, src)
	return v, 1 + d.Type.ScalarWidth(), err
}
