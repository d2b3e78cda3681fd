// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package dberr defines the error taxonomy shared by every tabledb
// component.  Every failure surfaced by the engine carries a numeric Code;
// codes are grouped by Kind, and everything at or above CriticalThreshold
// is not locally recoverable.
//
// Callers match on codes with errors.Is:
//
//	if errors.Is(err, dberr.RowNotAllocated) { ... }
package dberr

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Kind groups codes by how a caller is expected to react to them.
type Kind int

const (
	// Usage errors are bugs in the caller: bad names, missing tables, rows
	// that were never allocated.
	Usage Kind = iota + 1
	// Data errors describe values that cannot be represented or were found
	// corrupted; RepairTable turns them into NULLs.
	Data
	// Structural errors come from containers and the file system.
	Structural
	// Critical errors leave no safe way to continue the operation.
	Critical
)

func (k Kind) String() string {
	switch k {
	case Usage:
		return "usage"
	case Data:
		return "data"
	case Structural:
		return "structural"
	case Critical:
		return "critical"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Code identifies an error condition.  Code implements error so it can be
// used directly as the target of errors.Is.
type Code int

// CriticalThreshold is the first critical code.
const CriticalThreshold Code = 1000

const (
	InvalidParameters Code = 100 + iota
	InvalidFieldName
	InvalidFieldType
	DuplicateFieldName
	TableNotFound
	TableExists
	DatabaseNotFound
	DatabaseExists
	FieldNotFound
	FieldNotIndexed
	FieldAlreadyIndexed
	RowNotAllocated
	TableAlreadyLocked
	TableNotLocked
	TableInUse
	DatabaseInUse
	InvalidTableName
	TypeMismatch
)

const (
	InvalidUTF8 Code = 200 + iota
	InvalidUnicode
	StringIndexOutOfBounds
	ArrayIndexOutOfBounds
	NullArrayElement
	InvalidDateTime
	NumericFault
)

const (
	ContainerInvalid Code = 300 + iota
	InvalidAccessPosition
	FileIO
	RowAllocation
	ValueStoreCorrupted
	IndexCorrupted
	TableCorrupted
)

const (
	TableRecoveryFailed Code = CriticalThreshold + iota
	BadParameters
	GeneralControl
)

var descriptions = map[Code]string{
	InvalidParameters:      "invalid parameters",
	InvalidFieldName:       "invalid field name",
	InvalidFieldType:       "invalid field type",
	DuplicateFieldName:     "duplicate field name",
	TableNotFound:          "table not found",
	TableExists:            "table already exists",
	DatabaseNotFound:       "database not found",
	DatabaseExists:         "database already exists",
	FieldNotFound:          "field not found",
	FieldNotIndexed:        "field not indexed",
	FieldAlreadyIndexed:    "field already indexed",
	RowNotAllocated:        "row not allocated",
	TableAlreadyLocked:     "table already locked",
	TableNotLocked:         "table not locked",
	TableInUse:             "table in use",
	DatabaseInUse:          "database in use",
	InvalidTableName:       "invalid table name",
	TypeMismatch:           "value type does not match field type",
	InvalidUTF8:            "invalid UTF-8 encoding",
	InvalidUnicode:         "invalid unicode code point",
	StringIndexOutOfBounds: "string index out of bounds",
	ArrayIndexOutOfBounds:  "array index out of bounds",
	NullArrayElement:       "null array element",
	InvalidDateTime:        "invalid date/time value",
	NumericFault:           "numeric fault",
	ContainerInvalid:       "inconsistent container",
	InvalidAccessPosition:  "invalid access position",
	FileIO:                 "file I/O failure",
	RowAllocation:          "row allocation failed",
	ValueStoreCorrupted:    "value store corrupted",
	IndexCorrupted:         "index corrupted",
	TableCorrupted:         "table corrupted",
	TableRecoveryFailed:    "table recovery failed",
	BadParameters:          "bad parameters",
	GeneralControl:         "general control error",
}

// Kind reports which group c belongs to.
func (c Code) Kind() Kind {
	switch {
	case c >= CriticalThreshold:
		return Critical
	case c >= 300:
		return Structural
	case c >= 200:
		return Data
	default:
		return Usage
	}
}

// Critical is true for codes at or above CriticalThreshold.
func (c Code) Critical() bool {
	return c >= CriticalThreshold
}

func (c Code) String() string {
	if d, ok := descriptions[c]; ok {
		return d
	}
	return fmt.Sprintf("error code %d", int(c))
}

func (c Code) Error() string {
	return c.String()
}

// Error is the concrete error value produced by New and Wrap.
type Error struct {
	code  Code
	msg   string
	cause error
}

// Code returns the error's code.
func (e *Error) Code() Code { return e.code }

// Kind returns the kind of the error's code.
func (e *Error) Kind() Kind { return e.code.Kind() }

// Critical reports whether the error is not locally recoverable.
func (e *Error) Critical() bool { return e.code.Critical() }

func (e *Error) Error() string {
	s := e.code.String()
	if e.msg != "" {
		s = s + ": " + e.msg
	}
	if e.cause != nil {
		s = s + ": " + e.cause.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.cause }

// Is lets errors.Is match an *Error against a bare Code.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Code:
		return e.code == t
	case *Error:
		return e.code == t.code
	}
	return false
}

// New returns an error with the given code.  The call site is recorded and
// can be recovered with Source.
func New(code Code, format string, args ...interface{}) error {
	return errors.WithStackDepth(&Error{code: code, msg: fmt.Sprintf(format, args...)}, 1)
}

// Wrap attaches code to cause.  A nil cause yields nil.
func Wrap(cause error, code Code, format string, args ...interface{}) error {
	if cause == nil {
		return nil
	}
	return errors.WithStackDepth(&Error{code: code, msg: fmt.Sprintf(format, args...), cause: cause}, 1)
}

// CodeOf returns the code of the outermost *Error in err's chain, or 0 if
// there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	if c, ok := err.(Code); ok {
		return c
	}
	return 0
}

// KindOf returns the kind of err's code.  Errors that did not originate in
// tabledb are reported as Structural: they come from the OS.
func KindOf(err error) Kind {
	if c := CodeOf(err); c != 0 {
		return c.Kind()
	}
	return Structural
}

// IsCritical reports whether err carries a critical code.
func IsCritical(err error) bool {
	return CodeOf(err).Critical()
}

// Source returns the file and line where err was created.
func Source(err error) (file string, line int, ok bool) {
	file, line, _, ok = errors.GetOneLineSource(err)
	return file, line, ok
}
