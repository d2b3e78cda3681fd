// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package field

import (
	"github.com/bpowers/tabledb/dberr"
)

// MaxNameLen is the longest field or table name that fits the on-disk
// descriptor.
const MaxNameLen = 255

// Descriptor describes one field of a table schema.
type Descriptor struct {
	Name  string
	Type  Type
	Array bool
}

// IsVariable is true when the field's values live in the value store and the
// row only holds a handle.
func (d Descriptor) IsVariable() bool {
	return d.Array || d.Type == Text
}

// SlotWidth is the number of row bytes the field occupies.
func (d Descriptor) SlotWidth() int {
	if d.IsVariable() {
		return HandleSize
	}
	return d.Type.ScalarWidth()
}

// Indexable is true for fields a FieldIndex can be built over.
func (d Descriptor) Indexable() bool {
	return !d.Array
}

func (d Descriptor) String() string {
	if d.Array {
		return d.Name + " ARRAY OF " + d.Type.String()
	}
	return d.Name + " " + d.Type.String()
}

// ValidateName checks that name is a usable field or table name: a letter or
// underscore followed by letters, digits or underscores.
func ValidateName(name string) bool {
	if len(name) == 0 || len(name) > MaxNameLen {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// Validate checks a full schema.
func Validate(fields []Descriptor) error {
	if len(fields) == 0 {
		return dberr.New(dberr.InvalidParameters, "a table needs at least one field")
	}
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if !ValidateName(f.Name) {
			return dberr.New(dberr.InvalidFieldName, "%q", f.Name)
		}
		if !f.Type.Valid() {
			return dberr.New(dberr.InvalidFieldType, "field %q has type %s", f.Name, f.Type)
		}
		if f.Array && f.Type == Text {
			return dberr.New(dberr.InvalidFieldType, "field %q: arrays of TEXT are not supported", f.Name)
		}
		if _, ok := seen[f.Name]; ok {
			return dberr.New(dberr.DuplicateFieldName, "%q", f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}
