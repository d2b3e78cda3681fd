// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package tabledb

import (
	"bytes"
	"strings"

	"github.com/bpowers/tabledb/dberr"
	"github.com/bpowers/tabledb/field"
)

// special case of SplitN that doesn't require allocation
func split2(s []byte, sep byte) (l []byte, r []byte, ok bool) {
	m := bytes.IndexByte(s, sep)
	if m < 0 {
		return nil, nil, false
	}

	l = s[:m]
	r = s[m+1:]
	ok = true
	return
}

type stringSet map[string]struct{}

func (set stringSet) Contains(s string) bool {
	_, ok := set[s]
	return ok
}

func (set stringSet) Add(s string) {
	set[s] = struct{}{}
}

// ParseFields parses a schema written as comma separated "name:TYPE" pairs,
// with "[]" after the type for arrays, e.g. "id:INT64,name:TEXT,tags:UINT16[]".
func ParseFields(schema string) ([]field.Descriptor, error) {
	var fields []field.Descriptor
	seen := make(stringSet)
	for _, part := range strings.Split(schema, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, typ, ok := split2([]byte(part), ':')
		if !ok {
			return nil, dberr.New(dberr.InvalidParameters, "field %q: expected name:TYPE", part)
		}
		d := field.Descriptor{Name: strings.TrimSpace(string(name))}
		if seen.Contains(d.Name) {
			return nil, dberr.New(dberr.DuplicateFieldName, "%q", d.Name)
		}
		seen.Add(d.Name)
		ts := strings.TrimSpace(string(typ))
		if strings.HasSuffix(ts, "[]") {
			d.Array = true
			ts = strings.TrimSuffix(ts, "[]")
		}
		t, err := field.ParseType(ts)
		if err != nil {
			return nil, err
		}
		d.Type = t
		fields = append(fields, d)
	}
	if err := field.Validate(fields); err != nil {
		return nil, err
	}
	return fields, nil
}
