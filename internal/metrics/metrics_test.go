// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.RowsAdded.Add(3)
	m.ObserveCompaction(time.Millisecond, nil)
	m.ObserveCompaction(time.Millisecond, errors.New("cancelled"))
	require.Equal(t, 3.0, testutil.ToFloat64(m.RowsAdded))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Compactions.WithLabelValues("error")))

	// a second set cannot share the registry
	_, err = New(reg)
	require.Error(t, err)

	m.Unregister(reg)
	_, err = New(reg)
	require.NoError(t, err)
}

func TestDiscard(t *testing.T) {
	m := Discard()
	m.IndexRebuilds.Inc()
	require.Equal(t, 1.0, testutil.ToFloat64(m.IndexRebuilds))
}
