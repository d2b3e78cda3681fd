// Copyright 2026 The tabledb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package metrics holds the prometheus collectors an Engine shares between
// its tables, value stores and containers.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	RowsAdded       prometheus.Counter
	RowsReused      prometheus.Counter
	RowsReleased    prometheus.Counter
	ContainerSpills prometheus.Counter
	IndexRebuilds   prometheus.Counter
	Compactions     *prometheus.CounterVec
	CompactionTime  prometheus.Histogram
	RepairActions   *prometheus.CounterVec
	OpenTables      prometheus.Gauge
	OpenDatabases   prometheus.Gauge
}

// New creates the collectors and registers them with reg.  A nil reg gives
// working, unregistered collectors.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		RowsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabledb_rows_added_total",
			Help: "Rows appended to tables",
		}),
		RowsReused: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabledb_rows_reused_total",
			Help: "Rows taken from a table free-list",
		}),
		RowsReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabledb_rows_released_total",
			Help: "Rows returned to a table free-list",
		}),
		ContainerSpills: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabledb_container_spills_total",
			Help: "Memory containers that moved to an overflow file",
		}),
		IndexRebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabledb_index_rebuilds_total",
			Help: "Field indexes built from table rows",
		}),
		Compactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabledb_value_compactions_total",
			Help: "Value store compactions by outcome",
		}, []string{"status"}),
		CompactionTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tabledb_value_compaction_seconds",
			Help:    "Duration of value store compactions",
			Buckets: prometheus.DefBuckets,
		}),
		RepairActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabledb_repair_actions_total",
			Help: "Corrective actions taken by table repair",
		}, []string{"severity"}),
		OpenTables: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tabledb_open_tables",
			Help: "Tables currently open",
		}),
		OpenDatabases: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tabledb_open_databases",
			Help: "Databases currently retrieved",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Discard returns unregistered collectors.
func Discard() *Metrics {
	m, _ := New(nil)
	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RowsAdded,
		m.RowsReused,
		m.RowsReleased,
		m.ContainerSpills,
		m.IndexRebuilds,
		m.Compactions,
		m.CompactionTime,
		m.RepairActions,
		m.OpenTables,
		m.OpenDatabases,
	}
}

// Unregister removes the collectors from reg.
func (m *Metrics) Unregister(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	for _, c := range m.collectors() {
		reg.Unregister(c)
	}
}

// ObserveCompaction records a finished or cancelled compaction.
func (m *Metrics) ObserveCompaction(d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.Compactions.WithLabelValues(status).Inc()
	m.CompactionTime.Observe(d.Seconds())
}
