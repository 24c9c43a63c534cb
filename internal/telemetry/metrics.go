// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kev_tracker"

// Reconcile run outcomes.
const (
	OutcomeUpdated = "updated"
	OutcomeNoop    = "noop"
	OutcomeFailed  = "failed"
)

// Metrics holds the collectors for reconcile runs and enrichment lookups.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ReconcileRuns     *prometheus.CounterVec
	EnrichmentLookups *prometheus.CounterVec
	SnapshotRecords   prometheus.Gauge
	LastReconcile     prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReconcileRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_runs_total",
				Help:      "Total number of reconcile runs by outcome",
			},
			[]string{"outcome"},
		),
		EnrichmentLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "enrichment_lookups_total",
				Help:      "Total number of score lookups by source and result",
			},
			[]string{"source", "result"},
		),
		SnapshotRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_records",
			Help:      "Number of records in the current snapshot",
		}),
		LastReconcile: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_reconcile_timestamp_seconds",
			Help:      "Unix time of the last successful reconcile run",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ReconcileRuns, m.EnrichmentLookups, m.SnapshotRecords, m.LastReconcile)
	}
	return m
}

// ObserveRun records the outcome of a reconcile run. Successful runs also
// update the snapshot gauges.
func (m *Metrics) ObserveRun(outcome string, records int, at time.Time) {
	if m == nil {
		return
	}
	m.ReconcileRuns.WithLabelValues(outcome).Inc()
	if outcome == OutcomeFailed {
		return
	}
	m.SnapshotRecords.Set(float64(records))
	m.LastReconcile.Set(float64(at.Unix()))
}

// ObserveLookup records one score lookup.
func (m *Metrics) ObserveLookup(source string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.EnrichmentLookups.WithLabelValues(source, result).Inc()
}
