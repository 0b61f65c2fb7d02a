// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package profiler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for the Profiler Service
// =============================================================================

var (
	// profileLoadsTotal counts profile load attempts by source and status.
	// Labels: source (upload, path, watcher, snapshot), status (ok, error, rate_limited)
	profileLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "profiler",
		Subsystem: "load",
		Name:      "total",
		Help:      "Total profile load attempts by source and status",
	}, []string{"source", "status"})

	// profileSamplesLoaded counts samples ingested per load, by source.
	profileSamplesLoaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "profiler",
		Subsystem: "load",
		Name:      "samples_total",
		Help:      "Total samples ingested by load source",
	}, []string{"source"})

	// selectionsTotal counts selection resolutions by outcome.
	// Labels: outcome (widened, exact, fallback, invalid)
	selectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "profiler",
		Subsystem: "select",
		Name:      "total",
		Help:      "Total selection resolutions by outcome",
	}, []string{"outcome"})

	// selectionLatencySeconds measures resolver latency including view
	// derivation and tree lookup.
	selectionLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "profiler",
		Subsystem: "select",
		Name:      "latency_seconds",
		Help:      "Selection resolution latency including view derivation",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	// snapshotOpsTotal counts snapshot store operations by op and status.
	// Labels: op (save, load, list, delete), status (ok, error)
	snapshotOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "profiler",
		Subsystem: "snapshot",
		Name:      "ops_total",
		Help:      "Total snapshot store operations by op and status",
	}, []string{"op", "status"})

	// streamClients tracks currently connected websocket clients.
	streamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "profiler",
		Subsystem: "stream",
		Name:      "clients",
		Help:      "Currently connected selection stream clients",
	})
)

// recordLoad records a profile load attempt.
func recordLoad(source, status string, samples int) {
	profileLoadsTotal.WithLabelValues(source, status).Inc()
	if status == "ok" && samples > 0 {
		profileSamplesLoaded.WithLabelValues(source).Add(float64(samples))
	}
}

// recordSelection records a selection resolution outcome and latency.
func recordSelection(outcome string, seconds float64) {
	selectionsTotal.WithLabelValues(outcome).Inc()
	if outcome != "invalid" {
		selectionLatencySeconds.Observe(seconds)
	}
}

// recordSnapshotOp records a snapshot store operation.
func recordSnapshotOp(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	snapshotOpsTotal.WithLabelValues(op, status).Inc()
}
