// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry exposes Prometheus metrics for the patch service.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the service's Prometheus collectors on a private
// registry, so tests can create instances freely without collisions.
type Metrics struct {
	registry *prometheus.Registry

	// PatchRequests counts patch requests by outcome:
	// applied, syntax_error, workspace_error.
	PatchRequests *prometheus.CounterVec

	// PatchedFiles counts per-file outcomes by status:
	// created, modified, deleted, failed.
	PatchedFiles *prometheus.CounterVec

	// HunkMatches counts resolved hunks by strategy:
	// exact, whitespace_normalized, fuzzy.
	HunkMatches *prometheus.CounterVec

	// ApplyDuration observes end-to-end patch application time.
	ApplyDuration prometheus.Histogram

	// WorkspaceOps counts workspace lifecycle operations by kind.
	WorkspaceOps *prometheus.CounterVec
}

// NewMetrics creates and registers the service collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		PatchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forge",
			Name:      "patch_requests_total",
			Help:      "Patch requests by outcome.",
		}, []string{"outcome"}),
		PatchedFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forge",
			Name:      "patched_files_total",
			Help:      "Per-file patch outcomes by status.",
		}, []string{"status"}),
		HunkMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forge",
			Name:      "hunk_matches_total",
			Help:      "Resolved hunks by match strategy.",
		}, []string{"strategy"}),
		ApplyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "forge",
			Name:      "patch_apply_duration_seconds",
			Help:      "End-to-end patch application duration.",
			Buckets:   prometheus.DefBuckets,
		}),
		WorkspaceOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forge",
			Name:      "workspace_operations_total",
			Help:      "Workspace lifecycle operations by kind.",
		}, []string{"op"}),
	}

	reg.MustRegister(
		m.PatchRequests,
		m.PatchedFiles,
		m.HunkMatches,
		m.ApplyDuration,
		m.WorkspaceOps,
	)
	return m
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveApply records one completed patch application.
func (m *Metrics) ObserveApply(outcome string, started time.Time) {
	m.PatchRequests.WithLabelValues(outcome).Inc()
	m.ApplyDuration.Observe(time.Since(started).Seconds())
}
