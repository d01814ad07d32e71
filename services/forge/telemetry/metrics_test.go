// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsExposition(t *testing.T) {
	m := NewMetrics()

	m.ObserveApply("applied", time.Now().Add(-10*time.Millisecond))
	m.PatchedFiles.WithLabelValues("modified").Inc()
	m.HunkMatches.WithLabelValues("fuzzy").Add(2)
	m.WorkspaceOps.WithLabelValues("create").Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`forge_patch_requests_total{outcome="applied"} 1`,
		`forge_patched_files_total{status="modified"} 1`,
		`forge_hunk_matches_total{strategy="fuzzy"} 2`,
		`forge_workspace_operations_total{op="create"} 1`,
		"forge_patch_apply_duration_seconds_count 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestMetricsInstancesIndependent(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.PatchedFiles.WithLabelValues("created").Inc()

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if strings.Contains(rec.Body.String(), `forge_patched_files_total{status="created"} 1`) {
		t.Error("registries are shared between instances")
	}
}
