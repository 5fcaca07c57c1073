/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCountExportLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ExportScheduled()
	m.DebounceReset()
	m.ExportStarted()
	m.ExportStarted()
	m.ExportFinished(20 * time.Millisecond)
	m.ExportApplied()
	m.ExportStale()
	m.ExportFailed(ReasonTimeout)
	m.Commit("sketch")
	m.Commit("")

	if got := testutil.ToFloat64(m.exportsStarted); got != 2 {
		t.Fatalf("started = %v", got)
	}
	if got := testutil.ToFloat64(m.inFlight); got != 1 {
		t.Fatalf("in flight = %v", got)
	}
	if got := testutil.ToFloat64(m.exportsFailed.WithLabelValues(ReasonTimeout)); got != 1 {
		t.Fatalf("timeouts = %v", got)
	}
	if got := testutil.ToFloat64(m.commits.WithLabelValues("unknown")); got != 1 {
		t.Fatalf("unknown-kind commits = %v", got)
	}
	if n := testutil.CollectAndCount(m.exportDuration); n != 1 {
		t.Fatalf("duration series = %d", n)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ExportScheduled()
	m.ExportStarted()
	m.ExportFinished(time.Second)
	m.ExportFailed(ReasonError)
	m.Crash()
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ExportApplied()
	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "canvasedit_export_applied_total 1") {
		t.Fatalf("applied counter missing from exposition:\n%s", b)
	}
}

func TestDefaultIsSingleton(t *testing.T) {
	m1, r1 := Default()
	m2, r2 := Default()
	if m1 != m2 || r1 != r2 {
		t.Fatalf("Default should return the same instances")
	}
	if _, err := r1.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}
