/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package telemetry exposes Prometheus metrics for the editing session: export lifecycle,
// durable commits and crashes. Nothing leaves the process unless the /metrics endpoint is served.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	applog "canvasedit/internal/log"
	"canvasedit/internal/version"
)

const namespace = "canvasedit"

// Failure reasons used as the "reason" label of export failures.
const (
	ReasonError   = "error"
	ReasonTimeout = "timeout"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	exportsScheduled prometheus.Counter
	debounceResets   prometheus.Counter
	exportsStarted   prometheus.Counter
	exportsApplied   prometheus.Counter
	exportsStale     prometheus.Counter
	exportsFailed    *prometheus.CounterVec
	exportDuration   prometheus.Histogram
	inFlight         prometheus.Gauge
	commits          *prometheus.CounterVec
	crashes          prometheus.Counter
}

// New creates the collectors and registers them with reg (if non-nil).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		exportsScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "export", Name: "scheduled_total",
			Help: "Debounced export triggers received.",
		}),
		debounceResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "export", Name: "debounce_resets_total",
			Help: "Pending debounce firings superseded by newer input.",
		}),
		exportsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "export", Name: "started_total",
			Help: "Exports that captured a snapshot and began compositing.",
		}),
		exportsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "export", Name: "applied_total",
			Help: "Export results committed to node state.",
		}),
		exportsStale: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "export", Name: "stale_total",
			Help: "Export results discarded because a newer version was already applied.",
		}),
		exportsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "export", Name: "failed_total",
			Help: "Exports that failed, by reason.",
		}, []string{"reason"}),
		exportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "export", Name: "duration_seconds",
			Help:    "Time from snapshot to completion.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "export", Name: "in_flight",
			Help: "Exports currently running.",
		}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "commits_total",
			Help: "Durable node state commits, by node kind.",
		}, []string{"kind"}),
		crashes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "crashes_total",
			Help: "Recovered panics.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.exportsScheduled, m.debounceResets, m.exportsStarted, m.exportsApplied,
			m.exportsStale, m.exportsFailed, m.exportDuration, m.inFlight, m.commits, m.crashes)
	}
	return m
}

var (
	defaultOnce sync.Once
	defaultReg  *prometheus.Registry
	defaultM    *Metrics
)

// Default returns process-wide metrics on a private registry that also carries Go runtime collectors.
func Default() (*Metrics, *prometheus.Registry) {
	defaultOnce.Do(func() {
		defaultReg = prometheus.NewRegistry()
		defaultReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		defaultReg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "build_info",
			Help:        "Build information.",
			ConstLabels: prometheus.Labels{"version": version.String()},
		}, func() float64 { return 1 }))
		defaultM = New(defaultReg)
	})
	return defaultM, defaultReg
}

func (m *Metrics) ExportScheduled() {
	if m != nil {
		m.exportsScheduled.Inc()
	}
}

func (m *Metrics) DebounceReset() {
	if m != nil {
		m.debounceResets.Inc()
	}
}

func (m *Metrics) ExportStarted() {
	if m != nil {
		m.exportsStarted.Inc()
		m.inFlight.Inc()
	}
}

// ExportFinished closes an export started with ExportStarted, whatever its outcome.
func (m *Metrics) ExportFinished(d time.Duration) {
	if m != nil {
		m.inFlight.Dec()
		m.exportDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) ExportApplied() {
	if m != nil {
		m.exportsApplied.Inc()
	}
}

func (m *Metrics) ExportStale() {
	if m != nil {
		m.exportsStale.Inc()
	}
}

func (m *Metrics) ExportFailed(reason string) {
	if m != nil {
		m.exportsFailed.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Commit(kind string) {
	if m != nil {
		if kind == "" {
			kind = "unknown"
		}
		m.commits.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Crash() {
	if m != nil {
		m.crashes.Inc()
	}
}

// Handler serves g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	l := applog.WithComponent("telemetry")
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	l.Info("metrics endpoint listening", slog.String("addr", ln.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
