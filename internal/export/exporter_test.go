/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"canvasedit/internal/domain"
	"canvasedit/internal/geom"
	"canvasedit/internal/nodestore"
	"canvasedit/internal/telemetry"
)

func sketchStore(t *testing.T) *nodestore.Store {
	t.Helper()
	st := nodestore.New()
	st.Put(domain.NodeState{NodeID: "n1", Kind: domain.KindSketch, ImageSize: geom.Size{W: 8, H: 8}})
	return st
}

func memEncode(_ context.Context, nodeID string, version uint64, _ image.Image) (string, error) {
	return fmt.Sprintf("mem://%s/%d", nodeID, version), nil
}

func blankCompose(_ context.Context, _ Job) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 4, 3)), nil
}

// gatedCompose blocks each version until its gate is closed.
type gatedCompose struct {
	mu    sync.Mutex
	gates map[uint64]chan struct{}
	start chan uint64
}

func newGated() *gatedCompose {
	return &gatedCompose{gates: map[uint64]chan struct{}{}, start: make(chan uint64, 8)}
}

func (g *gatedCompose) gate(v uint64) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.gates[v]
	if !ok {
		c = make(chan struct{})
		g.gates[v] = c
	}
	return c
}

func (g *gatedCompose) compose(ctx context.Context, job Job) (image.Image, error) {
	g.start <- job.Version
	select {
	case <-g.gate(job.Version):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return image.NewRGBA(image.Rect(0, 0, 2, 2)), nil
}

func waitStarted(t *testing.T, g *gatedCompose, want uint64) {
	t.Helper()
	select {
	case v := <-g.start:
		if v != want {
			t.Fatalf("started v%d, want v%d", v, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("v%d never started", want)
	}
}

func TestOlderCompletionIsDiscarded(t *testing.T) {
	store := sketchStore(t)
	reg := prometheus.NewRegistry()
	m := telemetry.New(reg)
	g := newGated()
	applied := make(chan domain.Artifact, 4)
	e := New("n1", store, g.compose, memEncode, Options{
		Debounce:  time.Hour,
		Metrics:   m,
		OnApplied: func(a domain.Artifact) { applied <- a },
	})

	e.Trigger()
	if !e.Flush() {
		t.Fatalf("flush should fire the pending export")
	}
	waitStarted(t, g, 1)
	e.Trigger()
	e.Flush()
	waitStarted(t, g, 2)

	close(g.gate(2))
	select {
	case a := <-applied:
		if a.Version != 2 || a.URL != "mem://n1/2" {
			t.Fatalf("applied = %+v", a)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("v2 never applied")
	}

	close(g.gate(1))
	e.Close()

	node, _ := store.Get("n1")
	if node.Artifact == nil || node.Artifact.Version != 2 || node.Artifact.URL != "mem://n1/2" {
		t.Fatalf("artifact = %+v", node.Artifact)
	}
	if e.Applied() != 2 || e.Issued() != 2 {
		t.Fatalf("applied=%d issued=%d", e.Applied(), e.Issued())
	}
	if v := counterValue(t, reg, "canvasedit_export_stale_total"); v != 1 {
		t.Fatalf("stale = %v", v)
	}
	if v := counterValue(t, reg, "canvasedit_export_applied_total"); v != 1 {
		t.Fatalf("applied = %v", v)
	}
}

// counterValue sums every series of a gathered counter family.
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var sum float64
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
	}
	return sum
}

func TestDebounceCoalescesBursts(t *testing.T) {
	store := sketchStore(t)
	var calls atomic.Int32
	done := make(chan struct{}, 4)
	e := New("n1", store, func(ctx context.Context, j Job) (image.Image, error) {
		calls.Add(1)
		return blankCompose(ctx, j)
	}, memEncode, Options{
		Debounce:  100 * time.Millisecond,
		OnApplied: func(domain.Artifact) { done <- struct{}{} },
	})
	defer e.Close()

	for i := 0; i < 10; i++ {
		e.Trigger()
		time.Sleep(2 * time.Millisecond)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("debounced export never ran")
	}
	time.Sleep(150 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Fatalf("compose calls = %d, want 1", n)
	}
	node, _ := store.Get("n1")
	if node.Artifact == nil || node.Artifact.Version != 1 || node.Artifact.Width != 4 || node.Artifact.Height != 3 {
		t.Fatalf("artifact = %+v", node.Artifact)
	}
	if node.Artifact.CacheBust == "" {
		t.Fatalf("cache-bust token missing")
	}
}

func TestTimeoutCountsAsFailure(t *testing.T) {
	store := sketchStore(t)
	reg := prometheus.NewRegistry()
	m := telemetry.New(reg)
	var reported error
	e := New("n1", store, func(ctx context.Context, _ Job) (image.Image, error) {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return nil, ctx.Err()
	}, memEncode, Options{
		Timeout: 20 * time.Millisecond,
		Metrics: m,
		OnError: func(err error) { reported = err },
	})
	defer e.Close()

	_, err := e.SaveNow(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if !errors.Is(reported, ErrTimeout) {
		t.Fatalf("OnError got %v", reported)
	}
	if node, _ := store.Get("n1"); node.Artifact != nil {
		t.Fatalf("failed export must not commit an artifact")
	}
	if n, err := testutil.GatherAndCount(reg, "canvasedit_export_failed_total"); err != nil || n != 1 {
		t.Fatalf("failed series = %d (%v)", n, err)
	}
	if v := counterValue(t, reg, "canvasedit_export_failed_total"); v != 1 {
		t.Fatalf("failed = %v", v)
	}
}

func TestSaveNowFoldsPendingTrigger(t *testing.T) {
	store := sketchStore(t)
	e := New("n1", store, blankCompose, memEncode, Options{Debounce: time.Hour})
	e.Trigger()
	if !e.Pending() {
		t.Fatalf("trigger should leave a pending export")
	}
	art, err := e.SaveNow(context.Background())
	if err != nil {
		t.Fatalf("save now: %v", err)
	}
	if e.Pending() {
		t.Fatalf("save now should cancel the pending export")
	}
	if art.Version != 1 {
		t.Fatalf("version = %d", art.Version)
	}
	e.Close()
	if _, err := e.SaveNow(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("after close err = %v", err)
	}
	e.Trigger()
	if e.Pending() {
		t.Fatalf("closed exporter must not schedule")
	}
}

func TestVersionsResumeFromAppliedArtifact(t *testing.T) {
	store := sketchStore(t)
	store.Commit("n1", nodestore.Patch{Artifact: &domain.Artifact{Version: 7, URL: "old"}})
	e := New("n1", store, blankCompose, memEncode, Options{})
	defer e.Close()
	art, err := e.SaveNow(context.Background())
	if err != nil || art.Version != 8 {
		t.Fatalf("art=%+v err=%v", art, err)
	}
}

func TestMissingNodeIsReported(t *testing.T) {
	e := New("ghost", nodestore.New(), blankCompose, memEncode, Options{})
	defer e.Close()
	if _, err := e.SaveNow(context.Background()); !errors.Is(err, ErrNoState) {
		t.Fatalf("err = %v", err)
	}
}

func TestDebouncerFlushAndCancel(t *testing.T) {
	var n atomic.Int32
	d := NewDebouncer(time.Hour, func() { n.Add(1) })
	if d.Flush() {
		t.Fatalf("flush without pending firing should report false")
	}
	if d.Schedule() {
		t.Fatalf("first schedule replaces nothing")
	}
	if !d.Schedule() {
		t.Fatalf("second schedule should replace the first")
	}
	if !d.Flush() || n.Load() != 1 {
		t.Fatalf("flush should run once, n=%d", n.Load())
	}
	d.Schedule()
	if !d.Cancel() || d.Pending() {
		t.Fatalf("cancel should drop the firing")
	}
	d.Stop()
	d.Schedule()
	if d.Pending() {
		t.Fatalf("stopped debouncer must not schedule")
	}
}
