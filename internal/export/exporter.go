/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package export turns durable node state into stored raster artifacts without blocking editing.
// Automatic exports are debounced; every export carries a version and only the newest completed
// version is ever applied to the node.
package export

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"canvasedit/internal/domain"
	applog "canvasedit/internal/log"
	"canvasedit/internal/nodestore"
	"canvasedit/internal/telemetry"
)

// DefaultTimeout bounds a single export.
const DefaultTimeout = 30 * time.Second

var (
	ErrClosed  = errors.New("exporter closed")
	ErrTimeout = errors.New("export timed out")
	ErrStale   = errors.New("export superseded by a newer version")
	ErrNoState = errors.New("node has no durable state")
)

// Job is the snapshot one export works from.
type Job struct {
	Version uint64
	State   domain.NodeState
}

// Composer renders a job into a raster.
type Composer func(ctx context.Context, job Job) (image.Image, error)

// EncodeAndStore persists a raster and returns a URL for it.
type EncodeAndStore func(ctx context.Context, nodeID string, version uint64, img image.Image) (string, error)

// Store is the node store as seen by the exporter.
type Store interface {
	nodestore.Reader
	nodestore.Committer
}

// Options tune an Exporter. Zero values pick the defaults.
type Options struct {
	Debounce time.Duration
	Timeout  time.Duration
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger
	// OnError receives every failed export; it must not block.
	OnError func(error)
	// OnApplied is called after an artifact was committed.
	OnApplied func(domain.Artifact)
}

// Exporter owns the debounce timer and version counter of one node.
type Exporter struct {
	nodeID  string
	store   Store
	compose Composer
	encode  EncodeAndStore
	opt     Options
	log     *slog.Logger
	deb     *Debouncer
	now     func() time.Time

	mu      sync.Mutex
	issued  uint64
	closed  bool
	running sync.WaitGroup

	applyMu sync.Mutex
	applied uint64
}

func New(nodeID string, store Store, compose Composer, encode EncodeAndStore, opt Options) *Exporter {
	if opt.Timeout <= 0 {
		opt.Timeout = DefaultTimeout
	}
	l := opt.Logger
	if l == nil {
		l = applog.WithComponent("export")
	}
	e := &Exporter{
		nodeID:  nodeID,
		store:   store,
		compose: compose,
		encode:  encode,
		opt:     opt,
		log:     applog.WithNode(l, nodeID),
		now:     time.Now,
	}
	if st, ok := store.Get(nodeID); ok && st.Artifact != nil {
		e.issued = st.Artifact.Version
		e.applied = st.Artifact.Version
	}
	e.deb = NewDebouncer(opt.Debounce, e.fire)
	return e
}

// Trigger schedules a debounced export.
func (e *Exporter) Trigger() {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return
	}
	e.opt.Metrics.ExportScheduled()
	if e.deb.Schedule() {
		e.opt.Metrics.DebounceReset()
	}
}

// Flush starts a pending debounced export now. It does not wait for it to finish.
func (e *Exporter) Flush() bool { return e.deb.Flush() }

// Pending reports whether a debounced export is waiting for quiet input.
func (e *Exporter) Pending() bool { return e.deb.Pending() }

// SaveNow exports immediately and waits for the result. A pending debounced export is folded into it.
func (e *Exporter) SaveNow(ctx context.Context) (domain.Artifact, error) {
	e.deb.Cancel()
	job, err := e.capture()
	if err != nil {
		return domain.Artifact{}, err
	}
	defer e.running.Done()
	return e.run(ctx, job)
}

// Applied is the version of the artifact currently committed.
func (e *Exporter) Applied() uint64 {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()
	return e.applied
}

// Issued is the highest version handed out so far.
func (e *Exporter) Issued() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.issued
}

// Close stops the debounce timer and waits for in-flight exports.
func (e *Exporter) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.deb.Stop()
	e.running.Wait()
}

func (e *Exporter) fire() {
	job, err := e.capture()
	if err != nil {
		e.log.Debug("debounced export skipped", slog.Any("err", err))
		return
	}
	go func() {
		defer e.running.Done()
		_, _ = e.run(context.Background(), job)
	}()
}

// capture snapshots durable state and assigns the next version. On success the caller owns one
// count on e.running.
func (e *Exporter) capture() (Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return Job{}, ErrClosed
	}
	st, ok := e.store.Get(e.nodeID)
	if !ok {
		return Job{}, ErrNoState
	}
	e.issued++
	e.running.Add(1)
	return Job{Version: e.issued, State: st}, nil
}

type result struct {
	url string
	img image.Image
	err error
}

func (e *Exporter) run(parent context.Context, job Job) (domain.Artifact, error) {
	ctx, cancel := context.WithTimeout(parent, e.opt.Timeout)
	defer cancel()
	ctx = applog.WithExportVersion(ctx, job.Version)
	start := e.now()
	e.opt.Metrics.ExportStarted()
	e.log.DebugContext(ctx, "export started")

	done := make(chan result, 1)
	go func() {
		img, err := e.compose(ctx, job)
		if err != nil {
			done <- result{err: fmt.Errorf("compose: %w", err)}
			return
		}
		url, err := e.encode(ctx, e.nodeID, job.Version, img)
		if err != nil {
			done <- result{err: fmt.Errorf("store: %w", err)}
			return
		}
		done <- result{url: url, img: img}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		// the worker keeps running; its result is dropped
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.err = ErrTimeout
		} else {
			res.err = ctx.Err()
		}
	}
	e.opt.Metrics.ExportFinished(e.now().Sub(start))
	return e.complete(ctx, job, res)
}

func (e *Exporter) complete(ctx context.Context, job Job, res result) (domain.Artifact, error) {
	if res.err != nil {
		reason := telemetry.ReasonError
		if errors.Is(res.err, ErrTimeout) {
			reason = telemetry.ReasonTimeout
		}
		e.opt.Metrics.ExportFailed(reason)
		err := fmt.Errorf("export v%d of %s: %w", job.Version, e.nodeID, res.err)
		e.log.ErrorContext(ctx, "export failed", slog.Any("err", res.err))
		if e.opt.OnError != nil {
			e.opt.OnError(err)
		}
		return domain.Artifact{}, err
	}

	b := res.img.Bounds()
	art := domain.Artifact{
		Version:   job.Version,
		URL:       res.url,
		CacheBust: fmt.Sprintf("%d-%d", job.Version, e.now().UnixMilli()),
		Width:     b.Dx(),
		Height:    b.Dy(),
		CreatedAt: e.now().UTC(),
	}

	e.applyMu.Lock()
	if job.Version <= e.applied {
		current := e.applied
		e.applyMu.Unlock()
		e.opt.Metrics.ExportStale()
		e.log.InfoContext(ctx, "stale export discarded", slog.Uint64("applied_version", current))
		return art, fmt.Errorf("export v%d: %w (applied v%d)", job.Version, ErrStale, current)
	}
	e.applied = job.Version
	// committed under applyMu so an older completion can never land after a newer one
	e.store.Commit(e.nodeID, nodestore.Patch{Artifact: &art})
	e.applyMu.Unlock()

	e.opt.Metrics.ExportApplied()
	e.log.InfoContext(ctx, "export applied", slog.String("url", art.URL), slog.Int("width", art.Width), slog.Int("height", art.Height))
	if e.opt.OnApplied != nil {
		e.opt.OnApplied(art)
	}
	return art, nil
}
