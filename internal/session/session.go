/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package session wires one editor node: the node store, the crop or sketch engine, the exporter
// and the artifact backend.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync"
	"time"

	"canvasedit/internal/backend"
	"canvasedit/internal/config"
	"canvasedit/internal/crash"
	"canvasedit/internal/crop"
	"canvasedit/internal/domain"
	"canvasedit/internal/export"
	"canvasedit/internal/geom"
	applog "canvasedit/internal/log"
	"canvasedit/internal/nodestore"
	"canvasedit/internal/render"
	"canvasedit/internal/sketch"
	"canvasedit/internal/storage"
	"canvasedit/internal/telemetry"
)

var (
	ErrNotFound     = errors.New("node not found")
	ErrWrongKind    = errors.New("operation does not apply to this node kind")
	ErrUnknownStore = errors.New("unknown storage driver")
)

// Backend persists node state and artifacts. Both the sqlite store and the Postgres store satisfy it.
type Backend interface {
	SaveNode(ctx context.Context, st domain.NodeState) error
	LoadNode(ctx context.Context, id string) (domain.NodeState, error)
	EncodeAndStore(ctx context.Context, nodeID string, version uint64, img image.Image) (string, error)
	LoadImage(ctx context.Context, url string) (image.Image, error)
	PruneNode(ctx context.Context, nodeID string, keepVersion uint64) (int64, error)
	Close() error
}

var (
	_ Backend = (*storage.DB)(nil)
	_ Backend = (*backend.PG)(nil)
)

// OpenBackend opens the store selected by cfg.Driver.
func OpenBackend(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite":
		return storage.Open(cfg.DataDir, storage.Options{MaxBytes: cfg.MaxBytes})
	case "postgres", "pg":
		return backend.OpenPG(ctx, cfg.DSN)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStore, cfg.Driver)
}

// Options configure a session.
type Options struct {
	Config  config.AppConfig
	Metrics *telemetry.Metrics
	Logger  *slog.Logger
	// OnError receives failed exports.
	OnError func(error)
}

// Session is one open node.
type Session struct {
	nodeID string
	kind   domain.Kind
	be     Backend
	store  *nodestore.Store
	exp    *export.Exporter
	log    *slog.Logger
	unsub  func()

	// exactly one of these is set, matching kind; filter nodes have neither
	crop   *crop.Engine
	sketch *sketch.Engine

	closeOnce sync.Once
	closeErr  error
}

// New starts a session for a fresh node.
func New(ctx context.Context, be Backend, st domain.NodeState, opts Options) (*Session, error) {
	if st.NodeID == "" {
		return nil, errors.New("node id is required")
	}
	if _, err := domain.ParseKind(string(st.Kind)); err != nil {
		return nil, err
	}
	s := open(be, st, opts)
	if s.crop != nil && !s.crop.Ratio().Locked() {
		if r := opts.Config.Crop.DefaultRatio; r != "" && !strings.EqualFold(r, "free") {
			if err := s.crop.SetAspectRatioString(r); err != nil {
				s.log.Warn("default ratio ignored", slog.String("ratio", r), slog.Any("err", err))
			}
		}
	}
	if err := s.Save(ctx); err != nil {
		s.shutdown()
		return nil, err
	}
	return s, nil
}

// Resume reopens a node persisted in be.
func Resume(ctx context.Context, be Backend, nodeID string, opts Options) (*Session, error) {
	st, err := be.LoadNode(ctx, nodeID)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, backend.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, nodeID)
	}
	if err != nil {
		return nil, err
	}
	return open(be, st, opts), nil
}

func open(be Backend, st domain.NodeState, opts Options) *Session {
	l := opts.Logger
	if l == nil {
		l = applog.WithComponent("session")
	}
	cfg := opts.Config
	s := &Session{
		nodeID: st.NodeID,
		kind:   st.Kind,
		be:     be,
		store:  nodestore.New(),
		log:    applog.WithNode(l, st.NodeID),
	}
	s.store.Put(st)
	m := opts.Metrics
	s.unsub = s.store.Subscribe(func(st domain.NodeState) { m.Commit(string(st.Kind)) })

	s.exp = export.New(st.NodeID, s.store, export.NewComposer(be.LoadImage), be.EncodeAndStore, export.Options{
		Debounce:  cfg.Export.Debounce(),
		Timeout:   cfg.Export.Timeout(),
		Metrics:   m,
		OnError:   opts.OnError,
		OnApplied: s.pruneBefore,
	})

	switch st.Kind {
	case domain.KindCrop:
		src := crop.SourceFunc(func(ctx context.Context) (image.Image, error) {
			cur, _ := s.store.Get(s.nodeID)
			if cur.ImageURL == "" {
				return nil, crop.ErrNoSource
			}
			return be.LoadImage(ctx, cur.ImageURL)
		})
		encode := func(ctx context.Context, nodeID string, img image.Image) (string, error) {
			return be.EncodeAndStore(ctx, nodeID, storage.DerivedVersion, img)
		}
		s.crop = crop.New(st.NodeID, s.store, src, encode, crop.Options{
			MinSize:         cfg.Crop.MinSize,
			HandleTolerance: cfg.Crop.HandleTolerance,
			Scheduler:       s.exp,
		})
	case domain.KindSketch:
		s.sketch = sketch.New(st.NodeID, s.store, s.exp, sketch.Options{})
	}
	s.log.Info("session opened", slog.String("kind", string(st.Kind)))
	return s
}

// pruneBefore drops export artifacts superseded by the one just applied.
func (s *Session) pruneBefore(a domain.Artifact) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if n, err := s.be.PruneNode(ctx, s.nodeID, a.Version); err != nil {
		s.log.Warn("prune artifacts failed", slog.Any("err", err))
	} else if n > 0 {
		s.log.Debug("artifacts pruned", slog.Int64("count", n), slog.Uint64("kept_from", a.Version))
	}
}

func (s *Session) NodeID() string { return s.nodeID }

func (s *Session) Kind() domain.Kind { return s.kind }

// Exporter is the node's export trigger.
func (s *Session) Exporter() *export.Exporter { return s.exp }

// State returns the current durable state.
func (s *Session) State() domain.NodeState {
	st, _ := s.store.Get(s.nodeID)
	return st
}

// Crop returns the crop engine; ErrWrongKind for other nodes.
func (s *Session) Crop() (*crop.Engine, error) {
	if s.crop == nil {
		return nil, fmt.Errorf("%w: %s is a %s node", ErrWrongKind, s.nodeID, s.kind)
	}
	return s.crop, nil
}

// Sketch returns the sketch engine; ErrWrongKind for other nodes.
func (s *Session) Sketch() (*sketch.Engine, error) {
	if s.sketch == nil {
		return nil, fmt.Errorf("%w: %s is a %s node", ErrWrongKind, s.nodeID, s.kind)
	}
	return s.sketch, nil
}

// LoadSource points the node at a new source image and records its size.
// Sketch nodes use it as their background.
func (s *Session) LoadSource(ctx context.Context, url string) (geom.Size, error) {
	img, err := s.be.LoadImage(ctx, url)
	if err != nil {
		return geom.Size{}, fmt.Errorf("load source: %w", err)
	}
	size := render.SizeOf(img)
	switch s.kind {
	case domain.KindSketch:
		bg := s.State().Background
		bg.URL = url
		s.store.Commit(s.nodeID, nodestore.Patch{ImageURL: &url, ImageSize: &size, Background: &bg})
		s.exp.Trigger()
	case domain.KindCrop:
		s.store.Commit(s.nodeID, nodestore.Patch{ImageURL: &url})
		if err := s.crop.SetImageSize(size); err != nil {
			return geom.Size{}, err
		}
	default:
		s.store.Commit(s.nodeID, nodestore.Patch{ImageURL: &url, ImageSize: &size})
		s.exp.Trigger()
	}
	return size, nil
}

// LoadImage resolves url through the session's backend.
func (s *Session) LoadImage(ctx context.Context, url string) (image.Image, error) {
	return s.be.LoadImage(ctx, url)
}

// SetFilters replaces the filter parameters of a filter node. Values are clamped to their ranges.
func (s *Session) SetFilters(f domain.Filters) error {
	if s.kind != domain.KindFilter {
		return fmt.Errorf("%w: %s is a %s node", ErrWrongKind, s.nodeID, s.kind)
	}
	c := f.Clamped()
	s.store.Commit(s.nodeID, nodestore.Patch{Filters: &c})
	s.exp.Trigger()
	return nil
}

// Save persists the current durable state.
func (s *Session) Save(ctx context.Context) error {
	if err := s.be.SaveNode(ctx, s.State()); err != nil {
		return fmt.Errorf("save node %s: %w", s.nodeID, err)
	}
	return nil
}

// CrashOptions returns crash handling that persists this session before the process exits.
func (s *Session) CrashOptions(dir string, m *telemetry.Metrics) crash.Options {
	return crash.Options{
		Dir:     dir,
		NodeID:  s.nodeID,
		Metrics: m,
		Flush: []func() error{func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return s.Save(ctx)
		}},
	}
}

// Close runs a pending export, waits for in-flight exports and persists the final state.
// The backend stays open; it belongs to the caller.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.exp.Flush()
		s.shutdown()
		s.closeErr = s.Save(ctx)
		s.log.Info("session closed")
	})
	return s.closeErr
}

func (s *Session) shutdown() {
	s.exp.Close()
	if s.unsub != nil {
		s.unsub()
	}
}
