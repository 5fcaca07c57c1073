/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package crop implements the interactive crop window of a crop node: pointer gestures resize or move
// a live rectangle, releasing commits it, and Apply extracts the committed region into a derived image.
// The engine is driven from a single event loop and is not safe for concurrent use.
package crop

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"canvasedit/internal/domain"
	"canvasedit/internal/geom"
	applog "canvasedit/internal/log"
	"canvasedit/internal/nodestore"
	"canvasedit/internal/render"
)

// DefaultHandleTolerance is how far (image pixels) from a handle a pointer may land and still grab it.
const DefaultHandleTolerance = 8

var (
	ErrInvalidDimension = errors.New("invalid dimension")
	ErrNotLoaded        = errors.New("image not loaded")
	ErrBusy             = errors.New("crop gesture in progress")
	ErrNoSource         = errors.New("no image source")
)

// State is the gesture state of the engine.
type State uint8

const (
	Idle State = iota
	Dragging
)

func (s State) String() string {
	if s == Dragging {
		return "dragging"
	}
	return "idle"
}

// Session is the ephemeral state of one drag gesture.
type Session struct {
	Base      geom.Rect
	DragStart geom.Point
	Handle    geom.Handle
	Ratio     geom.AspectRatio
}

// ImageSource yields the full-resolution source image.
type ImageSource interface {
	Image(ctx context.Context) (image.Image, error)
}

// SourceFunc adapts a function to ImageSource.
type SourceFunc func(ctx context.Context) (image.Image, error)

func (f SourceFunc) Image(ctx context.Context) (image.Image, error) { return f(ctx) }

// EncodeAndStore persists a derived image and returns its URL.
type EncodeAndStore func(ctx context.Context, nodeID string, img image.Image) (string, error)

// Store is the slice of the node store the engine needs.
type Store interface {
	nodestore.Committer
	nodestore.Reader
}

// Scheduler is told when the node's visible output changes: after Apply and Reset.
type Scheduler interface {
	Trigger()
}

type Options struct {
	MinSize         float64
	HandleTolerance float64
	Scheduler       Scheduler
	Logger          *slog.Logger
}

// Engine owns the live rectangle and gesture session of one crop node.
type Engine struct {
	nodeID string
	store  Store
	src    ImageSource
	encode EncodeAndStore
	sched  Scheduler
	log    *slog.Logger

	minSize float64
	tol     float64
	inv     geom.Affine2D

	state State
	sess  Session
	live  geom.Rect
}

// New creates an engine for nodeID. Committed crop state already in store is resumed.
func New(nodeID string, store Store, src ImageSource, encode EncodeAndStore, opts Options) *Engine {
	if opts.MinSize <= 0 {
		opts.MinSize = geom.DefaultMinSize
	}
	if opts.HandleTolerance <= 0 {
		opts.HandleTolerance = DefaultHandleTolerance
	}
	l := opts.Logger
	if l == nil {
		l = applog.WithComponent("crop")
	}
	e := &Engine{
		nodeID:  nodeID,
		store:   store,
		src:     src,
		encode:  encode,
		sched:   opts.Scheduler,
		log:     applog.WithNode(l, nodeID),
		minSize: opts.MinSize,
		tol:     opts.HandleTolerance,
		inv:     geom.Identity,
	}
	e.live = e.CommittedRect()
	return e
}

func (e *Engine) node() domain.NodeState {
	st, _ := e.store.Get(e.nodeID)
	return st
}

func (e *Engine) bounds() geom.Size { return e.node().ImageSize }

// Loaded reports whether the natural image size is known.
func (e *Engine) Loaded() bool { return !e.bounds().Empty() }

// SetImageSize records the natural image dimensions. A committed rectangle that no longer fits is
// repaired; without one the window covers the whole image.
func (e *Engine) SetImageSize(size geom.Size) error {
	if size.Empty() || math.IsInf(size.W, 0) || math.IsInf(size.H, 0) {
		return fmt.Errorf("%w: image size %vx%v", ErrInvalidDimension, size.W, size.H)
	}
	st := e.node()
	r := geom.FullRect(size)
	if st.Crop != nil {
		r = geom.Clamp(*st.Crop, size, e.minSize)
	}
	if st.Ratio.Locked() {
		r = geom.FitRatio(r, st.Ratio, size, e.minSize)
	}
	e.state = Idle
	e.live = r
	e.commit(nodestore.Patch{ImageSize: &size, Crop: &r})
	e.log.Debug("image size set", slog.Float64("w", size.W), slog.Float64("h", size.H))
	return nil
}

// SetView installs the transform from image space to pointer space. Pointer positions are mapped back
// through its inverse.
func (e *Engine) SetView(m geom.Affine2D) error {
	inv, ok := m.Invert()
	if !ok {
		return fmt.Errorf("%w: view transform is not invertible", ErrInvalidDimension)
	}
	e.inv = inv
	return nil
}

// PointerDown starts a gesture if p lands on the window or one of its handles. Shift locks the current
// shape for this gesture when no ratio is set.
func (e *Engine) PointerDown(p geom.Point, mods domain.Modifiers) bool {
	if e.state == Dragging || !e.Loaded() || !p.Finite() {
		return false
	}
	q := e.inv.Apply(p)
	h, ok := geom.HitTest(e.live, q, e.tol)
	if !ok {
		return false
	}
	ratio := e.node().Ratio
	if !ratio.Locked() && mods.Shift {
		ratio = geom.RatioOf(e.live)
	}
	e.sess = Session{Base: e.live, DragStart: q, Handle: h, Ratio: ratio}
	e.state = Dragging
	e.log.Debug("drag started", slog.String("handle", h.String()), slog.String("ratio", ratio.String()))
	return true
}

// PointerMove updates the live rectangle from the cumulative delta. Nothing is committed.
func (e *Engine) PointerMove(p geom.Point) bool {
	if e.state != Dragging {
		return false
	}
	if !p.Finite() {
		return true
	}
	q := e.inv.Apply(p)
	e.live = geom.Resize(e.sess.Base, e.sess.Handle, q.Sub(e.sess.DragStart), e.sess.Ratio, e.bounds(), e.minSize)
	return true
}

// PointerUp applies the final position and commits.
func (e *Engine) PointerUp(p geom.Point) bool {
	if !e.PointerMove(p) {
		return false
	}
	return e.finish()
}

// PointerLeave commits the live rectangle as it stands.
func (e *Engine) PointerLeave() bool {
	if e.state != Dragging {
		return false
	}
	return e.finish()
}

func (e *Engine) finish() bool {
	e.state = Idle
	r := e.live
	if st := e.node(); st.Crop != nil && *st.Crop == r {
		return true
	}
	e.commit(nodestore.Patch{Crop: &r})
	e.log.Debug("crop committed", slog.Float64("x", r.X), slog.Float64("y", r.Y), slog.Float64("w", r.W), slog.Float64("h", r.H))
	return true
}

// SetAspectRatio locks (or frees) the ratio and reshapes the committed window to it, keeping its
// top-left corner and width where the image allows. Before the image size is known only the ratio is stored.
func (e *Engine) SetAspectRatio(r geom.AspectRatio) error {
	if e.state == Dragging {
		return ErrBusy
	}
	if r != geom.Free {
		if _, err := geom.NewRatio(r.W, r.H); err != nil {
			return err
		}
	}
	if !e.Loaded() {
		e.commit(nodestore.Patch{Ratio: &r})
		return nil
	}
	rect := geom.FitRatio(e.CommittedRect(), r, e.bounds(), e.minSize)
	e.live = rect
	e.commit(nodestore.Patch{Ratio: &r, Crop: &rect})
	e.log.Info("aspect ratio set", slog.String("ratio", r.String()))
	return nil
}

// SetAspectRatioString parses a preset such as "16:9" or "free" and applies it.
func (e *Engine) SetAspectRatioString(s string) error {
	r, err := geom.ParseRatio(s)
	if err != nil {
		return err
	}
	return e.SetAspectRatio(r)
}

// SetWidth handles numeric width entry: the east edge moves, the top-left stays. Invalid text leaves
// durable state untouched and resets the live window to the committed one.
func (e *Engine) SetWidth(text string) error {
	return e.setDimension(text, geom.ResizeWidth)
}

// SetHeight is SetWidth for the south edge.
func (e *Engine) SetHeight(text string) error {
	return e.setDimension(text, geom.ResizeHeight)
}

type dimFunc func(base geom.Rect, v float64, ratio geom.AspectRatio, bounds geom.Size, minSize float64) geom.Rect

func (e *Engine) setDimension(text string, resize dimFunc) error {
	if e.state == Dragging {
		return ErrBusy
	}
	if !e.Loaded() {
		return ErrNotLoaded
	}
	v, err := parseDimension(text)
	if err != nil {
		e.live = e.CommittedRect()
		return err
	}
	st := e.node()
	r := resize(e.CommittedRect(), v, st.Ratio, st.ImageSize, e.minSize)
	e.live = r
	e.commit(nodestore.Patch{Crop: &r})
	return nil
}

func parseDimension(text string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDimension, text)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDimension, text)
	}
	return v, nil
}

// Apply extracts the committed region from the source image, stores the derived image and commits its
// URL. It is the only operation that changes the node's visible output.
func (e *Engine) Apply(ctx context.Context) (string, error) {
	if !e.Loaded() {
		return "", ErrNotLoaded
	}
	if e.src == nil || e.encode == nil {
		return "", ErrNoSource
	}
	l := applog.WithOperation(e.log, "apply")
	img, err := e.src.Image(ctx)
	if err != nil {
		return "", fmt.Errorf("load source: %w", err)
	}
	r := e.CommittedRect()
	// the source may be larger than the reported size (e.g. a downscaled preview drove the gesture)
	if sz := render.SizeOf(img); sz != e.bounds() {
		r = scaleRect(r, e.bounds(), sz)
	}
	out, err := render.CropImage(img, r)
	if err != nil {
		return "", err
	}
	url, err := e.encode(ctx, e.nodeID, out)
	if err != nil {
		return "", fmt.Errorf("store cropped image: %w", err)
	}
	e.commit(nodestore.Patch{CroppedURL: &url})
	e.publish()
	l.Info("crop applied", slog.String("url", url), slog.Int("w", out.Bounds().Dx()), slog.Int("h", out.Bounds().Dy()))
	return url, nil
}

func scaleRect(r geom.Rect, from, to geom.Size) geom.Rect {
	sx, sy := to.W/from.W, to.H/from.H
	return geom.Rect{X: r.X * sx, Y: r.Y * sy, W: r.W * sx, H: r.H * sy}
}

// Reset makes the window cover the whole image and drops the derived image. A locked ratio is freed
// as well: the full image rarely has the locked proportion.
func (e *Engine) Reset() error {
	if !e.Loaded() {
		return ErrNotLoaded
	}
	e.state = Idle
	full := geom.FullRect(e.bounds())
	free := geom.Free
	empty := ""
	e.live = full
	e.commit(nodestore.Patch{Crop: &full, Ratio: &free, CroppedURL: &empty})
	e.publish()
	e.log.Info("crop reset")
	return nil
}

// LiveRect is the rectangle shown to the user, including an uncommitted gesture.
func (e *Engine) LiveRect() geom.Rect { return e.live }

// CommittedRect is the durable crop, or the full image when none was committed.
func (e *Engine) CommittedRect() geom.Rect {
	st := e.node()
	if st.Crop != nil {
		return *st.Crop
	}
	return geom.FullRect(st.ImageSize)
}

func (e *Engine) State() State { return e.state }

// Session returns the gesture in progress.
func (e *Engine) Session() (Session, bool) { return e.sess, e.state == Dragging }

func (e *Engine) Ratio() geom.AspectRatio { return e.node().Ratio }

func (e *Engine) commit(p nodestore.Patch) { e.store.Commit(e.nodeID, p) }

func (e *Engine) publish() {
	if e.sched != nil {
		e.sched.Trigger()
	}
}
