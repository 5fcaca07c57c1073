/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package sketch records freehand strokes for a sketch node and keeps linear undo/redo over them.
// The engine is driven from a single event loop and is not safe for concurrent use.
package sketch

import (
	"log/slog"
	"math"

	"github.com/google/uuid"

	"canvasedit/internal/domain"
	"canvasedit/internal/geom"
	applog "canvasedit/internal/log"
	"canvasedit/internal/nodestore"
)

// Store is the slice of the node store the engine needs.
type Store interface {
	nodestore.Committer
	nodestore.Reader
}

// Scheduler is told whenever committed strokes change; the export trigger implements it.
type Scheduler interface {
	Trigger()
}

// Options configure tool defaults.
type Options struct {
	Color domain.Color
	Width float64
	// MinPointDistance drops extension points closer than this to the previous one.
	MinPointDistance float64
	// MaxRedo caps the redo stack (0 = unlimited).
	MaxRedo int
	Logger  *slog.Logger
}

// Engine owns the live stroke and history of one sketch node.
type Engine struct {
	nodeID string
	store  Store
	sched  Scheduler
	log    *slog.Logger

	hist *History
	live *domain.Stroke

	color  domain.Color
	width  float64
	eraser bool
	minDst float64
}

// New creates an engine for nodeID, resuming any strokes already committed in store.
// sched may be nil.
func New(nodeID string, store Store, sched Scheduler, opts Options) *Engine {
	if opts.Color == "" {
		opts.Color = "#000000"
	}
	if !(opts.Width > 0) {
		opts.Width = 4
	}
	l := opts.Logger
	if l == nil {
		l = applog.WithComponent("sketch")
	}
	e := &Engine{
		nodeID: nodeID,
		store:  store,
		sched:  sched,
		log:    applog.WithNode(l, nodeID),
		color:  opts.Color,
		width:  opts.Width,
		minDst: opts.MinPointDistance,
	}
	var committed []domain.Stroke
	if st, ok := store.Get(nodeID); ok {
		committed = st.Strokes
	}
	e.hist = NewHistory(committed)
	e.hist.MaxRedo = opts.MaxRedo
	return e
}

// SetColor, SetWidth and SetEraser change the tool used by the next pointer-down.
func (e *Engine) SetColor(c domain.Color) { e.color = c }

func (e *Engine) SetWidth(w float64) {
	if w > 0 && !math.IsInf(w, 0) {
		e.width = w
	}
}

func (e *Engine) SetEraser(on bool) { e.eraser = on }

// BeginStroke starts the live stroke at p. It is ignored while another stroke is live.
func (e *Engine) BeginStroke(p geom.Point, c domain.Color, width float64, eraser bool) bool {
	if e.live != nil {
		e.log.Debug("begin ignored, stroke already live", slog.String("stroke", e.live.ID))
		return false
	}
	if !(width > 0) {
		width = e.width
	}
	e.live = &domain.Stroke{
		ID:     uuid.NewString(),
		Points: []geom.Point{p},
		Color:  c,
		Width:  width,
		Eraser: eraser,
	}
	return true
}

// ExtendStroke appends p to the live stroke; no-op without one.
func (e *Engine) ExtendStroke(p geom.Point) bool {
	if e.live == nil {
		return false
	}
	last := e.live.Points[len(e.live.Points)-1]
	if e.minDst > 0 && math.Hypot(p.X-last.X, p.Y-last.Y) < e.minDst {
		return false
	}
	e.live.Points = append(e.live.Points, p)
	return true
}

// CommitStroke moves the live stroke into history, clears redo and persists the stroke list.
func (e *Engine) CommitStroke() bool {
	if e.live == nil {
		return false
	}
	s := *e.live
	e.live = nil
	e.hist.Push(s)
	e.log.Debug("stroke committed", slog.String("stroke", s.ID), slog.Int("points", len(s.Points)), slog.Bool("eraser", s.Eraser))
	e.persist()
	return true
}

// CancelStroke drops the live stroke without committing it.
func (e *Engine) CancelStroke() bool {
	if e.live == nil {
		return false
	}
	e.live = nil
	return true
}

// Undo removes the last committed stroke. Silent no-op when there is nothing to undo.
func (e *Engine) Undo() bool {
	if _, ok := e.hist.Undo(); !ok {
		return false
	}
	e.persist()
	return true
}

// Redo restores the most recently undone group. Silent no-op when the redo stack is empty.
func (e *Engine) Redo() bool {
	if _, ok := e.hist.Redo(); !ok {
		return false
	}
	e.persist()
	return true
}

// ClearAll empties committed strokes and redo history. It is not undoable.
func (e *Engine) ClearAll() {
	e.live = nil
	e.hist.Clear()
	e.log.Info("sketch cleared")
	e.persist()
}

// PointerDown starts a stroke with the current tool; holding Alt erases.
func (e *Engine) PointerDown(p geom.Point, mods domain.Modifiers) bool {
	return e.BeginStroke(p, e.color, e.width, e.eraser || mods.Alt)
}

func (e *Engine) PointerMove(p geom.Point) bool { return e.ExtendStroke(p) }

// PointerUp extends to the release point and commits.
func (e *Engine) PointerUp(p geom.Point) bool {
	if e.live == nil {
		return false
	}
	e.ExtendStroke(p)
	return e.CommitStroke()
}

// PointerLeave commits whatever was drawn so far.
func (e *Engine) PointerLeave() bool { return e.CommitStroke() }

// RenderableStrokes is committed strokes followed by the live stroke, if any.
func (e *Engine) RenderableStrokes() []domain.Stroke {
	out := e.hist.Committed()
	if e.live != nil {
		out = append(out, e.live.Clone())
	}
	return out
}

// Committed returns the committed strokes.
func (e *Engine) Committed() []domain.Stroke { return e.hist.Committed() }

// RedoGroups exposes the redo stack for inspection.
func (e *Engine) RedoGroups() [][]domain.Stroke { return e.hist.RedoGroups() }

// Live returns a copy of the live stroke.
func (e *Engine) Live() (domain.Stroke, bool) {
	if e.live == nil {
		return domain.Stroke{}, false
	}
	return e.live.Clone(), true
}

func (e *Engine) CanUndo() bool { return e.hist.CanUndo() }
func (e *Engine) CanRedo() bool { return e.hist.CanRedo() }

func (e *Engine) persist() {
	strokes := e.hist.Committed()
	e.store.Commit(e.nodeID, nodestore.Patch{Strokes: &strokes})
	if e.sched != nil {
		e.sched.Trigger()
	}
}
