/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package sketch

import "canvasedit/internal/domain"

// History is the linear undo/redo model over committed strokes. The committed list doubles as the
// undo stack; undone strokes are kept on the redo stack as groups. It is not safe for concurrent use.
type History struct {
	committed []domain.Stroke
	redo      [][]domain.Stroke
	// MaxRedo caps redo depth (0 means unlimited); the oldest groups are dropped first.
	MaxRedo int
}

// NewHistory starts from previously committed strokes, e.g. resumed node state.
func NewHistory(committed []domain.Stroke) *History {
	return &History{committed: domain.CloneStrokes(committed)}
}

// Push commits a stroke and invalidates redo.
func (h *History) Push(s domain.Stroke) {
	h.committed = append(h.committed, s.Clone())
	h.redo = nil
}

// Undo moves the last committed stroke onto the redo stack as a single-element group.
func (h *History) Undo() (domain.Stroke, bool) {
	n := len(h.committed)
	if n == 0 {
		return domain.Stroke{}, false
	}
	s := h.committed[n-1]
	h.committed = h.committed[:n-1]
	h.redo = append(h.redo, []domain.Stroke{s})
	if h.MaxRedo > 0 && len(h.redo) > h.MaxRedo {
		h.redo = append([][]domain.Stroke(nil), h.redo[len(h.redo)-h.MaxRedo:]...)
	}
	return s, true
}

// Redo pops the last group and appends its strokes in original order.
func (h *History) Redo() ([]domain.Stroke, bool) {
	n := len(h.redo)
	if n == 0 {
		return nil, false
	}
	g := h.redo[n-1]
	h.redo = h.redo[:n-1]
	h.committed = append(h.committed, g...)
	return g, true
}

// Clear drops committed strokes and redo history. It cannot be undone.
func (h *History) Clear() {
	h.committed = nil
	h.redo = nil
}

// Committed returns a copy of the committed strokes in order.
func (h *History) Committed() []domain.Stroke { return domain.CloneStrokes(h.committed) }

// RedoGroups returns a copy of the redo stack, oldest group first.
func (h *History) RedoGroups() [][]domain.Stroke {
	out := make([][]domain.Stroke, len(h.redo))
	for i, g := range h.redo {
		out[i] = domain.CloneStrokes(g)
	}
	return out
}

func (h *History) CanUndo() bool { return len(h.committed) > 0 }
func (h *History) CanRedo() bool { return len(h.redo) > 0 }

// Stats returns sizes for diagnostics.
func (h *History) Stats() (strokes, points, redoGroups int) {
	for _, s := range h.committed {
		points += len(s.Points)
	}
	return len(h.committed), points, len(h.redo)
}
