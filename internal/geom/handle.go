/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package geom

import (
	"fmt"
	"math"
	"strings"
)

// Handle identifies what a drag moves: one of eight compass handles or, for None, the whole window.
type Handle uint8

const (
	HandleNone Handle = iota
	HandleN
	HandleS
	HandleE
	HandleW
	HandleNE
	HandleNW
	HandleSE
	HandleSW
)

var handleNames = [...]string{"none", "n", "s", "e", "w", "ne", "nw", "se", "sw"}

// Handles lists the eight resize handles.
var Handles = []Handle{HandleN, HandleS, HandleE, HandleW, HandleNE, HandleNW, HandleSE, HandleSW}

func (h Handle) String() string {
	if int(h) < len(handleNames) {
		return handleNames[h]
	}
	return fmt.Sprintf("handle(%d)", uint8(h))
}

// ParseHandle maps a compass name to a Handle.
func ParseHandle(s string) (Handle, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range handleNames {
		if n == s {
			return Handle(i), nil
		}
	}
	return HandleNone, fmt.Errorf("unknown handle %q", s)
}

func (h Handle) north() bool { return h == HandleN || h == HandleNE || h == HandleNW }
func (h Handle) south() bool { return h == HandleS || h == HandleSE || h == HandleSW }
func (h Handle) east() bool  { return h == HandleE || h == HandleNE || h == HandleSE }
func (h Handle) west() bool  { return h == HandleW || h == HandleNW || h == HandleSW }

// Corner reports whether h moves two edges.
func (h Handle) Corner() bool { return (h.north() || h.south()) && (h.east() || h.west()) }

// movesX/movesY report which dimensions the handle drives directly.
func (h Handle) movesX() bool { return h.east() || h.west() }
func (h Handle) movesY() bool { return h.north() || h.south() }

// Anchor returns the point of r that stays fixed while h is dragged.
// Edge handles report the midpoint of the opposite edge.
func (h Handle) Anchor(r Rect) Point {
	x := r.X + r.W/2
	y := r.Y + r.H/2
	switch {
	case h.west():
		x = r.Right()
	case h.east():
		x = r.X
	}
	switch {
	case h.north():
		y = r.Bottom()
	case h.south():
		y = r.Y
	}
	return Point{x, y}
}

// HandlePoint returns the position of handle h on r.
func HandlePoint(r Rect, h Handle) Point {
	x := r.X + r.W/2
	y := r.Y + r.H/2
	if h.west() {
		x = r.X
	}
	if h.east() {
		x = r.Right()
	}
	if h.north() {
		y = r.Y
	}
	if h.south() {
		y = r.Bottom()
	}
	return Point{x, y}
}

// HitTest resolves which handle of r a pointer at p grabs. Corners win over edges, edges over the body.
// ok is false when p misses the window entirely.
func HitTest(r Rect, p Point, tolerance float64) (h Handle, ok bool) {
	if tolerance < 0 {
		tolerance = 0
	}
	near := func(a, b float64) bool { return math.Abs(a-b) <= tolerance }
	for _, c := range []Handle{HandleNW, HandleNE, HandleSW, HandleSE} {
		hp := HandlePoint(r, c)
		if near(p.X, hp.X) && near(p.Y, hp.Y) {
			return c, true
		}
	}
	inX := p.X >= r.X-tolerance && p.X <= r.Right()+tolerance
	inY := p.Y >= r.Y-tolerance && p.Y <= r.Bottom()+tolerance
	switch {
	case near(p.Y, r.Y) && inX:
		return HandleN, true
	case near(p.Y, r.Bottom()) && inX:
		return HandleS, true
	case near(p.X, r.X) && inY:
		return HandleW, true
	case near(p.X, r.Right()) && inY:
		return HandleE, true
	}
	if r.Contains(p) {
		return HandleNone, true
	}
	return HandleNone, false
}
