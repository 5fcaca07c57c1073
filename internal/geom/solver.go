/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package geom

import "math"

// DefaultMinSize is the smallest edge a crop window may shrink to, in pixels.
const DefaultMinSize = 50.0

// Resize returns the rectangle produced by dragging handle h of base by d.
//
// Edge handles move one edge and keep the opposite one fixed; corner handles keep the diagonally
// opposite corner fixed. HandleNone translates. With a locked ratio the secondary dimension is derived
// from the primary one and the window is clipped against bounds in a single pass. Conflicts resolve
// bounds first, then minSize, then the anchor, then the ratio. A zero or non-finite delta returns base
// unchanged.
func Resize(base Rect, h Handle, d Delta, ratio AspectRatio, bounds Size, minSize float64) Rect {
	if (d.DX == 0 && d.DY == 0) || !d.Finite() {
		return base
	}
	if bounds.Empty() {
		return base
	}
	if h == HandleNone {
		return Move(base, d, bounds)
	}
	if ratio.Locked() {
		return resizeLocked(base, h, d, ratio.Value(), bounds, minSize)
	}
	return resizeFree(base, h, d, bounds, minSize)
}

// Move shifts r by d and clamps the position (never the size) into bounds.
func Move(r Rect, d Delta, bounds Size) Rect {
	if !d.Finite() {
		return r
	}
	r.X = clamp(r.X+d.DX, 0, bounds.W-r.W)
	r.Y = clamp(r.Y+d.DY, 0, bounds.H-r.H)
	return r
}

// ResizeWidth sets the width as if the east edge were dragged, keeping the top-left corner.
func ResizeWidth(base Rect, w float64, ratio AspectRatio, bounds Size, minSize float64) Rect {
	return Resize(base, HandleE, Delta{DX: w - base.W}, ratio, bounds, minSize)
}

// ResizeHeight sets the height as if the south edge were dragged, keeping the top-left corner.
func ResizeHeight(base Rect, h float64, ratio AspectRatio, bounds Size, minSize float64) Rect {
	return Resize(base, HandleS, Delta{DY: h - base.H}, ratio, bounds, minSize)
}

// FitRatio reshapes r to ratio keeping its top-left corner and, where the image allows, its width.
func FitRatio(r Rect, ratio AspectRatio, bounds Size, minSize float64) Rect {
	if bounds.Empty() {
		return r
	}
	r = Clamp(r, bounds, minSize)
	if !ratio.Locked() {
		return r
	}
	v := ratio.Value()
	minW := lockedMinWidth(minSize, v, bounds)
	w := r.W
	if r.Y+w/v > bounds.H {
		w = (bounds.H - r.Y) * v
	}
	w = math.Max(w, minW)
	out := Rect{X: r.X, Y: r.Y, W: w, H: w / v}
	return fitInside(out, bounds)
}

// Clamp repairs r so it is valid, at least minSize on each side (when the image allows) and inside bounds.
// Invalid rectangles become the full image.
func Clamp(r Rect, bounds Size, minSize float64) Rect {
	if bounds.Empty() {
		return r
	}
	if !r.Valid() {
		return FullRect(bounds)
	}
	mw, mh := freeMin(minSize, bounds)
	r.W = clamp(r.W, mw, bounds.W)
	r.H = clamp(r.H, mh, bounds.H)
	return fitInside(r, bounds)
}

func resizeFree(base Rect, h Handle, d Delta, bounds Size, minSize float64) Rect {
	minW, minH := freeMin(minSize, bounds)
	left, top, right, bottom := base.X, base.Y, base.Right(), base.Bottom()
	if h.east() {
		right = math.Min(base.Right()+d.DX, bounds.W)
		if right-left < minW {
			right = left + minW
		}
	}
	if h.west() {
		left = math.Max(base.X+d.DX, 0)
		if right-left < minW {
			left = right - minW
		}
	}
	if h.south() {
		bottom = math.Min(base.Bottom()+d.DY, bounds.H)
		if bottom-top < minH {
			bottom = top + minH
		}
	}
	if h.north() {
		top = math.Max(base.Y+d.DY, 0)
		if bottom-top < minH {
			top = bottom - minH
		}
	}
	return fitInside(Rect{X: left, Y: top, W: right - left, H: bottom - top}, bounds)
}

func resizeLocked(base Rect, h Handle, d Delta, v float64, bounds Size, minSize float64) Rect {
	wFromX := base.W
	if h.east() {
		wFromX = base.W + d.DX
	} else if h.west() {
		wFromX = base.W - d.DX
	}
	hFromY := base.H
	if h.south() {
		hFromY = base.H + d.DY
	} else if h.north() {
		hFromY = base.H - d.DY
	}

	var w float64
	switch {
	case h.Corner():
		// the axis with the larger relative change drives
		if relChange(wFromX, base.W) >= relChange(hFromY, base.H) {
			w = wFromX
		} else {
			w = hFromY * v
		}
	case h.movesX():
		w = wFromX
	default:
		w = hFromY * v
	}

	// room left on each axis with the anchor held still
	availX := bounds.W - base.X
	if h.west() {
		availX = base.Right()
	}
	availY := bounds.H - base.Y
	if h.north() {
		availY = base.Bottom()
	}
	maxW := math.Min(availX, availY*v)

	w = math.Max(w, lockedMinWidth(minSize, v, bounds))
	w = math.Min(w, maxW)
	if !(w > 0) {
		w = math.Min(bounds.W, bounds.H*v)
	}
	out := Rect{X: base.X, Y: base.Y, W: w, H: w / v}
	if h.west() {
		out.X = base.Right() - out.W
	}
	if h.north() {
		out.Y = base.Bottom() - out.H
	}
	return fitInside(out, bounds)
}

func relChange(n, o float64) float64 {
	if o == 0 {
		return math.Abs(n)
	}
	return math.Abs(n-o) / o
}

func freeMin(minSize float64, bounds Size) (float64, float64) {
	if !(minSize > 0) {
		minSize = 1
	}
	return math.Min(minSize, bounds.W), math.Min(minSize, bounds.H)
}

// lockedMinWidth is the smallest width whose derived height still honours minSize.
func lockedMinWidth(minSize, v float64, bounds Size) float64 {
	if !(minSize > 0) {
		minSize = 1
	}
	m := math.Max(minSize, minSize*v)
	return math.Min(m, math.Min(bounds.W, bounds.H*v))
}

// fitInside shrinks then shifts r into bounds. Only degenerate inputs reach the shrinking branch.
func fitInside(r Rect, bounds Size) Rect {
	r.W = math.Min(r.W, bounds.W)
	r.H = math.Min(r.H, bounds.H)
	r.X = clamp(r.X, 0, bounds.W-r.W)
	r.Y = clamp(r.Y, 0, bounds.H-r.H)
	return r
}
