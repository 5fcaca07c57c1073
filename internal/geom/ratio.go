/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package geom

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrInvalidRatio = errors.New("invalid aspect ratio")

// AspectRatio is either Free (the zero value) or a locked W:H proportion.
type AspectRatio struct {
	W float64 `json:"w,omitempty"`
	H float64 `json:"h,omitempty"`
}

// Free leaves width and height independent.
var Free = AspectRatio{}

// Presets offered by the crop toolbar, in display order.
var Presets = []AspectRatio{Free, {1, 1}, {4, 3}, {3, 4}, {16, 9}, {9, 16}, {3, 2}, {2, 3}}

// NewRatio returns a locked ratio; both terms must be positive and finite.
func NewRatio(w, h float64) (AspectRatio, error) {
	if !(w > 0) || !(h > 0) || math.IsInf(w, 0) || math.IsInf(h, 0) {
		return Free, fmt.Errorf("%w: %v:%v", ErrInvalidRatio, w, h)
	}
	return AspectRatio{W: w, H: h}, nil
}

// ParseRatio accepts "free", "" or "w:h" (also "w/h", "wxh").
func ParseRatio(s string) (AspectRatio, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "free" {
		return Free, nil
	}
	sep := strings.IndexAny(s, ":/x")
	if sep < 0 {
		return Free, fmt.Errorf("%w: %q", ErrInvalidRatio, s)
	}
	w, err := strconv.ParseFloat(strings.TrimSpace(s[:sep]), 64)
	if err != nil {
		return Free, fmt.Errorf("%w: %q", ErrInvalidRatio, s)
	}
	h, err := strconv.ParseFloat(strings.TrimSpace(s[sep+1:]), 64)
	if err != nil {
		return Free, fmt.Errorf("%w: %q", ErrInvalidRatio, s)
	}
	return NewRatio(w, h)
}

// Locked reports whether the ratio constrains the rectangle.
func (a AspectRatio) Locked() bool { return a.W > 0 && a.H > 0 }

// Value is width divided by height; 0 when free.
func (a AspectRatio) Value() float64 {
	if !a.Locked() {
		return 0
	}
	return a.W / a.H
}

func (a AspectRatio) String() string {
	if !a.Locked() {
		return "free"
	}
	return strconv.FormatFloat(a.W, 'f', -1, 64) + ":" + strconv.FormatFloat(a.H, 'f', -1, 64)
}

// RatioOf returns the proportion of an existing rectangle, Free if it is degenerate.
func RatioOf(r Rect) AspectRatio {
	a, err := NewRatio(r.W, r.H)
	if err != nil {
		return Free
	}
	return a
}
