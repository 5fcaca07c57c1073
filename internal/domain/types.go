/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany..
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package domain

// This file defines the durable data model shared by the crop and sketch engines, the node store,
// the export pipeline and persistence. Ephemeral interaction state lives with the engines.

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
	"time"

	"canvasedit/internal/geom"
)

// Kind selects which editor owns a node.
type Kind string

const (
	KindCrop   Kind = "crop"
	KindSketch Kind = "sketch"
	KindFilter Kind = "filter"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindCrop, KindSketch, KindFilter:
		return k, nil
	}
	return "", fmt.Errorf("unknown node kind %q", s)
}

// Color is a CSS-style hex color: "#rgb", "#rrggbb" or "#rrggbbaa".
type Color string

// NRGBA parses c. Unparseable values yield opaque black.
func (c Color) NRGBA() color.NRGBA {
	s := strings.TrimPrefix(strings.TrimSpace(string(c)), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) == 6 {
		s += "ff"
	}
	if len(s) != 8 {
		return color.NRGBA{A: 0xff}
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.NRGBA{A: 0xff}
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}
}

// Stroke is one freehand polyline. Committed strokes are never mutated.
type Stroke struct {
	ID     string       `json:"id"`
	Points []geom.Point `json:"points"`
	Color  Color        `json:"color"`
	Width  float64      `json:"width"`
	Eraser bool         `json:"eraser,omitempty"`
}

// Clone returns a deep copy so callers cannot alias committed point slices.
func (s Stroke) Clone() Stroke {
	s.Points = append([]geom.Point(nil), s.Points...)
	return s
}

// CloneStrokes deep-copies a stroke list, preserving order.
func CloneStrokes(in []Stroke) []Stroke {
	if in == nil {
		return nil
	}
	out := make([]Stroke, len(in))
	for i, s := range in {
		out[i] = s.Clone()
	}
	return out
}

// Background is what strokes are drawn over: a source image reference, or a flat color when URL is empty.
type Background struct {
	URL   string `json:"url,omitempty"`
	Color Color  `json:"color,omitempty"`
}

// Artifact references the raster produced by an export.
type Artifact struct {
	Version   uint64    `json:"version"`
	URL       string    `json:"url"`
	CacheBust string    `json:"cacheBust"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	CreatedAt time.Time `json:"createdAt"`
}

// NodeState is the durable state of one editor node.
type NodeState struct {
	NodeID     string           `json:"nodeId"`
	Kind       Kind             `json:"kind"`
	ImageURL   string           `json:"imageUrl,omitempty"`
	ImageSize  geom.Size        `json:"imageSize"`
	Crop       *geom.Rect       `json:"crop,omitempty"`
	Ratio      geom.AspectRatio `json:"ratio"`
	CroppedURL string           `json:"croppedUrl,omitempty"`
	Strokes    []Stroke         `json:"strokes,omitempty"`
	Background Background       `json:"background"`
	Filters    *Filters         `json:"filters,omitempty"`
	Artifact   *Artifact        `json:"artifact,omitempty"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// Clone returns a copy that shares no mutable memory with s.
func (s NodeState) Clone() NodeState {
	if s.Crop != nil {
		c := *s.Crop
		s.Crop = &c
	}
	s.Strokes = CloneStrokes(s.Strokes)
	if s.Filters != nil {
		f := *s.Filters
		s.Filters = &f
	}
	if s.Artifact != nil {
		a := *s.Artifact
		s.Artifact = &a
	}
	return s
}

// Modifiers are the keyboard modifiers held during a pointer event.
type Modifiers struct {
	Shift bool
	Alt   bool
}
