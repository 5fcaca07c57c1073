/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package render turns durable node state into pixels: stroke replay, crop extraction,
// color filters, thumbnails and file encoders.
package render

import (
	"fmt"
	"image"
	"image/color"

	"canvasedit/internal/domain"
	"canvasedit/internal/geom"
)

// Mode selects how a polyline is composited onto the stroke layer.
type Mode uint8

const (
	// ModePaint draws source-over.
	ModePaint Mode = iota
	// ModeErase removes stroke-layer pixels under the polyline (destination-out).
	ModeErase
)

// Surface is the drawing capability replay needs. Implementations keep the background
// separate from the stroke layer so erasing reveals the background.
type Surface interface {
	Clear()
	DrawImage(img image.Image, dst geom.Rect)
	DrawPolyline(pts []geom.Point, c color.Color, width float64, mode Mode) error
}

// Background is either an image scaled to the surface or, when Image is nil, a flat color.
type Background struct {
	Image image.Image
	Color color.Color
}

// Replay clears s, paints the background, then every stroke in order.
// Calling it twice with the same inputs produces identical pixels.
func Replay(s Surface, size geom.Size, bg Background, strokes []domain.Stroke) error {
	s.Clear()
	full := geom.FullRect(size)
	switch {
	case bg.Image != nil:
		s.DrawImage(bg.Image, full)
	case bg.Color != nil:
		s.DrawImage(image.NewUniform(bg.Color), full)
	}
	for i, st := range strokes {
		mode := ModePaint
		if st.Eraser {
			mode = ModeErase
		}
		if err := s.DrawPolyline(st.Points, st.Color.NRGBA(), st.Width, mode); err != nil {
			return fmt.Errorf("stroke %d (%s): %w", i, st.ID, err)
		}
	}
	return nil
}
