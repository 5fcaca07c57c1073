/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/gogpu/gg"
	xdraw "golang.org/x/image/draw"

	"canvasedit/internal/geom"
)

// Raster is the in-memory Surface used by exports. Strokes are rasterized with gg into
// a coverage image and composited onto a layer kept above the background.
type Raster struct {
	w, h  int
	bg    *image.RGBA
	layer *image.RGBA
}

func NewRaster(w, h int) *Raster {
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	r := image.Rect(0, 0, w, h)
	return &Raster{w: w, h: h, bg: image.NewRGBA(r), layer: image.NewRGBA(r)}
}

// NewRasterFor sizes a raster to image pixel space, rounding up.
func NewRasterFor(size geom.Size) *Raster {
	return NewRaster(int(math.Ceil(size.W)), int(math.Ceil(size.H)))
}

func (r *Raster) Bounds() image.Rectangle { return r.bg.Bounds() }

func (r *Raster) Clear() {
	clear(r.bg.Pix)
	clear(r.layer.Pix)
}

func (r *Raster) DrawImage(img image.Image, dst geom.Rect) {
	if img == nil {
		return
	}
	dr := dst.Pixels().Intersect(r.bg.Bounds())
	if dr.Empty() {
		return
	}
	if u, ok := img.(*image.Uniform); ok {
		draw.Draw(r.bg, dr, u, image.Point{}, draw.Over)
		return
	}
	if img.Bounds().Size() == dr.Size() {
		draw.Draw(r.bg, dr, img, img.Bounds().Min, draw.Over)
		return
	}
	xdraw.CatmullRom.Scale(r.bg, dr, img, img.Bounds(), xdraw.Over, nil)
}

// DrawPolyline strokes pts with round caps and joins. A single point becomes a dot.
func (r *Raster) DrawPolyline(pts []geom.Point, c color.Color, width float64, mode Mode) error {
	if len(pts) == 0 || !(width > 0) {
		return nil
	}
	ink := c
	if mode == ModeErase {
		ink = color.White
	}
	dc := gg.NewContext(r.w, r.h)
	defer func() { _ = dc.Close() }()
	dc.SetColor(ink)
	if len(pts) == 1 {
		dc.DrawCircle(pts[0].X, pts[0].Y, width/2)
		if err := dc.Fill(); err != nil {
			return fmt.Errorf("fill dot: %w", err)
		}
	} else {
		dc.SetLineWidth(width)
		dc.SetLineCap(gg.LineCapRound)
		dc.SetLineJoin(gg.LineJoinRound)
		dc.MoveTo(pts[0].X, pts[0].Y)
		for _, p := range pts[1:] {
			dc.LineTo(p.X, p.Y)
		}
		if err := dc.Stroke(); err != nil {
			return fmt.Errorf("stroke polyline: %w", err)
		}
	}
	cov := dc.Image()
	b := r.layer.Bounds()
	if mode == ModeErase {
		// coverage alpha scales how much of the layer is removed
		draw.DrawMask(r.layer, b, image.Transparent, image.Point{}, cov, cov.Bounds().Min, draw.Src)
		return nil
	}
	draw.Draw(r.layer, b, cov, cov.Bounds().Min, draw.Over)
	return nil
}

// Layer returns the stroke layer without the background.
func (r *Raster) Layer() *image.RGBA { return r.layer }

// Composite returns background with the stroke layer on top as a new image.
func (r *Raster) Composite() *image.RGBA {
	out := image.NewRGBA(r.bg.Bounds())
	copy(out.Pix, r.bg.Pix)
	draw.Draw(out, out.Bounds(), r.layer, image.Point{}, draw.Over)
	return out
}
