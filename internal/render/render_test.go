/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package render

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"testing"

	"canvasedit/internal/domain"
	"canvasedit/internal/geom"
)

var (
	blue = color.NRGBA{B: 255, A: 255}
	red  = domain.Color("#ff0000")
)

func line(id string, c domain.Color, w float64, eraser bool, pts ...geom.Point) domain.Stroke {
	return domain.Stroke{ID: id, Points: pts, Color: c, Width: w, Eraser: eraser}
}

func sketchFixture() []domain.Stroke {
	return []domain.Stroke{
		line("paint", red, 10, false, geom.Point{X: 8, Y: 32}, geom.Point{X: 56, Y: 32}),
		line("erase", "#000", 10, true, geom.Point{X: 32, Y: 8}, geom.Point{X: 32, Y: 56}),
	}
}

func TestReplayIsDeterministic(t *testing.T) {
	size := geom.Size{W: 64, H: 64}
	r1, r2 := NewRasterFor(size), NewRasterFor(size)
	bg := Background{Color: blue}
	if err := Replay(r1, size, bg, sketchFixture()); err != nil {
		t.Fatalf("replay 1: %v", err)
	}
	if err := Replay(r2, size, bg, sketchFixture()); err != nil {
		t.Fatalf("replay 2: %v", err)
	}
	if !bytes.Equal(r1.Composite().Pix, r2.Composite().Pix) {
		t.Fatalf("two replays of the same state differ")
	}
	// replaying onto a dirty surface must give the same result
	if err := Replay(r1, size, bg, sketchFixture()); err != nil {
		t.Fatalf("replay 3: %v", err)
	}
	if !bytes.Equal(r1.Composite().Pix, r2.Composite().Pix) {
		t.Fatalf("replay depends on previous surface content")
	}
}

func TestEraserRevealsBackground(t *testing.T) {
	size := geom.Size{W: 64, H: 64}
	r := NewRasterFor(size)
	if err := Replay(r, size, Background{Color: blue}, sketchFixture()); err != nil {
		t.Fatalf("replay: %v", err)
	}
	out := r.Composite()
	if c := out.RGBAAt(16, 32); c.R < 240 || c.B > 15 {
		t.Fatalf("painted pixel = %v, want red", c)
	}
	if c := out.RGBAAt(32, 32); c.B < 240 || c.R > 15 {
		t.Fatalf("erased pixel = %v, want background blue", c)
	}
	if c := r.Layer().RGBAAt(32, 32); c.A > 15 {
		t.Fatalf("stroke layer still covered under eraser: %v", c)
	}
	if c := out.RGBAAt(4, 4); c != (color.RGBA{B: 255, A: 255}) {
		t.Fatalf("untouched pixel = %v", c)
	}
}

func TestLaterPaintCoversEraser(t *testing.T) {
	size := geom.Size{W: 64, H: 64}
	strokes := append(sketchFixture(), line("dot", "#00ff00", 12, false, geom.Point{X: 32, Y: 32}))
	r := NewRasterFor(size)
	if err := Replay(r, size, Background{Color: blue}, strokes); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if c := r.Composite().RGBAAt(32, 32); c.G < 240 || c.B > 15 {
		t.Fatalf("dot over erased area = %v, want green", c)
	}
}

func TestReplayScalesImageBackground(t *testing.T) {
	bg := image.NewRGBA(image.Rect(0, 0, 32, 32))
	draw.Draw(bg, bg.Bounds(), image.NewUniform(color.RGBA{G: 200, A: 255}), image.Point{}, draw.Src)
	size := geom.Size{W: 64, H: 64}
	r := NewRasterFor(size)
	if err := Replay(r, size, Background{Image: bg}, nil); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if c := r.Composite().RGBAAt(32, 32); c.G < 190 || c.G > 210 || c.A < 250 {
		t.Fatalf("scaled background = %v", c)
	}
}

func TestCropImage(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 10, 8))
	src.SetRGBA(2, 3, color.RGBA{R: 9, A: 255})
	got, err := CropImage(src, geom.R(2, 3, 4, 2))
	if err != nil {
		t.Fatalf("CropImage: %v", err)
	}
	if got.Bounds().Dx() != 4 || got.Bounds().Dy() != 2 {
		t.Fatalf("size = %v", got.Bounds())
	}
	if c := got.RGBAAt(0, 0); c.R != 9 {
		t.Fatalf("origin pixel = %v", c)
	}
	if _, err := CropImage(src, geom.R(20, 20, 5, 5)); !errors.Is(err, ErrEmptyRegion) {
		t.Fatalf("expected ErrEmptyRegion, got %v", err)
	}
}

func TestThumbnail(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 400, 200))
	if b := Thumbnail(img, 100).Bounds(); b.Dx() != 100 || b.Dy() != 50 {
		t.Fatalf("thumbnail bounds = %v", b)
	}
	small := image.NewRGBA(image.Rect(0, 0, 20, 10))
	if b := Thumbnail(small, 100).Bounds(); b.Dx() != 20 || b.Dy() != 10 {
		t.Fatalf("small image should keep its size, got %v", b)
	}
}

func TestFilterColor(t *testing.T) {
	f := domain.DefaultFilters()
	f.Grayscale = 100
	if got := FilterColor(color.NRGBA{R: 255, A: 255}, f); got != (color.NRGBA{R: 54, G: 54, B: 54, A: 255}) {
		t.Fatalf("grayscale red = %v", got)
	}
	f = domain.DefaultFilters()
	f.Brightness = 50
	f.Opacity = 50
	if got := FilterColor(color.NRGBA{R: 200, G: 100, B: 50, A: 255}, f); got != (color.NRGBA{R: 100, G: 50, B: 25, A: 128}) {
		t.Fatalf("brightness/opacity = %v", got)
	}
	f = domain.DefaultFilters()
	f.Contrast = 0
	if got := FilterColor(color.NRGBA{R: 10, G: 240, B: 99, A: 255}, f); got != (color.NRGBA{R: 128, G: 128, B: 128, A: 255}) {
		t.Fatalf("zero contrast = %v", got)
	}
}

func TestApplyFiltersIdentityAndBlur(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.NRGBA{R: 80, G: 120, B: 160, A: 255}), image.Point{}, draw.Src)
	if out := ApplyFilters(img, domain.DefaultFilters()); !bytes.Equal(out.Pix, img.Pix) {
		t.Fatalf("identity filters changed pixels")
	}
	f := domain.DefaultFilters()
	f.Blur = 2
	c := ApplyFilters(img, f).NRGBAAt(8, 8)
	if d := int(c.R) - 80; d < -1 || d > 1 || c.A != 255 {
		t.Fatalf("blurring a flat image changed it: %v", c)
	}
}

func TestWritePDF(t *testing.T) {
	size := geom.Size{W: 64, H: 48}
	bg := image.NewRGBA(image.Rect(0, 0, 64, 48))
	var buf bytes.Buffer
	strokes := []domain.Stroke{
		line("a", red, 4, false, geom.Point{X: 1, Y: 1}, geom.Point{X: 40, Y: 30}),
		line("b", "#00f", 6, false, geom.Point{X: 10, Y: 10}),
	}
	if err := WritePDF(&buf, size, bg, nil, strokes, PDFOptions{Title: "sketch"}); err != nil {
		t.Fatalf("WritePDF: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF")) {
		t.Fatalf("output is not a PDF")
	}
	buf.Reset()
	strokes = append(strokes, line("c", "#000", 6, true, geom.Point{X: 2, Y: 2}, geom.Point{X: 3, Y: 3}))
	if err := WritePDF(&buf, size, bg, bg, strokes, PDFOptions{}); err != nil {
		t.Fatalf("WritePDF flattened: %v", err)
	}
	if err := WritePDF(&buf, geom.Size{}, nil, nil, nil, PDFOptions{}); err == nil {
		t.Fatalf("expected error for empty page")
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("JPG"); err != nil || f != FormatJPEG || f.ContentType() != "image/jpeg" {
		t.Fatalf("ParseFormat(JPG) = %v,%v", f, err)
	}
	if _, err := ParseFormat("gif"); err == nil {
		t.Fatalf("gif should be rejected")
	}
}
