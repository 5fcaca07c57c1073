/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package render

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"canvasedit/internal/domain"
)

// ApplyFilters returns a filtered copy of img. Parameters follow CSS filter functions applied in the
// order brightness, contrast, saturate, hue-rotate, blur, grayscale, sepia, opacity.
func ApplyFilters(img image.Image, f domain.Filters) *image.NRGBA {
	f = f.Clamped()
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	if f.IsIdentity() {
		return out
	}
	px := toFloat(out)

	// identity primitives are skipped so they cannot introduce rounding drift
	if f.Brightness != 100 {
		colorPass(px, brightness(f.Brightness/100))
	}
	if f.Contrast != 100 {
		colorPass(px, contrast(f.Contrast/100))
	}
	if f.Saturation != 100 {
		colorPass(px, matrixOp(saturateMatrix(f.Saturation/100)))
	}
	if f.Hue != 0 {
		colorPass(px, matrixOp(hueMatrix(f.Hue)))
	}
	if f.Blur > 0 {
		gaussianBlur(px, out.Rect.Dx(), out.Rect.Dy(), f.Blur)
	}
	if f.Grayscale != 0 {
		colorPass(px, matrixOp(grayscaleMatrix(f.Grayscale/100)))
	}
	if f.Sepia != 0 {
		colorPass(px, matrixOp(sepiaMatrix(f.Sepia/100)))
	}
	if f.Opacity != 100 {
		op := f.Opacity / 100
		for i := 3; i < len(px); i += 4 {
			px[i] *= op
		}
	}
	fromFloat(px, out)
	return out
}

type rgbOp func(r, g, b float64) (float64, float64, float64)

type mat3 [3][3]float64

func brightness(k float64) rgbOp {
	return func(r, g, b float64) (float64, float64, float64) { return r * k, g * k, b * k }
}

func contrast(k float64) rgbOp {
	return func(r, g, b float64) (float64, float64, float64) {
		return (r-0.5)*k + 0.5, (g-0.5)*k + 0.5, (b-0.5)*k + 0.5
	}
}

func matrixOp(m mat3) rgbOp {
	return func(r, g, b float64) (float64, float64, float64) {
		return m[0][0]*r + m[0][1]*g + m[0][2]*b,
			m[1][0]*r + m[1][1]*g + m[1][2]*b,
			m[2][0]*r + m[2][1]*g + m[2][2]*b
	}
}

func saturateMatrix(s float64) mat3 {
	return mat3{
		{0.213 + 0.787*s, 0.715 - 0.715*s, 0.072 - 0.072*s},
		{0.213 - 0.213*s, 0.715 + 0.285*s, 0.072 - 0.072*s},
		{0.213 - 0.213*s, 0.715 - 0.715*s, 0.072 + 0.928*s},
	}
}

func hueMatrix(deg float64) mat3 {
	rad := deg * math.Pi / 180
	c, s := math.Cos(rad), math.Sin(rad)
	return mat3{
		{0.213 + c*0.787 - s*0.213, 0.715 - c*0.715 - s*0.715, 0.072 - c*0.072 + s*0.928},
		{0.213 - c*0.213 + s*0.143, 0.715 + c*0.285 + s*0.140, 0.072 - c*0.072 - s*0.283},
		{0.213 - c*0.213 - s*0.787, 0.715 - c*0.715 + s*0.715, 0.072 + c*0.928 + s*0.072},
	}
}

func grayscaleMatrix(a float64) mat3 {
	k := 1 - a
	return mat3{
		{0.2126 + 0.7874*k, 0.7152 - 0.7152*k, 0.0722 - 0.0722*k},
		{0.2126 - 0.2126*k, 0.7152 + 0.2848*k, 0.0722 - 0.0722*k},
		{0.2126 - 0.2126*k, 0.7152 - 0.7152*k, 0.0722 + 0.9278*k},
	}
}

func sepiaMatrix(a float64) mat3 {
	k := 1 - a
	return mat3{
		{0.393 + 0.607*k, 0.769 - 0.769*k, 0.189 - 0.189*k},
		{0.349 - 0.349*k, 0.686 + 0.314*k, 0.168 - 0.168*k},
		{0.272 - 0.272*k, 0.534 - 0.534*k, 0.131 + 0.869*k},
	}
}

// colorPass applies op to every pixel and clamps, as each CSS filter primitive does.
func colorPass(px []float64, op rgbOp) {
	for i := 0; i < len(px); i += 4 {
		r, g, b := op(px[i], px[i+1], px[i+2])
		px[i], px[i+1], px[i+2] = unit(r), unit(g), unit(b)
	}
}

// gaussianBlur blurs premultiplied values in two separable passes; sigma is the CSS blur radius.
func gaussianBlur(px []float64, w, h int, sigma float64) {
	radius := int(math.Ceil(sigma * 3))
	kernel := make([]float64, 2*radius+1)
	var sum float64
	for i := range kernel {
		x := float64(i - radius)
		kernel[i] = math.Exp(-(x * x) / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	for i := 0; i < len(px); i += 4 {
		a := px[i+3]
		px[i] *= a
		px[i+1] *= a
		px[i+2] *= a
	}
	tmp := make([]float64, len(px))
	pass := func(src, dst []float64, horizontal bool) {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				var acc [4]float64
				for k, kv := range kernel {
					sx, sy := x, y
					if horizontal {
						sx = clampInt(x+k-radius, 0, w-1)
					} else {
						sy = clampInt(y+k-radius, 0, h-1)
					}
					j := (sy*w + sx) * 4
					acc[0] += src[j] * kv
					acc[1] += src[j+1] * kv
					acc[2] += src[j+2] * kv
					acc[3] += src[j+3] * kv
				}
				o := (y*w + x) * 4
				copy(dst[o:o+4], acc[:])
			}
		}
	}
	pass(px, tmp, true)
	pass(tmp, px, false)
	for i := 0; i < len(px); i += 4 {
		if a := px[i+3]; a > 0 {
			px[i] /= a
			px[i+1] /= a
			px[i+2] /= a
		}
	}
}

func toFloat(img *image.NRGBA) []float64 {
	out := make([]float64, len(img.Pix))
	for i, v := range img.Pix {
		out[i] = float64(v) / 255
	}
	return out
}

func fromFloat(px []float64, img *image.NRGBA) {
	for i, v := range px {
		img.Pix[i] = uint8(math.Round(unit(v) * 255))
	}
}

func unit(v float64) float64 { return math.Max(0, math.Min(1, v)) }

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// FilterColor applies f to a single color; used for swatches and tests.
func FilterColor(c color.Color, f domain.Filters) color.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, c)
	f.Blur = 0
	return ApplyFilters(img, f).NRGBAAt(0, 0)
}
