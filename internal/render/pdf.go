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
	"fmt"
	"image"
	"io"

	"github.com/jung-kurt/gofpdf"

	"canvasedit/internal/domain"
	"canvasedit/internal/geom"
)

// PDFOptions controls sketch PDF export. Units are points; one image pixel maps to one point.
type PDFOptions struct {
	Title  string
	Author string
}

// WritePDF writes a single-page PDF of a sketch. The background is embedded as a raster and strokes
// are emitted as vector paths. PDF has no destination-out, so a sketch containing eraser strokes is
// emitted as the flattened composite instead.
func WritePDF(w io.Writer, size geom.Size, background, composite image.Image, strokes []domain.Stroke, opt PDFOptions) error {
	if size.Empty() {
		return fmt.Errorf("pdf: empty page size")
	}
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		UnitStr: "pt",
		Size:    gofpdf.SizeType{Wd: size.W, Ht: size.H},
	})
	if opt.Title != "" {
		pdf.SetTitle(opt.Title, true)
	}
	author := opt.Author
	if author == "" {
		author = "canvasedit"
	}
	pdf.SetAuthor(author, true)
	pdf.AddPageFormat("", gofpdf.SizeType{Wd: size.W, Ht: size.H})

	flatten := hasEraser(strokes) && composite != nil
	page := background
	if flatten {
		page = composite
	}
	if page != nil {
		if err := placeImage(pdf, "page", page, size); err != nil {
			return err
		}
	}
	if !flatten {
		pdf.SetLineCapStyle("round")
		for _, s := range strokes {
			drawStroke(pdf, s)
		}
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

func hasEraser(strokes []domain.Stroke) bool {
	for _, s := range strokes {
		if s.Eraser {
			return true
		}
	}
	return false
}

func placeImage(pdf *gofpdf.Fpdf, name string, img image.Image, size geom.Size) error {
	var buf bytes.Buffer
	if err := Encode(&buf, img, FormatPNG); err != nil {
		return err
	}
	opt := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader(name, opt, &buf)
	if pdf.Err() {
		return fmt.Errorf("register pdf image: %w", pdf.Error())
	}
	pdf.ImageOptions(name, 0, 0, size.W, size.H, false, opt, 0, "")
	return nil
}

func drawStroke(pdf *gofpdf.Fpdf, s domain.Stroke) {
	if len(s.Points) == 0 || s.Width <= 0 {
		return
	}
	c := s.Color.NRGBA()
	pdf.SetAlpha(float64(c.A)/255, "Normal")
	if len(s.Points) == 1 {
		pdf.SetFillColor(int(c.R), int(c.G), int(c.B))
		pdf.Circle(s.Points[0].X, s.Points[0].Y, s.Width/2, "F")
		return
	}
	pdf.SetDrawColor(int(c.R), int(c.G), int(c.B))
	pdf.SetLineWidth(s.Width)
	pdf.MoveTo(s.Points[0].X, s.Points[0].Y)
	for _, p := range s.Points[1:] {
		pdf.LineTo(p.X, p.Y)
	}
	pdf.DrawPath("D")
}
