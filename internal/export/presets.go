/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * Licensed under the Apache License, Version 2.0
 */

package export

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"canvasedit/internal/domain"
	"canvasedit/internal/render"
)

// PresetName represents a named export preset.
type PresetName string

const (
	PresetWeb   PresetName = "web"
	PresetPrint PresetName = "print"
)

// DefaultThumbSide is the longest side of thumbnails written by the web preset.
const DefaultThumbSide = 512

// BatchOptions controls writing one node's rendering to files.
//
// Path semantics:
//   - If OutDir is empty it defaults to the preset name.
//   - Files are named <node>.<ext>; thumbnails <node>-thumb.png.
type BatchOptions struct {
	Preset    PresetName
	Formats   []string // allowed: png, jpeg, pdf, thumb; empty means preset defaults
	OutDir    string
	ThumbSide int
	Title     string
}

// BatchExport renders st with compose and writes every requested format. It returns the written paths.
func BatchExport(ctx context.Context, st domain.NodeState, compose Composer, load Loader, opt BatchOptions) ([]string, error) {
	formats := opt.Formats
	if len(formats) == 0 {
		formats = presetDefaultFormats(opt.Preset)
	}
	out := opt.OutDir
	if out == "" {
		out = string(opt.Preset)
		if out == "" {
			out = "."
		}
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	img, err := compose(ctx, Job{State: st})
	if err != nil {
		return nil, err
	}
	base := st.NodeID
	if base == "" {
		base = "node"
	}

	var written []string
	for _, f := range formats {
		f = strings.ToLower(strings.TrimSpace(f))
		var path string
		switch f {
		case "png", "jpeg", "jpg":
			rf, _ := render.ParseFormat(f)
			path = filepath.Join(out, base+"."+string(rf))
			err = writeRaster(path, img, rf)
		case "thumb":
			side := opt.ThumbSide
			if side <= 0 {
				side = DefaultThumbSide
			}
			path = filepath.Join(out, base+"-thumb.png")
			err = writeRaster(path, render.Thumbnail(img, side), render.FormatPNG)
		case "pdf":
			path = filepath.Join(out, base+".pdf")
			err = writePDF(ctx, path, st, img, load, opt.Title)
		default:
			return written, fmt.Errorf("unknown format: %s", f)
		}
		if err != nil {
			return written, fmt.Errorf("%s: %w", f, err)
		}
		written = append(written, path)
	}
	return written, nil
}

func writeRaster(path string, img image.Image, f render.Format) error {
	w, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render.Encode(w, img, f); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// writePDF keeps sketch strokes as vectors over the background; other kinds embed the rendering.
func writePDF(ctx context.Context, path string, st domain.NodeState, img image.Image, load Loader, title string) error {
	size := render.SizeOf(img)
	bg := img
	var strokes []domain.Stroke
	if st.Kind == domain.KindSketch {
		strokes = st.Strokes
		bg = nil
		if st.Background.URL != "" && load != nil {
			b, err := load(ctx, st.Background.URL)
			if err != nil {
				return err
			}
			bg = b
		}
	}
	w, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render.WritePDF(w, size, bg, img, strokes, render.PDFOptions{Title: title}); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func presetDefaultFormats(p PresetName) []string {
	switch p {
	case PresetWeb:
		return []string{"png", "thumb"}
	case PresetPrint:
		return []string{"pdf", "png"}
	default:
		return []string{"png"}
	}
}
