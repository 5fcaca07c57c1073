/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"context"
	"errors"
	"fmt"
	"image"

	"canvasedit/internal/domain"
	"canvasedit/internal/geom"
	"canvasedit/internal/render"
)

// DefaultCanvas is the sketch canvas size used when neither the node nor its background has one.
var DefaultCanvas = geom.Size{W: 1024, H: 768}

var ErrUnsupportedKind = errors.New("unsupported node kind")

// Loader resolves an image URL (file path or stored artifact) to pixels.
type Loader func(ctx context.Context, url string) (image.Image, error)

// NewComposer renders node state the way the editor displays it:
// sketches replay strokes over their background, crop nodes show their applied crop (the source until
// one exists) and filter nodes apply their parameters to the source image.
func NewComposer(load Loader) Composer {
	return func(ctx context.Context, job Job) (image.Image, error) {
		st := job.State
		switch st.Kind {
		case domain.KindSketch:
			return composeSketch(ctx, load, st)
		case domain.KindCrop:
			// only an applied crop changes what the node shows
			if st.CroppedURL != "" {
				return loadSource(ctx, load, st.CroppedURL)
			}
			return loadSource(ctx, load, st.ImageURL)
		case domain.KindFilter:
			src, err := loadSource(ctx, load, st.ImageURL)
			if err != nil {
				return nil, err
			}
			f := domain.DefaultFilters()
			if st.Filters != nil {
				f = st.Filters.Clamped()
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return render.ApplyFilters(src, f), nil
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, st.Kind)
		}
	}
}

func loadSource(ctx context.Context, load Loader, url string) (image.Image, error) {
	if url == "" {
		return nil, errors.New("node has no source image")
	}
	img, err := load(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", url, err)
	}
	return img, nil
}

func composeSketch(ctx context.Context, load Loader, st domain.NodeState) (image.Image, error) {
	var bg render.Background
	size := st.ImageSize
	if st.Background.URL != "" {
		img, err := loadSource(ctx, load, st.Background.URL)
		if err != nil {
			return nil, err
		}
		bg.Image = img
		if size.Empty() {
			size = render.SizeOf(img)
		}
	} else {
		c := st.Background.Color
		if c == "" {
			c = "#ffffff"
		}
		bg.Color = c.NRGBA()
	}
	if size.Empty() {
		size = DefaultCanvas
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := render.NewRasterFor(size)
	if err := render.Replay(r, size, bg, st.Strokes); err != nil {
		return nil, err
	}
	return r.Composite(), nil
}
