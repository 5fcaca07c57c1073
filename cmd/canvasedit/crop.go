/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"canvasedit/internal/crop"
	"canvasedit/internal/domain"
	"canvasedit/internal/geom"
	"canvasedit/internal/session"
)

// drag is one scripted gesture: grab handle h and move it by d.
type drag struct {
	h geom.Handle
	d geom.Delta
}

// parseDrag reads "<handle>:<dx>,<dy>"; handle "none" moves the whole window.
func parseDrag(s string) (drag, error) {
	name, rest, ok := strings.Cut(s, ":")
	if !ok {
		return drag{}, fmt.Errorf("drag %q: want handle:dx,dy", s)
	}
	h, err := geom.ParseHandle(name)
	if err != nil {
		return drag{}, err
	}
	p, err := parsePoint(rest)
	if err != nil {
		return drag{}, fmt.Errorf("drag %q: %w", s, err)
	}
	return drag{h: h, d: geom.Delta{DX: p.X, DY: p.Y}}, nil
}

func parsePoint(s string) (geom.Point, error) {
	xs, ys, ok := strings.Cut(strings.TrimSpace(s), ",")
	if !ok {
		return geom.Point{}, fmt.Errorf("point %q: want x,y", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return geom.Point{}, fmt.Errorf("point %q: %w", s, err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return geom.Point{}, fmt.Errorf("point %q: %w", s, err)
	}
	return geom.Point{X: x, Y: y}, nil
}

// run replays the gesture through the engine's pointer boundary.
func (d drag) run(e *crop.Engine, shift bool) {
	start := geom.HandlePoint(e.LiveRect(), d.h)
	end := geom.Point{X: start.X + d.d.DX, Y: start.Y + d.d.DY}
	if !e.PointerDown(start, domain.Modifiers{Shift: shift}) {
		return
	}
	e.PointerMove(end)
	e.PointerUp(end)
}

func newCropCmd(a *app) *cobra.Command {
	var (
		ratio  string
		width  string
		height string
		drags  []string
		shift  bool
		reset  bool
		apply  bool
	)
	cmd := &cobra.Command{
		Use:   "crop <node-id>",
		Short: "Adjust the crop window of a crop node",
		Long: `Operations run in a fixed order: --reset, --ratio, each --drag, --width, --height, --apply.
A drag is "<handle>:<dx>,<dy>" with handle one of n s e w ne nw se sw, or none to move the window.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed := make([]drag, 0, len(drags))
			for _, s := range drags {
				d, err := parseDrag(s)
				if err != nil {
					return err
				}
				parsed = append(parsed, d)
			}
			ctx := cmd.Context()
			return a.withSession(ctx, args[0], func(s *session.Session) error {
				e, err := s.Crop()
				if err != nil {
					return err
				}
				if !e.Loaded() {
					return crop.ErrNotLoaded
				}
				if reset {
					if err := e.Reset(); err != nil {
						return err
					}
				}
				if ratio != "" {
					if err := e.SetAspectRatioString(ratio); err != nil {
						return err
					}
				}
				for _, d := range parsed {
					d.run(e, shift)
				}
				if width != "" {
					if err := e.SetWidth(width); err != nil {
						return err
					}
				}
				if height != "" {
					if err := e.SetHeight(height); err != nil {
						return err
					}
				}
				r := e.CommittedRect()
				fmt.Fprintf(cmd.OutOrStdout(), "Crop: x=%g y=%g w=%g h=%g ratio=%s\n", r.X, r.Y, r.W, r.H, e.Ratio())
				if apply {
					url, err := e.Apply(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Cropped: %s\n", url)
				}
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&ratio, "ratio", "", "Aspect ratio preset, e.g. 16:9, 1:1 or free")
	f.StringVar(&width, "width", "", "Set the crop width (anchored at the top-left corner)")
	f.StringVar(&height, "height", "", "Set the crop height (anchored at the top-left corner)")
	f.StringArrayVar(&drags, "drag", nil, "Drag gesture <handle>:<dx>,<dy>; repeatable")
	f.BoolVar(&shift, "shift", false, "Hold shift during drags (locks the current ratio)")
	f.BoolVar(&reset, "reset", false, "Reset the window to the full image first")
	f.BoolVar(&apply, "apply", false, "Extract the committed region into a derived image")
	return cmd
}
