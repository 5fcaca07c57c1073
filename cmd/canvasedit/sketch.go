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
	"strings"

	"github.com/spf13/cobra"

	"canvasedit/internal/domain"
	"canvasedit/internal/geom"
	"canvasedit/internal/session"
)

// parseStroke reads "x,y x,y ..." (spaces or semicolons between points).
func parseStroke(s string) ([]geom.Point, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == ';' })
	if len(fields) == 0 {
		return nil, fmt.Errorf("stroke %q has no points", s)
	}
	pts := make([]geom.Point, 0, len(fields))
	for _, f := range fields {
		p, err := parsePoint(f)
		if err != nil {
			return nil, err
		}
		pts = append(pts, p)
	}
	return pts, nil
}

func newSketchCmd(a *app) *cobra.Command {
	var (
		strokes  []string
		color    string
		width    float64
		eraser   bool
		undo     int
		redo     int
		clearAll bool
	)
	cmd := &cobra.Command{
		Use:   "sketch <node-id>",
		Short: "Draw strokes on a sketch node",
		Long: `Operations run in a fixed order: --clear, each --stroke, --undo, --redo.
A stroke is a list of points "x,y x,y ...".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed := make([][]geom.Point, 0, len(strokes))
			for _, s := range strokes {
				pts, err := parseStroke(s)
				if err != nil {
					return err
				}
				parsed = append(parsed, pts)
			}
			return a.withSession(cmd.Context(), args[0], func(s *session.Session) error {
				e, err := s.Sketch()
				if err != nil {
					return err
				}
				if clearAll {
					e.ClearAll()
				}
				e.SetColor(domain.Color(color))
				e.SetWidth(width)
				e.SetEraser(eraser)
				for _, pts := range parsed {
					e.PointerDown(pts[0], domain.Modifiers{})
					for _, p := range pts[1:] {
						e.PointerMove(p)
					}
					e.PointerLeave()
				}
				for i := 0; i < undo; i++ {
					e.Undo()
				}
				for i := 0; i < redo; i++ {
					e.Redo()
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Strokes: %d (undo=%t redo=%t)\n", len(e.Committed()), e.CanUndo(), e.CanRedo())
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringArrayVar(&strokes, "stroke", nil, `Stroke points "x,y x,y ..."; repeatable`)
	f.StringVar(&color, "color", "#000000", "Stroke color")
	f.Float64Var(&width, "width", 4, "Stroke width")
	f.BoolVar(&eraser, "eraser", false, "Draw with the eraser")
	f.IntVar(&undo, "undo", 0, "Undo this many strokes")
	f.IntVar(&redo, "redo", 0, "Redo this many strokes")
	f.BoolVar(&clearAll, "clear", false, "Remove all strokes first (not undoable)")
	return cmd
}
