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

	"github.com/spf13/cobra"

	"canvasedit/internal/export"
	"canvasedit/internal/session"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		preset  string
		formats []string
		out     string
		title   string
	)
	cmd := &cobra.Command{
		Use:   "export <node-id>",
		Short: "Render a node into a new artifact version, optionally writing files",
		Long: `Without file flags the node is rendered into the store immediately, bypassing the debounce.
With --preset, --format or --out the rendering is also written to disk:
  web   = png + thumbnail
  print = pdf (vector strokes for sketches) + png`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withSession(ctx, args[0], func(s *session.Session) error {
				art, err := s.Exporter().SaveNow(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported v%d: %s (%dx%d)\n", art.Version, art.URL, art.Width, art.Height)
				if preset == "" && len(formats) == 0 && out == "" {
					return nil
				}
				p := export.PresetName(preset)
				if p == "" {
					p = export.PresetWeb
				}
				paths, err := export.BatchExport(ctx, s.State(), export.NewComposer(s.LoadImage), s.LoadImage, export.BatchOptions{
					Preset:    p,
					Formats:   formats,
					OutDir:    out,
					ThumbSide: a.cfg.Export.ThumbMaxSide,
					Title:     title,
				})
				for _, path := range paths {
					fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
				}
				return err
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&preset, "preset", "", "Export preset: web or print")
	f.StringSliceVar(&formats, "format", nil, "Formats to write: png, jpeg, pdf, thumb (comma separated)")
	f.StringVar(&out, "out", "", "Output directory (defaults to the preset name)")
	f.StringVar(&title, "title", "", "PDF document title")
	return cmd
}
