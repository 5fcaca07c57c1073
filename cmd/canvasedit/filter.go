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

	"canvasedit/internal/domain"
	"canvasedit/internal/session"
)

func newFilterCmd(a *app) *cobra.Command {
	var (
		sets  []string
		reset bool
	)
	cmd := &cobra.Command{
		Use:   "filter <node-id>",
		Short: "Change the color filters of a filter node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), args[0], func(s *session.Session) error {
				f := domain.DefaultFilters()
				if cur := s.State().Filters; cur != nil && !reset {
					f = *cur
				}
				if err := f.ParseAssignments(sets); err != nil {
					return err
				}
				if err := s.SetFilters(f); err != nil {
					return err
				}
				g := s.State().Filters
				fmt.Fprintf(cmd.OutOrStdout(), "Filters: brightness=%g contrast=%g saturation=%g hue=%g blur=%g grayscale=%g sepia=%g opacity=%g\n",
					g.Brightness, g.Contrast, g.Saturation, g.Hue, g.Blur, g.Grayscale, g.Sepia, g.Opacity)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Parameter assignment name=value; repeatable")
	cmd.Flags().BoolVar(&reset, "reset", false, "Start from the identity filters")
	return cmd
}
