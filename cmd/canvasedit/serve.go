/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"canvasedit/internal/backend"
	"canvasedit/internal/telemetry"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve nodes and artifacts from PostgreSQL over HTTP",
		Long: `Reads DATABASE_URL or CVE_PG_DSN, PORT or ADDR and CVE_AUTH_SECRET from the environment.
storage.dsn from the config file is used when no DSN is set there.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := backend.LoadServerConfig()
			if cfg.DSN == "" {
				cfg.DSN = a.cfg.Storage.DSN
			}
			if addr != "" {
				cfg.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if a.cfg.Metrics.Enabled {
				go func() {
					if err := telemetry.Serve(ctx, a.cfg.Metrics.Addr, a.reg); err != nil {
						a.log.Warn("metrics endpoint stopped", slog.Any("err", err))
					}
				}()
			}
			return backend.Start(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides PORT and ADDR)")
	return cmd
}
