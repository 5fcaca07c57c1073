/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"canvasedit/internal/config"
	"canvasedit/internal/crash"
	applog "canvasedit/internal/log"
	"canvasedit/internal/session"
	"canvasedit/internal/telemetry"
)

// app is the state shared by all subcommands, filled in before any of them runs.
type app struct {
	cfg     config.AppConfig
	metrics *telemetry.Metrics
	reg     *prometheus.Registry
	log     *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "canvasedit",
		Short: "Headless crop, sketch and filter editing of canvas nodes",
		Long: `canvasedit keeps the durable state of editor nodes (crop windows, freehand sketches and
filter settings) in a local or shared store and renders them into versioned artifacts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}
	root.PersistentFlags().String("data-dir", "", "Directory of the local node store (overrides storage.data_dir)")
	root.PersistentFlags().String("driver", "", "Storage driver: sqlite or postgres (overrides storage.driver)")

	root.AddCommand(
		newVersionCmd(),
		newConfigCmd(a),
		newNodeCmd(a),
		newCropCmd(a),
		newSketchCmd(a),
		newFilterCmd(a),
		newExportCmd(a),
		newMetricsCmd(a),
		newServeCmd(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("driver"); v != "" {
		cfg.Storage.Driver = v
	}
	a.cfg = cfg
	applog.Init(applog.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.Source,
		File:      cfg.Logging.File,
	})
	a.log = applog.WithComponent("cli")
	a.metrics, a.reg = telemetry.Default()
	a.log.Debug("start", slog.String("cmd", cmd.CommandPath()), slog.String("driver", cfg.Storage.Driver))
	return nil
}

// withSession resumes nodeID, runs fn and closes the session, which flushes any pending export.
func (a *app) withSession(ctx context.Context, nodeID string, fn func(s *session.Session) error) error {
	be, err := session.OpenBackend(ctx, a.cfg.Storage)
	if err != nil {
		return err
	}
	defer be.Close()
	s, err := session.Resume(ctx, be, nodeID, a.sessionOptions())
	if err != nil {
		return err
	}
	defer crash.Recover(s.CrashOptions(a.crashDir(), a.metrics))
	if err := fn(s); err != nil {
		_ = s.Close(ctx)
		return err
	}
	return s.Close(ctx)
}

func (a *app) sessionOptions() session.Options {
	return session.Options{
		Config:  a.cfg,
		Metrics: a.metrics,
		OnError: func(err error) { a.log.Warn("export failed", slog.Any("err", err)) },
	}
}

func (a *app) crashDir() string {
	if a.cfg.Storage.DataDir == "" {
		return ""
	}
	return filepath.Join(a.cfg.Storage.DataDir, "crash")
}
