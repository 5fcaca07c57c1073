/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package log configures the process-wide slog logger: a compact console format or JSON on stderr,
// an optional rotating JSON file, and node/operation/export-version attributes.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	lj "gopkg.in/natefinch/lumberjack.v2"

	"canvasedit/internal/version"
)

// Options controls logger initialization. FromEnv reads them from CVE_LOG_LEVEL, CVE_LOG_FORMAT,
// CVE_LOG_SOURCE and CVE_LOG_FILE.
type Options struct {
	Level     string // debug, info, warn, error
	Format    string // console or json
	AddSource bool
	File      string    // rotated JSON log file, optional
	Writer    io.Writer // console destination; stderr when nil
}

var (
	mu     sync.RWMutex
	logger *slog.Logger
)

// L returns the application logger, initializing it from the environment on first use.
func L() *slog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l
	}
	return Init(FromEnv())
}

// Init replaces the application logger and slog.Default.
func Init(opts Options) *slog.Logger {
	ho := &slog.HandlerOptions{Level: parseLevel(opts.Level), AddSource: opts.AddSource}
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	var console slog.Handler
	if strings.EqualFold(strings.TrimSpace(opts.Format), "json") {
		console = slog.NewJSONHandler(w, ho)
	} else {
		console = slog.NewTextHandler(w, &slog.HandlerOptions{Level: ho.Level, AddSource: ho.AddSource, ReplaceAttr: shortLevel})
	}
	hs := fanout{console}
	if f := strings.TrimSpace(opts.File); f != "" {
		rot := &lj.Logger{Filename: f, MaxSize: 10, MaxBackups: 3, MaxAge: 28, Compress: true}
		hs = append(hs, slog.NewJSONHandler(rot, ho))
	}
	var h slog.Handler = hs
	if len(hs) == 1 {
		h = hs[0]
	}
	l := slog.New(enrich{h}).With(slog.String("app", "canvasedit"), slog.String("ver", version.Version))

	mu.Lock()
	logger = l
	mu.Unlock()
	slog.SetDefault(l)
	return l
}

// FromEnv builds Options from CVE_LOG_* variables.
func FromEnv() Options {
	o := Options{Level: "info", Format: "console", File: os.Getenv("CVE_LOG_FILE")}
	if v := os.Getenv("CVE_LOG_LEVEL"); v != "" {
		o.Level = v
	}
	if v := os.Getenv("CVE_LOG_FORMAT"); v != "" {
		o.Format = v
	}
	o.AddSource = strings.EqualFold(os.Getenv("CVE_LOG_SOURCE"), "true")
	return o
}

func WithComponent(name string) *slog.Logger { return L().With(slog.String("component", name)) }

func WithOperation(l *slog.Logger, op string) *slog.Logger { return l.With(slog.String("op", op)) }

// WithNode tags records with the editor node they concern.
func WithNode(l *slog.Logger, nodeID string) *slog.Logger { return l.With(slog.String("node", nodeID)) }

type exportVersionKey struct{}

// WithExportVersion returns a context whose log records carry export_version.
func WithExportVersion(ctx context.Context, v uint64) context.Context {
	return context.WithValue(ctx, exportVersionKey{}, v)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// shortLevel renders console levels as DBG/INF/WRN/ERR.
func shortLevel(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 || a.Key != slog.LevelKey {
		return a
	}
	switch a.Value.Any().(slog.Level) {
	case slog.LevelDebug:
		a.Value = slog.StringValue("DBG")
	case slog.LevelInfo:
		a.Value = slog.StringValue("INF")
	case slog.LevelWarn:
		a.Value = slog.StringValue("WRN")
	case slog.LevelError:
		a.Value = slog.StringValue("ERR")
	}
	return a
}

// enrich copies context values onto records.
type enrich struct{ next slog.Handler }

func (e enrich) Enabled(ctx context.Context, l slog.Level) bool { return e.next.Enabled(ctx, l) }

func (e enrich) Handle(ctx context.Context, r slog.Record) error {
	if v, ok := ctx.Value(exportVersionKey{}).(uint64); ok {
		r.AddAttrs(slog.Uint64("export_version", v))
	}
	return e.next.Handle(ctx, r)
}

func (e enrich) WithAttrs(as []slog.Attr) slog.Handler { return enrich{e.next.WithAttrs(as)} }
func (e enrich) WithGroup(name string) slog.Handler   { return enrich{e.next.WithGroup(name)} }

// fanout sends each record to every handler that wants it.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f fanout) WithAttrs(as []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(as)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
