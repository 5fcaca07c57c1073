/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"canvasedit/internal/session"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CVE_CONFIG", filepath.Join(dir, "config.yaml"))
	t.Setenv("CVE_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("CVE_STORAGE_DRIVER", "sqlite")
	t.Setenv("CVE_EXPORT_DEBOUNCE_MS", "10")
	t.Setenv("CVE_LOG_LEVEL", "error")
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("%s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func writePNG(t *testing.T, dir string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	p := filepath.Join(dir, "src.png")
	f, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestVersion(t *testing.T) {
	out := mustRun(t, "version")
	if !strings.HasPrefix(out, "canvasedit version ") {
		t.Fatalf("version output = %q", out)
	}
}

func TestCropCommands(t *testing.T) {
	dir := isolate(t)
	src := writePNG(t, dir, 400, 300)

	out := mustRun(t, "node", "new", "c1", "--kind", "crop", "--source", src)
	if !strings.Contains(out, "(400x300)") || !strings.Contains(out, "Created crop node c1") {
		t.Fatalf("node new output = %q", out)
	}
	if _, err := run(t, "node", "new", "c1", "--kind", "crop"); err == nil {
		t.Fatalf("duplicate node id accepted")
	}

	out = mustRun(t, "crop", "c1", "--drag", "se:-100,-100")
	if !strings.Contains(out, "x=0 y=0 w=300 h=200 ratio=free") {
		t.Fatalf("drag output = %q", out)
	}
	out = mustRun(t, "crop", "c1", "--drag", "none:50,40")
	if !strings.Contains(out, "x=50 y=40 w=300 h=200") {
		t.Fatalf("move output = %q", out)
	}
	out = mustRun(t, "crop", "c1", "--ratio", "1:1")
	if !strings.Contains(out, "ratio=1:1") {
		t.Fatalf("ratio output = %q", out)
	}
	out = mustRun(t, "crop", "c1", "--reset", "--width", "120", "--apply")
	if !strings.Contains(out, "x=0 y=0 w=120 h=300 ratio=free") || !strings.Contains(out, "Cropped: artifact://") {
		t.Fatalf("apply output = %q", out)
	}

	if _, err := run(t, "crop", "c1", "--width", "abc"); err == nil {
		t.Fatalf("invalid width accepted")
	}
	if _, err := run(t, "crop", "c1", "--drag", "up:1,1"); err == nil {
		t.Fatalf("unknown handle accepted")
	}
	if _, err := run(t, "crop", "missing"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("missing node err = %v", err)
	}
}

func TestSketchAndExportCommands(t *testing.T) {
	dir := isolate(t)
	mustRun(t, "node", "new", "s1", "--kind", "sketch", "--background", "#eeeeee")

	out := mustRun(t, "sketch", "s1", "--stroke", "10,10 50,50 90,20", "--stroke", "5,5;60,60", "--color", "#ff0000", "--width", "6")
	if !strings.Contains(out, "Strokes: 2 (undo=true redo=false)") {
		t.Fatalf("stroke output = %q", out)
	}
	out = mustRun(t, "sketch", "s1", "--undo", "2", "--redo", "1")
	if !strings.Contains(out, "Strokes: 1 (undo=true redo=true)") {
		t.Fatalf("undo/redo output = %q", out)
	}
	if _, err := run(t, "crop", "s1"); !errors.Is(err, session.ErrWrongKind) {
		t.Fatalf("crop on sketch err = %v", err)
	}
	if _, err := run(t, "sketch", "s1", "--stroke", "1;2"); err == nil {
		t.Fatalf("malformed stroke accepted")
	}

	out = mustRun(t, "export", "s1")
	if !strings.Contains(out, "Exported v") || !strings.Contains(out, "artifact://") {
		t.Fatalf("export output = %q", out)
	}
	outDir := filepath.Join(dir, "web")
	out = mustRun(t, "export", "s1", "--preset", "web", "--out", outDir)
	for _, name := range []string{"s1.png", "s1-thumb.png"} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Fatalf("%s not written: %v\n%s", name, err, out)
		}
	}
	pdfDir := filepath.Join(dir, "print")
	mustRun(t, "export", "s1", "--format", "pdf", "--out", pdfDir, "--title", "Sketch")
	if b, err := os.ReadFile(filepath.Join(pdfDir, "s1.pdf")); err != nil || !bytes.HasPrefix(b, []byte("%PDF")) {
		t.Fatalf("pdf not written: %v", err)
	}

	out = mustRun(t, "sketch", "s1", "--clear")
	if !strings.Contains(out, "Strokes: 0 (undo=false redo=false)") {
		t.Fatalf("clear output = %q", out)
	}
}

func TestFilterCommand(t *testing.T) {
	dir := isolate(t)
	src := writePNG(t, dir, 20, 10)
	mustRun(t, "node", "new", "f1", "--kind", "filter", "--source", src)

	out := mustRun(t, "filter", "f1", "--set", "blur=50", "--set", "sepia=30")
	if !strings.Contains(out, "blur=20") || !strings.Contains(out, "sepia=30") {
		t.Fatalf("filter output = %q", out)
	}
	out = mustRun(t, "filter", "f1", "--set", "hue=-90")
	if !strings.Contains(out, "hue=-90") || !strings.Contains(out, "sepia=30") {
		t.Fatalf("filters not carried over: %q", out)
	}
	out = mustRun(t, "filter", "f1", "--reset")
	if !strings.Contains(out, "hue=0") || !strings.Contains(out, "sepia=0") || !strings.Contains(out, "brightness=100") {
		t.Fatalf("reset output = %q", out)
	}
	if _, err := run(t, "filter", "f1", "--set", "gamma=2"); err == nil {
		t.Fatalf("unknown filter accepted")
	}
	if _, err := run(t, "filter", "f1", "--set", "blur"); err == nil {
		t.Fatalf("assignment without value accepted")
	}
}

func TestNodeCommands(t *testing.T) {
	dir := isolate(t)
	out := mustRun(t, "node", "ls")
	if !strings.Contains(out, "No nodes found.") {
		t.Fatalf("empty ls = %q", out)
	}
	mustRun(t, "node", "new", "n1", "--kind", "sketch")
	mustRun(t, "sketch", "n1", "--stroke", "1,1 9,9")

	out = mustRun(t, "node", "ls")
	if !strings.Contains(out, "n1\tsketch\t") {
		t.Fatalf("ls = %q", out)
	}
	out = mustRun(t, "node", "show", "n1")
	if !strings.Contains(out, `"kind": "sketch"`) {
		t.Fatalf("show = %q", out)
	}

	file := filepath.Join(dir, "nodes", "n1.json")
	mustRun(t, "node", "save-file", "n1", file)
	out = mustRun(t, "node", "rm", "n1")
	if !strings.Contains(out, "Removed node 'n1'") {
		t.Fatalf("rm = %q", out)
	}
	if _, err := run(t, "node", "show", "n1"); err == nil {
		t.Fatalf("removed node still shown")
	}
	out = mustRun(t, "node", "open-file", file)
	if !strings.Contains(out, "Imported sketch node n1") {
		t.Fatalf("open-file = %q", out)
	}
	out = mustRun(t, "sketch", "n1")
	if !strings.Contains(out, "Strokes: 1") {
		t.Fatalf("imported strokes = %q", out)
	}

	out = mustRun(t, "node", "new", "--kind", "filter")
	if !strings.Contains(out, "Created filter node ") {
		t.Fatalf("generated id = %q", out)
	}
	if _, err := run(t, "node", "new", "--kind", "lasso"); err == nil {
		t.Fatalf("unknown kind accepted")
	}
}

func TestConfigCommands(t *testing.T) {
	dir := isolate(t)
	out := mustRun(t, "config", "path")
	if strings.TrimSpace(out) != filepath.Join(dir, "config.yaml") {
		t.Fatalf("config path = %q", out)
	}
	out = mustRun(t, "--driver", "sqlite", "config", "show")
	if !strings.Contains(out, "debounce_ms: 10") {
		t.Fatalf("config show = %q", out)
	}
	mustRun(t, "config", "init")
	if _, err := os.Stat(filepath.Join(dir, "config.yaml")); err != nil {
		t.Fatalf("config not written: %v", err)
	}
}
