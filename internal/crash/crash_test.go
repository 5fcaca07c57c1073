/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package crash

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"canvasedit/internal/telemetry"
)

func TestWriteReportCreatesFileInTemp(t *testing.T) {
	path, err := writeReport(Options{}, "boom", []byte("stacktrace"))
	if err != nil {
		t.Fatalf("writeReport error: %v", err)
	}
	defer os.Remove(path)
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, "canvasedit crash report") {
		t.Fatalf("report header missing")
	}
	if !strings.Contains(s, "Panic: boom") {
		t.Fatalf("panic content missing: %s", s)
	}
	if strings.Contains(s, "Node:") {
		t.Fatalf("node line written without a node")
	}
}

// TestRecoverRunsFlushHooks checks the report, the hooks and the intercepted exit.
func TestRecoverRunsFlushHooks(t *testing.T) {
	oldStderr := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w
	defer func() {
		_ = w.Close()
		os.Stderr = oldStderr
		_, _ = io.Copy(io.Discard, r)
	}()

	called := 0
	oldExit := exitFn
	exitFn = func(code int) { called = code }
	defer func() { exitFn = oldExit }()

	dir := t.TempDir()
	reg := prometheus.NewRegistry()
	m := telemetry.New(reg)
	var ran []string
	opts := Options{
		Dir:     dir,
		NodeID:  "node-7",
		Metrics: m,
		Flush: []func() error{
			func() error { ran = append(ran, "a"); return errors.New("disk full") },
			func() error { ran = append(ran, "b"); panic("nested") },
			func() error { ran = append(ran, "c"); return nil },
		},
	}
	func() {
		defer Recover(opts)
		panic("boom")
	}()

	if strings.Join(ran, "") != "abc" {
		t.Fatalf("flush hooks ran = %v", ran)
	}
	if called != 2 {
		t.Fatalf("expected exit code 2, got %d", called)
	}
	files, _ := filepath.Glob(filepath.Join(dir, "crash-*.log"))
	if len(files) != 1 {
		t.Fatalf("expected one crash report, got %v", files)
	}
	b, _ := os.ReadFile(files[0])
	if !bytes.Contains(b, []byte("Panic: boom")) || !bytes.Contains(b, []byte("Node: node-7")) {
		t.Fatalf("report content: %s", b)
	}
	if n, err := testutil.GatherAndCount(reg, "canvasedit_crashes_total"); err != nil || n != 1 {
		t.Fatalf("crash metric series = %d (%v)", n, err)
	}
}

func TestRecoverWithoutPanicIsNoop(t *testing.T) {
	oldExit := exitFn
	exitFn = func(int) { t.Fatalf("exit called without panic") }
	defer func() { exitFn = oldExit }()
	func() {
		defer Recover(Options{Flush: []func() error{func() error { t.Fatalf("flush without panic"); return nil }}})
	}()
}
