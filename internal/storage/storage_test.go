/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"canvasedit/internal/domain"
	"canvasedit/internal/geom"
)

func openTestDB(t *testing.T, opts Options) *DB {
	t.Helper()
	db, err := Open(t.TempDir(), opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sampleNode() domain.NodeState {
	crop := geom.R(10, 20, 300, 200)
	f := domain.DefaultFilters()
	f.Sepia = 40
	return domain.NodeState{
		NodeID:    "node-1",
		Kind:      domain.KindSketch,
		ImageSize: geom.Size{W: 640, H: 480},
		Crop:      &crop,
		Ratio:     geom.AspectRatio{W: 3, H: 2},
		Strokes: []domain.Stroke{
			{ID: "s1", Points: []geom.Point{{X: 1, Y: 2}, {X: 3, Y: 4}}, Color: "#ff0000", Width: 4},
			{ID: "s2", Points: []geom.Point{{X: 5, Y: 6}}, Color: "#000", Width: 8, Eraser: true},
		},
		Background: domain.Background{Color: "#ffffff"},
		Filters:    &f,
		Artifact:   &domain.Artifact{Version: 3, URL: "artifact://x", CacheBust: "3-1", Width: 640, Height: 480},
	}
}

func TestOpenCreatesSchemaAndMigrates(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	if v, err := db.SchemaVersion(ctx); err != nil || v != schemaVersion {
		t.Fatalf("schema = %d (%v)", v, err)
	}
	if err := db.SetMeta(ctx, "owner", "test"); err != nil {
		t.Fatalf("set meta: %v", err)
	}
	_ = db.Close()

	if _, err := os.Stat(DBPath(dir)); err != nil {
		t.Fatalf("db file missing: %v", err)
	}
	db, err = Open(dir, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	if v, _ := db.Meta(ctx, "owner"); v != "test" {
		t.Fatalf("meta lost across reopen: %q", v)
	}
	if _, err := db.Meta(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing meta err = %v", err)
	}
	if _, err := Open("  ", Options{}); err == nil {
		t.Fatalf("empty dir should be rejected")
	}
}

func TestSaveLoadNodeRoundTrip(t *testing.T) {
	db := openTestDB(t, Options{})
	ctx := context.Background()
	in := sampleNode()
	if err := db.SaveNode(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, err := db.LoadNode(ctx, "node-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out.Strokes) != 2 || !out.Strokes[1].Eraser || out.Strokes[0].Points[1] != (geom.Point{X: 3, Y: 4}) {
		t.Fatalf("strokes = %+v", out.Strokes)
	}
	if *out.Crop != *in.Crop || out.Ratio != in.Ratio || out.Filters.Sepia != 40 || out.Artifact.Version != 3 {
		t.Fatalf("loaded = %+v", out)
	}

	in.Strokes = nil
	if err := db.SaveNode(ctx, in); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	out, _ = db.LoadNode(ctx, "node-1")
	if len(out.Strokes) != 0 {
		t.Fatalf("upsert did not replace strokes")
	}
	nodes, err := db.ListNodes(ctx)
	if err != nil || len(nodes) != 1 || nodes[0].Kind != domain.KindSketch {
		t.Fatalf("list = %+v (%v)", nodes, err)
	}
	if err := db.DeleteNode(ctx, "node-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.LoadNode(ctx, "node-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("after delete err = %v", err)
	}
	if err := db.DeleteNode(ctx, "node-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err = %v", err)
	}
}

func TestInvalidNodeStateIsRejected(t *testing.T) {
	db := openTestDB(t, Options{})
	ctx := context.Background()
	bad := sampleNode()
	bad.Kind = "video"
	if err := db.SaveNode(ctx, bad); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("save err = %v", err)
	}
	neg := sampleNode()
	neg.Crop = &geom.Rect{X: 0, Y: 0, W: -1, H: 10}
	if err := db.SaveNode(ctx, neg); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("negative crop err = %v", err)
	}

	// a row corrupted behind our back is reported on load
	if _, err := db.sql.ExecContext(ctx, `INSERT INTO nodes(id,kind,state_json,updated_at) VALUES('x','crop','{"nodeId":"x","kind":"crop","filters":{"blur":99}}','now')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := db.LoadNode(ctx, "x"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("load corrupted err = %v", err)
	}
	if err := ValidateNodeJSON([]byte(`{"nodeId":"y","kind":"filter","filters":{"hue":-180}}`)); err != nil {
		t.Fatalf("valid minimal node rejected: %v", err)
	}
}

func checker(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				img.Set(x, y, color.Black)
			} else {
				img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
			}
		}
	}
	return img
}

func TestEncodeAndStoreAndLoad(t *testing.T) {
	db := openTestDB(t, Options{})
	ctx := context.Background()
	url, err := db.EncodeAndStore(ctx, "n", 4, checker(32, 16))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, ok := ArtifactID(url); !ok {
		t.Fatalf("url = %q", url)
	}
	img, err := db.LoadImage(ctx, url)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 16 {
		t.Fatalf("bounds = %v", b)
	}
	a, err := db.GetArtifact(ctx, url)
	if err != nil || a.Version != 4 || a.NodeID != "n" || a.ContentType != "image/png" || a.W != 32 {
		t.Fatalf("artifact = %+v (%v)", a, err)
	}
	if _, err := db.LoadImage(ctx, "artifact://nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing err = %v", err)
	}

	th, err := db.GetOrCreateThumbnail(ctx, url, 8)
	if err != nil {
		t.Fatalf("thumb: %v", err)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(th))
	if err != nil || cfg.Width != 8 || cfg.Height != 4 {
		t.Fatalf("thumb cfg = %+v (%v)", cfg, err)
	}
	again, _ := db.GetOrCreateThumbnail(ctx, url, 8)
	if !bytes.Equal(th, again) {
		t.Fatalf("thumbnail should be served from cache")
	}
}

func TestLoadImageFromFile(t *testing.T) {
	db := openTestDB(t, Options{})
	p := filepath.Join(t.TempDir(), "src.png")
	f, _ := os.Create(p)
	_ = png.Encode(f, checker(5, 7))
	_ = f.Close()
	img, err := db.LoadImage(context.Background(), p)
	if err != nil || img.Bounds().Dx() != 5 {
		t.Fatalf("file load = %v (%v)", img, err)
	}
}

func TestEvictionKeepsRecentlyUsed(t *testing.T) {
	db := openTestDB(t, Options{MaxBytes: -1})
	ctx := context.Background()
	tick := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	db.now = func() time.Time { tick = tick.Add(time.Second); return tick }

	blob := bytes.Repeat([]byte{1}, 100)
	var urls []string
	for i := 0; i < 4; i++ {
		u, err := db.PutArtifact(ctx, Artifact{NodeID: "n", Version: uint64(i + 1), ContentType: "application/octet-stream", Data: blob})
		if err != nil {
			t.Fatalf("put: %v", err)
		}
		urls = append(urls, u)
	}
	// touch the oldest so the second one becomes the LRU victim
	if _, err := db.GetArtifact(ctx, urls[0]); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := db.EvictToFit(ctx, 300); err != nil {
		t.Fatalf("evict: %v", err)
	}
	if total, _ := db.TotalArtifactBytes(ctx); total != 300 {
		t.Fatalf("total = %d", total)
	}
	if _, err := db.GetArtifact(ctx, urls[1]); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LRU artifact survived: %v", err)
	}
	if _, err := db.GetArtifact(ctx, urls[0]); err != nil {
		t.Fatalf("recently used artifact evicted: %v", err)
	}

	n, err := db.PruneNode(ctx, "n", 4)
	if err != nil || n != 2 {
		t.Fatalf("prune = %d (%v)", n, err)
	}
}

func TestCapAppliesOnPut(t *testing.T) {
	db := openTestDB(t, Options{MaxBytes: 250})
	ctx := context.Background()
	blob := bytes.Repeat([]byte{7}, 100)
	var last string
	for i := 0; i < 5; i++ {
		u, err := db.PutArtifact(ctx, Artifact{NodeID: "n", Version: uint64(i), ContentType: "x", Data: blob})
		if err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
		last = u
	}
	if total, _ := db.TotalArtifactBytes(ctx); total > 250 {
		t.Fatalf("cap exceeded: %d", total)
	}
	if _, err := db.GetArtifact(ctx, last); err != nil {
		t.Fatalf("newest artifact evicted: %v", err)
	}
}

func TestEvictionSparesReferencedArtifacts(t *testing.T) {
	db := openTestDB(t, Options{MaxBytes: 250})
	ctx := context.Background()
	tick := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	db.now = func() time.Time { tick = tick.Add(time.Second); return tick }

	put := func(a Artifact) string {
		t.Helper()
		if a.ContentType == "" {
			a.ContentType = "x"
		}
		u, err := db.PutArtifact(ctx, a)
		if err != nil {
			t.Fatalf("put %q: %v", a.ID, err)
		}
		return u
	}
	blob := bytes.Repeat([]byte{3}, 100)
	derived := put(Artifact{NodeID: "c", Version: DerivedVersion, Data: blob})
	b1 := put(Artifact{NodeID: "b", Version: 1, Data: blob})
	thumb := put(Artifact{ID: "b-thumb", NodeID: "b", Version: 1, Kind: ArtifactKindThumb, Data: blob[:50]})
	a1 := put(Artifact{NodeID: "a", Version: 1, Data: blob})
	a2 := put(Artifact{NodeID: "a", Version: 2, Data: blob})

	for _, u := range []string{derived, b1, a2} {
		if _, err := db.GetArtifact(ctx, u); err != nil {
			t.Fatalf("referenced artifact %s evicted: %v", u, err)
		}
	}
	for _, u := range []string{thumb, a1} {
		if _, err := db.GetArtifact(ctx, u); !errors.Is(err, ErrNotFound) {
			t.Fatalf("victim %s survived: %v", u, err)
		}
	}
	// nothing else may go, so the store stays above the cap
	if total, _ := db.TotalArtifactBytes(ctx); total != 300 {
		t.Fatalf("total = %d", total)
	}
}

func TestNodeFileBackupsAndRecovery(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.json")
	st := sampleNode()
	if err := SaveNodeFile(path, st); err != nil {
		t.Fatalf("save 1: %v", err)
	}
	st.Strokes = st.Strokes[:1]
	if err := SaveNodeFile(path, st); err != nil {
		t.Fatalf("save 2: %v", err)
	}
	ents, err := os.ReadDir(filepath.Join(dir, BackupsDirName))
	if err != nil || len(ents) != 1 {
		t.Fatalf("backups = %v (%v)", ents, err)
	}
	got, err := OpenNodeFile(path)
	if err != nil || len(got.Strokes) != 1 {
		t.Fatalf("open = %+v (%v)", got, err)
	}

	// corrupt the current file: the backup (two strokes) is used
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err = OpenNodeFile(path)
	if err != nil || len(got.Strokes) != 2 {
		t.Fatalf("recovered = %+v (%v)", got, err)
	}

	if _, err := OpenNodeFile(filepath.Join(t.TempDir(), "none.json")); err == nil {
		t.Fatalf("missing file without backups should fail")
	}
}
