/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * Licensed under the Apache License, Version 2.0.
 */

package storage

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"canvasedit/internal/render"
)

// ArtifactScheme prefixes URLs of blobs held in the artifacts table.
const ArtifactScheme = "artifact://"

// Artifact kinds: full exports and derived thumbnails share one table and one size cap.
const (
	ArtifactKindFull  = "full"
	ArtifactKindThumb = "thumb"
)

// accessLayout is fixed width so last_access sorts lexicographically.
const accessLayout = "2006-01-02T15:04:05.000000000Z"

// Artifact is one stored blob.
type Artifact struct {
	ID          string
	NodeID      string
	Version     uint64
	Kind        string
	ContentType string
	W, H        int
	Data        []byte
}

// URL is the artifact:// reference for a.
func (a Artifact) URL() string { return ArtifactScheme + a.ID }

// ArtifactID extracts the id from an artifact:// URL.
func ArtifactID(url string) (string, bool) {
	if !strings.HasPrefix(url, ArtifactScheme) {
		return "", false
	}
	id := strings.TrimPrefix(url, ArtifactScheme)
	return id, id != ""
}

// PutArtifact stores a blob, enforces the size cap via LRU eviction and returns the artifact URL.
func (d *DB) PutArtifact(ctx context.Context, a Artifact) (string, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Kind == "" {
		a.Kind = ArtifactKindFull
	}
	if a.Kind != ArtifactKindFull && a.Kind != ArtifactKindThumb {
		return "", fmt.Errorf("invalid kind: %s", a.Kind)
	}
	now := d.now().UTC().Format(accessLayout)
	_, err := d.sql.ExecContext(ctx, `INSERT INTO artifacts(id,node_id,version,kind,content_type,w,h,blob,size,created_at,last_access)
		VALUES(?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET blob=excluded.blob, size=excluded.size, last_access=excluded.last_access`,
		a.ID, a.NodeID, int64(a.Version), a.Kind, a.ContentType, a.W, a.H, a.Data, len(a.Data), now, now)
	if err != nil {
		return "", fmt.Errorf("insert artifact: %w", err)
	}
	if d.maxBytes > 0 {
		if err := d.EvictToFit(ctx, d.maxBytes, a.ID); err != nil {
			return "", err
		}
	}
	return a.URL(), nil
}

// GetArtifact returns the artifact behind url (or a bare id) and updates last_access.
func (d *DB) GetArtifact(ctx context.Context, url string) (Artifact, error) {
	id, ok := ArtifactID(url)
	if !ok {
		id = url
	}
	var a Artifact
	var version int64
	err := d.sql.QueryRowContext(ctx, `SELECT id,node_id,version,kind,content_type,w,h,blob FROM artifacts WHERE id=?`, id).
		Scan(&a.ID, &a.NodeID, &version, &a.Kind, &a.ContentType, &a.W, &a.H, &a.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return Artifact{}, fmt.Errorf("artifact %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("query artifact: %w", err)
	}
	a.Version = uint64(version)
	// touch
	_, _ = d.sql.ExecContext(ctx, `UPDATE artifacts SET last_access=? WHERE id=?`, d.now().UTC().Format(accessLayout), id)
	return a, nil
}

// EncodeAndStore encodes img as PNG and stores it as the given export version of nodeID.
func (d *DB) EncodeAndStore(ctx context.Context, nodeID string, version uint64, img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := render.Encode(&buf, img, render.FormatPNG); err != nil {
		return "", err
	}
	b := img.Bounds()
	url, err := d.PutArtifact(ctx, Artifact{
		NodeID:      nodeID,
		Version:     version,
		ContentType: render.FormatPNG.ContentType(),
		W:           b.Dx(),
		H:           b.Dy(),
		Data:        buf.Bytes(),
	})
	if err != nil {
		return "", err
	}
	d.log.Debug("artifact stored", slog.String("node", nodeID), slog.Uint64("version", version), slog.Int("bytes", buf.Len()))
	return url, nil
}

// LoadImage decodes an artifact:// URL from the database or any other URL as a file path.
func (d *DB) LoadImage(ctx context.Context, url string) (image.Image, error) {
	if _, ok := ArtifactID(url); !ok {
		return render.LoadImage(url)
	}
	a, err := d.GetArtifact(ctx, url)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(a.Data))
	if err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", a.ID, err)
	}
	return img, nil
}

// GetOrCreateThumbnail returns a PNG thumbnail of the artifact at url, generating and caching it on a miss.
func (d *DB) GetOrCreateThumbnail(ctx context.Context, url string, maxSide int) ([]byte, error) {
	src, ok := ArtifactID(url)
	if !ok {
		return nil, fmt.Errorf("not an artifact url: %s", url)
	}
	id := fmt.Sprintf("%s@thumb%d", src, maxSide)
	if a, err := d.GetArtifact(ctx, id); err == nil {
		return a.Data, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	full, err := d.GetArtifact(ctx, url)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(full.Data))
	if err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", full.ID, err)
	}
	th := render.Thumbnail(img, maxSide)
	var buf bytes.Buffer
	if err := render.Encode(&buf, th, render.FormatPNG); err != nil {
		return nil, err
	}
	if _, err := d.PutArtifact(ctx, Artifact{
		ID:          id,
		NodeID:      full.NodeID,
		Version:     full.Version,
		Kind:        ArtifactKindThumb,
		ContentType: render.FormatPNG.ContentType(),
		W:           th.Bounds().Dx(),
		H:           th.Bounds().Dy(),
		Data:        buf.Bytes(),
	}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DerivedVersion marks images produced by an explicit edit (the cropped source) rather than an export.
const DerivedVersion uint64 = 0

// PruneNode deletes export artifacts of nodeID older than keepVersion. Derived images are kept.
func (d *DB) PruneNode(ctx context.Context, nodeID string, keepVersion uint64) (int64, error) {
	res, err := d.sql.ExecContext(ctx, `DELETE FROM artifacts WHERE node_id=? AND version>0 AND version<?`, nodeID, int64(keepVersion))
	if err != nil {
		return 0, fmt.Errorf("prune artifacts: %w", err)
	}
	return res.RowsAffected()
}

// EvictToFit deletes least-recently-used rows until total size <= capBytes. Rows named in keep survive, and
// so do derived images and each node's newest export: node state points at them. Only thumbnails and
// superseded exports are victims, so the cap is best effort.
func (d *DB) EvictToFit(ctx context.Context, capBytes int64, keep ...string) error {
	var total int64
	if err := d.sql.QueryRowContext(ctx, `SELECT COALESCE(SUM(size),0) FROM artifacts`).Scan(&total); err != nil {
		return fmt.Errorf("sum artifacts size: %w", err)
	}
	if total <= capBytes {
		return nil
	}
	keepSet := make(map[string]bool, len(keep))
	for _, k := range keep {
		keepSet[k] = true
	}
	// oldest first, never-accessed rows before everything else
	rows, err := d.sql.QueryContext(ctx, `SELECT a.id, a.size FROM artifacts a
		WHERE a.kind = ? OR (a.version > 0 AND a.version < (
			SELECT MAX(b.version) FROM artifacts b WHERE b.node_id = a.node_id AND b.kind = ?))
		ORDER BY CASE WHEN a.last_access IS NULL THEN 0 ELSE 1 END ASC, a.last_access ASC`,
		ArtifactKindThumb, ArtifactKindFull)
	if err != nil {
		return fmt.Errorf("select victims: %w", err)
	}
	toDelete := make([]any, 0, 32)
	cur := total
	for rows.Next() {
		var id string
		var sz int64
		if err := rows.Scan(&id, &sz); err != nil {
			_ = rows.Close()
			return err
		}
		if keepSet[id] {
			continue
		}
		toDelete = append(toDelete, id)
		cur -= sz
		if cur <= capBytes {
			break
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	// close the cursor before writing; the pool has a single connection
	if err := rows.Close(); err != nil {
		return err
	}
	if len(toDelete) == 0 {
		return nil
	}
	q := `DELETE FROM artifacts WHERE id IN (?` + strings.Repeat(",?", len(toDelete)-1) + `)`
	if _, err := d.sql.ExecContext(ctx, q, toDelete...); err != nil {
		return fmt.Errorf("evict delete: %w", err)
	}
	d.log.Info("artifacts evicted", slog.Int("count", len(toDelete)), slog.Int64("bytes_before", total), slog.Int64("bytes_after", cur))
	return nil
}

// TotalArtifactBytes returns total bytes tracked by artifacts.size.
func (d *DB) TotalArtifactBytes(ctx context.Context) (int64, error) {
	var total int64
	if err := d.sql.QueryRowContext(ctx, `SELECT COALESCE(SUM(size),0) FROM artifacts`).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}
