/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	gojsonschema "github.com/xeipuuv/gojsonschema"

	"canvasedit/internal/domain"
)

//go:embed schema/node.schema.json
var nodeSchemaJSON []byte

// ErrInvalidState marks node JSON that does not conform to the node schema.
var ErrInvalidState = errors.New("invalid node state")

var nodeSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(nodeSchemaJSON))
})

// NodeSchema returns the embedded JSON schema document.
func NodeSchema() []byte { return append([]byte(nil), nodeSchemaJSON...) }

// ValidateNodeJSON checks data against the node schema.
func ValidateNodeJSON(data []byte) error {
	schema, err := nodeSchema()
	if err != nil {
		return fmt.Errorf("load node schema: %w", err)
	}
	res, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidState, strings.Join(msgs, "; "))
	}
	return nil
}

// MarshalNode encodes st and validates the result.
func MarshalNode(st domain.NodeState) ([]byte, error) {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal node: %w", err)
	}
	if err := ValidateNodeJSON(data); err != nil {
		return nil, err
	}
	return data, nil
}

// UnmarshalNode validates data and decodes it.
func UnmarshalNode(data []byte) (domain.NodeState, error) {
	if err := ValidateNodeJSON(data); err != nil {
		return domain.NodeState{}, err
	}
	var st domain.NodeState
	if err := json.Unmarshal(data, &st); err != nil {
		return domain.NodeState{}, fmt.Errorf("parse node: %w", err)
	}
	return st, nil
}

// NodeInfo summarizes a stored node.
type NodeInfo struct {
	ID        string
	Kind      domain.Kind
	UpdatedAt time.Time
}

// SaveNode upserts the durable state of one node.
func (d *DB) SaveNode(ctx context.Context, st domain.NodeState) error {
	data, err := MarshalNode(st)
	if err != nil {
		return err
	}
	now := d.now().UTC().Format(time.RFC3339Nano)
	if _, err := d.sql.ExecContext(ctx, `INSERT INTO nodes(id,kind,state_json,updated_at) VALUES(?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET kind=excluded.kind, state_json=excluded.state_json, updated_at=excluded.updated_at`,
		st.NodeID, string(st.Kind), string(data), now); err != nil {
		return fmt.Errorf("save node %s: %w", st.NodeID, err)
	}
	d.log.Debug("node saved", slog.String("node", st.NodeID), slog.Int("bytes", len(data)))
	return nil
}

// LoadNode reads a node back. Rows that fail schema validation return ErrInvalidState.
func (d *DB) LoadNode(ctx context.Context, id string) (domain.NodeState, error) {
	var data string
	err := d.sql.QueryRowContext(ctx, `SELECT state_json FROM nodes WHERE id=?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NodeState{}, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.NodeState{}, fmt.Errorf("load node %s: %w", id, err)
	}
	st, err := UnmarshalNode([]byte(data))
	if err != nil {
		d.log.Warn("stored node rejected", slog.String("node", id), slog.Any("err", err))
		return domain.NodeState{}, fmt.Errorf("node %s: %w", id, err)
	}
	return st, nil
}

// ListNodes returns all stored nodes ordered by id.
func (d *DB) ListNodes(ctx context.Context) ([]NodeInfo, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT id, kind, updated_at FROM nodes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()
	var out []NodeInfo
	for rows.Next() {
		var n NodeInfo
		var kind, updated string
		if err := rows.Scan(&n.ID, &kind, &updated); err != nil {
			return nil, err
		}
		n.Kind = domain.Kind(kind)
		n.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, n)
	}
	return out, rows.Err()
}

// DeleteNode removes a node and its artifacts.
func (d *DB) DeleteNode(ctx context.Context, id string) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE id=?`, id)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete node: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM artifacts WHERE node_id=?`, id); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete artifacts: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_ = tx.Rollback()
		return fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	return tx.Commit()
}
