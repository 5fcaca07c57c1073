/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"canvasedit/internal/domain"
	"canvasedit/internal/storage"
)

// Client is a minimal HTTP client for the backend API.
type Client struct {
	BaseURL string
	Token   string // bearer token
	client  *http.Client
}

// NewClient creates a new backend client. baseURL may include a trailing slash; it will be normalized.
func NewClient(baseURL string, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	u, err := url.Parse(c.BaseURL + path)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: %w", method, u.Path, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("server %s %s: %s", method, u.Path, resp.Status)
	}
	return resp, nil
}

// Login requests a bearer token for subject and stores it on the client.
func (c *Client) Login(ctx context.Context, subject string) error {
	b, _ := json.Marshal(map[string]any{"subject": subject})
	resp, err := c.do(ctx, http.MethodPost, "/api/auth/token", bytes.NewReader(b))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}
	c.Token = out.Token
	return nil
}

// GetNode fetches a node's durable state.
func (c *Client) GetNode(ctx context.Context, id string) (domain.NodeState, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/nodes/"+url.PathEscape(id), nil)
	if err != nil {
		return domain.NodeState{}, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NodeState{}, err
	}
	return storage.UnmarshalNode(b)
}

// PutNode replaces a node's durable state on the server.
func (c *Client) PutNode(ctx context.Context, st domain.NodeState) error {
	b, err := storage.MarshalNode(st)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPut, "/api/nodes/"+url.PathEscape(st.NodeID), bytes.NewReader(b))
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// LoadImage fetches and decodes an artifact:// reference through the server.
func (c *Client) LoadImage(ctx context.Context, ref string) (image.Image, error) {
	id, ok := storage.ArtifactID(ref)
	if !ok {
		return nil, fmt.Errorf("not an artifact url: %s", ref)
	}
	resp, err := c.do(ctx, http.MethodGet, "/api/artifacts/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", id, err)
	}
	return img, nil
}
