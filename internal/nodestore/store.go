/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package nodestore is the durable source of truth for editor nodes. Commit is the only write path;
// everything downstream observes nodes through Get or Subscribe.
package nodestore

import (
	"sort"
	"sync"
	"time"

	"canvasedit/internal/domain"
	"canvasedit/internal/geom"
)

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Kind       *domain.Kind
	ImageURL   *string
	ImageSize  *geom.Size
	Crop       *geom.Rect
	ClearCrop  bool
	Ratio      *geom.AspectRatio
	CroppedURL *string
	Strokes    *[]domain.Stroke
	Background *domain.Background
	Filters    *domain.Filters
	Artifact   *domain.Artifact
}

// Empty reports whether p would change nothing.
func (p Patch) Empty() bool {
	return p.Kind == nil && p.ImageURL == nil && p.ImageSize == nil && p.Crop == nil && !p.ClearCrop &&
		p.Ratio == nil && p.CroppedURL == nil && p.Strokes == nil && p.Background == nil &&
		p.Filters == nil && p.Artifact == nil
}

func (p Patch) apply(s *domain.NodeState) {
	if p.Kind != nil {
		s.Kind = *p.Kind
	}
	if p.ImageURL != nil {
		s.ImageURL = *p.ImageURL
	}
	if p.ImageSize != nil {
		s.ImageSize = *p.ImageSize
	}
	if p.ClearCrop {
		s.Crop = nil
	}
	if p.Crop != nil {
		c := *p.Crop
		s.Crop = &c
	}
	if p.Ratio != nil {
		s.Ratio = *p.Ratio
	}
	if p.CroppedURL != nil {
		s.CroppedURL = *p.CroppedURL
	}
	if p.Strokes != nil {
		s.Strokes = domain.CloneStrokes(*p.Strokes)
	}
	if p.Background != nil {
		s.Background = *p.Background
	}
	if p.Filters != nil {
		f := *p.Filters
		s.Filters = &f
	}
	if p.Artifact != nil {
		a := *p.Artifact
		s.Artifact = &a
	}
}

// Committer is the write side consumed by the engines.
type Committer interface {
	Commit(nodeID string, p Patch) domain.NodeState
}

// Reader is the read side consumed by the export pipeline.
type Reader interface {
	Get(nodeID string) (domain.NodeState, bool)
}

// Observer receives every committed state. It runs on the committing goroutine after the lock is released.
type Observer func(domain.NodeState)

// Store keeps node states in memory. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	nodes  map[string]domain.NodeState
	obs    map[int]Observer
	nextID int
	now    func() time.Time
}

func New() *Store {
	return &Store{nodes: make(map[string]domain.NodeState), obs: make(map[int]Observer), now: time.Now}
}

// Get returns a private copy of the node's state.
func (s *Store) Get(nodeID string) (domain.NodeState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.nodes[nodeID]
	if !ok {
		return domain.NodeState{}, false
	}
	return st.Clone(), true
}

// Put replaces a node wholesale, used when resuming persisted state. Observers are notified.
func (s *Store) Put(st domain.NodeState) {
	st = st.Clone()
	s.mu.Lock()
	s.nodes[st.NodeID] = st
	obs := s.observersLocked()
	s.mu.Unlock()
	notify(obs, st)
}

// Commit applies p to the node, creating it if needed, and returns the new state.
func (s *Store) Commit(nodeID string, p Patch) domain.NodeState {
	s.mu.Lock()
	st := s.nodes[nodeID]
	st.NodeID = nodeID
	p.apply(&st)
	st.UpdatedAt = s.now().UTC()
	s.nodes[nodeID] = st
	out := st.Clone()
	obs := s.observersLocked()
	s.mu.Unlock()
	notify(obs, out)
	return out
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Observer) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.obs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.obs, id)
		s.mu.Unlock()
	}
}

// Nodes lists the ids currently held.
func (s *Store) Nodes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) observersLocked() []Observer {
	if len(s.obs) == 0 {
		return nil
	}
	ids := make([]int, 0, len(s.obs))
	for id := range s.obs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Observer, len(ids))
	for i, id := range ids {
		out[i] = s.obs[id]
	}
	return out
}

func notify(obs []Observer, st domain.NodeState) {
	for _, fn := range obs {
		fn(st.Clone())
	}
}
