// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package vectorindex

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store for tests and one-shot runs.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memCollection struct {
	dim    int
	metric Metric
	points map[string]Point
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memCollection)}
}

func (s *MemoryStore) DropCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	return nil
}

func (s *MemoryStore) CreateCollection(ctx context.Context, name string, dim int, metric Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; ok {
		return fmt.Errorf("collection %q already exists", name)
	}
	s.collections[name] = &memCollection{dim: dim, metric: metric, points: make(map[string]Point)}
	return nil
}

func (s *MemoryStore) Upsert(ctx context.Context, name string, points []Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("upsert %q: %w", name, ErrCollectionNotFound)
	}
	for _, p := range points {
		if len(p.Vector) != c.dim {
			return fmt.Errorf("upsert %q: point %s has dimension %d, collection has %d", name, p.ID, len(p.Vector), c.dim)
		}
	}
	for _, p := range points {
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		c.points[p.ID] = Point{ID: p.ID, Vector: vec, Payload: copyPayload(p.Payload)}
	}
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, name string, vector []float32, limit int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("search %q: %w", name, ErrCollectionNotFound)
	}
	if len(vector) != c.dim {
		return nil, fmt.Errorf("search %q: query has dimension %d, collection has %d", name, len(vector), c.dim)
	}
	hits := make([]Hit, 0, len(c.points))
	for _, p := range c.points {
		hits = append(hits, Hit{ID: p.ID, Score: c.metric.Score(vector, p.Vector), Payload: copyPayload(p.Payload)})
	}
	return rankHits(hits, limit), nil
}

func (s *MemoryStore) Info(ctx context.Context, name string) (CollectionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return CollectionInfo{}, fmt.Errorf("info %q: %w", name, ErrCollectionNotFound)
	}
	return CollectionInfo{Name: name, Dimension: c.dim, Metric: c.metric, Points: len(c.points)}, nil
}

func (s *MemoryStore) Close() error { return nil }
