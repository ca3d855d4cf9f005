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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

var bucketCollections = []byte("collections")

// ErrStoreLocked means another process holds the bolt database open.
var ErrStoreLocked = errors.New("index database is locked by another process")

// BoltStore is a local persistent Store backed by bbolt. Each collection is
// one bucket; search is brute force over the bucket.
type BoltStore struct {
	db     *bbolt.DB
	mu     sync.RWMutex
	closed bool
}

type boltCollectionMeta struct {
	Dimension int    `json:"dim"`
	Metric    Metric `json:"metric"`
}

type storedPoint struct {
	Vector  []float32      `json:"v"`
	Payload map[string]any `json:"p,omitempty"`
}

// NewBoltStore opens (or creates) the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if errors.Is(err, bbolt.ErrTimeout) {
		return nil, fmt.Errorf("open bolt db %s: %w", path, ErrStoreLocked)
	}
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCollections)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create collections bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func collectionBucket(name string) []byte { return []byte("col:" + name) }

func (s *BoltStore) update(fn func(tx *bbolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("bolt store is closed")
	}
	return s.db.Update(fn)
}

func (s *BoltStore) view(fn func(tx *bbolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("bolt store is closed")
	}
	return s.db.View(fn)
}

func readMeta(tx *bbolt.Tx, name string) (boltCollectionMeta, error) {
	var meta boltCollectionMeta
	raw := tx.Bucket(bucketCollections).Get([]byte(name))
	if raw == nil {
		return meta, ErrCollectionNotFound
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return meta, fmt.Errorf("decode collection meta: %w", err)
	}
	return meta, nil
}

func (s *BoltStore) DropCollection(ctx context.Context, name string) error {
	return s.update(func(tx *bbolt.Tx) error {
		if tx.Bucket(collectionBucket(name)) != nil {
			if err := tx.DeleteBucket(collectionBucket(name)); err != nil {
				return fmt.Errorf("drop %q: %w", name, err)
			}
		}
		return tx.Bucket(bucketCollections).Delete([]byte(name))
	})
}

func (s *BoltStore) CreateCollection(ctx context.Context, name string, dim int, metric Metric) error {
	raw, err := json.Marshal(boltCollectionMeta{Dimension: dim, Metric: metric})
	if err != nil {
		return err
	}
	return s.update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucket(collectionBucket(name)); err != nil {
			return fmt.Errorf("create %q: %w", name, err)
		}
		return tx.Bucket(bucketCollections).Put([]byte(name), raw)
	})
}

func (s *BoltStore) Upsert(ctx context.Context, name string, points []Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.update(func(tx *bbolt.Tx) error {
		meta, err := readMeta(tx, name)
		if err != nil {
			return fmt.Errorf("upsert %q: %w", name, err)
		}
		b := tx.Bucket(collectionBucket(name))
		for _, p := range points {
			if len(p.Vector) != meta.Dimension {
				return fmt.Errorf("upsert %q: point %s has dimension %d, collection has %d", name, p.ID, len(p.Vector), meta.Dimension)
			}
			data, err := json.Marshal(storedPoint{Vector: p.Vector, Payload: p.Payload})
			if err != nil {
				return fmt.Errorf("encode point %s: %w", p.ID, err)
			}
			if err := b.Put([]byte(p.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Search(ctx context.Context, name string, vector []float32, limit int) ([]Hit, error) {
	var hits []Hit
	err := s.view(func(tx *bbolt.Tx) error {
		meta, err := readMeta(tx, name)
		if err != nil {
			return fmt.Errorf("search %q: %w", name, err)
		}
		if len(vector) != meta.Dimension {
			return fmt.Errorf("search %q: query has dimension %d, collection has %d", name, len(vector), meta.Dimension)
		}
		return tx.Bucket(collectionBucket(name)).ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var sp storedPoint
			if err := json.Unmarshal(v, &sp); err != nil {
				return nil // skip corrupted entries
			}
			hits = append(hits, Hit{ID: string(k), Score: meta.Metric.Score(vector, sp.Vector), Payload: sp.Payload})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rankHits(hits, limit), nil
}

func (s *BoltStore) Info(ctx context.Context, name string) (CollectionInfo, error) {
	info := CollectionInfo{Name: name}
	err := s.view(func(tx *bbolt.Tx) error {
		meta, err := readMeta(tx, name)
		if err != nil {
			return fmt.Errorf("info %q: %w", name, err)
		}
		info.Dimension = meta.Dimension
		info.Metric = meta.Metric
		info.Points = tx.Bucket(collectionBucket(name)).Stats().KeyN
		return nil
	})
	return info, err
}

// Close closes the database. It is safe to call more than once.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
