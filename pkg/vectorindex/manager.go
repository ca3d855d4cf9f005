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
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kraklabs/codevec/internal/contract"
	"github.com/kraklabs/codevec/internal/retry"
)

// ErrNotRebuilt is returned by UpsertBatch before Rebuild has succeeded.
var ErrNotRebuilt = errors.New("collection has not been rebuilt in this run")

// DimensionMismatchError is returned when a point's vector length differs
// from the dimension the collection was rebuilt with.
type DimensionMismatchError struct {
	PointID string
	Got     int
	Want    int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("point %s has dimension %d, collection has %d", e.PointID, e.Got, e.Want)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Collection string
	// BatchSize is the maximum number of points per store write.
	BatchSize int
	Retry     retry.Config
}

// Manager owns the lifecycle of one vector collection: drop-and-recreate,
// batched upsert and payload-carrying search.
//
// Rebuild holds the write lock, upserts hold the read lock, so a rebuild
// never overlaps an in-flight upsert. Searches take no lock and may observe
// a collection mid-rebuild.
type Manager struct {
	store      Store
	collection string
	batchSize  int
	retry      retry.Config
	logger     *slog.Logger

	mu      sync.RWMutex
	rebuilt bool
	dim     int
	metric  Metric

	written atomic.Int64
}

// NewManager creates a manager for cfg.Collection on store.
func NewManager(store Store, cfg ManagerConfig, logger *slog.Logger) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if res := contract.ValidateCollectionName(cfg.Collection); !res.OK {
		return nil, fmt.Errorf("invalid collection name %q: %s", cfg.Collection, res.Message)
	}
	if logger == nil {
		logger = slog.Default()
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 256
	}
	vecMetrics.init()
	return &Manager{
		store:      store,
		collection: cfg.Collection,
		batchSize:  batch,
		retry:      cfg.Retry.Sanitize(),
		logger:     logger,
	}, nil
}

// Collection returns the managed collection name.
func (m *Manager) Collection() string { return m.collection }

// BatchSize returns the maximum points per store write.
func (m *Manager) BatchSize() int { return m.batchSize }

// Written returns the number of points upserted since the last rebuild.
func (m *Manager) Written() int64 { return m.written.Load() }

// Rebuild drops the collection if present and creates it empty with the
// given dimension and metric. Calling it twice yields an empty collection
// both times.
func (m *Manager) Rebuild(ctx context.Context, dim int, metric Metric) error {
	if dim <= 0 {
		return fmt.Errorf("rebuild %q: invalid dimension %d", m.collection, dim)
	}
	if _, err := ParseMetric(string(metric)); err != nil {
		return fmt.Errorf("rebuild %q: %w", m.collection, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	m.rebuilt = false
	if err := m.withRetry(ctx, "drop", func() error { return m.store.DropCollection(ctx, m.collection) }); err != nil {
		return fmt.Errorf("rebuild %q: drop: %w", m.collection, err)
	}
	if err := m.withRetry(ctx, "create", func() error { return m.store.CreateCollection(ctx, m.collection, dim, metric) }); err != nil {
		return fmt.Errorf("rebuild %q: create: %w", m.collection, err)
	}
	m.rebuilt = true
	m.dim = dim
	m.metric = metric
	m.written.Store(0)
	vecMetrics.rebuilds.Inc()

	m.logger.Info("vectorindex.rebuild",
		"collection", m.collection,
		"dimension", dim,
		"metric", string(metric),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Drop removes the collection. Upserts fail with ErrNotRebuilt afterwards.
func (m *Manager) Drop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rebuilt = false
	return m.store.DropCollection(ctx, m.collection)
}

// UpsertBatch writes points in store batches of at most BatchSize. Each
// store write is retried on transient failure; exhausting the retries
// fails the call without rolling back batches already written.
func (m *Manager) UpsertBatch(ctx context.Context, points []Point) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.rebuilt {
		return ErrNotRebuilt
	}
	for _, p := range points {
		if p.ID == "" {
			return fmt.Errorf("upsert %q: point without id", m.collection)
		}
		if len(p.Vector) != m.dim {
			return &DimensionMismatchError{PointID: p.ID, Got: len(p.Vector), Want: m.dim}
		}
	}

	for start := 0; start < len(points); start += m.batchSize {
		end := start + m.batchSize
		if end > len(points) {
			end = len(points)
		}
		batch := points[start:end]
		began := time.Now()
		err := m.withRetry(ctx, "upsert", func() error { return m.store.Upsert(ctx, m.collection, batch) })
		vecMetrics.upsertDuration.Observe(time.Since(began).Seconds())
		if err != nil {
			vecMetrics.upsertFailures.Inc()
			return fmt.Errorf("upsert %q: batch of %d points at offset %d: %w", m.collection, len(batch), start, err)
		}
		m.written.Add(int64(len(batch)))
		vecMetrics.pointsWritten.Add(float64(len(batch)))
	}
	return nil
}

// Search returns up to limit hits for vector.
func (m *Manager) Search(ctx context.Context, vector []float32, limit int) ([]Hit, error) {
	if limit <= 0 {
		return nil, nil
	}
	return m.store.Search(ctx, m.collection, vector, limit)
}

// Info returns the collection's shape and point count.
func (m *Manager) Info(ctx context.Context) (CollectionInfo, error) {
	return m.store.Info(ctx, m.collection)
}

func (m *Manager) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < m.retry.MaxAttempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err = fn(); err == nil {
			return nil
		}
		if !isRetryableStoreError(err) || attempt == m.retry.MaxAttempts-1 {
			return err
		}
		backoff := m.retry.Backoff(attempt)
		m.logger.Warn("vectorindex.retry",
			"op", op,
			"collection", m.collection,
			"attempt", attempt+1,
			"backoff_ms", backoff.Milliseconds(),
			"err", err,
		)
		vecMetrics.retries.Inc()
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func isRetryableStoreError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	var ue *url.Error
	return errors.As(err, &ue)
}
