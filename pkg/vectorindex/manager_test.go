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
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/codevec/internal/retry"
)

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Multiplier: 2}
}

// storeFactories returns every local Store implementation.
func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"bolt": func() Store {
			s, err := NewBoltStore(filepath.Join(t.TempDir(), "index.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func point(id string, vec ...float32) Point {
	return Point{ID: id, Vector: vec, Payload: map[string]any{PayloadFile: "f_" + id + ".go"}}
}

func TestManager_RebuildIdempotence(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m, err := NewManager(newStore(), ManagerConfig{Collection: "proj_code", BatchSize: 2}, nil)
			require.NoError(t, err)

			require.NoError(t, m.Rebuild(ctx, 3, MetricCosine))
			require.NoError(t, m.UpsertBatch(ctx, []Point{point("a", 1, 0, 0), point("b", 0, 1, 0), point("c", 0, 0, 1)}))
			info, err := m.Info(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, info.Points)
			assert.Equal(t, int64(3), m.Written())

			for i := 0; i < 2; i++ {
				require.NoError(t, m.Rebuild(ctx, 3, MetricCosine))
				info, err = m.Info(ctx)
				require.NoError(t, err)
				assert.Equal(t, 0, info.Points, "rebuild %d left residual points", i+1)
				assert.Equal(t, 3, info.Dimension)
				assert.Equal(t, int64(0), m.Written())
			}
		})
	}
}

func TestManager_UpsertBeforeRebuild(t *testing.T) {
	m, err := NewManager(NewMemoryStore(), ManagerConfig{Collection: "c"}, nil)
	require.NoError(t, err)
	err = m.UpsertBatch(context.Background(), []Point{point("a", 1)})
	assert.ErrorIs(t, err, ErrNotRebuilt)
}

func TestManager_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m, err := NewManager(store, ManagerConfig{Collection: "c"}, nil)
	require.NoError(t, err)
	require.NoError(t, m.Rebuild(ctx, 3, MetricCosine))

	err = m.UpsertBatch(ctx, []Point{point("ok", 1, 0, 0), point("bad", 1, 0)})
	var dm *DimensionMismatchError
	require.True(t, errors.As(err, &dm))
	assert.Equal(t, "bad", dm.PointID)
	assert.Equal(t, 2, dm.Got)
	assert.Equal(t, 3, dm.Want)

	// Nothing from the rejected call was written.
	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, info.Points)
}

func TestManager_RebuildValidation(t *testing.T) {
	m, err := NewManager(NewMemoryStore(), ManagerConfig{Collection: "c"}, nil)
	require.NoError(t, err)
	assert.Error(t, m.Rebuild(context.Background(), 0, MetricCosine))
	assert.Error(t, m.Rebuild(context.Background(), 4, Metric("manhattan")))
}

func TestNewManager_InvalidCollection(t *testing.T) {
	_, err := NewManager(NewMemoryStore(), ManagerConfig{Collection: "bad name"}, nil)
	assert.Error(t, err)
	_, err = NewManager(nil, ManagerConfig{Collection: "c"}, nil)
	assert.Error(t, err)
}

func TestManager_SearchOrdering(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m, err := NewManager(newStore(), ManagerConfig{Collection: "c"}, nil)
			require.NoError(t, err)
			require.NoError(t, m.Rebuild(ctx, 2, MetricCosine))
			require.NoError(t, m.UpsertBatch(ctx, []Point{
				point("far", 0, 1),
				point("near", 1, 0.1),
				point("mid", 1, 1),
			}))

			hits, err := m.Search(ctx, []float32{1, 0}, 2)
			require.NoError(t, err)
			require.Len(t, hits, 2)
			assert.Equal(t, "near", hits[0].ID)
			assert.Equal(t, "mid", hits[1].ID)
			assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
			assert.Equal(t, "f_near.go", PayloadString(hits[0].Payload, PayloadFile))
		})
	}
}

func TestManager_Drop(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(NewMemoryStore(), ManagerConfig{Collection: "c"}, nil)
	require.NoError(t, err)
	require.NoError(t, m.Rebuild(ctx, 1, MetricDot))
	require.NoError(t, m.Drop(ctx))

	_, err = m.Info(ctx)
	assert.ErrorIs(t, err, ErrCollectionNotFound)
	assert.ErrorIs(t, m.UpsertBatch(ctx, []Point{point("a", 1)}), ErrNotRebuilt)
}

// flakyStore fails the first n upserts with a transient status.
type flakyStore struct {
	*MemoryStore
	failures int32
	calls    int32
	status   int
}

func (f *flakyStore) Upsert(ctx context.Context, name string, points []Point) error {
	if atomic.AddInt32(&f.calls, 1) <= f.failures {
		return &StatusError{Op: "upsert", StatusCode: f.status, Body: "busy"}
	}
	return f.MemoryStore.Upsert(ctx, name, points)
}

func TestManager_UpsertRetries(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 2, status: 503}
	m, err := NewManager(store, ManagerConfig{Collection: "c", Retry: fastRetry()}, nil)
	require.NoError(t, err)
	require.NoError(t, m.Rebuild(ctx, 1, MetricDot))

	require.NoError(t, m.UpsertBatch(ctx, []Point{point("a", 1)}))
	assert.Equal(t, int32(3), atomic.LoadInt32(&store.calls))
}

func TestManager_UpsertRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 100, status: 503}
	m, err := NewManager(store, ManagerConfig{Collection: "c", BatchSize: 1, Retry: fastRetry()}, nil)
	require.NoError(t, err)
	require.NoError(t, m.Rebuild(ctx, 1, MetricDot))

	err = m.UpsertBatch(ctx, []Point{point("a", 1), point("b", 1)})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, int32(3), atomic.LoadInt32(&store.calls), "second batch must not be attempted")
}

func TestManager_PermanentErrorNotRetried(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 100, status: 400}
	m, err := NewManager(store, ManagerConfig{Collection: "c", Retry: fastRetry()}, nil)
	require.NoError(t, err)
	require.NoError(t, m.Rebuild(ctx, 1, MetricDot))

	assert.Error(t, m.UpsertBatch(ctx, []Point{point("a", 1)}))
	assert.Equal(t, int32(1), atomic.LoadInt32(&store.calls))
}

func TestManager_BatchesRespectBatchSize(t *testing.T) {
	ctx := context.Background()
	rec := &recordingStore{MemoryStore: NewMemoryStore()}
	m, err := NewManager(rec, ManagerConfig{Collection: "c", BatchSize: 4}, nil)
	require.NoError(t, err)
	require.NoError(t, m.Rebuild(ctx, 1, MetricDot))

	points := make([]Point, 10)
	for i := range points {
		points[i] = point(fmt.Sprintf("p%d", i), 1)
	}
	require.NoError(t, m.UpsertBatch(ctx, points))
	assert.Equal(t, []int{4, 4, 2}, rec.sizes)
}

type recordingStore struct {
	*MemoryStore
	sizes []int
}

func (r *recordingStore) Upsert(ctx context.Context, name string, points []Point) error {
	r.sizes = append(r.sizes, len(points))
	return r.MemoryStore.Upsert(ctx, name, points)
}

func TestBoltStore_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "index.db")

	s, err := NewBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, s.CreateCollection(ctx, "c", 2, MetricEuclid))
	require.NoError(t, s.Upsert(ctx, "c", []Point{point("a", 1, 2)}))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	s, err = NewBoltStore(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	info, err := s.Info(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, CollectionInfo{Name: "c", Dimension: 2, Metric: MetricEuclid, Points: 1}, info)

	hits, err := s.Search(ctx, "c", []float32{1, 2}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, "f_a.go", PayloadString(hits[0].Payload, PayloadFile))
}

func TestStores_MissingCollection(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore()
			assert.NoError(t, s.DropCollection(ctx, "missing"))
			_, err := s.Search(ctx, "missing", []float32{1}, 1)
			assert.ErrorIs(t, err, ErrCollectionNotFound)
			assert.ErrorIs(t, s.Upsert(ctx, "missing", []Point{point("a", 1)}), ErrCollectionNotFound)
		})
	}
}

func TestMetric_Score(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	assert.InDelta(t, 1.0, MetricCosine.Score(a, a), 1e-6)
	assert.InDelta(t, 0.0, MetricCosine.Score(a, b), 1e-6)
	assert.InDelta(t, 2.0, MetricDot.Score([]float32{1, 1}, []float32{1, 1}), 1e-6)
	assert.InDelta(t, 1.0, MetricEuclid.Score(a, a), 1e-6)
	assert.Less(t, MetricEuclid.Score(a, b), float32(1))
	assert.Equal(t, float32(0), MetricCosine.Score(a, []float32{1}))
}

func TestParseMetric(t *testing.T) {
	for in, want := range map[string]Metric{"cosine": MetricCosine, "DOT": MetricDot, "euclidean": MetricEuclid, " euclid ": MetricEuclid} {
		got, err := ParseMetric(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseMetric("hamming")
	assert.Error(t, err)
}
