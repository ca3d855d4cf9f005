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

package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/codevec/internal/retry"
)

// funcProvider adapts a function to Provider.
type funcProvider func(ctx context.Context, text string) ([]float32, error)

func (f funcProvider) Embed(ctx context.Context, text string) ([]float32, error) { return f(ctx, text) }

type queryProvider struct {
	funcProvider
	queries []string
}

func (q *queryProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	q.queries = append(q.queries, text)
	return []float32{1, 0}, nil
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Multiplier: 2}
}

func TestCoordinator_EmbedBatchPreservesOrder(t *testing.T) {
	p := funcProvider(func(ctx context.Context, text string) ([]float32, error) {
		var n float32
		_, _ = fmt.Sscanf(text, "t%f", &n)
		// Later items finish first.
		time.Sleep(time.Duration(10-int(n)) * time.Millisecond)
		return []float32{n, 1}, nil
	})
	c, err := NewCoordinator(p, CoordinatorConfig{Workers: 4, Dimension: 2}, nil)
	require.NoError(t, err)

	texts := make([]string, 10)
	for i := range texts {
		texts[i] = fmt.Sprintf("t%d", i)
	}
	vecs, err := c.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 10)
	for i, v := range vecs {
		assert.Equal(t, float32(i), v[0])
	}
}

func TestCoordinator_EmbedBatchEmpty(t *testing.T) {
	c, err := NewCoordinator(NewMockProvider(4), CoordinatorConfig{Workers: 2, Dimension: 4}, nil)
	require.NoError(t, err)
	vecs, err := c.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestCoordinator_BoundsConcurrency(t *testing.T) {
	var inflight, peak int32
	p := funcProvider(func(ctx context.Context, text string) ([]float32, error) {
		n := atomic.AddInt32(&inflight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inflight, -1)
		return []float32{1}, nil
	})
	c, err := NewCoordinator(p, CoordinatorConfig{Workers: 3, Dimension: 1}, nil)
	require.NoError(t, err)

	texts := make([]string, 12)
	// Two concurrent batches share the same bound.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.EmbedBatch(context.Background(), texts)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestCoordinator_DimensionMismatchIsFatal(t *testing.T) {
	var calls int32
	p := funcProvider(func(ctx context.Context, text string) ([]float32, error) {
		atomic.AddInt32(&calls, 1)
		return []float32{1, 2, 3}, nil
	})
	c, err := NewCoordinator(p, CoordinatorConfig{Workers: 1, Dimension: 4, Retry: fastRetry()}, nil)
	require.NoError(t, err)

	_, err = c.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.Error(t, err)

	var dm *DimensionMismatchError
	require.True(t, errors.As(err, &dm))
	assert.Equal(t, 3, dm.Got)
	assert.Equal(t, 4, dm.Want)
	// Not retried, and later items are cancelled.
	assert.Less(t, atomic.LoadInt32(&calls), int32(3))
}

func TestCoordinator_RetriesTransientErrors(t *testing.T) {
	var calls int32
	p := funcProvider(func(ctx context.Context, text string) ([]float32, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, &StatusError{Provider: "test", StatusCode: 500, Message: "boom"}
		}
		return []float32{1, 0}, nil
	})
	c, err := NewCoordinator(p, CoordinatorConfig{Workers: 1, Dimension: 2, Retry: fastRetry()}, nil)
	require.NoError(t, err)

	vecs, err := c.EmbedBatch(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Len(t, vecs, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestCoordinator_BackendErrorAfterRetries(t *testing.T) {
	var calls int32
	p := funcProvider(func(ctx context.Context, text string) ([]float32, error) {
		atomic.AddInt32(&calls, 1)
		return nil, &StatusError{Provider: "test", StatusCode: 500, Message: "boom"}
	})
	c, err := NewCoordinator(p, CoordinatorConfig{Workers: 1, Dimension: 2, Retry: fastRetry()}, nil)
	require.NoError(t, err)

	_, err = c.EmbedBatch(context.Background(), []string{"x"})
	var be *BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, 0, be.Index)
	assert.Equal(t, 3, be.Attempts)
	assert.True(t, be.Retryable)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestCoordinator_NonRetryableFailsOnce(t *testing.T) {
	var calls int32
	p := funcProvider(func(ctx context.Context, text string) ([]float32, error) {
		atomic.AddInt32(&calls, 1)
		return nil, &StatusError{Provider: "test", StatusCode: 400, Message: "bad input"}
	})
	c, err := NewCoordinator(p, CoordinatorConfig{Workers: 1, Retry: fastRetry()}, nil)
	require.NoError(t, err)

	_, err = c.EmbedBatch(context.Background(), []string{"x"})
	var be *BackendError
	require.True(t, errors.As(err, &be))
	assert.False(t, be.Retryable)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCoordinator_BackendUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, err := NewCoordinator(NewOllamaProvider(url, "bge-m3", time.Second, nil),
		CoordinatorConfig{Workers: 1, Dimension: 2, Retry: fastRetry()}, nil)
	require.NoError(t, err)

	_, err = c.EmbedBatch(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestCoordinator_EmbedQueryUsesQueryForm(t *testing.T) {
	p := &queryProvider{funcProvider: func(ctx context.Context, text string) ([]float32, error) {
		t.Fatal("document path used for query")
		return nil, nil
	}}
	c, err := NewCoordinator(p, CoordinatorConfig{Workers: 1, Dimension: 2}, nil)
	require.NoError(t, err)

	vec, err := c.EmbedQuery(context.Background(), "where is g")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vec)
	assert.Equal(t, []string{"where is g"}, p.queries)
}

func TestCoordinator_ContextCancelled(t *testing.T) {
	c, err := NewCoordinator(NewMockProvider(4), CoordinatorConfig{Workers: 1, Dimension: 4}, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.EmbedBatch(ctx, []string{"a"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewCoordinator_RequiresProvider(t *testing.T) {
	_, err := NewCoordinator(nil, CoordinatorConfig{}, nil)
	assert.Error(t, err)
}
