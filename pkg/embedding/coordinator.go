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
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kraklabs/codevec/internal/retry"
)

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	// Workers bounds concurrent backend requests across all callers.
	Workers int
	// Dimension is the expected vector length. Zero disables the check.
	Dimension int
	Retry     retry.Config
}

// Coordinator fans embedding requests out to a Provider under a fixed
// concurrency bound, retrying transient failures and enforcing the
// configured dimension.
type Coordinator struct {
	provider  Provider
	workers   int
	dimension int
	retry     retry.Config
	sem       chan struct{}
	logger    *slog.Logger
}

// NewCoordinator creates a coordinator around provider.
func NewCoordinator(provider Provider, cfg CoordinatorConfig, logger *slog.Logger) (*Coordinator, error) {
	if provider == nil {
		return nil, fmt.Errorf("embedding provider is required")
	}
	if cfg.Dimension < 0 {
		return nil, fmt.Errorf("invalid dimension %d", cfg.Dimension)
	}
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	embMetrics.init()
	return &Coordinator{
		provider:  provider,
		workers:   workers,
		dimension: cfg.Dimension,
		retry:     cfg.Retry.Sanitize(),
		sem:       make(chan struct{}, workers),
		logger:    logger,
	}, nil
}

// Dimension returns the configured vector length.
func (c *Coordinator) Dimension() int { return c.dimension }

// Workers returns the concurrency bound.
func (c *Coordinator) Workers() int { return c.workers }

// EmbedBatch embeds texts and returns vectors in input order. The first
// fatal error cancels the remaining requests; no partial result is
// returned.
func (c *Coordinator) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	start := time.Now()
	defer func() { embMetrics.duration.Observe(time.Since(start).Seconds()) }()

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, text := range texts {
		g.Go(func() error {
			vec, err := c.embedOne(gctx, i, text, c.provider.Embed)
			if err != nil {
				return err
			}
			out[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// EmbedQuery embeds a search query, using the provider's query form when
// it has one.
func (c *Coordinator) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	fn := c.provider.Embed
	if qe, ok := c.provider.(QueryEmbedder); ok {
		fn = qe.EmbedQuery
	}
	return c.embedOne(ctx, 0, text, fn)
}

func (c *Coordinator) embedOne(ctx context.Context, index int, text string, fn func(context.Context, string) ([]float32, error)) ([]float32, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.sem }()

	var lastErr error
	retryable, unavailable := false, false
	attempts := 0
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attempts++
		vec, err := fn(ctx, text)
		if err == nil {
			if c.dimension > 0 && len(vec) != c.dimension {
				embMetrics.mismatches.Inc()
				return nil, &DimensionMismatchError{Index: index, Got: len(vec), Want: c.dimension}
			}
			embMetrics.computed.Inc()
			return vec, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		retryable, unavailable = classifyError(err)
		if !retryable || attempt == c.retry.MaxAttempts-1 {
			break
		}

		backoff := c.retry.Backoff(attempt)
		c.logger.Warn("embedding.retry",
			"item", index,
			"attempt", attempt+1,
			"backoff_ms", backoff.Milliseconds(),
			"err", err,
		)
		recordEmbedRetry()
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	embMetrics.failures.Inc()
	if unavailable {
		return nil, fmt.Errorf("embed item %d after %d attempt(s): %w: %w", index, attempts, ErrBackendUnavailable, lastErr)
	}
	return nil, &BackendError{Index: index, Attempts: attempts, Retryable: retryable, Err: lastErr}
}
