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
	"math"
	"sort"
	"strings"
)

// Metric is the similarity function of a collection.
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricDot    Metric = "dot"
	MetricEuclid Metric = "euclid"
)

// ParseMetric validates a metric name.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(s))); m {
	case MetricCosine, MetricDot, MetricEuclid:
		return m, nil
	case "euclidean":
		return MetricEuclid, nil
	}
	return "", fmt.Errorf("unknown distance metric %q (supported: cosine, dot, euclid)", s)
}

// Score returns the similarity of a and b, higher is closer. Euclidean
// distance d is reported as 1/(1+d) so every metric sorts descending.
func (m Metric) Score(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	switch m {
	case MetricDot:
		var dot float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
		}
		return float32(dot)
	case MetricEuclid:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return float32(1 / (1 + math.Sqrt(sum)))
	default:
		var dot, na, nb float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
			na += float64(a[i]) * float64(a[i])
			nb += float64(b[i]) * float64(b[i])
		}
		if na == 0 || nb == 0 {
			return 0
		}
		return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
	}
}

// Point is the persisted unit: a chunk id, its vector and a flat payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Hit is one similarity search result.
type Hit struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// CollectionInfo describes an existing collection.
type CollectionInfo struct {
	Name      string
	Dimension int
	Metric    Metric
	Points    int
}

// ErrCollectionNotFound is returned when a collection does not exist.
var ErrCollectionNotFound = errors.New("collection not found")

// Store is a vector database reachable over a call surface supporting
// collection create/drop, batched point upsert and similarity search.
type Store interface {
	// DropCollection removes a collection. Dropping a missing collection
	// is not an error.
	DropCollection(ctx context.Context, name string) error

	// CreateCollection creates an empty collection.
	CreateCollection(ctx context.Context, name string, dim int, metric Metric) error

	// Upsert writes points, replacing any with the same id.
	Upsert(ctx context.Context, name string, points []Point) error

	// Search returns up to limit hits in descending score order.
	Search(ctx context.Context, name string, vector []float32, limit int) ([]Hit, error)

	// Info returns the collection's shape and point count.
	Info(ctx context.Context, name string) (CollectionInfo, error)

	Close() error
}

// rankHits sorts by descending score, ties by id, and truncates to limit.
func rankHits(hits []Hit, limit int) []Hit {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if limit >= 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func copyPayload(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
