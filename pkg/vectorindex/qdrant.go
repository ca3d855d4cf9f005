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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kraklabs/codevec/internal/contract"
)

// pointNamespace seeds the UUIDv5 ids derived from chunk ids; Qdrant only
// accepts unsigned integers or UUIDs as point ids.
var pointNamespace = uuid.MustParse("6f3c2a8e-5d41-4c1b-9a7e-2b8f0d6c4e15")

// QdrantPointID returns the Qdrant point id for a chunk id.
func QdrantPointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

// StatusError is a non-2xx response from the vector database.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("qdrant %s failed (status %d): %s", e.Op, e.StatusCode, e.Body)
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// QdrantConfig configures a QdrantStore.
type QdrantConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// QdrantStore implements Store over the Qdrant REST API.
type QdrantStore struct {
	host       string
	apiKey     string
	httpClient *http.Client

	// metrics caches each collection's metric; Euclid results arrive as
	// distances and are converted to scores.
	metrics sync.Map
}

// NewQdrantStore creates a Qdrant client. It performs no I/O.
func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid qdrant url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &QdrantStore{
		host:       strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func qdrantDistance(m Metric) string {
	switch m {
	case MetricDot:
		return "Dot"
	case MetricEuclid:
		return "Euclid"
	default:
		return "Cosine"
	}
}

func metricFromDistance(d string) Metric {
	switch d {
	case "Dot":
		return MetricDot
	case "Euclid":
		return MetricEuclid
	default:
		return MetricCosine
	}
}

// do sends a request and decodes the "result" field of the response into
// out when out is non-nil. A 404 is reported as ErrCollectionNotFound.
func (q *QdrantStore) do(ctx context.Context, op, method, path string, body []byte, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, q.host+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("qdrant %s: read response: %w", op, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("qdrant %s: %w", op, ErrCollectionNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	if out == nil {
		return nil
	}
	envelope := struct {
		Result json.RawMessage `json:"result"`
	}{}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("qdrant %s: decode response: %w", op, err)
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("qdrant %s: decode result: %w", op, err)
	}
	return nil
}

func isNotFound(err error) bool { return errors.Is(err, ErrCollectionNotFound) }

func collectionPath(name string) string { return "/collections/" + url.PathEscape(name) }

func (q *QdrantStore) DropCollection(ctx context.Context, name string) error {
	q.metrics.Delete(name)
	err := q.do(ctx, "drop collection", http.MethodDelete, collectionPath(name), nil, nil)
	if err != nil && isNotFound(err) {
		return nil
	}
	return err
}

func (q *QdrantStore) CreateCollection(ctx context.Context, name string, dim int, metric Metric) error {
	body, err := json.Marshal(map[string]any{
		"vectors": map[string]any{
			"size":     dim,
			"distance": qdrantDistance(metric),
		},
	})
	if err != nil {
		return err
	}
	if err := q.do(ctx, "create collection", http.MethodPut, collectionPath(name), body, nil); err != nil {
		return err
	}
	q.metrics.Store(name, metric)
	return nil
}

func (q *QdrantStore) metricOf(ctx context.Context, name string) (Metric, error) {
	if m, ok := q.metrics.Load(name); ok {
		return m.(Metric), nil
	}
	info, err := q.Info(ctx, name)
	if err != nil {
		return "", err
	}
	q.metrics.Store(name, info.Metric)
	return info.Metric, nil
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Upsert writes points, splitting the request when its body would exceed
// the soft request limit.
func (q *QdrantStore) Upsert(ctx context.Context, name string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	qp := make([]qdrantPoint, len(points))
	for i, p := range points {
		payload := copyPayload(p.Payload)
		if payload == nil {
			payload = map[string]any{}
		}
		payload[PayloadChunkID] = p.ID
		qp[i] = qdrantPoint{ID: QdrantPointID(p.ID), Vector: p.Vector, Payload: payload}
	}
	return q.upsertPoints(ctx, name, qp)
}

func (q *QdrantStore) upsertPoints(ctx context.Context, name string, points []qdrantPoint) error {
	body, err := json.Marshal(map[string]any{"points": points})
	if err != nil {
		return fmt.Errorf("encode points: %w", err)
	}
	if res := contract.ValidateRequestBody(body); !res.OK {
		if len(points) == 1 {
			return fmt.Errorf("upsert point %s: %s", points[0].ID, res.Message)
		}
		mid := len(points) / 2
		if err := q.upsertPoints(ctx, name, points[:mid]); err != nil {
			return err
		}
		return q.upsertPoints(ctx, name, points[mid:])
	}
	return q.do(ctx, "upsert", http.MethodPut, collectionPath(name)+"/points?wait=true", body, nil)
}

func (q *QdrantStore) Search(ctx context.Context, name string, vector []float32, limit int) ([]Hit, error) {
	metric, err := q.metricOf(ctx, name)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	})
	if err != nil {
		return nil, err
	}
	var result []struct {
		ID      any            `json:"id"`
		Score   float32        `json:"score"`
		Payload map[string]any `json:"payload"`
	}
	if err := q.do(ctx, "search", http.MethodPost, collectionPath(name)+"/points/search", body, &result); err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(result))
	for _, r := range result {
		id, _ := r.Payload[PayloadChunkID].(string)
		if id == "" {
			id = fmt.Sprint(r.ID)
		}
		score := r.Score
		if metric == MetricEuclid {
			score = 1 / (1 + score)
		}
		hits = append(hits, Hit{ID: id, Score: score, Payload: r.Payload})
	}
	return hits, nil
}

func (q *QdrantStore) Info(ctx context.Context, name string) (CollectionInfo, error) {
	var result struct {
		PointsCount int `json:"points_count"`
		Config      struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	if err := q.do(ctx, "collection info", http.MethodGet, collectionPath(name), nil, &result); err != nil {
		return CollectionInfo{}, err
	}
	return CollectionInfo{
		Name:      name,
		Dimension: result.Config.Params.Vectors.Size,
		Metric:    metricFromDistance(result.Config.Params.Vectors.Distance),
		Points:    result.PointsCount,
	}, nil
}

// Close is a no-op for the HTTP client.
func (q *QdrantStore) Close() error { return nil }
