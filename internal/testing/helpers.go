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

package testing

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kraklabs/codevec/internal/retry"
	"github.com/kraklabs/codevec/pkg/embedding"
	"github.com/kraklabs/codevec/pkg/ingestion"
	"github.com/kraklabs/codevec/pkg/vectorindex"
)

// FastRetry is a retry policy with millisecond backoffs for tests.
func FastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Multiplier: 2}
}

// SetupTestIndex creates an index manager over an in-memory store, with the
// collection already rebuilt for dim and metric.
//
// Example:
//
//	func TestMyFeature(t *testing.T) {
//	    mgr := cvtest.SetupTestIndex(t, "proj_code", 16, vectorindex.MetricCosine)
//	    coord := cvtest.SetupMockCoordinator(t, 16)
//	    cvtest.InsertTestChunk(t, mgr, coord, ingestion.CodeChunk{ID: "sym:1#0", Path: "a.go", Snippet: "func A() {}"})
//	}
func SetupTestIndex(t *testing.T, collection string, dim int, metric vectorindex.Metric) *vectorindex.Manager {
	t.Helper()

	mgr, err := vectorindex.NewManager(vectorindex.NewMemoryStore(), vectorindex.ManagerConfig{
		Collection: collection,
		Retry:      FastRetry(),
	}, nil)
	if err != nil {
		t.Fatalf("failed to create index manager: %v", err)
	}
	if err := mgr.Rebuild(context.Background(), dim, metric); err != nil {
		t.Fatalf("failed to rebuild collection: %v", err)
	}
	return mgr
}

// SetupMockCoordinator returns an embedding coordinator backed by the
// deterministic mock provider.
func SetupMockCoordinator(t *testing.T, dim int) *embedding.Coordinator {
	t.Helper()

	coord, err := embedding.NewCoordinator(embedding.NewMockProvider(dim), embedding.CoordinatorConfig{
		Workers:   2,
		Dimension: dim,
		Retry:     FastRetry(),
	}, nil)
	if err != nil {
		t.Fatalf("failed to create coordinator: %v", err)
	}
	return coord
}

// InsertTestChunk embeds a chunk and upserts it as one point.
func InsertTestChunk(t *testing.T, mgr *vectorindex.Manager, coord *embedding.Coordinator, c ingestion.CodeChunk) {
	t.Helper()

	ctx := context.Background()
	vecs, err := coord.EmbedBatch(ctx, []string{c.EmbeddingText()})
	if err != nil {
		t.Fatalf("failed to embed chunk %s: %v", c.ID, err)
	}
	if err := mgr.UpsertBatch(ctx, []vectorindex.Point{vectorindex.PointFromChunk(c, vecs[0])}); err != nil {
		t.Fatalf("failed to upsert chunk %s: %v", c.ID, err)
	}
}

// WriteRepo creates a temporary repository from path/content pairs and
// returns its root.
//
// Example:
//
//	root := cvtest.WriteRepo(t, map[string]string{
//	    "a.py": "import b\n",
//	    "pkg/b.py": "def g():\n    pass\n",
//	})
func WriteRepo(t *testing.T, files map[string]string) string {
	t.Helper()

	root := t.TempDir()
	for rel, content := range files {
		WriteFile(t, root, rel, content)
	}
	return root
}

// WriteFile writes content to root/rel, creating parent directories.
func WriteFile(t *testing.T, root, rel, content string) {
	t.Helper()

	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// ReadJSONL decodes every line of a JSONL artifact.
func ReadJSONL[T any](t *testing.T, path string) []T {
	t.Helper()

	f, err := os.Open(path) //nolint:gosec // G304: test artifact path
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	defer func() { _ = f.Close() }()

	var out []T
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	for sc.Scan() {
		var v T
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			t.Fatalf("failed to decode %s: %v", path, err)
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return out
}

// QueryChunkIDs returns the chunk ids of the top k hits for vector.
func QueryChunkIDs(t *testing.T, mgr *vectorindex.Manager, vector []float32, k int) []string {
	t.Helper()

	hits, err := mgr.Search(context.Background(), vector, k)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		id, _ := h.Payload[vectorindex.PayloadChunkID].(string)
		ids[i] = id
	}
	return ids
}
