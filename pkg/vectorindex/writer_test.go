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
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/codevec/pkg/ingestion"
)

func newRecordingManager(t *testing.T, batch int) (*Manager, *recordingStore) {
	t.Helper()
	rec := &recordingStore{MemoryStore: NewMemoryStore()}
	m, err := NewManager(rec, ManagerConfig{Collection: "c", BatchSize: batch}, nil)
	require.NoError(t, err)
	require.NoError(t, m.Rebuild(context.Background(), 1, MetricDot))
	return m, rec
}

func TestWriter_BatchesByCount(t *testing.T) {
	ctx := context.Background()
	m, rec := newRecordingManager(t, 100)
	w := NewWriter(m, 3, 0)

	for i := 0; i < 7; i++ {
		require.NoError(t, w.Add(ctx, point(fmt.Sprintf("p%d", i), 1)))
	}
	assert.Equal(t, 1, w.Pending())
	require.NoError(t, w.Flush(ctx))

	assert.Equal(t, []int{3, 3, 1}, rec.sizes)
	assert.Equal(t, 7, w.Written())
	assert.Equal(t, 0, w.Pending())
}

func TestWriter_BatchesByBytes(t *testing.T) {
	ctx := context.Background()
	m, rec := newRecordingManager(t, 100)
	big := strings.Repeat("x", 1000)
	w := NewWriter(m, 50, 2500)

	for i := 0; i < 5; i++ {
		p := point(fmt.Sprintf("p%d", i), 1)
		p.Payload[PayloadSnippet] = big
		require.NoError(t, w.Add(ctx, p))
	}
	require.NoError(t, w.Flush(ctx))

	assert.Equal(t, []int{2, 2, 1}, rec.sizes)
}

func TestWriter_PointTooLarge(t *testing.T) {
	m, _ := newRecordingManager(t, 10)
	w := NewWriter(m, 10, 100)
	p := point("huge", 1)
	p.Payload[PayloadSnippet] = strings.Repeat("y", 500)

	err := w.Add(context.Background(), p)
	assert.ErrorContains(t, err, "exceeds max batch size")
}

func TestWriter_DefaultsToManagerBatchSize(t *testing.T) {
	m, rec := newRecordingManager(t, 2)
	w := NewWriter(m, 0, 0)
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Add(context.Background(), point(fmt.Sprintf("p%d", i), 1)))
	}
	require.NoError(t, w.Flush(context.Background()))
	assert.Equal(t, []int{2, 1}, rec.sizes)
}

func TestWriter_FlushEmpty(t *testing.T) {
	m, rec := newRecordingManager(t, 2)
	require.NoError(t, NewWriter(m, 0, 0).Flush(context.Background()))
	assert.Empty(t, rec.sizes)
}

func TestPointFromChunk(t *testing.T) {
	c := ingestion.CodeChunk{
		ID:            "sym:abc#1",
		NodeID:        "sym:abc",
		Path:          "pkg/b.py",
		Language:      "python",
		Kind:          "function",
		Symbol:        "g",
		SymbolPath:    "g",
		Snippet:       "def g():\n    pass",
		ContentSHA256: "deadbeef",
		Imports:       []string{"os"},
		StartLine:     3,
		EndLine:       4,
		Part:          1,
		Parts:         2,
	}
	vec := []float32{0.5, 0.5}
	p := PointFromChunk(c, vec)
	vec[0] = 9

	assert.Equal(t, "sym:abc#1", p.ID)
	assert.Equal(t, []float32{0.5, 0.5}, p.Vector, "vector is copied")
	assert.Equal(t, "pkg/b.py", PayloadString(p.Payload, PayloadFile))
	assert.Equal(t, "g", PayloadString(p.Payload, PayloadSymbolPath))
	assert.Equal(t, 3, PayloadInt(p.Payload, PayloadStartLine))
	assert.Equal(t, 1, PayloadInt(p.Payload, PayloadPart))
	assert.Equal(t, []string{"os"}, PayloadStrings(p.Payload, PayloadImports))
	assert.NotContains(t, p.Payload, PayloadSignature)
	assert.NotContains(t, p.Payload, PayloadFQN)
	assert.NotContains(t, p.Payload, PayloadNeighborsKey)
}

func TestPointFromChunk_Neighbors(t *testing.T) {
	neighbors := []ingestion.Neighbor{
		{ID: "sym:h", Edge: ingestion.EdgeCalls, Direction: ingestion.NeighborOut, FQN: "pkg.b.h"},
		{ID: "file:pkg/b.py", Edge: ingestion.EdgeContains, Direction: ingestion.NeighborIn},
	}
	p := PointFromChunk(ingestion.CodeChunk{ID: "sym:g", Path: "pkg/b.py", Snippet: "def g(): h()", Neighbors: neighbors}, []float32{1})
	assert.Equal(t, neighbors, PayloadNeighbors(p.Payload))

	// Stores persist payloads as JSON.
	raw, err := json.Marshal(p.Payload)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, neighbors, PayloadNeighbors(decoded))

	assert.Empty(t, PayloadNeighbors(map[string]any{PayloadNeighborsKey: []any{"junk", map[string]any{"edge": "calls"}}}),
		"entries without an id are dropped")
}
