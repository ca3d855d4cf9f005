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

package ingestion

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, input string, bounds ChunkerConfig) ([]CodeChunk, ReadStats) {
	t.Helper()
	var got []CodeChunk
	stats, err := ReadChunks(context.Background(), strings.NewReader(input), bounds, nil, func(ch CodeChunk) error {
		got = append(got, ch)
		return nil
	})
	require.NoError(t, err)
	return got, stats
}

func TestReadChunks_ValidRecords(t *testing.T) {
	input := `{"id":"a","file":"x.go","kind":"function","snippet":"func A() { return }","imports":["os","fmt"]}
{"id":"b","file":"y.py","kind":"file","snippet":"import os\nprint(1)","graph":{"imports_out":["sys","os"]}}
`
	got, stats := readAll(t, input, ChunkerConfig{MaxChars: 4000, MinChars: 4})
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "x.go", got[0].Path)
	assert.Equal(t, []string{"fmt", "os"}, got[0].Imports)
	assert.Equal(t, contentHash("func A() { return }"), got[0].ContentSHA256)
	assert.Equal(t, []string{"os", "sys"}, got[1].Imports, "graph.imports_out merges into imports")
	assert.Equal(t, 2, stats.Lines)
	assert.Equal(t, 2, stats.Records)
	assert.Zero(t, stats.Malformed)
}

func TestReadChunks_MalformedLineFailsOnlyItself(t *testing.T) {
	input := `{"id":"a","snippet":"first record body"}
{"id":"b","snippet":
not json at all

{"id":"c","snippet":"third record body"}`
	got, stats := readAll(t, input, ChunkerConfig{MaxChars: 4000})
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "c", got[1].ID, "a final line without newline is still read")
	assert.Equal(t, 2, stats.Malformed)
	assert.Equal(t, 5, stats.Lines)
}

func TestReadChunks_Bounds(t *testing.T) {
	long := strings.Repeat("é", 50)
	input := `{"id":"long","snippet":"` + long + `","content_sha256":"stale"}
{"id":"short","snippet":"x"}
{"id":"empty","snippet":""}
{"snippet":"record without any id"}
`
	got, stats := readAll(t, input, ChunkerConfig{MaxChars: 20, MinChars: 2})
	require.Len(t, got, 1)
	assert.Equal(t, strings.Repeat("é", 20), got[0].Snippet)
	assert.Equal(t, contentHash(got[0].Snippet), got[0].ContentSHA256, "a clamped snippet is rehashed")
	assert.Equal(t, 1, stats.Clamped)
	assert.Equal(t, 2, stats.Skipped[SkipTooShort])
	assert.Equal(t, 1, stats.Skipped[SkipMissingID])
}

func TestReadChunks_CapsNeighbors(t *testing.T) {
	input := `{"id":"a","snippet":"func A() {}","neighbors":[{"id":"n1","edge":"calls"},{"id":"n2","edge":"imports"},{"id":"n3","edge":"contains"}]}
`
	got, _ := readAll(t, input, ChunkerConfig{MaxChars: 100, MaxNeighbors: 2})
	require.Len(t, got, 1)
	assert.Equal(t, []Neighbor{{ID: "n1", Edge: EdgeCalls}, {ID: "n2", Edge: EdgeImports}}, got[0].Neighbors)
}

func TestReadChunks_CallbackErrorStops(t *testing.T) {
	input := "{\"id\":\"a\",\"snippet\":\"aaaa\"}\n{\"id\":\"b\",\"snippet\":\"bbbb\"}\n"
	stop := errors.New("stop")
	calls := 0
	_, err := ReadChunks(context.Background(), strings.NewReader(input), ChunkerConfig{MaxChars: 100}, nil, func(CodeChunk) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestReadChunks_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ReadChunks(ctx, strings.NewReader("{\"id\":\"a\",\"snippet\":\"aaaa\"}\n"), ChunkerConfig{MaxChars: 100}, nil, func(CodeChunk) error {
		t.Fatal("callback after cancel")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
