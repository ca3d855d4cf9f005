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
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChunker(t *testing.T, maxChars, minChars int) *Chunker {
	t.Helper()
	c, err := NewChunker(ChunkerConfig{MaxChars: maxChars, MinChars: minChars}, nil)
	require.NoError(t, err)
	return c
}

func chunkFiles(t *testing.T, c *Chunker, files ...SourceFile) ([]CodeChunk, ChunkStats, *BuildResult) {
	t.Helper()
	res := buildGraph(t, GraphBuilderConfig{}, files...)
	sources := make(map[string][]byte, len(files))
	for _, f := range files {
		sources[f.Path] = f.Content
	}
	chunks, stats, err := c.Chunk(context.Background(), res.Graph, sources)
	require.NoError(t, err)
	return chunks, stats, res
}

func TestNewChunker_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ChunkerConfig
		wantErr bool
	}{
		{"valid", ChunkerConfig{MaxChars: 100, MinChars: 10}, false},
		{"min equals max", ChunkerConfig{MaxChars: 100, MinChars: 100}, false},
		{"zero min", ChunkerConfig{MaxChars: 100}, false},
		{"zero max", ChunkerConfig{MaxChars: 0}, true},
		{"negative min", ChunkerConfig{MaxChars: 100, MinChars: -1}, true},
		{"min above max", ChunkerConfig{MaxChars: 100, MinChars: 101}, true},
		{"negative neighbors", ChunkerConfig{MaxChars: 100, MaxNeighbors: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChunker(tt.cfg, nil)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChunker_SplitsLongSymbolWithinBounds(t *testing.T) {
	var b strings.Builder
	b.WriteString("package p\n\n// Big does a lot.\nfunc Big() {\n")
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "\tx%02d := compute(%d)\n", i, i)
	}
	b.WriteString("}\n")
	src := b.String()

	c := newTestChunker(t, 200, 16)
	chunks, stats, res := chunkFiles(t, c, SourceFile{Path: "big.go", Language: "go", Content: []byte(src)})

	big := symbolByPath(res.Graph, GenerateFileID("big.go"), "Big")
	require.NotNil(t, big)

	var parts []CodeChunk
	for _, ch := range chunks {
		n := utf8.RuneCountInString(ch.Snippet)
		assert.LessOrEqual(t, n, 200, "chunk %s exceeds max", ch.ID)
		assert.GreaterOrEqual(t, n, 16, "chunk %s under min", ch.ID)
		if ch.NodeID == big.ID {
			parts = append(parts, ch)
		}
	}
	require.Greater(t, len(parts), 1)
	assert.Equal(t, 1, stats.SplitSymbols)

	joined := ""
	for i, p := range parts {
		assert.Equal(t, ChunkID(big.ID, i), p.ID)
		assert.Equal(t, i, p.Part)
		assert.Equal(t, len(parts), p.Parts)
		assert.Equal(t, "Big", p.Symbol)
		assert.Equal(t, "Big does a lot.", p.Doc)
		assert.Equal(t, "big.Big", p.FQN)
		assert.Contains(t, src, p.Snippet)
		if i > 0 {
			assert.Greater(t, p.StartLine, parts[i-1].StartLine)
		}
		joined += p.Snippet + "\n"
	}
	assert.True(t, strings.HasPrefix(parts[0].Snippet, "func Big() {"))
	assert.Equal(t, big.StartLine, parts[0].StartLine)
	for i := 0; i < 40; i++ {
		stmt := fmt.Sprintf("x%02d := compute(%d)", i, i)
		assert.Equal(t, 1, strings.Count(joined, stmt), "statement %q must land whole in exactly one part", stmt)
	}
}

func TestChunker_SingleSymbolKeepsNodeID(t *testing.T) {
	src := "package p\n\nimport \"fmt\"\n\n// Greet prints a greeting.\nfunc Greet(name string) {\n\tfmt.Println(\"hello\", name)\n}\n"
	c := newTestChunker(t, 4000, 16)
	chunks, stats, res := chunkFiles(t, c, SourceFile{Path: "pkg/greet.go", Language: "go", Content: []byte(src)})

	greet := symbolByPath(res.Graph, GenerateFileID("pkg/greet.go"), "Greet")
	require.NotNil(t, greet)

	require.Len(t, chunks, 2)
	sym := chunks[0]
	assert.Equal(t, greet.ID, sym.ID)
	assert.Equal(t, 0, sym.Part)
	assert.Equal(t, 1, sym.Parts)
	assert.Equal(t, "function", sym.Kind)
	assert.Equal(t, "func Greet(name string)", sym.Signature)
	assert.Equal(t, []string{"fmt"}, sym.Imports)
	assert.Equal(t, "pkg.greet.Greet", sym.FQN)
	assert.Equal(t, 6, sym.StartLine)
	assert.Equal(t, 8, sym.EndLine)
	assert.Equal(t, contentHash(sym.Snippet), sym.ContentSHA256)

	residual := chunks[1]
	assert.Equal(t, GenerateFileID("pkg/greet.go"), residual.ID)
	assert.Equal(t, "file", residual.Kind)
	assert.Contains(t, residual.Snippet, "package p")
	assert.Contains(t, residual.Snippet, `import "fmt"`)
	assert.NotContains(t, residual.Snippet, "Println")
	assert.Equal(t, 1, stats.ResidualChunks)
	assert.Equal(t, 2, stats.Emitted)
}

func TestChunker_AttachesNeighbors(t *testing.T) {
	c, err := NewChunker(ChunkerConfig{MaxChars: 4000, MaxNeighbors: 2}, nil)
	require.NoError(t, err)
	chunks, _, _ := chunkFiles(t, c,
		SourceFile{Path: "a.py", Language: "python", Content: []byte("from b import helper\n\ndef main():\n    helper()\n")},
		SourceFile{Path: "b.py", Language: "python", Content: []byte("def helper():\n    pass\n")},
	)
	byID := make(map[string]CodeChunk, len(chunks))
	for _, ch := range chunks {
		byID[ch.ID] = ch
	}
	fileA, fileB := GenerateFileID("a.py"), GenerateFileID("b.py")
	mainID := GenerateSymbolID("a.py", "main", 0)

	assert.Equal(t, []Neighbor{
		{ID: fileA, Edge: EdgeContains, Direction: NeighborIn, FQN: "a"},
		{ID: GenerateSymbolID("b.py", "helper", 0), Edge: EdgeCalls, Direction: NeighborOut, FQN: "b.helper"},
	}, byID[mainID].Neighbors)

	residual, ok := byID[fileA]
	require.True(t, ok)
	assert.Equal(t, []Neighbor{
		{ID: mainID, Edge: EdgeContains, Direction: NeighborOut, FQN: "a.main"},
		{ID: fileB, Edge: EdgeImports, Direction: NeighborOut, FQN: "b"},
	}, residual.Neighbors)

	plain, _, _ := chunkFiles(t, newTestChunker(t, 4000, 0),
		SourceFile{Path: "b.py", Language: "python", Content: []byte("def helper():\n    pass\n")},
	)
	require.NotEmpty(t, plain)
	assert.Nil(t, plain[0].Neighbors, "no neighbors unless configured")
}

func TestChunker_SkipsTooShortAndMissingSource(t *testing.T) {
	c := newTestChunker(t, 4000, 16)
	files := []SourceFile{
		{Path: "tiny.go", Language: "go", Content: []byte("package p\n\nfunc a() {}\n")},
		{Path: "gone.go", Language: "go", Content: []byte("package p\n\nfunc Gone() { println(\"gone\") }\n")},
	}
	res := buildGraph(t, GraphBuilderConfig{}, files...)

	chunks, stats, err := c.Chunk(context.Background(), res.Graph, map[string][]byte{"tiny.go": files[0].Content})
	require.NoError(t, err)
	assert.Empty(t, chunks)
	assert.Equal(t, 1, stats.Skipped[SkipMissingSource])
	assert.Equal(t, 1, stats.Skipped[SkipTooShort])
	assert.Equal(t, 2, stats.SkippedTotal())
}

func TestChunker_Deterministic(t *testing.T) {
	c := newTestChunker(t, 300, 16)
	files := sampleProject(t)
	a, _, _ := chunkFiles(t, c, files...)
	b, _, _ := chunkFiles(t, c, files...)
	assert.Equal(t, a, b)

	seen := make(map[string]bool)
	for _, ch := range a {
		assert.False(t, seen[ch.ID], "duplicate chunk id %s", ch.ID)
		seen[ch.ID] = true
	}
}

func TestChunker_StreamStopsOnCancel(t *testing.T) {
	c := newTestChunker(t, 4000, 0)
	res := buildGraph(t, GraphBuilderConfig{}, sampleProject(t)...)
	sources := map[string][]byte{}
	for _, f := range sampleProject(t) {
		sources[f.Path] = f.Content
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Stream(ctx, res.Graph, sources, make(chan CodeChunk))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChunker_SplitHardCut(t *testing.T) {
	c := newTestChunker(t, 100, 0)
	stats := newChunkStats()
	pieces := c.split(strings.Repeat("x", 250), nil, &stats)
	require.Len(t, pieces, 3)
	assert.Equal(t, piece{0, 100}, pieces[0])
	assert.Equal(t, piece{100, 200}, pieces[1])
	assert.Equal(t, piece{200, 250}, pieces[2])
}

func TestChunker_SplitRuneBoundary(t *testing.T) {
	c := newTestChunker(t, 100, 0)
	stats := newChunkStats()
	text := strings.Repeat("é", 150)
	pieces := c.split(text, nil, &stats)
	require.Len(t, pieces, 2)
	for _, p := range pieces {
		assert.True(t, utf8.ValidString(text[p.start:p.end]))
	}
	assert.Equal(t, 100, utf8.RuneCountInString(text[pieces[0].start:pieces[0].end]))
	assert.Equal(t, 50, utf8.RuneCountInString(text[pieces[1].start:pieces[1].end]))
}

func TestChunker_SplitMergesShortLeadingPiece(t *testing.T) {
	c := newTestChunker(t, 100, 20)
	stats := newChunkStats()
	text := strings.Repeat("a", 10) + "\n" + strings.Repeat("b", 50) + "\n" + strings.Repeat("c", 60)

	pieces := c.split(text, []int{10}, &stats)
	require.Len(t, pieces, 2)
	assert.Equal(t, strings.Repeat("a", 10)+"\n"+strings.Repeat("b", 50), text[pieces[0].start:pieces[0].end])
	assert.Equal(t, strings.Repeat("c", 60), text[pieces[1].start:pieces[1].end])
	assert.Zero(t, stats.SkippedTotal())
}

func TestCodeChunk_EmbeddingText(t *testing.T) {
	ch := CodeChunk{
		Path:       "auth/service.go",
		Kind:       "method",
		SymbolPath: "Service.Login",
		Signature:  "func (s *Service) Login(user string) error",
		Doc:        "Login authenticates a user.",
		Imports:    []string{"context", "errors"},
		Snippet:    "func (s *Service) Login(user string) error { return nil }",
	}
	text := ch.EmbeddingText()
	assert.True(t, strings.HasPrefix(text, "file: auth/service.go\nmethod: Service.Login\n"))
	assert.Contains(t, text, "doc: Login authenticates a user.\n")
	assert.Contains(t, text, "imports: context, errors\n")
	assert.True(t, strings.HasSuffix(text, ch.Snippet))

	bare := CodeChunk{Path: "x.go", Snippet: "package x"}
	assert.Equal(t, "file: x.go\n\npackage x", bare.EmbeddingText())
}
