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
	"log/slog"
	"path"
	"sort"
	"strings"
	"unicode/utf8"
)

// ChunkerConfig bounds chunk sizes in characters (Unicode code points).
type ChunkerConfig struct {
	MaxChars int
	MinChars int

	// MaxNeighbors caps the graph neighbors attached to each chunk. Zero
	// attaches none.
	MaxNeighbors int
}

// ChunkStats counts chunker output.
type ChunkStats struct {
	Emitted        int            `json:"emitted"`
	Skipped        map[string]int `json:"skipped"`
	SplitSymbols   int            `json:"split_symbols"`
	ResidualChunks int            `json:"residual_chunks"`
}

func newChunkStats() ChunkStats {
	return ChunkStats{Skipped: make(map[string]int)}
}

// SkippedTotal sums skips across reasons.
func (s ChunkStats) SkippedTotal() int {
	total := 0
	for _, n := range s.Skipped {
		total += n
	}
	return total
}

// Chunker derives bounded CodeChunks from a code graph and file texts.
type Chunker struct {
	maxChars     int
	minChars     int
	maxNeighbors int
	logger       *slog.Logger
}

// NewChunker validates the bounds.
func NewChunker(cfg ChunkerConfig, logger *slog.Logger) (*Chunker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxChars <= 0 {
		return nil, fmt.Errorf("chunk max_chars must be positive, got %d", cfg.MaxChars)
	}
	if cfg.MinChars < 0 || cfg.MinChars > cfg.MaxChars {
		return nil, fmt.Errorf("chunk min_chars must be within [0, %d], got %d", cfg.MaxChars, cfg.MinChars)
	}
	if cfg.MaxNeighbors < 0 {
		return nil, fmt.Errorf("chunk max_neighbors must not be negative, got %d", cfg.MaxNeighbors)
	}
	return &Chunker{
		maxChars:     cfg.MaxChars,
		minChars:     cfg.MinChars,
		maxNeighbors: cfg.MaxNeighbors,
		logger:       logger,
	}, nil
}

// Config returns the chunker's bounds.
func (c *Chunker) Config() ChunkerConfig {
	return ChunkerConfig{MaxChars: c.maxChars, MinChars: c.minChars, MaxNeighbors: c.maxNeighbors}
}

// Chunk collects every chunk of the graph into a slice.
func (c *Chunker) Chunk(ctx context.Context, graph *CodeGraph, sources map[string][]byte) ([]CodeChunk, ChunkStats, error) {
	out := make(chan CodeChunk, 64)
	var chunks []CodeChunk
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ch := range out {
			chunks = append(chunks, ch)
		}
	}()
	stats, err := c.Stream(ctx, graph, sources, out)
	close(out)
	<-done
	return chunks, stats, err
}

// Stream emits chunks to out, file by file in path order, symbols in source
// order, each file's residual chunk last. It blocks when out is full, which
// bounds how far chunking runs ahead of its consumer. Stream does not close out.
func (c *Chunker) Stream(ctx context.Context, graph *CodeGraph, sources map[string][]byte, out chan<- CodeChunk) (ChunkStats, error) {
	stats := newChunkStats()
	emit := func(ch CodeChunk) error {
		select {
		case out <- ch:
			stats.Emitted++
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for _, file := range graph.Files() {
		src, ok := sources[file.Path]
		if !ok {
			stats.Skipped[SkipMissingSource]++
			c.logger.Warn("ingestion.chunk.missing_source", "path", file.Path)
			continue
		}
		fileImports := graph.FileImports(file.ID)
		symbols := graph.Symbols(file.ID)

		for _, sym := range symbols {
			if sym.EndByte > len(src) || sym.StartByte >= sym.EndByte {
				stats.Skipped[SkipMissingSource]++
				continue
			}
			imports := fileImports
			if edges := graph.OutEdges(sym.ID, EdgeImports); len(edges) > 0 {
				tokens := append([]string(nil), fileImports...)
				for _, e := range edges {
					tokens = append(tokens, e.Raw)
				}
				imports = uniqueSorted(tokens)
			}
			chunks := c.symbolChunks(sym, src, imports, graph.Neighbors(sym.ID, c.maxNeighbors), &stats)
			if len(chunks) > 1 {
				stats.SplitSymbols++
			}
			for _, ch := range chunks {
				if err := emit(ch); err != nil {
					return stats, err
				}
			}
		}

		residual := c.residualChunks(file, symbols, src, fileImports, graph.Neighbors(file.ID, c.maxNeighbors), &stats)
		for _, ch := range residual {
			stats.ResidualChunks++
			if err := emit(ch); err != nil {
				return stats, err
			}
		}
	}

	c.logger.Debug("ingestion.chunk.complete",
		"emitted", stats.Emitted,
		"skipped", stats.Skipped,
		"split_symbols", stats.SplitSymbols,
	)
	return stats, nil
}

func (c *Chunker) symbolChunks(sym *GraphNode, src []byte, imports []string, neighbors []Neighbor, stats *ChunkStats) []CodeChunk {
	text := string(src[sym.StartByte:sym.EndByte])
	bounds := make([]int, 0, len(sym.boundaries))
	for _, b := range sym.boundaries {
		bounds = append(bounds, b-sym.StartByte)
	}
	pieces := c.split(text, bounds, stats)

	chunks := make([]CodeChunk, 0, len(pieces))
	for i, p := range pieces {
		snippet := text[p.start:p.end]
		id := sym.ID
		if len(pieces) > 1 {
			id = ChunkID(sym.ID, i)
		}
		startLine := sym.StartLine + strings.Count(text[:p.start], "\n")
		chunks = append(chunks, CodeChunk{
			ID:            id,
			NodeID:        sym.ID,
			Path:          sym.Path,
			Language:      sym.Language,
			Kind:          string(sym.Kind),
			Symbol:        sym.Name,
			SymbolPath:    sym.SymbolPath,
			Signature:     sym.Signature,
			Doc:           sym.Doc,
			Snippet:       snippet,
			ContentSHA256: contentHash(snippet),
			Imports:       imports,
			FQN:           fqnFromPath(sym.Path) + "." + sym.SymbolPath,
			StartLine:     startLine,
			EndLine:       startLine + strings.Count(snippet, "\n"),
			Part:          i,
			Parts:         len(pieces),
			Neighbors:     neighbors,
		})
	}
	return chunks
}

// residualChunks covers top-level text outside every top-level symbol:
// package clauses, imports, module-level statements.
func (c *Chunker) residualChunks(file *GraphNode, symbols []*GraphNode, src []byte, imports []string, neighbors []Neighbor, stats *ChunkStats) []CodeChunk {
	type span struct{ start, end int }
	var covered []span
	for _, s := range symbols {
		if s.Parent == "" && s.EndByte <= len(src) {
			covered = append(covered, span{s.StartByte, s.EndByte})
		}
	}
	sort.Slice(covered, func(i, j int) bool { return covered[i].start < covered[j].start })

	var b strings.Builder
	var bounds []int
	appendSegment := func(from, to int) {
		seg := strings.TrimSpace(string(src[from:to]))
		if seg == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(seg)
		bounds = append(bounds, b.Len())
	}
	pos := 0
	for _, s := range covered {
		if s.start > pos {
			appendSegment(pos, s.start)
		}
		if s.end > pos {
			pos = s.end
		}
	}
	if pos < len(src) {
		appendSegment(pos, len(src))
	}

	text := b.String()
	if utf8.RuneCountInString(text) < c.minChars || text == "" {
		return nil
	}
	pieces := c.split(text, bounds, stats)
	chunks := make([]CodeChunk, 0, len(pieces))
	for i, p := range pieces {
		snippet := text[p.start:p.end]
		id := file.ID
		if len(pieces) > 1 {
			id = ChunkID(file.ID, i)
		}
		chunks = append(chunks, CodeChunk{
			ID:            id,
			NodeID:        file.ID,
			Path:          file.Path,
			Language:      file.Language,
			Kind:          string(NodeFile),
			Symbol:        path.Base(file.Path),
			Snippet:       snippet,
			ContentSHA256: contentHash(snippet),
			Imports:       imports,
			FQN:           fqnFromPath(file.Path),
			Part:          i,
			Parts:         len(pieces),
			Neighbors:     neighbors,
		})
	}
	return chunks
}

type piece struct{ start, end int }

// split cuts text into pieces of at most maxChars characters. Cuts prefer
// the last statement boundary within the budget, then the last line end,
// then a hard cut on a rune boundary. Pieces under minChars are merged into
// a neighbour when the merge fits the budget, otherwise dropped as too_short.
func (c *Chunker) split(text string, bounds []int, stats *ChunkStats) []piece {
	var raw []piece
	start := 0
	for start < len(text) {
		for start < len(text) && isSpace(text[start]) {
			start++
		}
		if start >= len(text) {
			break
		}
		if utf8.RuneCountInString(text[start:]) <= c.maxChars {
			raw = append(raw, piece{start, len(text)})
			break
		}
		limit := runeOffset(text, start, c.maxChars)
		end := lastBoundary(bounds, start, limit)
		if end <= start {
			if nl := strings.LastIndexByte(text[start:limit], '\n'); nl > 0 {
				end = start + nl + 1
			}
		}
		if end <= start {
			end = limit
		}
		raw = append(raw, piece{start, end})
		start = end
	}

	for i := range raw {
		for raw[i].end > raw[i].start && isSpace(text[raw[i].end-1]) {
			raw[i].end--
		}
	}

	size := func(p piece) int { return utf8.RuneCountInString(text[p.start:p.end]) }
	var out []piece
	for i := 0; i < len(raw); i++ {
		p := raw[i]
		if p.end <= p.start {
			continue
		}
		if size(p) >= c.minChars {
			out = append(out, p)
			continue
		}
		if n := len(out); n > 0 && size(piece{out[n-1].start, p.end}) <= c.maxChars {
			out[n-1].end = p.end
			continue
		}
		if i+1 < len(raw) && size(piece{p.start, raw[i+1].end}) <= c.maxChars {
			raw[i+1].start = p.start
			continue
		}
		stats.Skipped[SkipTooShort]++
	}
	return out
}

// lastBoundary returns the largest boundary in (start, limit], or -1.
func lastBoundary(bounds []int, start, limit int) int {
	i := sort.SearchInts(bounds, limit+1) - 1
	if i >= 0 && bounds[i] > start {
		return bounds[i]
	}
	return -1
}

// runeOffset returns the byte offset n runes past start (or len(text)).
func runeOffset(text string, start, n int) int {
	off := start
	for i := 0; i < n && off < len(text); i++ {
		_, size := utf8.DecodeRuneInString(text[off:])
		off += size
	}
	return off
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
