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

package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kraklabs/codevec/pkg/ingestion"
	"github.com/kraklabs/codevec/pkg/vectorindex"
)

// ErrInvalidOptions wraps every search option validation failure.
var ErrInvalidOptions = errors.New("invalid search options")

// Index is the read side of a vector collection.
type Index interface {
	Search(ctx context.Context, vector []float32, limit int) ([]vectorindex.Hit, error)
}

// QueryEmbedder turns query text into a vector.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Options shape one search.
type Options struct {
	TopK     int
	MinScore float32
	// PerTargetCap limits results per file. Zero disables the cap.
	PerTargetCap int
}

// Result is one ranked chunk.
type Result struct {
	ChunkID    string               `json:"chunk_id"`
	Score      float32              `json:"score"`
	File       string               `json:"file"`
	Kind       string               `json:"kind,omitempty"`
	SymbolPath string               `json:"symbol_path,omitempty"`
	StartLine  int                  `json:"start_line,omitempty"`
	EndLine    int                  `json:"end_line,omitempty"`
	Snippet    string               `json:"snippet,omitempty"`
	Neighbors  []ingestion.Neighbor `json:"neighbors,omitempty"`
	Payload    map[string]any       `json:"-"`
}

// Config configures an Engine.
type Config struct {
	// MemoCapacity bounds the query memo. Zero disables memoization.
	MemoCapacity int
	// FetchMultiplier is how many candidates per requested result are
	// fetched when a per-file cap is set. Defaults to 4.
	FetchMultiplier int
}

// Engine runs top-K similarity queries and post-processes the hits.
type Engine struct {
	index           Index
	embedder        QueryEmbedder
	memo            *lru.Cache[[32]byte, []Result]
	fetchMultiplier int
	logger          *slog.Logger
}

// NewEngine creates an engine over index. embedder may be nil when only
// vector queries are issued.
func NewEngine(index Index, embedder QueryEmbedder, cfg Config, logger *slog.Logger) (*Engine, error) {
	if index == nil {
		return nil, fmt.Errorf("retrieval index is required")
	}
	if cfg.MemoCapacity < 0 {
		return nil, fmt.Errorf("invalid memo capacity %d", cfg.MemoCapacity)
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		index:           index,
		embedder:        embedder,
		fetchMultiplier: cfg.FetchMultiplier,
		logger:          logger,
	}
	if e.fetchMultiplier <= 0 {
		e.fetchMultiplier = 4
	}
	if cfg.MemoCapacity > 0 {
		memo, err := lru.New[[32]byte, []Result](cfg.MemoCapacity)
		if err != nil {
			return nil, fmt.Errorf("create query memo: %w", err)
		}
		e.memo = memo
	}
	retMetrics.init()
	return e, nil
}

// Search returns at most opts.TopK results in non-increasing score order,
// all scoring at least opts.MinScore, with no file contributing more than
// opts.PerTargetCap results when the cap is set.
func (e *Engine) Search(ctx context.Context, vector []float32, opts Options) ([]Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	key := vectorKey(vector, opts)
	if res, ok := e.lookup(key); ok {
		return res, nil
	}
	res, err := e.search(ctx, vector, opts)
	if err != nil {
		return nil, err
	}
	e.store(key, res)
	return cloneResults(res), nil
}

// SearchText embeds text through the query path and searches. Repeated
// identical questions are answered from the memo without re-embedding.
func (e *Engine) SearchText(ctx context.Context, text string, opts Options) ([]Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if e.embedder == nil {
		return nil, fmt.Errorf("text search requires a query embedder")
	}
	key := textKey(text, opts)
	if res, ok := e.lookup(key); ok {
		return res, nil
	}
	vector, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	res, err := e.search(ctx, vector, opts)
	if err != nil {
		return nil, err
	}
	e.store(key, res)
	return cloneResults(res), nil
}

// Purge empties the memo. Call it after the collection is rebuilt.
func (e *Engine) Purge() {
	if e.memo != nil {
		e.memo.Purge()
	}
}

// MemoLen returns the number of memoized queries.
func (e *Engine) MemoLen() int {
	if e.memo == nil {
		return 0
	}
	return e.memo.Len()
}

func (e *Engine) search(ctx context.Context, vector []float32, opts Options) ([]Result, error) {
	if opts.TopK == 0 {
		return []Result{}, nil
	}
	start := time.Now()
	defer func() { retMetrics.duration.Observe(time.Since(start).Seconds()) }()

	limit := opts.TopK
	if opts.PerTargetCap > 0 {
		limit = opts.TopK * e.fetchMultiplier
	}
	hits, err := e.index.Search(ctx, vector, limit)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	results := make([]Result, 0, opts.TopK)
	perFile := make(map[string]int)
	for _, h := range hits {
		if len(results) == opts.TopK {
			break
		}
		if h.Score < opts.MinScore {
			// Sorted, so nothing after this qualifies.
			break
		}
		file := vectorindex.PayloadString(h.Payload, vectorindex.PayloadFile)
		if opts.PerTargetCap > 0 {
			if perFile[file] >= opts.PerTargetCap {
				continue
			}
			perFile[file]++
		}
		results = append(results, resultFromHit(h, file))
	}

	e.logger.Debug("retrieval.search",
		"top_k", opts.TopK,
		"fetched", len(hits),
		"returned", len(results),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return results, nil
}

func resultFromHit(h vectorindex.Hit, file string) Result {
	return Result{
		ChunkID:    h.ID,
		Score:      h.Score,
		File:       file,
		Kind:       vectorindex.PayloadString(h.Payload, vectorindex.PayloadKind),
		SymbolPath: vectorindex.PayloadString(h.Payload, vectorindex.PayloadSymbolPath),
		StartLine:  vectorindex.PayloadInt(h.Payload, vectorindex.PayloadStartLine),
		EndLine:    vectorindex.PayloadInt(h.Payload, vectorindex.PayloadEndLine),
		Snippet:    vectorindex.PayloadString(h.Payload, vectorindex.PayloadSnippet),
		Neighbors:  vectorindex.PayloadNeighbors(h.Payload),
		Payload:    h.Payload,
	}
}

func (e *Engine) lookup(key [32]byte) ([]Result, bool) {
	if e.memo == nil {
		return nil, false
	}
	res, ok := e.memo.Get(key)
	if !ok {
		retMetrics.memoMisses.Inc()
		return nil, false
	}
	retMetrics.memoHits.Inc()
	return cloneResults(res), true
}

func (e *Engine) store(key [32]byte, res []Result) {
	if e.memo != nil {
		e.memo.Add(key, cloneResults(res))
	}
}

func (o Options) validate() error {
	switch {
	case o.TopK < 0:
		return fmt.Errorf("%w: top_k must be >= 0, got %d", ErrInvalidOptions, o.TopK)
	case o.PerTargetCap < 0:
		return fmt.Errorf("%w: per_target_cap must be >= 0, got %d", ErrInvalidOptions, o.PerTargetCap)
	case math.IsNaN(float64(o.MinScore)):
		return fmt.Errorf("%w: min_score is NaN", ErrInvalidOptions)
	}
	return nil
}

func cloneResults(in []Result) []Result {
	out := make([]Result, len(in))
	for i, r := range in {
		r.Payload = maps.Clone(r.Payload)
		out[i] = r
	}
	return out
}

func optionBytes(buf []byte, o Options) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, uint64(o.TopK))
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(o.MinScore))
	return binary.LittleEndian.AppendUint64(buf, uint64(o.PerTargetCap))
}

// vectorKey hashes the exact vector bits and the options.
func vectorKey(vector []float32, o Options) [32]byte {
	buf := make([]byte, 0, 1+len(vector)*4+20)
	buf = append(buf, 'v')
	for _, f := range vector {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
	return sha256.Sum256(optionBytes(buf, o))
}

// textKey hashes the originating query text and the options.
func textKey(text string, o Options) [32]byte {
	buf := make([]byte, 0, 1+len(text)+20)
	buf = append(buf, 't')
	buf = append(buf, text...)
	return sha256.Sum256(optionBytes(buf, o))
}
