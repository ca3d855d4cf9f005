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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"unicode/utf8"
)

// ReadStats counts what ReadChunks saw.
type ReadStats struct {
	Lines     int            `json:"lines"`
	Records   int            `json:"records"`
	Malformed int            `json:"malformed"`
	Clamped   int            `json:"clamped"`
	Skipped   map[string]int `json:"skipped"`
}

type chunkRecord struct {
	CodeChunk
	Graph *struct {
		ImportsOut []string `json:"imports_out"`
	} `json:"graph,omitempty"`
}

// ReadChunks reads line-delimited JSON CodeChunk records in order and calls
// fn for each valid one. A malformed line fails only that record: it is
// skipped and counted. Records without an id are skipped, snippets over
// the maximum are clamped, and snippets under the minimum are skipped as
// too_short. An error from fn or from the reader stops the stream.
func ReadChunks(ctx context.Context, r io.Reader, bounds ChunkerConfig, logger *slog.Logger, fn func(CodeChunk) error) (ReadStats, error) {
	if logger == nil {
		logger = slog.Default()
	}
	stats := ReadStats{Skipped: make(map[string]int)}
	br := bufio.NewReaderSize(r, 64*1024)

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		line, readErr := br.ReadBytes('\n')
		if len(line) > 0 {
			stats.Lines++
			if err := handleChunkLine(line, stats.Lines, bounds, &stats, logger, fn); err != nil {
				return stats, err
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return stats, nil
			}
			return stats, fmt.Errorf("read chunk stream: %w", readErr)
		}
	}
}

func handleChunkLine(line []byte, lineNo int, bounds ChunkerConfig, stats *ReadStats, logger *slog.Logger, fn func(CodeChunk) error) error {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}

	var rec chunkRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		stats.Malformed++
		logger.Warn("ingestion.chunks.malformed_line", "line", lineNo, "err", err)
		return nil
	}
	ch := rec.CodeChunk
	if ch.ID == "" {
		stats.Skipped[SkipMissingID]++
		return nil
	}
	if rec.Graph != nil && len(rec.Graph.ImportsOut) > 0 {
		ch.Imports = append(ch.Imports, rec.Graph.ImportsOut...)
	}
	ch.Imports = uniqueSorted(ch.Imports)
	if bounds.MaxNeighbors > 0 && len(ch.Neighbors) > bounds.MaxNeighbors {
		ch.Neighbors = ch.Neighbors[:bounds.MaxNeighbors]
	}

	if bounds.MaxChars > 0 && utf8.RuneCountInString(ch.Snippet) > bounds.MaxChars {
		ch.Snippet = ch.Snippet[:runeOffset(ch.Snippet, 0, bounds.MaxChars)]
		ch.ContentSHA256 = ""
		stats.Clamped++
	}
	if utf8.RuneCountInString(ch.Snippet) < bounds.MinChars || ch.Snippet == "" {
		stats.Skipped[SkipTooShort]++
		return nil
	}
	if ch.ContentSHA256 == "" {
		ch.ContentSHA256 = contentHash(ch.Snippet)
	}

	stats.Records++
	return fn(ch)
}
