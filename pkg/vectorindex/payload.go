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
	"github.com/kraklabs/codevec/pkg/ingestion"
)

// Payload keys. The payload is the chunk flattened into JSON-compatible
// values.
const (
	PayloadChunkID      = "chunk_id"
	PayloadNodeID       = "node_id"
	PayloadFile         = "file"
	PayloadLanguage     = "language"
	PayloadKind         = "kind"
	PayloadSymbol       = "symbol"
	PayloadSymbolPath   = "symbol_path"
	PayloadSignature    = "signature"
	PayloadDoc          = "doc"
	PayloadSnippet      = "snippet"
	PayloadHash         = "content_sha256"
	PayloadImports      = "imports"
	PayloadFQN          = "fqn"
	PayloadStartLine    = "start_line"
	PayloadEndLine      = "end_line"
	PayloadPart         = "part"
	PayloadParts        = "parts"
	PayloadNeighborsKey = "neighbors"
)

// PointFromChunk builds the IndexedPoint for a chunk. The vector is copied.
func PointFromChunk(c ingestion.CodeChunk, vector []float32) Point {
	vec := make([]float32, len(vector))
	copy(vec, vector)

	imports := make([]any, len(c.Imports))
	for i, imp := range c.Imports {
		imports[i] = imp
	}
	payload := map[string]any{
		PayloadChunkID:   c.ID,
		PayloadFile:      c.Path,
		PayloadSnippet:   c.Snippet,
		PayloadHash:      c.ContentSHA256,
		PayloadImports:   imports,
		PayloadStartLine: c.StartLine,
		PayloadEndLine:   c.EndLine,
	}
	optional := map[string]string{
		PayloadNodeID:     c.NodeID,
		PayloadLanguage:   c.Language,
		PayloadKind:       c.Kind,
		PayloadSymbol:     c.Symbol,
		PayloadSymbolPath: c.SymbolPath,
		PayloadSignature:  c.Signature,
		PayloadDoc:        c.Doc,
		PayloadFQN:        c.FQN,
	}
	for k, v := range optional {
		if v != "" {
			payload[k] = v
		}
	}
	if c.Parts > 1 {
		payload[PayloadPart] = c.Part
		payload[PayloadParts] = c.Parts
	}
	if len(c.Neighbors) > 0 {
		neighbors := make([]any, len(c.Neighbors))
		for i, n := range c.Neighbors {
			m := map[string]any{"id": n.ID, "edge": string(n.Edge)}
			if n.Direction != "" {
				m["direction"] = n.Direction
			}
			if n.FQN != "" {
				m["fqn"] = n.FQN
			}
			neighbors[i] = m
		}
		payload[PayloadNeighborsKey] = neighbors
	}
	return Point{ID: c.ID, Vector: vec, Payload: payload}
}

// PayloadString returns a string payload field, or "".
func PayloadString(p map[string]any, key string) string {
	s, _ := p[key].(string)
	return s
}

// PayloadInt returns an integer payload field. JSON round trips turn ints
// into float64, so both are accepted.
func PayloadInt(p map[string]any, key string) int {
	switch n := p[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// PayloadStrings returns a string list payload field.
func PayloadStrings(p map[string]any, key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// PayloadNeighbors decodes the graph neighbors stored with a point.
func PayloadNeighbors(p map[string]any) []ingestion.Neighbor {
	list, _ := p[PayloadNeighborsKey].([]any)
	if len(list) == 0 {
		return nil
	}
	out := make([]ingestion.Neighbor, 0, len(list))
	for _, x := range list {
		m, ok := x.(map[string]any)
		if !ok {
			continue
		}
		n := ingestion.Neighbor{
			ID:        PayloadString(m, "id"),
			Edge:      ingestion.EdgeKind(PayloadString(m, "edge")),
			Direction: PayloadString(m, "direction"),
			FQN:       PayloadString(m, "fqn"),
		}
		if n.ID != "" {
			out = append(out, n)
		}
	}
	return out
}
