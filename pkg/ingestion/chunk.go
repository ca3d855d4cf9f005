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
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Chunk skip reasons.
const (
	SkipTooShort      = "too_short"
	SkipMissingSource = "missing_source"
	SkipMissingID     = "missing_id"
)

// CodeChunk is the unit indexed for retrieval. Chunks are derived fresh on
// every run and never mutated after creation.
type CodeChunk struct {
	ID            string     `json:"id"`
	NodeID        string     `json:"node_id,omitempty"`
	Path          string     `json:"file"`
	Language      string     `json:"language,omitempty"`
	Kind          string     `json:"kind,omitempty"`
	Symbol        string     `json:"symbol,omitempty"`
	SymbolPath    string     `json:"symbol_path,omitempty"`
	Signature     string     `json:"signature,omitempty"`
	Doc           string     `json:"doc,omitempty"`
	Snippet       string     `json:"snippet"`
	ContentSHA256 string     `json:"content_sha256,omitempty"`
	Imports       []string   `json:"imports,omitempty"`
	FQN           string     `json:"fqn,omitempty"`
	StartLine     int        `json:"start_line,omitempty"`
	EndLine       int        `json:"end_line,omitempty"`
	Part          int        `json:"part,omitempty"`
	Parts         int        `json:"parts,omitempty"`
	Neighbors     []Neighbor `json:"neighbors,omitempty"`
}

// EmbeddingText renders the text sent to the embedding backend: a short
// structural header followed by the snippet. The header carries the file,
// symbol, signature, doc and imports so that fragments of a split symbol
// still embed near their siblings.
func (c CodeChunk) EmbeddingText() string {
	var b strings.Builder
	b.WriteString("file: ")
	b.WriteString(c.Path)
	b.WriteByte('\n')
	if c.SymbolPath != "" {
		b.WriteString(c.Kind)
		b.WriteString(": ")
		b.WriteString(c.SymbolPath)
		b.WriteByte('\n')
	}
	if c.Signature != "" {
		b.WriteString("signature: ")
		b.WriteString(c.Signature)
		b.WriteByte('\n')
	}
	if c.Doc != "" {
		b.WriteString("doc: ")
		b.WriteString(c.Doc)
		b.WriteByte('\n')
	}
	if len(c.Imports) > 0 {
		b.WriteString("imports: ")
		b.WriteString(strings.Join(c.Imports, ", "))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.WriteString(c.Snippet)
	return b.String()
}

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
