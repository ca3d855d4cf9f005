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
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// Artifact file names inside a run directory.
const (
	GraphMLFile    = "graph.graphml"
	ASTNodesFile   = "ast_nodes.jsonl"
	GraphNodesFile = "graph_nodes.jsonl"
	GraphEdgesFile = "graph_edges.jsonl"
	ChunksFile     = "chunks.jsonl"
	SummaryFile    = "summary.json"
)

// ArtifactWriter writes run artifacts into one run directory. Every file is
// written to a temp file first and renamed into place.
type ArtifactWriter struct {
	dir string
}

// NewArtifactWriter creates the run directory.
func NewArtifactWriter(dir string) (*ArtifactWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	return &ArtifactWriter{dir: dir}, nil
}

// Dir returns the run directory.
func (aw *ArtifactWriter) Dir() string { return aw.dir }

// Path returns the full path of an artifact.
func (aw *ArtifactWriter) Path(name string) string { return filepath.Join(aw.dir, name) }

// WriteGraph writes the GraphML export and the node and edge JSONL streams.
func (aw *ArtifactWriter) WriteGraph(g *CodeGraph) error {
	if err := writeFileAtomic(aw.Path(GraphMLFile), func(w io.Writer) error { return WriteGraphML(w, g) }); err != nil {
		return fmt.Errorf("write graphml: %w", err)
	}
	nodes := g.Nodes()
	if err := writeFileAtomic(aw.Path(GraphNodesFile), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		for _, n := range nodes {
			if err := enc.Encode(n); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("write graph nodes: %w", err)
	}
	edges := g.Edges()
	if err := writeFileAtomic(aw.Path(GraphEdgesFile), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		for _, e := range edges {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("write graph edges: %w", err)
	}
	return nil
}

type astRecord struct {
	File      string `json:"file"`
	Index     int    `json:"index"`
	Parent    int    `json:"parent"`
	Depth     int    `json:"depth"`
	Kind      string `json:"kind"`
	Field     string `json:"field,omitempty"`
	StartByte int    `json:"start_byte"`
	EndByte   int    `json:"end_byte"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	IsError   bool   `json:"is_error,omitempty"`
	Text      string `json:"text,omitempty"`
}

// WriteASTNodes flattens retained syntax trees into ast_nodes.jsonl. Index
// is the pre-order position within the file; Parent is -1 for the root.
func (aw *ArtifactWriter) WriteASTNodes(trees []FileTree) error {
	return writeFileAtomic(aw.Path(ASTNodesFile), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		for _, ft := range trees {
			if ft.Tree == nil || ft.Tree.Root == nil {
				continue
			}
			idx := 0
			var visit func(n *SyntaxNode, parent, depth int) error
			visit = func(n *SyntaxNode, parent, depth int) error {
				self := idx
				idx++
				rec := astRecord{
					File: ft.Path, Index: self, Parent: parent, Depth: depth,
					Kind: n.Kind, Field: n.Field,
					StartByte: n.StartByte, EndByte: n.EndByte,
					StartLine: n.StartRow + 1, EndLine: n.EndRow + 1,
					IsError: n.IsError, Text: n.Text,
				}
				if err := enc.Encode(rec); err != nil {
					return err
				}
				for _, c := range n.Children {
					if err := visit(c, self, depth+1); err != nil {
						return err
					}
				}
				return nil
			}
			if err := visit(ft.Tree.Root, -1, 0); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteJSON writes v as indented JSON.
func (aw *ArtifactWriter) WriteJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	return writeFileAtomic(aw.Path(name), func(w io.Writer) error {
		_, err := w.Write(append(data, '\n'))
		return err
	})
}

// JSONLWriter streams records to a JSONL artifact. Records become visible
// under the final name only after Close.
type JSONLWriter struct {
	path string
	tmp  *os.File
	buf  *bufio.Writer
	enc  *json.Encoder
	n    int
}

// NewJSONLWriter opens a streaming JSONL artifact.
func (aw *ArtifactWriter) NewJSONLWriter(name string) (*JSONLWriter, error) {
	path := aw.Path(name)
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}
	buf := bufio.NewWriterSize(tmp, 256*1024)
	return &JSONLWriter{path: path, tmp: tmp, buf: buf, enc: json.NewEncoder(buf)}, nil
}

// Write appends one record.
func (jw *JSONLWriter) Write(v any) error {
	jw.n++
	return jw.enc.Encode(v)
}

// Count returns the number of records written.
func (jw *JSONLWriter) Count() int { return jw.n }

// Close flushes and renames the artifact into place.
func (jw *JSONLWriter) Close() error {
	if err := jw.buf.Flush(); err != nil {
		_ = jw.tmp.Close()
		_ = os.Remove(jw.tmp.Name())
		return fmt.Errorf("flush %s: %w", jw.path, err)
	}
	if err := jw.tmp.Close(); err != nil {
		_ = os.Remove(jw.tmp.Name())
		return fmt.Errorf("close %s: %w", jw.path, err)
	}
	if err := os.Rename(jw.tmp.Name(), jw.path); err != nil {
		_ = os.Remove(jw.tmp.Name())
		return fmt.Errorf("rename %s: %w", jw.path, err)
	}
	return nil
}

// Abort discards the artifact.
func (jw *JSONLWriter) Abort() {
	_ = jw.tmp.Close()
	_ = os.Remove(jw.tmp.Name())
}

// writeFileAtomic writes through fn into a temp file and renames it over path.
func writeFileAtomic(path string, fn func(w io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	buf := bufio.NewWriterSize(tmp, 256*1024)
	if err := fn(buf); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := buf.Flush(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}

// =============================================================================
// GRAPHML
// =============================================================================

type graphMLDoc struct {
	XMLName xml.Name     `xml:"graphml"`
	XMLNS   string       `xml:"xmlns,attr"`
	Keys    []graphMLKey `xml:"key"`
	Graph   graphMLGraph `xml:"graph"`
}

type graphMLKey struct {
	ID   string `xml:"id,attr"`
	For  string `xml:"for,attr"`
	Name string `xml:"attr.name,attr"`
	Type string `xml:"attr.type,attr"`
}

type graphMLGraph struct {
	ID          string        `xml:"id,attr"`
	EdgeDefault string        `xml:"edgedefault,attr"`
	Nodes       []graphMLNode `xml:"node"`
	Edges       []graphMLEdge `xml:"edge"`
}

type graphMLNode struct {
	ID   string        `xml:"id,attr"`
	Data []graphMLData `xml:"data"`
}

type graphMLEdge struct {
	ID     string        `xml:"id,attr"`
	Source string        `xml:"source,attr"`
	Target string        `xml:"target,attr"`
	Data   []graphMLData `xml:"data"`
}

type graphMLData struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

// WriteGraphML encodes the graph as GraphML 1.0. Node keys: d0 name, d1
// type, d2 file, d3 start_line, d4 end_line, d5 node id; edge key e0 label.
// Edge targets missing from the node set get a stub node of type
// "unresolved" so the document stays well-formed.
func WriteGraphML(w io.Writer, g *CodeGraph) error {
	doc := graphMLDoc{
		XMLNS: "http://graphml.graphdrawing.org/xmlns",
		Keys: []graphMLKey{
			{ID: "d0", For: "node", Name: "name", Type: "string"},
			{ID: "d1", For: "node", Name: "type", Type: "string"},
			{ID: "d2", For: "node", Name: "file", Type: "string"},
			{ID: "d3", For: "node", Name: "start_line", Type: "int"},
			{ID: "d4", For: "node", Name: "end_line", Type: "int"},
			{ID: "d5", For: "node", Name: "node_id", Type: "string"},
			{ID: "e0", For: "edge", Name: "label", Type: "string"},
		},
		Graph: graphMLGraph{ID: "G", EdgeDefault: "directed"},
	}

	index := make(map[string]string)
	addNode := func(id string, data []graphMLData) string {
		key := "n" + strconv.Itoa(len(index))
		index[id] = key
		doc.Graph.Nodes = append(doc.Graph.Nodes, graphMLNode{ID: key, Data: data})
		return key
	}
	for _, n := range g.Nodes() {
		name := n.SymbolPath
		if name == "" {
			name = n.Name
		}
		addNode(n.ID, []graphMLData{
			{Key: "d0", Value: name},
			{Key: "d1", Value: string(n.Kind)},
			{Key: "d2", Value: n.Path},
			{Key: "d3", Value: strconv.Itoa(n.StartLine)},
			{Key: "d4", Value: strconv.Itoa(n.EndLine)},
			{Key: "d5", Value: n.ID},
		})
	}
	for i, e := range g.Edges() {
		src, ok := index[e.From]
		if !ok {
			src = addNode(e.From, []graphMLData{{Key: "d1", Value: "unresolved"}, {Key: "d5", Value: e.From}})
		}
		dst, ok := index[e.To]
		if !ok {
			dst = addNode(e.To, []graphMLData{{Key: "d1", Value: "unresolved"}, {Key: "d5", Value: e.To}})
		}
		doc.Graph.Edges = append(doc.Graph.Edges, graphMLEdge{
			ID:     "e" + strconv.Itoa(i),
			Source: src,
			Target: dst,
			Data:   []graphMLData{{Key: "e0", Value: string(e.Kind)}},
		})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	if err := enc.Flush(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
