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
	"sort"
)

// NodeKind enumerates the graph node categories.
type NodeKind string

const (
	NodeFile     NodeKind = "file"
	NodeFunction NodeKind = "function"
	NodeMethod   NodeKind = "method"
	NodeType     NodeKind = "type"
	NodeField    NodeKind = "field"
	NodeExternal NodeKind = "external"
)

// IsSymbol reports whether nodes of this kind are symbol nodes owned by a file.
func (k NodeKind) IsSymbol() bool {
	switch k {
	case NodeFunction, NodeMethod, NodeType, NodeField:
		return true
	}
	return false
}

// EdgeKind enumerates the relations between graph nodes.
type EdgeKind string

const (
	EdgeContains EdgeKind = "contains"
	EdgeImports  EdgeKind = "imports"
	EdgeCalls    EdgeKind = "calls"
)

// GraphNode is a file, symbol or external-module placeholder.
type GraphNode struct {
	ID         string   `json:"id"`
	Kind       NodeKind `json:"kind"`
	Name       string   `json:"name"`
	SymbolPath string   `json:"symbol_path,omitempty"`
	Path       string   `json:"file,omitempty"`
	Language   string   `json:"language,omitempty"`
	StartByte  int      `json:"start_byte"`
	EndByte    int      `json:"end_byte"`
	StartLine  int      `json:"start_line,omitempty"`
	EndLine    int      `json:"end_line,omitempty"`
	Signature  string   `json:"signature,omitempty"`
	Doc        string   `json:"doc,omitempty"`
	Parent     string   `json:"parent,omitempty"`
	Partial    bool     `json:"partial,omitempty"`

	// boundaries holds absolute byte offsets where a statement or member
	// ends inside the node's span. The chunker splits on them.
	boundaries []int
}

// GraphEdge is a directed relation between two node IDs. The target may be
// absent from the node set (excluded or external files).
type GraphEdge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Kind EdgeKind `json:"kind"`
	Raw  string   `json:"raw,omitempty"`
}

type edgeKey struct {
	from, to string
	kind     EdgeKind
}

// CodeGraph stores nodes and edges in flat, ID-indexed containers. All
// relations are ID pairs, so import and call cycles need no special care.
type CodeGraph struct {
	nodes       map[string]*GraphNode
	edges       map[edgeKey]GraphEdge
	out         map[string][]GraphEdge
	in          map[string][]GraphEdge
	byFile      map[string][]string
	fileImports map[string][]string
}

// NewCodeGraph returns an empty graph.
func NewCodeGraph() *CodeGraph {
	return &CodeGraph{
		nodes:       make(map[string]*GraphNode),
		edges:       make(map[edgeKey]GraphEdge),
		out:         make(map[string][]GraphEdge),
		in:          make(map[string][]GraphEdge),
		byFile:      make(map[string][]string),
		fileImports: make(map[string][]string),
	}
}

// AddNode inserts a node. Returns false if a node with the same ID exists;
// the first insertion wins.
func (g *CodeGraph) AddNode(n *GraphNode) bool {
	if _, ok := g.nodes[n.ID]; ok {
		return false
	}
	g.nodes[n.ID] = n
	if n.Kind.IsSymbol() {
		fileID := GenerateFileID(n.Path)
		g.byFile[fileID] = append(g.byFile[fileID], n.ID)
	}
	return true
}

// AddEdge inserts an edge with set semantics: duplicates of the same kind
// between the same pair collapse. Returns false for a duplicate.
func (g *CodeGraph) AddEdge(e GraphEdge) bool {
	k := edgeKey{from: e.From, to: e.To, kind: e.Kind}
	if _, ok := g.edges[k]; ok {
		return false
	}
	g.edges[k] = e
	g.out[e.From] = append(g.out[e.From], e)
	g.in[e.To] = append(g.in[e.To], e)
	return true
}

// HasEdge reports whether the exact edge exists.
func (g *CodeGraph) HasEdge(from, to string, kind EdgeKind) bool {
	_, ok := g.edges[edgeKey{from: from, to: to, kind: kind}]
	return ok
}

// Node returns the node with the given ID, or nil.
func (g *CodeGraph) Node(id string) *GraphNode {
	return g.nodes[id]
}

// Nodes returns all nodes ordered by ID.
func (g *CodeGraph) Nodes() []*GraphNode {
	out := make([]*GraphNode, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Files returns file nodes ordered by path.
func (g *CodeGraph) Files() []*GraphNode {
	var out []*GraphNode
	for _, n := range g.nodes {
		if n.Kind == NodeFile {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Symbols returns the symbol nodes owned by a file, in source order.
func (g *CodeGraph) Symbols(fileID string) []*GraphNode {
	ids := g.byFile[fileID]
	out := make([]*GraphNode, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.nodes[id])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartByte != out[j].StartByte {
			return out[i].StartByte < out[j].StartByte
		}
		if out[i].EndByte != out[j].EndByte {
			return out[i].EndByte > out[j].EndByte
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Edges returns all edges ordered by (from, kind, to).
func (g *CodeGraph) Edges() []GraphEdge {
	out := make([]GraphEdge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	sortEdges(out)
	return out
}

// OutEdges returns the edges of one kind leaving a node, ordered by target.
func (g *CodeGraph) OutEdges(from string, kind EdgeKind) []GraphEdge {
	var out []GraphEdge
	for _, e := range g.out[from] {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	sortEdges(out)
	return out
}

// Neighbor directions.
const (
	NeighborOut = "out"
	NeighborIn  = "in"
)

// Neighbor is a node adjacent to a chunk's node, attached to the chunk as
// compact graph context.
type Neighbor struct {
	ID        string   `json:"id"`
	Edge      EdgeKind `json:"edge"`
	Direction string   `json:"direction,omitempty"`
	FQN       string   `json:"fqn,omitempty"`
}

var neighborPriority = map[EdgeKind]int{
	EdgeCalls:    3,
	EdgeContains: 2,
	EdgeImports:  1,
}

// Neighbors returns up to limit nodes adjacent to id in either direction.
// Calls rank above contains, contains above imports, and nodes in the same
// file get a bonus. A node linked by several edges is listed once, under
// its best-ranked edge.
func (g *CodeGraph) Neighbors(id string, limit int) []Neighbor {
	if limit <= 0 {
		return nil
	}
	self := g.nodes[id]

	type scored struct {
		Neighbor
		score int
	}
	less := func(a, b scored) bool {
		if a.score != b.score {
			return a.score > b.score
		}
		if a.Edge != b.Edge {
			return a.Edge < b.Edge
		}
		if a.Direction != b.Direction {
			return a.Direction > b.Direction
		}
		return a.ID < b.ID
	}

	best := make(map[string]scored)
	consider := func(other string, kind EdgeKind, dir string) {
		if other == id {
			return
		}
		c := scored{Neighbor: Neighbor{ID: other, Edge: kind, Direction: dir}, score: neighborPriority[kind]}
		if n := g.nodes[other]; n != nil {
			c.FQN = n.fqn()
			if self != nil && n.Path != "" && n.Path == self.Path {
				c.score += 2
			}
		}
		if prev, ok := best[other]; ok && !less(c, prev) {
			return
		}
		best[other] = c
	}
	for _, e := range g.out[id] {
		consider(e.To, e.Kind, NeighborOut)
	}
	for _, e := range g.in[id] {
		consider(e.From, e.Kind, NeighborIn)
	}

	ranked := make([]scored, 0, len(best))
	for _, c := range best {
		ranked = append(ranked, c)
	}
	sort.Slice(ranked, func(i, j int) bool { return less(ranked[i], ranked[j]) })
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]Neighbor, len(ranked))
	for i, c := range ranked {
		out[i] = c.Neighbor
	}
	return out
}

// fqn names a node the way chunk FQNs do: the dotted file path, then the
// symbol path. External nodes use their import token.
func (n *GraphNode) fqn() string {
	switch {
	case n.Kind == NodeExternal:
		return n.Name
	case n.SymbolPath != "":
		return fqnFromPath(n.Path) + "." + n.SymbolPath
	default:
		return fqnFromPath(n.Path)
	}
}

// FileImports returns the raw import tokens of a file, sorted and unique.
func (g *CodeGraph) FileImports(fileID string) []string {
	return g.fileImports[fileID]
}

func (g *CodeGraph) setFileImports(fileID string, tokens []string) {
	g.fileImports[fileID] = uniqueSorted(tokens)
}

// NodeCount returns the number of nodes.
func (g *CodeGraph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges.
func (g *CodeGraph) EdgeCount() int { return len(g.edges) }

// NodesByKind counts nodes per kind.
func (g *CodeGraph) NodesByKind() map[string]int {
	out := make(map[string]int)
	for _, n := range g.nodes {
		out[string(n.Kind)]++
	}
	return out
}

// EdgesByKind counts edges per kind.
func (g *CodeGraph) EdgesByKind() map[string]int {
	out := make(map[string]int)
	for k := range g.edges {
		out[string(k.kind)]++
	}
	return out
}

func sortEdges(edges []GraphEdge) {
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.To < b.To
	})
}

func uniqueSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
