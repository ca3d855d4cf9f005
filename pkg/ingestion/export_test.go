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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	require.NoError(t, sc.Err())
	return lines
}

func exclusionGraph(t *testing.T) *BuildResult {
	t.Helper()
	return buildGraph(t, GraphBuilderConfig{Exclude: []string{"*.pb.go"}, RetainTrees: true},
		SourceFile{Path: "a.go", Language: "go", Content: []byte("package a\n\nimport (\n\t\"fmt\"\n\t\"example.com/m/gen\"\n)\n\nfunc Use() gen.T { fmt.Println(); return gen.T{} }\n")},
		SourceFile{Path: "gen/types.pb.go", Language: "go", Content: []byte("package gen\n\ntype T struct{}\n")},
	)
}

func TestArtifactWriter_GraphML(t *testing.T) {
	res := exclusionGraph(t)
	aw, err := NewArtifactWriter(filepath.Join(t.TempDir(), "run"))
	require.NoError(t, err)
	require.NoError(t, aw.WriteGraph(res.Graph))

	data, err := os.ReadFile(aw.Path(GraphMLFile))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), xml.Header))

	var doc graphMLDoc
	require.NoError(t, xml.Unmarshal(data, &doc))
	assert.Equal(t, "directed", doc.Graph.EdgeDefault)
	assert.Len(t, doc.Graph.Edges, res.Graph.EdgeCount())

	byNodeID := make(map[string]graphMLNode)
	for _, n := range doc.Graph.Nodes {
		for _, d := range n.Data {
			if d.Key == "d5" {
				byNodeID[d.Value] = n
			}
		}
	}
	// Every graph node plus the excluded import target.
	assert.Len(t, byNodeID, res.Graph.NodeCount()+1)

	excluded, ok := byNodeID[GenerateFileID("gen/types.pb.go")]
	require.True(t, ok, "excluded import target is exported as an unresolved node")
	assert.Contains(t, excluded.Data, graphMLData{Key: "d1", Value: "unresolved"})

	use, ok := byNodeID[GenerateSymbolID("a.go", "Use", 0)]
	require.True(t, ok)
	assert.Contains(t, use.Data, graphMLData{Key: "d0", Value: "Use"})
	assert.Contains(t, use.Data, graphMLData{Key: "d1", Value: "function"})
	assert.Contains(t, use.Data, graphMLData{Key: "d2", Value: "a.go"})
}

func TestArtifactWriter_GraphJSONL(t *testing.T) {
	res := exclusionGraph(t)
	aw, err := NewArtifactWriter(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, aw.WriteGraph(res.Graph))

	nodeLines := readLines(t, aw.Path(GraphNodesFile))
	require.Len(t, nodeLines, res.Graph.NodeCount())
	var ids []string
	for _, line := range nodeLines {
		var n GraphNode
		require.NoError(t, json.Unmarshal([]byte(line), &n))
		ids = append(ids, n.ID)
	}
	assert.IsIncreasing(t, ids, "nodes are written in ID order")

	edgeLines := readLines(t, aw.Path(GraphEdgesFile))
	require.Len(t, edgeLines, res.Graph.EdgeCount())
	var edges []GraphEdge
	for _, line := range edgeLines {
		var e GraphEdge
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		edges = append(edges, e)
	}
	assert.Equal(t, res.Graph.Edges(), edges)
	assert.Contains(t, edges, GraphEdge{From: "file:a.go", To: "ext:fmt", Kind: EdgeImports, Raw: "fmt"})
}

func TestArtifactWriter_ASTNodes(t *testing.T) {
	res := exclusionGraph(t)
	require.Len(t, res.Trees, 1)

	aw, err := NewArtifactWriter(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, aw.WriteASTNodes(res.Trees))

	lines := readLines(t, aw.Path(ASTNodesFile))
	require.NotEmpty(t, lines)

	var root astRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &root))
	assert.Equal(t, "a.go", root.File)
	assert.Equal(t, "source_file", root.Kind)
	assert.Equal(t, -1, root.Parent)
	assert.Equal(t, 0, root.Depth)
	assert.Equal(t, 1, root.StartLine)

	for i, line := range lines[1:] {
		var rec astRecord
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		assert.Equal(t, i+1, rec.Index)
		assert.Less(t, rec.Parent, rec.Index, "parents precede children")
		assert.Positive(t, rec.Depth)
	}
}

func TestJSONLWriter_CloseAndAbort(t *testing.T) {
	dir := t.TempDir()
	aw, err := NewArtifactWriter(dir)
	require.NoError(t, err)

	jw, err := aw.NewJSONLWriter(ChunksFile)
	require.NoError(t, err)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, jw.Write(CodeChunk{ID: id, Snippet: "body " + id}))
	}
	assert.Equal(t, 3, jw.Count())
	assert.NoFileExists(t, aw.Path(ChunksFile), "nothing is visible before Close")
	require.NoError(t, jw.Close())
	assert.Len(t, readLines(t, aw.Path(ChunksFile)), 3)

	aborted, err := aw.NewJSONLWriter("aborted.jsonl")
	require.NoError(t, err)
	require.NoError(t, aborted.Write(map[string]int{"n": 1}))
	aborted.Abort()
	assert.NoFileExists(t, aw.Path("aborted.jsonl"))

	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestArtifactWriter_WriteJSON(t *testing.T) {
	aw, err := NewArtifactWriter(filepath.Join(t.TempDir(), "nested", "run"))
	require.NoError(t, err)
	require.NoError(t, aw.WriteJSON(SummaryFile, map[string]any{"status": "ok", "chunks": 3}))

	data, err := os.ReadFile(aw.Path(SummaryFile))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "}\n"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "ok", got["status"])
	assert.EqualValues(t, 3, got["chunks"])
}
