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

package testing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/codevec/pkg/ingestion"
	"github.com/kraklabs/codevec/pkg/vectorindex"
)

func TestSetupTestIndex(t *testing.T) {
	mgr := SetupTestIndex(t, "helpers_code", 8, vectorindex.MetricCosine)

	info, err := mgr.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, info.Dimension)
	assert.Equal(t, "helpers_code", mgr.Collection())
}

func TestInsertAndQuery(t *testing.T) {
	mgr := SetupTestIndex(t, "helpers_code", 16, vectorindex.MetricCosine)
	coord := SetupMockCoordinator(t, 16)

	ledger := ingestion.CodeChunk{ID: "ledger#0", Path: "ledger.go", Snippet: "func OpenLedger() { replayJournal() }"}
	render := ingestion.CodeChunk{ID: "render#0", Path: "view.go", Snippet: "func RenderTemplate() { drawWidgets() }"}
	InsertTestChunk(t, mgr, coord, ledger)
	InsertTestChunk(t, mgr, coord, render)

	vecs, err := coord.EmbedBatch(context.Background(), []string{ledger.EmbeddingText()})
	require.NoError(t, err)

	ids := QueryChunkIDs(t, mgr, vecs[0], 2)
	require.Len(t, ids, 2)
	assert.Equal(t, "ledger#0", ids[0])
}

func TestWriteRepo(t *testing.T) {
	root := WriteRepo(t, map[string]string{
		"a.py":         "import b\n",
		"pkg/sub/b.py": "def g():\n    pass\n",
	})

	data, err := os.ReadFile(filepath.Join(root, "pkg", "sub", "b.py"))
	require.NoError(t, err)
	assert.Equal(t, "def g():\n    pass\n", string(data))
	assert.FileExists(t, filepath.Join(root, "a.py"))
}

func TestReadJSONL(t *testing.T) {
	root := t.TempDir()
	WriteFile(t, root, "rows.jsonl", "{\"id\":\"a\"}\n{\"id\":\"b\"}\n")

	rows := ReadJSONL[map[string]string](t, filepath.Join(root, "rows.jsonl"))
	require.Len(t, rows, 2)
	assert.Equal(t, "b", rows[1]["id"])
}
