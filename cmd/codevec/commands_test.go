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

package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/codevec/internal/bootstrap"
	"github.com/kraklabs/codevec/internal/config"
	cerrors "github.com/kraklabs/codevec/internal/errors"
	cvtest "github.com/kraklabs/codevec/internal/testing"
	"github.com/kraklabs/codevec/pkg/ingestion"
	"github.com/kraklabs/codevec/pkg/pipeline"
)

const ledgerSource = `package store

// OpenLedger opens the ledger database and replays the journal.
func OpenLedger(path string) (*Ledger, error) {
	db, err := openDatabase(path)
	if err != nil {
		return nil, err
	}
	return replayJournal(db)
}

// CloseLedger flushes pending entries and closes the database.
func CloseLedger(l *Ledger) error {
	if err := l.flush(); err != nil {
		return err
	}
	return l.db.Close()
}
`

// captureStdout redirects command output into a buffer for one test.
func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })
	return &buf
}

func decode[T any](t *testing.T, buf *bytes.Buffer) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(buf.Bytes(), &v), buf.String())
	buf.Reset()
	return v
}

func TestCommands_Lifecycle(t *testing.T) {
	for _, k := range []string{"CODEVEC_EMBED_ENDPOINT", "CODEVEC_EMBED_MODEL", "OPENAI_API_KEY", "QDRANT_URL", "QDRANT_API_KEY"} {
		t.Setenv(k, "")
	}
	root := cvtest.WriteRepo(t, map[string]string{"ledger.go": ledgerSource})
	cfgPath := config.Path(root)
	out := captureStdout(t)

	// init
	require.NoError(t, runInit([]string{"--project", "ledger", "--provider", "mock", "--backend", "bolt", "--dimension", "32", "--json"}, cfgPath))
	info := decode[bootstrap.ProjectInfo](t, out)
	assert.True(t, info.Created)
	assert.Equal(t, "ledger", info.Project)
	assert.FileExists(t, cfgPath)

	// index
	require.NoError(t, runIndex([]string{"--json", "--no-progress"}, cfgPath))
	sum := decode[pipeline.RunSummary](t, out)
	assert.Equal(t, pipeline.StatusOK, sum.Status)
	assert.Equal(t, pipeline.SourceRepository, sum.Source)
	assert.Equal(t, 1, sum.FilesParsed)
	require.Positive(t, sum.VectorsWritten)

	// search
	require.NoError(t, runSearch([]string{"open", "ledger", "journal", "--top-k", "1", "--min-score=0", "--json"}, cfgPath))
	found := decode[SearchResult](t, out)
	assert.Equal(t, "open ledger journal", found.Query)
	require.Len(t, found.Results, 1)
	assert.Equal(t, "ledger.go", found.Results[0].File)

	// status
	require.NoError(t, runStatus([]string{"--json"}, cfgPath))
	st := decode[StatusResult](t, out)
	assert.True(t, st.Indexed)
	assert.Equal(t, sum.VectorsWritten, st.Points)
	assert.Equal(t, 32, st.Dimension)
	assert.Nil(t, st.Running)
	require.NotNil(t, st.LastRun)
	assert.Equal(t, sum.RunID, st.LastRun.RunID)

	// ingest replays the chunk artifact of the last run
	chunks := filepath.Join(st.RunDir, ingestion.ChunksFile)
	require.NoError(t, runIngest([]string{chunks, "--json", "--no-progress"}, cfgPath))
	replayed := decode[pipeline.RunSummary](t, out)
	assert.Equal(t, pipeline.SourceChunks, replayed.Source)
	assert.Equal(t, sum.VectorsWritten, replayed.VectorsWritten)

	// reset needs confirmation
	err := runReset([]string{"--json"}, cfgPath)
	require.Error(t, err)
	assert.Equal(t, cerrors.ExitInput, cerrors.ExitCode(err))

	require.NoError(t, runReset([]string{"--yes", "--json"}, cfgPath))
	reset := decode[ResetResult](t, out)
	assert.Equal(t, "ledger_code", reset.Collection)

	require.NoError(t, runStatus([]string{"--json"}, cfgPath))
	after := decode[StatusResult](t, out)
	assert.False(t, after.Indexed)
	assert.NotEmpty(t, after.Error)
}

func TestRunIndex_LockedProject(t *testing.T) {
	root := cvtest.WriteRepo(t, map[string]string{"ledger.go": ledgerSource})
	cfgPath := config.Path(root)
	captureStdout(t)
	require.NoError(t, runInit([]string{"--provider", "mock", "--backend", "bolt", "--dimension", "16", "--json"}, cfgPath))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	lock, err := pipeline.TryLock(filepath.Join(root, config.StateDir), cfg.Project)
	require.NoError(t, err)
	defer lock.Release()

	err = runIndex([]string{"--json", "--no-progress"}, cfgPath)
	require.Error(t, err)
	assert.Equal(t, cerrors.ExitDatabase, cerrors.ExitCode(err))
}

func TestRunIndex_InvalidConfig(t *testing.T) {
	root := t.TempDir()
	cvtest.WriteFile(t, root, config.FileName, "embedding:\n  dimension: 0\n")

	err := runIndex([]string{"--no-progress"}, config.Path(root))
	require.Error(t, err)
	assert.Equal(t, cerrors.ExitConfig, cerrors.ExitCode(err))
}

func TestRunSearch_MissingQuery(t *testing.T) {
	err := runSearch([]string{"--json"}, "")
	require.Error(t, err)
	assert.Equal(t, cerrors.ExitInput, cerrors.ExitCode(err))
}

func TestRunIngest_MissingFile(t *testing.T) {
	err := runIngest([]string{filepath.Join(t.TempDir(), "nope.jsonl")}, "")
	require.Error(t, err)
	assert.Equal(t, cerrors.ExitInput, cerrors.ExitCode(err))
}

func TestParseFlags_Help(t *testing.T) {
	fs, g := newFlagSet("status", "usage\n")
	fs.SetOutput(&bytes.Buffer{})
	done, err := parseFlags(fs, g, []string{"--help"})
	assert.True(t, done)
	assert.NoError(t, err)

	fs, g = newFlagSet("status", "usage\n")
	fs.SetOutput(&bytes.Buffer{})
	_, err = parseFlags(fs, g, []string{"--bogus"})
	assert.Equal(t, cerrors.ExitInput, cerrors.ExitCode(err))
}

func TestWantsJSON(t *testing.T) {
	assert.True(t, wantsJSON([]string{"query", "--json"}))
	assert.True(t, wantsJSON([]string{"--json=true"}))
	assert.False(t, wantsJSON([]string{"--", "--json"}))
	assert.False(t, wantsJSON(nil))
	assert.True(t, hasFlag([]string{"search", "--no-color"}, "--no-color"))
	assert.False(t, hasFlag([]string{"--json"}, "--no-color"))
}

func TestHeadLines(t *testing.T) {
	got := headLines("func a() {\n\n\treturn 1  \n}\nextra\n", 3)
	assert.Equal(t, []string{"func a() {", "\treturn 1", "}"}, got)
}
