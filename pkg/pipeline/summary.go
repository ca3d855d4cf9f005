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

package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/kraklabs/codevec/pkg/ingestion"
)

// Run sources.
const (
	SourceRepository = "repository"
	SourceChunks     = "chunks"
)

// Run status values.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// RunSummary summarizes one indexing run. It is written to summary.json in
// the run directory whether the run succeeded or not.
type RunSummary struct {
	// Project is the project name the run indexed.
	Project string `json:"project"`

	// RunID identifies this run.
	RunID string `json:"run_id"`

	// Source is SourceRepository for a full index and SourceChunks when the
	// run replayed a chunk artifact.
	Source string `json:"source"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Collection is the vector collection that was rebuilt.
	Collection string `json:"collection"`

	// Dimension is the vector length the collection was created with.
	Dimension int `json:"dimension"`

	// FilesScanned is the number of supported files the loader accepted.
	FilesScanned int `json:"files_scanned"`

	// FilesSkipped counts files the loader dropped, by reason.
	FilesSkipped map[string]int `json:"files_skipped,omitempty"`

	FilesExcluded   int            `json:"files_excluded"`
	FilesParsed     int            `json:"files_parsed"`
	FilesPartial    int            `json:"files_partial"`
	ParseFailures   int            `json:"parse_failures"`
	FilesByLanguage map[string]int `json:"files_by_language,omitempty"`

	// PartialFiles maps files that parsed with syntax errors to their error
	// count. FailedFiles maps files that could not be parsed to the reason.
	PartialFiles map[string]int    `json:"partial_files,omitempty"`
	FailedFiles  map[string]string `json:"failed_files,omitempty"`

	Nodes       int            `json:"nodes"`
	NodesByKind map[string]int `json:"nodes_by_kind,omitempty"`
	Edges       int            `json:"edges"`
	EdgesByKind map[string]int `json:"edges_by_kind,omitempty"`

	// ChunksEmitted is the number of chunks handed to the embed stage.
	ChunksEmitted int `json:"chunks_emitted"`

	// ChunksSkipped counts chunks dropped before embedding, by reason.
	ChunksSkipped map[string]int `json:"chunks_skipped"`

	// VectorsWritten is the number of points upserted into the collection.
	VectorsWritten int `json:"vectors_written"`

	// MalformedLines is the number of unparseable chunk artifact lines.
	MalformedLines int `json:"malformed_lines"`

	// TimingsMS holds per-stage durations plus "total".
	TimingsMS map[string]int64 `json:"timings_ms"`

	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func newRunSummary(run ingestion.RunContext, source string) *RunSummary {
	return &RunSummary{
		Project:       run.Project,
		RunID:         run.RunID,
		Source:        source,
		StartedAt:     run.StartedAt,
		ChunksSkipped: make(map[string]int),
		TimingsMS:     make(map[string]int64),
	}
}

func (s *RunSummary) addBuildReport(r *ingestion.BuildReport, g *ingestion.CodeGraph) {
	s.FilesExcluded = r.FilesExcluded
	s.FilesParsed = r.FilesParsed
	s.FilesPartial = r.FilesPartial
	s.ParseFailures = r.FilesFailed
	s.FilesByLanguage = maps.Clone(r.FilesByLanguage)
	if len(r.PartialFiles) > 0 {
		s.PartialFiles = maps.Clone(r.PartialFiles)
	}
	if len(r.FailedFiles) > 0 {
		s.FailedFiles = maps.Clone(r.FailedFiles)
	}
	s.Nodes = g.NodeCount()
	s.NodesByKind = g.NodesByKind()
	s.Edges = g.EdgeCount()
	s.EdgesByKind = g.EdgesByKind()
}

func (s *RunSummary) addSkipped(skipped map[string]int) {
	for reason, n := range skipped {
		if n > 0 {
			s.ChunksSkipped[reason] += n
		}
	}
}

// ChunksSkippedTotal sums the skip counters.
func (s *RunSummary) ChunksSkippedTotal() int {
	total := 0
	for _, n := range s.ChunksSkipped {
		total += n
	}
	return total
}

// LoadSummary reads a summary.json file.
func LoadSummary(path string) (*RunSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s RunSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &s, nil
}

// ErrNoRuns is returned by LatestSummary when a project has no recorded run.
var ErrNoRuns = errors.New("no recorded runs")

// LatestSummary returns the most recent run summary for project under
// outRoot, along with the run directory it came from. Run directory names
// are UTC timestamps, so lexical order is chronological.
func LatestSummary(outRoot, project string) (*RunSummary, string, error) {
	base := filepath.Join(outRoot, project)
	entries, err := os.ReadDir(base)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", ErrNoRuns
		}
		return nil, "", fmt.Errorf("list runs: %w", err)
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))

	for _, d := range dirs {
		dir := filepath.Join(base, d)
		s, err := LoadSummary(filepath.Join(dir, ingestion.SummaryFile))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		return s, dir, nil
	}
	return nil, "", ErrNoRuns
}
