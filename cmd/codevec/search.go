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
	"fmt"
	"strings"

	"github.com/kraklabs/codevec/internal/bootstrap"
	cerrors "github.com/kraklabs/codevec/internal/errors"
	"github.com/kraklabs/codevec/internal/output"
	"github.com/kraklabs/codevec/internal/ui"
	"github.com/kraklabs/codevec/pkg/retrieval"
)

// snippetLines is how many snippet lines a text result shows.
const snippetLines = 4

// SearchResult is the --json form of a search.
type SearchResult struct {
	Query   string             `json:"query"`
	Results []retrieval.Result `json:"results"`
}

// runSearch embeds the query and prints the ranked chunks. Unset flags fall
// back to the retrieval section of codevec.yaml.
//
// Examples:
//
//	codevec search "where are retries scheduled"
//	codevec search parse config file --top-k 5 --per-file 1
//	codevec search "http handler" --json
func runSearch(args []string, configPath string) error {
	fs, g := newFlagSet("search", `Usage: codevec search [options] <query...>

Searches the collection with a natural language or code query.
`)
	topK := fs.IntP("top-k", "k", 0, "Maximum results (default: retrieval.top_k)")
	minScore := fs.Float32("min-score", 0, "Minimum similarity score (default: retrieval.min_score)")
	perFile := fs.Int("per-file", 0, "Maximum results per file, 0 for no cap (default: retrieval.per_target_cap)")
	showSnippet := fs.Bool("snippet", true, "Show the first lines of each chunk")

	if done, err := parseFlags(fs, g, args); done || err != nil {
		return err
	}
	query := joinArgs(fs.Args())
	if query == "" {
		return cerrors.NewInputError("Missing query", "search needs a query string", "Run 'codevec search \"what you are looking for\"'")
	}
	logger := setupLogger(g)

	proj, err := openProject(configPath, bootstrap.Options{}, logger)
	if err != nil {
		return err
	}
	defer func() { _ = proj.Close() }()

	opts := retrieval.Options{
		TopK:         proj.Config.Retrieval.TopK,
		MinScore:     proj.Config.Retrieval.MinScore,
		PerTargetCap: proj.Config.Retrieval.PerTargetCap,
	}
	if fs.Changed("top-k") {
		opts.TopK = *topK
	}
	if fs.Changed("min-score") {
		opts.MinScore = *minScore
	}
	if fs.Changed("per-file") {
		opts.PerTargetCap = *perFile
	}

	engine, err := proj.Engine()
	if err != nil {
		return toUserError(err, "Search")
	}

	ctx, cancel := signalContext(logger)
	defer cancel()

	results, err := engine.SearchText(ctx, query, opts)
	if err != nil {
		return toUserError(err, "Search")
	}

	if g.JSON {
		if results == nil {
			results = []retrieval.Result{}
		}
		return output.JSONTo(stdout, SearchResult{Query: query, Results: results})
	}

	if len(results) == 0 {
		ui.Warningf("No results above score %.2f", opts.MinScore)
		return nil
	}
	for i, r := range results {
		title := r.SymbolPath
		if title == "" {
			title = r.ChunkID
		}
		_, _ = fmt.Fprintf(stdout, "%2d. %s  %s  %s\n", i+1, ui.ScoreText(r.Score), ui.Label(title), ui.Location(r.File, r.StartLine, r.EndLine))
		if *showSnippet && r.Snippet != "" {
			for _, line := range headLines(r.Snippet, snippetLines) {
				_, _ = fmt.Fprintf(stdout, "      %s\n", ui.DimText(line))
			}
		}
	}
	return nil
}

// headLines returns the first n non-blank lines of s.
func headLines(s string, n int) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, strings.TrimRight(line, " \t\r"))
		if len(out) == n {
			break
		}
	}
	return out
}
