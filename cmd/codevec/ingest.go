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
	"io"
	"os"
	"time"

	"github.com/kraklabs/codevec/internal/bootstrap"
	cerrors "github.com/kraklabs/codevec/internal/errors"
	"github.com/kraklabs/codevec/internal/output"
	"github.com/kraklabs/codevec/pkg/pipeline"
)

// runIngest rebuilds the collection from a chunks.jsonl artifact instead of
// a repository. "-" reads from stdin.
//
// Examples:
//
//	codevec ingest .codevec/runs/myproj/20260101T120000Z/chunks.jsonl
//	cat chunks.jsonl | codevec ingest -
func runIngest(args []string, configPath string) error {
	fs, g := newFlagSet("ingest", `Usage: codevec ingest [options] <chunks.jsonl | ->

Drops and rebuilds the collection from a JSONL chunk file. Malformed lines
are counted and skipped; oversized snippets are clamped to chunk.max_chars.
`)
	embedWorkers := fs.Int("embed-workers", 0, "Concurrent embedding requests (0 = embedding.concurrency)")
	noProgress := fs.Bool("no-progress", false, "Disable the progress bar")

	if done, err := parseFlags(fs, g, args); done || err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return cerrors.NewInputError("Missing input file", "ingest takes exactly one path", "Run 'codevec ingest <chunks.jsonl>' or pass - for stdin")
	}
	logger := setupLogger(g)

	var (
		in   io.Reader
		size int64 = -1
	)
	if path := fs.Arg(0); path == "-" {
		in = os.Stdin
	} else {
		f, err := os.Open(path) //nolint:gosec // G304: user-supplied input file
		if err != nil {
			return cerrors.NewInputError("Cannot open input file", err.Error(), "Check the path to chunks.jsonl")
		}
		defer func() { _ = f.Close() }()
		if st, err := f.Stat(); err == nil {
			size = st.Size()
		}
		in = f
	}

	proj, err := openProject(configPath, bootstrap.Options{EmbedWorkers: *embedWorkers}, logger)
	if err != nil {
		return err
	}
	defer func() { _ = proj.Close() }()

	lock, err := pipeline.TryLock(proj.StateDir(), proj.Config.Project)
	if err != nil {
		return toUserError(err, "Ingest")
	}
	defer lock.Release()

	ctx, cancel := signalContext(logger)
	defer cancel()

	pcfg := NewProgressConfig(*g)
	pcfg.Enabled = pcfg.Enabled && !*noProgress && size >= 0
	bar := NewProgressBar(pcfg, size, "Reading chunks", true)

	p, err := proj.Pipeline(nil)
	if err != nil {
		return toUserError(err, "Ingest")
	}

	run := proj.RunContext(time.Now())
	sum, err := p.IngestChunks(ctx, run, progressReader(in, bar))
	finishProgress(bar)
	if err != nil {
		return toUserError(err, "Ingest")
	}

	if g.JSON {
		return output.JSONTo(stdout, sum)
	}
	printRunSummary(sum, run.Dir)
	return nil
}
