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
	"maps"
	"slices"
	"time"

	"github.com/kraklabs/codevec/internal/bootstrap"
	cerrors "github.com/kraklabs/codevec/internal/errors"
	"github.com/kraklabs/codevec/internal/output"
	"github.com/kraklabs/codevec/internal/ui"
	"github.com/kraklabs/codevec/pkg/pipeline"
)

// runIndex executes the 'index' command: load, graph, export, rebuild the
// collection and stream every chunk through embedding into the index.
//
// Flags:
//   - --embed-workers: concurrent embedding requests (default: embedding.concurrency)
//   - --metrics-addr: HTTP address for Prometheus metrics (default: disabled)
//   - --no-progress: disable the progress spinner
//   - --json: print the run summary as JSON
//
// Examples:
//
//	codevec index
//	codevec index ./services/billing --embed-workers 16
//	codevec index --metrics-addr :9090
func runIndex(args []string, configPath string) error {
	fs, g := newFlagSet("index", `Usage: codevec index [options] [path]

Indexes a repository (default: the project root) into the configured
collection. The collection is dropped and rebuilt on every run. Artifacts
and summary.json are written to a new run directory under output.root.
`)
	embedWorkers := fs.Int("embed-workers", 0, "Concurrent embedding requests (0 = embedding.concurrency)")
	metricsAddr := fs.String("metrics-addr", "", "HTTP listen address for Prometheus metrics (empty to disable)")
	noProgress := fs.Bool("no-progress", false, "Disable the progress spinner")

	if done, err := parseFlags(fs, g, args); done || err != nil {
		return err
	}
	if fs.NArg() > 1 {
		return cerrors.NewInputError("Too many arguments", fmt.Sprintf("expected at most one path, got %d", fs.NArg()), "Run 'codevec index [path]'")
	}
	logger := setupLogger(g)

	proj, err := openProject(configPath, bootstrap.Options{EmbedWorkers: *embedWorkers}, logger)
	if err != nil {
		return err
	}
	defer func() { _ = proj.Close() }()

	repo := proj.Root
	if fs.NArg() == 1 {
		repo = fs.Arg(0)
	}

	lock, err := pipeline.TryLock(proj.StateDir(), proj.Config.Project)
	if err != nil {
		return toUserError(err, "Index")
	}
	defer lock.Release()

	if *metricsAddr != "" {
		stop := startMetricsServer(*metricsAddr, logger)
		defer stop()
	}

	ctx, cancel := signalContext(logger)
	defer cancel()

	pcfg := NewProgressConfig(*g)
	pcfg.Enabled = pcfg.Enabled && !*noProgress
	bar := NewSpinner(pcfg, "Indexing chunks")

	p, err := proj.Pipeline(chunkProgress(bar))
	if err != nil {
		return toUserError(err, "Index")
	}

	run := proj.RunContext(time.Now())
	sum, err := p.Run(ctx, run, repo)
	finishProgress(bar)
	if err != nil {
		return toUserError(err, "Index")
	}

	if g.JSON {
		return output.JSONTo(stdout, sum)
	}
	printRunSummary(sum, run.Dir)
	return nil
}

// printRunSummary prints a run summary in human-readable form.
func printRunSummary(sum *pipeline.RunSummary, runDir string) {
	ui.Header("Run " + sum.RunID)
	ui.KeyValue("Project", sum.Project)
	ui.KeyValue("Status", ui.StatusText(sum.Status))
	ui.KeyValue("Source", sum.Source)
	ui.KeyValue("Collection", fmt.Sprintf("%s (dim %d)", sum.Collection, sum.Dimension))
	if sum.Error != "" {
		ui.KeyValue("Error", sum.Error)
	}
	_, _ = fmt.Fprintln(stdout)

	if sum.Source == pipeline.SourceRepository {
		ui.SubHeader("Files:")
		ui.KeyValue("Scanned", ui.CountText(sum.FilesScanned))
		ui.KeyValue("Parsed", ui.CountText(sum.FilesParsed))
		ui.KeyValue("Excluded", ui.CountText(sum.FilesExcluded))
		if sum.FilesPartial > 0 || sum.ParseFailures > 0 {
			ui.KeyValue("Partial", ui.CountText(sum.FilesPartial))
			ui.KeyValue("Parse failures", ui.CountText(sum.ParseFailures))
		}
		printCounts("Skipped", sum.FilesSkipped)
		printCounts("Languages", sum.FilesByLanguage)
		_, _ = fmt.Fprintln(stdout)

		ui.SubHeader("Graph:")
		ui.KeyValue("Nodes", ui.CountText(sum.Nodes))
		ui.KeyValue("Edges", ui.CountText(sum.Edges))
		printCounts("Edge kinds", sum.EdgesByKind)
		_, _ = fmt.Fprintln(stdout)
	}

	ui.SubHeader("Chunks:")
	ui.KeyValue("Emitted", ui.CountText(sum.ChunksEmitted))
	ui.KeyValue("Skipped", ui.CountText(sum.ChunksSkippedTotal()))
	printCounts("Skip reasons", sum.ChunksSkipped)
	if sum.MalformedLines > 0 {
		ui.KeyValue("Malformed lines", ui.CountText(sum.MalformedLines))
	}
	ui.KeyValue("Vectors written", ui.CountText(sum.VectorsWritten))
	_, _ = fmt.Fprintln(stdout)

	ui.SubHeader("Timings:")
	for _, stage := range slices.Sorted(maps.Keys(sum.TimingsMS)) {
		ui.KeyValue(stage, (time.Duration(sum.TimingsMS[stage]) * time.Millisecond).String())
	}
	if runDir != "" {
		_, _ = fmt.Fprintln(stdout)
		ui.KeyValue("Artifacts", runDir)
	}
}

func printCounts(label string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	_, _ = fmt.Fprintf(stdout, "  %s\n", ui.Label(label+":"))
	for _, k := range slices.Sorted(maps.Keys(counts)) {
		_, _ = fmt.Fprintf(stdout, "    %-16s %d\n", k, counts[k])
	}
}
