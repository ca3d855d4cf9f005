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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kraklabs/codevec/internal/bootstrap"
	"github.com/kraklabs/codevec/internal/output"
	"github.com/kraklabs/codevec/internal/ui"
	"github.com/kraklabs/codevec/pkg/pipeline"
	"github.com/kraklabs/codevec/pkg/vectorindex"
)

// StatusResult represents the project status for JSON output.
type StatusResult struct {
	Project    string               `json:"project"`
	Root       string               `json:"root"`
	Backend    string               `json:"backend"`
	Collection string               `json:"collection"`
	Indexed    bool                 `json:"indexed"`
	Points     int                  `json:"points"`
	Dimension  int                  `json:"dimension,omitempty"`
	Metric     string               `json:"metric,omitempty"`
	Running    *pipeline.LockInfo   `json:"running,omitempty"`
	LastRun    *pipeline.RunSummary `json:"last_run,omitempty"`
	RunDir     string               `json:"run_dir,omitempty"`
	Error      string               `json:"error,omitempty"`
	Timestamp  time.Time            `json:"timestamp"`
}

// runStatus shows the collection's point count and the latest run summary.
//
// Examples:
//
//	codevec status
//	codevec status --json
func runStatus(args []string, configPath string) error {
	fs, g := newFlagSet("status", `Usage: codevec status [options]

Shows the collection size, any index run in progress and the summary of
the most recent run.
`)
	if done, err := parseFlags(fs, g, args); done || err != nil {
		return err
	}
	logger := setupLogger(g)

	proj, err := openProject(configPath, bootstrap.Options{}, logger)
	if err != nil {
		return err
	}
	defer func() { _ = proj.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := collectStatus(ctx, proj)
	if err != nil {
		return toUserError(err, "Status")
	}

	if g.JSON {
		return output.JSONTo(stdout, result)
	}
	printStatus(result)
	return nil
}

func collectStatus(ctx context.Context, proj *bootstrap.Project) (*StatusResult, error) {
	result := &StatusResult{
		Project:    proj.Config.Project,
		Root:       proj.Root,
		Backend:    proj.Config.Index.Backend,
		Collection: proj.Manager.Collection(),
		Timestamp:  time.Now(),
	}

	info, err := proj.Manager.Info(ctx)
	switch {
	case errors.Is(err, vectorindex.ErrCollectionNotFound):
		result.Error = "Collection not indexed yet. Run 'codevec index' first."
	case err != nil:
		return nil, err
	default:
		result.Indexed = true
		result.Points = info.Points
		result.Dimension = info.Dimension
		result.Metric = string(info.Metric)
	}

	lock, err := pipeline.TryLock(proj.StateDir(), proj.Config.Project)
	switch {
	case errors.Is(err, pipeline.ErrLocked):
		holder, rerr := pipeline.ReadLockInfo(pipeline.LockPath(proj.StateDir(), proj.Config.Project))
		if rerr != nil || holder == nil {
			holder = &pipeline.LockInfo{}
		}
		result.Running = holder
	case err != nil:
		return nil, err
	default:
		lock.Release()
	}

	sum, dir, err := pipeline.LatestSummary(proj.OutputRoot(), proj.Config.Project)
	switch {
	case errors.Is(err, pipeline.ErrNoRuns):
	case err != nil:
		return nil, err
	default:
		result.LastRun = sum
		result.RunDir = dir
	}
	return result, nil
}

func printStatus(r *StatusResult) {
	ui.Header("codevec Project Status")
	ui.KeyValue("Project", r.Project)
	ui.KeyValue("Root", r.Root)
	ui.KeyValue("Backend", r.Backend)
	ui.KeyValue("Collection", r.Collection)
	if r.Indexed {
		ui.KeyValue("Points", ui.CountText(r.Points))
		ui.KeyValue("Vectors", fmt.Sprintf("%d-dim, %s", r.Dimension, r.Metric))
	}
	if r.Running != nil {
		ui.Infof("Index run in progress (pid %d, started %s)", r.Running.PID, r.Running.StartedAt.Format(time.RFC3339))
	}
	if r.Error != "" {
		_, _ = fmt.Fprintln(stdout)
		ui.Warningf("%s", r.Error)
	}

	if r.LastRun == nil {
		return
	}
	_, _ = fmt.Fprintln(stdout)
	ui.SubHeader("Last run:")
	ui.KeyValue("Run", r.LastRun.RunID)
	ui.KeyValue("Status", ui.StatusText(r.LastRun.Status))
	ui.KeyValue("Finished", r.LastRun.FinishedAt.Format(time.RFC3339))
	ui.KeyValue("Chunks", fmt.Sprintf("%d emitted, %d skipped", r.LastRun.ChunksEmitted, r.LastRun.ChunksSkippedTotal()))
	ui.KeyValue("Vectors written", ui.CountText(r.LastRun.VectorsWritten))
	if r.LastRun.Error != "" {
		ui.KeyValue("Error", r.LastRun.Error)
	}
	ui.KeyValue("Artifacts", r.RunDir)
}
