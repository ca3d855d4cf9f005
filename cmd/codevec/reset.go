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
	"os"
	"path/filepath"

	"github.com/kraklabs/codevec/internal/bootstrap"
	cerrors "github.com/kraklabs/codevec/internal/errors"
	"github.com/kraklabs/codevec/internal/output"
	"github.com/kraklabs/codevec/internal/ui"
	"github.com/kraklabs/codevec/pkg/pipeline"
)

// ResetResult is the --json form of a reset.
type ResetResult struct {
	Project     string `json:"project"`
	Collection  string `json:"collection"`
	RunsRemoved string `json:"runs_removed,omitempty"`
}

func runReset(args []string, configPath string) error {
	fs, g := newFlagSet("reset", `Usage: codevec reset --yes [options]

Drops the project's collection. With --runs, also deletes the project's run
directories.

WARNING: This operation is destructive and cannot be undone!
`)
	confirm := fs.Bool("yes", false, "Confirm the reset (required)")
	runs := fs.Bool("runs", false, "Also delete run artifacts")

	if done, err := parseFlags(fs, g, args); done || err != nil {
		return err
	}
	if !*confirm {
		return cerrors.NewInputError(
			"Reset not confirmed",
			"This will drop every vector in the project's collection",
			"Re-run with --yes to confirm",
		)
	}
	logger := setupLogger(g)

	proj, err := openProject(configPath, bootstrap.Options{}, logger)
	if err != nil {
		return err
	}
	defer func() { _ = proj.Close() }()

	lock, err := pipeline.TryLock(proj.StateDir(), proj.Config.Project)
	if err != nil {
		return toUserError(err, "Reset")
	}
	defer lock.Release()

	ctx, cancel := signalContext(logger)
	defer cancel()

	if err := proj.Manager.Drop(ctx); err != nil {
		return toUserError(err, "Reset")
	}
	logger.Info("reset.collection.dropped", "collection", proj.Manager.Collection())

	result := ResetResult{Project: proj.Config.Project, Collection: proj.Manager.Collection()}
	if *runs {
		dir := filepath.Join(proj.OutputRoot(), proj.Config.Project)
		if err := os.RemoveAll(dir); err != nil {
			return cerrors.NewPermissionError("Cannot delete run artifacts", err.Error(), "Check permissions on "+dir, err)
		}
		result.RunsRemoved = dir
	}

	if g.JSON {
		return output.JSONTo(stdout, result)
	}
	ui.Successf("Dropped collection %s", result.Collection)
	if result.RunsRemoved != "" {
		ui.Successf("Deleted %s", result.RunsRemoved)
	}
	ui.Infof("Run 'codevec index' to rebuild it")
	return nil
}
