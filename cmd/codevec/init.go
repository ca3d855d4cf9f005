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
	"os"
	"path/filepath"

	"github.com/kraklabs/codevec/internal/bootstrap"
	"github.com/kraklabs/codevec/internal/config"
	cerrors "github.com/kraklabs/codevec/internal/errors"
	"github.com/kraklabs/codevec/internal/output"
	"github.com/kraklabs/codevec/internal/ui"
)

// runInit writes a default codevec.yaml and creates the state directory.
// An existing config is kept unless --force is given.
//
// Examples:
//
//	codevec init
//	codevec init --provider openai --dimension 1536
//	codevec init --backend bolt --force
func runInit(args []string, configPath string) error {
	fs, g := newFlagSet("init", `Usage: codevec init [options]

Creates codevec.yaml and the .codevec state directory in the project root.
`)
	project := fs.String("project", "", "Project name (default: directory name)")
	provider := fs.String("provider", "", "Embedding provider (ollama, openai, llamacpp, nomic, mock)")
	model := fs.String("model", "", "Embedding model")
	dimension := fs.Int("dimension", 0, "Embedding dimension")
	backend := fs.String("backend", "", "Vector store backend (qdrant, bolt)")
	force := fs.Bool("force", false, "Overwrite an existing codevec.yaml")

	if done, err := parseFlags(fs, g, args); done || err != nil {
		return err
	}
	logger := setupLogger(g)

	root, err := projectRoot(configPath)
	if err != nil {
		return cerrors.NewInternalError("Cannot resolve project root", err.Error(), "Check the working directory", err)
	}
	if fs.NArg() > 0 {
		if root, err = filepath.Abs(fs.Arg(0)); err != nil {
			return cerrors.NewInputError("Invalid project path", err.Error(), "Pass an existing directory")
		}
	}

	name := *project
	if name == "" {
		name = filepath.Base(root)
	}
	cfg := config.Default(name)
	if *provider != "" {
		cfg.Embedding.Provider = *provider
	}
	if *model != "" {
		cfg.Embedding.Model = *model
	}
	if *dimension != 0 {
		cfg.Embedding.Dimension = *dimension
	}
	if *backend != "" {
		cfg.Index.Backend = *backend
	}

	if *force {
		if err := os.Remove(config.Path(root)); err != nil && !os.IsNotExist(err) {
			return cerrors.NewPermissionError("Cannot replace codevec.yaml", err.Error(), "Check file permissions", err)
		}
	}

	info, err := bootstrap.InitProject(root, cfg, logger)
	if err != nil {
		return cerrors.NewConfigError("Cannot initialize project", err.Error(), "Fix the flag values and re-run 'codevec init'", err)
	}

	if g.JSON {
		return output.JSONTo(stdout, info)
	}

	if info.Created {
		ui.Successf("Created %s", info.ConfigPath)
	} else {
		ui.Warningf("%s already exists, kept it (use --force to overwrite)", info.ConfigPath)
	}
	ui.KeyValue("Project", info.Project)
	ui.KeyValue("State dir", info.StateDir)
	_, _ = fmt.Fprintln(stdout)
	_, _ = fmt.Fprintln(stdout, "Next steps:")
	_, _ = fmt.Fprintln(stdout, "  codevec index     Index the repository")
	_, _ = fmt.Fprintln(stdout, "  codevec status    Check the collection")
	return nil
}
