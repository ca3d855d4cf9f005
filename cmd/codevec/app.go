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
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/kraklabs/codevec/internal/bootstrap"
	"github.com/kraklabs/codevec/internal/config"
	cerrors "github.com/kraklabs/codevec/internal/errors"
	"github.com/kraklabs/codevec/internal/ui"
)

// stdout receives command output. Tests swap it for a buffer.
var stdout io.Writer = os.Stdout

// GlobalFlags are the output flags shared by every subcommand.
type GlobalFlags struct {
	JSON    bool
	Quiet   bool
	NoColor bool
	Debug   bool
}

// newFlagSet creates a subcommand flag set carrying the shared output flags.
func newFlagSet(name, usage string) (*pflag.FlagSet, *GlobalFlags) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	g := &GlobalFlags{}
	fs.BoolVar(&g.JSON, "json", false, "Output as JSON")
	fs.BoolVar(&g.NoColor, "no-color", false, "Disable colored output")
	fs.BoolVar(&g.Debug, "debug", false, "Enable debug logging")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fmt.Fprintln(os.Stderr, "\nOptions:")
		fs.PrintDefaults()
	}
	return fs, g
}

// parseFlags parses args and applies the shared flags. It reports
// done=true when --help was requested.
func parseFlags(fs *pflag.FlagSet, g *GlobalFlags, args []string) (bool, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return true, nil
		}
		return false, cerrors.NewInputError(
			"Invalid command line",
			err.Error(),
			fmt.Sprintf("Run 'codevec %s --help' for usage", fs.Name()),
		)
	}
	if g.JSON {
		g.Quiet = true
	}
	ui.InitColors(g.NoColor || g.JSON)
	ui.Out = stdout
	return false, nil
}

// wantsJSON reports whether --json appears in raw subcommand args, so
// errors raised before or during flag parsing are rendered correctly.
func wantsJSON(args []string) bool {
	return hasFlag(args, "--json")
}

// hasFlag reports whether the boolean flag name is set in args before any
// "--" terminator.
func hasFlag(args []string, name string) bool {
	for _, a := range args {
		if a == "--" {
			break
		}
		if a == name || a == name+"=true" {
			return true
		}
	}
	return false
}

// setupLogger installs a text logger on stderr, keeping stdout for command
// output.
func setupLogger(g *GlobalFlags) *slog.Logger {
	level := slog.LevelInfo
	if g.Debug {
		level = slog.LevelDebug
	} else if g.Quiet {
		level = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// projectRoot resolves the project root: the directory holding the config
// file when --config is set, otherwise the working directory.
func projectRoot(configPath string) (string, error) {
	if configPath != "" {
		abs, err := filepath.Abs(configPath)
		if err != nil {
			return "", err
		}
		return filepath.Dir(abs), nil
	}
	return os.Getwd()
}

// loadConfig loads the project configuration and returns it with the
// project root.
func loadConfig(configPath string) (*config.Config, string, error) {
	root, err := projectRoot(configPath)
	if err != nil {
		return nil, "", cerrors.NewInternalError("Cannot resolve project root", err.Error(), "Check the working directory", err)
	}
	path := configPath
	if path == "" {
		path = config.Path(root)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", cerrors.NewConfigError(
			"Cannot load configuration",
			err.Error(),
			fmt.Sprintf("Fix %s or run 'codevec init' to create a default one", path),
			err,
		)
	}
	return cfg, root, nil
}

// openProject loads the configuration and opens the project's backends.
func openProject(configPath string, opts bootstrap.Options, logger *slog.Logger) (*bootstrap.Project, error) {
	cfg, root, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	proj, err := bootstrap.OpenProject(root, cfg, opts, logger)
	if err != nil {
		return nil, toUserError(err, "Open project")
	}
	return proj, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("shutdown.signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

// startMetricsServer serves Prometheus metrics on addr until the returned
// function is called.
func startMetricsServer(addr string, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("metrics.http.start", "addr", addr, "path", "/metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics.http.error", "err", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// joinArgs rebuilds a query typed without quotes.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
