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

package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kraklabs/codevec/internal/config"
	"github.com/kraklabs/codevec/internal/retry"
	"github.com/kraklabs/codevec/pkg/embedding"
	"github.com/kraklabs/codevec/pkg/ingestion"
	"github.com/kraklabs/codevec/pkg/pipeline"
	"github.com/kraklabs/codevec/pkg/retrieval"
	"github.com/kraklabs/codevec/pkg/vectorindex"
)

// ProjectInfo holds information about an initialized project.
type ProjectInfo struct {
	Project    string `json:"project"`
	Root       string `json:"root"`
	ConfigPath string `json:"config_path"`
	StateDir   string `json:"state_dir"`
	// Created is false when the config file already existed.
	Created bool `json:"created"`
}

// InitProject writes a default codevec.yaml into root and creates the state
// directory. It is idempotent: an existing config file is left untouched.
func InitProject(root string, cfg *config.Config, logger *slog.Logger) (*ProjectInfo, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	if cfg == nil {
		cfg = config.Default(filepath.Base(abs))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	info := &ProjectInfo{
		Project:    cfg.Project,
		Root:       abs,
		ConfigPath: config.Path(abs),
		StateDir:   filepath.Join(abs, config.StateDir),
	}

	logger.Info("bootstrap.project.init.start",
		"project", cfg.Project,
		"root", abs,
	)

	if err := os.MkdirAll(info.StateDir, 0o750); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	if _, err := os.Stat(info.ConfigPath); errors.Is(err, os.ErrNotExist) {
		if err := cfg.Save(info.ConfigPath); err != nil {
			return nil, fmt.Errorf("write config: %w", err)
		}
		info.Created = true
	} else if err != nil {
		return nil, fmt.Errorf("stat config: %w", err)
	}

	if added, err := addToGitignore(abs); err != nil {
		logger.Warn("bootstrap.gitignore.warning", "err", err)
	} else if added {
		logger.Debug("bootstrap.gitignore.updated", "entry", config.StateDir+"/")
	}

	logger.Info("bootstrap.project.init.success",
		"project", cfg.Project,
		"config", info.ConfigPath,
		"created", info.Created,
	)
	return info, nil
}

// addToGitignore appends the state directory to an existing .gitignore.
// It does nothing when there is no .gitignore or the entry is present.
func addToGitignore(dir string) (bool, error) {
	path := filepath.Join(dir, ".gitignore")
	content, err := os.ReadFile(path) //nolint:gosec // G304: path built from project root
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	entry := config.StateDir
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == entry || line == entry+"/" || line == "/"+entry || line == "/"+entry+"/" {
			return false, nil
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // G304: path built from project root
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()

	if len(content) > 0 && content[len(content)-1] != '\n' {
		_, _ = f.WriteString("\n")
	}
	if _, err := f.WriteString("\n# codevec state\n" + entry + "/\n"); err != nil {
		return false, err
	}
	return true, nil
}

// Project bundles the components configured for one project root.
type Project struct {
	Config      *config.Config
	Root        string
	Registry    *ingestion.GrammarRegistry
	Coordinator *embedding.Coordinator
	Store       vectorindex.Store
	Manager     *vectorindex.Manager

	logger *slog.Logger
}

// Options override configuration values for one invocation.
type Options struct {
	// EmbedWorkers overrides embedding.concurrency when positive.
	EmbedWorkers int
}

// OpenProject opens the vector store and embedding backend for root. The
// caller must Close the project.
func OpenProject(root string, cfg *config.Config, opts Options, logger *slog.Logger) (*Project, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}

	registry, err := Registry(cfg.Graph.Languages)
	if err != nil {
		return nil, err
	}

	provider, err := embedding.NewProvider(embedding.ProviderConfig{
		Provider:  cfg.Embedding.Provider,
		Endpoint:  cfg.Embedding.Endpoint,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
		Timeout:   time.Duration(cfg.Embedding.TimeoutSec) * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create embedding provider: %w", err)
	}

	workers := cfg.Embedding.Concurrency
	if opts.EmbedWorkers > 0 {
		workers = opts.EmbedWorkers
	}
	coord, err := embedding.NewCoordinator(provider, embedding.CoordinatorConfig{
		Workers:   workers,
		Dimension: cfg.Embedding.Dimension,
		Retry:     retryConfig(cfg.Embedding.MaxRetries),
	}, logger)
	if err != nil {
		return nil, err
	}

	store, err := OpenStore(abs, cfg)
	if err != nil {
		return nil, err
	}
	mgr, err := vectorindex.NewManager(store, vectorindex.ManagerConfig{
		Collection: cfg.CollectionName(),
		BatchSize:  cfg.Index.UpsertBatchSize,
		Retry:      retryConfig(cfg.Index.MaxRetries),
	}, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	logger.Debug("bootstrap.project.open",
		"project", cfg.Project,
		"backend", cfg.Index.Backend,
		"collection", mgr.Collection(),
		"provider", cfg.Embedding.Provider,
		"embed_workers", workers,
	)

	return &Project{
		Config:      cfg,
		Root:        abs,
		Registry:    registry,
		Coordinator: coord,
		Store:       store,
		Manager:     mgr,
		logger:      logger,
	}, nil
}

// OpenStore opens the configured vector store backend.
func OpenStore(root string, cfg *config.Config) (vectorindex.Store, error) {
	switch cfg.Index.Backend {
	case config.BackendQdrant:
		return vectorindex.NewQdrantStore(vectorindex.QdrantConfig{
			URL:    cfg.Index.URL,
			APIKey: cfg.Index.APIKey,
		})
	case config.BackendBolt:
		return vectorindex.NewBoltStore(config.ResolvePath(root, cfg.Index.Path))
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.Index.Backend)
	}
}

// Registry returns the default grammar registry, restricted to languages
// when the list is non-empty.
func Registry(languages []string) (*ingestion.GrammarRegistry, error) {
	all := ingestion.DefaultGrammarRegistry()
	if len(languages) == 0 {
		return all, nil
	}
	reg := ingestion.NewGrammarRegistry()
	for _, lang := range languages {
		a, err := all.Lookup(lang)
		if err != nil {
			return nil, err
		}
		reg.Register(a)
	}
	return reg, nil
}

// Pipeline assembles an indexing pipeline from the project's components.
func (p *Project) Pipeline(progress func(written int)) (*pipeline.Pipeline, error) {
	cfg := p.Config
	loader := ingestion.NewRepoLoader(p.Registry, ingestion.RepoLoaderConfig{
		MaxFileBytes:     cfg.Repo.MaxFileBytes,
		IgnoreDirs:       cfg.Repo.IgnoreDirs,
		RespectGitignore: cfg.Repo.RespectGitignore,
	}, p.logger)
	builder, err := ingestion.NewGraphBuilder(p.Registry, ingestion.GraphBuilderConfig{
		Exclude:     cfg.Graph.Exclude,
		Workers:     cfg.Graph.ParseWorkers,
		RetainTrees: cfg.Output.ExportAST,
	}, p.logger)
	if err != nil {
		return nil, err
	}
	chunker, err := ingestion.NewChunker(ingestion.ChunkerConfig{
		MaxChars:     cfg.Chunk.MaxChars,
		MinChars:     cfg.Chunk.MinChars,
		MaxNeighbors: cfg.Chunk.MaxNeighbors,
	}, p.logger)
	if err != nil {
		return nil, err
	}
	metric, err := vectorindex.ParseMetric(cfg.Index.Metric)
	if err != nil {
		return nil, err
	}

	return pipeline.New(pipeline.Config{
		QueueDepth:     cfg.Pipeline.QueueDepth,
		EmbedBatchSize: cfg.Embedding.BatchSize,
		Metric:         metric,
		ExportAST:      cfg.Output.ExportAST,
		Progress:       progress,
	}, pipeline.Components{
		Loader:      loader,
		Builder:     builder,
		Chunker:     chunker,
		Coordinator: p.Coordinator,
		Manager:     p.Manager,
	}, p.logger)
}

// Engine creates a retrieval engine over the project's collection.
func (p *Project) Engine() (*retrieval.Engine, error) {
	return retrieval.NewEngine(p.Manager, p.Coordinator, retrieval.Config{
		MemoCapacity: p.Config.Retrieval.MemoCapacity,
	}, p.logger)
}

// RunContext creates the context for a new run of this project.
func (p *Project) RunContext(now time.Time) ingestion.RunContext {
	return ingestion.NewRunContext(p.Config.Project, p.OutputRoot(), now)
}

// OutputRoot is the absolute root of run directories.
func (p *Project) OutputRoot() string {
	return config.ResolvePath(p.Root, p.Config.Output.Root)
}

// StateDir is the absolute state directory.
func (p *Project) StateDir() string {
	return filepath.Join(p.Root, config.StateDir)
}

// Close releases the vector store.
func (p *Project) Close() error {
	return p.Store.Close()
}

func retryConfig(maxRetries int) retry.Config {
	rc := retry.Default()
	rc.MaxAttempts = maxRetries + 1
	return rc
}
