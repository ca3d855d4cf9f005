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

// Package config loads and validates codevec.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/kraklabs/codevec/internal/contract"
	"github.com/kraklabs/codevec/pkg/ingestion"
	"github.com/kraklabs/codevec/pkg/vectorindex"
)

// FileName is the configuration file looked up in the project root.
const FileName = "codevec.yaml"

// StateDir is the per-project state directory, relative to the project root.
const StateDir = ".codevec"

// Config holds all configuration for codevec.
type Config struct {
	Project   string          `yaml:"project"`
	Repo      RepoConfig      `yaml:"repo"`
	Graph     GraphConfig     `yaml:"graph"`
	Chunk     ChunkConfig     `yaml:"chunk"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Output    OutputConfig    `yaml:"output"`
}

// RepoConfig controls which files the loader accepts.
type RepoConfig struct {
	MaxFileBytes     int64    `yaml:"max_file_bytes"`
	IgnoreDirs       []string `yaml:"ignore_dirs"`
	RespectGitignore bool     `yaml:"respect_gitignore"`
}

// GraphConfig controls parsing and graph construction.
type GraphConfig struct {
	// Languages restricts parsing to these language tags. Empty means all
	// registered grammars.
	Languages    []string `yaml:"languages,omitempty"`
	Exclude      []string `yaml:"exclude"`
	ParseWorkers int      `yaml:"parse_workers"`
}

// ChunkConfig bounds chunk sizes, in characters.
type ChunkConfig struct {
	MaxChars int `yaml:"max_chars"`
	MinChars int `yaml:"min_chars"`

	// MaxNeighbors caps the graph neighbors stored with each chunk.
	MaxNeighbors int `yaml:"max_neighbors"`
}

// EmbeddingConfig selects and tunes the embedding backend.
type EmbeddingConfig struct {
	Provider    string `yaml:"provider"` // ollama, openai, llamacpp, nomic, mock
	Endpoint    string `yaml:"endpoint"`
	Model       string `yaml:"model"`
	APIKey      string `yaml:"api_key,omitempty"`
	Dimension   int    `yaml:"dimension"`
	Concurrency int    `yaml:"concurrency"`
	BatchSize   int    `yaml:"batch_size"`
	MaxRetries  int    `yaml:"max_retries"`
	TimeoutSec  int    `yaml:"timeout_sec"`
}

// IndexConfig selects the vector store.
type IndexConfig struct {
	Backend         string `yaml:"backend"` // qdrant, bolt
	URL             string `yaml:"url"`
	APIKey          string `yaml:"api_key,omitempty"`
	Path            string `yaml:"path"`
	Collection      string `yaml:"collection,omitempty"`
	Metric          string `yaml:"metric"`
	UpsertBatchSize int    `yaml:"upsert_batch_size"`
	MaxRetries      int    `yaml:"max_retries"`
}

// RetrievalConfig holds query defaults.
type RetrievalConfig struct {
	TopK         int     `yaml:"top_k"`
	MinScore     float32 `yaml:"min_score"`
	PerTargetCap int     `yaml:"per_target_cap"`
	MemoCapacity int     `yaml:"memo_capacity"`
}

// PipelineConfig tunes the streaming stages.
type PipelineConfig struct {
	QueueDepth int `yaml:"queue_depth"`
}

// OutputConfig controls run artifacts.
type OutputConfig struct {
	Root      string `yaml:"root"`
	ExportAST bool   `yaml:"export_ast"`
}

// Embedding and index backends.
const (
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
	ProviderLlamaCpp = "llamacpp"
	ProviderNomic    = "nomic"
	ProviderMock     = "mock"

	BackendQdrant = "qdrant"
	BackendBolt   = "bolt"
)

// Default returns the default configuration for project.
func Default(project string) *Config {
	return &Config{
		Project: project,
		Repo: RepoConfig{
			MaxFileBytes:     ingestion.DefaultMaxFileBytes,
			IgnoreDirs:       slices.Clone(ingestion.DefaultIgnoreDirs),
			RespectGitignore: true,
		},
		Graph: GraphConfig{
			Exclude:      []string{"**/*.pb.go", "**/*_generated.go", "**/*.min.js", "**/*.gen.ts"},
			ParseWorkers: runtime.NumCPU(),
		},
		Chunk: ChunkConfig{
			MaxChars:     4000,
			MinChars:     16,
			MaxNeighbors: 8,
		},
		Embedding: EmbeddingConfig{
			Provider:    ProviderOllama,
			Endpoint:    "http://localhost:11434",
			Model:       "bge-m3",
			Dimension:   1024,
			Concurrency: 4,
			BatchSize:   32,
			MaxRetries:  3,
			TimeoutSec:  60,
		},
		Index: IndexConfig{
			Backend:         BackendQdrant,
			URL:             "http://localhost:6333",
			Path:            filepath.Join(StateDir, "index.db"),
			Metric:          string(vectorindex.MetricCosine),
			UpsertBatchSize: 256,
			MaxRetries:      3,
		},
		Retrieval: RetrievalConfig{
			TopK:         20,
			MinScore:     0.5,
			PerTargetCap: 3,
			MemoCapacity: 64,
		},
		Pipeline: PipelineConfig{
			QueueDepth: 256,
		},
		Output: OutputConfig{
			Root: filepath.Join(StateDir, "runs"),
		},
	}
}

// Path returns the config file location for a project root.
func Path(root string) string {
	return filepath.Join(root, FileName)
}

// Load reads path over the defaults for the directory's project, applies
// environment overrides and validates the result. A missing file yields
// the defaults.
func Load(path string) (*Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg := Default(filepath.Base(filepath.Dir(abs)))

	data, err := os.ReadFile(abs)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// ApplyEnv overrides endpoints and secrets from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("CODEVEC_EMBED_ENDPOINT"); v != "" {
		c.Embedding.Endpoint = v
	}
	if v := os.Getenv("CODEVEC_EMBED_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.Embedding.APIKey == "" {
		c.Embedding.APIKey = v
	}
	if v := os.Getenv("QDRANT_URL"); v != "" {
		c.Index.URL = v
	}
	if v := os.Getenv("QDRANT_API_KEY"); v != "" {
		c.Index.APIKey = v
	}
}

// CollectionName returns index.collection, or "<project>_code" when unset.
// Characters a collection name may not contain become underscores.
func (c *Config) CollectionName() string {
	if c.Index.Collection != "" {
		return c.Index.Collection
	}
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
			return r
		}
		return '_'
	}, c.Project)
	return name + "_code"
}

// Validate reports every configuration error at once. It performs no I/O.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(c.Project) == "" {
		add("project must not be empty")
	}
	if c.Repo.MaxFileBytes <= 0 {
		add("repo.max_file_bytes must be positive")
	}

	known := ingestion.DefaultGrammarRegistry().Languages()
	for _, lang := range c.Graph.Languages {
		if !slices.Contains(known, lang) {
			add("graph.languages: unknown language %q (known: %s)", lang, strings.Join(known, ", "))
		}
	}
	for _, p := range c.Graph.Exclude {
		if !doublestar.ValidatePattern(p) {
			add("graph.exclude: malformed glob %q", p)
		}
	}
	if c.Graph.ParseWorkers < 0 {
		add("graph.parse_workers must be >= 0")
	}

	if c.Chunk.MaxChars <= 0 {
		add("chunk.max_chars must be positive")
	}
	if c.Chunk.MinChars < 0 || c.Chunk.MinChars > c.Chunk.MaxChars {
		add("chunk.min_chars must be within [0, chunk.max_chars]")
	}
	if c.Chunk.MaxNeighbors < 0 {
		add("chunk.max_neighbors must be >= 0")
	}

	switch c.Embedding.Provider {
	case ProviderOllama, ProviderOpenAI, ProviderLlamaCpp, ProviderNomic, ProviderMock:
	default:
		add("embedding.provider: unknown provider %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimension <= 0 {
		add("embedding.dimension must be positive")
	}
	if c.Embedding.Concurrency <= 0 {
		add("embedding.concurrency must be positive")
	}
	if c.Embedding.BatchSize <= 0 {
		add("embedding.batch_size must be positive")
	}
	if c.Embedding.MaxRetries < 0 {
		add("embedding.max_retries must be >= 0")
	}

	switch c.Index.Backend {
	case BackendQdrant:
		if c.Index.URL == "" {
			add("index.url is required for the qdrant backend")
		}
	case BackendBolt:
		if c.Index.Path == "" {
			add("index.path is required for the bolt backend")
		}
	default:
		add("index.backend: unknown backend %q", c.Index.Backend)
	}
	if _, err := vectorindex.ParseMetric(c.Index.Metric); err != nil {
		add("index.metric: %v", err)
	}
	if r := contract.ValidateCollectionName(c.CollectionName()); !r.OK {
		add("index.collection: %s", r.Message)
	}
	if c.Index.UpsertBatchSize <= 0 {
		add("index.upsert_batch_size must be positive")
	}
	if c.Index.MaxRetries < 0 {
		add("index.max_retries must be >= 0")
	}

	if c.Retrieval.TopK < 0 {
		add("retrieval.top_k must be >= 0")
	}
	if c.Retrieval.PerTargetCap < 0 {
		add("retrieval.per_target_cap must be >= 0")
	}
	if c.Retrieval.MemoCapacity < 0 {
		add("retrieval.memo_capacity must be >= 0")
	}
	if c.Pipeline.QueueDepth <= 0 {
		add("pipeline.queue_depth must be positive")
	}
	if c.Output.Root == "" {
		add("output.root must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// ResolvePath makes p absolute against the project root.
func ResolvePath(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}
