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

package ingestion

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// DefaultIgnoreDirs are directory names never walked.
var DefaultIgnoreDirs = []string{".git", "node_modules", "vendor", "build", "target", "dist", "__pycache__", ".venv", ".codevec"}

// DefaultMaxFileBytes is the per-file size limit.
const DefaultMaxFileBytes = 2 << 20

// RepoLoaderConfig configures a RepoLoader.
type RepoLoaderConfig struct {
	MaxFileBytes     int64
	IgnoreDirs       []string
	RespectGitignore bool
}

// RepoLoader loads the source files of a repository already present on disk.
type RepoLoader struct {
	registry *GrammarRegistry
	cfg      RepoLoaderConfig
	logger   *slog.Logger
}

// NewRepoLoader creates a repository loader. Language detection uses the
// registry's extension table.
func NewRepoLoader(registry *GrammarRegistry, cfg RepoLoaderConfig, logger *slog.Logger) *RepoLoader {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = DefaultGrammarRegistry()
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = DefaultMaxFileBytes
	}
	if cfg.IgnoreDirs == nil {
		cfg.IgnoreDirs = DefaultIgnoreDirs
	}
	return &RepoLoader{registry: registry, cfg: cfg, logger: logger}
}

// LoadResult contains the loaded repository information.
type LoadResult struct {
	RootPath    string
	Files       []SourceFile
	FileCount   int
	TotalSize   int64
	Languages   map[string]int
	SkipReasons map[string]int
}

// Sources returns file contents keyed by project-relative path.
func (lr *LoadResult) Sources() map[string][]byte {
	out := make(map[string][]byte, len(lr.Files))
	for _, f := range lr.Files {
		out[f.Path] = f.Content
	}
	return out
}

// Load walks root and reads every file with a registered language.
func (rl *RepoLoader) Load(ctx context.Context, root string) (*LoadResult, error) {
	rootPath, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve local path: %w", err)
	}
	if err := validateLocalPath(rootPath); err != nil {
		return nil, fmt.Errorf("invalid local path: %w", err)
	}
	info, err := os.Stat(rootPath)
	if err != nil {
		return nil, fmt.Errorf("stat local path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("local path is not a directory: %s", rootPath)
	}

	rl.logger.Info("repo.load.start", "root", rootPath)

	var gi *ignore.GitIgnore
	if rl.cfg.RespectGitignore {
		gi, err = ignore.CompileIgnoreFile(filepath.Join(rootPath, ".gitignore"))
		if err != nil && !os.IsNotExist(err) {
			rl.logger.Warn("repo.gitignore.error", "err", err)
		}
		if err != nil {
			gi = nil
		}
	}

	result := &LoadResult{
		RootPath:    rootPath,
		Languages:   make(map[string]int),
		SkipReasons: make(map[string]int),
	}
	if err := rl.walk(ctx, rootPath, gi, result); err != nil {
		return nil, fmt.Errorf("walk repository: %w", err)
	}
	result.FileCount = len(result.Files)

	rl.logger.Info("repo.load.complete",
		"files", result.FileCount,
		"total_size", result.TotalSize,
		"languages", result.Languages,
		"skipped", result.SkipReasons,
	)
	return result, nil
}

func (rl *RepoLoader) walk(ctx context.Context, rootPath string, gi *ignore.GitIgnore, result *LoadResult) error {
	ignoredDirs := make(map[string]bool, len(rl.cfg.IgnoreDirs))
	for _, d := range rl.cfg.IgnoreDirs {
		ignoredDirs[d] = true
	}

	return filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			rl.logger.Warn("repo.walk.error", "path", path, "err", err)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		relPath, relErr := filepath.Rel(rootPath, path)
		if relErr != nil || relPath == "." {
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		if d.IsDir() {
			if ignoredDirs[d.Name()] {
				result.SkipReasons["ignored_dir"]++
				return filepath.SkipDir
			}
			if gi != nil && gi.MatchesPath(relPath+"/") {
				result.SkipReasons["gitignored_dir"]++
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		language := rl.registry.LanguageForPath(relPath)
		if language == "" {
			result.SkipReasons["unsupported_language"]++
			return nil
		}
		if gi != nil && gi.MatchesPath(relPath) {
			result.SkipReasons["gitignored"]++
			return nil
		}

		info, err := d.Info()
		if err != nil {
			result.SkipReasons["unreadable"]++
			return nil
		}
		if info.Size() > rl.cfg.MaxFileBytes {
			result.SkipReasons["too_large"]++
			rl.logger.Warn("repo.walk.skip_large_file",
				"path", relPath,
				"size", info.Size(),
				"limit", rl.cfg.MaxFileBytes,
			)
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			result.SkipReasons["unreadable"]++
			rl.logger.Warn("repo.walk.read_error", "path", relPath, "err", err)
			return nil
		}
		if bytes.IndexByte(content, 0) >= 0 {
			result.SkipReasons["binary"]++
			return nil
		}

		result.Files = append(result.Files, SourceFile{Path: relPath, Language: language, Content: content})
		result.TotalSize += info.Size()
		result.Languages[language]++
		return nil
	})
}

// validateLocalPath rejects roots and system directories.
func validateLocalPath(absPath string) error {
	if !filepath.IsAbs(absPath) {
		return fmt.Errorf("path did not resolve to absolute path: %s", absPath)
	}
	if absPath == "/" {
		return fmt.Errorf("path is the root directory, which is not allowed")
	}
	for _, sensitive := range []string{"/etc", "/sys", "/proc", "/dev", "/boot"} {
		if strings.HasPrefix(absPath, sensitive+"/") || absPath == sensitive {
			return fmt.Errorf("path is in sensitive system directory: %s", absPath)
		}
	}
	return nil
}
