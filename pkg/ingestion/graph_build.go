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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"runtime"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

const (
	maxSignatureRunes = 240
	maxDocRunes       = 200
)

// SourceFile is one project file handed to the graph builder.
type SourceFile struct {
	Path     string
	Language string
	Content  []byte
}

// GraphBuilderConfig configures a GraphBuilder.
type GraphBuilderConfig struct {
	// Exclude lists generated-file glob patterns.
	Exclude []string
	// Workers bounds per-file parse concurrency. Defaults to NumCPU.
	Workers int
	// RetainTrees keeps syntax trees in the result for AST export.
	RetainTrees bool
}

// GraphBuilder turns a project's files into a CodeGraph.
type GraphBuilder struct {
	registry    *GrammarRegistry
	exclude     *GlobSet
	workers     int
	retainTrees bool
	logger      *slog.Logger
}

// NewGraphBuilder validates the exclusion patterns and returns a builder.
func NewGraphBuilder(registry *GrammarRegistry, cfg GraphBuilderConfig, logger *slog.Logger) (*GraphBuilder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = DefaultGrammarRegistry()
	}
	exclude, err := NewGlobSet(cfg.Exclude)
	if err != nil {
		return nil, err
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &GraphBuilder{
		registry:    registry,
		exclude:     exclude,
		workers:     workers,
		retainTrees: cfg.RetainTrees,
		logger:      logger,
	}, nil
}

// BuildReport records parse quality and counts for the run summary.
type BuildReport struct {
	FilesSeen         int               `json:"files_seen"`
	FilesExcluded     int               `json:"files_excluded"`
	FilesParsed       int               `json:"files_parsed"`
	FilesPartial      int               `json:"files_partial"`
	FilesFailed       int               `json:"files_failed"`
	FilesUnsupported  int               `json:"files_unsupported"`
	PartialFiles      map[string]int    `json:"partial_files,omitempty"`
	FailedFiles       map[string]string `json:"failed_files,omitempty"`
	FilesByLanguage   map[string]int    `json:"files_by_language"`
	NodesByKind       map[string]int    `json:"nodes_by_kind"`
	EdgesByKind       map[string]int    `json:"edges_by_kind"`
	UnresolvedImports int               `json:"unresolved_imports"`
	Duration          time.Duration     `json:"-"`
}

// FileTree pairs a retained syntax tree with its file.
type FileTree struct {
	Path string
	Tree *SyntaxTree
}

// BuildResult is the output of GraphBuilder.Build.
type BuildResult struct {
	Graph  *CodeGraph
	Report *BuildReport
	Trees  []FileTree
}

type importRef struct {
	token string
	owner string
}

type callRef struct {
	from string
	name string
}

type fileExtract struct {
	file     SourceFile
	rules    *LanguageRules
	status   string
	failure  string
	errCount int
	fileNode *GraphNode
	symbols  []*GraphNode
	imports  []importRef
	calls    []callRef
	tree     *SyntaxTree
}

const (
	statusParsed      = "parsed"
	statusPartial     = "partial"
	statusFailed      = "failed"
	statusUnsupported = "unsupported"
)

// Build parses every non-excluded file and assembles the graph. Per-file
// parse problems are recorded in the report; only cancellation is fatal.
// Output is deterministic for unchanged input.
func (b *GraphBuilder) Build(ctx context.Context, run RunContext, files []SourceFile) (*BuildResult, error) {
	start := time.Now()
	ingMetrics.init()

	sorted := make([]SourceFile, len(files))
	for i, f := range files {
		f.Path = normalizePath(f.Path)
		sorted[i] = f
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	report := &BuildReport{
		FilesSeen:       len(sorted),
		PartialFiles:    make(map[string]int),
		FailedFiles:     make(map[string]string),
		FilesByLanguage: make(map[string]int),
	}

	// Excluded files stay resolvable as import targets.
	resolver := newImportResolver(sorted)

	var included []SourceFile
	for _, f := range sorted {
		if b.exclude.Match(f.Path) {
			report.FilesExcluded++
			continue
		}
		included = append(included, f)
	}

	b.logger.Info("ingestion.graph.start",
		"project", run.Project,
		"run_id", run.RunID,
		"files", len(included),
		"excluded", report.FilesExcluded,
		"workers", b.workers,
	)

	extracts := make([]*fileExtract, len(included))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i, f := range included {
		g.Go(func() error {
			ext, err := b.extractFile(gctx, f)
			if err != nil {
				return err
			}
			extracts[i] = ext
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("parse files: %w", err)
	}
	ingMetrics.parseDuration.Observe(time.Since(start).Seconds())

	result := &BuildResult{Graph: NewCodeGraph(), Report: report}
	b.merge(result, extracts, resolver)

	report.NodesByKind = result.Graph.NodesByKind()
	report.EdgesByKind = result.Graph.EdgesByKind()
	report.Duration = time.Since(start)

	b.logger.Info("ingestion.graph.complete",
		"project", run.Project,
		"run_id", run.RunID,
		"files_parsed", report.FilesParsed,
		"files_partial", report.FilesPartial,
		"files_failed", report.FilesFailed,
		"nodes", result.Graph.NodeCount(),
		"edges", result.Graph.EdgeCount(),
		"unresolved_imports", report.UnresolvedImports,
		"duration_ms", report.Duration.Milliseconds(),
	)
	return result, nil
}

// merge folds per-file extracts into the graph in path order.
func (b *GraphBuilder) merge(result *BuildResult, extracts []*fileExtract, resolver *importResolver) {
	graph, report := result.Graph, result.Report
	symbols := newSymbolIndex()

	for _, ext := range extracts {
		switch ext.status {
		case statusUnsupported:
			report.FilesUnsupported++
			continue
		case statusFailed:
			report.FilesFailed++
			report.FailedFiles[ext.file.Path] = ext.failure
			ingMetrics.parseFailures.Inc()
			continue
		case statusPartial:
			report.FilesPartial++
			report.PartialFiles[ext.file.Path] = ext.errCount
			ingMetrics.parsePartial.Inc()
		}
		report.FilesParsed++
		report.FilesByLanguage[ext.file.Language]++
		ingMetrics.filesParsed.Inc()

		graph.AddNode(ext.fileNode)
		for _, sym := range ext.symbols {
			graph.AddNode(sym)
			graph.AddEdge(GraphEdge{From: ext.fileNode.ID, To: sym.ID, Kind: EdgeContains})
			symbols.add(ext.fileNode.ID, sym)
		}
		if b.retainTrees && ext.tree != nil {
			result.Trees = append(result.Trees, FileTree{Path: ext.file.Path, Tree: ext.tree})
		}
	}

	for _, ext := range extracts {
		if ext.fileNode == nil {
			continue
		}
		fileID := ext.fileNode.ID
		tokens := make([]string, 0, len(ext.imports))
		for _, imp := range ext.imports {
			tokens = append(tokens, imp.token)
			targets := resolver.resolve(ext.rules, ext.file, imp.token)
			if len(targets) == 0 {
				report.UnresolvedImports++
				extID := GenerateExternalID(imp.token)
				graph.AddNode(&GraphNode{ID: extID, Kind: NodeExternal, Name: imp.token})
				targets = []string{extID}
			}
			for _, to := range targets {
				graph.AddEdge(GraphEdge{From: fileID, To: to, Kind: EdgeImports, Raw: imp.token})
				if imp.owner != "" {
					graph.AddEdge(GraphEdge{From: imp.owner, To: to, Kind: EdgeImports, Raw: imp.token})
				}
			}
		}
		graph.setFileImports(fileID, tokens)

		for _, call := range ext.calls {
			if to, ok := symbols.resolve(fileID, call.name); ok {
				graph.AddEdge(GraphEdge{From: call.from, To: to, Kind: EdgeCalls})
			}
		}
	}
}

// extractFile parses one file and walks its tree. It never fails for
// per-file problems; only context cancellation is returned.
func (b *GraphBuilder) extractFile(ctx context.Context, f SourceFile) (*fileExtract, error) {
	ext := &fileExtract{file: f, status: statusParsed}

	adapter, err := b.registry.Lookup(f.Language)
	if err != nil {
		ext.status = statusUnsupported
		b.logger.Debug("ingestion.graph.unsupported", "path", f.Path, "language", f.Language)
		return ext, nil
	}
	ext.rules = adapter.Rules()

	tree, err := adapter.Parse(ctx, f.Content)
	var pf *ParseFailure
	switch {
	case err == nil:
	case errors.As(err, &pf) && tree != nil:
		ext.status = statusPartial
		ext.errCount = pf.ErrorCount
		b.logger.Warn("ingestion.graph.syntax_errors",
			"path", f.Path,
			"language", f.Language,
			"error_count", pf.ErrorCount,
		)
	default:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		ext.status = statusFailed
		ext.failure = err.Error()
		b.logger.Warn("ingestion.graph.parse_failed", "path", f.Path, "err", err)
		return ext, nil
	}

	ext.fileNode = &GraphNode{
		ID:         GenerateFileID(f.Path),
		Kind:       NodeFile,
		Name:       path.Base(f.Path),
		Path:       f.Path,
		Language:   f.Language,
		StartByte:  0,
		EndByte:    len(f.Content),
		StartLine:  1,
		EndLine:    tree.Root.EndRow + 1,
		Partial:    tree.Partial,
		boundaries: blockBoundaries(tree.Root, ext.rules),
	}

	w := &fileWalker{
		rules:    ext.rules,
		src:      f.Content,
		file:     f,
		partial:  tree.Partial,
		comments: indexComments(tree.Root, ext.rules, f.Content),
		ordinals: make(map[string]int),
		ext:      ext,
	}
	w.walk(tree.Root)

	if b.retainTrees {
		ext.tree = tree
	}
	return ext, nil
}

// fileWalker performs the depth-first definition walk of one file.
type fileWalker struct {
	rules    *LanguageRules
	src      []byte
	file     SourceFile
	partial  bool
	comments map[int]*SyntaxNode
	ordinals map[string]int
	scope    []*GraphNode
	ext      *fileExtract
}

func (w *fileWalker) top() *GraphNode {
	if len(w.scope) == 0 {
		return nil
	}
	return w.scope[len(w.scope)-1]
}

func (w *fileWalker) walk(n *SyntaxNode) {
	pushed := false
	if sym := w.definition(n); sym != nil {
		w.ext.symbols = append(w.ext.symbols, sym)
		w.scope = append(w.scope, sym)
		pushed = true
	} else if scope := w.implScope(n); scope != nil {
		w.scope = append(w.scope, scope)
		pushed = true
	}

	if w.rules.Imports[n.Kind] {
		owner := ""
		if t := w.top(); t != nil {
			owner = t.ID
		}
		for _, tok := range w.rules.importTokens(n, w.src) {
			if tok = strings.TrimSpace(tok); tok != "" {
				w.ext.imports = append(w.ext.imports, importRef{token: tok, owner: owner})
			}
		}
	}

	if w.rules.Calls[n.Kind] {
		if t := w.top(); t != nil && t.ID != "" {
			if name := w.rules.callee(n, w.src); name != "" {
				w.ext.calls = append(w.ext.calls, callRef{from: t.ID, name: name})
			}
		}
	}

	for _, c := range n.Children {
		w.walk(c)
	}

	if pushed {
		w.scope = w.scope[:len(w.scope)-1]
	}
}

// implScope returns the scope a non-defining node opens, if any. It is the
// type's own node when the type is defined earlier in the file, otherwise
// an unregistered placeholder that only qualifies names.
func (w *fileWalker) implScope(n *SyntaxNode) *GraphNode {
	if w.rules.Scope == nil {
		return nil
	}
	name := w.rules.Scope(n, w.src)
	if name == "" {
		return nil
	}
	for i := len(w.ext.symbols) - 1; i >= 0; i-- {
		if sym := w.ext.symbols[i]; sym.Kind == NodeType && sym.SymbolPath == name {
			return sym
		}
	}
	return &GraphNode{Kind: NodeType, Name: name, SymbolPath: name}
}

// definition returns a symbol node if n defines one in the current scope.
func (w *fileWalker) definition(n *SyntaxNode) *GraphNode {
	kind, ok := w.rules.definition(n, w.src)
	if !ok {
		return nil
	}
	enclosing := w.top()
	switch kind {
	case NodeField:
		if enclosing == nil || enclosing.Kind != NodeType {
			return nil
		}
	case NodeFunction:
		if enclosing != nil && enclosing.Kind == NodeType {
			kind = NodeMethod
		}
	}

	name := w.rules.name(n, w.src)
	if name == "" {
		return nil
	}

	symbolPath := name
	if w.rules.Qualifier != nil {
		if q := w.rules.Qualifier(n, w.src); q != "" {
			symbolPath = q + "." + name
		}
	}
	if symbolPath == name && enclosing != nil {
		symbolPath = enclosing.SymbolPath + "." + name
	}

	ordinal := w.ordinals[symbolPath]
	w.ordinals[symbolPath]++

	sym := &GraphNode{
		ID:         GenerateSymbolID(w.file.Path, symbolPath, ordinal),
		Kind:       kind,
		Name:       name,
		SymbolPath: symbolPath,
		Path:       w.file.Path,
		Language:   w.file.Language,
		StartByte:  n.StartByte,
		EndByte:    n.EndByte,
		StartLine:  n.StartRow + 1,
		EndLine:    n.EndRow + 1,
		Signature:  signatureOf(n, w.src),
		Doc:        w.docOf(n),
		Partial:    w.partial,
		boundaries: blockBoundaries(n, w.rules),
	}
	if enclosing != nil {
		sym.Parent = enclosing.ID
	}
	return sym
}

// docOf returns the first line of the definition's documentation: an
// in-body docstring if the language has one, else the contiguous block of
// own-line comments ending right above the definition.
func (w *fileWalker) docOf(n *SyntaxNode) string {
	if w.rules.Docstring != nil {
		if doc := firstCommentLine(w.rules.Docstring(n, w.src)); doc != "" {
			return doc
		}
	}
	var first *SyntaxNode
	row := n.StartRow - 1
	for {
		c, ok := w.comments[row]
		if !ok || c.StartByte >= n.StartByte || !startsLine(w.src, c.StartByte) {
			break
		}
		if w.rules.Attributes[c.Kind] {
			if first != nil {
				break
			}
			row = c.StartRow - 1
			continue
		}
		first = c
		row = c.StartRow - 1
	}
	if first == nil {
		return ""
	}
	return firstCommentLine(first.Source(w.src))
}

// indexComments keys comments and attributes by the row they end on. Some
// grammars include the trailing newline in a line comment, which moves its
// end to column 0 of the next row.
func indexComments(root *SyntaxNode, rules *LanguageRules, src []byte) map[int]*SyntaxNode {
	out := make(map[int]*SyntaxNode)
	root.Walk(func(n *SyntaxNode, _ int) bool {
		if rules.Comments[n.Kind] || rules.Attributes[n.Kind] {
			row := n.EndRow
			if n.EndByte > n.StartByte && n.EndByte <= len(src) && src[n.EndByte-1] == '\n' {
				row--
			}
			out[row] = n
			return false
		}
		return true
	})
	return out
}

// blockBoundaries collects the end offsets of every statement or member
// inside n, sorted and unique.
func blockBoundaries(n *SyntaxNode, rules *LanguageRules) []int {
	seen := make(map[int]struct{})
	n.Walk(func(c *SyntaxNode, _ int) bool {
		if rules.Blocks[c.Kind] {
			for _, child := range c.Children {
				if child.EndByte > n.StartByte && child.EndByte < n.EndByte {
					seen[child.EndByte] = struct{}{}
				}
			}
		}
		return true
	})
	out := make([]int, 0, len(seen))
	for off := range seen {
		out = append(out, off)
	}
	sort.Ints(out)
	return out
}

func signatureOf(n *SyntaxNode, src []byte) string {
	end := n.EndByte
	if body := n.ChildByField("body"); body != nil && body.StartByte > n.StartByte {
		end = body.StartByte
	}
	text := string(src[n.StartByte:end])
	if end == n.EndByte {
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = text[:i]
		}
	}
	text = strings.Join(strings.Fields(text), " ")
	text = strings.TrimRight(text, "{: ")
	return truncateRunes(text, maxSignatureRunes)
}

func firstCommentLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		for _, prefix := range []string{"///", "//", "/**", "/*", "#", "*"} {
			line = strings.TrimPrefix(line, prefix)
		}
		line = strings.TrimSpace(strings.TrimSuffix(line, "*/"))
		if line != "" {
			return truncateRunes(line, maxDocRunes)
		}
	}
	return ""
}

// startsLine reports whether only whitespace precedes off on its line.
func startsLine(src []byte, off int) bool {
	for i := off - 1; i >= 0; i-- {
		switch src[i] {
		case '\n':
			return true
		case ' ', '\t', '\r':
		default:
			return false
		}
	}
	return true
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
