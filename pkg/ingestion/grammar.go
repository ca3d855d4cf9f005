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
	"path/filepath"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

// ErrUnsupportedLanguage is returned when no grammar is registered for a language tag.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// ParseFailure reports that a grammar rejected (part of) its input. The
// accompanying tree is a best-effort partial tree produced by error recovery.
type ParseFailure struct {
	Language   string
	ErrorCount int
}

func (e *ParseFailure) Error() string {
	return fmt.Sprintf("parse failure (%s): %d syntax error(s), partial tree returned", e.Language, e.ErrorCount)
}

// maxCapturedText bounds the text captured on leaf nodes.
const maxCapturedText = 128

// SyntaxNode is one named construct of a parsed file.
type SyntaxNode struct {
	Kind      string        `json:"kind"`
	Field     string        `json:"field,omitempty"`
	StartByte int           `json:"start_byte"`
	EndByte   int           `json:"end_byte"`
	StartRow  int           `json:"start_row"`
	EndRow    int           `json:"end_row"`
	IsError   bool          `json:"is_error,omitempty"`
	Text      string        `json:"text,omitempty"`
	Children  []*SyntaxNode `json:"-"`
}

// Source returns the node's text within src.
func (n *SyntaxNode) Source(src []byte) string {
	if n == nil || n.StartByte < 0 || n.EndByte > len(src) || n.StartByte > n.EndByte {
		return ""
	}
	return string(src[n.StartByte:n.EndByte])
}

// ChildByField returns the first child attached under a grammar field name.
func (n *SyntaxNode) ChildByField(field string) *SyntaxNode {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Field == field {
			return c
		}
	}
	return nil
}

// ChildrenByField returns every child attached under a grammar field name.
func (n *SyntaxNode) ChildrenByField(field string) []*SyntaxNode {
	if n == nil {
		return nil
	}
	var out []*SyntaxNode
	for _, c := range n.Children {
		if c.Field == field {
			out = append(out, c)
		}
	}
	return out
}

// FirstOfKind returns the first descendant (pre-order, self included) of one of the given kinds.
func (n *SyntaxNode) FirstOfKind(kinds ...string) *SyntaxNode {
	if n == nil {
		return nil
	}
	for _, k := range kinds {
		if n.Kind == k {
			return n
		}
	}
	for _, c := range n.Children {
		if found := c.FirstOfKind(kinds...); found != nil {
			return found
		}
	}
	return nil
}

// Walk visits the subtree depth-first. Returning false from fn skips the
// node's children.
func (n *SyntaxNode) Walk(fn func(n *SyntaxNode, depth int) bool) {
	n.walk(fn, 0)
}

func (n *SyntaxNode) walk(fn func(n *SyntaxNode, depth int) bool, depth int) {
	if n == nil || !fn(n, depth) {
		return
	}
	for _, c := range n.Children {
		c.walk(fn, depth+1)
	}
}

// SyntaxTree is the parse result of one file.
type SyntaxTree struct {
	Language   string
	Root       *SyntaxNode
	Partial    bool
	ErrorCount int
}

// Adapter wraps the grammar of one language. Parsing is pure and file-local.
type Adapter interface {
	Language() string
	Extensions() []string
	Parse(ctx context.Context, src []byte) (*SyntaxTree, error)
	Rules() *LanguageRules
}

// treeSitterAdapter adapts a tree-sitter grammar. Tree-sitter parsers are
// not safe for concurrent use, so each adapter pools them.
type treeSitterAdapter struct {
	language   string
	extensions []string
	grammar    *sitter.Language
	rules      *LanguageRules
	pool       sync.Pool
}

func newTreeSitterAdapter(language string, extensions []string, grammar *sitter.Language, rules *LanguageRules) *treeSitterAdapter {
	a := &treeSitterAdapter{
		language:   language,
		extensions: extensions,
		grammar:    grammar,
		rules:      rules,
	}
	a.pool.New = func() any {
		p := sitter.NewParser()
		p.SetLanguage(grammar)
		return p
	}
	return a
}

func (a *treeSitterAdapter) Language() string      { return a.language }
func (a *treeSitterAdapter) Extensions() []string  { return a.extensions }
func (a *treeSitterAdapter) Rules() *LanguageRules { return a.rules }

// Parse converts the tree-sitter tree into SyntaxNodes. When the input has
// syntax errors the partial tree is returned together with a *ParseFailure.
func (a *treeSitterAdapter) Parse(ctx context.Context, src []byte) (*SyntaxTree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	parser := a.pool.Get().(*sitter.Parser)
	defer a.pool.Put(parser)

	// Pooled parsers outlive the caller's context. ParseCtx arms the parser's
	// cancellation flag when its context ends, so it only ever sees Background.
	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse: %w", err)
	}
	defer tree.Close()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root := tree.RootNode()
	errCount := 0
	out := &SyntaxTree{
		Language: a.language,
		Root:     convertNode(root, "", src, &errCount),
	}
	if root.HasError() {
		out.Partial = true
		out.ErrorCount = errCount
		if out.ErrorCount == 0 {
			out.ErrorCount = 1
		}
		return out, &ParseFailure{Language: a.language, ErrorCount: out.ErrorCount}
	}
	return out, nil
}

func convertNode(n *sitter.Node, field string, src []byte, errCount *int) *SyntaxNode {
	sn := &SyntaxNode{
		Kind:      n.Type(),
		Field:     field,
		StartByte: int(n.StartByte()),
		EndByte:   int(n.EndByte()),
		StartRow:  int(n.StartPoint().Row),
		EndRow:    int(n.EndPoint().Row),
		IsError:   n.IsError() || n.IsMissing(),
	}
	if sn.IsError {
		*errCount++
	}

	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		child := n.Child(i)
		if child == nil || !(child.IsNamed() || child.IsError() || child.IsMissing()) {
			continue
		}
		sn.Children = append(sn.Children, convertNode(child, n.FieldNameForChild(i), src, errCount))
	}

	if len(sn.Children) == 0 && sn.EndByte-sn.StartByte <= maxCapturedText {
		sn.Text = sn.Source(src)
	}
	return sn
}

// GrammarRegistry dispatches parsing by language tag.
type GrammarRegistry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	byExt    map[string]string
}

// NewGrammarRegistry returns an empty registry.
func NewGrammarRegistry() *GrammarRegistry {
	return &GrammarRegistry{
		adapters: make(map[string]Adapter),
		byExt:    make(map[string]string),
	}
}

// DefaultGrammarRegistry returns a registry with every built-in language.
func DefaultGrammarRegistry() *GrammarRegistry {
	r := NewGrammarRegistry()
	r.Register(NewGoAdapter())
	r.Register(NewPythonAdapter())
	r.Register(NewJavaScriptAdapter())
	r.Register(NewTypeScriptAdapter())
	r.Register(NewTSXAdapter())
	r.Register(NewRustAdapter())
	r.Register(NewProtobufAdapter())
	return r
}

// Register adds (or replaces) the adapter for its language tag.
func (r *GrammarRegistry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Language()] = a
	for _, ext := range a.Extensions() {
		r.byExt[strings.ToLower(ext)] = a.Language()
	}
}

// Lookup returns the adapter for a language tag.
func (r *GrammarRegistry) Lookup(language string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[language]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}
	return a, nil
}

// Parse parses one file with the grammar registered for language.
func (r *GrammarRegistry) Parse(ctx context.Context, language string, src []byte) (*SyntaxTree, error) {
	a, err := r.Lookup(language)
	if err != nil {
		return nil, err
	}
	return a.Parse(ctx, src)
}

// Languages returns the registered language tags, sorted.
func (r *GrammarRegistry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for lang := range r.adapters {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// LanguageForPath detects the language tag from the file extension, or "".
func (r *GrammarRegistry) LanguageForPath(path string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byExt[strings.ToLower(filepath.Ext(path))]
}
