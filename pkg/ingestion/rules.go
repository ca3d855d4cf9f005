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
	"path"
	"strings"
)

// LanguageRules tells the graph builder how to read one language's syntax
// tree. The builder itself is language-agnostic.
type LanguageRules struct {
	// Definitions maps node kinds to the symbol kind they define. NodeField
	// definitions only count directly inside a type, and NodeFunction
	// definitions inside a type become methods.
	Definitions map[string]NodeKind

	// Define classifies definitions that depend on context (for example
	// `const f = () => {}`). Consulted before Definitions.
	Define func(n *SyntaxNode, src []byte) (NodeKind, bool)

	// Imports, Calls, Comments and Blocks are node-kind sets. Block children
	// mark statement boundaries for the chunker.
	Imports  map[string]bool
	Calls    map[string]bool
	Comments map[string]bool
	Blocks   map[string]bool

	// Name extracts the defined name. Defaults to the "name" field.
	Name func(n *SyntaxNode, src []byte) string

	// Qualifier returns an explicit scope for a definition (a Go method's
	// receiver type). Empty means "use the enclosing scopes".
	Qualifier func(n *SyntaxNode, src []byte) string

	// ImportTokens extracts the raw import strings of an import construct.
	ImportTokens func(n *SyntaxNode, src []byte) []string

	// Callee extracts the simple name of a called function.
	Callee func(n *SyntaxNode, src []byte) string

	// Scope names the type that qualifies definitions nested in n when n
	// is not a definition itself (a Rust impl block). Optional.
	Scope func(n *SyntaxNode, src []byte) string

	// Attributes are node kinds that may sit between a definition and its
	// doc comment (Rust #[derive(...)]).
	Attributes map[string]bool

	// Docstring extracts an in-body doc string (Python). Optional.
	Docstring func(n *SyntaxNode, src []byte) string

	// ImportCandidates lists project-relative paths (files or directories)
	// an import token may refer to, most specific first.
	ImportCandidates func(fromPath, token string) []string

	// PackageImports means a candidate naming a directory imports every
	// same-language file in it (Go packages).
	PackageImports bool
}

func (r *LanguageRules) definition(n *SyntaxNode, src []byte) (NodeKind, bool) {
	if r.Define != nil {
		if kind, ok := r.Define(n, src); ok {
			return kind, true
		}
	}
	kind, ok := r.Definitions[n.Kind]
	return kind, ok
}

func (r *LanguageRules) name(n *SyntaxNode, src []byte) string {
	if r.Name != nil {
		return r.Name(n, src)
	}
	return fieldText(n, "name", src)
}

func (r *LanguageRules) importTokens(n *SyntaxNode, src []byte) []string {
	if r.ImportTokens == nil {
		return nil
	}
	return r.ImportTokens(n, src)
}

func (r *LanguageRules) callee(n *SyntaxNode, src []byte) string {
	if r.Callee == nil {
		return ""
	}
	return r.Callee(n, src)
}

func (r *LanguageRules) candidates(fromPath, token string) []string {
	if r.ImportCandidates == nil {
		return nil
	}
	return r.ImportCandidates(fromPath, token)
}

func kindSet(kinds ...string) map[string]bool {
	m := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		m[k] = true
	}
	return m
}

func fieldText(n *SyntaxNode, field string, src []byte) string {
	return strings.TrimSpace(n.ChildByField(field).Source(src))
}

// unquote strips one layer of string delimiters.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' || first == '\'' || first == '`') && first == last {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// lastIdentifier returns the trailing identifier of a dotted or selector
// expression: "pkg.Foo" -> "Foo", "this.svc.run" -> "run".
func lastIdentifier(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexAny(s, ".:>"); i >= 0 {
		s = s[i+1:]
	}
	if !isIdentifier(s) {
		return ""
	}
	return s
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '$':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		case r > 127:
		default:
			return false
		}
	}
	return true
}

// relativeCandidates probes a relative module specifier with the given
// extensions and index files, as JS/TS module resolution does.
func relativeCandidates(fromPath, spec string, exts []string) []string {
	base := path.Join(path.Dir(normalizePath(fromPath)), spec)
	if strings.HasPrefix(base, "../") || base == ".." {
		return nil
	}
	out := []string{base}
	stem := strings.TrimSuffix(base, path.Ext(base))
	for _, ext := range exts {
		out = append(out, base+ext)
		if stem != base {
			out = append(out, stem+ext)
		}
	}
	for _, ext := range exts {
		out = append(out, path.Join(base, "index"+ext))
	}
	return out
}
