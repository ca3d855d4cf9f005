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

	"github.com/smacker/go-tree-sitter/python"
)

// NewPythonAdapter returns the Python grammar adapter.
func NewPythonAdapter() Adapter {
	return newTreeSitterAdapter("python", []string{".py", ".pyi"}, python.GetLanguage(), pythonRules())
}

func pythonRules() *LanguageRules {
	return &LanguageRules{
		Definitions: map[string]NodeKind{
			"function_definition": NodeFunction,
			"class_definition":    NodeType,
			"assignment":          NodeField,
		},
		Imports:  kindSet("import_statement", "import_from_statement"),
		Calls:    kindSet("call"),
		Comments: kindSet("comment"),
		Blocks:   kindSet("module", "block"),
		Name: func(n *SyntaxNode, src []byte) string {
			if n.Kind == "assignment" {
				left := n.ChildByField("left")
				if left == nil || left.Kind != "identifier" {
					return ""
				}
				return left.Source(src)
			}
			return fieldText(n, "name", src)
		},
		ImportTokens: pythonImportTokens,
		Callee: func(n *SyntaxNode, src []byte) string {
			fn := n.ChildByField("function")
			if fn == nil {
				return ""
			}
			switch fn.Kind {
			case "identifier":
				return fn.Source(src)
			case "attribute":
				return fieldText(fn, "attribute", src)
			}
			return ""
		},
		Docstring: func(n *SyntaxNode, src []byte) string {
			body := n.ChildByField("body")
			if body == nil || len(body.Children) == 0 {
				return ""
			}
			first := body.Children[0]
			if first.Kind != "expression_statement" || len(first.Children) == 0 || first.Children[0].Kind != "string" {
				return ""
			}
			return stripPythonString(first.Children[0].Source(src))
		},
		ImportCandidates: pythonImportCandidates,
	}
}

func stripPythonString(s string) string {
	s = strings.TrimLeft(s, "rbuRBUfF")
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if len(s) >= 2*len(q) && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
			return s[len(q) : len(s)-len(q)]
		}
	}
	return s
}

func pythonImportTokens(n *SyntaxNode, src []byte) []string {
	var out []string
	switch n.Kind {
	case "import_statement":
		for _, c := range n.ChildrenByField("name") {
			out = append(out, pythonModuleName(c, src))
		}
	case "import_from_statement":
		module := strings.TrimSpace(n.ChildByField("module_name").Source(src))
		if module == "" {
			return nil
		}
		if strings.Trim(module, ".") != "" {
			return []string{module}
		}
		// "from . import b" imports sibling modules by name.
		for _, c := range n.ChildrenByField("name") {
			if name := pythonModuleName(c, src); name != "" {
				out = append(out, module+name)
			}
		}
	}
	return out
}

func pythonModuleName(n *SyntaxNode, src []byte) string {
	if n.Kind == "aliased_import" {
		return fieldText(n, "name", src)
	}
	return strings.TrimSpace(n.Source(src))
}

// pythonImportCandidates maps a dotted module to file paths. Leading dots
// are relative to the importing file's package; absolute modules are tried
// from the project root and then from the importing file's directory.
func pythonImportCandidates(fromPath, token string) []string {
	dots := len(token) - len(strings.TrimLeft(token, "."))
	rel := strings.ReplaceAll(token[dots:], ".", "/")
	dir := path.Dir(normalizePath(fromPath))

	var bases []string
	if dots > 0 {
		base := dir
		for i := 1; i < dots; i++ {
			base = path.Dir(base)
		}
		bases = []string{base}
	} else {
		bases = []string{".", dir}
	}

	var out []string
	for _, base := range bases {
		p := path.Join(base, rel)
		if rel == "" {
			out = append(out, path.Join(p, "__init__.py"))
			continue
		}
		out = append(out, p+".py", path.Join(p, "__init__.py"))
	}
	return out
}
