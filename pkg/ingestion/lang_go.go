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
	"strings"

	"github.com/smacker/go-tree-sitter/golang"
)

// NewGoAdapter returns the Go grammar adapter.
func NewGoAdapter() Adapter {
	return newTreeSitterAdapter("go", []string{".go"}, golang.GetLanguage(), goRules())
}

func goRules() *LanguageRules {
	return &LanguageRules{
		Definitions: map[string]NodeKind{
			"function_declaration": NodeFunction,
			"method_declaration":   NodeMethod,
			"type_spec":            NodeType,
			"type_alias":           NodeType,
			"field_declaration":    NodeField,
			"method_spec":          NodeField,
			"method_elem":          NodeField,
		},
		Imports:  kindSet("import_spec"),
		Calls:    kindSet("call_expression"),
		Comments: kindSet("comment"),
		Blocks:   kindSet("source_file", "block", "statement_list", "field_declaration_list", "interface_type", "expression_case", "communication_case", "default_case"),
		Name:     goName,
		Qualifier: func(n *SyntaxNode, src []byte) string {
			if n.Kind != "method_declaration" {
				return ""
			}
			recv := n.ChildByField("receiver")
			if t := recv.FirstOfKind("type_identifier"); t != nil {
				return t.Source(src)
			}
			return ""
		},
		ImportTokens: func(n *SyntaxNode, src []byte) []string {
			p := unquote(fieldText(n, "path", src))
			if p == "" {
				return nil
			}
			return []string{p}
		},
		Callee: func(n *SyntaxNode, src []byte) string {
			fn := n.ChildByField("function")
			if fn == nil {
				return ""
			}
			switch fn.Kind {
			case "identifier":
				return fn.Source(src)
			case "selector_expression":
				return fieldText(fn, "field", src)
			case "generic_type", "index_expression":
				return lastIdentifier(fieldText(fn, "type", src) + fieldText(fn, "operand", src))
			}
			return ""
		},
		ImportCandidates: goImportCandidates,
		PackageImports:   true,
	}
}

func goName(n *SyntaxNode, src []byte) string {
	if name := fieldText(n, "name", src); name != "" {
		return name
	}
	if n.Kind == "field_declaration" {
		// Embedded field: the type is the name.
		return lastIdentifier(strings.TrimPrefix(fieldText(n, "type", src), "*"))
	}
	return ""
}

// goImportCandidates lists every suffix of the import path, longest first.
// A suffix that names a project directory resolves to the files of that
// package: "github.com/acme/svc/internal/auth" matches "internal/auth".
func goImportCandidates(_ string, token string) []string {
	parts := strings.Split(strings.Trim(token, "/"), "/")
	out := make([]string, 0, len(parts))
	for i := range parts {
		out = append(out, strings.Join(parts[i:], "/"))
	}
	return out
}
