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

	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

var (
	jsExtensions = []string{".js", ".jsx", ".mjs", ".cjs"}
	tsExtensions = []string{".ts", ".tsx", ".d.ts", ".js", ".jsx", ".mjs"}
)

// NewJavaScriptAdapter returns the JavaScript grammar adapter.
func NewJavaScriptAdapter() Adapter {
	return newTreeSitterAdapter("javascript", jsExtensions, javascript.GetLanguage(), ecmaRules(jsExtensions))
}

// NewTypeScriptAdapter returns the TypeScript grammar adapter.
func NewTypeScriptAdapter() Adapter {
	return newTreeSitterAdapter("typescript", []string{".ts", ".mts", ".cts"}, typescript.GetLanguage(), ecmaRules(tsExtensions))
}

// NewTSXAdapter returns the TSX grammar adapter.
func NewTSXAdapter() Adapter {
	return newTreeSitterAdapter("tsx", []string{".tsx"}, tsx.GetLanguage(), ecmaRules(tsExtensions))
}

// ecmaRules covers JavaScript, TypeScript and TSX; the TS-only node kinds
// simply never occur in JavaScript trees.
func ecmaRules(resolveExts []string) *LanguageRules {
	return &LanguageRules{
		Definitions: map[string]NodeKind{
			"function_declaration":           NodeFunction,
			"generator_function_declaration": NodeFunction,
			"class_declaration":              NodeType,
			"abstract_class_declaration":     NodeType,
			"interface_declaration":          NodeType,
			"type_alias_declaration":         NodeType,
			"enum_declaration":               NodeType,
			"method_definition":              NodeMethod,
			"method_signature":               NodeMethod,
			"abstract_method_signature":      NodeMethod,
			"public_field_definition":        NodeField,
			"field_definition":               NodeField,
			"property_signature":             NodeField,
		},
		Define: func(n *SyntaxNode, _ []byte) (NodeKind, bool) {
			if n.Kind != "variable_declarator" {
				return "", false
			}
			value := n.ChildByField("value")
			if value == nil {
				return "", false
			}
			switch value.Kind {
			case "arrow_function", "function_expression", "function", "generator_function":
				return NodeFunction, true
			case "class":
				return NodeType, true
			}
			return "", false
		},
		Imports:  kindSet("import_statement", "export_statement"),
		Calls:    kindSet("call_expression", "new_expression"),
		Comments: kindSet("comment"),
		Blocks:   kindSet("program", "statement_block", "class_body", "interface_body", "object_type", "enum_body", "switch_body"),
		Name: func(n *SyntaxNode, src []byte) string {
			if name := fieldText(n, "name", src); name != "" {
				return unquote(name)
			}
			return fieldText(n, "property", src)
		},
		ImportTokens: func(n *SyntaxNode, src []byte) []string {
			source := unquote(fieldText(n, "source", src))
			if source == "" {
				return nil
			}
			return []string{source}
		},
		Callee: func(n *SyntaxNode, src []byte) string {
			fn := n.ChildByField("function")
			if fn == nil {
				fn = n.ChildByField("constructor")
			}
			if fn == nil {
				return ""
			}
			switch fn.Kind {
			case "identifier":
				return fn.Source(src)
			case "member_expression":
				return fieldText(fn, "property", src)
			}
			return ""
		},
		ImportCandidates: func(fromPath, token string) []string {
			if !strings.HasPrefix(token, "./") && !strings.HasPrefix(token, "../") {
				return nil
			}
			return relativeCandidates(fromPath, token, resolveExts)
		},
	}
}
