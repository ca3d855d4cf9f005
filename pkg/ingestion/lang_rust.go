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

	"github.com/smacker/go-tree-sitter/rust"
)

// NewRustAdapter returns the Rust grammar adapter.
func NewRustAdapter() Adapter {
	return newTreeSitterAdapter("rust", []string{".rs"}, rust.GetLanguage(), rustRules())
}

func rustRules() *LanguageRules {
	return &LanguageRules{
		Definitions: map[string]NodeKind{
			"function_item":           NodeFunction,
			"function_signature_item": NodeFunction,
			"macro_definition":        NodeFunction,
			"struct_item":             NodeType,
			"enum_item":               NodeType,
			"union_item":              NodeType,
			"trait_item":              NodeType,
			"type_item":               NodeType,
			"field_declaration":       NodeField,
			"enum_variant":            NodeField,
			"const_item":              NodeField,
		},
		Imports:    kindSet("use_declaration", "mod_item"),
		Calls:      kindSet("call_expression"),
		Comments:   kindSet("line_comment", "block_comment"),
		Attributes: kindSet("attribute_item"),
		Blocks:     kindSet("source_file", "block", "declaration_list", "field_declaration_list", "enum_variant_list", "match_block"),
		Scope: func(n *SyntaxNode, src []byte) string {
			if n.Kind != "impl_item" {
				return ""
			}
			if t := n.ChildByField("type").FirstOfKind("type_identifier"); t != nil {
				return t.Source(src)
			}
			return ""
		},
		ImportTokens: func(n *SyntaxNode, src []byte) []string {
			if n.Kind == "mod_item" {
				// "mod foo;" loads foo.rs or foo/mod.rs next to the module.
				if n.ChildByField("body") != nil {
					return nil
				}
				if name := fieldText(n, "name", src); name != "" {
					return []string{"self::" + name}
				}
				return nil
			}
			return expandRustUse("", fieldText(n, "argument", src))
		},
		Callee: func(n *SyntaxNode, src []byte) string {
			return rustCallee(n.ChildByField("function"), src)
		},
		ImportCandidates: rustImportCandidates,
	}
}

func rustCallee(fn *SyntaxNode, src []byte) string {
	if fn == nil {
		return ""
	}
	switch fn.Kind {
	case "identifier":
		return fn.Source(src)
	case "scoped_identifier":
		return fieldText(fn, "name", src)
	case "field_expression":
		return fieldText(fn, "field", src)
	case "generic_function":
		return rustCallee(fn.ChildByField("function"), src)
	}
	return ""
}

// expandRustUse flattens a use tree into full paths:
// "a::{b, c::{d, e as f}, self}" -> a::b, a::c::d, a::c::e, a.
func expandRustUse(prefix, tree string) []string {
	var out []string
	for _, item := range splitTopLevel(tree) {
		item = strings.TrimSpace(item)
		if open := strings.IndexByte(item, '{'); open >= 0 && strings.HasSuffix(item, "}") {
			head := strings.Join(strings.Fields(item[:open]), "")
			out = append(out, expandRustUse(prefix+head, item[open+1:len(item)-1])...)
			continue
		}
		if i := strings.Index(item, " as "); i >= 0 {
			item = item[:i]
		}
		item = strings.TrimSuffix(strings.Join(strings.Fields(item), ""), "::*")
		switch item {
		case "":
		case "self", "*":
			if p := strings.TrimSuffix(prefix, "::"); p != "" {
				out = append(out, p)
			}
		default:
			out = append(out, prefix+item)
		}
	}
	return out
}

// splitTopLevel splits on commas outside braces.
func splitTopLevel(s string) []string {
	var out []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '{':
			depth++
		case '}':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}

// rustImportCandidates maps a use path to module files. "crate::" starts
// at the crate's src directory, "self::" and "super::" at the importing
// module; bare paths are tried from the importing module and then the
// crate root. The longest module prefix is tried first since a path may
// end in an item rather than a module.
func rustImportCandidates(fromPath, token string) []string {
	from := normalizePath(fromPath)
	segs := strings.Split(token, "::")
	modDir := rustModuleDir(from)

	var bases []string
	switch segs[0] {
	case "crate":
		bases, segs = []string{rustCrateRoot(from)}, segs[1:]
	case "self":
		bases, segs = []string{modDir}, segs[1:]
	case "super":
		base := modDir
		for len(segs) > 0 && segs[0] == "super" {
			base = path.Dir(base)
			segs = segs[1:]
		}
		bases = []string{base}
	default:
		bases = []string{modDir}
		if root := rustCrateRoot(from); root != modDir {
			bases = append(bases, root)
		}
	}

	var out []string
	for _, base := range bases {
		if base == ".." || strings.HasPrefix(base, "../") {
			continue
		}
		if len(segs) == 0 {
			// The module itself: "use super::*".
			out = append(out, base+".rs", path.Join(base, "mod.rs"), path.Join(base, "lib.rs"), path.Join(base, "main.rs"))
			continue
		}
		for i := len(segs); i >= 1; i-- {
			p := path.Join(append([]string{base}, segs[:i]...)...)
			out = append(out, p+".rs", path.Join(p, "mod.rs"))
		}
	}
	return out
}

// rustModuleDir is the directory holding a module's child modules:
// src/lib.rs -> src, src/net.rs -> src/net, src/net/mod.rs -> src/net.
func rustModuleDir(file string) string {
	dir := path.Dir(file)
	switch stem := strings.TrimSuffix(path.Base(file), ".rs"); stem {
	case "mod", "lib", "main":
		return dir
	default:
		return path.Join(dir, stem)
	}
}

// rustCrateRoot is the nearest enclosing src directory, or the file's
// directory when there is none.
func rustCrateRoot(file string) string {
	for dir := path.Dir(file); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if path.Base(dir) == "src" {
			return dir
		}
	}
	return path.Dir(file)
}
