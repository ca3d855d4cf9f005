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

	"github.com/smacker/go-tree-sitter/protobuf"
)

// NewProtobufAdapter returns the Protocol Buffers grammar adapter. Messages,
// enums and services are types; RPCs are their methods. Calls edges record
// type references from RPCs and fields to messages and enums.
func NewProtobufAdapter() Adapter {
	return newTreeSitterAdapter("protobuf", []string{".proto"}, protobuf.GetLanguage(), protobufRules())
}

// protobufNameKinds maps a definition to the child that holds its name.
// Fields carry a bare identifier.
var protobufNameKinds = map[string]string{
	"message":     "message_name",
	"enum":        "enum_name",
	"service":     "service_name",
	"rpc":         "rpc_name",
	"field":       "identifier",
	"map_field":   "identifier",
	"oneof_field": "identifier",
	"enum_field":  "identifier",
}

func protobufRules() *LanguageRules {
	return &LanguageRules{
		Definitions: map[string]NodeKind{
			"message":     NodeType,
			"enum":        NodeType,
			"service":     NodeType,
			"rpc":         NodeFunction,
			"field":       NodeField,
			"map_field":   NodeField,
			"oneof_field": NodeField,
			"enum_field":  NodeField,
		},
		Imports:  kindSet("import"),
		Calls:    kindSet("message_or_enum_type"),
		Comments: kindSet("comment"),
		Blocks:   kindSet("source_file", "message_body", "enum_body", "service", "oneof"),
		Name: func(n *SyntaxNode, src []byte) string {
			want, ok := protobufNameKinds[n.Kind]
			if !ok {
				return ""
			}
			for _, c := range n.Children {
				if c.Kind == want {
					return lastIdentifier(c.Source(src))
				}
			}
			return ""
		},
		ImportTokens: func(n *SyntaxNode, src []byte) []string {
			if p := unquote(fieldText(n, "path", src)); p != "" {
				return []string{p}
			}
			return nil
		},
		Callee: func(n *SyntaxNode, src []byte) string {
			return lastIdentifier(n.Source(src))
		},
		ImportCandidates: protobufImportCandidates,
	}
}

// protobufImportCandidates tries the import path against the importing
// file's directory and each of its ancestors, the way protoc include roots
// usually sit somewhere above the importing file.
func protobufImportCandidates(fromPath, token string) []string {
	var out []string
	dir := path.Dir(normalizePath(fromPath))
	for {
		out = append(out, path.Join(dir, token))
		if dir == "." || dir == "/" {
			return out
		}
		dir = path.Dir(dir)
	}
}
