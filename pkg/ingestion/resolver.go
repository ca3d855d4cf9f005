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
)

// importResolver maps raw import tokens to project files. It indexes every
// file handed to the builder, excluded ones included, so imports of
// generated files still produce edges to their (absent) file nodes.
type importResolver struct {
	// files: normalized path -> language
	files map[string]string
	// dirs: directory -> files directly inside it, sorted
	dirs map[string][]string
}

func newImportResolver(sorted []SourceFile) *importResolver {
	r := &importResolver{
		files: make(map[string]string, len(sorted)),
		dirs:  make(map[string][]string),
	}
	for _, f := range sorted {
		r.files[f.Path] = f.Language
		dir := path.Dir(f.Path)
		r.dirs[dir] = append(r.dirs[dir], f.Path)
	}
	return r
}

// resolve returns the target node IDs for an import, or nil when the token
// does not name a project file or package directory. Candidates are tried
// in order and the first hit wins.
func (r *importResolver) resolve(rules *LanguageRules, from SourceFile, token string) []string {
	if rules == nil {
		return nil
	}
	for _, cand := range rules.candidates(from.Path, token) {
		cand = normalizePath(cand)
		if cand == from.Path {
			continue
		}
		if _, ok := r.files[cand]; ok {
			return []string{GenerateFileID(cand)}
		}
		if !rules.PackageImports {
			continue
		}
		var out []string
		for _, p := range r.dirs[cand] {
			if p != from.Path && r.files[p] == from.Language {
				out = append(out, GenerateFileID(p))
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// symbolIndex resolves call names to symbol IDs. Resolution is by simple
// name only: a unique definition in the calling file wins, otherwise a
// unique definition anywhere in the project. Anything ambiguous resolves
// to nothing rather than a guess.
type symbolIndex struct {
	perFile map[string]map[string][]string
	global  map[string][]string
}

func newSymbolIndex() *symbolIndex {
	return &symbolIndex{
		perFile: make(map[string]map[string][]string),
		global:  make(map[string][]string),
	}
}

func (s *symbolIndex) add(fileID string, sym *GraphNode) {
	switch sym.Kind {
	case NodeFunction, NodeMethod, NodeType:
	default:
		return
	}
	byName, ok := s.perFile[fileID]
	if !ok {
		byName = make(map[string][]string)
		s.perFile[fileID] = byName
	}
	byName[sym.Name] = append(byName[sym.Name], sym.ID)
	s.global[sym.Name] = append(s.global[sym.Name], sym.ID)
}

func (s *symbolIndex) resolve(fileID, name string) (string, bool) {
	if local := s.perFile[fileID][name]; len(local) > 0 {
		if len(local) == 1 {
			return local[0], true
		}
		return "", false
	}
	if global := s.global[name]; len(global) == 1 {
		return global[0], true
	}
	return "", false
}
