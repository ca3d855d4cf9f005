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
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// GlobSet matches project-relative paths against exclusion patterns.
//
// Patterns use doublestar syntax (*, **, ?, [a-z], {a,b}). A pattern that
// does not start with "/" or "**/" floats: it may match at any depth, so
// "*.pb.go" excludes "api/v1/user.pb.go" and "gen/**" excludes
// "services/gen/client.go". A leading "/" anchors the pattern at the root.
type GlobSet struct {
	patterns []string
}

// NewGlobSet validates and compiles the patterns. A malformed pattern is a
// configuration error.
func NewGlobSet(patterns []string) (*GlobSet, error) {
	gs := &GlobSet{}
	for _, raw := range patterns {
		p := filepath.ToSlash(strings.TrimSpace(raw))
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("malformed glob pattern %q", raw)
		}
		switch {
		case strings.HasPrefix(p, "/"):
			gs.patterns = append(gs.patterns, strings.TrimPrefix(p, "/"))
		case strings.HasPrefix(p, "**/"):
			gs.patterns = append(gs.patterns, p)
		default:
			gs.patterns = append(gs.patterns, p, "**/"+p)
		}
	}
	return gs, nil
}

// Match reports whether the path matches any pattern.
func (gs *GlobSet) Match(path string) bool {
	if gs == nil {
		return false
	}
	path = normalizePath(path)
	for _, p := range gs.patterns {
		if ok, _ := doublestar.Match(p, path); ok {
			return true
		}
	}
	return false
}

// Len returns the number of compiled patterns.
func (gs *GlobSet) Len() int {
	if gs == nil {
		return 0
	}
	return len(gs.patterns)
}
