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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
)

// GenerateFileID generates a deterministic file node ID from the file path.
// Strategy: use the normalized path as ID (or its hash if the path is too long).
func GenerateFileID(filePath string) string {
	normalized := normalizePath(filePath)

	if len(normalized) <= 256 {
		return fmt.Sprintf("file:%s", normalized)
	}

	hash := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("file:%s", hex.EncodeToString(hash[:16]))
}

// GenerateSymbolID generates a deterministic symbol node ID.
// Strategy: hash(path + symbol_path [+ "#" + ordinal]).
//
// Spans and signatures are NOT part of the key, so editing a function body
// or moving it within the file keeps its identity. The ordinal is only set
// when the same symbol path occurs more than once in one file (Go init
// functions, overloads) and is assigned in source order.
func GenerateSymbolID(filePath, symbolPath string, ordinal int) string {
	key := normalizePath(filePath) + "\x00" + symbolPath
	if ordinal > 0 {
		key = fmt.Sprintf("%s#%d", key, ordinal)
	}
	hash := sha256.Sum256([]byte(key))
	return fmt.Sprintf("sym:%s", hex.EncodeToString(hash[:16]))
}

// GenerateExternalID returns the placeholder node ID for an import that does
// not resolve to a project file. It is keyed by the raw import string.
func GenerateExternalID(rawImport string) string {
	return "ext:" + rawImport
}

// ChunkID returns the ID of the n-th chunk derived from a graph node.
func ChunkID(nodeID string, n int) string {
	return fmt.Sprintf("%s#%d", nodeID, n)
}

// normalizePath normalizes a file path for consistent ID generation.
// Ensures cross-platform consistency by:
//   - Removing leading ./
//   - Normalizing path separators to forward slashes
//   - Cleaning the path (removing redundant separators, etc.)
//   - Removing a leading slash
func normalizePath(path string) string {
	path = strings.TrimPrefix(path, "./")
	path = filepath.Clean(path)
	path = filepath.ToSlash(path)
	path = strings.TrimPrefix(path, "/")
	return path
}

// fqnFromPath turns a project path into a module-style prefix:
// "pkg/auth/service.go" becomes "pkg.auth.service".
func fqnFromPath(path string) string {
	path = normalizePath(path)
	path = strings.TrimSuffix(path, filepath.Ext(path))
	return strings.ReplaceAll(path, "/", ".")
}
