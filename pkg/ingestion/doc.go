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

// Package ingestion turns source files into a code graph and bounded chunks.
//
// The package covers the CPU-bound half of the codevec indexing pipeline.
// Embedding and vector storage live in pkg/embedding and pkg/vectorindex.
//
// # Stages
//
//  1. Loading: RepoLoader walks a local checkout, honoring .gitignore,
//     ignored directories and a per-file size limit.
//  2. Parsing: a GrammarRegistry dispatches each file to the Tree-sitter
//     Adapter registered for its language and returns a SyntaxTree.
//  3. Graph building: GraphBuilder drops generated files (doublestar globs),
//     creates file and symbol nodes, and links them with contains, imports
//     and calls edges.
//  4. Chunking: Chunker cuts every symbol (and each file's residual
//     top-level code) into CodeChunks between MinChars and MaxChars.
//  5. Export: ArtifactWriter writes GraphML, JSONL streams and the run
//     summary into the run directory.
//
// # Supported Languages
//
//   - Go (.go)
//   - Python (.py, .pyi)
//   - TypeScript (.ts, .mts, .cts) and TSX (.tsx)
//   - JavaScript (.js, .jsx, .mjs, .cjs)
//   - Rust (.rs)
//   - Protocol Buffers (.proto)
//
// Adding a language means registering one Adapter with its LanguageRules;
// the graph builder and the chunker are language-agnostic.
//
// # Identity
//
// File nodes are keyed by their normalized project path, symbol nodes by a
// hash of path and symbol path, so re-running on unchanged files yields the
// same node and edge sets. Chunks of a split symbol are "<node-id>#<n>".
//
// # Call Resolution
//
// Calls are resolved by simple name only: a unique definition in the same
// file, otherwise a unique definition in the project. Ambiguous names
// produce no edge. This trades recall for never linking the wrong symbol.
package ingestion
