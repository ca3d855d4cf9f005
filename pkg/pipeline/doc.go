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

// Package pipeline wires the ingestion, embedding and vector index packages
// into one indexing run.
//
// A run loads the repository, builds the code graph, exports the graph
// artifacts, rebuilds the collection, and then streams chunks through three
// concurrent stages:
//
//	chunker --(bounded chan)--> embed batches --(bounded chan)--> upsert writer
//
// The stages share one errgroup; the first error cancels the rest and the
// run fails with a *StageError naming the stage. Before the collection is
// dropped, one probe text is embedded so a backend with the wrong vector
// length aborts the run without touching the previous generation.
//
// Every run writes summary.json into its run directory, including failed
// runs. TryLock guards against two processes indexing the same project.
package pipeline
