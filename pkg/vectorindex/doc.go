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

// Package vectorindex owns the lifecycle of one vector collection.
//
// Every indexing run is a full replacement: Manager.Rebuild drops the
// collection and creates it fresh with the run's dimension and metric, and
// UpsertBatch then writes bounded batches of points. There is no delete by
// id; a run that fails partway leaves a partially written collection and
// the next successful rebuild is the recovery path.
//
// Three Store implementations are provided:
//
//   - QdrantStore talks to a Qdrant server over its REST API. Point ids are
//     UUIDv5 of the chunk id, and the chunk id is kept in the payload.
//   - BoltStore keeps collections in a local bbolt file and scores by brute
//     force. It suits single-user checkouts without a server.
//   - MemoryStore is for tests.
//
// Writer batches points by count and estimated encoded size before handing
// them to the Manager.
package vectorindex
