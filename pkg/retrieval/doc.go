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

// Package retrieval answers similarity queries against an indexed
// collection.
//
// Engine.Search post-processes the raw hits: results are ordered by
// descending score, anything below the minimum score is dropped, and an
// optional per-file cap keeps one large file from crowding out the rest
// while preserving the global order. When a cap is set the engine
// over-fetches candidates so the cap can still fill top_k.
//
// A bounded LRU memo keyed by the exact query vector, or by the query text
// for SearchText, avoids re-querying the database for repeated questions.
package retrieval
