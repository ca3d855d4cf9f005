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

// Package testing provides test helpers for codevec packages.
//
// # Quick Start
//
// SetupTestIndex gives a rebuilt, in-memory collection and
// SetupMockCoordinator a deterministic embedder:
//
//	func TestMyFeature(t *testing.T) {
//	    mgr := cvtest.SetupTestIndex(t, "proj_code", 16, vectorindex.MetricCosine)
//	    coord := cvtest.SetupMockCoordinator(t, 16)
//	    cvtest.InsertTestChunk(t, mgr, coord, chunk)
//
//	    ids := cvtest.QueryChunkIDs(t, mgr, vec, 5)
//	    require.Equal(t, chunk.ID, ids[0])
//	}
//
// # Fixtures
//
//   - WriteRepo / WriteFile: lay out a temporary repository
//   - ReadJSONL: decode run artifacts such as chunks.jsonl
//   - FastRetry: a retry policy that does not slow tests down
//
// The package is named testing to sit next to the code it serves; import
// it under an alias such as cvtest.
package testing
