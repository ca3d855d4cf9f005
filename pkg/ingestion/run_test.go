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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

func TestNewRunContext(t *testing.T) {
	rc := NewRunContext("shop", "/tmp/out", fixedNow)
	assert.Equal(t, "shop", rc.Project)
	assert.Equal(t, fixedNow, rc.StartedAt)
	assert.Equal(t, filepath.Join("/tmp/out", "shop", "20260314T092653.589Z"), rc.Dir)
	assert.Len(t, rc.RunID, 32)
}

func TestNewRunContext_NoOutputRoot(t *testing.T) {
	rc := NewRunContext("shop", "", fixedNow)
	assert.Empty(t, rc.Dir)
}

func TestNewRunContext_DistinctRuns(t *testing.T) {
	a := NewRunContext("shop", "/out", fixedNow)
	b := NewRunContext("shop", "/out", fixedNow.Add(time.Millisecond))
	c := NewRunContext("other", "/out", fixedNow)

	assert.NotEqual(t, a.RunID, b.RunID)
	assert.NotEqual(t, a.Dir, b.Dir, "runs a millisecond apart get separate directories")
	assert.NotEqual(t, a.RunID, c.RunID)
}

func TestNewRunContext_ConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	rc := NewRunContext("shop", "/out", fixedNow.In(loc))
	assert.Equal(t, time.UTC, rc.StartedAt.Location())
	assert.Equal(t, filepath.Join("/out", "shop", "20260314T092653.589Z"), rc.Dir)
}
