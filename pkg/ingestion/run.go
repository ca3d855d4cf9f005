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
	"time"
)

// runDirLayout is the timestamp layout of per-run output directories. It has
// millisecond precision so back-to-back runs get distinct directories and
// sort lexically by start time.
const runDirLayout = "20060102T150405.000Z"

// RunContext identifies one indexing run. It is passed explicitly to every
// stage so several projects can be indexed concurrently in one process.
type RunContext struct {
	Project   string
	RunID     string
	StartedAt time.Time
	// Dir is the run's output directory; empty disables artifact export.
	Dir string
}

// NewRunContext creates a run context for project, rooted at outRoot.
// The run directory is <outRoot>/<project>/<UTC timestamp>.
func NewRunContext(project, outRoot string, now time.Time) RunContext {
	now = now.UTC()
	rc := RunContext{
		Project:   project,
		RunID:     generateRunID(project, now),
		StartedAt: now,
	}
	if outRoot != "" {
		rc.Dir = filepath.Join(outRoot, project, now.Format(runDirLayout))
	}
	return rc
}

// generateRunID creates a unique run ID.
func generateRunID(project string, now time.Time) string {
	data := fmt.Sprintf("run-%s-%d", project, now.UnixNano())
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:16])
}
