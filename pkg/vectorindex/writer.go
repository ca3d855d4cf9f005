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

package vectorindex

import (
	"context"
	"fmt"
)

// Writer buffers points into batches targeting a point count while staying
// under a byte budget, and hands each full batch to the Manager. A Writer
// is not safe for concurrent use.
type Writer struct {
	mgr          *Manager
	targetPoints int
	maxBytes     int

	pending      []Point
	pendingBytes int
	flushed      int
}

// NewWriter creates a writer. targetPoints defaults to the manager's batch
// size; maxBytes bounds the estimated encoded size of one batch.
func NewWriter(mgr *Manager, targetPoints, maxBytes int) *Writer {
	if targetPoints <= 0 {
		targetPoints = mgr.BatchSize()
	}
	return &Writer{mgr: mgr, targetPoints: targetPoints, maxBytes: maxBytes}
}

// Add queues p, flushing first when adding it would exceed either limit.
func (w *Writer) Add(ctx context.Context, p Point) error {
	size := estimatePointSize(p)
	if w.maxBytes > 0 && size > w.maxBytes {
		return fmt.Errorf("point %s exceeds max batch size: %d bytes (limit: %d)", p.ID, size, w.maxBytes)
	}

	wouldExceedSize := w.maxBytes > 0 && w.pendingBytes+size > w.maxBytes
	wouldExceedTarget := len(w.pending) >= w.targetPoints
	if len(w.pending) > 0 && (wouldExceedSize || wouldExceedTarget) {
		if err := w.Flush(ctx); err != nil {
			return err
		}
	}

	w.pending = append(w.pending, p)
	w.pendingBytes += size
	return nil
}

// Flush writes any buffered points.
func (w *Writer) Flush(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}
	if err := w.mgr.UpsertBatch(ctx, w.pending); err != nil {
		return err
	}
	w.flushed += len(w.pending)
	w.pending = nil
	w.pendingBytes = 0
	return nil
}

// Written returns the number of points flushed by this writer.
func (w *Writer) Written() int { return w.flushed }

// Pending returns the number of buffered points.
func (w *Writer) Pending() int { return len(w.pending) }

// estimatePointSize approximates the JSON-encoded size of p: about twelve
// bytes per float plus payload strings and key overhead.
func estimatePointSize(p Point) int {
	size := len(p.ID) + 64 + len(p.Vector)*12
	for k, v := range p.Payload {
		size += len(k) + 8
		switch x := v.(type) {
		case string:
			size += len(x)
		case []any:
			for _, e := range x {
				if s, ok := e.(string); ok {
					size += len(s) + 3
				}
			}
		case []string:
			for _, s := range x {
				size += len(s) + 3
			}
		default:
			size += 16
		}
	}
	return size
}
