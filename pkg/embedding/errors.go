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

package embedding

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrBackendUnavailable means the embedding backend could not be reached
// after all retries.
var ErrBackendUnavailable = errors.New("embedding backend unavailable")

// DimensionMismatchError is returned when the backend produces a vector
// whose length differs from the configured dimension. It is never retried.
type DimensionMismatchError struct {
	Index int
	Got   int
	Want  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch at item %d: backend returned %d, configured %d", e.Index, e.Got, e.Want)
}

// BackendError is a per-item failure reported by the backend.
type BackendError struct {
	Index     int
	Attempts  int
	Retryable bool
	Err       error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("embed item %d failed after %d attempt(s): %v", e.Index, e.Attempts, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// StatusError is a non-200 HTTP response from a provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// classifyError reports whether err is worth retrying and whether it means
// the backend is unreachable.
func classifyError(err error) (retryable, unavailable bool) {
	if err == nil {
		return false, false
	}
	if errors.Is(err, context.Canceled) {
		return false, false
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == 503:
			return true, true
		case se.StatusCode == 429 || se.StatusCode >= 500:
			return true, false
		}
		return false, false
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true, false
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return true, true
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return true, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true, false
	}

	// Best-effort classification for wrapped provider errors.
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "no such host", "connection reset"} {
		if strings.Contains(msg, s) {
			return true, true
		}
	}
	for _, s := range []string{"timeout", "temporarily unavailable", "eof"} {
		if strings.Contains(msg, s) {
			return true, false
		}
	}
	return false, false
}
