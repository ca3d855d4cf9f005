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

// Package retry holds the backoff policy shared by the embedding and index
// write paths.
package retry

import (
	"sync"
	"time"
)

// Config controls retries of transient backend failures.
type Config struct {
	// MaxAttempts is the total number of attempts per item, first one included.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// Default returns the default retry policy.
func Default() Config {
	return Config{MaxAttempts: 3, InitialBackoff: 200 * time.Millisecond, MaxBackoff: 2 * time.Second, Multiplier: 2.0}
}

// Sanitize fills zero values so a bad config cannot cause busy loops.
func (c Config) Sanitize() Config {
	def := Default()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.Multiplier <= 1.0 {
		c.Multiplier = def.Multiplier
	}
	return c
}

// Backoff returns the sleep before retry number attempt (0-based).
func (c Config) Backoff(attempt int) time.Duration {
	return ComputeBackoffWithJitter(c.InitialBackoff, attempt, c.Multiplier, c.MaxBackoff)
}

// ComputeBackoffWithJitter returns exponential backoff with full jitter:
// a uniform duration in [0, min(base*mult^attempt, cap)].
func ComputeBackoffWithJitter(base time.Duration, attempt int, mult float64, capDur time.Duration) time.Duration {
	exp := float64(base)
	for i := 0; i < attempt; i++ {
		exp *= mult
	}
	d := time.Duration(exp)
	if d > capDur {
		d = capDur
	}
	if d <= 0 {
		return base
	}
	return time.Duration(randInt63n(int64(d) + 1))
}

var (
	randMu   sync.Mutex
	randSeed int64
)

// randInt63n returns [0,n) from a small LCG; jitter needs no crypto quality.
func randInt63n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	randMu.Lock()
	defer randMu.Unlock()
	const a = 6364136223846793005
	const c = 1
	const m = 1<<63 - 1
	if randSeed == 0 {
		randSeed = time.Now().UnixNano() & m
	}
	randSeed = (a*randSeed + c) & m
	if randSeed < 0 {
		randSeed = -randSeed
	}
	return randSeed % n
}
