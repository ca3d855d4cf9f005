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

package retrieval

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type metricsRetrieval struct {
	once sync.Once

	memoHits   prometheus.Counter
	memoMisses prometheus.Counter
	duration   prometheus.Histogram
}

var retMetrics metricsRetrieval

func (m *metricsRetrieval) init() {
	m.once.Do(func() {
		m.memoHits = prometheus.NewCounter(prometheus.CounterOpts{Name: "codevec_retrieval_memo_hits_total", Help: "Queries answered from the memo"})
		m.memoMisses = prometheus.NewCounter(prometheus.CounterOpts{Name: "codevec_retrieval_memo_misses_total", Help: "Queries not found in the memo"})
		m.duration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "codevec_retrieval_search_seconds",
			Help:    "Index search and post-processing duration",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		})
		prometheus.MustRegister(m.memoHits, m.memoMisses, m.duration)
	})
}
