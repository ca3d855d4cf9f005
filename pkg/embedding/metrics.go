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
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type metricsEmbedding struct {
	once sync.Once

	computed   prometheus.Counter
	retries    prometheus.Counter
	failures   prometheus.Counter
	mismatches prometheus.Counter
	duration   prometheus.Histogram
}

var embMetrics metricsEmbedding

func (m *metricsEmbedding) init() {
	m.once.Do(func() {
		m.computed = prometheus.NewCounter(prometheus.CounterOpts{Name: "codevec_embed_computed_total", Help: "Embeddings computed"})
		m.retries = prometheus.NewCounter(prometheus.CounterOpts{Name: "codevec_embed_retries_total", Help: "Embedding request retries"})
		m.failures = prometheus.NewCounter(prometheus.CounterOpts{Name: "codevec_embed_failures_total", Help: "Embedding items that failed after retries"})
		m.mismatches = prometheus.NewCounter(prometheus.CounterOpts{Name: "codevec_embed_dimension_mismatch_total", Help: "Vectors rejected for a wrong dimension"})
		m.duration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "codevec_embed_batch_seconds",
			Help:    "EmbedBatch duration",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		})
		prometheus.MustRegister(m.computed, m.retries, m.failures, m.mismatches, m.duration)
	})
}

func recordEmbedRetry() { embMetrics.init(); embMetrics.retries.Inc() }
