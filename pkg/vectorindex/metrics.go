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
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type metricsVectorIndex struct {
	once sync.Once

	rebuilds       prometheus.Counter
	pointsWritten  prometheus.Counter
	upsertFailures prometheus.Counter
	retries        prometheus.Counter
	upsertDuration prometheus.Histogram
}

var vecMetrics metricsVectorIndex

func (m *metricsVectorIndex) init() {
	m.once.Do(func() {
		m.rebuilds = prometheus.NewCounter(prometheus.CounterOpts{Name: "codevec_index_rebuilds_total", Help: "Collection rebuilds"})
		m.pointsWritten = prometheus.NewCounter(prometheus.CounterOpts{Name: "codevec_index_points_written_total", Help: "Points upserted"})
		m.upsertFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "codevec_index_upsert_failures_total", Help: "Upsert batches that failed after retries"})
		m.retries = prometheus.NewCounter(prometheus.CounterOpts{Name: "codevec_index_retries_total", Help: "Store operation retries"})
		m.upsertDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "codevec_index_upsert_seconds",
			Help:    "Duration of one upsert batch, retries included",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		})
		prometheus.MustRegister(m.rebuilds, m.pointsWritten, m.upsertFailures, m.retries, m.upsertDuration)
	})
}
