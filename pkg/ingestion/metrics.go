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
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsIngestion holds Prometheus metrics for parsing and graph building.
type metricsIngestion struct {
	once sync.Once

	filesParsed   prometheus.Counter
	parsePartial  prometheus.Counter
	parseFailures prometheus.Counter

	parseDuration prometheus.Histogram
}

var ingMetrics metricsIngestion

func (m *metricsIngestion) init() {
	m.once.Do(func() {
		m.filesParsed = prometheus.NewCounter(prometheus.CounterOpts{Name: "codevec_ing_files_parsed_total", Help: "Files parsed into the code graph"})
		m.parsePartial = prometheus.NewCounter(prometheus.CounterOpts{Name: "codevec_ing_files_partial_total", Help: "Files parsed with syntax errors (partial trees)"})
		m.parseFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "codevec_ing_files_failed_total", Help: "Files that could not be parsed"})

		buckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
		m.parseDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "codevec_ing_parse_seconds", Help: "Parse and extraction duration per run", Buckets: buckets})

		prometheus.MustRegister(
			m.filesParsed, m.parsePartial, m.parseFailures,
			m.parseDuration,
		)
	})
}
