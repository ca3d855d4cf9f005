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

package pipeline

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsPipeline holds Prometheus metrics for pipeline runs.
type metricsPipeline struct {
	once sync.Once

	runs          *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	chunksQueued  prometheus.Counter
	queueWait     prometheus.Histogram
}

var pipeMetrics metricsPipeline

func (m *metricsPipeline) init() {
	m.once.Do(func() {
		m.runs = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "codevec_pipeline_runs_total", Help: "Pipeline runs by source and status"}, []string{"source", "status"})
		m.stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "codevec_pipeline_stage_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300, 900},
		}, []string{"stage"})
		m.chunksQueued = prometheus.NewCounter(prometheus.CounterOpts{Name: "codevec_pipeline_chunks_total", Help: "Chunks passed to the embed stage"})
		m.queueWait = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "codevec_pipeline_embed_batch_fill_seconds",
			Help:    "Time the embed stage waited to fill a batch",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		})

		prometheus.MustRegister(m.runs, m.stageDuration, m.chunksQueued, m.queueWait)
	})
}
