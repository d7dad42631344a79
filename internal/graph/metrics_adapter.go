// SPDX-License-Identifier: AGPL-3.0-or-later
package graph

import "github.com/speechgraph/sgraph/internal/metrics"

// metricsObserver adapts *metrics.Metrics to queueObserver so Queue only
// sees the queueObserver interface; a queue observed with a nil
// *metrics.Metrics (as in tests) has no observer at all.
type metricsObserver struct {
	m *metrics.Metrics
}

func newMetricsObserver(m *metrics.Metrics) queueObserver {
	if m == nil {
		return nil
	}
	return metricsObserver{m: m}
}

func (o metricsObserver) onPut(stage string) { o.m.QueuePuts.WithLabelValues(stage).Inc() }
func (o metricsObserver) onGet(stage string) { o.m.QueueGets.WithLabelValues(stage).Inc() }
func (o metricsObserver) onDepth(stage string, depth int) {
	o.m.QueueDepth.WithLabelValues(stage).Set(float64(depth))
}
func (o metricsObserver) onStateChange(stage string, s State) {
	o.m.QueueStateTransitions.WithLabelValues(stage, s.String()).Inc()
}

// Observe wires m as q's metrics sink. Called once at stage-construction
// time by NewStage and the joint constructors (NewMapper, NewSplitter,
// NewCombiner); nil-safe so callers can pass a nil *Metrics in
// tests.
func (q *Queue) Observe(m *metrics.Metrics) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.observer = newMetricsObserver(m)
}
