// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics exposes prometheus gauges/counters/histograms for the
// graph runtime: queue depth, stage iteration counts, and decoder
// round-trip latency. This is the programmatic sibling of C13's
// human-readable dynamic_run debug driver (internal/graph.DynamicRun) —
// metrics are safe to leave enabled in production, dynamic_run is not.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector the graph runtime touches.
type Metrics struct {
	QueueDepth          *prometheus.GaugeVec
	QueuePuts           *prometheus.CounterVec
	QueueGets           *prometheus.CounterVec
	QueueStateTransitions *prometheus.CounterVec

	StageIterations *prometheus.CounterVec
	StageErrors     *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec

	DecoderRoundTrip prometheus.Histogram
	DecoderPartials  prometheus.Counter
	DecoderFinals    prometheus.Counter

	TransportRetries prometheus.Counter
	TransportBytesTX prometheus.Counter
	TransportBytesRX prometheus.Counter
}

// New builds and registers every collector against the default registry.
func New() *Metrics {
	m := &Metrics{
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sgraph_queue_depth",
			Help: "Current number of buffered packets in a queue.",
		}, []string{"stage"}),
		QueuePuts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sgraph_queue_puts_total",
			Help: "Total packets successfully put into a queue.",
		}, []string{"stage"}),
		QueueGets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sgraph_queue_gets_total",
			Help: "Total packets successfully read from a queue.",
		}, []string{"stage"}),
		QueueStateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sgraph_queue_state_transitions_total",
			Help: "Total queue state transitions, by target state.",
		}, []string{"stage", "state"}),
		StageIterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sgraph_stage_iterations_total",
			Help: "Total decide/act loop iterations performed by a stage.",
		}, []string{"stage"}),
		StageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sgraph_stage_errors_total",
			Help: "Total errors that killed a stage's queues.",
		}, []string{"stage"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sgraph_stage_iteration_seconds",
			Help:    "Duration of a single stage loop iteration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		DecoderRoundTrip: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sgraph_decoder_round_trip_seconds",
			Help:    "Time from feeding a probability chunk to the matching reader line.",
			Buckets: prometheus.DefBuckets,
		}),
		DecoderPartials: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sgraph_decoder_partials_total",
			Help: "Total partial hypotheses emitted by the decoder driver.",
		}),
		DecoderFinals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sgraph_decoder_finals_total",
			Help: "Total endpoint/final results emitted by the decoder driver.",
		}),
		TransportRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sgraph_transport_retries_total",
			Help: "Total send retries due to size-mismatch frames.",
		}),
		TransportBytesTX: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sgraph_transport_bytes_sent_total",
			Help: "Total bytes written by the transport shim sender.",
		}),
		TransportBytesRX: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sgraph_transport_bytes_received_total",
			Help: "Total bytes read by the transport shim receiver.",
		}),
	}
	m.register()
	return m
}

func (m *Metrics) register() {
	prometheus.MustRegister(
		m.QueueDepth, m.QueuePuts, m.QueueGets, m.QueueStateTransitions,
		m.StageIterations, m.StageErrors, m.StageDuration,
		m.DecoderRoundTrip, m.DecoderPartials, m.DecoderFinals,
		m.TransportRetries, m.TransportBytesTX, m.TransportBytesRX,
	)
}
