package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chorus-fed/conductor/log"
)

// Metrics holds the node's prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	VDFIterations     prometheus.Counter
	DaysFinalized     prometheus.Counter
	EpochsCommitted   prometheus.Counter
	EpochTimeouts     prometheus.Counter
	RBCDelivered      prometheus.Counter
	BBADecisions      *prometheus.CounterVec
	EvidenceEmitted   *prometheus.CounterVec
	PeerRejected      *prometheus.CounterVec
	BreakersOpen      prometheus.Gauge
	CurrentDay        prometheus.Gauge
	CurrentDifficulty prometheus.Gauge
	EpochLatency      prometheus.Histogram
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.VDFIterations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "conductor_vdf_iterations_total",
		Help: "Sequential hash iterations performed by the VDF engine.",
	})
	m.DaysFinalized = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "conductor_days_finalized_total",
		Help: "Canonical day proofs finalized.",
	})
	m.EpochsCommitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "conductor_epochs_committed_total",
		Help: "Blocks committed.",
	})
	m.EpochTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "conductor_epoch_timeouts_total",
		Help: "Epochs that hit the soft timeout and were retried.",
	})
	m.RBCDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "conductor_rbc_delivered_total",
		Help: "Reliable broadcast instances delivered.",
	})
	m.BBADecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_bba_decisions_total",
		Help: "Binary agreement decisions by value.",
	}, []string{"value"})
	m.EvidenceEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_evidence_total",
		Help: "Evidence records emitted by reason.",
	}, []string{"reason"})
	m.PeerRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_peer_rejected_total",
		Help: "Peer messages rejected at the gossip boundary by cause.",
	}, []string{"cause"})
	m.BreakersOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "conductor_peer_circuit_open",
		Help: "Currently open per-peer circuit breakers.",
	})
	m.CurrentDay = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "conductor_day_number",
		Help: "Finalized day number.",
	})
	m.CurrentDifficulty = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "conductor_vdf_difficulty",
		Help: "Current VDF difficulty.",
	})
	m.EpochLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "conductor_epoch_latency_seconds",
		Help:    "Wall time from epoch start to commit.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	m.registry.MustRegister(
		m.VDFIterations, m.DaysFinalized, m.EpochsCommitted, m.EpochTimeouts,
		m.RBCDelivered, m.BBADecisions, m.EvidenceEmitted, m.PeerRejected,
		m.BreakersOpen, m.CurrentDay, m.CurrentDifficulty, m.EpochLatency,
	)
	return m
}

// Handler returns the scrape endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on the given port. Blocks; run in its own goroutine.
func (m *Metrics) Serve(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	addr := fmt.Sprintf(":%d", port)
	log.Info(log.NodeMonitoring, "metrics listening", "addr", addr)
	return http.ListenAndServe(addr, mux)
}
