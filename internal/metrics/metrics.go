package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"netmon/internal/models"
)

// Metrics exposes engine activity as Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	probes           *prometheus.CounterVec
	probeLatency     *prometheus.HistogramVec
	throughputRuns   *prometheus.CounterVec
	throughputMbps   *prometheus.GaugeVec
	storeRetries     prometheus.Counter
	storeDropped     prometheus.Counter
	ticksSkipped     *prometheus.CounterVec
	tickPanics       *prometheus.CounterVec
	snapshotsWritten prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netmon_probes_total",
			Help: "Probe results appended, by outcome.",
		}, []string{"dataset", "target", "result"}),
		probeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "netmon_probe_latency_ms",
			Help:    "Latency of successful probes in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"dataset", "target"}),
		throughputRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netmon_throughput_runs_total",
			Help: "Throughput cycles, by outcome (success, failure, unavailable, disabled).",
		}, []string{"result"}),
		throughputMbps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netmon_throughput_mbps",
			Help: "Last measured throughput in Mbps.",
		}, []string{"dataset", "direction"}),
		storeRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netmon_store_retries_total",
			Help: "Append attempts that failed and were retried.",
		}),
		storeDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netmon_store_dropped_total",
			Help: "Records dropped after exhausting append retries.",
		}),
		ticksSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netmon_ticks_skipped_total",
			Help: "Ticks skipped because the previous run of the same cycle was still in flight.",
		}, []string{"cycle"}),
		tickPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netmon_tick_panics_total",
			Help: "Ticks aborted by an unexpected internal fault.",
		}, []string{"cycle"}),
		snapshotsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netmon_snapshots_written_total",
			Help: "Dashboard snapshots regenerated.",
		}),
	}

	reg.MustRegister(
		m.probes,
		m.probeLatency,
		m.throughputRuns,
		m.throughputMbps,
		m.storeRetries,
		m.storeDropped,
		m.ticksSkipped,
		m.tickPanics,
		m.snapshotsWritten,
	)
	return m
}

// ObserveProbe counts a probe result and records its latency on success.
func (m *Metrics) ObserveProbe(r models.ProbeResult) {
	if m == nil {
		return
	}
	result := "failure"
	if r.Success {
		result = "success"
		if r.LatencyMs != nil {
			m.probeLatency.WithLabelValues(r.Dataset, r.Target).Observe(*r.LatencyMs)
		}
	}
	m.probes.WithLabelValues(r.Dataset, r.Target, result).Inc()
}

// ObserveThroughput counts a throughput run and keeps the last measured
// download and upload rates of its dataset.
func (m *Metrics) ObserveThroughput(r models.ThroughputResult) {
	if m == nil {
		return
	}
	if !r.Success {
		m.throughputRuns.WithLabelValues("failure").Inc()
		return
	}
	m.throughputRuns.WithLabelValues("success").Inc()
	if r.DownloadMbps != nil {
		m.throughputMbps.WithLabelValues(r.Dataset, "download").Set(*r.DownloadMbps)
	}
	if r.UploadMbps != nil {
		m.throughputMbps.WithLabelValues(r.Dataset, "upload").Set(*r.UploadMbps)
	}
}

// ThroughputSkipped counts a cycle that produced no record.
func (m *Metrics) ThroughputSkipped(reason string) {
	if m == nil {
		return
	}
	m.throughputRuns.WithLabelValues(reason).Inc()
}

// StoreRetry counts a failed append that will be retried.
func (m *Metrics) StoreRetry() {
	if m == nil {
		return
	}
	m.storeRetries.Inc()
}

// StoreDropped counts a record lost after its last append attempt.
func (m *Metrics) StoreDropped() {
	if m == nil {
		return
	}
	m.storeDropped.Inc()
}

// TickSkipped counts a tick dropped because the cycle was still running.
func (m *Metrics) TickSkipped(cycle string) {
	if m == nil {
		return
	}
	m.ticksSkipped.WithLabelValues(cycle).Inc()
}

// TickPanic counts a tick that panicked and was recovered.
func (m *Metrics) TickPanic(cycle string) {
	if m == nil {
		return
	}
	m.tickPanics.WithLabelValues(cycle).Inc()
}

// SnapshotWritten counts a regenerated dashboard snapshot.
func (m *Metrics) SnapshotWritten() {
	if m == nil {
		return
	}
	m.snapshotsWritten.Inc()
}
