// Package promexport exposes nvmeuq.Metrics snapshots as Prometheus
// metrics, the pull-based counterpart to the atomic counters the engine
// updates inline on its hot path.
package promexport

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nvme-uq/nvmeuq"
)

// Exporter owns the Prometheus metric vectors for one or more I/O user
// queues, each identified by a caller-chosen name under the "queue" label.
type Exporter struct {
	readOps  *prometheus.CounterVec
	writeOps *prometheus.CounterVec
	flushOps *prometheus.CounterVec

	readBytes  *prometheus.CounterVec
	writeBytes *prometheus.CounterVec

	readErrors  *prometheus.CounterVec
	writeErrors *prometheus.CounterVec
	flushErrors *prometheus.CounterVec

	backpressureEvents *prometheus.CounterVec

	queueDepth *prometheus.GaugeVec

	latencySeconds *prometheus.HistogramVec
}

// NewExporter builds an Exporter with unregistered metric vectors. Call
// MustRegister (or register each vector yourself) before scraping.
func NewExporter() *Exporter {
	labels := []string{"queue"}

	e := &Exporter{
		readOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nvmeuq",
			Name:      "read_ops_total",
			Help:      "Number of read commands completed.",
		}, labels),
		writeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nvmeuq",
			Name:      "write_ops_total",
			Help:      "Number of write commands completed.",
		}, labels),
		flushOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nvmeuq",
			Name:      "flush_ops_total",
			Help:      "Number of flush commands completed.",
		}, labels),
		readBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nvmeuq",
			Name:      "read_bytes_total",
			Help:      "Bytes transferred by successful reads.",
		}, labels),
		writeBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nvmeuq",
			Name:      "write_bytes_total",
			Help:      "Bytes transferred by successful writes.",
		}, labels),
		readErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nvmeuq",
			Name:      "read_errors_total",
			Help:      "Read commands that completed with a device error status.",
		}, labels),
		writeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nvmeuq",
			Name:      "write_errors_total",
			Help:      "Write commands that completed with a device error status.",
		}, labels),
		flushErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nvmeuq",
			Name:      "flush_errors_total",
			Help:      "Flush commands that completed with a device error status.",
		}, labels),
		backpressureEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nvmeuq",
			Name:      "backpressure_events_total",
			Help:      "submit_request calls rejected because the ring or CID table had no room.",
		}, labels),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nvmeuq",
			Name:      "queue_depth_max",
			Help:      "Largest observed in-flight depth on this queue.",
		}, labels),
		latencySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nvmeuq",
			Name:      "op_latency_seconds",
			Help:      "Submission-to-completion latency, aggregated across ops.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, labels),
	}

	return e
}

// MustRegister registers every metric vector with reg.
func (e *Exporter) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		e.readOps, e.writeOps, e.flushOps,
		e.readBytes, e.writeBytes,
		e.readErrors, e.writeErrors, e.flushErrors,
		e.backpressureEvents,
		e.queueDepth,
		e.latencySeconds,
	)
}

// Update reports metrics's current snapshot under the given queue label.
// nvmeuq.MetricsSnapshot is a point-in-time total but prometheus.Counter
// only ever goes up by the delta since the last Add, so the caller
// threads the previous snapshot back in each tick.
// prev is the previously reported MetricsSnapshot for the same label (the
// zero value on first call); it returns the snapshot just reported so the
// caller can pass it back in on the next tick.
func (e *Exporter) Update(queueLabel string, metrics *nvmeuq.Metrics, prev nvmeuq.MetricsSnapshot) nvmeuq.MetricsSnapshot {
	snap := metrics.Snapshot()

	e.readOps.WithLabelValues(queueLabel).Add(float64(snap.ReadOps - prev.ReadOps))
	e.writeOps.WithLabelValues(queueLabel).Add(float64(snap.WriteOps - prev.WriteOps))
	e.flushOps.WithLabelValues(queueLabel).Add(float64(snap.FlushOps - prev.FlushOps))
	e.readBytes.WithLabelValues(queueLabel).Add(float64(snap.ReadBytes - prev.ReadBytes))
	e.writeBytes.WithLabelValues(queueLabel).Add(float64(snap.WriteBytes - prev.WriteBytes))
	e.readErrors.WithLabelValues(queueLabel).Add(float64(snap.ReadErrors - prev.ReadErrors))
	e.writeErrors.WithLabelValues(queueLabel).Add(float64(snap.WriteErrors - prev.WriteErrors))
	e.flushErrors.WithLabelValues(queueLabel).Add(float64(snap.FlushErrors - prev.FlushErrors))
	e.backpressureEvents.WithLabelValues(queueLabel).Add(float64(snap.BackpressureEvents - prev.BackpressureEvents))
	e.queueDepth.WithLabelValues(queueLabel).Set(float64(snap.MaxQueueDepth))
	if snap.AvgLatencyNs > 0 {
		e.latencySeconds.WithLabelValues(queueLabel).Observe(float64(snap.AvgLatencyNs) / 1e9)
	}

	return snap
}
