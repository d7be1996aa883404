// Package metrics exposes Prometheus collectors for the download orchestration engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric.
const Namespace = "vidsync"

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	DownloadsTotal      *prometheus.CounterVec
	DownloadDuration    prometheus.Histogram
	JobsActive          prometheus.Gauge
	JobsPending         prometheus.Gauge
	ReconciliationTotal *prometheus.CounterVec
	ProbeTotal          *prometheus.CounterVec
	SweepRequeuedTotal  prometheus.Counter
	CycleDuration       prometheus.Histogram
}

// New creates the collectors on a private registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		DownloadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "downloads_total",
			Help:      "Download jobs by terminal status",
		}, []string{"status"}),
		DownloadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "download_duration_seconds",
			Help:      "Wall time of download jobs",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}),
		JobsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "jobs_active",
			Help:      "Jobs currently admitted into the running set",
		}),
		JobsPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "jobs_pending",
			Help:      "Jobs waiting for admission",
		}),
		ReconciliationTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "reconciliations_total",
			Help:      "Playlist reconciliations by result",
		}, []string{"result"}),
		ProbeTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sponsorblock_probes_total",
			Help:      "Skip-segment probes by result",
		}, []string{"result"}),
		SweepRequeuedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sweep_requeued_total",
			Help:      "Items re-downloaded because skip-segment data appeared",
		}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of full sync cycles",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveDownload counts one finished job.
func (m *Metrics) ObserveDownload(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.DownloadsTotal.WithLabelValues(status).Inc()
	m.DownloadDuration.Observe(d.Seconds())
}

// SetQueue updates the admission gauges.
func (m *Metrics) SetQueue(active, pending int) {
	if m == nil {
		return
	}
	m.JobsActive.Set(float64(active))
	m.JobsPending.Set(float64(pending))
}

// ObserveReconciliation counts one playlist reconciliation.
func (m *Metrics) ObserveReconciliation(ok bool) {
	if m == nil {
		return
	}
	m.ReconciliationTotal.WithLabelValues(result(ok)).Inc()
}

// ObserveProbe counts one skip-segment probe outcome.
func (m *Metrics) ObserveProbe(found bool) {
	if m == nil {
		return
	}
	label := "absent"
	if found {
		label = "present"
	}
	m.ProbeTotal.WithLabelValues(label).Inc()
}

// ObserveRequeue counts one sweep re-download.
func (m *Metrics) ObserveRequeue() {
	if m == nil {
		return
	}
	m.SweepRequeuedTotal.Inc()
}

// ObserveCycle records the duration of a full cycle.
func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.CycleDuration.Observe(d.Seconds())
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
