package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector receives pipeline events worth counting.
type Collector interface {
	// RecordReport counts a progress report by kind: "stage", "held" or "heartbeat".
	RecordReport(kind string)
	// RecordMirrorFailure counts a failed write to the shared progress cache.
	RecordMirrorFailure(op string)
	// RecordSnapshot counts a market snapshot by its source quality.
	RecordSnapshot(quality string)
	// RecordOutcome counts a job reaching a terminal status.
	RecordOutcome(status string)
}

// Nop discards everything.
type Nop struct{}

var _ Collector = Nop{}

func (Nop) RecordReport(string)        {}
func (Nop) RecordMirrorFailure(string) {}
func (Nop) RecordSnapshot(string)      {}
func (Nop) RecordOutcome(string)       {}

// Prometheus is a Collector backed by client_golang counters.
type Prometheus struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	reports        *prometheus.CounterVec
	mirrorFailures *prometheus.CounterVec
	snapshots      *prometheus.CounterVec
	outcomes       *prometheus.CounterVec
}

var _ Collector = (*Prometheus)(nil)

// NewPrometheus creates a collector registering on reg (prometheus.DefaultRegisterer if nil).
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "cortexflow"
	}
	return &Prometheus{reg: reg, namespace: namespace}
}

func (p *Prometheus) ensureRegistered() {
	p.once.Do(func() {
		p.reports = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "progress",
			Name:      "reports_total",
			Help:      "Progress reports by kind (stage, held, heartbeat).",
		}, []string{"kind"})
		p.mirrorFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "progress",
			Name:      "mirror_failures_total",
			Help:      "Failed writes to the shared progress cache by operation.",
		}, []string{"op"})
		p.snapshots = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "market",
			Name:      "snapshots_total",
			Help:      "Market snapshots fetched by source quality.",
		}, []string{"quality"})
		p.outcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "jobs",
			Name:      "outcomes_total",
			Help:      "Jobs reaching a terminal status.",
		}, []string{"status"})

		p.reg.MustRegister(p.reports)
		p.reg.MustRegister(p.mirrorFailures)
		p.reg.MustRegister(p.snapshots)
		p.reg.MustRegister(p.outcomes)
	})
}

func (p *Prometheus) RecordReport(kind string) {
	p.ensureRegistered()
	p.reports.WithLabelValues(kind).Inc()
}

func (p *Prometheus) RecordMirrorFailure(op string) {
	p.ensureRegistered()
	p.mirrorFailures.WithLabelValues(op).Inc()
}

func (p *Prometheus) RecordSnapshot(quality string) {
	p.ensureRegistered()
	p.snapshots.WithLabelValues(quality).Inc()
}

func (p *Prometheus) RecordOutcome(status string) {
	p.ensureRegistered()
	p.outcomes.WithLabelValues(status).Inc()
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
