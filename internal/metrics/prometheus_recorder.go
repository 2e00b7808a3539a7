package metrics

import (
	"net/http"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once          sync.Once
	registry      *prom.Registry
	tickDuration  *prom.HistogramVec
	fetchOutcomes *prom.CounterVec
	notifications *prom.CounterVec
	gateDecisions *prom.CounterVec
	watcherActive prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{registry: reg}
	pr.once.Do(func() {
		pr.tickDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "portalwatch",
			Name:      "tick_duration_seconds",
			Help:      "Duration of per-entity reconciliation ticks",
			Buckets:   prom.DefBuckets,
		}, []string{"kind"})
		pr.fetchOutcomes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "portalwatch",
			Name:      "fetch_outcomes_total",
			Help:      "Entity fetch results by kind and outcome",
		}, []string{"kind", "outcome"})
		pr.notifications = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "portalwatch",
			Name:      "notifications_total",
			Help:      "Notification decisions by kind (emitted vs deduplicated)",
		}, []string{"kind", "decision"})
		pr.gateDecisions = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "portalwatch",
			Name:      "gate_decisions_total",
			Help:      "Navigation gate verdicts",
		}, []string{"decision"})
		pr.watcherActive = prom.NewGauge(prom.GaugeOpts{
			Namespace: "portalwatch",
			Name:      "watcher_active",
			Help:      "Whether a session watcher is currently running (0 or 1)",
		})
		reg.MustRegister(pr.tickDuration, pr.fetchOutcomes, pr.notifications, pr.gateDecisions, pr.watcherActive)
	})
	return pr
}

// HTTPHandler serves the recorder's registry for the local /metrics endpoint.
func (p *PrometheusRecorder) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (p *PrometheusRecorder) ObserveTickDuration(kind string, d time.Duration) {
	if p == nil || p.tickDuration == nil {
		return
	}
	p.tickDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncFetchOutcome(kind string, outcome FetchOutcome) {
	if p == nil || p.fetchOutcomes == nil {
		return
	}
	p.fetchOutcomes.WithLabelValues(kind, string(outcome)).Inc()
}

func (p *PrometheusRecorder) IncNotificationEmitted(kind string) {
	if p == nil || p.notifications == nil {
		return
	}
	p.notifications.WithLabelValues(kind, "emitted").Inc()
}

func (p *PrometheusRecorder) IncNotificationDeduped(kind string) {
	if p == nil || p.notifications == nil {
		return
	}
	p.notifications.WithLabelValues(kind, "deduplicated").Inc()
}

func (p *PrometheusRecorder) IncGateDecision(decision GateDecision) {
	if p == nil || p.gateDecisions == nil {
		return
	}
	p.gateDecisions.WithLabelValues(string(decision)).Inc()
}

func (p *PrometheusRecorder) SetWatcherActive(active bool) {
	if p == nil || p.watcherActive == nil {
		return
	}
	if active {
		p.watcherActive.Set(1)
		return
	}
	p.watcherActive.Set(0)
}
