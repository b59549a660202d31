package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus exposes scan activity as Prometheus collectors.
type Prometheus struct {
	Attachments      *prometheus.CounterVec
	ProviderCalls    *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	StatusUpdates    *prometheus.CounterVec
	Cycles           *prometheus.CounterVec
	CycleDuration    prometheus.Histogram
	LastCycle        prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewPrometheus registers the collectors on reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func NewPrometheus(reg *prometheus.Registry) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		Attachments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "alttext_attachments_total",
			Help: "Eligible image attachments processed, by outcome",
		}, []string{"outcome"}),
		ProviderCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "alttext_provider_calls_total",
			Help: "Description provider calls, by provider and error kind (ok on success)",
		}, []string{"provider", "result"}),
		ProviderDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "alttext_provider_duration_seconds",
			Help:    "Time to describe one image",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60},
		}, []string{"provider"}),
		StatusUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "alttext_status_updates_total",
			Help: "Status edit attempts, by result",
		}, []string{"result"}),
		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "alttext_cycles_total",
			Help: "Scan cycles run, by result",
		}, []string{"result"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "alttext_cycle_duration_seconds",
			Help:    "Wall time of one scan cycle",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		LastCycle: f.NewGauge(prometheus.GaugeOpts{
			Name: "alttext_last_cycle_timestamp_seconds",
			Help: "Unix time the last scan cycle finished",
		}),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}

func (p *Prometheus) Attachment(outcome string) {
	p.Attachments.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) ProviderCall(provider string, d time.Duration, kind string) {
	result := kind
	if result == "" {
		result = "ok"
	}
	p.ProviderCalls.WithLabelValues(provider, result).Inc()
	p.ProviderDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (p *Prometheus) StatusUpdate(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	p.StatusUpdates.WithLabelValues(result).Inc()
}

func (p *Prometheus) CycleFinished(c Cycle) {
	result := "ok"
	if c.Err != nil {
		result = "error"
	}
	p.Cycles.WithLabelValues(result).Inc()
	p.CycleDuration.Observe(c.Duration.Seconds())
	p.LastCycle.SetToCurrentTime()
}
