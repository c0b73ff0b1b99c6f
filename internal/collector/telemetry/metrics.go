package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "netsentry"

// Metrics 是采集管线的 Prometheus 指标，注册在独立的 Registry 上，测试里可以随意新建。
type Metrics struct {
	Registry *prometheus.Registry

	EventsTotal        *prometheus.CounterVec
	DuplicatesTotal    prometheus.Counter
	ThreatsTotal       prometheus.Counter
	EnrichFailures     *prometheus.CounterVec
	StoreErrors        *prometheus.CounterVec
	SummariesDropped   prometheus.Counter
	NatsPublishErrors  prometheus.Counter
	EnrichmentDuration prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		EventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Observed events accepted by the pipeline, by source.",
		}, []string{"source"}),
		DuplicatesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_events_total",
			Help:      "Events suppressed by the deduplication window.",
		}),
		ThreatsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threats_total",
			Help:      "Threat records raised.",
		}),
		EnrichFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichment_failures_total",
			Help:      "Failed enrichment lookups, by lookup.",
		}, []string{"lookup"}),
		StoreErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Failed persistence writes, by table.",
		}, []string{"table"}),
		SummariesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_dropped_total",
			Help:      "AI summary requests dropped because the queue was full.",
		}),
		NatsPublishErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nats_publish_errors_total",
			Help:      "Threat records that could not be forwarded to NATS.",
		}),
		EnrichmentDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "enrichment_duration_seconds",
			Help:      "Wall time spent enriching one observation.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
	}
}

// Handler 暴露 /metrics。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) EnrichFailed(lookup string) func(error) {
	c := m.EnrichFailures.WithLabelValues(lookup)
	return func(error) { c.Inc() }
}
