package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cutie"

// Collector exposes every counter in Metrics as one Prometheus counter with an
// `event` label.
type Collector struct {
	m    *Metrics
	desc *prometheus.Desc
}

func NewCollector(m *Metrics) *Collector {
	return &Collector{
		m: m,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "events_total"),
			"Internal event counters.",
			[]string{"event"},
			nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for name, v := range c.m.Snapshot() {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(v), name)
	}
}

// Gauges are read at scrape time.
type Gauges struct {
	ActiveSessions func() int
	ClosedSessions func() int
}

// NewRegistry builds a registry holding the event counters, the optional
// gauges and the Go runtime collectors.
func NewRegistry(m *Metrics, g Gauges) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(m),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if g.ActiveSessions != nil {
		fn := g.ActiveSessions
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions currently registered.",
		}, func() float64 { return float64(fn()) }))
	}
	if g.ClosedSessions != nil {
		fn := g.ClosedSessions
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "closed_sessions_retained",
			Help:      "Closed sessions kept in the history ring.",
		}, func() float64 { return float64(fn()) }))
	}
	return reg
}

// PrometheusHandler serves the registry in Prometheus exposition format.
func PrometheusHandler(reg *prometheus.Registry) http.Handler {
	if reg == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
		})
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
