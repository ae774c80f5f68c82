package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/launchwatch/engine/internal/cycle"
)

// Collectors holds the Prometheus metrics exported on /metrics.
// A nil *Collectors is valid and records nothing.
type Collectors struct {
	registry *prometheus.Registry

	Cycles        *prometheus.CounterVec
	Items         *prometheus.CounterVec
	CycleDuration *prometheus.HistogramVec
	SourceCalls   *prometheus.CounterVec
	Deliveries    *prometheus.CounterVec
	FeedClients   prometheus.Gauge
}

// NewCollectors creates and registers every collector on a private registry
// together with the Go runtime and process collectors.
func NewCollectors() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),

		Cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "launchwatch_cycles_total",
				Help: "Completed notify cycles by scope and result",
			},
			[]string{"scope", "result"},
		),

		Items: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "launchwatch_items_total",
				Help: "Evaluated items by scope and decision",
			},
			[]string{"scope", "outcome"},
		),

		CycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "launchwatch_cycle_duration_seconds",
				Help:    "Duration of each notify cycle in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 90},
			},
			[]string{"scope"},
		),

		SourceCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "launchwatch_source_requests_total",
				Help: "Upstream fetches by source and result",
			},
			[]string{"source", "result"},
		),

		Deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "launchwatch_deliveries_total",
				Help: "Webhook sends by surface and result",
			},
			[]string{"surface", "result"},
		),

		FeedClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "launchwatch_feed_clients",
				Help: "Connected live feed websocket clients",
			},
		),
	}

	c.registry.MustRegister(
		c.Cycles,
		c.Items,
		c.CycleDuration,
		c.SourceCalls,
		c.Deliveries,
		c.FeedClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// CycleResultLabel classifies a cycle for the result label.
func CycleResultLabel(r cycle.Result) string {
	switch {
	case r.Degraded:
		return "degraded"
	case r.Fetched == 0:
		return "empty"
	default:
		return "ok"
	}
}

func (c *Collectors) observeCycle(r cycle.Result) {
	if c == nil {
		return
	}
	c.Cycles.WithLabelValues(r.Scope, CycleResultLabel(r)).Inc()
	c.CycleDuration.WithLabelValues(r.Scope).Observe(r.Duration.Seconds())
	c.Items.WithLabelValues(r.Scope, "duplicate").Add(float64(r.Duplicates))
	c.Items.WithLabelValues(r.Scope, "suppress").Add(float64(r.Suppressed))
	c.Items.WithLabelValues(r.Scope, "deliver").Add(float64(r.Delivered))
}

func (c *Collectors) observeSource(source, result string) {
	if c == nil {
		return
	}
	c.SourceCalls.WithLabelValues(source, result).Inc()
}

func (c *Collectors) observeDelivery(surface, result string) {
	if c == nil {
		return
	}
	c.Deliveries.WithLabelValues(surface, result).Inc()
}

func (c *Collectors) setFeedClients(n int) {
	if c == nil {
		return
	}
	c.FeedClients.Set(float64(n))
}
