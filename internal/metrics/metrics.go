// Package metrics exposes gateway counters over Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "notify_gateway"

// Queue outcomes recorded by the consumer.
const (
	QueueAcked    = "acked"
	QueueRequeued = "requeued"
	QueueNacked   = "nacked"
	QueueSkipped  = "skipped"
)

// Gateway holds every collector the service records into. Collectors are
// registered on a private registry so tests can build as many as they like.
type Gateway struct {
	registry *prometheus.Registry

	routes          *prometheus.CounterVec
	activeSessions  prometheus.Gauge
	queueMessages   *prometheus.CounterVec
	published       prometheus.Counter
	publishFailures *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
}

func New() *Gateway {
	g := &Gateway{
		registry: prometheus.NewRegistry(),
		routes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "routes_total",
				Help:      "Routing attempts by outcome.",
			},
			[]string{"result"},
		),
		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "active_sessions",
				Help:      "Connection keys with a live session.",
			},
		),
		queueMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "consumed_total",
				Help:      "Envelopes pulled from the queue by outcome.",
			},
			[]string{"outcome"},
		),
		published: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "published_total",
				Help:      "Envelopes accepted by the broker.",
			},
		),
		publishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "publish_failures_total",
				Help:      "Envelopes that could not be published.",
			},
			[]string{"reason"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
	}

	g.registry.MustRegister(
		g.routes,
		g.activeSessions,
		g.queueMessages,
		g.published,
		g.publishFailures,
		g.httpRequests,
		prometheus.NewGoCollector(),
	)
	return g
}

func (g *Gateway) ObserveRoute(result string)     { g.routes.WithLabelValues(result).Inc() }
func (g *Gateway) SetActiveSessions(n int)        { g.activeSessions.Set(float64(n)) }
func (g *Gateway) ObserveConsumed(outcome string) { g.queueMessages.WithLabelValues(outcome).Inc() }
func (g *Gateway) ObservePublished()              { g.published.Inc() }
func (g *Gateway) ObservePublishFailure(reason string) {
	g.publishFailures.WithLabelValues(reason).Inc()
}

func (g *Gateway) ObserveHTTP(method, route, status string) {
	g.httpRequests.WithLabelValues(method, route, status).Inc()
}

// Routes exposes the routing counter for tests.
func (g *Gateway) Routes() *prometheus.CounterVec { return g.routes }

// Consumed exposes the queue outcome counter for tests.
func (g *Gateway) Consumed() *prometheus.CounterVec { return g.queueMessages }

// Handler serves the Prometheus exposition format.
func (g *Gateway) Handler() http.Handler {
	return promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{Registry: g.registry})
}
