package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// APIMetrics captures request metrics for the REST API.
type APIMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// GatewayMetrics captures connection and message metrics for the WebSocket gateway.
type GatewayMetrics interface {
	ConnectionOpened()
	ConnectionClosed(code string)
	IncMessage(op string)
}

// Noop implements both metric interfaces without emitting anything.
type Noop struct{}

func (Noop) ObserveRequest(string, string, string, float64) {}
func (Noop) ConnectionOpened()                              {}
func (Noop) ConnectionClosed(string)                        {}
func (Noop) IncMessage(string)                              {}

type apiProm struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewAPIProm constructs APIMetrics backed by Prometheus counters/histograms.
func NewAPIProm(namespace string) APIMetrics {
	a := &apiProm{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	prometheus.MustRegister(a.requests, a.latency)
	return a
}

func (a *apiProm) ObserveRequest(method, route, status string, durationSeconds float64) {
	a.requests.WithLabelValues(method, route, status).Inc()
	a.latency.WithLabelValues(method, route).Observe(durationSeconds)
}

type gatewayProm struct {
	connections prometheus.Gauge
	closes      *prometheus.CounterVec
	messages    *prometheus.CounterVec
}

// NewGatewayProm constructs GatewayMetrics backed by Prometheus collectors.
func NewGatewayProm(namespace string) GatewayMetrics {
	g := &gatewayProm{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Live WebSocket connections",
		}),
		closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_closes_total",
			Help:      "Connection closes by close code",
		}, []string{"code"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inbound messages by opcode",
		}, []string{"op"}),
	}
	prometheus.MustRegister(g.connections, g.closes, g.messages)
	return g
}

func (g *gatewayProm) ConnectionOpened() {
	g.connections.Inc()
}

func (g *gatewayProm) ConnectionClosed(code string) {
	g.connections.Dec()
	g.closes.WithLabelValues(code).Inc()
}

func (g *gatewayProm) IncMessage(op string) {
	g.messages.WithLabelValues(op).Inc()
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
