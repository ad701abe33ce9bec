package app

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the HTTP API on a private
// registry.
type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "issueprops",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "issueprops",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	registry.MustRegister(
		m.requests,
		m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Observe(method, route string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// collections whose next path segment is an identifier.
var collections = map[string]bool{
	"workspaces":            true,
	"projects":              true,
	"issue-types":           true,
	"issue-properties":      true,
	"options":               true,
	"issues":                true,
	"draft-issues":          true,
	"issue-property-values": true,
}

// routeLabel replaces identifiers in path with placeholders so metric label
// cardinality stays bounded.
func routeLabel(path string) string {
	parts := splitPath(path)
	if len(parts) == 0 || (parts[0] != "api" && parts[0] != "metrics") {
		return "other"
	}
	out := make([]string, len(parts))
	for i, part := range parts {
		if i > 0 && collections[parts[i-1]] {
			out[i] = "{id}"
			continue
		}
		out[i] = part
	}
	return "/" + strings.Join(out, "/")
}
