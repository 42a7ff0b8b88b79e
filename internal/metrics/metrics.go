package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "demopulse",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests by method, path, and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "demopulse",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "demopulse",
		Name:      "webhook_events_total",
		Help:      "Inbound webhook events by event type and outcome (handled, ignored, filtered).",
	}, []string{"event_type", "outcome"})

	CallbacksScheduledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "demopulse",
		Name:      "callbacks_scheduled_total",
		Help:      "Deferred callbacks scheduled by action.",
	}, []string{"action"})

	CallbacksFiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "demopulse",
		Name:      "callbacks_fired_total",
		Help:      "Deferred callbacks delivered by action and outcome (executed, stale, dropped).",
	}, []string{"action", "outcome"})

	GatewayCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "demopulse",
		Name:      "gateway_calls_total",
		Help:      "Calls to the incident and chat platforms by gateway, call, and outcome.",
	}, []string{"gateway", "call", "outcome"})

	LifecycleTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "demopulse",
		Name:      "lifecycle_transitions_total",
		Help:      "Incident lifecycle transitions by target state.",
	}, []string{"to"})

	ActiveDemos = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "demopulse",
		Name:      "active_demos",
		Help:      "Unresolved demo incidents currently tracked.",
	})
)

// Handler returns an http.Handler that serves the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware wraps an http.Handler to record request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		duration := time.Since(start).Seconds()

		path := normalizePath(r.URL.Path)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath buckets URL paths to avoid high cardinality.
func normalizePath(p string) string {
	if p == "" || p == "/" {
		return "/"
	}
	switch p {
	case "/healthz", "/readyz", "/metrics", "/health", "/webhook":
		return p
	}
	segments := 0
	for i := 1; i < len(p); i++ {
		if p[i] == '/' {
			segments++
			if segments >= 2 {
				return p[:i]
			}
		}
	}
	return p
}
