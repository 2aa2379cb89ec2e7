// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reqLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ytvault_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	inFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ytvault_http_requests_in_flight",
		Help: "Requests currently being served",
	})

	reqBodySize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ytvault_http_request_size_bytes",
		Help:    "Size distribution of request bodies",
		Buckets: prometheus.ExponentialBuckets(100, 10, 8),
	}, []string{"method", "path"})

	respBodySize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ytvault_http_response_size_bytes",
		Help:    "Size distribution of response bodies",
		Buckets: prometheus.ExponentialBuckets(100, 10, 8),
	}, []string{"method", "path", "status"})
)

// Metrics observes every request: latency, in-flight count, and body
// sizes in both directions.
func Metrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			began := time.Now()
			reqSize := r.ContentLength

			inFlight.Inc()
			defer inFlight.Dec()

			// Wrapping keeps Flusher intact for SSE and range streams.
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			record(r, ww, reqSize, time.Since(began))
		}
		return http.HandlerFunc(fn)
	}
}

func record(r *http.Request, ww chimw.WrapResponseWriter, reqSize int64, took time.Duration) {
	path := routePattern(r)
	status := strconv.Itoa(ww.Status())

	reqLatency.WithLabelValues(r.Method, path, status).Observe(took.Seconds())
	if reqSize > 0 {
		reqBodySize.WithLabelValues(r.Method, path).Observe(float64(reqSize))
	}
	if n := ww.BytesWritten(); n > 0 {
		respBodySize.WithLabelValues(r.Method, path, status).Observe(float64(n))
	}
}

// routePattern prefers the chi route pattern over the raw path so
// per-video URLs cannot explode label cardinality. The pattern is only
// filled in once the router has run; unrouted requests fall back to the
// raw path.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
