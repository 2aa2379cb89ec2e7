// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/ytvault/internal/log"
)

// StackConfig tunes the shared ingress middleware.
type StackConfig struct {
	// AllowedOrigins opens CORS for the listed origins. Empty means no
	// cross-origin access.
	AllowedOrigins []string

	// CSP overrides the Content-Security-Policy; empty falls back to
	// DefaultCSP.
	CSP string

	// TrustedProxies are the peers allowed to assert X-Forwarded-Proto.
	TrustedProxies []*net.IPNet

	EnableMetrics bool
	EnableLogging bool

	// TracingService names the tracer; empty disables tracing.
	TracingService string

	// RateLimitRPS caps requests per second per client IP; zero or
	// negative disables the limiter.
	RateLimitRPS   int
	RateLimitBurst int
}

// NewRouter builds a chi router with the full ingress stack installed.
func NewRouter(cfg StackConfig) *chi.Mux {
	r := chi.NewRouter()
	ApplyStack(r, cfg)
	return r
}

// ApplyStack installs the ingress middleware. Order matters: the
// recoverer must be outermost, request IDs must exist before anything
// logs or traces, CORS must answer OPTIONS before other writers touch
// the response, and the limiter runs last so rejected requests still
// show up in metrics and traces.
func ApplyStack(r chi.Router, cfg StackConfig) {
	r.Use(Recoverer)
	r.Use(RequestID)
	r.Use(CORS(cfg.AllowedOrigins))
	r.Use(SecurityHeaders(cfg.CSP, cfg.TrustedProxies))

	if cfg.EnableMetrics {
		r.Use(Metrics())
	}
	if cfg.TracingService != "" {
		r.Use(Tracing(cfg.TracingService))
	}
	if cfg.EnableLogging {
		r.Use(log.Middleware())
	}
	if cfg.RateLimitRPS > 0 {
		r.Use(APIRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	}
}
