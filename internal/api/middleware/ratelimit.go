// SPDX-License-Identifier: MIT

package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/ManuGH/ytvault/internal/log"
)

// RateLimitConfig holds configuration for the rate limiting middleware.
type RateLimitConfig struct {
	// RequestLimit is the maximum number of requests allowed in the window.
	RequestLimit int
	// WindowSize is the sliding window length.
	WindowSize time.Duration
	// KeyFunc extracts the rate limit key from the request. Nil means
	// per client IP.
	KeyFunc func(r *http.Request) (string, error)
}

// RateLimit builds a sliding-window limiter on httprate. Rejected
// requests get a 429 in the standard error envelope plus Retry-After.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = httprate.KeyByIP
	}

	retryAfter := int(cfg.WindowSize.Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}

	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowSize,
		httprate.WithKeyFuncs(keyFunc),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{
					"code":       "RATE_LIMITED",
					"message":    "too many requests, slow down",
					"request_id": log.RequestIDFromContext(r.Context()),
				},
			})
		}),
	)
}

// APIRateLimit bounds request throughput per client IP. The window is
// sized so the sustained rate works out to rps while bursts up to
// burst requests pass through.
func APIRateLimit(rps, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		rps = 20
	}
	if burst < rps {
		burst = rps
	}
	window := time.Duration(float64(burst) / float64(rps) * float64(time.Second))
	return RateLimit(RateLimitConfig{RequestLimit: burst, WindowSize: window})
}
