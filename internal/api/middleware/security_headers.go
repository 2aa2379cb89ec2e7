// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// DefaultCSP suits the bundled player UI: media and thumbnails come
// from this origin (blob: covers MediaSource playback), styles may be
// injected inline by the player.
const DefaultCSP = "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data: blob:; media-src 'self' blob: data:; connect-src 'self'; frame-ancestors 'none'"

// SecurityHeaders adds the common hardening headers to every response.
// trustedProxies gates which peers may assert X-Forwarded-Proto for the
// HSTS decision.
func SecurityHeaders(csp string, trustedProxies []*net.IPNet) func(http.Handler) http.Handler {
	if csp == "" {
		csp = DefaultCSP
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// HSTS only when the hop is actually HTTPS. X-Forwarded-Proto
			// is believed only from a trusted proxy address.
			isHTTPS := r.TLS != nil
			if !isHTTPS && strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
				ipStr, _, err := net.SplitHostPort(r.RemoteAddr)
				if err != nil {
					ipStr = r.RemoteAddr
				}
				if ip := net.ParseIP(ipStr); ip != nil && IsIPAllowed(ip, trustedProxies) {
					isHTTPS = true
				}
			}
			if isHTTPS {
				w.Header().Set("Strict-Transport-Security", "max-age=15552000; includeSubDomains")
			}

			w.Header().Set("Content-Security-Policy", csp)
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")

			next.ServeHTTP(w, r)
		})
	}
}

// IsIPAllowed reports whether ip falls inside any of the given CIDRs.
func IsIPAllowed(ip net.IP, allowed []*net.IPNet) bool {
	for _, cidr := range allowed {
		if cidr != nil && cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// ParseCIDRs parses a list of CIDR strings. Bare IPs are widened to a
// single-host network.
func ParseCIDRs(values []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if !strings.Contains(v, "/") {
			if ip := net.ParseIP(v); ip != nil {
				if ip.To4() != nil {
					v += "/32"
				} else {
					v += "/128"
				}
			}
		}
		_, n, err := net.ParseCIDR(v)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR %q: %w", v, err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}
