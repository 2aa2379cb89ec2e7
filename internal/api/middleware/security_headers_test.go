// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func secHandler(csp string, proxies []*net.IPNet) http.Handler {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return SecurityHeaders(csp, proxies)(ok)
}

func mustCIDR(t *testing.T, s string) *net.IPNet {
	t.Helper()
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		t.Fatalf("parse %s: %v", s, err)
	}
	return n
}

func TestSecurityHeaders_NoHSTSOnPlainHTTP(t *testing.T) {
	h := secHandler("", nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := w.Header().Get("Strict-Transport-Security"); got != "" {
		t.Fatalf("HSTS on plain HTTP: %q", got)
	}
	if w.Header().Get("Content-Security-Policy") != DefaultCSP {
		t.Error("empty csp argument should fall back to DefaultCSP")
	}
}

func TestSecurityHeaders_HSTSOnTLS(t *testing.T) {
	h := secHandler(DefaultCSP, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.TLS = &tls.ConnectionState{}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Header().Get("Strict-Transport-Security") == "" {
		t.Fatal("no HSTS on TLS request")
	}
}

func TestSecurityHeaders_ForwardedProtoRequiresTrustedProxy(t *testing.T) {
	trusted := []*net.IPNet{mustCIDR(t, "10.0.0.0/8")}
	h := secHandler(DefaultCSP, trusted)

	// Header from an untrusted peer is ignored.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:4444"
	req.Header.Set("X-Forwarded-Proto", "https")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Header().Get("Strict-Transport-Security") != "" {
		t.Fatal("HSTS from untrusted forwarded-proto")
	}

	// Same header from inside the trusted range counts.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:4444"
	req.Header.Set("X-Forwarded-Proto", "https")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Header().Get("Strict-Transport-Security") == "" {
		t.Fatal("no HSTS from trusted forwarded-proto")
	}
}

func TestIsIPAllowed(t *testing.T) {
	nets := []*net.IPNet{mustCIDR(t, "10.0.0.0/8"), mustCIDR(t, "192.168.1.0/24")}

	cases := []struct {
		ip   string
		want bool
	}{
		{"10.200.0.1", true},
		{"192.168.1.50", true},
		{"192.168.2.50", false},
		{"8.8.8.8", false},
	}
	for _, tc := range cases {
		if got := IsIPAllowed(net.ParseIP(tc.ip), nets); got != tc.want {
			t.Errorf("IsIPAllowed(%s) = %v, want %v", tc.ip, got, tc.want)
		}
	}
	if IsIPAllowed(nil, nets) {
		t.Error("nil IP allowed")
	}
	if IsIPAllowed(net.ParseIP("10.0.0.1"), nil) {
		t.Error("empty allow list allowed an IP")
	}
}
