// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func corsHandler(origins []string) http.Handler {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return CORS(origins)(ok)
}

func TestCORS_AllowsListedOrigin(t *testing.T) {
	h := corsHandler([]string{"https://app.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/api/videos", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("allow-origin %q", got)
	}
	if !strings.Contains(w.Header().Get("Vary"), "Origin") {
		t.Error("Vary header missing Origin")
	}
}

func TestCORS_BlocksUnlistedOrigin(t *testing.T) {
	h := corsHandler([]string{"https://app.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/api/videos", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("request should still be served, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unlisted origin echoed: %q", got)
	}
}

func TestCORS_Wildcard(t *testing.T) {
	h := corsHandler([]string{"*"})

	req := httptest.NewRequest(http.MethodGet, "/api/videos", nil)
	req.Header.Set("Origin", "http://anywhere.test")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://anywhere.test" {
		t.Fatalf("wildcard allow-origin %q", got)
	}
}

func TestCORS_NoOriginHeader(t *testing.T) {
	h := corsHandler([]string{"https://app.example.com"})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/videos", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("same-origin request blocked: %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("allow-origin set without an Origin header")
	}
}

func TestCORS_ExposesStreamingHeaders(t *testing.T) {
	h := corsHandler([]string{"https://app.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/api/videos/stream/a.mp4", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	exposed := w.Header().Get("Access-Control-Expose-Headers")
	for _, want := range []string{"Content-Range", "Accept-Ranges", "Retry-After"} {
		if !strings.Contains(exposed, want) {
			t.Errorf("expose-headers missing %s: %q", want, exposed)
		}
	}
}
