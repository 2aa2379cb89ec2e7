// SPDX-License-Identifier: MIT

package streaming

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func patternBytes(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 256)
	}
	return data
}

func memContent(data []byte) Content {
	return Content{
		Name:     "test.mp4",
		Size:     int64(len(data)),
		Location: "local",
		Open: func(_ context.Context, start, _ int64) (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data[start:])), nil
		},
	}
}

func TestServeRangeMatrix(t *testing.T) {
	data := patternBytes(4096)

	tests := []struct {
		name        string
		method      string
		rangeHeader string
		wantStatus  int
		wantRange   string
		wantLen     int
		wantFrom    int
	}{
		{name: "full GET", method: "GET", wantStatus: http.StatusOK, wantLen: 4096},
		{name: "first byte", method: "GET", rangeHeader: "bytes=0-0", wantStatus: http.StatusPartialContent, wantRange: "bytes 0-0/4096", wantLen: 1},
		{name: "first hundred", method: "GET", rangeHeader: "bytes=0-99", wantStatus: http.StatusPartialContent, wantRange: "bytes 0-99/4096", wantLen: 100},
		{name: "suffix", method: "GET", rangeHeader: "bytes=-100", wantStatus: http.StatusPartialContent, wantRange: "bytes 3996-4095/4096", wantLen: 100, wantFrom: 3996},
		{name: "open ended", method: "GET", rangeHeader: "bytes=4000-", wantStatus: http.StatusPartialContent, wantRange: "bytes 4000-4095/4096", wantLen: 96, wantFrom: 4000},
		{name: "end clamped", method: "GET", rangeHeader: "bytes=4090-9999", wantStatus: http.StatusPartialContent, wantRange: "bytes 4090-4095/4096", wantLen: 6, wantFrom: 4090},
		{name: "start past end", method: "GET", rangeHeader: "bytes=5000-", wantStatus: http.StatusRequestedRangeNotSatisfiable, wantRange: "bytes */4096"},
		{name: "multi range", method: "GET", rangeHeader: "bytes=0-0,1-1", wantStatus: http.StatusRequestedRangeNotSatisfiable, wantRange: "bytes */4096"},
		{name: "full HEAD", method: "HEAD", wantStatus: http.StatusOK, wantLen: 4096},
		{name: "partial HEAD", method: "HEAD", rangeHeader: "bytes=100-199", wantStatus: http.StatusPartialContent, wantRange: "bytes 100-199/4096", wantLen: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(tt.method, "/stream/test.mp4", nil)
			if tt.rangeHeader != "" {
				r.Header.Set("Range", tt.rangeHeader)
			}

			if err := Serve(w, r, memContent(data)); err != nil {
				t.Fatalf("Serve: %v", err)
			}

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantRange != "" {
				if got := w.Header().Get("Content-Range"); got != tt.wantRange {
					t.Fatalf("Content-Range = %q, want %q", got, tt.wantRange)
				}
			}
			if tt.wantStatus == http.StatusRequestedRangeNotSatisfiable {
				return
			}

			if got := w.Header().Get("Content-Type"); got != "video/mp4" {
				t.Fatalf("Content-Type = %q", got)
			}
			if got := w.Header().Get("Accept-Ranges"); got != "bytes" {
				t.Fatalf("Accept-Ranges = %q", got)
			}
			if got := w.Header().Get("Content-Disposition"); got != "inline; filename*=UTF-8''test.mp4" {
				t.Fatalf("Content-Disposition = %q", got)
			}
			if got := w.Header().Get("Content-Length"); got != fmt.Sprintf("%d", tt.wantLen) {
				t.Fatalf("Content-Length = %q, want %d", got, tt.wantLen)
			}

			if tt.method == http.MethodHead {
				if w.Body.Len() != 0 {
					t.Fatalf("HEAD wrote %d body bytes", w.Body.Len())
				}
				return
			}
			if w.Body.Len() != tt.wantLen {
				t.Fatalf("body = %d bytes, want %d", w.Body.Len(), tt.wantLen)
			}
			want := data[tt.wantFrom : tt.wantFrom+tt.wantLen]
			if !bytes.Equal(w.Body.Bytes(), want) {
				t.Fatal("body bytes do not match the requested window")
			}
		})
	}
}

func TestServeOpenFailureLeavesResponseUntouched(t *testing.T) {
	c := Content{
		Name: "gone.mp4",
		Size: 10,
		Open: func(context.Context, int64, int64) (io.ReadCloser, error) {
			return nil, errors.New("backend offline")
		},
	}
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/stream/gone.mp4", nil)

	err := Serve(w, r, c)
	if err == nil {
		t.Fatal("expected open failure to surface")
	}
	if w.Body.Len() != 0 {
		t.Fatalf("body written despite failure: %d bytes", w.Body.Len())
	}
	if len(w.Header()) != 0 {
		t.Fatalf("headers written despite failure: %v", w.Header())
	}
}

func TestServeEmptyFile(t *testing.T) {
	c := Content{Name: "empty.mp4", Size: 0, Location: "local"}

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/stream/empty.mp4", nil)
	if err := Serve(w, r, c); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Content-Length"); got != "0" {
		t.Fatalf("Content-Length = %q, want 0", got)
	}
	if w.Body.Len() != 0 {
		t.Fatalf("body = %d bytes, want none", w.Body.Len())
	}

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/stream/empty.mp4", nil)
	r.Header.Set("Range", "bytes=0-")
	if err := Serve(w, r, c); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if w.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("range on empty file: status = %d, want 416", w.Code)
	}
}

func TestServeShortSourceEndsBodyEarly(t *testing.T) {
	c := Content{
		Name:     "trunc.mp4",
		Size:     4096,
		Location: "local",
		Open: func(context.Context, int64, int64) (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(make([]byte, 10))), nil
		},
	}
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/stream/trunc.mp4", nil)
	r.Header.Set("Range", "bytes=0-99")

	if err := Serve(w, r, c); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if w.Body.Len() != 10 {
		t.Fatalf("body = %d bytes, want the 10 available", w.Body.Len())
	}
}

type failAfterWriter struct {
	writes int
	failAt int
}

func (f *failAfterWriter) Write(p []byte) (int, error) {
	f.writes++
	if f.writes >= f.failAt {
		return 0, errors.New("client went away")
	}
	return len(p), nil
}

func TestCopyChunksStopsOnWriteError(t *testing.T) {
	src := bytes.NewReader(patternBytes(40 * 1024))
	dst := &failAfterWriter{failAt: 2}

	n, err := copyChunks(dst, src, 40*1024)
	if err == nil {
		t.Fatal("expected write error to propagate")
	}
	if n != chunkSize {
		t.Fatalf("wrote %d bytes before failing, want %d", n, chunkSize)
	}
	if dst.writes != 2 {
		t.Fatalf("writes = %d, want 2", dst.writes)
	}
}

func TestCopyChunksExactLength(t *testing.T) {
	data := patternBytes(20000)
	var out bytes.Buffer

	n, err := copyChunks(&out, bytes.NewReader(data), 12345)
	if err != nil {
		t.Fatalf("copyChunks: %v", err)
	}
	if n != 12345 {
		t.Fatalf("n = %d, want 12345", n)
	}
	if !bytes.Equal(out.Bytes(), data[:12345]) {
		t.Fatal("copied bytes do not match source prefix")
	}
}
