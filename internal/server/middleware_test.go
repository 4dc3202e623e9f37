package server

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestValidRequestID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		id   string
		want bool
	}{
		{"trace-123", true},
		{"a.b_c-D9", true},
		{"", false},
		{strings.Repeat("a", maxRequestIDLen), true},
		{strings.Repeat("a", maxRequestIDLen+1), false},
		{"has space", false},
		{"line\nbreak", false},
		{"quote\"", false},
	}
	for _, tc := range cases {
		if got := validRequestID(tc.id); got != tc.want {
			t.Errorf("validRequestID(%q) = %v, want %v", tc.id, got, tc.want)
		}
	}
}

func TestRequestLogger_ReplacesMalformedID(t *testing.T) {
	t.Parallel()

	h := requestLogger(slog.New(slog.DiscardHandler), okHandler)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(requestIDHeader, "bad id\n")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get(requestIDHeader); got == "bad id\n" || len(got) != 16 {
		t.Errorf("X-Request-ID = %q, want a generated 16-char id", got)
	}
}

// TestRequestLogger_AccessLine verifies the access line carries the request
// ID, status and body size, and that its level follows the status class.
func TestRequestLogger_AccessLine(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "level=INFO"},
		{http.StatusNotFound, "level=WARN"},
		{http.StatusBadGateway, "level=ERROR"},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
		h := requestLogger(log, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte("hello"))
		}))

		req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
		req.Header.Set(requestIDHeader, "req-1")
		h.ServeHTTP(httptest.NewRecorder(), req)

		out := buf.String()
		for _, want := range []string{tc.level, "request_id=req-1", "bytes=5", "path=/api/documents"} {
			if !strings.Contains(out, want) {
				t.Errorf("status %d: access line missing %q: %s", tc.status, want, out)
			}
		}
	}
}
