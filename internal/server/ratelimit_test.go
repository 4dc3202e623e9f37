package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

// hit sends one query request from ip through h.
func hit(h http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/query", nil)
	req.RemoteAddr = ip + ":40000"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_BurstThenReject(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(0.001, 3, slog.Default())
	defer stop()
	h := rl.middleware(okHandler)

	want := []int{200, 200, 200, 429, 429}
	for i, code := range want {
		if got := hit(h, "10.0.0.1").Code; got != code {
			t.Errorf("request %d: status = %d, want %d", i, got, code)
		}
	}
}

func TestRateLimit_RetryAfterHeader(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(0.001, 1, slog.Default())
	defer stop()
	h := rl.middleware(okHandler)

	hit(h, "10.0.0.2")
	w := hit(h, "10.0.0.2")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	// One token every 1000s.
	if got := w.Header().Get("Retry-After"); got != "1000" {
		t.Errorf("Retry-After = %q, want 1000", got)
	}
}

func TestRateLimit_PerClientBuckets(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(0.001, 1, slog.Default())
	defer stop()
	h := rl.middleware(okHandler)

	for range 3 {
		hit(h, "192.168.1.1")
	}
	if got := hit(h, "192.168.1.2").Code; got != http.StatusOK {
		t.Errorf("second client: status = %d, want 200", got)
	}
}

func TestRateLimit_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	_, stop := newRateLimiter(1, 1, slog.Default())
	stop()
	stop()
}

func TestRateLimit_JSONBody(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(0.001, 1, slog.Default())
	defer stop()
	h := rl.middleware(okHandler)

	hit(h, "10.0.0.3")
	w := hit(h, "10.0.0.3")
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body errorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Reason != "rate_limited" {
		t.Errorf("reason = %q, want rate_limited", body.Reason)
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	cases := []struct {
		remoteAddr string
		wantIP     string
	}{
		{"127.0.0.1:54321", "127.0.0.1"},
		{"10.0.0.1:80", "10.0.0.1"},
		{"::1:8080", "::1"},
		{"noport", "noport"},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remoteAddr
		got := clientIP(req)
		if got != tc.wantIP {
			t.Errorf("remoteAddr=%q: expected %q, got %q", tc.remoteAddr, tc.wantIP, got)
		}
	}
}

func TestRetryAfter(t *testing.T) {
	t.Parallel()

	cases := []struct {
		tokens float64
		rps    rate.Limit
		want   time.Duration
	}{
		{0, 10, time.Second},
		{0, 0.5, 2 * time.Second},
		{-1, 0.5, 4 * time.Second},
		{0.5, 0.25, 2 * time.Second},
		{0, 0.0001, maxRetryAfter},
		{0, 0, time.Second},
		{0, rate.Inf, time.Second},
	}
	for _, tc := range cases {
		if got := retryAfter(tc.tokens, tc.rps); got != tc.want {
			t.Errorf("retryAfter(%v, %v) = %v, want %v", tc.tokens, tc.rps, got, tc.want)
		}
	}
}

func TestForgetIdle(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(1, 1, slog.Default())
	defer stop()

	now := time.Now()
	rl.limiterFor("10.0.0.1", now.Add(-2*bucketIdle))
	rl.limiterFor("10.0.0.2", now)
	rl.forgetIdle(now)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.buckets["10.0.0.1"]; ok {
		t.Error("idle bucket was kept")
	}
	if _, ok := rl.buckets["10.0.0.2"]; !ok {
		t.Error("active bucket was dropped")
	}
}
