package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/54b3r/docqa-go/internal/logging"
)

const (
	// defaultRateLimit is the sustained per-client request rate on upload
	// and query when RATE_LIMIT_RPS is unset.
	defaultRateLimit = 10
	// defaultRateBurst is the per-client burst when RATE_LIMIT_BURST is unset.
	defaultRateBurst = 20
	// bucketIdle is how long an unused client bucket is kept.
	bucketIdle = 5 * time.Minute
	// maxRetryAfter caps the Retry-After hint.
	maxRetryAfter = time.Hour
)

// bucket is one client's token bucket.
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter throttles upload and query per client IP. Both are expensive:
// an upload runs extraction and embedding, a query runs embedding,
// re-ranking and generation.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	rps   rate.Limit
	burst int
	log   *slog.Logger

	// rejected counts 429 responses. Nil disables counting.
	rejected prometheus.Counter
}

// newRateLimiter returns a limiter and a stop function for its background
// sweeper. stop is safe to call more than once.
func newRateLimiter(rps float64, burst int, log *slog.Logger) (*rateLimiter, func()) {
	rl := &rateLimiter{
		buckets: make(map[string]*bucket),
		rps:     rate.Limit(rps),
		burst:   burst,
		log:     log,
	}

	done := make(chan struct{})
	go rl.sweep(done)

	var once sync.Once
	return rl, func() { once.Do(func() { close(done) }) }
}

// limiterFor returns the bucket of ip, creating it on first use.
func (rl *rateLimiter) limiterFor(ip string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[ip] = b
	}
	b.lastSeen = now
	return b.limiter
}

func (rl *rateLimiter) sweep(done <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			rl.forgetIdle(now)
		}
	}
}

// forgetIdle drops buckets unused for longer than bucketIdle.
func (rl *rateLimiter) forgetIdle(now time.Time) {
	rl.mu.Lock()
	dropped := 0
	for ip, b := range rl.buckets {
		if now.Sub(b.lastSeen) > bucketIdle {
			delete(rl.buckets, ip)
			dropped++
		}
	}
	left := len(rl.buckets)
	rl.mu.Unlock()

	if dropped > 0 {
		rl.log.Debug("rate limit: dropped idle clients",
			slog.Int("dropped", dropped),
			slog.Int("tracked", left),
		)
	}
}

// middleware rejects over-limit requests with 429, a Retry-After hint and a
// JSON error body.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()
		ip := clientIP(r)
		limiter := rl.limiterFor(ip, now)

		if limiter.AllowN(now, 1) {
			next.ServeHTTP(w, r)
			return
		}

		if rl.rejected != nil {
			rl.rejected.Inc()
		}
		retry := retryAfter(limiter.TokensAt(now), rl.rps)
		logging.FromContext(r.Context()).Warn("rate limit exceeded",
			slog.String("ip", ip),
			slog.String("path", r.URL.Path),
			slog.Duration("retry_after", retry),
		)
		w.Header().Set("Retry-After", strconv.Itoa(int(retry/time.Second)))
		writeJSON(w, r, http.StatusTooManyRequests, errorResponse{
			Error:  "rate limit exceeded",
			Reason: "rate_limited",
		})
	})
}

// retryAfter is the time until one token is available, rounded up to whole
// seconds, at least one second and at most maxRetryAfter.
func retryAfter(tokens float64, rps rate.Limit) time.Duration {
	if rps <= 0 || rps == rate.Inf {
		return time.Second
	}
	secs := math.Ceil((1 - tokens) / float64(rps))
	d := time.Duration(secs) * time.Second
	switch {
	case d < time.Second:
		return time.Second
	case d > maxRetryAfter:
		return maxRetryAfter
	}
	return d
}

// clientIP returns the host part of RemoteAddr. Forwarding headers are not
// trusted.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if i := strings.LastIndexByte(r.RemoteAddr, ':'); i >= 0 {
		return r.RemoteAddr[:i]
	}
	return r.RemoteAddr
}
