package middleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimiter applies per-IP token bucket limiting to the API surface.
// Path prefixes registered with ExemptPrefix bypass the limiter entirely,
// which keeps GitHub webhook deliveries flowing even when many watched
// repositories push at once from GitHub's shared egress addresses.
type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*tokenBucket
	rate     float64
	burst    int
	capacity int // max tracked client IPs
	exempt   []string
}

type tokenBucket struct {
	tokens   float64
	refilled time.Time
	lastSeen time.Time
}

// NewRateLimiter creates a limiter with the given sustained rate
// (requests per second) and burst size.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		buckets:  make(map[string]*tokenBucket),
		rate:     rate,
		burst:    burst,
		capacity: 100000,
	}
}

// ExemptPrefix excludes a path prefix from limiting. Exempt routes must
// carry their own authentication, such as the webhook HMAC signature.
func (rl *RateLimiter) ExemptPrefix(prefix string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.exempt = append(rl.exempt, prefix)
}

// Handler returns HTTP middleware that enforces per-IP rate limiting.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.isExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		remaining, retryAfter, allowed := rl.take(clientIP(r))

		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(time.Second).Unix()))

		if !allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", math.Ceil(retryAfter)))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) isExempt(path string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for _, p := range rl.exempt {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// take consumes a token for the given IP. It returns the remaining tokens,
// the seconds until the next token, and whether the request may proceed.
func (rl *RateLimiter) take(ip string) (remaining int, retryAfter float64, allowed bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, ok := rl.buckets[ip]
	if !ok {
		// Cap the number of tracked IPs so a scan cannot exhaust memory.
		if len(rl.buckets) >= rl.capacity {
			return 0, 1.0 / rl.rate, false
		}
		rl.buckets[ip] = &tokenBucket{
			tokens:   float64(rl.burst) - 1,
			refilled: now,
			lastSeen: now,
		}
		return rl.burst - 1, 0, true
	}

	b.tokens += now.Sub(b.refilled).Seconds() * rl.rate
	if b.tokens > float64(rl.burst) {
		b.tokens = float64(rl.burst)
	}
	b.refilled = now
	b.lastSeen = now

	if b.tokens < 1 {
		return 0, (1 - b.tokens) / rl.rate, false
	}

	b.tokens--
	return int(b.tokens), 0, true
}

// StartCleanup spawns a goroutine that drops buckets idle for longer than
// maxIdle, checking every interval. The returned function stops it.
func (rl *RateLimiter) StartCleanup(interval, maxIdle time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.sweep(maxIdle)
			}
		}
	}()
	return cancel
}

func (rl *RateLimiter) sweep(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-maxIdle)
	for ip, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, ip)
		}
	}
}

// Len returns the number of tracked IP buckets.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// clientIP extracts the client IP from RemoteAddr. Proxy headers are not
// trusted here because they can be spoofed to bypass the limiter; the
// router's RealIP middleware rewrites RemoteAddr for trusted proxies.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
