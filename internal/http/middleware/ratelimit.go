package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/carebridgehq/carebridge-platform/internal/tenancy"
)

const (
	bucketSweepInterval = 5 * time.Minute
	bucketIdleTTL       = 10 * time.Minute
)

// RateLimiter applies a token bucket per key.
type RateLimiter struct {
	rate  float64 // tokens added per second
	burst float64 // bucket capacity

	mu      sync.Mutex
	buckets map[string]*bucket

	now func() time.Time
}

// bucket tracks the remaining tokens for one key. Refill happens lazily on
// each take, so idle buckets cost nothing until they are touched again.
type bucket struct {
	tokens float64
	last   time.Time
}

func (b *bucket) take(now time.Time, rate, burst float64) bool {
	b.tokens += now.Sub(b.last).Seconds() * rate
	if b.tokens > burst {
		b.tokens = burst
	}
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// NewRateLimiter allows rate requests per second per key, with burst extra
// requests before throttling kicks in.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		rate:    rate,
		burst:   float64(burst),
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
	go rl.sweep()
	return rl
}

// Allow reports whether a request under key is within the rate limit.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.burst, last: now}
		rl.buckets[key] = b
	}
	return b.take(now, rl.rate, rl.burst)
}

// sweep evicts buckets idle long enough to have refilled completely, keeping
// the map from growing without bound across tenants and IPs.
func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(bucketSweepInterval)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := rl.now().Add(-bucketIdleTTL)
		rl.mu.Lock()
		for key, b := range rl.buckets {
			if b.last.Before(cutoff) {
				delete(rl.buckets, key)
			}
		}
		rl.mu.Unlock()
	}
}

// RateLimitPerPractice returns an HTTP middleware that rejects requests
// exceeding the configured rate with 429 Too Many Requests. Each practice
// gets its own bucket so one tenant cannot starve another; requests without
// a tenant fall back to a per-IP bucket.
func RateLimitPerPractice(rate float64, burst int) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(rate, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := tenancy.PracticeIDFromContext(r.Context())
			if !ok || key == "" {
				key = clientIP(r)
			}
			if !limiter.Allow(key) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	// Prefer X-Real-Ip set by chi's RealIP middleware.
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
