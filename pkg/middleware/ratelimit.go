package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/platinummonkey/bioviews/pkg/httputil"
	"github.com/platinummonkey/bioviews/pkg/observability"
	"github.com/platinummonkey/bioviews/pkg/viewer"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate
	BurstSize int
}

// DefaultRateLimitConfig returns default settings for the record endpoint. A real
// visitor produces at most one record per profile per cooldown, so this is generous.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 60,
		WindowDuration:    time.Minute,
		BurstSize:         10,
	}
}

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// WindowReporter is implemented by limiters that track a shared window, so responses
// can carry the caller's remaining allowance.
type WindowReporter interface {
	Remaining(ctx context.Context, key string) (int, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// RateLimiter is an in-process token bucket per key built on golang.org/x/time/rate.
type RateLimiter struct {
	config  *RateLimitConfig
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}

	burst := config.BurstSize
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if config.RequestsPerWindow > 0 && config.WindowDuration > 0 {
		limit = rate.Every(config.WindowDuration / time.Duration(config.RequestsPerWindow))
	}

	return &RateLimiter{
		config:  config,
		limit:   limit,
		burst:   burst,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow checks if a request is allowed for the given key. It never errors.
func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := rl.now()

	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	rl.mu.Unlock()

	return b.limiter.AllowN(now, 1), nil
}

// Cleanup drops buckets idle for longer than maxIdle and returns how many were removed.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) int {
	cutoff := rl.now().Add(-maxIdle)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for key, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
			removed++
		}
	}
	return removed
}

// StartCleanup runs Cleanup every interval until ctx is done.
func (rl *RateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.Cleanup(interval)
			}
		}
	}()
}

// RateLimitMiddleware limits requests per caller. Authenticated viewers are keyed by user
// id, everyone else by client IP. Limiter errors fail open.
func RateLimitMiddleware(limiter Limiter, config *RateLimitConfig, logger *observability.Logger) func(http.Handler) http.Handler {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := RateLimitKey(r)

			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.WithError(err).WithField("key", key).Warn("rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.RequestsPerWindow))
			if wr, ok := limiter.(WindowReporter); ok {
				setWindowHeaders(r.Context(), w, wr, key)
			}
			if !allowed {
				retryAfter := 1
				if config.RequestsPerWindow > 0 {
					retryAfter = int(math.Ceil(config.WindowDuration.Seconds() / float64(config.RequestsPerWindow)))
				}
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				httputil.WriteTooManyRequests(w, fmt.Sprintf("rate limit exceeded, retry in %ds", retryAfter))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func setWindowHeaders(ctx context.Context, w http.ResponseWriter, wr WindowReporter, key string) {
	if remaining, err := wr.Remaining(ctx, key); err == nil {
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	}
	if ttl, err := wr.TTL(ctx, key); err == nil && ttl > 0 {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(ttl).Unix(), 10))
	}
}

// RateLimitKey derives the bucket key for a request.
func RateLimitKey(r *http.Request) string {
	if v := viewer.FromContext(r.Context()); v.IsAuthenticated() {
		return "user:" + v.UserID
	}
	return "ip:" + httputil.ClientIP(r)
}
