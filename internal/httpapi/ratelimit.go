package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/medvault/phr-access/pkg/types"
)

// RateLimiter applies a token bucket per principal so one caller cannot
// starve the service. Buckets refill continuously at limit tokens per
// period.
type RateLimiter struct {
	mu      sync.RWMutex
	buckets map[types.Principal]*tokenBucket
	limit   int
	period  time.Duration
	now     func() time.Time
}

type tokenBucket struct {
	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
}

// NewRateLimiter creates a limiter allowing limit requests per period for
// each principal.
func NewRateLimiter(limit int, period time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[types.Principal]*tokenBucket),
		limit:   limit,
		period:  period,
		now:     time.Now,
	}
}

// Allow reports whether the principal may proceed, consuming a token if so.
func (rl *RateLimiter) Allow(principal types.Principal) bool {
	bucket := rl.bucket(principal)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	now := rl.now()
	elapsed := now.Sub(bucket.lastRefill)
	if elapsed >= rl.period {
		bucket.tokens = rl.limit
		bucket.lastRefill = now
	} else if add := int(elapsed.Nanoseconds() * int64(rl.limit) / rl.period.Nanoseconds()); add > 0 {
		bucket.tokens += add
		if bucket.tokens > rl.limit {
			bucket.tokens = rl.limit
		}
		bucket.lastRefill = now
	}

	if bucket.tokens > 0 {
		bucket.tokens--
		return true
	}
	return false
}

// Handler wraps next with per-principal rate limiting. Requests without a
// principal in context pass through; the auth middleware rejects those
// separately.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFrom(r.Context())
		if ok && !rl.Allow(principal) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"code":"RATE_LIMITED","message":"too many requests"}}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) bucket(principal types.Principal) *tokenBucket {
	rl.mu.RLock()
	bucket, ok := rl.buckets[principal]
	rl.mu.RUnlock()
	if ok {
		return bucket
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if bucket, ok = rl.buckets[principal]; ok {
		return bucket
	}
	bucket = &tokenBucket{tokens: rl.limit, lastRefill: rl.now()}
	rl.buckets[principal] = bucket
	return bucket
}
