package guard

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter bounds how often runtime checks may be issued per key.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow reports whether the caller identified by key may spend
	// cost tokens now. An error means the limiter backend is
	// unavailable; the guard treats that as a denial.
	Allow(ctx context.Context, key string, cost int) (bool, error)
}

// LocalLimiter keeps one in-process token bucket per key. Suitable for
// single-instance deployments; use RedisLimiter to share buckets across
// instances.
type LocalLimiter struct {
	perSecond rate.Limit
	burst     int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewLocalLimiter allows perSecond sustained checks per key with bursts
// up to burst. Non-positive arguments fall back to 1.
func NewLocalLimiter(perSecond float64, burst int) *LocalLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &LocalLimiter{
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		buckets:   make(map[string]*rate.Limiter),
	}
}

// Allow consumes cost tokens from the key's bucket. Local buckets
// cannot fail, so the error is always nil.
func (l *LocalLimiter) Allow(_ context.Context, key string, cost int) (bool, error) {
	l.mu.Lock()
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = rate.NewLimiter(l.perSecond, l.burst)
		l.buckets[key] = bucket
	}
	l.mu.Unlock()

	return bucket.AllowN(time.Now(), cost), nil
}
