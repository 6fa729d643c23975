package handlers

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleSweep = 1024

type rateLimiter interface {
	Allow(actor, sku string) bool
}

// allocationLimiter keeps one token bucket per operator and SKU. Buckets refill at limit per window
// and hold at most limit tokens.
type allocationLimiter struct {
	every rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu      sync.Mutex
	buckets map[bucketKey]*bucket
	calls   int
}

type bucketKey struct {
	actor string
	sku   string
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// newAllocationLimiter returns nil when limit or window is not positive.
func newAllocationLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &allocationLimiter{
		every:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		idle:    window,
		now:     clock,
		buckets: make(map[bucketKey]*bucket),
	}
}

func (l *allocationLimiter) Allow(actor, sku string) bool {
	if actor == "" {
		actor = "anonymous"
	}
	key := bucketKey{actor: actor, sku: sku}
	at := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.calls%limiterIdleSweep == 0 {
		l.sweep(at)
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.every, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = at
	return b.lim.AllowN(at, 1)
}

// sweep forgets buckets untouched for a full window; they would have refilled anyway.
func (l *allocationLimiter) sweep(at time.Time) {
	for key, b := range l.buckets {
		if at.Sub(b.lastSeen) >= l.idle {
			delete(l.buckets, key)
		}
	}
}
