// Package ratelimit provides a keyed token bucket rate limiter. It is used
// per client IP on the HTTP API.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedRateLimiter manages per-key rate limiting. Keys idle longer than the
// configured TTL are evicted by a background sweep.
type KeyedRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	limit    rate.Limit
	burst    int
	ttl      time.Duration
	now      func() time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a keyed rate limiter allowing rps requests per second with the
// given burst. A ttl of zero disables eviction.
func New(rps float64, burst int, ttl time.Duration) *KeyedRateLimiter {
	krl := &KeyedRateLimiter{
		limiters: make(map[string]*entry),
		limit:    rate.Limit(rps),
		burst:    burst,
		ttl:      ttl,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	if ttl > 0 {
		go krl.cleanup()
	}
	return krl
}

// PerMinute creates a limiter allowing n requests per minute, with a burst of n.
func PerMinute(n int) *KeyedRateLimiter {
	return New(float64(n)/60, n, 10*time.Minute)
}

// Allow reports whether a request for key may proceed now.
func (krl *KeyedRateLimiter) Allow(key string) bool {
	return krl.getLimiter(key).Allow()
}

// Wait blocks until a request for key is allowed or ctx is done.
func (krl *KeyedRateLimiter) Wait(ctx context.Context, key string) error {
	return krl.getLimiter(key).Wait(ctx)
}

// Len returns the number of tracked keys.
func (krl *KeyedRateLimiter) Len() int {
	krl.mu.Lock()
	defer krl.mu.Unlock()
	return len(krl.limiters)
}

func (krl *KeyedRateLimiter) getLimiter(key string) *rate.Limiter {
	krl.mu.Lock()
	defer krl.mu.Unlock()

	e, ok := krl.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(krl.limit, krl.burst)}
		krl.limiters[key] = e
	}
	e.lastSeen = krl.now()
	return e.limiter
}

// Stop shuts down the cleanup goroutine.
func (krl *KeyedRateLimiter) Stop() {
	krl.stopOnce.Do(func() {
		close(krl.done)
	})
}

// evict removes keys not seen within the TTL.
func (krl *KeyedRateLimiter) evict() {
	krl.mu.Lock()
	defer krl.mu.Unlock()

	cutoff := krl.now().Add(-krl.ttl)
	for k, e := range krl.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(krl.limiters, k)
		}
	}
}

func (krl *KeyedRateLimiter) cleanup() {
	ticker := time.NewTicker(krl.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-krl.done:
			return
		case <-ticker.C:
			krl.evict()
		}
	}
}
