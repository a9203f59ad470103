package queue

import (
	"sync"
	"time"
)

// TokenBucket represents a token bucket for rate limiting.
type TokenBucket struct {
	lastRefill   time.Time
	lastUsed     time.Time
	refillPeriod time.Duration
	capacity     int
	tokens       int
	refillRate   int
	mu           sync.Mutex
}

// NewTokenBucket creates a full token bucket.
func NewTokenBucket(capacity, refillRate int, refillPeriod time.Duration, now time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:     capacity,
		tokens:       capacity,
		refillRate:   refillRate,
		refillPeriod: refillPeriod,
		lastRefill:   now,
		lastUsed:     now,
	}
}

// Allow tries to consume a token at now, returns true if successful.
func (tb *TokenBucket) Allow(now time.Time) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(now)
	tb.lastUsed = now

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}

	return false
}

// refill adds tokens based on elapsed time.
func (tb *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(tb.lastRefill)

	periods := int(elapsed / tb.refillPeriod)
	if periods <= 0 {
		return
	}

	tb.tokens += periods * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}

	tb.lastRefill = tb.lastRefill.Add(time.Duration(periods) * tb.refillPeriod)
}

// TokenBucketLimiter implements RateLimiter with one token bucket per key.
type TokenBucketLimiter struct {
	buckets      map[string]*TokenBucket
	now          func() time.Time
	capacity     int
	refillRate   int
	refillPeriod time.Duration
	mu           sync.Mutex
}

// NewRateLimiter creates a rate limiter allowing capacity messages per key,
// refilling refillRate tokens every refillPeriod.
func NewRateLimiter(capacity, refillRate int, refillPeriod time.Duration) *TokenBucketLimiter {
	if refillRate <= 0 {
		refillRate = 1
	}
	if refillPeriod <= 0 {
		refillPeriod = time.Minute
	}
	return &TokenBucketLimiter{
		buckets:      make(map[string]*TokenBucket),
		now:          time.Now,
		capacity:     capacity,
		refillRate:   refillRate,
		refillPeriod: refillPeriod,
	}
}

// Allow checks if key can be served now.
func (rl *TokenBucketLimiter) Allow(key string) bool {
	now := rl.now()

	rl.mu.Lock()
	bucket, exists := rl.buckets[key]
	if !exists {
		bucket = NewTokenBucket(rl.capacity, rl.refillRate, rl.refillPeriod, now)
		rl.buckets[key] = bucket
	}
	rl.mu.Unlock()

	return bucket.Allow(now)
}

// CleanupStale removes buckets that have not been used for maxAge and
// returns how many were removed.
func (rl *TokenBucketLimiter) CleanupStale(maxAge time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-maxAge)
	removed := 0

	for key, bucket := range rl.buckets {
		bucket.mu.Lock()
		stale := bucket.lastUsed.Before(cutoff)
		bucket.mu.Unlock()

		if stale {
			delete(rl.buckets, key)
			removed++
		}
	}

	return removed
}

// Len returns the number of tracked keys.
func (rl *TokenBucketLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}
