package ratelimit

import (
	"sync"
	"time"
)

// keyedEntry pairs a bucket with its last-touched time for idle eviction.
type keyedEntry struct {
	bucket   *TokenBucket
	lastSeen time.Time
}

// KeyedLimiter maintains one token bucket per key (sender identity). Buckets
// for idle keys are evicted opportunistically so the map does not grow without
// bound under identity churn.
type KeyedLimiter struct {
	clock       Clock
	capacity    int64
	fillRate    int64
	idleTimeout time.Duration

	mu      sync.Mutex
	buckets map[string]*keyedEntry
}

const defaultKeyIdleTimeout = 10 * time.Minute

func NewKeyedLimiter(clock Clock, capacity, fillRate int64) *KeyedLimiter {
	if clock == nil {
		clock = RealClock{}
	}
	return &KeyedLimiter{
		clock:       clock,
		capacity:    capacity,
		fillRate:    fillRate,
		idleTimeout: defaultKeyIdleTimeout,
		buckets:     make(map[string]*keyedEntry),
	}
}

// Allow consumes one token from key's bucket, creating it on first use.
// A limiter with capacity <= 0 never limits.
func (l *KeyedLimiter) Allow(key string) bool {
	if l.capacity <= 0 {
		return true
	}

	now := l.clock.Now()

	l.mu.Lock()
	entry, ok := l.buckets[key]
	if !ok {
		entry = &keyedEntry{bucket: NewTokenBucket(l.clock, l.capacity, l.fillRate)}
		l.buckets[key] = entry
	}
	entry.lastSeen = now
	l.evictIdleLocked(now)
	l.mu.Unlock()

	return entry.bucket.Allow()
}

// Keys reports how many per-identity buckets are currently tracked.
func (l *KeyedLimiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *KeyedLimiter) evictIdleLocked(now time.Time) {
	for key, entry := range l.buckets {
		if now.Sub(entry.lastSeen) > l.idleTimeout {
			delete(l.buckets, key)
		}
	}
}
