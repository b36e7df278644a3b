// Package ratelimit provides the deterministic rate limiting primitives used
// by the mailbox service to bound per-identity signal sends.
package ratelimit

import (
	"sync"
	"time"
)

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// One token is represented as 1e9 nano-tokens, so a rate of X tokens/sec adds
// X nano-tokens per elapsed nanosecond. Fixed point avoids float rounding.
const nanoTokensPerToken int64 = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket refills at an integer rate (tokens/sec) using the provided
// Clock.
type TokenBucket struct {
	mu sync.Mutex

	clock Clock

	capacityTokens int64
	fillRate       int64 // tokens/sec

	availableNano int64
	last          time.Time
}

func NewTokenBucket(clock Clock, capacityTokens, fillRate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacityTokens < 0 {
		capacityTokens = 0
	}
	if fillRate < 0 {
		fillRate = 0
	}
	return &TokenBucket{
		clock:          clock,
		capacityTokens: capacityTokens,
		fillRate:       fillRate,
		availableNano:  tokensToNano(capacityTokens),
		last:           clock.Now(),
	}
}

// Allow consumes one token if available.
func (b *TokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	if b.availableNano < nanoTokensPerToken {
		return false
	}
	b.availableNano -= nanoTokensPerToken
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Time went backwards; move the reference point without refilling.
		b.last = now
		return
	}
	elapsed := now.Sub(b.last)
	if elapsed <= 0 {
		return
	}
	b.last = now

	if b.fillRate <= 0 || b.capacityTokens <= 0 {
		return
	}

	capacityNano := tokensToNano(b.capacityTokens)
	if b.availableNano >= capacityNano {
		b.availableNano = capacityNano
		return
	}

	need := capacityNano - b.availableNano
	elapsedNanos := elapsed.Nanoseconds()

	// fillRate tokens/sec equals fillRate nano-tokens/ns in this fixed-point
	// representation. Clamp instead of overflowing when the bucket had long
	// enough to fill completely.
	maxElapsedToFill := need / b.fillRate
	if maxElapsedToFill <= 0 || elapsedNanos >= maxElapsedToFill {
		b.availableNano = capacityNano
		return
	}

	b.availableNano += elapsedNanos * b.fillRate
	if b.availableNano > capacityNano {
		b.availableNano = capacityNano
	}
}

func tokensToNano(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/nanoTokensPerToken {
		return maxInt64
	}
	return tokens * nanoTokensPerToken
}
