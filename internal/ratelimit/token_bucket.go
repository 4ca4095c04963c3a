// Package ratelimit throttles signaling requests with token buckets.
package ratelimit

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// nanoTokensPerToken scales tokens to fixed point so a rate of N tokens/sec
// adds exactly N nano-tokens per elapsed nanosecond.
const nanoTokensPerToken int64 = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket refills at an integer rate (tokens/sec) using clk.
type TokenBucket struct {
	mu    sync.Mutex
	clock clock.Clock

	capacity  int64 // nano-tokens
	rate      int64 // tokens/sec == nano-tokens/ns
	available int64 // nano-tokens
	last      time.Time
}

// NewTokenBucket returns a full bucket. A nil clk uses the wall clock.
func NewTokenBucket(clk clock.Clock, capacityTokens, tokensPerSecond int64) *TokenBucket {
	if clk == nil {
		clk = clock.New()
	}
	if tokensPerSecond < 0 {
		tokensPerSecond = 0
	}
	capacity := toNano(capacityTokens)
	return &TokenBucket{
		clock:     clk,
		capacity:  capacity,
		rate:      tokensPerSecond,
		available: capacity,
		last:      clk.Now(),
	}
}

// Allow consumes tokens if they are available. tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}
	cost := toNano(tokens)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now
	if elapsed <= 0 || b.rate <= 0 || b.available >= b.capacity {
		return
	}

	// Clamp before multiplying so elapsed*rate cannot overflow.
	need := b.capacity - b.available
	if elapsed >= need/b.rate {
		b.available = b.capacity
		return
	}
	b.available += elapsed * b.rate
	if b.available > b.capacity {
		b.available = b.capacity
	}
}

func toNano(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/nanoTokensPerToken {
		return maxInt64
	}
	return tokens * nanoTokensPerToken
}
