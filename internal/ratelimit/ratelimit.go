package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements a token bucket rate limiter
type TokenBucket struct {
	mu         sync.Mutex
	tokens     int
	capacity   int
	rate       int // tokens per second
	lastRefill time.Time
	now        func() time.Time
}

// NewTokenBucket creates a new token bucket with the given rate and capacity
func NewTokenBucket(rate, capacity int) *TokenBucket {
	return newTokenBucket(rate, capacity, time.Now)
}

func newTokenBucket(rate, capacity int, now func() time.Time) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	return &TokenBucket{
		tokens:     capacity,
		capacity:   capacity,
		rate:       rate,
		lastRefill: now(),
		now:        now,
	}
}

// Allow consumes a token if one is available.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Full reports whether the bucket has refilled to capacity.
func (tb *TokenBucket) Full() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return tb.tokens >= tb.capacity
}

func (tb *TokenBucket) refill() {
	now := tb.now()
	tokensToAdd := int(now.Sub(tb.lastRefill).Seconds() * float64(tb.rate))
	if tokensToAdd > 0 {
		tb.tokens = min(tb.tokens+tokensToAdd, tb.capacity)
		tb.lastRefill = now
	}
}

// keyed is a set of per-key buckets sharing one rate; rate 0 disables it.
type keyed struct {
	mu      sync.Mutex
	rate    int
	burst   int
	buckets map[string]*TokenBucket
	now     func() time.Time
}

func (k *keyed) allow(key string) bool {
	if k.rate <= 0 {
		return true
	}
	k.mu.Lock()
	b, ok := k.buckets[key]
	if !ok {
		b = newTokenBucket(k.rate, k.burst, k.now)
		k.buckets[key] = b
	}
	k.mu.Unlock()
	return b.Allow()
}

func (k *keyed) retain(active map[string]bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for key := range k.buckets {
		if !active[key] {
			delete(k.buckets, key)
		}
	}
}

func (k *keyed) pruneFull() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for key, b := range k.buckets {
		if b.Full() {
			delete(k.buckets, key)
		}
	}
}

func (k *keyed) len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}

// RateLimiter throttles admissions per remote IP and messages per session.
// A nil *RateLimiter allows everything.
type RateLimiter struct {
	admissions keyed
	messages   keyed
}

// NewRateLimiter builds a limiter. Rates are tokens per second; 0 disables
// that limit. burst is the bucket capacity for both.
func NewRateLimiter(admissionRate, messageRate, burst int) *RateLimiter {
	return newRateLimiter(admissionRate, messageRate, burst, time.Now)
}

func newRateLimiter(admissionRate, messageRate, burst int, now func() time.Time) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		admissions: keyed{rate: admissionRate, burst: burst, buckets: make(map[string]*TokenBucket), now: now},
		messages:   keyed{rate: messageRate, burst: burst, buckets: make(map[string]*TokenBucket), now: now},
	}
}

// AllowAdmission reports whether a new connection from ip may be admitted.
func (rl *RateLimiter) AllowAdmission(ip string) bool {
	if rl == nil {
		return true
	}
	return rl.admissions.allow(ip)
}

// AllowMessage reports whether the session may relay another message.
func (rl *RateLimiter) AllowMessage(session string) bool {
	if rl == nil {
		return true
	}
	return rl.messages.allow(session)
}

// Retain drops message buckets of sessions not in activeSessions and
// admission buckets that have refilled completely.
func (rl *RateLimiter) Retain(activeSessions map[string]bool) {
	if rl == nil {
		return
	}
	rl.admissions.pruneFull()
	rl.messages.retain(activeSessions)
}
