package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestTokenBucket(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	bucket := newTokenBucket(2, 5, clk.now) // 2 tokens per second, capacity of 5

	for i := 0; i < 5; i++ {
		if !bucket.Allow() {
			t.Errorf("Expected initial request %d to be allowed", i)
		}
	}
	if bucket.Allow() {
		t.Error("Expected request to be denied when bucket is empty")
	}

	clk.advance(1100 * time.Millisecond)

	if !bucket.Allow() {
		t.Error("Expected request to be allowed after token refill")
	}
	if !bucket.Allow() {
		t.Error("Expected second request to be allowed after token refill")
	}
	if bucket.Allow() {
		t.Error("Expected third request to be denied")
	}
}

func TestTokenBucketFull(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	bucket := newTokenBucket(1, 2, clk.now)
	if !bucket.Full() {
		t.Fatal("Expected new bucket to be full")
	}
	bucket.Allow()
	if bucket.Full() {
		t.Fatal("Expected bucket to be below capacity after Allow")
	}
	clk.advance(2 * time.Second)
	if !bucket.Full() {
		t.Fatal("Expected bucket to refill to capacity")
	}
}

func TestRateLimiterPerIPAdmissions(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	rl := newRateLimiter(2, 0, 3, clk.now) // 2 admissions/s per IP, burst 3; messages unlimited

	ip := "10.0.0.1"
	for i := 0; i < 3; i++ {
		if !rl.AllowAdmission(ip) {
			t.Errorf("Expected admission %d to be allowed for %s", i, ip)
		}
	}
	if rl.AllowAdmission(ip) {
		t.Error("Expected admission to be denied due to per-IP limit")
	}
	if !rl.AllowAdmission("10.0.0.2") {
		t.Error("Expected admission to be allowed for different IP")
	}
	for i := 0; i < 100; i++ {
		if !rl.AllowMessage("session") {
			t.Fatalf("Expected message %d to be allowed when message limit disabled", i)
		}
	}
}

func TestRateLimiterPerSessionMessages(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	rl := newRateLimiter(0, 1, 2, clk.now)

	if !rl.AllowMessage("a") || !rl.AllowMessage("a") {
		t.Fatal("Expected burst of 2 messages to be allowed")
	}
	if rl.AllowMessage("a") {
		t.Error("Expected third message to be denied")
	}
	if !rl.AllowMessage("b") {
		t.Error("Expected separate session to have its own bucket")
	}
	clk.advance(time.Second)
	if !rl.AllowMessage("a") {
		t.Error("Expected message to be allowed after refill")
	}
}

func TestRateLimiterRetain(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	rl := newRateLimiter(1, 1, 1, clk.now)

	rl.AllowAdmission("ip1")
	rl.AllowMessage("s1")
	rl.AllowMessage("s2")

	rl.Retain(map[string]bool{"s1": true})

	if got := rl.messages.len(); got != 1 {
		t.Errorf("Expected 1 message bucket after retain, got %d", got)
	}
	if _, ok := rl.messages.buckets["s1"]; !ok {
		t.Error("Expected s1 bucket to remain")
	}
	// ip1 is still drained, so its bucket must survive
	if got := rl.admissions.len(); got != 1 {
		t.Errorf("Expected drained admission bucket to remain, got %d", got)
	}

	clk.advance(2 * time.Second)
	rl.Retain(map[string]bool{"s1": true})
	if got := rl.admissions.len(); got != 0 {
		t.Errorf("Expected refilled admission bucket to be pruned, got %d", got)
	}
}

func TestNilRateLimiterAllowsEverything(t *testing.T) {
	var rl *RateLimiter
	if !rl.AllowAdmission("x") || !rl.AllowMessage("y") {
		t.Fatal("Expected nil limiter to allow")
	}
	rl.Retain(nil)
}
