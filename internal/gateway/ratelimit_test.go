package gateway

import (
	"testing"
	"time"
)

func TestWebhookRateLimiter_EnforcesBudget(t *testing.T) {
	rl := NewWebhookRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow("203.0.113.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("203.0.113.1") {
		t.Error("4th request within the window should be rejected")
	}
	// Other keys have their own budget.
	if !rl.Allow("203.0.113.2") {
		t.Error("different key should be allowed")
	}
}

func TestWebhookRateLimiter_DisabledWhenZero(t *testing.T) {
	rl := NewWebhookRateLimiter(0, time.Minute)
	for i := 0; i < 1000; i++ {
		if !rl.Allow("k") {
			t.Fatal("limiter with maxHits=0 must allow everything")
		}
	}
}

func TestWebhookRateLimiter_WindowResets(t *testing.T) {
	rl := NewWebhookRateLimiter(1, 10*time.Millisecond)

	if !rl.Allow("k") {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow("k") {
		t.Fatal("second request within the window should be rejected")
	}
	time.Sleep(15 * time.Millisecond)
	if !rl.Allow("k") {
		t.Error("request after the window expires should be allowed")
	}
}

func TestWebhookRateLimiter_BoundsTrackedKeys(t *testing.T) {
	rl := NewWebhookRateLimiter(1, time.Minute)
	for i := 0; i < maxTrackedKeys+100; i++ {
		rl.Allow(string(rune('a'+i%26)) + string(rune('0'+i%10)) + time.Now().String())
	}
	rl.mu.Lock()
	n := len(rl.entries)
	rl.mu.Unlock()
	if n > maxTrackedKeys {
		t.Errorf("tracked keys = %d, must stay <= %d", n, maxTrackedKeys)
	}
}
