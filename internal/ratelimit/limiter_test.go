package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupLimiter(t *testing.T, maxAttempts int) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	return NewRedisLimiter(cache, maxAttempts), mr
}

func TestBlockedAfterMaxAttempts(t *testing.T) {
	limiter, _ := setupLimiter(t, 5)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if limiter.Blocked(ctx, "10.0.0.1", "ip", "/register/start") {
			t.Fatalf("attempt %d unexpectedly blocked", i+1)
		}
	}
	if !limiter.Blocked(ctx, "10.0.0.1", "ip", "/register/start") {
		t.Fatalf("expected 6th attempt to be blocked")
	}
}

func TestWindowExpires(t *testing.T) {
	limiter, mr := setupLimiter(t, 1)
	ctx := context.Background()

	if limiter.Blocked(ctx, "10.0.0.1", "ip", "/login/start") {
		t.Fatalf("first attempt blocked")
	}
	if !limiter.Blocked(ctx, "10.0.0.1", "ip", "/login/start") {
		t.Fatalf("second attempt should be blocked")
	}

	mr.FastForward(time.Minute + time.Second)

	if limiter.Blocked(ctx, "10.0.0.1", "ip", "/login/start") {
		t.Fatalf("attempt after window should be allowed")
	}
}

func TestEndpointsCountedSeparately(t *testing.T) {
	limiter, _ := setupLimiter(t, 1)
	ctx := context.Background()

	if limiter.Blocked(ctx, "10.0.0.1", "ip", "/register/start") {
		t.Fatalf("register attempt blocked")
	}
	if limiter.Blocked(ctx, "10.0.0.1", "ip", "/login/start") {
		t.Fatalf("login attempt should have its own budget")
	}
}

func TestFailClosedWhenRedisDown(t *testing.T) {
	limiter, mr := setupLimiter(t, 5)
	mr.Close()

	if !limiter.Blocked(context.Background(), "10.0.0.1", "ip", "/register/start") {
		t.Fatalf("expected blocked when redis is unreachable")
	}
}
