package redis

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func setupTestRateLimiter(t *testing.T, limit int, window time.Duration) (*RateLimiter, func()) {
	t.Helper()
	client, _, cleanup := setupTestRedis(t)

	limiter := NewRateLimiter(client, zap.NewNop(), limit, window)

	return limiter, cleanup
}

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	limiter, cleanup := setupTestRateLimiter(t, 5, time.Minute)
	defer cleanup()

	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, err := limiter.Allow(ctx, "openai")
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if !result.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if result.Limit != 5 {
			t.Errorf("request %d: expected limit 5, got %d", i, result.Limit)
		}
		if result.Remaining != 4-i {
			t.Errorf("request %d: expected remaining %d, got %d", i, 4-i, result.Remaining)
		}
	}
}

func TestRateLimiter_BurstWithinOneInstant(t *testing.T) {
	limiter, cleanup := setupTestRateLimiter(t, 10, time.Minute)
	defer cleanup()

	ctx := context.Background()

	// Calls landing in the same nanosecond must each count once.
	for i := 0; i < 10; i++ {
		result, err := limiter.Allow(ctx, "openai")
		if err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
		if !result.Allowed {
			t.Fatalf("call %d should be allowed", i)
		}
	}

	result, _ := limiter.Allow(ctx, "openai")
	if result.Allowed {
		t.Fatal("call 11 should be blocked")
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	limiter, cleanup := setupTestRateLimiter(t, 3, time.Minute)
	defer cleanup()

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, _ := limiter.Allow(ctx, "openai")
		if !result.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}

	result, err := limiter.Allow(ctx, "openai")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatal("request should be blocked")
	}
	if result.Remaining != 0 {
		t.Errorf("expected remaining 0, got %d", result.Remaining)
	}
}

func TestRateLimiter_SeparateKeys(t *testing.T) {
	limiter, cleanup := setupTestRateLimiter(t, 2, time.Minute)
	defer cleanup()

	ctx := context.Background()

	for i := 0; i < 2; i++ {
		limiter.Allow(ctx, "openai")
	}

	result, _ := limiter.Allow(ctx, "bge")
	if !result.Allowed {
		t.Fatal("second service should have its own budget")
	}
	if result.Remaining != 1 {
		t.Errorf("expected remaining 1, got %d", result.Remaining)
	}
}

func TestServiceLimiter_FixedKey(t *testing.T) {
	limiter, cleanup := setupTestRateLimiter(t, 2, time.Minute)
	defer cleanup()

	svc := NewServiceLimiter(limiter, "openai")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := svc.Allow(ctx)
		if err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
		if !ok {
			t.Fatalf("call %d should be allowed", i)
		}
	}

	ok, err := svc.Allow(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("call over the budget should be denied")
	}
}
