package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := &Client{rdb: rdb, logger: zap.NewNop()}

	return client, mr, func() {
		rdb.Close()
		mr.Close()
	}
}

type countingEmbedder struct {
	calls int
	vec   []float32
	err   error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.vec, nil
}

func TestCachedEmbedder_MissThenHit(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	inner := &countingEmbedder{vec: []float32{0.1, 0.2, 0.3}}
	cached := NewCachedEmbedder(client, inner, zap.NewNop())
	ctx := context.Background()

	first, err := cached.Embed(ctx, "ищу велосипед в аренду")
	if err != nil {
		t.Fatalf("first embed failed: %v", err)
	}
	if len(first) != 3 {
		t.Fatalf("expected 3 dims, got %d", len(first))
	}

	second, err := cached.Embed(ctx, "ищу велосипед в аренду")
	if err != nil {
		t.Fatalf("second embed failed: %v", err)
	}
	if len(second) != 3 {
		t.Fatalf("expected 3 dims, got %d", len(second))
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 upstream call, got %d", inner.calls)
	}
}

func TestCachedEmbedder_DistinctTexts(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	inner := &countingEmbedder{vec: []float32{1, 0}}
	cached := NewCachedEmbedder(client, inner, zap.NewNop())
	ctx := context.Background()

	if _, err := cached.Embed(ctx, "first message"); err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if _, err := cached.Embed(ctx, "second message"); err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("expected 2 upstream calls, got %d", inner.calls)
	}
}

func TestCachedEmbedder_UpstreamError(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	wantErr := errors.New("embedding server down")
	inner := &countingEmbedder{err: wantErr}
	cached := NewCachedEmbedder(client, inner, zap.NewNop())

	if _, err := cached.Embed(context.Background(), "anything"); !errors.Is(err, wantErr) {
		t.Fatalf("expected upstream error, got: %v", err)
	}
}

func TestCachedEmbedder_ExpiredEntryRefetches(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	inner := &countingEmbedder{vec: []float32{0.5}}
	cached := NewCachedEmbedder(client, inner, zap.NewNop())
	ctx := context.Background()

	if _, err := cached.Embed(ctx, "short lived"); err != nil {
		t.Fatalf("embed failed: %v", err)
	}

	mr.FastForward(EmbedCacheTTL + time.Second)

	if _, err := cached.Embed(ctx, "short lived"); err != nil {
		t.Fatalf("embed after expiry failed: %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("expected refetch after expiry, got %d calls", inner.calls)
	}
}

func TestCachedEmbedder_CorruptEntry(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	inner := &countingEmbedder{vec: []float32{0.9}}
	cached := NewCachedEmbedder(client, inner, zap.NewNop())

	mr.Set(embedCacheKey("garbled"), "not json")

	vec, err := cached.Embed(context.Background(), "garbled")
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if len(vec) != 1 || inner.calls != 1 {
		t.Errorf("expected fallthrough to upstream, vec=%v calls=%d", vec, inner.calls)
	}
}
