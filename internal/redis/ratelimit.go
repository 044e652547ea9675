package redis

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimiter enforces a call budget over a rolling window, one redis sorted
// set per key. Two budgets run through it: per-caller limits on the
// subscription API and a shared ceiling on calls to each external AI service.
type RateLimiter struct {
	client *Client
	logger *zap.Logger
	limit  int
	window time.Duration
	seq    atomic.Uint64
}

// LimitDecision reports the outcome of one budget check.
type LimitDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// NewRateLimiter creates a sliding-window limiter allowing limit calls per
// window for each distinct key.
func NewRateLimiter(client *Client, logger *zap.Logger, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		logger: logger,
		limit:  limit,
		window: window,
	}
}

// Allow records one call against the key's budget if room remains. A denied
// decision is not an error; errors mean redis itself failed and callers
// choose their own failure mode.
func (r *RateLimiter) Allow(ctx context.Context, key string) (*LimitDecision, error) {
	now := time.Now()
	redisKey := "ratelimit:" + key

	pipe := r.client.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(now.Add(-r.window).UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("trim rate limit window: %w", err)
	}

	used := int(countCmd.Val())
	decision := &LimitDecision{
		Limit:     r.limit,
		Remaining: max(0, r.limit-used),
		ResetAt:   now.Add(r.window),
	}

	if used >= r.limit {
		r.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int("used", used),
			zap.Int("limit", r.limit),
		)
		return decision, nil
	}

	// The sequence counter keeps members unique when two calls land in the
	// same nanosecond.
	member := fmt.Sprintf("%d-%d", now.UnixNano(), r.seq.Add(1))
	record := r.client.rdb.Pipeline()
	record.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	record.Expire(ctx, redisKey, r.window+time.Second)
	if _, err := record.Exec(ctx); err != nil {
		return nil, fmt.Errorf("record rate limit call: %w", err)
	}

	decision.Allowed = true
	decision.Remaining--
	return decision, nil
}
