package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/adorofeev/keywatch/internal/metrics"
)

// EmbedCacheTTL bounds how long a message vector stays cached. The same
// message text is evaluated once per subscription, so entries only need to
// survive a single fan-out burst plus some slack.
const EmbedCacheTTL = 30 * time.Minute

// Embedder produces a vector representation of a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CachedEmbedder wraps an Embedder with a Redis cache keyed by text hash.
// A message fanned out to N subscriptions is embedded once, not N times.
// Cache failures are logged and degrade to a direct call, never to an error.
type CachedEmbedder struct {
	client *Client
	inner  Embedder
	logger *zap.Logger
	ttl    time.Duration
}

// NewCachedEmbedder creates a caching decorator around inner.
func NewCachedEmbedder(client *Client, inner Embedder, logger *zap.Logger) *CachedEmbedder {
	return &CachedEmbedder{
		client: client,
		inner:  inner,
		logger: logger,
		ttl:    EmbedCacheTTL,
	}
}

func embedCacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("embedcache:%s", hex.EncodeToString(sum[:]))
}

// Embed returns the cached vector for text, or computes and caches it.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := embedCacheKey(text)

	data, err := e.client.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var vec []float32
		if jsonErr := json.Unmarshal(data, &vec); jsonErr == nil && len(vec) > 0 {
			metrics.RecordEmbedCache("hit")
			return vec, nil
		}
		// Corrupt entry, drop it and fall through to the real embedder.
		e.client.rdb.Del(ctx, key)
	} else if err != redis.Nil {
		e.logger.Warn("embed cache read failed", zap.Error(err))
	}

	metrics.RecordEmbedCache("miss")

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	data, err = json.Marshal(vec)
	if err != nil {
		return vec, nil
	}
	if err := e.client.rdb.Set(ctx, key, data, e.ttl).Err(); err != nil {
		e.logger.Warn("embed cache write failed", zap.Error(err))
	}

	return vec, nil
}
