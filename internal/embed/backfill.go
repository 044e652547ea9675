package embed

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adorofeev/keywatch/internal/db"
)

// SubscriptionSource is the slice of the subscription repository the backfill
// worker needs.
type SubscriptionSource interface {
	ListMissingEmbedding(ctx context.Context, limit int) ([]*db.Subscription, error)
	SetEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error
}

// Embedder produces a vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BackfillConfig holds the poll loop settings.
type BackfillConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// Backfill computes keyword embeddings for subscriptions that do not have one
// yet. Subscriptions are created without a vector so the create path stays
// fast; this worker fills them in asynchronously, which is why the semantic
// stage must tolerate an absent embedding.
type Backfill struct {
	repo     SubscriptionSource
	embedder Embedder
	config   BackfillConfig
	logger   *zap.Logger
}

// NewBackfill creates a backfill worker
func NewBackfill(repo SubscriptionSource, embedder Embedder, cfg BackfillConfig, logger *zap.Logger) *Backfill {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}

	return &Backfill{
		repo:     repo,
		embedder: embedder,
		config:   cfg,
		logger:   logger,
	}
}

// Start runs the poll loop until the context is cancelled.
func (b *Backfill) Start(ctx context.Context) {
	ticker := time.NewTicker(b.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("embedding backfill stopping")
			return
		case <-ticker.C:
			b.processBatch(ctx)
		}
	}
}

func (b *Backfill) processBatch(ctx context.Context) {
	subs, err := b.repo.ListMissingEmbedding(ctx, b.config.BatchSize)
	if err != nil {
		b.logger.Error("failed to list subscriptions missing embeddings", zap.Error(err))
		return
	}
	if len(subs) == 0 {
		return
	}

	for _, sub := range subs {
		// One failure should not block the rest of the batch
		if err := b.processOne(ctx, sub); err != nil {
			b.logger.Warn("failed to backfill embedding",
				zap.String("subscription_id", sub.ID.String()),
				zap.Error(err),
			)
		}
	}
}

func (b *Backfill) processOne(ctx context.Context, sub *db.Subscription) error {
	vec, err := b.embedder.Embed(ctx, EmbeddingInput(sub))
	if err != nil {
		return err
	}

	if err := b.repo.SetEmbedding(ctx, sub.ID, vec); err != nil {
		return err
	}

	b.logger.Info("subscription embedding backfilled",
		zap.String("subscription_id", sub.ID.String()),
		zap.Int("dims", len(vec)),
	)
	return nil
}

// EmbeddingInput builds the text the subscription's vector is computed from:
// the original query when present, otherwise the positive keywords joined.
func EmbeddingInput(sub *db.Subscription) string {
	if q := strings.TrimSpace(sub.Query); q != "" {
		return q
	}
	return strings.Join(sub.PositiveKeywords, ", ")
}
