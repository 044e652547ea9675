package match

import (
	"context"
	"errors"
	"math"

	"go.uber.org/zap"

	"github.com/adorofeev/keywatch/internal/db"
)

// ErrEmbeddingUnavailable signals that no semantic score could be produced:
// either the subscription has no cached keyword embedding yet, or the
// embedding service failed. The orchestrator treats it as "skip this stage
// and fall through to verification on the lexical score alone".
var ErrEmbeddingUnavailable = errors.New("semantic score unavailable")

// Embedder produces a vector for a piece of text. Implemented by the
// embedding service client (optionally wrapped in a redis cache).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SemanticScorer compares message embeddings against a subscription's cached
// keyword embedding.
type SemanticScorer struct {
	embedder Embedder
	logger   *zap.Logger
}

// NewSemanticScorer creates a semantic scorer
func NewSemanticScorer(embedder Embedder, logger *zap.Logger) *SemanticScorer {
	return &SemanticScorer{
		embedder: embedder,
		logger:   logger,
	}
}

// Score returns the cosine similarity between the message text and the
// subscription's keyword embedding. An embedding-service failure degrades to
// ErrEmbeddingUnavailable rather than failing the evaluation.
func (s *SemanticScorer) Score(ctx context.Context, text string, sub *db.Subscription) (float64, error) {
	if len(sub.Embedding) == 0 {
		return 0, ErrEmbeddingUnavailable
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.logger.Warn("embedding service degraded, skipping semantic stage",
			zap.Error(err),
			zap.String("subscription_id", sub.ID.String()),
		)
		return 0, ErrEmbeddingUnavailable
	}

	if len(vec) != len(sub.Embedding) {
		s.logger.Warn("embedding dimensionality mismatch, skipping semantic stage",
			zap.Int("message_dims", len(vec)),
			zap.Int("subscription_dims", len(sub.Embedding)),
		)
		return 0, ErrEmbeddingUnavailable
	}

	return CosineSimilarity(vec, sub.Embedding), nil
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Returns 0 for zero-magnitude vectors.
func CosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
