package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// AnalysisStore is the durable record of every (subscription, message, group)
// evaluation. Writes are idempotent upserts; concurrent or duplicate saves for
// the same key collapse to a single row. The storage engine's write
// serialization is the only lock.
type AnalysisStore struct {
	db     *DB
	logger *zap.Logger
}

// NewAnalysisStore creates a new analysis store
func NewAnalysisStore(db *DB, logger *zap.Logger) *AnalysisStore {
	return &AnalysisStore{
		db:     db,
		logger: logger,
	}
}

// Save upserts the outcome for one evaluation. A second save with the same
// (subscription_id, message_id, group_id) overwrites the outcome fields and
// never creates a second row. notified_at is deliberately not touched here;
// only MarkNotified sets it, so a redelivered message cannot clear a
// delivery timestamp.
func (s *AnalysisStore) Save(ctx context.Context, res *AnalysisResult) error {
	query := `
		INSERT INTO analysis_results (
			subscription_id, message_id, group_id, user_id, outcome,
			lexical_score, semantic_score, verification_confidence,
			rejection_keyword, verification_reasoning
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		ON CONFLICT (subscription_id, message_id, group_id) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			lexical_score = EXCLUDED.lexical_score,
			semantic_score = EXCLUDED.semantic_score,
			verification_confidence = EXCLUDED.verification_confidence,
			rejection_keyword = EXCLUDED.rejection_keyword,
			verification_reasoning = EXCLUDED.verification_reasoning,
			updated_at = NOW()
		RETURNING created_at, updated_at, notified_at
	`

	err := s.db.Pool().QueryRow(
		ctx,
		query,
		res.SubscriptionID,
		res.MessageID,
		res.GroupID,
		res.UserID,
		res.Outcome,
		res.LexicalScore,
		res.SemanticScore,
		res.VerificationConfidence,
		res.RejectionKeyword,
		res.VerificationReasoning,
	).Scan(&res.CreatedAt, &res.UpdatedAt, &res.NotifiedAt)

	if err != nil {
		s.logger.Error("failed to save analysis result",
			zap.Error(err),
			zap.String("subscription_id", res.SubscriptionID.String()),
			zap.Int64("message_id", res.MessageID),
			zap.Int64("group_id", res.GroupID),
		)
		return fmt.Errorf("upsert analysis result: %w", err)
	}

	return nil
}

// Get retrieves one analysis result by its composite key.
func (s *AnalysisStore) Get(ctx context.Context, subscriptionID uuid.UUID, messageID, groupID int64) (*AnalysisResult, error) {
	query := `
		SELECT
			subscription_id, message_id, group_id, user_id, outcome,
			lexical_score, semantic_score, verification_confidence,
			rejection_keyword, verification_reasoning, notified_at,
			created_at, updated_at
		FROM analysis_results
		WHERE subscription_id = $1 AND message_id = $2 AND group_id = $3
	`

	var res AnalysisResult
	err := s.db.Pool().QueryRow(ctx, query, subscriptionID, messageID, groupID).Scan(
		&res.SubscriptionID,
		&res.MessageID,
		&res.GroupID,
		&res.UserID,
		&res.Outcome,
		&res.LexicalScore,
		&res.SemanticScore,
		&res.VerificationConfidence,
		&res.RejectionKeyword,
		&res.VerificationReasoning,
		&res.NotifiedAt,
		&res.CreatedAt,
		&res.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query analysis result: %w", err)
	}
	return &res, nil
}

// IsMatched reports whether the given evaluation exists and matched.
func (s *AnalysisStore) IsMatched(ctx context.Context, subscriptionID uuid.UUID, messageID, groupID int64) (bool, error) {
	var matched bool
	err := s.db.Pool().QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM analysis_results
			WHERE subscription_id = $1 AND message_id = $2 AND group_id = $3
			  AND outcome = $4
		)
	`, subscriptionID, messageID, groupID, OutcomeMatched).Scan(&matched)
	if err != nil {
		return false, fmt.Errorf("query is matched: %w", err)
	}
	return matched, nil
}

// IsNotifiedToUser reports whether ANY of the user's subscriptions already has
// a matched, notified result for this message. This is the cross-subscription
// dedup guarantee: one notification per user per message, no matter how many
// of their subscriptions matched it.
func (s *AnalysisStore) IsNotifiedToUser(ctx context.Context, userID, messageID, groupID int64) (bool, error) {
	var notified bool
	err := s.db.Pool().QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM analysis_results
			WHERE user_id = $1 AND message_id = $2 AND group_id = $3
			  AND outcome = $4 AND notified_at IS NOT NULL
		)
	`, userID, messageID, groupID, OutcomeMatched).Scan(&notified)
	if err != nil {
		return false, fmt.Errorf("query is notified: %w", err)
	}
	return notified, nil
}

// MarkNotified sets notified_at once; repeat calls are no-ops (first write
// wins). Returns whether this call was the one that set it.
func (s *AnalysisStore) MarkNotified(ctx context.Context, subscriptionID uuid.UUID, messageID, groupID int64, at time.Time) (bool, error) {
	result, err := s.db.Pool().Exec(ctx, `
		UPDATE analysis_results
		SET notified_at = $4, updated_at = NOW()
		WHERE subscription_id = $1 AND message_id = $2 AND group_id = $3
		  AND notified_at IS NULL
	`, subscriptionID, messageID, groupID, at)
	if err != nil {
		return false, fmt.Errorf("mark notified: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// HasPriorityNotified reports whether any priority-tier user already has a
// matched, notified result for this (message, group). The scheduler uses this
// as its point-in-time competition snapshot; it is never re-evaluated.
func (s *AnalysisStore) HasPriorityNotified(ctx context.Context, messageID, groupID int64) (bool, error) {
	var exists bool
	err := s.db.Pool().QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM analysis_results ar
			JOIN users u ON u.user_id = ar.user_id
			WHERE ar.message_id = $1 AND ar.group_id = $2
			  AND ar.outcome = $3 AND ar.notified_at IS NOT NULL
			  AND u.plan IN ($4, $5)
		)
	`, messageID, groupID, OutcomeMatched, PlanPro, PlanBusiness).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query priority competition: %w", err)
	}
	return exists, nil
}

// ListBySubscription retrieves recent analysis results for one subscription,
// newest first. Used by the ops API.
func (s *AnalysisStore) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit, offset int) ([]*AnalysisResult, error) {
	query := `
		SELECT
			subscription_id, message_id, group_id, user_id, outcome,
			lexical_score, semantic_score, verification_confidence,
			rejection_keyword, verification_reasoning, notified_at,
			created_at, updated_at
		FROM analysis_results
		WHERE subscription_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := s.db.Pool().Query(ctx, query, subscriptionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query analysis results: %w", err)
	}
	defer rows.Close()

	var results []*AnalysisResult
	for rows.Next() {
		var res AnalysisResult
		err := rows.Scan(
			&res.SubscriptionID,
			&res.MessageID,
			&res.GroupID,
			&res.UserID,
			&res.Outcome,
			&res.LexicalScore,
			&res.SemanticScore,
			&res.VerificationConfidence,
			&res.RejectionKeyword,
			&res.VerificationReasoning,
			&res.NotifiedAt,
			&res.CreatedAt,
			&res.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan analysis result: %w", err)
		}
		results = append(results, &res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return results, nil
}
