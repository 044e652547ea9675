package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrSubscriptionNotFound is returned when a subscription ID does not exist.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// SubscriptionRepository handles subscription and user-plan rows.
type SubscriptionRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db *DB, logger *zap.Logger) *SubscriptionRepository {
	return &SubscriptionRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new subscription with an empty embedding; the backfill
// worker fills the vector asynchronously.
func (r *SubscriptionRepository) Create(ctx context.Context, sub *Subscription) error {
	query := `
		INSERT INTO subscriptions (
			id, user_id, query, positive_keywords, negative_keywords,
			disabled_negatives, group_ids, active, paused
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		sub.ID,
		sub.UserID,
		sub.Query,
		sub.PositiveKeywords,
		sub.NegativeKeywords,
		sub.DisabledNegatives,
		sub.GroupIDs,
		sub.Active,
		sub.Paused,
	).Scan(&sub.CreatedAt, &sub.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create subscription",
			zap.Error(err),
			zap.String("subscription_id", sub.ID.String()),
		)
		return fmt.Errorf("insert subscription: %w", err)
	}

	r.logger.Info("subscription created",
		zap.String("subscription_id", sub.ID.String()),
		zap.Int64("user_id", sub.UserID),
		zap.Int("positive_keywords", len(sub.PositiveKeywords)),
	)

	return nil
}

const subscriptionColumns = `
	id, user_id, query, positive_keywords, negative_keywords,
	disabled_negatives, group_ids, embedding, active, paused,
	created_at, updated_at
`

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var sub Subscription
	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.Query,
		&sub.PositiveKeywords,
		&sub.NegativeKeywords,
		&sub.DisabledNegatives,
		&sub.GroupIDs,
		&sub.Embedding,
		&sub.Active,
		&sub.Paused,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Get retrieves a subscription by ID
func (r *SubscriptionRepository) Get(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`

	sub, err := scanSubscription(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query subscription: %w", err)
	}
	return sub, nil
}

// ListByUser retrieves all of a user's non-deactivated subscriptions.
func (r *SubscriptionRepository) ListByUser(ctx context.Context, userID int64) ([]*Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = $1 AND active
		ORDER BY created_at DESC
	`

	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return subs, nil
}

// ListActiveForGroup retrieves the subscriptions the cascade must evaluate for
// a message in the given group: active, not paused, and either unscoped or
// scoped to that group.
func (r *SubscriptionRepository) ListActiveForGroup(ctx context.Context, groupID int64) ([]*Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE active AND NOT paused
		  AND (cardinality(group_ids) = 0 OR $1 = ANY(group_ids))
	`

	rows, err := r.db.Pool().Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("query active subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return subs, nil
}

// SetPaused pauses or resumes a subscription
func (r *SubscriptionRepository) SetPaused(ctx context.Context, id uuid.UUID, paused bool) error {
	result, err := r.db.Pool().Exec(ctx,
		`UPDATE subscriptions SET paused = $1, updated_at = NOW() WHERE id = $2 AND active`,
		paused, id,
	)
	if err != nil {
		return fmt.Errorf("update paused: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// Deactivate soft-deletes a subscription. Rows are never destroyed so the
// analysis history keeps its foreign keys.
func (r *SubscriptionRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Pool().Exec(ctx,
		`UPDATE subscriptions SET active = FALSE, updated_at = NOW() WHERE id = $1 AND active`,
		id,
	)
	if err != nil {
		return fmt.Errorf("deactivate subscription: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}

	r.logger.Info("subscription deactivated", zap.String("subscription_id", id.String()))
	return nil
}

// SetNegativesEnabled toggles the negative keyword set. Disabling swaps the
// live set into disabled_negatives; enabling swaps it back. Keywords are
// parked, not deleted.
func (r *SubscriptionRepository) SetNegativesEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	var query string
	if enabled {
		query = `
			UPDATE subscriptions
			SET negative_keywords = disabled_negatives,
			    disabled_negatives = '{}',
			    updated_at = NOW()
			WHERE id = $1 AND active AND cardinality(disabled_negatives) > 0
		`
	} else {
		query = `
			UPDATE subscriptions
			SET disabled_negatives = negative_keywords,
			    negative_keywords = '{}',
			    updated_at = NOW()
			WHERE id = $1 AND active AND cardinality(negative_keywords) > 0
		`
	}

	result, err := r.db.Pool().Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("toggle negatives: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// SetEmbedding stores a subscription's keyword embedding. Called by the
// backfill worker once the embedding service has produced a vector.
func (r *SubscriptionRepository) SetEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error {
	result, err := r.db.Pool().Exec(ctx,
		`UPDATE subscriptions SET embedding = $1, updated_at = NOW() WHERE id = $2`,
		embedding, id,
	)
	if err != nil {
		return fmt.Errorf("set embedding: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// ListMissingEmbedding returns active subscriptions that still need a keyword
// embedding, oldest first.
func (r *SubscriptionRepository) ListMissingEmbedding(ctx context.Context, limit int) ([]*Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE active AND embedding IS NULL
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := r.db.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions missing embedding: %w", err)
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}

	return subs, rows.Err()
}

// UserPlan returns the plan tier for a user, defaulting to free for unknown
// users.
func (r *SubscriptionRepository) UserPlan(ctx context.Context, userID int64) (string, error) {
	var plan string
	err := r.db.Pool().QueryRow(ctx,
		`SELECT plan FROM users WHERE user_id = $1`, userID,
	).Scan(&plan)
	if errors.Is(err, pgx.ErrNoRows) {
		return PlanFree, nil
	}
	if err != nil {
		return "", fmt.Errorf("query user plan: %w", err)
	}
	return plan, nil
}

// HasPriorityDelivery reports whether the user's plan tier entitles them to
// instant delivery.
func (r *SubscriptionRepository) HasPriorityDelivery(ctx context.Context, userID int64) (bool, error) {
	plan, err := r.UserPlan(ctx, userID)
	if err != nil {
		return false, err
	}
	return PlanHasPriority(plan), nil
}
