package db

import (
	"time"

	"github.com/google/uuid"
)

// Outcome constants for analysis results. Every (subscription, message, group)
// evaluation lands on exactly one of these.
const (
	OutcomeMatched          = "matched"
	OutcomeExcludedNegative = "excluded_negative_keyword"
	OutcomeRejectedLexical  = "rejected_lexical"
	OutcomeRejectedSemantic = "rejected_semantic"
	OutcomeRejectedVerify   = "rejected_verification"
)

// Plan tier constants
const (
	PlanFree     = "free"
	PlanBasic    = "basic"
	PlanPro      = "pro"
	PlanBusiness = "business"
)

// PlanHasPriority reports whether a plan tier is entitled to instant delivery.
// Free and basic ride the delayed path when a priority user got there first.
func PlanHasPriority(plan string) bool {
	return plan == PlanPro || plan == PlanBusiness
}

// Subscription is a user's standing filter over monitored group chats.
// Deactivation is a soft delete; negative keywords can be parked in
// DisabledNegatives instead of being destroyed.
type Subscription struct {
	ID                uuid.UUID `json:"id"`
	UserID            int64     `json:"user_id"`
	Query             string    `json:"query"`
	PositiveKeywords  []string  `json:"positive_keywords"`
	NegativeKeywords  []string  `json:"negative_keywords"`
	DisabledNegatives []string  `json:"disabled_negatives"`
	GroupIDs          []int64   `json:"group_ids"` // empty = all monitored groups
	Embedding         []float32 `json:"-"`         // computed lazily by the backfill worker
	Active            bool      `json:"active"`
	Paused            bool      `json:"paused"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IncomingMessage is one message from a monitored group chat, as produced by
// the transport listener. Immutable once received.
type IncomingMessage struct {
	GroupID        int64     `json:"group_id"`
	MessageID      int64     `json:"message_id"`
	GroupTitle     string    `json:"group_title"`
	GroupUsername  string    `json:"group_username"`
	Text           string    `json:"text"`
	SenderID       int64     `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	SenderUsername string    `json:"sender_username"`
	MediaRefs      []string  `json:"media_refs,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// AnalysisResult is the durable outcome of evaluating one subscription against
// one message. Exactly one row exists per (subscription_id, message_id, group_id).
type AnalysisResult struct {
	SubscriptionID         uuid.UUID  `json:"subscription_id"`
	MessageID              int64      `json:"message_id"`
	GroupID                int64      `json:"group_id"`
	UserID                 int64      `json:"user_id"`
	Outcome                string     `json:"outcome"`
	LexicalScore           *float64   `json:"lexical_score,omitempty"`
	SemanticScore          *float64   `json:"semantic_score,omitempty"`
	VerificationConfidence *float64   `json:"verification_confidence,omitempty"`
	RejectionKeyword       *string    `json:"rejection_keyword,omitempty"`
	VerificationReasoning  *string    `json:"verification_reasoning,omitempty"`
	NotifiedAt             *time.Time `json:"notified_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}
