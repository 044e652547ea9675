package match

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adorofeev/keywatch/internal/db"
	"github.com/adorofeev/keywatch/internal/metrics"
	"github.com/adorofeev/keywatch/internal/verify"
)

// SubscriptionSource lists the subscriptions a message fans out to.
type SubscriptionSource interface {
	ListActiveForGroup(ctx context.Context, groupID int64) ([]*db.Subscription, error)
}

// ResultStore persists per-(subscription, message) analysis outcomes.
type ResultStore interface {
	Save(ctx context.Context, res *db.AnalysisResult) error
	Get(ctx context.Context, subscriptionID uuid.UUID, messageID, groupID int64) (*db.AnalysisResult, error)
}

// Verifier runs the final verification stage. It never fails open: when the
// verification service is unreachable the verdict carries zero confidence.
type Verifier interface {
	Verify(ctx context.Context, req verify.ClassifyRequest) verify.Verdict
}

// Notifier receives matched results for delivery scheduling.
type Notifier interface {
	Schedule(ctx context.Context, sub *db.Subscription, msg *db.IncomingMessage, res *db.AnalysisResult) error
}

// OrchestratorConfig holds cascade thresholds and fan-out parallelism.
type OrchestratorConfig struct {
	LexicalThreshold      float64
	SemanticThreshold     float64
	VerificationThreshold float64
	Workers               int
}

// Orchestrator runs the full matching cascade for each incoming message:
// cheap lexical scoring first, then semantic similarity, then the expensive
// verification call, with each stage gating the next. One analysis result is
// persisted per (subscription, message) pair before any notification is
// scheduled, so delivery can always be reconciled against stored outcomes.
type Orchestrator struct {
	subs     SubscriptionSource
	store    ResultStore
	lexical  *LexicalScorer
	semantic *SemanticScorer
	verifier Verifier
	notifier Notifier
	config   OrchestratorConfig
	logger   *zap.Logger
}

// NewOrchestrator wires the cascade stages together.
func NewOrchestrator(
	subs SubscriptionSource,
	store ResultStore,
	lexical *LexicalScorer,
	semantic *SemanticScorer,
	verifier Verifier,
	notifier Notifier,
	cfg OrchestratorConfig,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	return &Orchestrator{
		subs:     subs,
		store:    store,
		lexical:  lexical,
		semantic: semantic,
		verifier: verifier,
		notifier: notifier,
		config:   cfg,
		logger:   logger,
	}
}

// HandleMessage evaluates one message against every active subscription
// watching its group. Evaluations run on a bounded worker pool; a failure
// for one subscription never blocks the others.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg *db.IncomingMessage) error {
	subs, err := o.subs.ListActiveForGroup(ctx, msg.GroupID)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return nil
	}

	profile := NewMessageProfile(msg.Text)

	jobs := make(chan *db.Subscription)
	var wg sync.WaitGroup

	workers := o.config.Workers
	if workers > len(subs) {
		workers = len(subs)
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sub := range jobs {
				if err := o.evaluate(ctx, profile, msg, sub); err != nil {
					o.logger.Error("subscription evaluation failed",
						zap.Error(err),
						zap.String("subscription_id", sub.ID.String()),
						zap.Int64("message_id", msg.MessageID),
						zap.Int64("group_id", msg.GroupID),
					)
				}
			}
		}()
	}

	for _, sub := range subs {
		select {
		case jobs <- sub:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		}
	}
	close(jobs)
	wg.Wait()

	return nil
}

// evaluate runs the cascade for a single (subscription, message) pair.
func (o *Orchestrator) evaluate(ctx context.Context, profile *MessageProfile, msg *db.IncomingMessage, sub *db.Subscription) error {
	// Redelivered messages already have an outcome; skip re-evaluation.
	// Notification dedup is enforced separately at mark-notified time.
	existing, err := o.store.Get(ctx, sub.ID, msg.MessageID, msg.GroupID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	res := &db.AnalysisResult{
		SubscriptionID: sub.ID,
		MessageID:      msg.MessageID,
		GroupID:        msg.GroupID,
		UserID:         sub.UserID,
	}

	lexStart := time.Now()
	lex := o.lexical.Score(profile, sub)
	metrics.RecordStageLatency("lexical", time.Since(lexStart))

	res.LexicalScore = &lex.Score

	if lex.MatchedNegative != "" {
		res.Outcome = db.OutcomeExcludedNegative
		res.RejectionKeyword = &lex.MatchedNegative
		return o.finish(ctx, res)
	}
	if lex.Score < o.config.LexicalThreshold {
		res.Outcome = db.OutcomeRejectedLexical
		return o.finish(ctx, res)
	}

	semStart := time.Now()
	semScore, semErr := o.semantic.Score(ctx, msg.Text, sub)
	metrics.RecordStageLatency("semantic", time.Since(semStart))

	switch {
	case errors.Is(semErr, ErrEmbeddingUnavailable):
		// Degraded mode: fall through to verification without a
		// semantic score rather than dropping the candidate.
		o.logger.Debug("semantic stage skipped",
			zap.String("subscription_id", sub.ID.String()),
			zap.Int64("message_id", msg.MessageID),
		)
	case semErr != nil:
		return semErr
	default:
		res.SemanticScore = &semScore
		if semScore < o.config.SemanticThreshold {
			res.Outcome = db.OutcomeRejectedSemantic
			return o.finish(ctx, res)
		}
	}

	verStart := time.Now()
	verdict := o.verifier.Verify(ctx, verify.ClassifyRequest{
		MessageText:      msg.Text,
		Query:            sub.Query,
		PositiveKeywords: sub.PositiveKeywords,
		NegativeKeywords: sub.NegativeKeywords,
		LexicalScore:     *res.LexicalScore,
		SemanticScore:    res.SemanticScore,
	})
	metrics.RecordStageLatency("verification", time.Since(verStart))

	res.VerificationConfidence = &verdict.Confidence
	if verdict.Reasoning != "" {
		reasoning := verdict.Reasoning
		res.VerificationReasoning = &reasoning
	}

	if verdict.Confidence < o.config.VerificationThreshold {
		res.Outcome = db.OutcomeRejectedVerify
		return o.finish(ctx, res)
	}

	res.Outcome = db.OutcomeMatched
	if err := o.finish(ctx, res); err != nil {
		return err
	}

	// The result is durable before any delivery attempt. A crash between
	// save and schedule loses at most the notification, never the record.
	if err := o.notifier.Schedule(ctx, sub, msg, res); err != nil {
		o.logger.Error("notification scheduling failed",
			zap.Error(err),
			zap.String("subscription_id", sub.ID.String()),
			zap.Int64("message_id", msg.MessageID),
		)
	}

	return nil
}

func (o *Orchestrator) finish(ctx context.Context, res *db.AnalysisResult) error {
	if err := o.store.Save(ctx, res); err != nil {
		return err
	}
	metrics.RecordEvaluation(res.Outcome)
	return nil
}
