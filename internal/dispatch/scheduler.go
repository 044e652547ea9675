package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adorofeev/keywatch/internal/db"
	"github.com/adorofeev/keywatch/internal/metrics"
)

// delayDisclosure is appended to the reasoning shown to a user whose
// notification was held back behind priority-plan subscribers.
const delayDisclosure = "Delivery of this match was delayed because subscribers on a priority plan receive matches first. Upgrade your plan for instant alerts."

// DeliveryStore is the slice of the analysis store the scheduler needs for
// its dedup and competition checks.
type DeliveryStore interface {
	IsNotifiedToUser(ctx context.Context, userID, messageID, groupID int64) (bool, error)
	MarkNotified(ctx context.Context, subscriptionID uuid.UUID, messageID, groupID int64, at time.Time) (bool, error)
	HasPriorityNotified(ctx context.Context, messageID, groupID int64) (bool, error)
}

// PlanSource resolves a user's delivery tier.
type PlanSource interface {
	HasPriorityDelivery(ctx context.Context, userID int64) (bool, error)
}

// DelayedEntry is a notification parked until its due time. Held in memory
// only; entries do not survive a process restart.
type DelayedEntry struct {
	SubscriptionID uuid.UUID
	UserID         int64
	MessageID      int64
	GroupID        int64
	ScheduledAt    time.Time
	Request        *NotificationRequest
}

// SchedulerConfig holds delivery timing parameters.
type SchedulerConfig struct {
	// PriorityDelay is how long a non-priority user waits when a priority
	// user already received the same match.
	PriorityDelay time.Duration

	// FlushInterval is the delay-queue scan period.
	FlushInterval time.Duration
}

// DefaultSchedulerConfig returns the standard delivery timing.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PriorityDelay: 4 * time.Minute,
		FlushInterval: 30 * time.Second,
	}
}

// Scheduler decides instant versus delayed delivery per (user, message) and
// flushes parked entries on a fixed tick. Priority-plan users always get
// matches immediately; everyone else is delayed only when a priority user
// already received the same match at decision time. The decision is a
// point-in-time snapshot and is never revisited for deliveries already made.
type Scheduler struct {
	store  DeliveryStore
	plans  PlanSource
	sink   Sink
	config SchedulerConfig
	logger *zap.Logger

	mu    sync.Mutex
	queue []*DelayedEntry

	// now is injectable for tests.
	now func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewScheduler creates a delivery scheduler.
func NewScheduler(store DeliveryStore, plans PlanSource, sink Sink, cfg SchedulerConfig, logger *zap.Logger) *Scheduler {
	if cfg.PriorityDelay <= 0 {
		cfg.PriorityDelay = 4 * time.Minute
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	return &Scheduler{
		store:  store,
		plans:  plans,
		sink:   sink,
		config: cfg,
		logger: logger,
		now:    time.Now,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Schedule handles one fresh matched result. Safe for concurrent use by the
// orchestrator's evaluation workers.
func (s *Scheduler) Schedule(ctx context.Context, sub *db.Subscription, msg *db.IncomingMessage, res *db.AnalysisResult) error {
	notified, err := s.store.IsNotifiedToUser(ctx, sub.UserID, msg.MessageID, msg.GroupID)
	if err != nil {
		return err
	}
	if notified {
		// Another subscription of the same user already covered this
		// message.
		return nil
	}

	priority, err := s.plans.HasPriorityDelivery(ctx, sub.UserID)
	if err != nil {
		return err
	}
	if priority {
		return s.deliver(ctx, sub.ID, buildRequest(sub, msg, res, false), "instant")
	}

	competing, err := s.store.HasPriorityNotified(ctx, msg.MessageID, msg.GroupID)
	if err != nil {
		return err
	}
	if !competing {
		return s.deliver(ctx, sub.ID, buildRequest(sub, msg, res, false), "instant")
	}

	entry := &DelayedEntry{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		MessageID:      msg.MessageID,
		GroupID:        msg.GroupID,
		ScheduledAt:    s.now().Add(s.config.PriorityDelay),
		Request:        buildRequest(sub, msg, res, true),
	}

	s.mu.Lock()
	s.queue = append(s.queue, entry)
	depth := len(s.queue)
	s.mu.Unlock()

	metrics.SetDelayQueueDepth(depth)
	s.logger.Info("notification delayed behind priority delivery",
		zap.Int64("user_id", sub.UserID),
		zap.Int64("message_id", msg.MessageID),
		zap.Time("scheduled_at", entry.ScheduledAt),
	)

	return nil
}

// Start runs the flush loop until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	s.logger.Info("notification scheduler started",
		zap.Duration("flush_interval", s.config.FlushInterval),
		zap.Duration("priority_delay", s.config.PriorityDelay),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}

// Stop halts the flush loop, flushes entries already due, and logs what is
// lost. Entries not yet due cannot be delivered early and are dropped; the
// queue is in-memory only.
func (s *Scheduler) Stop(ctx context.Context) {
	close(s.stopCh)
	<-s.doneCh

	s.Flush(ctx)

	s.mu.Lock()
	lost := len(s.queue)
	s.queue = nil
	s.mu.Unlock()

	metrics.SetDelayQueueDepth(0)
	if lost > 0 {
		s.logger.Warn("delayed notifications lost on shutdown", zap.Int("count", lost))
	}
}

// Flush dispatches every entry whose due time has passed. A failing entry is
// dropped with a log line and never blocks the rest of the batch.
func (s *Scheduler) Flush(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []*DelayedEntry
	remaining := s.queue[:0]
	for _, entry := range s.queue {
		if !entry.ScheduledAt.After(now) {
			due = append(due, entry)
		} else {
			remaining = append(remaining, entry)
		}
	}
	s.queue = remaining
	depth := len(s.queue)
	s.mu.Unlock()

	metrics.SetDelayQueueDepth(depth)

	for _, entry := range due {
		// The user may have been notified through another subscription
		// while this entry sat in the queue.
		notified, err := s.store.IsNotifiedToUser(ctx, entry.UserID, entry.MessageID, entry.GroupID)
		if err != nil {
			s.logger.Error("delayed dispatch dedup check failed, dropping entry",
				zap.Error(err),
				zap.Int64("user_id", entry.UserID),
				zap.Int64("message_id", entry.MessageID),
			)
			continue
		}
		if notified {
			continue
		}

		if err := s.deliver(ctx, entry.SubscriptionID, entry.Request, "delayed"); err != nil {
			s.logger.Error("delayed dispatch failed, dropping entry",
				zap.Error(err),
				zap.Int64("user_id", entry.UserID),
				zap.Int64("message_id", entry.MessageID),
			)
		}
	}
}

// QueueDepth reports the number of parked entries, for the admin API.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Scheduler) deliver(ctx context.Context, subscriptionID uuid.UUID, req *NotificationRequest, path string) error {
	if err := s.sink.Deliver(ctx, req); err != nil {
		return err
	}

	marked, err := s.store.MarkNotified(ctx, subscriptionID, req.MessageID, req.GroupID, s.now())
	if err != nil {
		return err
	}
	if !marked {
		s.logger.Warn("result was already marked notified",
			zap.String("subscription_id", subscriptionID.String()),
			zap.Int64("message_id", req.MessageID),
		)
	}

	metrics.RecordNotificationSent(path, s.sink.Name())
	s.logger.Info("notification sent",
		zap.String("path", path),
		zap.Int64("user_id", req.UserID),
		zap.Int64("message_id", req.MessageID),
		zap.Int64("group_id", req.GroupID),
	)
	return nil
}

func buildRequest(sub *db.Subscription, msg *db.IncomingMessage, res *db.AnalysisResult, wasDelayed bool) *NotificationRequest {
	reasoning := ""
	if res.VerificationReasoning != nil {
		reasoning = *res.VerificationReasoning
	}
	if wasDelayed {
		if reasoning != "" {
			reasoning += "\n\n"
		}
		reasoning += delayDisclosure
	}

	return &NotificationRequest{
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		MessageID:      msg.MessageID,
		GroupID:        msg.GroupID,
		GroupTitle:     msg.GroupTitle,
		GroupUsername:  msg.GroupUsername,
		Excerpt:        excerpt(msg.Text),
		Query:          sub.Query,
		SenderName:     msg.SenderName,
		SenderUsername: msg.SenderUsername,
		MediaRefs:      msg.MediaRefs,
		Reasoning:      reasoning,
		WasDelayed:     wasDelayed,
	}
}
