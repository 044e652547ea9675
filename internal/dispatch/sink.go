// Package dispatch decides when a matched message reaches the user and
// delivers it over the configured channels.
package dispatch

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// excerptLimit caps how much of the original message is shown in a
// notification. Telegram captions and push payloads both tolerate this size.
const excerptLimit = 280

// NotificationRequest is the structured handoff to a delivery channel.
// The scheduler fills it in; sinks only format and transport it.
type NotificationRequest struct {
	UserID         int64     `json:"user_id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	MessageID      int64     `json:"message_id"`
	GroupID        int64     `json:"group_id"`
	GroupTitle     string    `json:"group_title"`
	GroupUsername  string    `json:"group_username,omitempty"`
	Excerpt        string    `json:"excerpt"`
	Query          string    `json:"query"`
	SenderName     string    `json:"sender_name,omitempty"`
	SenderUsername string    `json:"sender_username,omitempty"`
	MediaRefs      []string  `json:"media_refs,omitempty"`
	Reasoning      string    `json:"reasoning"`
	WasDelayed     bool      `json:"was_delayed"`
}

// Sink is the unified interface for all delivery channels.
// Implementations: Telegram bot, SNS mobile push, structured log.
type Sink interface {
	Deliver(ctx context.Context, req *NotificationRequest) error
	Name() string
}

// MultiSink fans a notification out to every configured channel. A failing
// channel does not stop the others; the joined error reports all failures.
type MultiSink struct {
	sinks  []Sink
	logger *zap.Logger
}

// NewMultiSink creates a fan-out over the given sinks.
func NewMultiSink(logger *zap.Logger, sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks, logger: logger}
}

// Deliver sends the request through every sink.
func (m *MultiSink) Deliver(ctx context.Context, req *NotificationRequest) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Deliver(ctx, req); err != nil {
			m.logger.Error("delivery channel failed",
				zap.Error(err),
				zap.String("channel", sink.Name()),
				zap.Int64("user_id", req.UserID),
				zap.Int64("message_id", req.MessageID),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Name identifies the fan-out in logs and metrics.
func (m *MultiSink) Name() string {
	return "multi"
}

// LogSink writes notifications to the structured log. Used as the default
// channel in development and as an audit trail alongside real channels.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log-only delivery channel.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Deliver logs the notification.
func (l *LogSink) Deliver(ctx context.Context, req *NotificationRequest) error {
	l.logger.Info("notification delivered",
		zap.Int64("user_id", req.UserID),
		zap.String("subscription_id", req.SubscriptionID.String()),
		zap.Int64("message_id", req.MessageID),
		zap.Int64("group_id", req.GroupID),
		zap.String("group_title", req.GroupTitle),
		zap.String("query", req.Query),
		zap.Bool("was_delayed", req.WasDelayed),
	)
	return nil
}

// Name identifies the channel in logs and metrics.
func (l *LogSink) Name() string {
	return "log"
}

// excerpt truncates message text to a displayable length on a rune boundary.
func excerpt(text string) string {
	if utf8.RuneCountInString(text) <= excerptLimit {
		return text
	}
	runes := []rune(text)
	return string(runes[:excerptLimit-1]) + "…"
}
