// Package ingest consumes monitored group messages from SQS and feeds them
// to the matching cascade.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/adorofeev/keywatch/internal/db"
	"github.com/adorofeev/keywatch/internal/metrics"
)

// Config holds SQS consumer settings.
type Config struct {
	Region   string
	QueueURL string

	// MaxMessages per receive call, capped at the SQS limit of 10.
	MaxMessages int32

	// WaitTimeSeconds enables long polling. 20 is the SQS maximum.
	WaitTimeSeconds int32
}

// MessageHandler processes one decoded group message. A returned error
// leaves the SQS message in flight for redelivery.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *db.IncomingMessage) error
}

// sqsAPI is the subset of the SQS client the consumer uses. Narrowed for tests.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Consumer long-polls the ingestion queue and fans each message into the
// cascade. Malformed and irrelevant messages are deleted without evaluation;
// handler failures leave the message for SQS redelivery and the DLQ policy.
type Consumer struct {
	client   sqsAPI
	queueURL string
	config   Config
	handler  MessageHandler
	logger   *zap.Logger
}

// NewConsumer creates a consumer for the configured queue.
func NewConsumer(ctx context.Context, cfg Config, handler MessageHandler, logger *zap.Logger) (*Consumer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("sqs consumer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return newConsumer(sqs.NewFromConfig(awsCfg), cfg, handler, logger), nil
}

func newConsumer(client sqsAPI, cfg Config, handler MessageHandler, logger *zap.Logger) *Consumer {
	if cfg.MaxMessages <= 0 || cfg.MaxMessages > 10 {
		cfg.MaxMessages = 10
	}
	if cfg.WaitTimeSeconds <= 0 || cfg.WaitTimeSeconds > 20 {
		cfg.WaitTimeSeconds = 20
	}
	return &Consumer{
		client:   client,
		queueURL: cfg.QueueURL,
		config:   cfg,
		handler:  handler,
		logger:   logger,
	}
}

// Run polls until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Info("message consumer started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("message consumer stopped")
			return
		default:
		}

		if err := c.poll(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("receive failed", zap.Error(err))
		}
	}
}

func (c *Consumer) poll(ctx context.Context) error {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: c.config.MaxMessages,
		WaitTimeSeconds:     c.config.WaitTimeSeconds,
	})
	if err != nil {
		return err
	}

	for _, raw := range out.Messages {
		c.process(ctx, aws.ToString(raw.Body), raw.ReceiptHandle)
	}
	return nil
}

func (c *Consumer) process(ctx context.Context, body string, receiptHandle *string) {
	metrics.RecordMessageConsumed()

	var msg db.IncomingMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		c.logger.Warn("dropping malformed message", zap.Error(err))
		c.delete(ctx, receiptHandle)
		return
	}

	if !Relevant(&msg) {
		c.delete(ctx, receiptHandle)
		return
	}

	if err := c.handler.HandleMessage(ctx, &msg); err != nil {
		// Leave in flight; SQS redelivers after the visibility timeout.
		c.logger.Error("message handling failed",
			zap.Error(err),
			zap.Int64("message_id", msg.MessageID),
			zap.Int64("group_id", msg.GroupID),
		)
		return
	}

	c.delete(ctx, receiptHandle)
}

func (c *Consumer) delete(ctx context.Context, receiptHandle *string) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: receiptHandle,
	})
	if err != nil {
		c.logger.Error("failed to delete message", zap.Error(err))
	}
}

// Relevant filters out messages that can never match a subscription:
// empty or whitespace-only text, and bare links with no surrounding words.
func Relevant(msg *db.IncomingMessage) bool {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return false
	}

	fields := strings.Fields(text)
	for _, f := range fields {
		if !isLink(f) {
			return true
		}
	}
	return false
}

func isLink(word string) bool {
	lower := strings.ToLower(word)
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "t.me/") ||
		strings.HasPrefix(lower, "www.")
}
