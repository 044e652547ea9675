package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// snsAPI is the subset of the SNS client the sink uses. Narrowed for tests.
type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSink publishes notifications to an SNS topic for mobile push fan-out.
// Topic subscribers filter on the user_id message attribute.
type SNSSink struct {
	client   snsAPI
	topicARN string
}

// NewSNSSink creates a sink publishing to the given topic.
func NewSNSSink(ctx context.Context, topicARN string, optFns ...func(*config.LoadOptions) error) (*SNSSink, error) {
	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SNSSink{
		client:   sns.NewFromConfig(cfg),
		topicARN: topicARN,
	}, nil
}

// NewSNSSinkWithEndpoint creates a sink with a custom endpoint (for LocalStack).
func NewSNSSinkWithEndpoint(ctx context.Context, topicARN, endpoint, region string) (*SNSSink, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sns.NewFromConfig(cfg, func(o *sns.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	return &SNSSink{client: client, topicARN: topicARN}, nil
}

// Deliver publishes the notification payload to the topic.
func (s *SNSSink) Deliver(ctx context.Context, req *NotificationRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"user_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(strconv.FormatInt(req.UserID, 10)),
			},
			"was_delayed": {
				DataType:    aws.String("String"),
				StringValue: aws.String(strconv.FormatBool(req.WasDelayed)),
			},
		},
	}

	if _, err := s.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}
	return nil
}

// Name identifies the channel in logs and metrics.
func (s *SNSSink) Name() string {
	return "sns"
}
