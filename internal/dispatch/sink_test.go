package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func sampleRequest() *NotificationRequest {
	return &NotificationRequest{
		UserID:         777,
		SubscriptionID: uuid.New(),
		MessageID:      42,
		GroupID:        -100123,
		GroupTitle:     "Велопрокат СПб",
		GroupUsername:  "velospb",
		Excerpt:        "Сдаю велосипед на выходные",
		Query:          "аренда велосипеда",
		SenderName:     "Anna",
		SenderUsername: "anna_v",
		Reasoning:      "rental offer matching the query",
	}
}

type fakeTelegramAPI struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeTelegramAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func TestTelegramSink_Deliver(t *testing.T) {
	api := &fakeTelegramAPI{}
	sink := &TelegramSink{api: api, logger: zap.NewNop()}

	if err := sink.Deliver(context.Background(), sampleRequest()); err != nil {
		t.Fatalf("deliver failed: %v", err)
	}
	if len(api.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(api.sent))
	}

	msg, ok := api.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("unexpected chattable type %T", api.sent[0])
	}
	if msg.ChatID != 777 {
		t.Errorf("chat id = %d", msg.ChatID)
	}
	for _, want := range []string{"аренда велосипеда", "Велопрокат СПб", "@velospb", "Anna", "Сдаю велосипед"} {
		if !strings.Contains(msg.Text, want) {
			t.Errorf("formatted text missing %q:\n%s", want, msg.Text)
		}
	}
}

func TestTelegramSink_SendError(t *testing.T) {
	api := &fakeTelegramAPI{err: errors.New("bot blocked by user")}
	sink := &TelegramSink{api: api, logger: zap.NewNop()}

	if err := sink.Deliver(context.Background(), sampleRequest()); err == nil {
		t.Fatal("expected error")
	}
}

type fakeSNSClient struct {
	inputs []*sns.PublishInput
	err    error
}

func (f *fakeSNSClient) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, params)
	return &sns.PublishOutput{}, nil
}

func TestSNSSink_Deliver(t *testing.T) {
	client := &fakeSNSClient{}
	sink := &SNSSink{client: client, topicARN: "arn:aws:sns:eu-west-1:123:keywatch"}

	req := sampleRequest()
	req.WasDelayed = true

	if err := sink.Deliver(context.Background(), req); err != nil {
		t.Fatalf("deliver failed: %v", err)
	}
	if len(client.inputs) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(client.inputs))
	}

	input := client.inputs[0]
	if *input.TopicArn != "arn:aws:sns:eu-west-1:123:keywatch" {
		t.Errorf("topic = %s", *input.TopicArn)
	}
	if got := *input.MessageAttributes["user_id"].StringValue; got != "777" {
		t.Errorf("user_id attribute = %s", got)
	}
	if got := *input.MessageAttributes["was_delayed"].StringValue; got != "true" {
		t.Errorf("was_delayed attribute = %s", got)
	}

	var decoded NotificationRequest
	if err := json.Unmarshal([]byte(*input.Message), &decoded); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if decoded.MessageID != 42 || decoded.Query != "аренда велосипеда" {
		t.Errorf("decoded payload = %+v", decoded)
	}
}

func TestMultiSink_ContinuesPastFailure(t *testing.T) {
	failing := &captureSink{err: errors.New("down")}
	working := &captureSink{}
	multi := NewMultiSink(zap.NewNop(), failing, working)

	err := multi.Deliver(context.Background(), sampleRequest())
	if err == nil {
		t.Fatal("expected joined error from the failing channel")
	}
	if working.count() != 1 {
		t.Error("healthy channel must still receive the notification")
	}
}

func TestLogSink_Deliver(t *testing.T) {
	sink := NewLogSink(zap.NewNop())
	if err := sink.Deliver(context.Background(), sampleRequest()); err != nil {
		t.Fatalf("deliver failed: %v", err)
	}
}
