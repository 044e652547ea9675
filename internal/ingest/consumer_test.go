package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/adorofeev/keywatch/internal/db"
)

type fakeSQSClient struct {
	mu       sync.Mutex
	messages []types.Message
	deleted  []string
}

func (f *fakeSQSClient) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &sqs.ReceiveMessageOutput{Messages: f.messages}
	f.messages = nil
	return out, nil
}

func (f *fakeSQSClient) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

type recordingHandler struct {
	mu      sync.Mutex
	handled []*db.IncomingMessage
	err     error
}

func (r *recordingHandler) HandleMessage(ctx context.Context, msg *db.IncomingMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.handled = append(r.handled, msg)
	return nil
}

func sqsMessage(t *testing.T, msg *db.IncomingMessage, handle string) types.Message {
	t.Helper()
	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return types.Message{
		Body:          aws.String(string(body)),
		ReceiptHandle: aws.String(handle),
	}
}

func testConsumer(client *fakeSQSClient, handler MessageHandler) *Consumer {
	return newConsumer(client, Config{QueueURL: "http://localhost/queue"}, handler, zap.NewNop())
}

func TestConsumer_HandlesAndDeletes(t *testing.T) {
	client := &fakeSQSClient{}
	client.messages = []types.Message{
		sqsMessage(t, &db.IncomingMessage{GroupID: -1, MessageID: 1, Text: "Продаю велосипед"}, "h1"),
	}
	handler := &recordingHandler{}
	c := testConsumer(client, handler)

	if err := c.poll(context.Background()); err != nil {
		t.Fatalf("poll failed: %v", err)
	}

	if len(handler.handled) != 1 {
		t.Fatalf("handled = %d", len(handler.handled))
	}
	if handler.handled[0].MessageID != 1 {
		t.Errorf("message id = %d", handler.handled[0].MessageID)
	}
	if len(client.deleted) != 1 || client.deleted[0] != "h1" {
		t.Errorf("deleted = %v", client.deleted)
	}
}

func TestConsumer_MalformedMessageDeletedWithoutHandling(t *testing.T) {
	client := &fakeSQSClient{}
	client.messages = []types.Message{
		{Body: aws.String("not json at all"), ReceiptHandle: aws.String("bad")},
	}
	handler := &recordingHandler{}
	c := testConsumer(client, handler)

	if err := c.poll(context.Background()); err != nil {
		t.Fatalf("poll failed: %v", err)
	}

	if len(handler.handled) != 0 {
		t.Error("malformed message must not reach the handler")
	}
	if len(client.deleted) != 1 {
		t.Error("malformed message must be deleted, not redelivered forever")
	}
}

func TestConsumer_IrrelevantMessageSkipped(t *testing.T) {
	client := &fakeSQSClient{}
	client.messages = []types.Message{
		sqsMessage(t, &db.IncomingMessage{GroupID: -1, MessageID: 2, Text: "   "}, "empty"),
		sqsMessage(t, &db.IncomingMessage{GroupID: -1, MessageID: 3, Text: "https://t.me/somechannel"}, "link"),
	}
	handler := &recordingHandler{}
	c := testConsumer(client, handler)

	if err := c.poll(context.Background()); err != nil {
		t.Fatalf("poll failed: %v", err)
	}

	if len(handler.handled) != 0 {
		t.Error("irrelevant messages must not be evaluated")
	}
	if len(client.deleted) != 2 {
		t.Errorf("deleted = %v", client.deleted)
	}
}

func TestConsumer_HandlerFailureLeavesMessageInFlight(t *testing.T) {
	client := &fakeSQSClient{}
	client.messages = []types.Message{
		sqsMessage(t, &db.IncomingMessage{GroupID: -1, MessageID: 4, Text: "Продаю велосипед"}, "h4"),
	}
	handler := &recordingHandler{err: errors.New("db down")}
	c := testConsumer(client, handler)

	if err := c.poll(context.Background()); err != nil {
		t.Fatalf("poll failed: %v", err)
	}

	if len(client.deleted) != 0 {
		t.Error("failed message must stay in flight for redelivery")
	}
}

func TestRelevant(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"plain text", "Продаю велосипед недорого", true},
		{"empty", "", false},
		{"whitespace only", "  \n\t ", false},
		{"bare link", "https://example.com/ad", false},
		{"telegram link", "t.me/channel", false},
		{"several links", "https://a.com www.b.com", false},
		{"link with caption", "смотрите https://a.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Relevant(&db.IncomingMessage{Text: tt.text})
			if got != tt.want {
				t.Errorf("Relevant(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}
