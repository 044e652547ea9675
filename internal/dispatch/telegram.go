package dispatch

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// telegramAPI is the subset of the bot API the sink uses. Narrowed for tests.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink delivers notifications as direct messages from the bot.
// The recipient id doubles as the private chat id.
type TelegramSink struct {
	api    telegramAPI
	logger *zap.Logger
}

// NewTelegramSink creates a sink backed by the Bot API with the given token.
func NewTelegramSink(token string, logger *zap.Logger) (*TelegramSink, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	logger.Info("telegram sink ready", zap.String("bot", api.Self.UserName))
	return &TelegramSink{api: api, logger: logger}, nil
}

// Deliver formats and sends the notification to the user's private chat.
func (t *TelegramSink) Deliver(ctx context.Context, req *NotificationRequest) error {
	msg := tgbotapi.NewMessage(req.UserID, formatTelegramText(req))
	msg.DisableWebPagePreview = true

	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("send telegram notification: %w", err)
	}
	return nil
}

// Name identifies the channel in logs and metrics.
func (t *TelegramSink) Name() string {
	return "telegram"
}

func formatTelegramText(req *NotificationRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "🔔 Match for \"%s\"\n\n", req.Query)

	if req.GroupUsername != "" {
		fmt.Fprintf(&b, "Group: %s (@%s)\n", req.GroupTitle, req.GroupUsername)
	} else {
		fmt.Fprintf(&b, "Group: %s\n", req.GroupTitle)
	}

	switch {
	case req.SenderUsername != "":
		fmt.Fprintf(&b, "From: %s (@%s)\n", req.SenderName, req.SenderUsername)
	case req.SenderName != "":
		fmt.Fprintf(&b, "From: %s\n", req.SenderName)
	}

	fmt.Fprintf(&b, "\n%s\n", req.Excerpt)

	if len(req.MediaRefs) > 0 {
		fmt.Fprintf(&b, "\nAttachments: %d\n", len(req.MediaRefs))
	}

	if req.Reasoning != "" {
		fmt.Fprintf(&b, "\n%s", req.Reasoning)
	}

	return b.String()
}
