package notify

import (
	"context"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *zap.SugaredLogger
}

func NewTelegramNotifier(token string, chatID int64, logger *zap.SugaredLogger) (*TelegramNotifier, error) {
	return NewTelegramNotifierWithEndpoint(token, tgbotapi.APIEndpoint, chatID, &http.Client{}, logger)
}

// NewTelegramNotifierWithEndpoint talks to a Bot API compatible server at
// endpoint, a format string such as tgbotapi.APIEndpoint.
func NewTelegramNotifierWithEndpoint(token, endpoint string, chatID int64, client *http.Client, logger *zap.SugaredLogger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &TelegramNotifier{bot: bot, chatID: chatID, logger: logger}, nil
}

func (n *TelegramNotifier) Notify(ctx context.Context, ev Event) error {
	msg := tgbotapi.NewMessage(n.chatID, Subject(ev)+"\n\n"+Body(ev))
	msg.DisableWebPagePreview = true

	sent, err := n.bot.Send(msg)
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}

	n.logger.Infow("telegram message sent", "task_id", ev.TaskID, "chat_id", n.chatID, "message_id", sent.MessageID)
	return nil
}
