package alert

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// messageSender is satisfied by *tgbotapi.BotAPI.
type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramAlerter posts alerts to an operator chat.
type TelegramAlerter struct {
	bot    messageSender
	chatID int64
}

func NewTelegramAlerter(token string, chatID int64) (*TelegramAlerter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	zap.L().Info("telegram alerter authorized", zap.String("username", bot.Self.UserName))
	return &TelegramAlerter{bot: bot, chatID: chatID}, nil
}

func (t *TelegramAlerter) Notify(_ context.Context, a Alert) {
	msg := tgbotapi.NewMessage(t.chatID, Format(a))
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		zap.L().Warn("telegram alert failed", zap.Error(err), zap.String("title", a.Title))
	}
}
