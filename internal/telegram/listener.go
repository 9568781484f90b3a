package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Listener answers /start with the chat id a designer pastes into their
// profile to receive notifications.
type Listener struct {
	api      *tgbotapi.BotAPI
	notifier *Notifier
	log      *slog.Logger
}

func NewListener(api *tgbotapi.BotAPI, notifier *Notifier, log *slog.Logger) *Listener {
	return &Listener{api: api, notifier: notifier, log: log}
}

func (l *Listener) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := l.api.GetUpdatesChan(u)
	l.log.Info("telegram listener started")

	for {
		select {
		case update := <-updates:
			if update.Message != nil {
				l.handleMessage(update.Message)
			}
		case <-ctx.Done():
			l.api.StopReceivingUpdates()
			return ctx.Err()
		}
	}
}

func (l *Listener) handleMessage(msg *tgbotapi.Message) {
	if !msg.IsCommand() {
		return
	}
	switch msg.Command() {
	case "start", "id":
		if err := l.notifier.sendText(msg.Chat.ID, linkInstructions(msg.Chat.ID)); err != nil {
			l.log.Error("reply to command", "command", msg.Command(), "err", err)
		}
	}
}

func linkInstructions(chatID int64) string {
	return fmt.Sprintf("Your chat id is %d. Add it to your Salon Studio profile to receive plan and payment notifications.", chatID)
}
