// Package telegram delivers account notifications to designers who linked a
// Telegram chat, and powers admin broadcasts.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/salonstudio/internal/models"
)

// Sender is the part of the bot API used for outgoing messages.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier is safe to use as a nil pointer; every call is then a no-op.
type Notifier struct {
	api Sender
	log *slog.Logger
}

func NewNotifier(api Sender, log *slog.Logger) *Notifier {
	return &Notifier{api: api, log: log}
}

func (n *Notifier) Enabled() bool {
	return n != nil && n.api != nil
}

func (n *Notifier) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// PlanActivated tells the designer their plan changed. Failures are logged only.
func (n *Notifier) PlanActivated(p *models.Profile, tier models.PlanTier, expiresAt *time.Time) {
	if !n.Enabled() || p == nil || p.TelegramChatID == nil {
		return
	}
	text := fmt.Sprintf("Your %s plan is active. Unlimited consultations are unlocked.", strings.ToUpper(string(tier)))
	if expiresAt != nil {
		text += fmt.Sprintf(" Valid until %s.", expiresAt.UTC().Format("2006-01-02"))
	}
	if tier == models.PlanFree {
		text = "Your subscription has ended. You are back on the free plan."
	}
	if err := n.sendText(*p.TelegramChatID, text); err != nil {
		n.log.Warn("plan notification failed", "account_id", p.ID, "err", err)
	}
}

// Broadcast sends text to every chat id and reports how many deliveries succeeded.
func (n *Notifier) Broadcast(ctx context.Context, chatIDs []int64, text string) (int, error) {
	if !n.Enabled() {
		return 0, fmt.Errorf("telegram bot not configured")
	}
	sent := 0
	for _, id := range chatIDs {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if err := n.sendText(id, text); err != nil {
			n.log.Error("broadcast send", "chat_id", id, "err", err)
			continue
		}
		sent++
	}
	return sent, nil
}
