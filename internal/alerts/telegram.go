package alerts

import (
	"context"
	"fmt"
	"sort"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// telegramSender is the slice of the bot API the alerter uses
type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramAlerter delivers alerts to configured Telegram chats
type TelegramAlerter struct {
	api     telegramSender
	chatIDs []int64
}

// NewTelegramAlerter authenticates the bot token and creates the alerter
func NewTelegramAlerter(botToken string, chatIDs []int64) (*TelegramAlerter, error) {
	if botToken == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}

	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	log.Info().
		Str("bot_username", api.Self.UserName).
		Int("chat_count", len(chatIDs)).
		Msg("Telegram alerter initialized")

	return &TelegramAlerter{api: api, chatIDs: chatIDs}, nil
}

// Send delivers the alert to every chat. A partial delivery succeeds;
// only total failure returns an error.
func (t *TelegramAlerter) Send(_ context.Context, alert Alert) error {
	if len(t.chatIDs) == 0 {
		return nil
	}

	text := formatAlert(alert)

	var lastErr error
	delivered := 0
	for _, chatID := range t.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = tgbotapi.ModeMarkdown

		if _, err := t.api.Send(msg); err != nil {
			log.Error().Err(err).Int64("chat_id", chatID).Str("alert_title", alert.Title).Msg("Telegram delivery failed")
			lastErr = err
			continue
		}
		delivered++
	}

	if delivered == 0 && lastErr != nil {
		return fmt.Errorf("failed to deliver alert to any chat: %w", lastErr)
	}
	return nil
}

// formatAlert renders the Telegram Markdown body. Metadata keys are
// sorted so repeated alerts render identically.
func formatAlert(alert Alert) string {
	emoji := "📢"
	switch alert.Severity {
	case SeverityCritical:
		emoji = "🚨"
	case SeverityWarning:
		emoji = "⚠️"
	case SeverityInfo:
		emoji = "ℹ️"
	}

	text := fmt.Sprintf("%s *%s*\n\n%s", emoji, alert.Title, alert.Message)

	if len(alert.Metadata) > 0 {
		keys := make([]string, 0, len(alert.Metadata))
		for key := range alert.Metadata {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		text += "\n\n*Details:*"
		for _, key := range keys {
			text += fmt.Sprintf("\n• %s: `%v`", key, alert.Metadata[key])
		}
	}

	text += fmt.Sprintf("\n\n_%s_", alert.Timestamp.Format("2006-01-02 15:04:05"))
	return text
}
