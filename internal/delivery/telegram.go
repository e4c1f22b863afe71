package delivery

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramSender sends messages through the Telegram Bot API
type TelegramSender struct {
	api    *tgbotapi.BotAPI
	logger zerolog.Logger
}

// NewTelegramSender authorizes the bot token; requests time out after timeout
func NewTelegramSender(token string, timeout time.Duration, debug bool, logger zerolog.Logger) (*TelegramSender, error) {
	return newTelegramSender(token, tgbotapi.APIEndpoint, timeout, debug, logger)
}

func newTelegramSender(token, endpoint string, timeout time.Duration, debug bool, logger zerolog.Logger) (*TelegramSender, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	api.Debug = debug

	logger.Info().
		Str("username", api.Self.UserName).
		Int64("id", api.Self.ID).
		Msg("Telegram bot authorized")

	return &TelegramSender{
		api:    api,
		logger: logger.With().Str("component", "telegram").Logger(),
	}, nil
}

// Send sends plain text to chatID
func (s *TelegramSender) Send(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true

	if _, err := s.api.Send(msg); err != nil {
		s.logger.Error().
			Err(err).
			Int64("chat_id", chatID).
			Msg("Failed to send message")
		return fmt.Errorf("failed to send message: %w", err)
	}

	return nil
}

// Username returns the bot username
func (s *TelegramSender) Username() string {
	return s.api.Self.UserName
}
