// Package delivery formats analysis results and sends them to Telegram.
package delivery

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/chat-analyzer-bot/internal/metrics"
)

// MaxMessageLength is the Telegram limit for one text message, in characters
const MaxMessageLength = 4096

// Sender delivers text to a chat
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// ChatNames resolves chat display names; an empty name means unknown
type ChatNames interface {
	ChatDisplayName(ctx context.Context, chatID int64) (string, error)
}

// Dispatcher delivers analysis results
type Dispatcher struct {
	sender      Sender
	chats       ChatNames
	destination int64
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

// NewDispatcher creates a dispatcher; a zero destination sends each result to the analyzed chat
func NewDispatcher(sender Sender, chats ChatNames, destination int64, m *metrics.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		sender:      sender,
		chats:       chats,
		destination: destination,
		metrics:     m,
		logger:      logger.With().Str("component", "delivery").Logger(),
	}
}

// Deliver sends the analysis text for chatID once
// Failures are logged and returned for reporting; nothing is retried
func (d *Dispatcher) Deliver(ctx context.Context, chatID int64, text string) error {
	logger := d.logger.With().Int64("chat_id", chatID).Logger()

	name, err := d.chats.ChatDisplayName(ctx, chatID)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to resolve chat name")
	}
	if name == "" {
		name = strconv.FormatInt(chatID, 10)
	}

	target := d.destination
	if target == 0 {
		target = chatID
	}

	body := Format(name, text)
	for i, part := range SplitMessage(body, MaxMessageLength) {
		if err := d.sender.Send(ctx, target, part); err != nil {
			d.metrics.RecordDelivery("failed")
			logger.Error().
				Err(err).
				Int64("destination", target).
				Int("part", i+1).
				Msg("Failed to deliver analysis result")
			return fmt.Errorf("failed to deliver analysis for chat %d: %w", chatID, err)
		}
	}

	d.metrics.RecordDelivery("sent")
	logger.Info().
		Int64("destination", target).
		Msg("Analysis result delivered")

	return nil
}

// Format builds the message body for a chat's analysis
func Format(chatName, text string) string {
	return fmt.Sprintf("Analysis result for chat %s:\n\n%s", chatName, text)
}

// SplitMessage splits text into parts of at most limit characters, preferring line breaks
func SplitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var parts []string
	for len(runes) > limit {
		cut := limit
		if i := lastNewline(runes[:limit]); i >= limit/2 {
			cut = i + 1
		}
		if part := strings.TrimRight(string(runes[:cut]), "\n"); part != "" {
			parts = append(parts, part)
		}
		runes = runes[cut:]
	}
	if part := strings.TrimRight(string(runes), "\n"); part != "" {
		parts = append(parts, part)
	}
	return parts
}

func lastNewline(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == '\n' {
			return i
		}
	}
	return -1
}
