package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/supabase/postgrest-go"

	"github.com/chat-analyzer-bot/internal/models"
)

// QueryMessages retrieves messages of a chat with timestamp in [start, end), oldest first
func (c *Client) QueryMessages(ctx context.Context, chatID int64, start, end time.Time) ([]models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var rows []messageRow
	err := c.withRetry(ctx, "query_messages", func() error {
		data, _, err := c.client.From(tableMessages).
			Select("id,chat_id,user_id,text,timestamp,attachments", "", false).
			Eq("chat_id", strconv.FormatInt(chatID, 10)).
			Or(timeRangeFilter("timestamp", start, end), "").
			Order("timestamp", &postgrest.OrderOpts{Ascending: true}).
			Execute()
		if err != nil {
			return fmt.Errorf("failed to fetch messages: %w", err)
		}

		if err := json.Unmarshal(data, &rows); err != nil {
			return fmt.Errorf("failed to unmarshal messages: %w", err)
		}
		return nil
	})
	if err != nil {
		c.logger.Error().
			Err(err).
			Int64("chat_id", chatID).
			Time("start", start).
			Time("end", end).
			Msg("Failed to query messages")
		return nil, err
	}

	messages := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, row.toModel())
	}

	c.logger.Debug().
		Int64("chat_id", chatID).
		Time("start", start).
		Time("end", end).
		Int("count", len(messages)).
		Msg("Retrieved messages for window")

	return messages, nil
}
