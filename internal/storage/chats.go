package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/chat-analyzer-bot/internal/models"
)

const chatColumns = "chat_id,chat_name,schedule_analysis,analysis_time,send_time,default_prompt_id"

// ListChats retrieves every registered chat
func (c *Client) ListChats(ctx context.Context) ([]models.Chat, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var chats []models.Chat
	err := c.withRetry(ctx, "list_chats", func() error {
		data, _, err := c.client.From(tableChats).
			Select(chatColumns, "", false).
			Execute()
		if err != nil {
			return fmt.Errorf("failed to fetch chats: %w", err)
		}

		if err := json.Unmarshal(data, &chats); err != nil {
			return fmt.Errorf("failed to unmarshal chats: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Int("count", len(chats)).
		Msg("Retrieved chats")

	return chats, nil
}

// GetChat retrieves a chat by id, nil when it does not exist
func (c *Client) GetChat(ctx context.Context, chatID int64) (*models.Chat, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var chats []models.Chat
	err := c.withRetry(ctx, "get_chat", func() error {
		data, _, err := c.client.From(tableChats).
			Select(chatColumns, "", false).
			Eq("chat_id", strconv.FormatInt(chatID, 10)).
			Limit(1, "").
			Execute()
		if err != nil {
			return fmt.Errorf("failed to fetch chat: %w", err)
		}

		if err := json.Unmarshal(data, &chats); err != nil {
			return fmt.Errorf("failed to unmarshal chat: %w", err)
		}
		return nil
	})
	if err != nil {
		c.logger.Error().
			Err(err).
			Int64("chat_id", chatID).
			Msg("Failed to get chat")
		return nil, err
	}

	if len(chats) == 0 {
		return nil, nil
	}
	return &chats[0], nil
}

// ChatDisplayName returns the chat name, empty when the chat is unknown
func (c *Client) ChatDisplayName(ctx context.Context, chatID int64) (string, error) {
	chat, err := c.GetChat(ctx, chatID)
	if err != nil {
		return "", err
	}
	if chat == nil {
		c.logger.Warn().Int64("chat_id", chatID).Msg("Chat not found")
		return "", nil
	}
	return chat.ChatName, nil
}
