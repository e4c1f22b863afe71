package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/chat-analyzer-bot/internal/models"
)

// UserDisplayName returns the username, empty when the user is unknown
func (c *Client) UserDisplayName(ctx context.Context, userID int64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var users []models.User
	err := c.withRetry(ctx, "get_user", func() error {
		data, _, err := c.client.From(tableUsers).
			Select("user_id,username", "", false).
			Eq("user_id", strconv.FormatInt(userID, 10)).
			Limit(1, "").
			Execute()
		if err != nil {
			return fmt.Errorf("failed to fetch user: %w", err)
		}

		if err := json.Unmarshal(data, &users); err != nil {
			return fmt.Errorf("failed to unmarshal user: %w", err)
		}
		return nil
	})
	if err != nil {
		c.logger.Error().
			Err(err).
			Int64("user_id", userID).
			Msg("Failed to get user name")
		return "", err
	}

	if len(users) == 0 {
		c.logger.Warn().Int64("user_id", userID).Msg("User not found")
		return "", nil
	}
	return users[0].Username, nil
}
