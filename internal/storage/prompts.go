package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/chat-analyzer-bot/internal/models"
)

// GetPrompt retrieves a prompt by id, nil when it does not exist
func (c *Client) GetPrompt(ctx context.Context, promptID int64) (*models.Prompt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var prompts []models.Prompt
	err := c.withRetry(ctx, "get_prompt", func() error {
		data, _, err := c.client.From(tablePrompts).
			Select("prompt_id,prompt_name,text", "", false).
			Eq("prompt_id", strconv.FormatInt(promptID, 10)).
			Limit(1, "").
			Execute()
		if err != nil {
			return fmt.Errorf("failed to fetch prompt: %w", err)
		}

		if err := json.Unmarshal(data, &prompts); err != nil {
			return fmt.Errorf("failed to unmarshal prompt: %w", err)
		}
		return nil
	})
	if err != nil {
		c.logger.Error().
			Err(err).
			Int64("prompt_id", promptID).
			Msg("Failed to get prompt")
		return nil, err
	}

	if len(prompts) == 0 {
		return nil, nil
	}
	return &prompts[0], nil
}

// PromptName returns the prompt name or ErrPromptNotFound
func (c *Client) PromptName(ctx context.Context, promptID int64) (string, error) {
	prompt, err := c.GetPrompt(ctx, promptID)
	if err != nil {
		return "", err
	}
	if prompt == nil {
		return "", fmt.Errorf("%w: %d", models.ErrPromptNotFound, promptID)
	}
	return prompt.PromptName, nil
}
