package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/supabase/postgrest-go"

	"github.com/chat-analyzer-bot/internal/models"
)

var newestFirst = &postgrest.OrderOpts{Ascending: false}

// InsertResult stores an analysis result and returns its id
// A single PostgREST insert is atomic; it is not retried to avoid duplicate rows.
// A request still in flight at the deadline is awaited, see runWrite.
func (c *Client) InsertResult(ctx context.Context, result models.AnalysisResult) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	data := map[string]interface{}{
		"prompt_id":     result.PromptID,
		"result_text":   result.ResultText,
		"filters":       result.Filters,
		"tokens_input":  result.TokensInput,
		"tokens_output": result.TokensOutput,
	}
	if result.ChatID != "" {
		data["chat_id"] = result.ChatID
	}

	var rows []resultRow
	err := c.runWrite(ctx, "insert_result", func() error {
		body, _, err := c.client.From(tableResults).
			Insert(data, false, "", "representation", "").
			Execute()
		if err != nil {
			return fmt.Errorf("failed to insert analysis result: %w", err)
		}

		if err := json.Unmarshal(body, &rows); err != nil {
			return fmt.Errorf("failed to unmarshal inserted analysis result: %w", err)
		}
		return nil
	})
	if err != nil {
		c.logger.Error().
			Err(err).
			Int64("prompt_id", result.PromptID).
			Str("chat_id", result.ChatID).
			Msg("Failed to save analysis result")
		return 0, err
	}

	if len(rows) == 0 {
		return 0, fmt.Errorf("insert returned no analysis result row")
	}

	c.logger.Info().
		Int64("analysis_id", rows[0].AnalysisID).
		Int64("prompt_id", result.PromptID).
		Str("chat_id", result.ChatID).
		Msg("Analysis result saved successfully")

	return rows[0].AnalysisID, nil
}

// ListResults returns one page of results, newest first, and the total row count
func (c *Client) ListResults(ctx context.Context, offset, limit int) ([]models.AnalysisResult, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		results []models.AnalysisResult
		total   int64
	)
	err := c.withRetry(ctx, "list_results", func() error {
		data, count, err := c.client.From(tableResults).
			Select("*", "exact", false).
			Order("timestamp", newestFirst).
			Range(offset, offset+limit-1, "").
			Execute()
		if isRangeNotSatisfiable(err) {
			// Offset is past the last row: empty page, total from a count-only request
			_, count, err = c.client.From(tableResults).
				Select("analysis_id", "exact", true).
				Execute()
			if err != nil {
				return fmt.Errorf("failed to count analysis results: %w", err)
			}
			results, total = []models.AnalysisResult{}, count
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to fetch analysis results: %w", err)
		}

		decoded, err := decodeResults(data)
		if err != nil {
			return err
		}
		results, total = decoded, count
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	return results, total, nil
}

// isRangeNotSatisfiable matches the PostgREST 416 answer to an offset past the end
func isRangeNotSatisfiable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "PGRST103")
}

// GetResult retrieves a result by id, nil when it does not exist
func (c *Client) GetResult(ctx context.Context, analysisID int64) (*models.AnalysisResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var results []models.AnalysisResult
	err := c.withRetry(ctx, "get_result", func() error {
		data, _, err := c.client.From(tableResults).
			Select("*", "", false).
			Eq("analysis_id", strconv.FormatInt(analysisID, 10)).
			Limit(1, "").
			Execute()
		if err != nil {
			return fmt.Errorf("failed to fetch analysis result: %w", err)
		}

		decoded, err := decodeResults(data)
		if err != nil {
			return err
		}
		results = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		return nil, nil
	}
	return &results[0], nil
}

// ResultsBetween returns all results created in [start, end), newest first
func (c *Client) ResultsBetween(ctx context.Context, start, end time.Time) ([]models.AnalysisResult, error) {
	return c.resultsBetween(ctx, "results_between", "", start, end)
}

// ResultsForChatBetween is ResultsBetween narrowed by the indexed chat_id column
func (c *Client) ResultsForChatBetween(ctx context.Context, chatID string, start, end time.Time) ([]models.AnalysisResult, error) {
	return c.resultsBetween(ctx, "results_for_chat_between", chatID, start, end)
}

func (c *Client) resultsBetween(ctx context.Context, operation, chatID string, start, end time.Time) ([]models.AnalysisResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var results []models.AnalysisResult
	err := c.withRetry(ctx, operation, func() error {
		query := c.client.From(tableResults).
			Select("*", "", false).
			Or(timeRangeFilter("timestamp", start, end), "")
		if chatID != "" {
			query = query.Eq("chat_id", chatID)
		}

		data, _, err := query.Order("timestamp", newestFirst).Execute()
		if err != nil {
			return fmt.Errorf("failed to fetch analysis results: %w", err)
		}

		decoded, err := decodeResults(data)
		if err != nil {
			return err
		}
		results = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("chat_id", chatID).
		Time("start", start).
		Time("end", end).
		Int("count", len(results)).
		Msg("Retrieved analysis results for window")

	return results, nil
}
