// Package postgres stores analysis results over a direct pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/chat-analyzer-bot/internal/models"
)

// NewPool builds a connection pool sized for hourly batch work
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second
	poolCfg.ConnConfig.ConnectTimeout = 5 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	return pool, nil
}

// ResultRepository persists analysis results in the analysis_results table
type ResultRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewResultRepository creates a repository over pool
func NewResultRepository(pool *pgxpool.Pool, logger zerolog.Logger) *ResultRepository {
	return &ResultRepository{
		pool:   pool,
		logger: logger.With().Str("component", "postgres_results").Logger(),
	}
}

const resultColumns = `analysis_id, prompt_id, COALESCE(result_text, ''), COALESCE(filters::text, ''),
	COALESCE(chat_id::text, ''), tokens_input, tokens_output, "timestamp"`

// InsertResult writes one result inside a transaction; any failure rolls it back
func (r *ResultRepository) InsertResult(ctx context.Context, result models.AnalysisResult) (id int64, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				r.logger.Error().Err(rbErr).Msg("Failed to roll back analysis result insert")
			}
		}
	}()

	const query = `
		INSERT INTO analysis_results (prompt_id, result_text, filters, chat_id, tokens_input, tokens_output)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
		RETURNING analysis_id
	`
	if err = tx.QueryRow(ctx, query,
		result.PromptID,
		result.ResultText,
		result.Filters,
		result.ChatID,
		result.TokensInput,
		result.TokensOutput,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert analysis result: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit analysis result: %w", err)
	}

	r.logger.Info().
		Int64("analysis_id", id).
		Int64("prompt_id", result.PromptID).
		Str("chat_id", result.ChatID).
		Msg("Analysis result saved successfully")

	return id, nil
}

// ListResults returns one page of results, newest first, and the total row count
func (r *ResultRepository) ListResults(ctx context.Context, offset, limit int) ([]models.AnalysisResult, int64, error) {
	query := `SELECT ` + resultColumns + `
		FROM analysis_results
		ORDER BY "timestamp" DESC
		OFFSET $1 LIMIT $2`

	results, err := r.query(ctx, query, offset, limit)
	if err != nil {
		return nil, 0, err
	}

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM analysis_results`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count analysis results: %w", err)
	}

	return results, total, nil
}

// GetResult retrieves a result by id, nil when it does not exist
func (r *ResultRepository) GetResult(ctx context.Context, analysisID int64) (*models.AnalysisResult, error) {
	query := `SELECT ` + resultColumns + ` FROM analysis_results WHERE analysis_id = $1`

	results, err := r.query(ctx, query, analysisID)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &results[0], nil
}

// ResultsBetween returns all results created in [start, end), newest first
func (r *ResultRepository) ResultsBetween(ctx context.Context, start, end time.Time) ([]models.AnalysisResult, error) {
	query := `SELECT ` + resultColumns + `
		FROM analysis_results
		WHERE "timestamp" >= $1 AND "timestamp" < $2
		ORDER BY "timestamp" DESC`

	return r.query(ctx, query, start.UTC(), end.UTC())
}

// ResultsForChatBetween narrows ResultsBetween by the indexed chat_id column
func (r *ResultRepository) ResultsForChatBetween(ctx context.Context, chatID string, start, end time.Time) ([]models.AnalysisResult, error) {
	query := `SELECT ` + resultColumns + `
		FROM analysis_results
		WHERE chat_id = $1 AND "timestamp" >= $2 AND "timestamp" < $3
		ORDER BY "timestamp" DESC`

	return r.query(ctx, query, chatID, start.UTC(), end.UTC())
}

func (r *ResultRepository) query(ctx context.Context, query string, args ...interface{}) ([]models.AnalysisResult, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query analysis results: %w", err)
	}
	defer rows.Close()

	var results []models.AnalysisResult
	for rows.Next() {
		var result models.AnalysisResult
		if err := rows.Scan(
			&result.AnalysisID,
			&result.PromptID,
			&result.ResultText,
			&result.Filters,
			&result.ChatID,
			&result.TokensInput,
			&result.TokensOutput,
			&result.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan analysis result: %w", err)
		}
		result.Timestamp = result.Timestamp.UTC()
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read analysis results: %w", err)
	}

	return results, nil
}
