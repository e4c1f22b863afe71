// Package results persists analysis results and serves listings and lookups over them.
package results

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/chat-analyzer-bot/internal/models"
	"github.com/chat-analyzer-bot/internal/window"
)

const (
	// PreviewLength is the number of characters kept in a listing preview
	PreviewLength = 100

	// InvalidData replaces filters that could not be parsed
	InvalidData = "invalid data"
	// NotSpecified replaces empty filters
	NotSpecified = "not specified"
	// Unknown replaces missing token counts
	Unknown = "unknown"
)

// Repository is the durable store of analysis results
type Repository interface {
	InsertResult(ctx context.Context, result models.AnalysisResult) (int64, error)
	ListResults(ctx context.Context, offset, limit int) ([]models.AnalysisResult, int64, error)
	GetResult(ctx context.Context, analysisID int64) (*models.AnalysisResult, error)
	// ResultsBetween returns results created in [start, end), newest first
	ResultsBetween(ctx context.Context, start, end time.Time) ([]models.AnalysisResult, error)
}

// ChatIndexedRepository is implemented by repositories that can filter by the indexed chat_id column
type ChatIndexedRepository interface {
	ResultsForChatBetween(ctx context.Context, chatID string, start, end time.Time) ([]models.AnalysisResult, error)
}

// PromptNames resolves prompt names for display
type PromptNames interface {
	PromptName(ctx context.Context, promptID int64) (string, error)
}

// ListItem is one row of a result listing
type ListItem struct {
	AnalysisID int64     `json:"analysis_id"`
	PromptID   int64     `json:"prompt_id"`
	PromptName string    `json:"prompt_name"`
	Filters    string    `json:"filters"`
	Timestamp  time.Time `json:"timestamp"`
	Preview    string    `json:"preview"`
}

// ListResult is a page of results; Error is set instead of failing when storage is unavailable
type ListResult struct {
	Items      []ListItem `json:"analyses"`
	TotalCount int64      `json:"total_count"`
	Error      string     `json:"error,omitempty"`
}

// Detail is a single result prepared for display
type Detail struct {
	AnalysisID   int64     `json:"analysis_id"`
	PromptID     int64     `json:"prompt_id"`
	PromptName   string    `json:"prompt_name"`
	Timestamp    time.Time `json:"timestamp"`
	ResultText   string    `json:"result_text"`
	Filters      string    `json:"filters"`
	TokensInput  string    `json:"tokens_input"`
	TokensOutput string    `json:"tokens_output"`
}

// Store is the result store
type Store struct {
	repo     Repository
	prompts  PromptNames
	loc      *time.Location
	useIndex bool
	now      func() time.Time
	logger   zerolog.Logger
}

// NewStore creates a store; useIndex enables the chat_id column lookup when repo supports it
func NewStore(repo Repository, prompts PromptNames, loc *time.Location, useIndex bool, logger zerolog.Logger) *Store {
	return &Store{
		repo:     repo,
		prompts:  prompts,
		loc:      loc,
		useIndex: useIndex,
		now:      time.Now,
		logger:   logger.With().Str("component", "results").Logger(),
	}
}

// Save persists one analysis result and returns its id
func (s *Store) Save(ctx context.Context, promptID int64, text string, filters models.Filters, tokensIn, tokensOut *int) (int64, error) {
	encoded, err := filters.Encode()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}

	result := models.AnalysisResult{
		PromptID:     promptID,
		ResultText:   text,
		Filters:      encoded,
		TokensInput:  tokensIn,
		TokensOutput: tokensOut,
	}
	// the chat_id column only exists on schemas that carry the index
	if s.useIndex {
		result.ChatID = string(filters.ChatID)
	}

	id, err := s.repo.InsertResult(ctx, result)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to save analysis result: %v", models.ErrPersistence, err)
	}

	s.logger.Info().
		Int64("analysis_id", id).
		Str("chat_id", string(filters.ChatID)).
		Msg("Analysis result saved")

	return id, nil
}

// SaveOutcome persists an outcome that carries text
func (s *Store) SaveOutcome(ctx context.Context, outcome *models.AnalysisOutcome) (int64, error) {
	if !outcome.HasText() {
		return 0, fmt.Errorf("%w: outcome for chat %d has no text", models.ErrPersistence, outcome.ChatID)
	}
	return s.Save(ctx, outcome.PromptID, *outcome.Text, outcome.Filters, outcome.TokensInput, outcome.TokensOutput)
}

// List returns one page of results, newest first
func (s *Store) List(ctx context.Context, offset, limit int) ListResult {
	rows, total, err := s.repo.ListResults(ctx, offset, limit)
	if err != nil {
		s.logger.Error().Err(err).Int("offset", offset).Int("limit", limit).Msg("Failed to list analysis results")
		return ListResult{Items: []ListItem{}, TotalCount: 0, Error: err.Error()}
	}

	names := make(map[int64]string)
	items := make([]ListItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, ListItem{
			AnalysisID: row.AnalysisID,
			PromptID:   row.PromptID,
			PromptName: s.promptName(ctx, row.PromptID, names),
			Filters:    renderFilters(row.Filters),
			Timestamp:  row.Timestamp,
			Preview:    Preview(row.ResultText),
		})
	}

	s.logger.Debug().
		Int64("total_count", total).
		Int("returned", len(items)).
		Int("offset", offset).
		Msg("Listed analysis results")

	return ListResult{Items: items, TotalCount: total}
}

// Get returns a result prepared for display, nil when absent
func (s *Store) Get(ctx context.Context, analysisID int64) (*Detail, error) {
	row, err := s.repo.GetResult(ctx, analysisID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get analysis %d: %v", models.ErrPersistence, analysisID, err)
	}
	if row == nil {
		return nil, nil
	}

	return &Detail{
		AnalysisID:   row.AnalysisID,
		PromptID:     row.PromptID,
		PromptName:   s.promptName(ctx, row.PromptID, nil),
		Timestamp:    row.Timestamp,
		ResultText:   row.ResultText,
		Filters:      renderFilters(row.Filters),
		TokensInput:  renderTokens(row.TokensInput),
		TokensOutput: renderTokens(row.TokensOutput),
	}, nil
}

// LatestForChat returns the newest result for chatID created in the last 24h, nil when none
func (s *Store) LatestForChat(ctx context.Context, chatID int64) (*models.AnalysisResult, error) {
	w := window.Last24Hours(s.now(), s.loc)
	logger := s.logger.With().Int64("chat_id", chatID).Logger()

	if indexed, ok := s.repo.(ChatIndexedRepository); ok && s.useIndex {
		rows, err := indexed.ResultsForChatBetween(ctx, string(models.NewFilterChatID(chatID)), w.Start, w.End)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to query results for chat %d: %v", models.ErrPersistence, chatID, err)
		}
		if match := firstMatch(rows, chatID, logger); match != nil {
			return match, nil
		}
		logger.Debug().Msg("No indexed result, falling back to window scan")
	}

	rows, err := s.repo.ResultsBetween(ctx, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query results: %v", models.ErrPersistence, err)
	}
	if len(rows) == 0 {
		logger.Info().Msg("No analysis results in the last 24 hours")
		return nil, nil
	}

	match := firstMatch(rows, chatID, logger)
	if match == nil {
		logger.Info().Int("scanned", len(rows)).Msg("No analysis result for chat in the last 24 hours")
	}
	return match, nil
}

// firstMatch scans rows in order and returns the first whose filters name chatID
func firstMatch(rows []models.AnalysisResult, chatID int64, logger zerolog.Logger) *models.AnalysisResult {
	for i := range rows {
		filters, err := models.ParseFilters(rows[i].Filters)
		if err != nil {
			logger.Error().
				Err(err).
				Int64("analysis_id", rows[i].AnalysisID).
				Str("filters", rows[i].Filters).
				Msg("Skipping result with malformed filters")
			continue
		}
		if filters != nil && filters.ChatID.Matches(chatID) {
			return &rows[i]
		}
	}
	return nil
}

// promptName resolves a prompt name; lookup failures degrade to an empty name
func (s *Store) promptName(ctx context.Context, promptID int64, cache map[int64]string) string {
	if name, ok := cache[promptID]; ok {
		return name
	}

	name, err := s.prompts.PromptName(ctx, promptID)
	if err != nil {
		if !errors.Is(err, models.ErrPromptNotFound) {
			s.logger.Warn().Err(err).Int64("prompt_id", promptID).Msg("Failed to resolve prompt name")
		}
		name = ""
	}
	if cache != nil {
		cache[promptID] = name
	}
	return name
}

// Preview truncates text to PreviewLength characters, appending "..." only when truncated
func Preview(text string) string {
	runes := []rune(text)
	if len(runes) <= PreviewLength {
		return text
	}
	return string(runes[:PreviewLength]) + "..."
}

func renderFilters(raw string) string {
	filters, err := models.ParseFilters(raw)
	if err != nil {
		return InvalidData
	}
	if filters == nil {
		return NotSpecified
	}
	return filters.Readable()
}

func renderTokens(v *int) string {
	if v == nil {
		return Unknown
	}
	return strconv.Itoa(*v)
}
