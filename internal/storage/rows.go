package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chat-analyzer-bot/internal/models"
)

// timestampLayouts are the forms PostgREST emits for timestamp and timestamptz columns
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
}

// dbTime decodes timestamps with or without zone; zoneless values are UTC
type dbTime struct {
	time.Time
}

func (t *dbTime) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}

	for _, layout := range timestampLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unsupported timestamp format %q", s)
}

// formatTime renders a UTC timestamp for PostgREST filters
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// timeRangeFilter builds an or-tree holding both bounds of [start, end) on column.
// postgrest-go keys filters by column, so chaining Gte and Lt keeps only the last one.
func timeRangeFilter(column string, start, end time.Time) string {
	return fmt.Sprintf(`and(%s.gte."%s",%s.lt."%s")`, column, formatTime(start), column, formatTime(end))
}

type messageRow struct {
	ID          int64           `json:"id"`
	ChatID      int64           `json:"chat_id"`
	UserID      int64           `json:"user_id"`
	Text        *string         `json:"text"`
	Timestamp   dbTime          `json:"timestamp"`
	Attachments json.RawMessage `json:"attachments"`
}

func (r messageRow) toModel() models.Message {
	msg := models.Message{
		ID:          r.ID,
		ChatID:      r.ChatID,
		UserID:      r.UserID,
		Timestamp:   r.Timestamp.Time,
		Attachments: r.Attachments,
	}
	if r.Text != nil {
		msg.Text = *r.Text
	}
	return msg
}

// rawText accepts the filters column either as text or as json/jsonb
type rawText string

func (r *rawText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*r = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = rawText(s)
	default:
		*r = rawText(data)
	}
	return nil
}

// flexString accepts a text or numeric column
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	if _, err := strconv.ParseFloat(string(data), 64); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = flexString(data)
	return nil
}

type resultRow struct {
	AnalysisID   int64      `json:"analysis_id"`
	PromptID     int64      `json:"prompt_id"`
	ResultText   *string    `json:"result_text"`
	Filters      rawText    `json:"filters"`
	ChatID       flexString `json:"chat_id"`
	TokensInput  *int       `json:"tokens_input"`
	TokensOutput *int       `json:"tokens_output"`
	Timestamp    dbTime     `json:"timestamp"`
}

func (r resultRow) toModel() models.AnalysisResult {
	result := models.AnalysisResult{
		AnalysisID:   r.AnalysisID,
		PromptID:     r.PromptID,
		Filters:      string(r.Filters),
		ChatID:       string(r.ChatID),
		TokensInput:  r.TokensInput,
		TokensOutput: r.TokensOutput,
		Timestamp:    r.Timestamp.Time,
	}
	if r.ResultText != nil {
		result.ResultText = *r.ResultText
	}
	return result
}

func decodeResults(data []byte) ([]models.AnalysisResult, error) {
	var rows []resultRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal analysis results: %w", err)
	}

	results := make([]models.AnalysisResult, 0, len(rows))
	for _, row := range rows {
		results = append(results, row.toModel())
	}
	return results, nil
}
