package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay represents a local wall-clock time (hour, minute, second)
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS" (Postgres time column text form)
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	// Postgres may append fractional seconds or a zone for timetz columns
	if i := strings.IndexAny(s, ".+-Z"); i > 0 {
		s = s[:i]
	}

	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q", s)
	}

	values := [3]int{}
	for i, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil {
			return TimeOfDay{}, fmt.Errorf("invalid time of day %q: %w", s, err)
		}
		values[i] = v
	}
	tod := TimeOfDay{Hour: values[0], Minute: values[1], Second: values[2]}

	if tod.Hour < 0 || tod.Hour > 23 || tod.Minute < 0 || tod.Minute > 59 || tod.Second < 0 || tod.Second > 59 {
		return TimeOfDay{}, fmt.Errorf("time of day out of range: %q", s)
	}
	return tod, nil
}

// String returns HH:MM:SS
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// MarshalJSON encodes the time of day as "HH:MM:SS"
func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes "HH:MM[:SS]"; null leaves t unchanged
func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("time of day must be a string: %w", err)
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Chat represents a monitored chat and its analysis schedule
type Chat struct {
	ChatID           int64      `json:"chat_id"`
	ChatName         string     `json:"chat_name"`
	ScheduleAnalysis bool       `json:"schedule_analysis"`
	AnalysisTime     *TimeOfDay `json:"analysis_time"` // nil for unscheduled chats
	SendTime         *TimeOfDay `json:"send_time"`
	DefaultPromptID  *int64     `json:"default_prompt_id"`
}

// AnalysisDue reports whether the chat is scheduled for analysis at the given local hour
func (c Chat) AnalysisDue(hour int) bool {
	return c.ScheduleAnalysis && c.AnalysisTime != nil && c.AnalysisTime.Hour == hour
}

// SendDue reports whether the chat is scheduled for delivery at the given local hour
func (c Chat) SendDue(hour int) bool {
	return c.ScheduleAnalysis && c.SendTime != nil && c.SendTime.Hour == hour
}

// Message represents a stored chat message
type Message struct {
	ID          int64           `json:"id"`
	ChatID      int64           `json:"chat_id"`
	UserID      int64           `json:"user_id"`
	Text        string          `json:"text"`
	Timestamp   time.Time       `json:"timestamp"` // UTC
	Attachments json.RawMessage `json:"attachments,omitempty"`
}

// Prompt represents a stored prompt template
type Prompt struct {
	PromptID   int64  `json:"prompt_id"`
	PromptName string `json:"prompt_name"`
	Text       string `json:"text"`
}

// User represents a chat participant known to the directory
type User struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// AnalysisResult represents a persisted analysis run
type AnalysisResult struct {
	AnalysisID   int64     `json:"analysis_id"`
	PromptID     int64     `json:"prompt_id"`
	ResultText   string    `json:"result_text"`
	Filters      string    `json:"filters"`           // Serialized Filters blob
	ChatID       string    `json:"chat_id,omitempty"` // Indexed copy of filters.chat_id, empty on legacy rows
	TokensInput  *int      `json:"tokens_input"`
	TokensOutput *int      `json:"tokens_output"`
	Timestamp    time.Time `json:"timestamp"` // UTC, assigned by the server
}

// AnalysisOutcome is what a single analysis invocation produced
// Text is nil when the window had no messages to analyze
type AnalysisOutcome struct {
	ChatID       int64
	PromptID     int64
	Text         *string
	TokensInput  *int
	TokensOutput *int
	Filters      Filters
}

// HasText reports whether the outcome carries an analysis worth persisting
func (o *AnalysisOutcome) HasText() bool {
	return o != nil && o.Text != nil && *o.Text != ""
}
