package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FilterChatID is a chat id as found in a filters blob
// Older rows stored it as a JSON number, newer ones as a string; both decode to the trimmed string form
type FilterChatID string

// NewFilterChatID normalizes a numeric chat id
func NewFilterChatID(chatID int64) FilterChatID {
	return FilterChatID(strconv.FormatInt(chatID, 10))
}

// Matches reports whether the stored id equals chatID after normalization
func (c FilterChatID) Matches(chatID int64) bool {
	return strings.TrimSpace(string(c)) == strings.TrimSpace(strconv.FormatInt(chatID, 10))
}

// MarshalJSON always writes the string form
func (c FilterChatID) MarshalJSON() ([]byte, error) {
	return json.Marshal(strings.TrimSpace(string(c)))
}

// UnmarshalJSON accepts a JSON string or number
func (c *FilterChatID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = FilterChatID(strings.TrimSpace(s))
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("chat_id must be a string or number: %w", err)
	}
	*c = FilterChatID(strings.TrimSpace(n.String()))
	return nil
}

// Filters describes the query that produced an analysis result
type Filters struct {
	ChatID    FilterChatID `json:"chat_id"`
	StartDate string       `json:"start_date"`
	EndDate   string       `json:"end_date"`
	UserID    *int64       `json:"user_id"`
}

// Encode serializes the filters for the storage column
func (f Filters) Encode() (string, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("failed to encode filters: %w", err)
	}
	return string(data), nil
}

// Readable renders the filters as "key: value" pairs joined by ", "
func (f Filters) Readable() string {
	userID := "null"
	if f.UserID != nil {
		userID = strconv.FormatInt(*f.UserID, 10)
	}
	return strings.Join([]string{
		"chat_id: " + string(f.ChatID),
		"start_date: " + f.StartDate,
		"end_date: " + f.EndDate,
		"user_id: " + userID,
	}, ", ")
}

// ParseFilters decodes a stored filters blob
// An empty blob yields (nil, nil); anything unparseable wraps ErrMalformedFilterData
func ParseFilters(raw string) (*Filters, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var f Filters
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFilterData, err)
	}
	return &f, nil
}
