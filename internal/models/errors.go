package models

import (
	"errors"
	"fmt"
)

var (
	// ErrChatNotFound indicates the chat registry has no such chat
	ErrChatNotFound = errors.New("chat not found")

	// ErrPromptNotFound indicates the prompt is missing, empty or not configured for the chat
	ErrPromptNotFound = errors.New("prompt not found")

	// ErrAnalysisService indicates the completion call failed or returned a malformed response
	ErrAnalysisService = errors.New("analysis service error")

	// ErrPersistence indicates a result store read or write failure
	ErrPersistence = errors.New("persistence error")

	// ErrMalformedFilterData indicates a stored filters blob could not be parsed
	ErrMalformedFilterData = errors.New("malformed filter data")
)

// AnalysisServiceError wraps a completion provider failure
type AnalysisServiceError struct {
	Provider string
	Err      error
}

func (e *AnalysisServiceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrAnalysisService, e.Provider, e.Err)
}

// Unwrap exposes the provider error
func (e *AnalysisServiceError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrAnalysisService) match
func (e *AnalysisServiceError) Is(target error) bool {
	return target == ErrAnalysisService
}
