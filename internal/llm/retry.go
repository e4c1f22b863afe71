package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/chat-analyzer-bot/internal/models"
)

// Retrying retries a Completer with exponential backoff: base, 2*base, 4*base...
type Retrying struct {
	next       Completer
	maxRetries int
	baseDelay  time.Duration
	logger     zerolog.Logger
}

// NewRetrying wraps next; maxRetries = 0 means a single attempt
func NewRetrying(next Completer, maxRetries int, baseDelay time.Duration, logger zerolog.Logger) *Retrying {
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return &Retrying{
		next:       next,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		logger:     logger.With().Str("component", "llm_retry").Str("provider", next.Name()).Logger(),
	}
}

// Name returns the wrapped provider name
func (r *Retrying) Name() string {
	return r.next.Name()
}

// Complete calls the wrapped provider until it succeeds or retries run out
func (r *Retrying) Complete(ctx context.Context, systemPrompt, userContent string) (*Completion, error) {
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * r.baseDelay
			r.logger.Warn().
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("Retrying completion request")

			select {
			case <-ctx.Done():
				return nil, &models.AnalysisServiceError{Provider: r.next.Name(), Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}

		attempts++
		completion, err := r.next.Complete(ctx, systemPrompt, userContent)
		if err == nil {
			return completion, nil
		}

		lastErr = err
		r.logger.Error().
			Err(err).
			Int("attempt", attempt+1).
			Msg("Completion request failed")

		if errors.Is(err, context.Canceled) {
			break
		}
	}

	var ase *models.AnalysisServiceError
	if errors.As(lastErr, &ase) {
		return nil, &models.AnalysisServiceError{
			Provider: ase.Provider,
			Err:      fmt.Errorf("failed after %d attempts: %w", attempts, ase.Err),
		}
	}
	return nil, &models.AnalysisServiceError{
		Provider: r.next.Name(),
		Err:      fmt.Errorf("failed after %d attempts: %w", attempts, lastErr),
	}
}
