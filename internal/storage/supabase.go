package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	supa "github.com/supabase-community/supabase-go"
)

// Table names
const (
	tableChats    = "chats"
	tableMessages = "messages"
	tablePrompts  = "prompts"
	tableUsers    = "users"
	tableResults  = "analysis_results"
)

// defaultWriteGrace bounds how long a write is awaited past its deadline
const defaultWriteGrace = 30 * time.Second

// ErrWriteOutcomeUnknown means a write was still in flight when its grace period ran out;
// the row may or may not have been stored
var ErrWriteOutcomeUnknown = errors.New("write outcome unknown")

// Client represents a Supabase storage client
type Client struct {
	client     *supa.Client
	timeout    time.Duration
	writeGrace time.Duration
	logger     zerolog.Logger
}

// NewClient creates a new Supabase client
func NewClient(supabaseURL, supabaseKey string, timeout time.Duration, logger zerolog.Logger) (*Client, error) {
	client, err := supa.NewClient(supabaseURL, supabaseKey, &supa.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	return &Client{
		client:     client,
		timeout:    timeout,
		writeGrace: defaultWriteGrace,
		logger:     logger.With().Str("component", "storage").Logger(),
	}, nil
}

// Ping checks if the connection to Supabase is working
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return c.run(ctx, func() error {
		// Simple query to check connection
		_, _, err := c.client.From(tableChats).
			Select("chat_id", "exact", false).
			Limit(1, "").
			Execute()
		if err != nil {
			return fmt.Errorf("supabase ping failed: %w", err)
		}

		c.logger.Debug().Msg("Supabase connection successful")
		return nil
	})
}

// run executes a blocking PostgREST call and gives up when ctx expires
// The underlying HTTP request is not context-aware, so a late result is discarded
func (c *Client) run(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// runWrite executes a blocking PostgREST write without abandoning it at the deadline.
// The request cannot be cancelled, so returning early would report a failure for a row
// that may still commit. It waits up to writeGrace past ctx for the real outcome.
func (c *Client) runWrite(ctx context.Context, operation string, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	c.logger.Warn().
		Str("operation", operation).
		Dur("grace", c.writeGrace).
		Msg("Write still in flight after deadline, waiting for outcome")

	grace := time.NewTimer(c.writeGrace)
	defer grace.Stop()

	select {
	case err := <-done:
		return err
	case <-grace.C:
		c.logger.Error().
			Str("operation", operation).
			Msg("Write outcome unknown, the row may have been stored")
		return fmt.Errorf("%s: %w", operation, ErrWriteOutcomeUnknown)
	}
}

// withRetry executes a function with retry logic
func (c *Client) withRetry(ctx context.Context, operation string, fn func() error) error {
	maxRetries := 2
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			c.logger.Warn().
				Str("operation", operation).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("Retrying operation")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = c.run(ctx, fn)
		if lastErr == nil {
			return nil
		}

		c.logger.Error().
			Err(lastErr).
			Str("operation", operation).
			Int("attempt", attempt+1).
			Msg("Operation failed")

		if ctx.Err() != nil {
			break
		}
	}

	return fmt.Errorf("operation %s failed after retries: %w", operation, lastErr)
}
