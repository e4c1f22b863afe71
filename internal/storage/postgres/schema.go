package postgres

import (
	"context"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates the results table and its chat_id index when missing
func (r *ResultRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply results schema: %w", err)
	}
	r.logger.Info().Msg("Results schema is up to date")
	return nil
}
