package database

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect/sql"
)

// CreateGINIndexes creates full-text search indexes that ent's own
// schema management doesn't express.
func CreateGINIndexes(ctx context.Context, driver *sql.Driver) error {
	db := driver.DB()

	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_sandboxes_description_gin
		ON sandboxes USING gin(to_tsvector('english', COALESCE(description, '')))`)
	if err != nil {
		return fmt.Errorf("failed to create description GIN index: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_responses_output_text_gin
		ON responses USING gin(to_tsvector('english', COALESCE(output_text, '')))`)
	if err != nil {
		return fmt.Errorf("failed to create output_text GIN index: %w", err)
	}

	return nil
}
