package database

import (
	"context"
	"fmt"
)

// InitSchema creates the tables if they do not exist yet and adds columns
// that older databases lack. It is safe to run on every start.
func (db *DB) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS issues (
			issue_key VARCHAR(64) PRIMARY KEY,
			created_date DATE NOT NULL,
			closed_date DATE NULL,
			title TEXT NOT NULL,
			status VARCHAR(255) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS last_update (
			id INTEGER PRIMARY KEY,
			synced_at TIMESTAMP NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS sync_runs (
			id %s,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NOT NULL,
			pages INTEGER NOT NULL,
			issues INTEGER NOT NULL,
			result VARCHAR(16) NOT NULL,
			error_message TEXT NULL
		)`, db.dialect.autoIncrementPK),
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	if err := db.ensureColumn(ctx, "issues", "category", "TEXT NULL"); err != nil {
		return err
	}

	return nil
}

func (db *DB) ensureColumn(ctx context.Context, table, column, definition string) error {
	var n int
	if err := db.GetContext(ctx, &n, db.Rebind(db.dialect.hasColumnQuery), table, column); err != nil {
		return fmt.Errorf("failed to inspect %s.%s: %w", table, column, err)
	}
	if n > 0 {
		return nil
	}

	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to add column %s.%s: %w", table, column, err)
	}
	return nil
}
