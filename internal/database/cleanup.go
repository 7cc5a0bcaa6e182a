package database

import (
	"context"
	"log/slog"
	"time"
)

// CleanupSyncRuns removes sync history older than retentionDays. Tickets
// are never deleted.
func (db *DB) CleanupSyncRuns(ctx context.Context, now time.Time, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 90 // Default to 90 days
	}

	cutoff := now.UTC().AddDate(0, 0, -retentionDays)
	result, err := db.ExecContext(ctx, db.Rebind(`DELETE FROM sync_runs WHERE started_at < ?`), cutoff)
	if err != nil {
		return 0, err
	}

	rowsAffected, err := result.RowsAffected()
	if err == nil && rowsAffected > 0 {
		slog.Info("Cleaned up old sync runs", "count", rowsAffected, "retention_days", retentionDays)
	}
	return rowsAffected, nil
}

// Vacuum reclaims disk space using the dialect's maintenance statement.
func (db *DB) Vacuum(ctx context.Context) error {
	slog.Info("Performing database vacuum...", "driver", db.dialect.name)
	start := time.Now()

	for _, stmt := range db.dialect.vacuum {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	slog.Info("Database vacuum completed", "duration", time.Since(start))
	return nil
}
