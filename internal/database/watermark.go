package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// watermarkID is the single row of last_update.
const watermarkID = 1

// Watermark returns when the last full synchronization completed. ok is
// false if no sync has ever completed.
func (db *DB) Watermark(ctx context.Context) (t time.Time, ok bool, err error) {
	err = db.GetContext(ctx, &t, db.Rebind(`SELECT synced_at FROM last_update WHERE id = ?`), watermarkID)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read watermark: %w", err)
	}
	return t, true, nil
}

// SetWatermark overwrites the watermark.
func (db *DB) SetWatermark(ctx context.Context, t time.Time) error {
	query := db.Rebind(db.dialect.upsert("last_update", "id", []string{"synced_at"}))
	if _, err := db.ExecContext(ctx, query, watermarkID, t.UTC()); err != nil {
		return fmt.Errorf("failed to write watermark: %w", err)
	}
	return nil
}
