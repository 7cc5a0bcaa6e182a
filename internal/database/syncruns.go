package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/voicetel/ticketboard/internal/models"
)

type syncRunRow struct {
	ID         int64          `db:"id"`
	StartedAt  time.Time      `db:"started_at"`
	FinishedAt time.Time      `db:"finished_at"`
	Pages      int            `db:"pages"`
	Issues     int            `db:"issues"`
	Result     string         `db:"result"`
	Error      sql.NullString `db:"error_message"`
}

// RecordSyncRun appends a run to the sync history.
func (db *DB) RecordSyncRun(ctx context.Context, run models.SyncRun) error {
	query := `
		INSERT INTO sync_runs (started_at, finished_at, pages, issues, result, error_message)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, db.Rebind(query),
		run.StartedAt.UTC(),
		run.FinishedAt.UTC(),
		run.Pages,
		run.Issues,
		string(run.Result),
		sql.NullString{String: run.Error, Valid: run.Error != ""},
	)
	if err != nil {
		return fmt.Errorf("failed to record sync run: %w", err)
	}
	return nil
}

// LastSyncRun returns the most recent run, or nil if there is none.
func (db *DB) LastSyncRun(ctx context.Context) (*models.SyncRun, error) {
	var row syncRunRow
	err := db.GetContext(ctx, &row, `
		SELECT id, started_at, finished_at, pages, issues, result, error_message
		FROM sync_runs
		ORDER BY started_at DESC, id DESC
		LIMIT 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last sync run: %w", err)
	}
	return &models.SyncRun{
		ID:         row.ID,
		StartedAt:  row.StartedAt,
		FinishedAt: row.FinishedAt,
		Pages:      row.Pages,
		Issues:     row.Issues,
		Result:     models.SyncResult(row.Result),
		Error:      row.Error.String,
	}, nil
}

// Stats summarizes the stored tickets and recent sync history.
type Stats struct {
	TotalTickets int             `json:"total_tickets"`
	OpenTickets  int             `json:"open_tickets"`
	ByStatus     map[string]int  `json:"by_status"`
	Watermark    *time.Time      `json:"watermark"`
	Runs7d       int             `json:"runs_7d"`
	Failed7d     int             `json:"failed_7d"`
	LastRun      *models.SyncRun `json:"last_run"`
}

// GetStats returns statistics as of now.
func (db *DB) GetStats(ctx context.Context, now time.Time) (*Stats, error) {
	stats := &Stats{ByStatus: make(map[string]int)}

	// Total tickets
	if err := db.GetContext(ctx, &stats.TotalTickets, "SELECT COUNT(*) FROM issues"); err != nil {
		return nil, err
	}

	// Currently open
	today := models.DateOf(now)
	err := db.GetContext(ctx, &stats.OpenTickets, db.Rebind(`
		SELECT COUNT(*)
		FROM issues
		WHERE closed_date IS NULL OR closed_date > ?
	`), today)
	if err != nil {
		return nil, err
	}

	// Tickets by status
	rows, err := db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM issues
		GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.ByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if t, ok, err := db.Watermark(ctx); err != nil {
		return nil, err
	} else if ok {
		stats.Watermark = &t
	}

	// Sync runs in the last 7 days
	since := now.UTC().Add(-7 * 24 * time.Hour)
	err = db.QueryRowxContext(ctx, db.Rebind(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN result = ? THEN 1 ELSE 0 END), 0)
		FROM sync_runs
		WHERE started_at > ?
	`), string(models.SyncFailed), since).Scan(&stats.Runs7d, &stats.Failed7d)
	if err != nil {
		return nil, err
	}

	if stats.LastRun, err = db.LastSyncRun(ctx); err != nil {
		return nil, err
	}

	return stats, nil
}
