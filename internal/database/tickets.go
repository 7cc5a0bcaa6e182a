package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/voicetel/ticketboard/internal/models"
)

var ticketColumns = []string{"created_date", "closed_date", "title", "status", "category"}

const ticketQuery = `SELECT issue_key, created_date, closed_date, title, status, category FROM issues`

type ticketRow struct {
	Key      string          `db:"issue_key"`
	Created  models.Date     `db:"created_date"`
	Closed   models.NullDate `db:"closed_date"`
	Title    string          `db:"title"`
	Status   string          `db:"status"`
	Category sql.NullString  `db:"category"`
}

func (r ticketRow) ticket() models.Ticket {
	return models.Ticket{
		Key:      r.Key,
		Created:  r.Created,
		Closed:   r.Closed.Ptr(),
		Title:    r.Title,
		Status:   r.Status,
		Category: r.Category.String,
	}
}

// UpsertTickets writes tickets in a single transaction. An existing row
// with the same key has every column replaced; nothing is merged.
func (db *DB) UpsertTickets(ctx context.Context, tickets []models.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, db.Rebind(db.dialect.upsert("issues", "issue_key", ticketColumns)))
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, t := range tickets {
		category := sql.NullString{String: t.Category, Valid: t.Category != ""}
		_, err := stmt.ExecContext(ctx,
			t.Key,
			t.Created,
			models.NullDateFrom(t.Closed),
			t.Title,
			t.Status,
			category,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert %s: %w", t.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upserts: %w", err)
	}
	return nil
}

// TicketsCreatedSince returns every ticket created on or after since.
func (db *DB) TicketsCreatedSince(ctx context.Context, since models.Date) ([]models.Ticket, error) {
	query := ticketQuery + ` WHERE created_date >= ? ORDER BY created_date, issue_key`
	return db.selectTickets(ctx, query, since)
}

// OpenTickets returns the tickets not closed by the end of day, newest
// first.
func (db *DB) OpenTickets(ctx context.Context, day models.Date) ([]models.Ticket, error) {
	query := ticketQuery + ` WHERE closed_date IS NULL OR closed_date > ? ORDER BY created_date DESC, issue_key`
	return db.selectTickets(ctx, query, day)
}

// Ticket returns one ticket by key, or sql.ErrNoRows.
func (db *DB) Ticket(ctx context.Context, key string) (models.Ticket, error) {
	var row ticketRow
	if err := db.GetContext(ctx, &row, db.Rebind(ticketQuery+` WHERE issue_key = ?`), key); err != nil {
		return models.Ticket{}, err
	}
	return row.ticket(), nil
}

func (db *DB) selectTickets(ctx context.Context, query string, args ...any) ([]models.Ticket, error) {
	var rows []ticketRow
	if err := db.SelectContext(ctx, &rows, db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	tickets := make([]models.Ticket, len(rows))
	for i, r := range rows {
		tickets[i] = r.ticket()
	}
	return tickets, nil
}
