package models

import (
	"strings"
	"time"
)

// CategorySeparator joins the values of the multi-valued category field
// into the single stored category string.
const CategorySeparator = ", "

type Ticket struct {
	Key      string `json:"key"`
	Created  Date   `json:"created"`
	Closed   *Date  `json:"closed,omitempty"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Category string `json:"category,omitempty"` // empty when the field is unset
}

// IsOpenOn reports whether the ticket was open at the end of day d: it had
// been created by then and was either never closed or closed after d.
func (t Ticket) IsOpenOn(d Date) bool {
	if t.Created.After(d) {
		return false
	}
	return t.Closed == nil || t.Closed.After(d)
}

// Categories splits the stored category string back into its tags.
func (t Ticket) Categories() []string {
	if t.Category == "" {
		return nil
	}
	parts := strings.Split(t.Category, CategorySeparator)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// JoinCategories collapses category tags into the stored representation.
// It returns "" for an empty list.
func JoinCategories(values []string) string {
	return strings.Join(values, CategorySeparator)
}

type SyncResult string

const (
	SyncSucceeded SyncResult = "success"
	SyncFailed    SyncResult = "failed"
)

type SyncRun struct {
	ID         int64      `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Pages      int        `json:"pages"`
	Issues     int        `json:"issues"`
	Result     SyncResult `json:"result"`
	Error      string     `json:"error,omitempty"`
}

type RunStats struct {
	Project      string
	Total        int
	PagesFetched int
	Upserted     int
	Duration     time.Duration
	SyncedAt     time.Time
}
