// Package report reconstructs daily ticket counts from created and closed
// dates. Everything here is a pure function of its arguments; "today" is
// always passed in.
package report

import (
	"sort"

	"github.com/voicetel/ticketboard/internal/models"
)

// TrailingMargin is the number of days after today included in a series.
const TrailingMargin = 2

type DayCounts struct {
	Day    models.Date `json:"day"`
	Open   int         `json:"open"`
	New    int         `json:"new"`
	Closed int         `json:"closed"`
}

type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

type Report struct {
	Days       int             `json:"days"`
	Series     []DayCounts     `json:"series"`
	Today      DayCounts       `json:"today"`
	Categories []CategoryCount `json:"categories"`
}

// CountsOn counts the tickets open at the end of day, created on day and
// closed on day. A ticket created and closed on the same day is new and
// closed but not open.
func CountsOn(day models.Date, tickets []models.Ticket) DayCounts {
	c := DayCounts{Day: day}
	for _, t := range tickets {
		if t.IsOpenOn(day) {
			c.Open++
		}
		if t.Created.Equal(day) {
			c.New++
		}
		if t.Closed != nil && t.Closed.Equal(day) {
			c.Closed++
		}
	}
	return c
}

// Series returns one DayCounts per day from today-days through
// today+TrailingMargin inclusive. Each day rescans all tickets.
func Series(today models.Date, days int, tickets []models.Ticket) []DayCounts {
	if days < 0 {
		days = 0
	}
	start := today.AddDays(-days)
	out := make([]DayCounts, 0, days+TrailingMargin+1)
	for i := 0; i <= days+TrailingMargin; i++ {
		out = append(out, CountsOn(start.AddDays(i), tickets))
	}
	return out
}

// Categories tallies category tags over the tickets open on day. A ticket
// with several tags counts once for each; untagged tickets are skipped.
// The result is ordered by count, then name.
func Categories(day models.Date, tickets []models.Ticket) []CategoryCount {
	counts := make(map[string]int)
	for _, t := range tickets {
		if !t.IsOpenOn(day) {
			continue
		}
		for _, c := range t.Categories() {
			counts[c]++
		}
	}

	out := make([]CategoryCount, 0, len(counts))
	for c, n := range counts {
		out = append(out, CategoryCount{Category: c, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// Build assembles the dashboard report for a window of days ending today.
func Build(today models.Date, days int, tickets []models.Ticket) *Report {
	return &Report{
		Days:       days,
		Series:     Series(today, days, tickets),
		Today:      CountsOn(today, tickets),
		Categories: Categories(today, tickets),
	}
}
