package dashboard

import (
	"cmp"
	"slices"
	"strconv"
	"strings"

	"github.com/voicetel/ticketboard/internal/models"
)

const (
	orderAsc  = "asc"
	orderDesc = "desc"
)

type column struct {
	Name  string
	Label string
}

// columns of the open-ticket table, in display order.
var columns = []column{
	{Name: "key", Label: "Ticket"},
	{Name: "title", Label: "Title"},
	{Name: "status", Label: "Status"},
	{Name: "category", Label: "Category"},
	{Name: "created", Label: "Created"},
}

var comparators = map[string]func(a, b models.Ticket) int{
	"key":      func(a, b models.Ticket) int { return compareKeys(a.Key, b.Key) },
	"title":    func(a, b models.Ticket) int { return strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title)) },
	"status":   func(a, b models.Ticket) int { return strings.Compare(a.Status, b.Status) },
	"category": func(a, b models.Ticket) int { return strings.Compare(a.Category, b.Category) },
	"created":  func(a, b models.Ticket) int { return a.Created.Compare(b.Created) },
}

// sortTickets orders tickets in place by column. An unknown column keeps
// the store order and is reported back as "". order defaults to asc.
func sortTickets(tickets []models.Ticket, column, order string) (string, string) {
	compare, ok := comparators[column]
	if !ok {
		return "", ""
	}
	if order != orderDesc {
		order = orderAsc
	}

	slices.SortStableFunc(tickets, func(a, b models.Ticket) int {
		c := compare(a, b)
		if order == orderDesc {
			return -c
		}
		return c
	})
	return column, order
}

// compareKeys orders issue keys by project, then by number, so KAS-99
// sorts before KAS-100.
func compareKeys(a, b string) int {
	pa, na := splitKey(a)
	pb, nb := splitKey(b)
	if c := strings.Compare(pa, pb); c != 0 {
		return c
	}
	if c := cmp.Compare(na, nb); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

func splitKey(key string) (string, int) {
	i := strings.LastIndexByte(key, '-')
	if i < 0 {
		return key, -1
	}
	n, err := strconv.Atoi(key[i+1:])
	if err != nil {
		return key, -1
	}
	return key[:i], n
}
