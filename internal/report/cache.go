package report

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ammario/tlru"

	"github.com/voicetel/ticketboard/internal/models"
)

// Cache memoizes Build. Entries are keyed by the watermark and a generation
// that Invalidate bumps, so neither a completed nor a partial sync serves a
// stale report.
type Cache struct {
	cache      *tlru.Cache[string, *Report]
	ttl        time.Duration
	generation atomic.Uint64
}

func NewCache(maxEntries int, ttl time.Duration) *Cache {
	return &Cache{
		cache: tlru.New[string](tlru.ConstantCost[*Report], maxEntries),
		ttl:   ttl,
	}
}

// Invalidate drops every report built so far. Call it after anything
// writes tickets, whether or not the write finished cleanly.
func (c *Cache) Invalidate() {
	c.generation.Add(1)
}

// Get returns the cached report for the arguments, building it with load
// on a miss. load is only called on a miss so the caller can defer the
// ticket query.
func (c *Cache) Get(today models.Date, days int, watermark time.Time, load func() ([]models.Ticket, error)) (*Report, error) {
	key := fmt.Sprintf("%d|%s|%d|%d", c.generation.Load(), today, days, watermark.UnixNano())
	if r, _, ok := c.cache.Get(key); ok {
		return r, nil
	}

	tickets, err := load()
	if err != nil {
		return nil, err
	}
	r := Build(today, days, tickets)
	c.cache.Set(key, r, c.ttl)
	return r, nil
}
