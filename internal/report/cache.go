package report

import (
	"strings"
	"sync"
	"time"

	"github.com/ForgeTrade/mcp-trader-sub000/internal/domain"
)

// Cache is a TTL-bounded in-memory report cache keyed on symbol plus the
// full option tuple. Hits return the stored report unchanged, so repeated
// calls under the TTL are byte-identical and keep the original metadata.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration

	now func() time.Time
}

type cacheEntry struct {
	report    domain.MarketReport
	expiresAt time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached report for key, if present and unexpired. Expired
// entries are removed on access.
func (c *Cache) Get(key string) (domain.MarketReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return domain.MarketReport{}, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return domain.MarketReport{}, false
	}
	return e.report, true
}

func (c *Cache) Set(key string, report domain.MarketReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{report: report, expiresAt: c.now().Add(c.ttl)}
}

// Invalidate removes every entry for the symbol across all option tuples.
func (c *Cache) Invalidate(symbol string) {
	prefix := domain.NormalizeSymbol(symbol) + ":"
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
}

// Len reports the number of live entries, counting unexpired only.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	now := c.now()
	for _, e := range c.entries {
		if !now.After(e.expiresAt) {
			n++
		}
	}
	return n
}
