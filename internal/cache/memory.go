package cache

import (
	"context"
	"path"
	"sync"
	"time"

	"histcache/internal/market"
)

// MemoryCache is a mutex-guarded in-process BarCache. It backs tests and is
// the fallback when Redis is unreachable at startup, so the service can keep
// serving with degraded caching instead of refusing to start.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	prefix  string
	stats   counters
}

type memoryEntry struct {
	bars      []market.Bar
	quote     *market.Quote
	inst      *market.Instrument
	expiresAt time.Time
}

func NewMemory(prefix string) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		prefix:  prefix,
	}
}

func (c *MemoryCache) GetBars(_ context.Context, key string, tf market.Timeframe) ([]market.Bar, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[barKey(c.prefix, key, tf)]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(c.entries, barKey(c.prefix, key, tf))
		c.stats.miss(ClassBars)
		return nil, false
	}

	c.stats.hit(ClassBars)
	cp := make([]market.Bar, len(entry.bars))
	copy(cp, entry.bars)
	return cp, true
}

func (c *MemoryCache) PutBars(_ context.Context, key string, tf market.Timeframe, bars []market.Bar, ttl time.Duration) {
	cp := make([]market.Bar, len(bars))
	copy(cp, bars)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[barKey(c.prefix, key, tf)] = memoryEntry{
		bars:      cp,
		expiresAt: time.Now().Add(ttl),
	}
}

func (c *MemoryCache) GetQuote(_ context.Context, symbol string) (market.Quote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[quoteKey(c.prefix, symbol)]
	if !ok || entry.quote == nil || time.Now().After(entry.expiresAt) {
		delete(c.entries, quoteKey(c.prefix, symbol))
		c.stats.miss(ClassQuotes)
		return market.Quote{}, false
	}

	c.stats.hit(ClassQuotes)
	return *entry.quote, true
}

func (c *MemoryCache) PutQuote(_ context.Context, q market.Quote, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[quoteKey(c.prefix, q.Symbol)] = memoryEntry{
		quote:     &q,
		expiresAt: time.Now().Add(ttl),
	}
}

func (c *MemoryCache) GetInstrument(_ context.Context, symbol string) (market.Instrument, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[symbolKey(c.prefix, symbol)]
	if !ok || entry.inst == nil || time.Now().After(entry.expiresAt) {
		delete(c.entries, symbolKey(c.prefix, symbol))
		c.stats.miss(ClassSymbols)
		return market.Instrument{}, false
	}

	c.stats.hit(ClassSymbols)
	return *entry.inst, true
}

func (c *MemoryCache) PutInstrument(_ context.Context, symbol string, inst market.Instrument, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[symbolKey(c.prefix, symbol)] = memoryEntry{
		inst:      &inst,
		expiresAt: time.Now().Add(ttl),
	}
}

func (c *MemoryCache) Invalidate(_ context.Context, pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	full := c.prefix + ":" + pattern
	removed := 0
	for key := range c.entries {
		if ok, _ := path.Match(full, key); ok {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

func (c *MemoryCache) Stats() map[Class]Stats {
	return c.stats.snapshot()
}

func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]memoryEntry)
	return nil
}
