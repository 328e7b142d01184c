// Package cache provides the ephemeral bar/quote cache in front of the
// durable store. The cache is an optimization, never a correctness
// dependency: every backend failure is downgraded to a miss on read and a
// logged no-op on write, so a cache outage degrades throughput, not
// availability.
package cache

import (
	"context"
	"sync/atomic"
	"time"

	"histcache/internal/market"
)

// Class labels a TTL class for hit/miss accounting.
type Class string

const (
	ClassBars    Class = "bars"
	ClassQuotes  Class = "quotes"
	ClassSymbols Class = "symbols"
)

// Stats is a snapshot of hit/miss counters for one class.
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

// BarCache is the cache port used by the fetch orchestrator and the quote
// stream. Implementations must be safe for concurrent use.
type BarCache interface {
	// GetBars returns the cached bar sequence for the key, or ok=false on
	// a miss (absent, expired, or backend failure).
	GetBars(ctx context.Context, key string, tf market.Timeframe) ([]market.Bar, bool)

	// PutBars stores the bars under the key with the given TTL,
	// overwriting any prior entry.
	PutBars(ctx context.Context, key string, tf market.Timeframe, bars []market.Bar, ttl time.Duration)

	// GetQuote and PutQuote serve the short-TTL real-time class.
	GetQuote(ctx context.Context, symbol string) (market.Quote, bool)
	PutQuote(ctx context.Context, q market.Quote, ttl time.Duration)

	// GetInstrument and PutInstrument serve resolved contract lookups
	// under the symbols class.
	GetInstrument(ctx context.Context, symbol string) (market.Instrument, bool)
	PutInstrument(ctx context.Context, symbol string, inst market.Instrument, ttl time.Duration)

	// Invalidate removes all entries whose key matches the glob pattern
	// (relative to the cache's key prefix) and returns the count removed.
	Invalidate(ctx context.Context, pattern string) int

	// Stats returns a snapshot of per-class hit/miss counters.
	Stats() map[Class]Stats

	Close() error
}

// counters tracks hits and misses per class. Shared by both backends.
type counters struct {
	barHits, barMisses       atomic.Uint64
	quoteHits, quoteMisses   atomic.Uint64
	symbolHits, symbolMisses atomic.Uint64
}

func (c *counters) hit(class Class) {
	switch class {
	case ClassBars:
		c.barHits.Add(1)
	case ClassQuotes:
		c.quoteHits.Add(1)
	case ClassSymbols:
		c.symbolHits.Add(1)
	}
}

func (c *counters) miss(class Class) {
	switch class {
	case ClassBars:
		c.barMisses.Add(1)
	case ClassQuotes:
		c.quoteMisses.Add(1)
	case ClassSymbols:
		c.symbolMisses.Add(1)
	}
}

func (c *counters) snapshot() map[Class]Stats {
	return map[Class]Stats{
		ClassBars:    {Hits: c.barHits.Load(), Misses: c.barMisses.Load()},
		ClassQuotes:  {Hits: c.quoteHits.Load(), Misses: c.quoteMisses.Load()},
		ClassSymbols: {Hits: c.symbolHits.Load(), Misses: c.symbolMisses.Load()},
	}
}
