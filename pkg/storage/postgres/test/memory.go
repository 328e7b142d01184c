// Package storetest provides an in-memory durable store double with the
// same semantics as the postgres client: idempotent keyed upserts, per-row
// error counting, and quality recomputation. It backs orchestrator and
// handler tests that must not depend on a live database.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"histcache/internal/market"
)

type barKey struct {
	instrumentID uint
	timeframe    market.Timeframe
	timestamp    time.Time
}

type qualityKey struct {
	instrumentID uint
	timeframe    market.Timeframe
	day          time.Time
}

type MemoryStore struct {
	mu          sync.Mutex
	instruments map[string]uint
	nextID      uint
	bars        map[barKey]market.Bar
	quality     map[qualityKey]market.QualityRecord

	// FailTimestamps simulates per-row constraint violations: any bar
	// whose timestamp is listed here is counted as an error and skipped.
	FailTimestamps map[time.Time]bool

	// FailUpserts makes UpsertBars fail wholesale, simulating connection
	// loss.
	FailUpserts bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instruments:    make(map[string]uint),
		bars:           make(map[barKey]market.Bar),
		quality:        make(map[qualityKey]market.QualityRecord),
		FailTimestamps: make(map[time.Time]bool),
	}
}

func (m *MemoryStore) EnsureInstrument(_ context.Context, inst market.Instrument) (uint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.instruments[inst.Key()]; ok {
		return id, nil
	}
	m.nextID++
	m.instruments[inst.Key()] = m.nextID
	return m.nextID, nil
}

func (m *MemoryStore) UpsertBars(_ context.Context, instrumentID uint, tf market.Timeframe, bars []market.Bar) (market.UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailUpserts {
		return market.UpsertResult{}, context.DeadlineExceeded
	}

	var res market.UpsertResult
	for _, b := range bars {
		b = b.Normalize()
		if m.FailTimestamps[b.Timestamp] {
			res.Errors++
			continue
		}
		key := barKey{instrumentID, tf, b.Timestamp}
		if _, exists := m.bars[key]; exists {
			res.Updated++
		} else {
			res.Inserted++
		}
		m.bars[key] = b
	}
	return res, nil
}

func (m *MemoryStore) QueryRange(_ context.Context, instrumentID uint, tf market.Timeframe, start, end time.Time, limit int) ([]market.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []market.Bar
	for key, b := range m.bars {
		if key.instrumentID != instrumentID || key.timeframe != tf {
			continue
		}
		if b.Timestamp.Before(start) || b.Timestamp.After(end) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *MemoryStore) RecomputeQuality(ctx context.Context, instrumentID uint, tf market.Timeframe, day time.Time, invalid, duplicate int) (market.QualityRecord, error) {
	dayStart := day.UTC().Truncate(24 * time.Hour)
	bars, err := m.QueryRange(ctx, instrumentID, tf, dayStart, dayStart.Add(24*time.Hour-time.Second), 0)
	if err != nil {
		return market.QualityRecord{}, err
	}

	missing := 0
	if step := tf.Duration(); step > 0 {
		for i := 1; i < len(bars); i++ {
			if gap := bars[i].Timestamp.Sub(bars[i-1].Timestamp); gap > step {
				missing += int(gap/step) - 1
			}
		}
	}

	rec := market.QualityRecord{
		Timeframe:     tf,
		Day:           dayStart,
		TotalBars:     len(bars),
		MissingBars:   missing,
		DuplicateBars: duplicate,
		InvalidBars:   invalid,
	}
	rec.ComputeScore()

	m.mu.Lock()
	m.quality[qualityKey{instrumentID, tf, dayStart}] = rec
	m.mu.Unlock()
	return rec, nil
}

func (m *MemoryStore) GetQuality(_ context.Context, instrumentID uint, tf market.Timeframe, day time.Time) (market.QualityRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.quality[qualityKey{instrumentID, tf, day.UTC().Truncate(24 * time.Hour)}]
	return rec, ok, nil
}

// BarCount reports the number of stored bars, for test assertions.
func (m *MemoryStore) BarCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bars)
}
